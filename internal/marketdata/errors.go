package marketdata

import (
	"fmt"
	"time"

	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/types"
)

func errStale(id core.VenueID, age time.Duration) error {
	return fmt.Errorf("%w: %s quote is %s old", types.ErrProvider, id, age.Truncate(time.Millisecond))
}
