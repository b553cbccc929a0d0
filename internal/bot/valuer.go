package bot

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/you/flash-arb/internal/config"
)

// StableValuer values profit in USD stablecoin quote tokens at par. Other tokens
// are valued at zero. Native value is left at zero.
type StableValuer struct {
	decimals map[common.Address]int32
}

func NewStableValuer(pairs []config.PairCfg) *StableValuer {
	v := &StableValuer{decimals: make(map[common.Address]int32)}
	for _, p := range pairs {
		if p.QuoteUSD {
			v.decimals[common.HexToAddress(p.Quote)] = p.QuoteDecimals
		}
	}
	return v
}

func (v *StableValuer) Value(token common.Address, amount uint64) (uint64, decimal.Decimal) {
	dec, ok := v.decimals[token]
	if !ok {
		return 0, decimal.Zero
	}
	return 0, decimal.NewFromUint64(amount).Shift(-dec)
}
