package marketdata

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// Snapshot is one poll of every enabled venue for a pair.
type Snapshot struct {
	Pair   types.TokenPair
	Quotes []types.PriceQuote
	Errors map[core.VenueID]error
	Ts     time.Time
}

// Collector polls venue oracles concurrently and drops stale answers.
type Collector struct {
	maxAge time.Duration
	log    *zap.Logger
	now    func() time.Time
}

func NewCollector(maxAge time.Duration, log *zap.Logger) *Collector {
	return &Collector{maxAge: maxAge, log: log, now: time.Now}
}

// Collect queries all venues in parallel. Quotes keep the order of venues;
// failed venues are reported in Errors and left out.
func (c *Collector) Collect(ctx context.Context, pair types.TokenPair, venues []*core.Venue) Snapshot {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		quotes = make([]*types.PriceQuote, len(venues))
		errs   = make(map[core.VenueID]error)
	)

	for i, ven := range venues {
		i, ven := i, ven
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := quote(ctx, ven, pair)
			if err == nil && c.maxAge > 0 && !q.Timestamp.IsZero() && c.now().Sub(q.Timestamp) > c.maxAge {
				err = errStale(ven.ID, c.now().Sub(q.Timestamp))
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[ven.ID] = err
				return
			}
			if q.Venue == "" {
				q.Venue = string(ven.ID)
			}
			quotes[i] = &q
		}()
	}
	wg.Wait()

	snap := Snapshot{Pair: pair, Errors: errs, Ts: c.now()}
	for _, q := range quotes {
		if q != nil {
			snap.Quotes = append(snap.Quotes, *q)
		}
	}
	for id, err := range errs {
		c.log.Debug("marketdata: venue quote failed",
			zap.String("pair", pair.String()),
			zap.String("venue", string(id)),
			zap.Error(err),
		)
	}
	return snap
}

// quote turns a panicking oracle into a provider error for that venue only.
func quote(ctx context.Context, ven *core.Venue, pair types.TokenPair) (q types.PriceQuote, err error) {
	defer func() {
		if r := recover(); r != nil {
			q, err = types.PriceQuote{}, fmt.Errorf("%w: %s oracle panicked: %v", types.ErrProvider, ven.ID, r)
		}
	}()
	return ven.Quoter.Quote(ctx, pair)
}

func usable(px float64) bool { return px > 0 && !math.IsNaN(px) && !math.IsInf(px, 0) }

// Best picks the buy/sell quotes on two different venues with the widest spread.
// ok is false when fewer than two venues answered.
func Best(quotes []types.PriceQuote) (buy, sell types.PriceQuote, ok bool) {
	bestRatio := 0.0
	for i := range quotes {
		if !usable(quotes[i].Price) {
			continue
		}
		for j := range quotes {
			if i == j || quotes[i].Venue == quotes[j].Venue || !usable(quotes[j].Price) {
				continue
			}
			r := quotes[j].Price / quotes[i].Price
			if !ok || r > bestRatio {
				buy, sell, bestRatio, ok = quotes[i], quotes[j], r, true
			}
		}
	}
	return buy, sell, ok
}
