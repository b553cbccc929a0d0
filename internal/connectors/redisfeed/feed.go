package redisfeed

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/types"
)

// Feed reads venue quotes that an external collector keeps in Redis hashes
// (fields price, liquidity, ts_ms).
type Feed struct {
	rdb    redis.Cmdable
	ns     string
	maxAge time.Duration
	now    func() time.Time
}

func NewFeed(rdb redis.Cmdable, ns string, maxAge time.Duration) *Feed {
	if ns == "" {
		ns = "quote:"
	}
	return &Feed{rdb: rdb, ns: ns, maxAge: maxAge, now: time.Now}
}

// Venue returns the oracle for one venue backed by this feed.
func (f *Feed) Venue(id core.VenueID) core.Quoter {
	return venueQuoter{feed: f, venue: id}
}

type venueQuoter struct {
	feed  *Feed
	venue core.VenueID
}

func (v venueQuoter) Quote(ctx context.Context, pair types.TokenPair) (types.PriceQuote, error) {
	return v.feed.Read(ctx, v.venue, pair)
}

// Read returns the latest quote for (venue, pair). Missing or stale entries are provider errors.
func (f *Feed) Read(ctx context.Context, venue core.VenueID, pair types.TokenPair) (types.PriceQuote, error) {
	key := quoteKey(f.ns, string(venue), pair.Base.Hex(), pair.Quote.Hex())
	m, err := f.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return types.PriceQuote{}, types.AsRPC("hgetall "+key, err)
	}
	if len(m) == 0 {
		return types.PriceQuote{}, fmt.Errorf("%w: no quote at %s", types.ErrProvider, key)
	}

	price, err := strconv.ParseFloat(m["price"], 64)
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("%w: bad price at %s: %v", types.ErrProvider, key, err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return types.PriceQuote{}, fmt.Errorf("%w: non-finite price %q at %s", types.ErrProvider, m["price"], key)
	}
	liq, err := strconv.ParseUint(m["liquidity"], 10, 64)
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("%w: bad liquidity at %s: %v", types.ErrProvider, key, err)
	}
	tsMs, err := strconv.ParseInt(m["ts_ms"], 10, 64)
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("%w: bad ts_ms at %s: %v", types.ErrProvider, key, err)
	}
	ts := time.UnixMilli(tsMs)
	if f.maxAge > 0 && f.now().Sub(ts) > f.maxAge {
		return types.PriceQuote{}, fmt.Errorf("%w: stale quote at %s (%s old)", types.ErrProvider, key, f.now().Sub(ts).Truncate(time.Millisecond))
	}

	return types.PriceQuote{
		Venue:     string(venue),
		Price:     price,
		Liquidity: liq,
		Timestamp: ts,
	}, nil
}
