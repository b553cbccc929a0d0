package redisfeed

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/types"
)

// Publisher writes quotes in the layout Feed reads. Collectors and tests use it.
type Publisher struct {
	rdb redis.Cmdable
	ns  string
}

func NewPublisher(rdb redis.Cmdable, ns string) *Publisher {
	if ns == "" {
		ns = "quote:"
	}
	return &Publisher{rdb: rdb, ns: ns}
}

func (p *Publisher) UpsertQuote(ctx context.Context, venue core.VenueID, pair types.TokenPair, q types.PriceQuote) error {
	key := quoteKey(p.ns, string(venue), pair.Base.Hex(), pair.Quote.Hex())
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"price":     q.Price,
			"liquidity": q.Liquidity,
			"ts_ms":     q.Timestamp.UnixMilli(),
		})
		// index of venues that have published, scored by last update
		pipe.ZAdd(ctx, p.ns+"active", redis.Z{Score: float64(q.Timestamp.UnixMilli()), Member: string(venue)})
		return nil
	})
	return err
}
