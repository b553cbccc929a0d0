package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/you/flash-arb/internal/types"
)

// Balances reads wallet balances mirrored into Redis at <ns>balance:<owner>:<token>
// as decimal strings in smallest units. A missing key is a zero balance.
type Balances struct {
	rdb redis.Cmdable
	ns  string
}

func NewBalances(rdb redis.Cmdable, ns string) *Balances {
	if ns == "" {
		ns = "quote:"
	}
	return &Balances{rdb: rdb, ns: ns}
}

func (b *Balances) key(owner, token common.Address) string {
	return b.ns + "balance:" + owner.Hex() + ":" + token.Hex()
}

func (b *Balances) Balance(ctx context.Context, owner, token common.Address) (uint64, error) {
	key := b.key(owner, token)
	s, err := b.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, types.AsRPC("get "+key, err)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad balance at %s: %v", types.ErrProvider, key, err)
	}
	return v, nil
}

// SetBalance is the writer side used by the balance mirror and tests.
func (b *Balances) SetBalance(ctx context.Context, owner, token common.Address, v uint64) error {
	return b.rdb.Set(ctx, b.key(owner, token), strconv.FormatUint(v, 10), 0).Err()
}
