package adapters

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/dex/core"
	imetrics "github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/types"
)

// TimedQuoter bounds every oracle round trip and records its latency.
type TimedQuoter struct {
	venue   core.VenueID
	impl    core.Quoter
	timeout time.Duration
}

func NewTimedQuoter(venue core.VenueID, q core.Quoter, timeout time.Duration) core.Quoter {
	return TimedQuoter{venue: venue, impl: q, timeout: timeout}
}

func (t TimedQuoter) Quote(ctx context.Context, pair types.TokenPair) (types.PriceQuote, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	start := time.Now()
	q, err := t.impl.Quote(ctx, pair)
	imetrics.QuoteLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		imetrics.QuoterErrors.WithLabelValues(string(t.venue)).Inc()
		return types.PriceQuote{}, types.AsRPC("quote "+string(t.venue), err)
	}
	if q.Price <= 0 || math.IsNaN(q.Price) || math.IsInf(q.Price, 0) {
		imetrics.QuoterErrors.WithLabelValues(string(t.venue)).Inc()
		return types.PriceQuote{}, fmt.Errorf("%w: %s returned unusable price %v", types.ErrProvider, t.venue, q.Price)
	}
	q.Venue = string(t.venue)
	return q, nil
}

const routerABI = `[{
  "name": "swap",
  "type": "function",
  "stateMutability": "nonpayable",
  "inputs": [
    {"name": "tokenIn",   "type": "address"},
    {"name": "tokenOut",  "type": "address"},
    {"name": "amountIn",  "type": "uint256"},
    {"name": "minOut",    "type": "uint256"},
    {"name": "recipient", "type": "address"}
  ],
  "outputs": [{"name": "amountOut", "type": "uint256"}]
}]`

// RouterBuilder encodes a generic router swap call for a venue.
type RouterBuilder struct {
	router common.Address
	abi    abi.ABI
}

func NewRouterBuilder(router common.Address) (*RouterBuilder, error) {
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("bad router abi: %w", err)
	}
	return &RouterBuilder{router: router, abi: parsed}, nil
}

func (b *RouterBuilder) BuildSwap(_ context.Context, p core.SwapParams) (types.Instruction, error) {
	if p.AmountIn == 0 {
		return types.Instruction{}, fmt.Errorf("%w: zero swap amount", types.ErrParameter)
	}
	data, err := b.abi.Pack("swap",
		p.TokenIn,
		p.TokenOut,
		new(big.Int).SetUint64(p.AmountIn),
		new(big.Int).SetUint64(p.MinOut),
		p.Recipient,
	)
	if err != nil {
		return types.Instruction{}, fmt.Errorf("%w: pack swap: %v", types.ErrParameter, err)
	}
	return types.Instruction{
		Kind:    types.KindSwap,
		Program: b.router,
		Data:    data,
		Amount:  p.AmountIn,
	}, nil
}
