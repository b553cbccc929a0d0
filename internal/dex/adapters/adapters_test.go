package adapters

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/types"
)

type quoterFunc func(ctx context.Context, pair types.TokenPair) (types.PriceQuote, error)

func (f quoterFunc) Quote(ctx context.Context, pair types.TokenPair) (types.PriceQuote, error) {
	return f(ctx, pair)
}

func TestTimedQuoter_StampsVenue(t *testing.T) {
	q := NewTimedQuoter(core.VenueSushiV2, quoterFunc(func(context.Context, types.TokenPair) (types.PriceQuote, error) {
		return types.PriceQuote{Price: 1.5, Liquidity: 10}, nil
	}), time.Second)

	got, err := q.Quote(context.Background(), types.TokenPair{})
	require.NoError(t, err)
	assert.Equal(t, "sushi_v2", got.Venue)
	assert.Equal(t, 1.5, got.Price)
}

func TestTimedQuoter_TimeoutIsRPCError(t *testing.T) {
	q := NewTimedQuoter(core.VenueUniswapV3, quoterFunc(func(ctx context.Context, _ types.TokenPair) (types.PriceQuote, error) {
		<-ctx.Done()
		return types.PriceQuote{}, ctx.Err()
	}), 20*time.Millisecond)

	_, err := q.Quote(context.Background(), types.TokenPair{})
	require.Error(t, err)
	assert.Equal(t, types.ErrRPC, types.Classify(err))
}

func TestTimedQuoter_TransportErrorIsRPC(t *testing.T) {
	q := NewTimedQuoter(core.VenueUniswapV3, quoterFunc(func(context.Context, types.TokenPair) (types.PriceQuote, error) {
		return types.PriceQuote{}, errors.New("dial tcp: refused")
	}), 0)

	_, err := q.Quote(context.Background(), types.TokenPair{})
	assert.ErrorIs(t, err, types.ErrRPC)
}

func TestTimedQuoter_RejectsZeroPrice(t *testing.T) {
	q := NewTimedQuoter(core.VenueCamelotV2, quoterFunc(func(context.Context, types.TokenPair) (types.PriceQuote, error) {
		return types.PriceQuote{Price: 0}, nil
	}), time.Second)

	_, err := q.Quote(context.Background(), types.TokenPair{})
	assert.ErrorIs(t, err, types.ErrProvider)
}

func TestRouterBuilder_BuildSwap(t *testing.T) {
	router := common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506")
	b, err := NewRouterBuilder(router)
	require.NoError(t, err)

	ins, err := b.BuildSwap(context.Background(), core.SwapParams{
		TokenIn:   common.HexToAddress("0x01"),
		TokenOut:  common.HexToAddress("0x02"),
		AmountIn:  1_000,
		MinOut:    990,
		Recipient: common.HexToAddress("0x03"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.KindSwap, ins.Kind)
	assert.Equal(t, router, ins.Program)
	assert.Equal(t, uint64(1_000), ins.Amount)
	// selector + five static words
	assert.Len(t, ins.Data, 4+5*32)
}

func TestRouterBuilder_ZeroAmount(t *testing.T) {
	b, err := NewRouterBuilder(common.Address{})
	require.NoError(t, err)

	_, err = b.BuildSwap(context.Background(), core.SwapParams{})
	assert.ErrorIs(t, err, types.ErrParameter)
}

func TestTimedQuoter_RejectsUnusablePrice(t *testing.T) {
	for _, px := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		q := NewTimedQuoter(core.VenueSushiV2, quoterFunc(func(context.Context, types.TokenPair) (types.PriceQuote, error) {
			return types.PriceQuote{Price: px, Liquidity: 10}, nil
		}), time.Second)

		_, err := q.Quote(context.Background(), types.TokenPair{})
		assert.ErrorIs(t, err, types.ErrProvider, "price %v", px)
	}
}
