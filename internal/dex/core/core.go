package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/types"
)

type VenueID string

const (
	VenueUniswapV3 VenueID = "uniswap_v3"
	VenueSushiV2   VenueID = "sushi_v2"
	VenueCamelotV2 VenueID = "camelot_v2"
	VenueCamelotV3 VenueID = "camelot_v3"
)

// Valid reports whether id belongs to the supported venue set.
func (id VenueID) Valid() bool {
	switch id {
	case VenueUniswapV3, VenueSushiV2, VenueCamelotV2, VenueCamelotV3:
		return true
	}
	return false
}

// Quoter is the price oracle contract for one venue.
type Quoter interface {
	Quote(ctx context.Context, pair types.TokenPair) (types.PriceQuote, error)
}

type SwapParams struct {
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  uint64
	MinOut    uint64
	Recipient common.Address
}

// SwapBuilder produces the venue instruction for one trade leg.
type SwapBuilder interface {
	BuildSwap(ctx context.Context, p SwapParams) (types.Instruction, error)
}

type Venue struct {
	ID      VenueID
	Quoter  Quoter
	Builder SwapBuilder
}
