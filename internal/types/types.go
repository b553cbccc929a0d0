package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TokenPair identifies a tradable pair. Price is quote-per-base.
type TokenPair struct {
	Base  common.Address
	Quote common.Address
}

func (p TokenPair) String() string {
	return p.Base.Hex() + "/" + p.Quote.Hex()
}

// PriceQuote is a single venue observation, produced per poll.
type PriceQuote struct {
	Venue     string
	Price     float64 // quote per 1 base
	Liquidity uint64  // available depth, smallest units of the quote token
	Timestamp time.Time
}

type Opportunity struct {
	ID              string
	Pair            TokenPair
	Buy             PriceQuote
	Sell            PriceQuote
	SpreadPct       decimal.Decimal
	EstimatedProfit uint64
	MaxTradeSize    uint64
	DetectedAt      time.Time
}

type ExecutionResult struct {
	Opportunity  Opportunity
	Success      bool
	ActualProfit uint64
	// ProfitEstimated is set when no settlement was observed and ActualProfit
	// carries the detection-time estimate.
	ProfitEstimated bool
	Err             error
	Duration        time.Duration
	TxRef           string
}

type InstructionKind string

const (
	KindBorrow InstructionKind = "borrow"
	KindSwap   InstructionKind = "swap"
	KindRepay  InstructionKind = "repay"
)

// Instruction is one step of an atomic unit submitted to the signer.
type Instruction struct {
	Kind    InstructionKind
	Program common.Address
	Data    []byte
	Amount  uint64
}
