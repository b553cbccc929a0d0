package detector

import (
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/you/flash-arb/internal/types"
)

var hundred = decimal.NewFromInt(100)

// Spread is (sell-buy)/buy*100. A non-positive buy price or a non-finite price yields zero.
func Spread(buyPx, sellPx float64) decimal.Decimal {
	if buyPx <= 0 || !finite(buyPx) || !finite(sellPx) {
		return decimal.Zero
	}
	buy := decimal.NewFromFloat(buyPx)
	return decimal.NewFromFloat(sellPx).Sub(buy).Div(buy).Mul(hundred)
}

// Evaluate builds an opportunity when buying at buy and selling at sell clears minPct.
// The trade is capped by both venues' liquidity and maxSize; a zero cap yields no opportunity.
func Evaluate(pair types.TokenPair, buy, sell types.PriceQuote, minPct float64, maxSize uint64, now time.Time) (types.Opportunity, bool) {
	if !finite(minPct) {
		return types.Opportunity{}, false
	}
	spread := Spread(buy.Price, sell.Price)
	if spread.LessThan(decimal.NewFromFloat(minPct)) || !spread.IsPositive() {
		return types.Opportunity{}, false
	}

	size := min(buy.Liquidity, sell.Liquidity, maxSize)
	if size == 0 {
		return types.Opportunity{}, false
	}
	profit := decimal.NewFromBigInt(new(big.Int).SetUint64(size), 0).
		Mul(spread).
		Div(hundred).
		Floor()

	return types.Opportunity{
		ID:              uuid.NewString(),
		Pair:            pair,
		Buy:             buy,
		Sell:            sell,
		SpreadPct:       spread,
		EstimatedProfit: profit.BigInt().Uint64(),
		MaxTradeSize:    size,
		DetectedAt:      now,
	}, true
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
