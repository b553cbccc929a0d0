package risk

import (
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	imetrics "github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/types"
)

const (
	historyCap   = 1000
	historyEvict = 500
	baselineTTL  = 24 * time.Hour
)

type Level string

const (
	Conservative Level = "conservative"
	Moderate     Level = "moderate"
	Aggressive   Level = "aggressive"
	Custom       Level = "custom"
)

// SizingConfig drives position growth and shrinkage. Sizes are in smallest units
// of the quote token.
type SizingConfig struct {
	BaseSize        uint64
	MaxSize         uint64
	GrowthFactor    float64
	ReductionFactor float64
	MaxDailyGrowth  float64
	Adaptive        bool
	ProfitScaling   bool
}

// Preset returns the sizing parameters for a risk level.
func Preset(l Level) (SizingConfig, error) {
	switch l {
	case Conservative:
		return SizingConfig{
			BaseSize: 100_000_000, MaxSize: 500_000_000,
			GrowthFactor: 1.05, ReductionFactor: 0.9, MaxDailyGrowth: 1.5,
			Adaptive: true, ProfitScaling: true,
		}, nil
	case Moderate:
		return SizingConfig{
			BaseSize: 250_000_000, MaxSize: 1_000_000_000,
			GrowthFactor: 1.1, ReductionFactor: 0.85, MaxDailyGrowth: 2.0,
			Adaptive: true, ProfitScaling: true,
		}, nil
	case Aggressive:
		return SizingConfig{
			BaseSize: 500_000_000, MaxSize: 2_000_000_000,
			GrowthFactor: 1.2, ReductionFactor: 0.8, MaxDailyGrowth: 3.0,
			Adaptive: true, ProfitScaling: true,
		}, nil
	case Custom:
		return SizingConfig{
			BaseSize: 250_000_000, MaxSize: 1_000_000_000,
			GrowthFactor: 1.1, ReductionFactor: 0.9, MaxDailyGrowth: 2.0,
			Adaptive: true, ProfitScaling: true,
		}, nil
	}
	return SizingConfig{}, fmt.Errorf("%w: unknown risk level %q", types.ErrConfig, l)
}

func (c SizingConfig) Validate() error {
	for _, f := range []float64{c.GrowthFactor, c.ReductionFactor, c.MaxDailyGrowth} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: sizing factors must be finite", types.ErrParameter)
		}
	}
	switch {
	case c.BaseSize == 0:
		return fmt.Errorf("%w: base size must be positive", types.ErrParameter)
	case c.MaxSize < c.BaseSize:
		return fmt.Errorf("%w: max size %d below base size %d", types.ErrParameter, c.MaxSize, c.BaseSize)
	case c.GrowthFactor < 1:
		return fmt.Errorf("%w: growth factor %.4f < 1", types.ErrParameter, c.GrowthFactor)
	case c.ReductionFactor <= 0 || c.ReductionFactor > 1:
		return fmt.Errorf("%w: reduction factor %.4f outside (0,1]", types.ErrParameter, c.ReductionFactor)
	case c.MaxDailyGrowth < 1:
		return fmt.Errorf("%w: max daily growth %.4f < 1", types.ErrParameter, c.MaxDailyGrowth)
	}
	return nil
}

type Volatility int

const (
	VolatilityLow Volatility = iota
	VolatilityMedium
	VolatilityHigh
	VolatilityExtreme
)

func (v Volatility) factor() decimal.Decimal {
	switch v {
	case VolatilityMedium:
		return decimal.NewFromFloat(0.8)
	case VolatilityHigh:
		return decimal.NewFromFloat(0.6)
	case VolatilityExtreme:
		return decimal.NewFromFloat(0.3)
	}
	return decimal.NewFromInt(1)
}

// MarketCondition describes the regime a pair trades in.
// LiquidityScore is in [0,100], Trend in [-100,100]; out-of-range values are clamped.
type MarketCondition struct {
	Volatility     Volatility
	LiquidityScore float64
	Trend          float64
}

// PositionState is the persisted per-pair sizing state.
type PositionState struct {
	Size       uint64
	Baseline   uint64
	BaselineAt time.Time
}

type TradeRecord struct {
	Pair      types.TokenPair
	Success   bool
	Size      uint64
	ProfitPct float64
	Took      time.Duration
	At        time.Time
}

type PerformanceStats struct {
	Trades        int
	Successes     int
	SuccessRate   float64
	AvgProfitPct  float64
	AvgExecTimeMs float64
}

// Sizer keeps the adaptive position size per pair.
type Sizer struct {
	mu        sync.RWMutex
	cfg       SizingConfig
	positions map[types.TokenPair]*PositionState
	history   []TradeRecord
	now       func() time.Time
}

func NewSizer(cfg SizingConfig) (*Sizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sizer{
		cfg:       cfg,
		positions: make(map[types.TokenPair]*PositionState),
		now:       time.Now,
	}, nil
}

// Size returns the current position size for pair, initialising it to the base size on first use.
func (s *Sizer) Size(pair types.TokenPair) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(pair).Size
}

// Update grows the size after a success and shrinks it after a failure.
// profitPct is the realised profit as a fraction of the traded amount.
func (s *Sizer) Update(pair types.TokenPair, success bool, profitPct float64) uint64 {
	return s.Record(pair, success, profitPct, 0)
}

// Record is Update plus the execution time kept in the trade history.
func (s *Sizer) Record(pair types.TokenPair, success bool, profitPct float64, took time.Duration) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked(pair)
	var factor decimal.Decimal
	if success {
		factor = s.growthLocked(profitPct)
	} else {
		factor = decimal.NewFromFloat(s.cfg.ReductionFactor)
	}
	next := s.clampLocked(st, decimalFromUint(st.Size).Mul(factor))
	st.Size = next

	s.history = append(s.history, TradeRecord{
		Pair:      pair,
		Success:   success,
		Size:      next,
		ProfitPct: profitPct,
		Took:      took,
		At:        s.now(),
	})
	if len(s.history) > historyCap {
		s.history = append(s.history[:0:0], s.history[historyEvict:]...)
	}

	imetrics.PositionSize.WithLabelValues(pair.String()).Set(float64(next))
	return next
}

// AdjustForMarket scales the current size by the market regime without storing the result.
func (s *Sizer) AdjustForMarket(pair types.TokenPair, mc MarketCondition) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked(pair)
	if !s.cfg.Adaptive {
		return st.Size
	}

	liq := clampFloat(mc.LiquidityScore, 0, 100)
	trend := clampFloat(mc.Trend, -100, 100)
	trendFactor := 1 + trend/100
	if trend > 0 {
		trendFactor = 1 + trend/200
	}

	adj := decimalFromUint(st.Size).
		Mul(mc.Volatility.factor()).
		Mul(decimal.NewFromFloat(liq).Div(decimal.NewFromInt(100))).
		Mul(decimal.NewFromFloat(trendFactor))
	return s.clampLocked(st, adj)
}

func (s *Sizer) Performance() PerformanceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ps PerformanceStats
	ps.Trades = len(s.history)
	if ps.Trades == 0 {
		return ps
	}
	var profitSum, tookSum float64
	for _, r := range s.history {
		if r.Success {
			ps.Successes++
		}
		profitSum += r.ProfitPct
		tookSum += float64(r.Took.Milliseconds())
	}
	n := float64(ps.Trades)
	ps.SuccessRate = float64(ps.Successes) / n
	ps.AvgProfitPct = profitSum / n
	ps.AvgExecTimeMs = tookSum / n
	return ps
}

// Snapshot copies the per-pair state for persistence.
func (s *Sizer) Snapshot() map[types.TokenPair]PositionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.TokenPair]PositionState, len(s.positions))
	for k, v := range s.positions {
		out[k] = *v
	}
	return out
}

// Restore replaces the per-pair state with a previously saved snapshot.
func (s *Sizer) Restore(snap map[types.TokenPair]PositionState) {
	positions := make(map[types.TokenPair]*PositionState, len(snap))
	for k, v := range snap {
		v := v
		positions[k] = &v
	}
	s.mu.Lock()
	s.positions = positions
	s.mu.Unlock()
}

func (s *Sizer) Config() SizingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig swaps the sizing parameters and restarts every daily baseline at
// max(size, new base) so the daily cap never sits below the new floor. Stored
// sizes are re-clamped on their next update.
func (s *Sizer) UpdateConfig(cfg SizingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	now := s.now()
	for _, st := range s.positions {
		st.Baseline = max(st.Size, cfg.BaseSize)
		st.BaselineAt = now
	}
	return nil
}

func (s *Sizer) stateLocked(pair types.TokenPair) *PositionState {
	now := s.now()
	st, ok := s.positions[pair]
	if !ok {
		st = &PositionState{Size: s.cfg.BaseSize, Baseline: s.cfg.BaseSize, BaselineAt: now}
		s.positions[pair] = st
		return st
	}
	if now.Sub(st.BaselineAt) >= baselineTTL {
		st.Baseline = st.Size
		st.BaselineAt = now
	}
	return st
}

func (s *Sizer) growthLocked(profitPct float64) decimal.Decimal {
	g := decimal.NewFromFloat(s.cfg.GrowthFactor)
	if !s.cfg.ProfitScaling {
		return g
	}
	one := decimal.NewFromInt(1)
	return one.Add(g.Sub(one).Mul(one.Add(decimal.NewFromFloat(profitPct))))
}

// clampLocked bounds v to [base/2, min(max, baseline*maxDailyGrowth)]; the upper bound wins.
func (s *Sizer) clampLocked(st *PositionState, v decimal.Decimal) uint64 {
	lower := decimalFromUint(s.cfg.BaseSize / 2)
	upper := decimalFromUint(s.cfg.MaxSize)
	daily := decimalFromUint(st.Baseline).Mul(decimal.NewFromFloat(s.cfg.MaxDailyGrowth)).Floor()
	if daily.LessThan(upper) {
		upper = daily
	}
	if v.LessThan(lower) {
		v = lower
	}
	if v.GreaterThan(upper) {
		v = upper
	}
	return v.Floor().BigInt().Uint64()
}

func decimalFromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
