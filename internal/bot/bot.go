package bot

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/dash"
	"github.com/you/flash-arb/internal/detector"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/execution"
	"github.com/you/flash-arb/internal/flashloan"
	"github.com/you/flash-arb/internal/marketdata"
	imetrics "github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/profit"
	"github.com/you/flash-arb/internal/risk"
	"github.com/you/flash-arb/internal/store"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// Executor runs one opportunity to completion and reports the outcome.
type Executor interface {
	Execute(ctx context.Context, opp types.Opportunity) types.ExecutionResult
	UpdateOptions(opts execution.Options)
}

// Valuer prices a profit amount in native and USD terms. A nil Valuer records zeros.
type Valuer interface {
	Value(token common.Address, amount uint64) (native uint64, usd decimal.Decimal)
}

// Deps are the shared handles the scan loop drives. Loans, Dash and Valuer are optional;
// Store defaults to an in-memory store.
type Deps struct {
	Venues   *core.Registry
	Executor Executor
	Sizer    *risk.Sizer
	Loans    *flashloan.Orchestrator
	Ledger   *profit.Ledger
	Store    store.Store
	Dash     *dash.Store
	Valuer   Valuer
}

type Stats struct {
	Status                Status
	OpportunitiesDetected uint64
	Executed              uint64
	Succeeded             uint64
	Failed                uint64
	Active                int
	TotalProfit           uint64
	AvgProfitPerTrade     float64
	AvgExecutionTimeMs    float64
	StartedAt             time.Time
}

type pairEntry struct {
	symbol string
	pair   types.TokenPair
}

// state is everything the scan loop and executions share. Guarded by Bot.mu.
type state struct {
	status        Status
	active        int
	opportunities uint64
	executed      uint64
	succeeded     uint64
	failed        uint64
	totalProfit   uint64
	totalExecMs   float64
	startedAt     time.Time

	cancel   context.CancelFunc
	loopDone chan struct{}
}

// Bot owns the engine lifecycle: scan loop, admission, dispatch and outcome routing.
type Bot struct {
	log  *zap.Logger
	deps Deps

	cfgMu     sync.RWMutex
	cfg       *config.Config
	pairs     []pairEntry
	collector *marketdata.Collector

	mu sync.Mutex
	st state

	saveMu sync.Mutex
}

func New(cfg *config.Config, deps Deps, log *zap.Logger) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Venues == nil || deps.Executor == nil || deps.Sizer == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("%w: bot needs venues, executor, sizer and ledger", types.ErrConfig)
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	b := &Bot{log: log, deps: deps, st: state{status: StatusStopped}}
	b.setConfig(cfg)
	return b, nil
}

func (b *Bot) setConfig(cfg *config.Config) {
	pairs := make([]pairEntry, 0, len(cfg.Pairs))
	for i, tp := range cfg.TokenPairs() {
		sym := cfg.Pairs[i].Symbol
		if sym == "" {
			sym = tp.String()
		}
		pairs = append(pairs, pairEntry{symbol: sym, pair: tp})
	}
	b.cfgMu.Lock()
	b.cfg = cfg
	b.pairs = pairs
	b.collector = marketdata.NewCollector(cfg.MaxQuoteAge(), b.log)
	b.cfgMu.Unlock()
}

func (b *Bot) config() (*config.Config, []pairEntry, *marketdata.Collector) {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg, b.pairs, b.collector
}

// Start restores persisted state and launches the scan loop. The loop lives until
// Stop is called or ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.st.status != StatusStopped {
		status := b.st.status
		b.mu.Unlock()
		return fmt.Errorf("%w: cannot start, engine is %s", types.ErrParameter, status)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.st.status = StatusRunning
	b.st.startedAt = time.Now()
	b.st.cancel = cancel
	b.st.loopDone = done
	b.mu.Unlock()

	b.restore(ctx)

	cfg, pairs, _ := b.config()
	go b.loop(loopCtx, done)
	b.log.Info("engine started",
		zap.Int("pairs", len(pairs)),
		zap.Int("venues", len(cfg.Venues)),
		zap.Bool("flash_loans", cfg.Arbitrage.UseFlashLoans),
		zap.Bool("dry_run", cfg.DryRun),
	)
	return nil
}

// Stop halts scanning, waits for in-flight executions to finish and saves state.
func (b *Bot) Stop() error {
	b.mu.Lock()
	if b.st.status == StatusStopped {
		b.mu.Unlock()
		return fmt.Errorf("%w: engine is not running", types.ErrParameter)
	}
	b.st.status = StatusStopped
	cancel, done := b.st.cancel, b.st.loopDone
	b.mu.Unlock()

	cancel()
	<-done
	waitDrained(context.Background(), b.activeCount, 10*time.Millisecond, b.log)
	b.persist()
	b.log.Info("engine stopped")
	return nil
}

func (b *Bot) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st.status != StatusRunning {
		return fmt.Errorf("%w: cannot pause, engine is %s", types.ErrParameter, b.st.status)
	}
	b.st.status = StatusPaused
	b.log.Info("engine paused")
	return nil
}

func (b *Bot) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st.status != StatusPaused {
		return fmt.Errorf("%w: cannot resume, engine is %s", types.ErrParameter, b.st.status)
	}
	b.st.status = StatusRunning
	b.log.Info("engine resumed")
	return nil
}

func (b *Bot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.status
}

func (b *Bot) Statistics() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{
		Status:                b.st.status,
		OpportunitiesDetected: b.st.opportunities,
		Executed:              b.st.executed,
		Succeeded:             b.st.succeeded,
		Failed:                b.st.failed,
		Active:                b.st.active,
		TotalProfit:           b.st.totalProfit,
		StartedAt:             b.st.startedAt,
	}
	if s.Succeeded > 0 {
		s.AvgProfitPerTrade = float64(s.TotalProfit) / float64(s.Succeeded)
	}
	if s.Executed > 0 {
		s.AvgExecutionTimeMs = b.st.totalExecMs / float64(s.Executed)
	}
	return s
}

// UpdateConfig validates cfg and hot-swaps thresholds, pairs, sizing, loan and
// distribution settings. An invalid cfg changes nothing.
func (b *Bot) UpdateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc, err := cfg.SizingConfig()
	if err != nil {
		return err
	}
	lc, err := cfg.LoanConfig()
	if err != nil {
		return err
	}
	dc, err := cfg.DistributionConfig()
	if err != nil {
		return err
	}

	if err := b.deps.Sizer.UpdateConfig(sc); err != nil {
		return err
	}
	if b.deps.Loans != nil {
		if err := b.deps.Loans.UpdateConfig(lc); err != nil {
			return err
		}
	}
	if err := b.deps.Ledger.UpdateConfig(dc); err != nil {
		return err
	}
	b.deps.Executor.UpdateOptions(execution.Options{
		UseFlashLoans: cfg.Arbitrage.UseFlashLoans,
		SlippagePct:   cfg.Arbitrage.SlippagePct,
		SubmitTimeout: cfg.SubmitTimeout(),
	})
	b.setConfig(cfg)
	b.log.Info("config updated",
		zap.Int("pairs", len(cfg.Pairs)),
		zap.Float64("min_profit_pct", cfg.Arbitrage.MinProfitPct),
		zap.Int("max_concurrent", cfg.Arbitrage.MaxConcurrentOperations),
	)
	return nil
}

func (b *Bot) DistributeProfits() profit.Distribution {
	d := b.deps.Ledger.DistributeProfits()
	if len(d.Allocations) > 0 {
		b.persist()
	}
	return d
}

func (b *Bot) ProfitStatistics() profit.Stats { return b.deps.Ledger.Statistics() }

func (b *Bot) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	cfg, _, _ := b.config()
	interval := cfg.ScanInterval()
	scan := time.NewTicker(interval)
	defer scan.Stop()

	var distC <-chan time.Time
	if iv := cfg.DistributeInterval(); iv > 0 {
		dist := time.NewTicker(iv)
		defer dist.Stop()
		distC = dist.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-scan.C:
			b.scan(ctx)
			if cfg, _, _ := b.config(); cfg.ScanInterval() != interval {
				interval = cfg.ScanInterval()
				scan.Reset(interval)
			}
		case <-distC:
			b.DistributeProfits()
		}
	}
}

// scan walks every pair once. A pair is skipped for this tick when no slot is free.
func (b *Bot) scan(ctx context.Context) {
	cfg, pairs, collector := b.config()
	venues := b.deps.Venues.Enabled(cfg.VenueIDs())

	for _, p := range pairs {
		if ctx.Err() != nil {
			return
		}
		ok, running := b.tryAcquire(cfg.Arbitrage.MaxConcurrentOperations)
		if !running {
			return
		}
		if !ok {
			imetrics.SkippedAtCapacity.Inc()
			b.log.Debug("at capacity, pair skipped", zap.String("pair", p.symbol))
			continue
		}

		opp, found := b.detect(ctx, cfg, collector, p, venues)
		if !found {
			b.release()
			continue
		}
		b.dispatch(ctx, opp)
	}
}

// detect never panics: a failure while scanning one pair drops that pair for the tick.
func (b *Bot) detect(ctx context.Context, cfg *config.Config, collector *marketdata.Collector, p pairEntry, venues []*core.Venue) (opp types.Opportunity, found bool) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("pair scan panicked", zap.String("pair", p.symbol), zap.Any("panic", r))
			opp, found = types.Opportunity{}, false
		}
	}()

	snap := collector.Collect(ctx, p.pair, venues)
	if b.deps.Dash != nil {
		b.deps.Dash.Update(p.symbol, snap)
	}

	buy, sell, ok := marketdata.Best(snap.Quotes)
	if !ok {
		b.log.Debug("fewer than two venues answered",
			zap.String("pair", p.symbol),
			zap.Int("quotes", len(snap.Quotes)),
			zap.Int("errors", len(snap.Errors)),
		)
		return types.Opportunity{}, false
	}

	maxSize := min(cfg.Arbitrage.MaxPositionSize, b.deps.Sizer.Size(p.pair))
	opp, ok = detector.Evaluate(p.pair, buy, sell, cfg.Arbitrage.MinProfitPct, maxSize, time.Now())
	if !ok {
		return types.Opportunity{}, false
	}

	imetrics.Opportunities.WithLabelValues(p.symbol).Inc()
	b.mu.Lock()
	b.st.opportunities++
	b.mu.Unlock()

	b.log.Info("OPPORTUNITY",
		zap.String("id", opp.ID),
		zap.String("pair", p.symbol),
		zap.String("buy_venue", buy.Venue),
		zap.String("sell_venue", sell.Venue),
		zap.Float64("buy_px", buy.Price),
		zap.Float64("sell_px", sell.Price),
		zap.String("spread_pct", opp.SpreadPct.StringFixed(4)),
		zap.Uint64("size", opp.MaxTradeSize),
		zap.Uint64("est_profit", opp.EstimatedProfit),
	)
	return opp, true
}

// dispatch runs the execution on a context detached from the scan loop so Stop
// never aborts a submission mid-flight. The slot is released when it returns.
func (b *Bot) dispatch(ctx context.Context, opp types.Opportunity) {
	execCtx := context.WithoutCancel(ctx)
	go func() {
		defer b.release()
		b.route(b.execute(execCtx, opp))
	}()
}

// execute turns an executor panic into a failed result so it is still routed.
func (b *Bot) execute(ctx context.Context, opp types.Opportunity) (res types.ExecutionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("executor panicked", zap.String("opp", opp.ID), zap.Any("panic", r))
			res = types.ExecutionResult{
				Opportunity: opp,
				Err:         fmt.Errorf("%w: executor panicked: %v", types.ErrTransaction, r),
				Duration:    time.Since(start),
			}
		}
	}()
	return b.deps.Executor.Execute(ctx, opp)
}

// route feeds an outcome to the ledger and the sizer, then persists.
func (b *Bot) route(res types.ExecutionResult) {
	opp := res.Opportunity
	token := opp.Pair.Quote

	var profitPct float64
	if res.Success {
		native, usd := uint64(0), decimal.Zero
		if b.deps.Valuer != nil {
			native, usd = b.deps.Valuer.Value(token, res.ActualProfit)
		}
		if err := b.deps.Ledger.RecordProfit(token, res.ActualProfit, native, usd); err != nil {
			b.log.Error("ledger rejected profit", zap.String("opp", opp.ID), zap.Error(err))
		}
		if opp.MaxTradeSize > 0 {
			profitPct = float64(res.ActualProfit) / float64(opp.MaxTradeSize)
		}
		imetrics.Executions.WithLabelValues("success").Inc()
	} else {
		b.deps.Ledger.RecordFailedTrade(token)
		imetrics.Executions.WithLabelValues("failure").Inc()
	}
	size := b.deps.Sizer.Record(opp.Pair, res.Success, profitPct, res.Duration)

	b.mu.Lock()
	b.st.executed++
	if res.Success {
		b.st.succeeded++
		if res.ActualProfit > math.MaxUint64-b.st.totalProfit {
			b.st.totalProfit = math.MaxUint64
		} else {
			b.st.totalProfit += res.ActualProfit
		}
	} else {
		b.st.failed++
	}
	b.st.totalExecMs += float64(res.Duration.Microseconds()) / 1000
	b.mu.Unlock()

	if res.Success {
		b.log.Info("EXECUTED",
			zap.String("opp", opp.ID),
			zap.String("pair", opp.Pair.String()),
			zap.String("tx", res.TxRef),
			zap.Uint64("profit", res.ActualProfit),
			zap.Bool("estimated", res.ProfitEstimated),
			zap.Uint64("next_size", size),
			zap.Duration("took", res.Duration),
		)
	} else {
		b.log.Warn("FAILED",
			zap.String("opp", opp.ID),
			zap.String("pair", opp.Pair.String()),
			zap.Uint64("next_size", size),
			zap.Duration("took", res.Duration),
			zap.Error(res.Err),
		)
	}
	b.persist()
}

// tryAcquire reserves an execution slot. running is false once the engine left
// the Running state; ok is false when all slots are taken.
func (b *Bot) tryAcquire(limit int) (ok, running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st.status != StatusRunning {
		return false, false
	}
	if b.st.active >= limit {
		return false, true
	}
	b.st.active++
	imetrics.ActiveExecutions.Set(float64(b.st.active))
	return true, true
}

func (b *Bot) release() {
	b.mu.Lock()
	b.st.active--
	imetrics.ActiveExecutions.Set(float64(b.st.active))
	b.mu.Unlock()
}

func (b *Bot) activeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.active
}

func (b *Bot) restore(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	positions, ledger, err := store.LoadAll(ctx, b.deps.Store)
	if err != nil {
		b.log.Warn("state restore failed, starting fresh", zap.Error(err))
		return
	}
	if len(positions) > 0 {
		b.deps.Sizer.Restore(positions)
	}
	if len(ledger.Accounts) > 0 {
		b.deps.Ledger.Restore(ledger)
	}
	b.log.Info("state restored", zap.Int("positions", len(positions)), zap.Int("tokens", len(ledger.Accounts)))
}

// persist saves sizing and ledger state. Saves are serialised so an older
// snapshot never lands after a newer one.
func (b *Bot) persist() {
	b.saveMu.Lock()
	defer b.saveMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.SaveAll(ctx, b.deps.Store, b.deps.Sizer.Snapshot(), b.deps.Ledger.Snapshot()); err != nil {
		b.log.Error("state save failed", zap.Error(err))
	}
}

// waitDrained polls active until it reaches zero or ctx is done, returning what is left.
func waitDrained(ctx context.Context, active func() int, every time.Duration, log *zap.Logger) int {
	tick := time.NewTicker(every)
	defer tick.Stop()
	last := time.Now()
	for {
		n := active()
		if n == 0 {
			return 0
		}
		if time.Since(last) >= time.Second {
			log.Info("waiting for in-flight executions", zap.Int("active", n))
			last = time.Now()
		}
		select {
		case <-ctx.Done():
			return active()
		case <-tick.C:
		}
	}
}
