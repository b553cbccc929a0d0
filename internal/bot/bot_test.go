package bot

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/dash"
	"github.com/you/flash-arb/internal/dex/adapters"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/execution"
	"github.com/you/flash-arb/internal/profit"
	"github.com/you/flash-arb/internal/risk"
	"github.com/you/flash-arb/internal/store"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

const (
	weth = "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"
	usdc = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
)

type quoterFunc func(ctx context.Context, pair types.TokenPair) (types.PriceQuote, error)

func (f quoterFunc) Quote(ctx context.Context, pair types.TokenPair) (types.PriceQuote, error) {
	return f(ctx, pair)
}

func fixed(price float64) core.Quoter {
	return quoterFunc(func(context.Context, types.TokenPair) (types.PriceQuote, error) {
		return types.PriceQuote{Price: price, Liquidity: 1_000_000_000, Timestamp: time.Now()}, nil
	})
}

// stubExecutor tracks concurrency and optionally blocks until gate is closed.
type stubExecutor struct {
	mu       sync.Mutex
	calls    int
	inflight int
	peak     int
	fail     bool
	gate     chan struct{}
}

func (s *stubExecutor) Execute(_ context.Context, opp types.Opportunity) types.ExecutionResult {
	s.mu.Lock()
	s.calls++
	s.inflight++
	if s.inflight > s.peak {
		s.peak = s.inflight
	}
	s.mu.Unlock()

	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()

	if s.fail {
		return types.ExecutionResult{Opportunity: opp, Err: types.ErrTransaction, Duration: time.Millisecond}
	}
	return types.ExecutionResult{
		Opportunity:     opp,
		Success:         true,
		ActualProfit:    opp.EstimatedProfit,
		ProfitEstimated: true,
		Duration:        time.Millisecond,
		TxRef:           "0xabc",
	}
}

func (s *stubExecutor) UpdateOptions(execution.Options) {}

func (s *stubExecutor) snapshot() (calls, inflight, peak int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.inflight, s.peak
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pairs = []config.PairCfg{{Symbol: "WETH/USDC", Base: weth, Quote: usdc, QuoteUSD: true, QuoteDecimals: 6}}
	cfg.Venues = []config.VenueCfg{{ID: core.VenueUniswapV3}, {ID: core.VenueSushiV2}}
	cfg.Timings.ScanIntervalMs = 5
	cfg.Arbitrage.MaxConcurrentOperations = 2
	cfg.Arbitrage.UseFlashLoans = true
	cfg.ApplyDefaults()
	return cfg
}

type fixture struct {
	bot    *Bot
	exec   *stubExecutor
	sizer  *risk.Sizer
	ledger *profit.Ledger
	store  *store.Memory
	dash   *dash.Store
}

func newFixture(t *testing.T, cfg *config.Config, exec *stubExecutor, buyPx, sellPx float64) *fixture {
	t.Helper()
	reg := core.NewRegistry()
	reg.Register(&core.Venue{ID: core.VenueUniswapV3, Quoter: fixed(buyPx)})
	reg.Register(&core.Venue{ID: core.VenueSushiV2, Quoter: fixed(sellPx)})

	sc, err := cfg.SizingConfig()
	require.NoError(t, err)
	sizer, err := risk.NewSizer(sc)
	require.NoError(t, err)
	dc, err := cfg.DistributionConfig()
	require.NoError(t, err)
	ledger, err := profit.NewLedger(dc, zap.NewNop())
	require.NoError(t, err)

	f := &fixture{exec: exec, sizer: sizer, ledger: ledger, store: store.NewMemory(), dash: dash.NewStore()}
	f.bot, err = New(cfg, Deps{
		Venues:   reg,
		Executor: exec,
		Sizer:    sizer,
		Ledger:   ledger,
		Store:    f.store,
		Dash:     f.dash,
		Valuer:   NewStableValuer(cfg.Pairs),
	}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(testConfig(), Deps{}, zap.NewNop())
	assert.ErrorIs(t, err, types.ErrConfig)

	bad := testConfig()
	bad.Pairs = nil
	_, err = New(bad, Deps{}, zap.NewNop())
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t, testConfig(), &stubExecutor{}, 1.0, 1.0)
	b := f.bot
	ctx := context.Background()

	assert.ErrorIs(t, b.Stop(), types.ErrParameter)
	assert.ErrorIs(t, b.Pause(), types.ErrParameter)
	assert.ErrorIs(t, b.Resume(), types.ErrParameter)

	require.NoError(t, b.Start(ctx))
	assert.Equal(t, StatusRunning, b.Status())
	assert.ErrorIs(t, b.Start(ctx), types.ErrParameter)
	assert.ErrorIs(t, b.Resume(), types.ErrParameter)

	require.NoError(t, b.Pause())
	assert.Equal(t, StatusPaused, b.Status())
	assert.ErrorIs(t, b.Pause(), types.ErrParameter)
	assert.ErrorIs(t, b.Start(ctx), types.ErrParameter)
	require.NoError(t, b.Resume())

	require.NoError(t, b.Stop())
	assert.Equal(t, StatusStopped, b.Status())
	assert.ErrorIs(t, b.Stop(), types.ErrParameter)

	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Pause())
	require.NoError(t, b.Stop(), "stop from paused")
}

func TestScan_SuccessRouting(t *testing.T) {
	f := newFixture(t, testConfig(), &stubExecutor{}, 1.0, 1.006)
	require.NoError(t, f.bot.Start(context.Background()))
	require.Eventually(t, func() bool { return f.bot.Statistics().Succeeded >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.bot.Stop())

	st := f.bot.Statistics()
	assert.Zero(t, st.Active)
	assert.Equal(t, st.Executed, st.Succeeded)
	assert.GreaterOrEqual(t, st.OpportunitiesDetected, st.Executed)
	assert.GreaterOrEqual(t, st.TotalProfit, uint64(600_000)*st.Succeeded) // 100M base size at 0.6%, growing
	assert.GreaterOrEqual(t, st.AvgProfitPerTrade, 600_000.0)

	acc, ok := f.ledger.Account(common.HexToAddress(usdc))
	require.True(t, ok)
	assert.Equal(t, st.TotalProfit, acc.TotalProfit)
	assert.Zero(t, acc.Failures)
	assert.True(t, f.ledger.Statistics().TotalUSD.Equal(decimal.NewFromUint64(st.TotalProfit).Shift(-6)))

	pair := types.TokenPair{Base: common.HexToAddress(weth), Quote: common.HexToAddress(usdc)}
	assert.Greater(t, f.sizer.Size(pair), uint64(100_000_000), "successes grow the position")

	saved, err := f.store.LoadLedger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, acc.TotalProfit, saved.Accounts[common.HexToAddress(usdc)].TotalProfit)

	rows := f.dash.List()
	require.Len(t, rows, 2)
	assert.Equal(t, "WETH/USDC", rows[0].Symbol)
}

func TestScan_FailureRouting(t *testing.T) {
	f := newFixture(t, testConfig(), &stubExecutor{fail: true}, 1.0, 1.006)
	require.NoError(t, f.bot.Start(context.Background()))
	require.Eventually(t, func() bool { return f.bot.Statistics().Failed >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.bot.Stop())

	st := f.bot.Statistics()
	assert.Zero(t, st.Succeeded)
	assert.Zero(t, st.TotalProfit)

	acc, ok := f.ledger.Account(common.HexToAddress(usdc))
	require.True(t, ok)
	assert.Equal(t, st.Failed, acc.Failures)
	assert.Zero(t, acc.TotalProfit)

	pair := types.TokenPair{Base: common.HexToAddress(weth), Quote: common.HexToAddress(usdc)}
	assert.Less(t, f.sizer.Size(pair), uint64(100_000_000), "failures shrink the position")
	assert.Equal(t, int(st.Failed), f.sizer.Performance().Trades)
}

func TestScan_BelowThresholdDoesNothing(t *testing.T) {
	exec := &stubExecutor{}
	f := newFixture(t, testConfig(), exec, 1.0, 1.003)
	require.NoError(t, f.bot.Start(context.Background()))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, f.bot.Stop())

	calls, _, _ := exec.snapshot()
	assert.Zero(t, calls)
	st := f.bot.Statistics()
	assert.Zero(t, st.OpportunitiesDetected)
	assert.Zero(t, st.Active)
	assert.NotEmpty(t, f.dash.List(), "quotes still reach the dashboard")
}

func TestScan_ConcurrencyCap(t *testing.T) {
	cfg := testConfig()
	cfg.Pairs = append(cfg.Pairs,
		config.PairCfg{Symbol: "ARB/USDC", Base: "0x912CE59144191C1204E64559FE8253a0e49E6548", Quote: usdc},
		config.PairCfg{Symbol: "GMX/USDC", Base: "0xfc5A1A6EB076a2C7aD06eD22C90d7E710E35ad0a", Quote: usdc},
	)
	exec := &stubExecutor{gate: make(chan struct{})}
	f := newFixture(t, cfg, exec, 1.0, 1.01)

	require.NoError(t, f.bot.Start(context.Background()))
	require.Eventually(t, func() bool { return f.bot.Statistics().Active == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // let more ticks hit the cap

	calls, inflight, peak := exec.snapshot()
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, inflight)
	assert.Equal(t, 2, peak)
	assert.Equal(t, 2, f.bot.Statistics().Active)

	close(exec.gate)
	require.NoError(t, f.bot.Stop())

	calls, _, peak = exec.snapshot()
	assert.LessOrEqual(t, peak, 2)
	st := f.bot.Statistics()
	assert.Zero(t, st.Active)
	assert.Equal(t, uint64(calls), st.Executed)
}

func TestStop_DrainsInFlight(t *testing.T) {
	exec := &stubExecutor{gate: make(chan struct{})}
	f := newFixture(t, testConfig(), exec, 1.0, 1.006)

	require.NoError(t, f.bot.Start(context.Background()))
	require.Eventually(t, func() bool { c, _, _ := exec.snapshot(); return c >= 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- f.bot.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned with executions in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StatusStopped, f.bot.Status())

	close(exec.gate)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after executions finished")
	}

	calls, _, _ := exec.snapshot()
	st := f.bot.Statistics()
	assert.Zero(t, st.Active)
	assert.Equal(t, uint64(calls), st.Executed)

	saved, err := f.store.LoadLedger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, st.TotalProfit, saved.Accounts[common.HexToAddress(usdc)].TotalProfit)
}

func TestPause_StopsScanning(t *testing.T) {
	exec := &stubExecutor{}
	f := newFixture(t, testConfig(), exec, 1.0, 1.006)
	require.NoError(t, f.bot.Start(context.Background()))
	require.Eventually(t, func() bool { c, _, _ := exec.snapshot(); return c >= 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.bot.Pause())
	require.Eventually(t, func() bool { return f.bot.Statistics().Active == 0 }, time.Second, 5*time.Millisecond)
	before, _, _ := exec.snapshot()
	time.Sleep(50 * time.Millisecond)
	after, _, _ := exec.snapshot()
	assert.Equal(t, before, after)

	require.NoError(t, f.bot.Resume())
	require.Eventually(t, func() bool { c, _, _ := exec.snapshot(); return c > after }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.bot.Stop())
}

func TestStart_RestoresState(t *testing.T) {
	f := newFixture(t, testConfig(), &stubExecutor{}, 1.0, 1.0)
	token := common.HexToAddress(usdc)
	pair := types.TokenPair{Base: common.HexToAddress(weth), Quote: token}

	err := store.SaveAll(context.Background(), f.store,
		store.Positions{pair: {Size: 120_000_000, Baseline: 100_000_000, BaselineAt: time.Now()}},
		profit.Snapshot{Accounts: map[common.Address]profit.Account{
			token: {Token: token, TotalProfit: 42, Undistributed: 42, Successes: 1},
		}, TotalUSD: decimal.Zero},
	)
	require.NoError(t, err)

	require.NoError(t, f.bot.Start(context.Background()))
	defer func() { require.NoError(t, f.bot.Stop()) }()

	assert.Equal(t, uint64(120_000_000), f.sizer.Size(pair))
	assert.Equal(t, uint64(1), f.bot.ProfitStatistics().Successes)
}

func TestDistributeProfits(t *testing.T) {
	cfg := testConfig()
	cfg.Distribution.MinAmount = 1
	f := newFixture(t, cfg, &stubExecutor{}, 1.0, 1.0)
	token := common.HexToAddress(usdc)
	require.NoError(t, f.ledger.RecordProfit(token, 1_000, 0, decimal.Zero))

	d := f.bot.DistributeProfits()
	assert.Equal(t, uint64(700), d.Reinvested)
	assert.Equal(t, uint64(300), d.Withdrawn)

	saved, err := f.store.LoadLedger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), saved.Accounts[token].Distributed)
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t, testConfig(), &stubExecutor{}, 1.0, 1.006)

	bad := testConfig()
	bad.Distribution.ReinvestPct = 90
	assert.ErrorIs(t, f.bot.UpdateConfig(bad), types.ErrConfig)
	cfg, _, _ := f.bot.config()
	assert.Equal(t, uint8(70), cfg.Distribution.ReinvestPct)
	assert.Equal(t, uint8(70), f.ledger.Config().ReinvestPct)

	next := testConfig()
	next.Arbitrage.MinProfitPct = 1.0
	next.Sizing.RiskLevel = risk.Moderate
	require.NoError(t, f.bot.UpdateConfig(next))
	assert.Equal(t, uint64(250_000_000), f.sizer.Config().BaseSize)

	exec := f.exec
	require.NoError(t, f.bot.Start(context.Background()))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, f.bot.Stop())
	calls, _, _ := exec.snapshot()
	assert.Zero(t, calls, "spread is below the new threshold")
}

func TestWaitDrained(t *testing.T) {
	var (
		mu sync.Mutex
		n  = 2
	)
	active := func() int { mu.Lock(); defer mu.Unlock(); return n }
	go func() {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		n = 0
		mu.Unlock()
	}()
	assert.Zero(t, waitDrained(context.Background(), active, time.Millisecond, zap.NewNop()))

	mu.Lock()
	n = 3
	mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 3, waitDrained(ctx, active, time.Millisecond, zap.NewNop()))
}

func TestStableValuer(t *testing.T) {
	v := NewStableValuer(testConfig().Pairs)
	native, usd := v.Value(common.HexToAddress(usdc), 1_500_000)
	assert.Zero(t, native)
	assert.True(t, usd.Equal(decimal.RequireFromString("1.5")))

	_, usd = v.Value(common.HexToAddress(weth), 1_500_000)
	assert.True(t, usd.IsZero())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotPanics(t, func() { logger.Info("test message") })

	_, err = NewLogger("loud")
	assert.Error(t, err)
}

func TestScan_UnusableOracleAnswerSkipsPair(t *testing.T) {
	cases := map[string]core.Quoter{
		"timed +Inf": adapters.NewTimedQuoter(core.VenueSushiV2, fixed(math.Inf(1)), time.Second),
		"raw +Inf":   fixed(math.Inf(1)),
		"raw NaN":    fixed(math.NaN()),
		"panicking": quoterFunc(func(context.Context, types.TokenPair) (types.PriceQuote, error) {
			panic("oracle bug")
		}),
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			exec := &stubExecutor{}
			f := newFixture(t, testConfig(), exec, 1.0, 1.006)
			f.bot.deps.Venues.Register(&core.Venue{ID: core.VenueSushiV2, Quoter: q})
			f.bot.mu.Lock()
			f.bot.st.status = StatusRunning
			f.bot.mu.Unlock()

			require.NotPanics(t, func() { f.bot.scan(context.Background()) })

			calls, _, _ := exec.snapshot()
			assert.Zero(t, calls)
			st := f.bot.Statistics()
			assert.Zero(t, st.Active)
			assert.Zero(t, st.OpportunitiesDetected)
			rows := f.dash.List()
			require.Len(t, rows, 1)
			assert.Equal(t, "uniswap_v3", rows[0].Venue)
		})
	}
}

type panicExecutor struct{}

func (panicExecutor) Execute(context.Context, types.Opportunity) types.ExecutionResult {
	panic("executor bug")
}

func (panicExecutor) UpdateOptions(execution.Options) {}

func TestScan_ExecutorPanicIsRoutedAsFailure(t *testing.T) {
	f := newFixture(t, testConfig(), &stubExecutor{}, 1.0, 1.006)
	f.bot.deps.Executor = panicExecutor{}

	require.NoError(t, f.bot.Start(context.Background()))
	require.Eventually(t, func() bool { return f.bot.Statistics().Failed >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.bot.Stop())

	st := f.bot.Statistics()
	assert.Zero(t, st.Active)
	assert.Zero(t, st.Succeeded)
	assert.Equal(t, st.Executed, st.Failed)

	acc, ok := f.ledger.Account(common.HexToAddress(usdc))
	require.True(t, ok)
	assert.Equal(t, st.Failed, acc.Failures)

	pair := types.TokenPair{Base: common.HexToAddress(weth), Quote: common.HexToAddress(usdc)}
	assert.Less(t, f.sizer.Size(pair), uint64(100_000_000))
}
