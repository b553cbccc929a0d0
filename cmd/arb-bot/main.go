package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/you/flash-arb/internal/bot"
	"github.com/you/flash-arb/internal/chain"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/connectors/redisfeed"
	"github.com/you/flash-arb/internal/dash"
	"github.com/you/flash-arb/internal/dex/adapters"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/execution"
	"github.com/you/flash-arb/internal/flashloan"
	"github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/multicall"
	"github.com/you/flash-arb/internal/profit"
	"github.com/you/flash-arb/internal/risk"
	"github.com/you/flash-arb/internal/signer"
	"github.com/you/flash-arb/internal/store"
	"github.com/you/flash-arb/internal/store/pgstore"
	"github.com/you/flash-arb/internal/store/redisstore"
	"github.com/you/flash-arb/internal/wallet"
	"go.uber.org/zap"
)

func parseFlags() (cfgPath, envPath string) {
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to the yaml config")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file")
	flag.Parse()
	return cfgPath, envPath
}

func main() {
	cfgPath, envPath := parseFlags()
	_ = godotenv.Load(envPath) // a missing .env is fine

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := bot.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb := redisfeed.NewClient(cfg)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	venues, err := buildVenues(cfg, rdb)
	if err != nil {
		logger.Fatal("venue setup failed", zap.Error(err))
	}

	lc, _ := cfg.LoanConfig()
	loans, err := flashloan.NewOrchestrator(lc, logger)
	if err != nil {
		logger.Fatal("flash loan setup failed", zap.Error(err))
	}
	sc, _ := cfg.SizingConfig()
	sizer, err := risk.NewSizer(sc)
	if err != nil {
		logger.Fatal("sizer setup failed", zap.Error(err))
	}
	dc, _ := cfg.DistributionConfig()
	ledger, err := profit.NewLedger(dc, logger)
	if err != nil {
		logger.Fatal("ledger setup failed", zap.Error(err))
	}

	byRole, err := cfg.WalletAddresses()
	if err != nil {
		logger.Fatal("wallets", zap.Error(err))
	}
	wallets, err := wallet.NewDirectory(byRole)
	if err != nil {
		logger.Fatal("wallets", zap.Error(err))
	}

	var sub execution.Signer
	if cfg.DryRun {
		logger.Warn("DRY-RUN: atomic units are hashed and logged, never broadcast")
		sub = signer.NewDryRun(logger)
	} else {
		sub = signer.NewRelay(rdb, cfg.Redis.Stream, cfg.SubmitTimeout(), logger)
	}

	deps := execution.Deps{Venues: venues, Loans: loans, Wallets: wallets, Signer: sub}
	if cfg.Chain.RPCHTTP != "" {
		ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCHTTP)
		if err != nil {
			logger.Fatal("rpc dial failed", zap.Error(err))
		}
		defer ec.Close()
		bals, err := chain.NewBalances(ec)
		if err != nil {
			logger.Fatal("balance reader", zap.Error(err))
		}
		deps.Balances = bals
		if !cfg.DryRun {
			deps.Confirmer = chain.NewConfirmer(ec, wallets, cfg.ConfirmPoll(), logger)
		}
		logBalances(ctx, cfg, ec, bals, wallets, logger)
	} else {
		deps.Balances = redisfeed.NewBalances(rdb, cfg.Redis.QuoteNS)
		logger.Warn("no rpc_http configured: balances come from redis, profits are recorded as estimates")
	}

	executor := execution.NewExecutor(execution.Options{
		UseFlashLoans: cfg.Arbitrage.UseFlashLoans,
		SlippagePct:   cfg.Arbitrage.SlippagePct,
		SubmitTimeout: cfg.SubmitTimeout(),
	}, deps, logger)

	st, err := openStore(ctx, cfg, rdb)
	if err != nil {
		logger.Fatal("state store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}

	board := dash.NewStore()
	engine, err := bot.New(cfg, bot.Deps{
		Venues:   venues,
		Executor: executor,
		Sizer:    sizer,
		Loans:    loans,
		Ledger:   ledger,
		Store:    st,
		Dash:     board,
		Valuer:   bot.NewStableValuer(cfg.Pairs),
	}, logger)
	if err != nil {
		logger.Fatal("engine setup failed", zap.Error(err))
	}

	metrics.Serve(ctx, cfg.Metrics.ListenAddr, nil, func() bool { return engine.Status() == bot.StatusRunning }, logger)
	if cfg.Dash.ListenAddr != "" {
		go dash.StartHTTP(ctx, board, cfg.Dash.ListenAddr, func() any { return engine.Statistics() }, logger)
	}

	if err := engine.Start(ctx); err != nil {
		logger.Fatal("engine start failed", zap.Error(err))
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnHUP(ctx, hup, cfgPath, engine, wallets, logger)

	<-ctx.Done()
	logger.Warn("received signal, shutting down")
	if err := engine.Stop(); err != nil {
		logger.Error("engine stop", zap.Error(err))
	}
	if err := st.Close(); err != nil {
		logger.Warn("state store close", zap.Error(err))
	}
	ps := engine.ProfitStatistics()
	logger.Info("arb-bot finished",
		zap.Uint64("successes", ps.Successes),
		zap.Uint64("failures", ps.Failures),
		zap.String("total_usd", ps.TotalUSD.String()),
	)
}

// buildVenues registers every configured venue with a Redis-fed, time-bounded
// oracle and, when a router is set, a swap builder.
func buildVenues(cfg *config.Config, rdb *redis.Client) (*core.Registry, error) {
	feed := redisfeed.NewFeed(rdb, cfg.Redis.QuoteNS, cfg.MaxQuoteAge())
	reg := core.NewRegistry()
	for _, v := range cfg.Venues {
		ven := &core.Venue{
			ID:     v.ID,
			Quoter: adapters.NewTimedQuoter(v.ID, feed.Venue(v.ID), cfg.QuoteTimeout()),
		}
		if v.Router != "" {
			if !common.IsHexAddress(v.Router) {
				return nil, fmt.Errorf("venue %s: malformed router %q", v.ID, v.Router)
			}
			b, err := adapters.NewRouterBuilder(common.HexToAddress(v.Router))
			if err != nil {
				return nil, err
			}
			ven.Builder = b
		}
		reg.Register(ven)
	}
	return reg, nil
}

// logBalances reports the trading wallet's holdings of every quote token at startup.
func logBalances(ctx context.Context, cfg *config.Config, ec *ethclient.Client, bals *chain.Balances, wallets *wallet.Directory, log *zap.Logger) {
	traders, _ := wallets.WalletsByRole(execution.RoleTrading)
	if len(traders) == 0 {
		log.Warn("no trading wallet configured")
		return
	}
	var mc common.Address
	if cfg.Chain.Multicall != "" {
		mc = common.HexToAddress(cfg.Chain.Multicall)
	}
	agg, err := multicall.New(ec, mc)
	if err != nil {
		log.Warn("multicall setup", zap.Error(err))
		return
	}
	seen := make(map[common.Address]bool)
	var tokens []common.Address
	for _, p := range cfg.TokenPairs() {
		if !seen[p.Quote] {
			seen[p.Quote] = true
			tokens = append(tokens, p.Quote)
		}
	}
	got, err := bals.BalancesOf(ctx, agg, traders[0], tokens)
	if err != nil {
		log.Warn("startup balance check failed", zap.Error(err))
		return
	}
	for tok, v := range got {
		log.Info("trading wallet balance",
			zap.String("wallet", traders[0].Hex()),
			zap.String("token", tok.Hex()),
			zap.Uint64("balance", v),
		)
	}
}

// reloadOnHUP re-reads the config file on every SIGHUP and hot-swaps it into the
// engine and the wallet directory. A bad file keeps the running config.
func reloadOnHUP(ctx context.Context, hup <-chan os.Signal, path string, engine *bot.Bot, wallets *wallet.Directory, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reload(path, engine, wallets); err != nil {
				log.Error("config reload rejected", zap.String("path", path), zap.Error(err))
				continue
			}
			log.Info("config reloaded", zap.String("path", path))
		}
	}
}

func reload(path string, engine *bot.Bot, wallets *wallet.Directory) error {
	next, err := config.Load(path)
	if err != nil {
		return err
	}
	byRole, err := next.WalletAddresses()
	if err != nil {
		return err
	}
	if _, err := wallet.NewDirectory(byRole); err != nil {
		return err
	}
	if err := engine.UpdateConfig(next); err != nil {
		return err
	}
	for name, addrs := range byRole {
		wallets.Set(execution.Role(name), addrs)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return redisstore.New(rdb, cfg.Redis.StateNS), nil
	case "postgres":
		s, err := pgstore.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return store.NewMemory(), nil
	}
}
