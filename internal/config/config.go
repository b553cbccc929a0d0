package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/flashloan"
	"github.com/you/flash-arb/internal/profit"
	"github.com/you/flash-arb/internal/risk"
	"github.com/you/flash-arb/internal/types"
	"gopkg.in/yaml.v3"
)

type PairCfg struct {
	Symbol string `yaml:"symbol"`
	Base   string `yaml:"base"`
	Quote  string `yaml:"quote"`
	// QuoteUSD marks a USD stablecoin quote token; profits in it are valued 1:1.
	QuoteUSD      bool  `yaml:"quote_usd"`
	QuoteDecimals int32 `yaml:"quote_decimals"`
}

type VenueCfg struct {
	ID     core.VenueID `yaml:"id"`
	Router string       `yaml:"router"`
}

type Config struct {
	DryRun   bool   `yaml:"dry_run"`
	LogLevel string `yaml:"log_level"`

	Pairs  []PairCfg  `yaml:"pairs"`
	Venues []VenueCfg `yaml:"venues"`

	Arbitrage struct {
		MinProfitPct            float64 `yaml:"min_profit_pct"`
		MaxPositionSize         uint64  `yaml:"max_position_size"`
		SlippagePct             float64 `yaml:"slippage_pct"`
		UseFlashLoans           bool    `yaml:"use_flash_loans"`
		MaxConcurrentOperations int     `yaml:"max_concurrent_operations"`
		MaxQuoteAgeMs           int     `yaml:"max_quote_age_ms"`
	} `yaml:"arbitrage"`

	FlashLoan struct {
		Provider      flashloan.ProviderID `yaml:"provider"`
		MaxLoanAmount uint64               `yaml:"max_loan_amount"`
		FeePct        *float64             `yaml:"fee_pct"`
		Program       string               `yaml:"program"`
	} `yaml:"flash_loan"`

	Sizing struct {
		RiskLevel       risk.Level `yaml:"risk_level"`
		BaseSize        uint64     `yaml:"base_size"`
		MaxSize         uint64     `yaml:"max_size"`
		GrowthFactor    float64    `yaml:"growth_factor"`
		ReductionFactor float64    `yaml:"reduction_factor"`
		MaxDailyGrowth  float64    `yaml:"max_daily_growth"`
		Adaptive        *bool      `yaml:"adaptive"`
		ProfitScaling   *bool      `yaml:"profit_scaling"`
	} `yaml:"sizing"`

	Distribution struct {
		ReinvestPct uint8  `yaml:"reinvest_pct"`
		WithdrawPct uint8  `yaml:"withdraw_pct"`
		ReservePct  uint8  `yaml:"reserve_pct"`
		MinAmount   uint64 `yaml:"min_amount"`
		Owner       string `yaml:"owner"`
	} `yaml:"distribution"`

	Wallets struct {
		Trading     []string `yaml:"trading"`
		Operational []string `yaml:"operational"`
		Profit      []string `yaml:"profit"`
		Owner       []string `yaml:"owner"`
	} `yaml:"wallets"`

	Timings struct {
		ScanIntervalMs      int `yaml:"scan_interval_ms"`
		QuoteTimeoutMs      int `yaml:"quote_timeout_ms"`
		SubmitTimeoutMs     int `yaml:"submit_timeout_ms"`
		DistributeIntervalS int `yaml:"distribute_interval_s"`
	} `yaml:"timings"`

	Chain struct {
		RPCHTTP       string `yaml:"rpc_http"`
		Multicall     string `yaml:"multicall"`
		ConfirmPollMs int    `yaml:"confirm_poll_ms"`
	} `yaml:"chain"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		QuoteNS  string `yaml:"quote_ns"`
		StateNS  string `yaml:"state_ns"`
		Stream   string `yaml:"stream"`
	} `yaml:"redis"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	Store struct {
		Backend string `yaml:"backend"` // none | redis | postgres
	} `yaml:"store"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Dash struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"dash"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyEnv()
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills zero values. Load calls it; tests building a Config by hand may too.
func (c *Config) ApplyDefaults() {
	if c.Timings.ScanIntervalMs == 0 {
		c.Timings.ScanIntervalMs = 1000
	}
	if c.Timings.QuoteTimeoutMs == 0 {
		c.Timings.QuoteTimeoutMs = 2000
	}
	if c.Timings.SubmitTimeoutMs == 0 {
		c.Timings.SubmitTimeoutMs = 30000
	}
	if c.Arbitrage.MinProfitPct == 0 {
		c.Arbitrage.MinProfitPct = 0.5
	}
	if c.Arbitrage.MaxPositionSize == 0 {
		c.Arbitrage.MaxPositionSize = 1_000_000_000
	}
	if c.Arbitrage.SlippagePct == 0 {
		c.Arbitrage.SlippagePct = 0.5
	}
	if c.Arbitrage.MaxConcurrentOperations == 0 {
		c.Arbitrage.MaxConcurrentOperations = 3
	}
	if c.Arbitrage.MaxQuoteAgeMs == 0 {
		c.Arbitrage.MaxQuoteAgeMs = 5000
	}
	if c.FlashLoan.Provider == "" {
		c.FlashLoan.Provider = flashloan.ProviderAaveV3
	}
	if c.FlashLoan.MaxLoanAmount == 0 {
		c.FlashLoan.MaxLoanAmount = 10_000_000_000
	}
	if c.Sizing.RiskLevel == "" {
		c.Sizing.RiskLevel = risk.Conservative
	}
	if c.Distribution.ReinvestPct == 0 && c.Distribution.WithdrawPct == 0 && c.Distribution.ReservePct == 0 {
		c.Distribution.ReinvestPct, c.Distribution.WithdrawPct = 70, 30
	}
	if c.Distribution.MinAmount == 0 {
		c.Distribution.MinAmount = 1_000_000
	}
	if len(c.Venues) == 0 {
		c.Venues = []VenueCfg{{ID: core.VenueUniswapV3}, {ID: core.VenueSushiV2}, {ID: core.VenueCamelotV2}}
	}
	if c.Redis.QuoteNS == "" {
		c.Redis.QuoteNS = "quote:"
	}
	if c.Redis.StateNS == "" {
		c.Redis.StateNS = "arb:"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "bundle:submit"
	}
	if c.Chain.ConfirmPollMs == 0 {
		c.Chain.ConfirmPollMs = 500
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "none"
	}
}

// applyEnv lets secrets live outside the yaml file.
func (c *Config) applyEnv() {
	if v := os.Getenv("ARB_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("ARB_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("ARB_RPC_HTTP"); v != "" {
		c.Chain.RPCHTTP = v
	}
	if v := os.Getenv("ARB_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
}

// Validate checks everything that can be checked without side effects.
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("%w: no pairs configured", types.ErrConfig)
	}
	for _, p := range c.Pairs {
		if !common.IsHexAddress(p.Base) || !common.IsHexAddress(p.Quote) {
			return fmt.Errorf("%w: pair %q has a malformed token address", types.ErrConfig, p.Symbol)
		}
	}
	if len(c.Venues) < 2 {
		return fmt.Errorf("%w: at least two venues are required", types.ErrConfig)
	}
	for _, v := range c.Venues {
		if !v.ID.Valid() {
			return fmt.Errorf("%w: unknown venue %q", types.ErrConfig, v.ID)
		}
	}
	if !finite(c.Arbitrage.MinProfitPct) || !finite(c.Arbitrage.SlippagePct) {
		return fmt.Errorf("%w: arbitrage percentages must be finite", types.ErrParameter)
	}
	if c.Arbitrage.MinProfitPct < 0 || c.Arbitrage.SlippagePct < 0 || c.Arbitrage.SlippagePct >= 100 {
		return fmt.Errorf("%w: arbitrage percentages out of range", types.ErrParameter)
	}
	if c.Arbitrage.MaxConcurrentOperations < 1 {
		return fmt.Errorf("%w: max_concurrent_operations must be >= 1", types.ErrParameter)
	}
	if _, err := c.LoanConfig(); err != nil {
		return err
	}
	if _, err := c.SizingConfig(); err != nil {
		return err
	}
	if _, err := c.DistributionConfig(); err != nil {
		return err
	}
	if c.Chain.Multicall != "" && !common.IsHexAddress(c.Chain.Multicall) {
		return fmt.Errorf("%w: malformed multicall address", types.ErrConfig)
	}
	switch c.Store.Backend {
	case "none", "redis", "postgres":
	default:
		return fmt.Errorf("%w: unknown store backend %q", types.ErrConfig, c.Store.Backend)
	}
	return nil
}

func (c *Config) TokenPairs() []types.TokenPair {
	out := make([]types.TokenPair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		out = append(out, types.TokenPair{
			Base:  common.HexToAddress(p.Base),
			Quote: common.HexToAddress(p.Quote),
		})
	}
	return out
}

func (c *Config) VenueIDs() []core.VenueID {
	out := make([]core.VenueID, 0, len(c.Venues))
	for _, v := range c.Venues {
		out = append(out, v.ID)
	}
	return out
}

func (c *Config) LoanConfig() (flashloan.Config, error) {
	lc := flashloan.Config{
		Provider:      c.FlashLoan.Provider,
		MaxLoanAmount: c.FlashLoan.MaxLoanAmount,
		FeePct:        c.FlashLoan.FeePct,
	}
	if c.FlashLoan.Program != "" {
		if !common.IsHexAddress(c.FlashLoan.Program) {
			return flashloan.Config{}, fmt.Errorf("%w: malformed flash loan program address", types.ErrConfig)
		}
		lc.Program = common.HexToAddress(c.FlashLoan.Program)
	}
	return lc, lc.Validate()
}

func (c *Config) SizingConfig() (risk.SizingConfig, error) {
	sc, err := risk.Preset(c.Sizing.RiskLevel)
	if err != nil {
		return risk.SizingConfig{}, err
	}
	if c.Sizing.BaseSize != 0 {
		sc.BaseSize = c.Sizing.BaseSize
	}
	if c.Sizing.MaxSize != 0 {
		sc.MaxSize = c.Sizing.MaxSize
	}
	if c.Sizing.GrowthFactor != 0 {
		sc.GrowthFactor = c.Sizing.GrowthFactor
	}
	if c.Sizing.ReductionFactor != 0 {
		sc.ReductionFactor = c.Sizing.ReductionFactor
	}
	if c.Sizing.MaxDailyGrowth != 0 {
		sc.MaxDailyGrowth = c.Sizing.MaxDailyGrowth
	}
	if c.Sizing.Adaptive != nil {
		sc.Adaptive = *c.Sizing.Adaptive
	}
	if c.Sizing.ProfitScaling != nil {
		sc.ProfitScaling = *c.Sizing.ProfitScaling
	}
	return sc, sc.Validate()
}

func (c *Config) DistributionConfig() (profit.DistributionConfig, error) {
	var owner common.Address
	if c.Distribution.Owner != "" {
		if !common.IsHexAddress(c.Distribution.Owner) {
			return profit.DistributionConfig{}, fmt.Errorf("%w: malformed owner address", types.ErrConfig)
		}
		owner = common.HexToAddress(c.Distribution.Owner)
	}
	return profit.NewDistributionConfig(
		c.Distribution.ReinvestPct,
		c.Distribution.WithdrawPct,
		c.Distribution.ReservePct,
		owner,
		c.Distribution.MinAmount,
	)
}

// WalletAddresses parses the configured wallet addresses keyed by role name.
func (c *Config) WalletAddresses() (map[string][]common.Address, error) {
	out := make(map[string][]common.Address, 4)
	for role, list := range map[string][]string{
		"trading":     c.Wallets.Trading,
		"operational": c.Wallets.Operational,
		"profit":      c.Wallets.Profit,
		"owner":       c.Wallets.Owner,
	} {
		for _, a := range list {
			if !common.IsHexAddress(a) {
				return nil, fmt.Errorf("%w: malformed %s wallet %q", types.ErrConfig, role, a)
			}
			out[role] = append(out[role], common.HexToAddress(a))
		}
	}
	return out, nil
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Timings.ScanIntervalMs) * time.Millisecond
}
func (c *Config) QuoteTimeout() time.Duration {
	return time.Duration(c.Timings.QuoteTimeoutMs) * time.Millisecond
}
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Timings.SubmitTimeoutMs) * time.Millisecond
}
func (c *Config) MaxQuoteAge() time.Duration {
	return time.Duration(c.Arbitrage.MaxQuoteAgeMs) * time.Millisecond
}
func (c *Config) ConfirmPoll() time.Duration {
	return time.Duration(c.Chain.ConfirmPollMs) * time.Millisecond
}
func (c *Config) DistributeInterval() time.Duration {
	return time.Duration(c.Timings.DistributeIntervalS) * time.Second
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
