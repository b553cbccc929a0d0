package flashloan

import (
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// Config selects the provider statically. FeePct and Program override the
// provider defaults and are mandatory for ProviderCustom.
type Config struct {
	Provider      ProviderID
	MaxLoanAmount uint64
	FeePct        *float64
	Program       common.Address
}

func (c Config) Validate() error {
	if !c.Provider.Valid() {
		return fmt.Errorf("%w: unknown flash loan provider %q", types.ErrConfig, c.Provider)
	}
	if c.MaxLoanAmount == 0 {
		return fmt.Errorf("%w: max loan amount must be positive", types.ErrConfig)
	}
	if c.FeePct != nil && (math.IsNaN(*c.FeePct) || *c.FeePct < 0 || *c.FeePct >= 100) {
		return fmt.Errorf("%w: flash loan fee %.4f%% out of range", types.ErrConfig, *c.FeePct)
	}
	if c.Provider == ProviderCustom && (c.Program == (common.Address{}) || c.FeePct == nil) {
		return fmt.Errorf("%w: custom provider needs program and fee_pct", types.ErrConfig)
	}
	return nil
}

func (c Config) resolve() Provider {
	program, fee := c.Provider.defaults()
	if c.Program != (common.Address{}) {
		program = c.Program
	}
	if c.FeePct != nil {
		fee = *c.FeePct
	}
	return Provider{ID: c.Provider, Program: program, FeePct: decimal.NewFromFloat(fee)}
}

type Quote struct {
	Provider ProviderID
	Program  common.Address
	Amount   uint64
	Fee      uint64
}

// Repay is the amount owed back to the provider.
func (q Quote) Repay() uint64 { return q.Amount + q.Fee }

// Orchestrator prices loans and brackets trade legs with borrow/repay instructions.
type Orchestrator struct {
	mu   sync.RWMutex
	cfg  Config
	prov Provider
	log  *zap.Logger
}

func NewOrchestrator(cfg Config, log *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{cfg: cfg, prov: cfg.resolve(), log: log}, nil
}

func (o *Orchestrator) Provider() Provider {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.prov
}

func (o *Orchestrator) Quote(amount uint64) (Quote, error) {
	cfg, prov := o.snapshot()
	return quote(cfg, prov, amount)
}

func (o *Orchestrator) snapshot() (Config, Provider) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg, o.prov
}

func quote(cfg Config, prov Provider, amount uint64) (Quote, error) {
	if amount == 0 {
		return Quote{}, fmt.Errorf("%w: zero loan amount", types.ErrParameter)
	}
	if amount > cfg.MaxLoanAmount {
		return Quote{}, fmt.Errorf("%w: loan %d exceeds %s maximum %d", types.ErrParameter, amount, prov.ID, cfg.MaxLoanAmount)
	}
	fee := prov.Fee(amount)
	if fee > math.MaxUint64-amount {
		return Quote{}, fmt.Errorf("%w: repay amount overflows", types.ErrParameter)
	}
	return Quote{Provider: prov.ID, Program: prov.Program, Amount: amount, Fee: fee}, nil
}

// BuildBracket returns [borrow(amount), legs..., repay(amount+fee)].
func (o *Orchestrator) BuildBracket(asset, receiver common.Address, amount uint64, legs []types.Instruction) ([]types.Instruction, error) {
	if len(legs) == 0 {
		return nil, fmt.Errorf("%w: no trade legs to bracket", types.ErrParameter)
	}
	cfg, prov := o.snapshot()
	q, err := quote(cfg, prov, amount)
	if err != nil {
		return nil, err
	}

	borrow, err := prov.BuildBorrow(asset, receiver, q.Amount)
	if err != nil {
		return nil, err
	}
	repay, err := prov.BuildRepay(asset, q.Repay())
	if err != nil {
		return nil, err
	}

	out := make([]types.Instruction, 0, len(legs)+2)
	out = append(out, borrow)
	out = append(out, legs...)
	out = append(out, repay)

	o.log.Debug("flash loan bracket",
		zap.String("provider", string(q.Provider)),
		zap.Uint64("amount", q.Amount),
		zap.Uint64("fee", q.Fee),
		zap.Int("legs", len(legs)),
	)
	return out, nil
}

// UpdateConfig swaps the provider. Invalid configs leave the current one in place.
func (o *Orchestrator) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	prov := cfg.resolve()
	o.mu.Lock()
	o.cfg, o.prov = cfg, prov
	o.mu.Unlock()
	return nil
}
