package profit

import (
	"bytes"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	imetrics "github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// DistributionConfig splits distributable profit. The three percentages always sum to 100.
type DistributionConfig struct {
	ReinvestPct           uint8
	WithdrawPct           uint8
	ReservePct            uint8
	MinDistributionAmount uint64
	Owner                 common.Address
}

func NewDistributionConfig(reinvest, withdraw, reserve uint8, owner common.Address, minAmount uint64) (DistributionConfig, error) {
	c := DistributionConfig{
		ReinvestPct:           reinvest,
		WithdrawPct:           withdraw,
		ReservePct:            reserve,
		MinDistributionAmount: minAmount,
		Owner:                 owner,
	}
	return c, c.Validate()
}

func (c DistributionConfig) Validate() error {
	if sum := int(c.ReinvestPct) + int(c.WithdrawPct) + int(c.ReservePct); sum != 100 {
		return fmt.Errorf("%w: distribution percentages sum to %d, want 100", types.ErrConfig, sum)
	}
	return nil
}

// Account is the per-token profit record. Totals only grow; Undistributed falls on distribution.
type Account struct {
	Token         common.Address
	TotalProfit   uint64
	Distributed   uint64
	Undistributed uint64
	Successes     uint64
	Failures      uint64
	UpdatedAt     time.Time
}

type Allocation struct {
	Token    common.Address
	Amount   uint64
	Reinvest uint64
	Withdraw uint64
	Reserve  uint64
}

// Distribution aggregates one DistributeProfits call across every qualifying token.
type Distribution struct {
	Distributed uint64
	Reinvested  uint64
	Withdrawn   uint64
	Reserved    uint64
	Allocations []Allocation
	Owner       common.Address
	At          time.Time
}

type Stats struct {
	TotalNative uint64
	TotalUSD    decimal.Decimal
	Successes   uint64
	Failures    uint64
	SuccessRate float64
	TokenCount  int
}

// Snapshot is the persisted form of the ledger.
type Snapshot struct {
	Accounts    map[common.Address]Account
	TotalNative uint64
	TotalUSD    decimal.Decimal
}

type Ledger struct {
	mu          sync.Mutex
	cfg         DistributionConfig
	accounts    map[common.Address]*Account
	totalNative uint64
	totalUSD    decimal.Decimal
	log         *zap.Logger
	now         func() time.Time
}

func NewLedger(cfg DistributionConfig, log *zap.Logger) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		cfg:      cfg,
		accounts: make(map[common.Address]*Account),
		log:      log,
		now:      time.Now,
	}, nil
}

// RecordProfit credits a successful trade. Overflowing totals are rejected before anything changes.
func (l *Ledger) RecordProfit(token common.Address, amount, nativeValue uint64, usdValue decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.accounts[token]
	var total, undistributed uint64
	if acc != nil {
		total, undistributed = acc.TotalProfit, acc.Undistributed
	}
	if amount > math.MaxUint64-total || amount > math.MaxUint64-undistributed || nativeValue > math.MaxUint64-l.totalNative {
		return fmt.Errorf("%w: profit %d overflows ledger for %s", types.ErrParameter, amount, token.Hex())
	}

	acc = l.accountLocked(token)
	acc.TotalProfit += amount
	acc.Undistributed += amount
	acc.Successes++
	acc.UpdatedAt = l.now()
	l.totalNative += nativeValue
	l.totalUSD = l.totalUSD.Add(usdValue)
	return nil
}

func (l *Ledger) RecordFailedTrade(token common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accountLocked(token)
	acc.Failures++
	acc.UpdatedAt = l.now()
}

// DistributeProfits splits the undistributed balance of every token at or above the
// minimum amount. Reserve takes the truncation remainder so the parts sum exactly.
func (l *Ledger) DistributeProfits() Distribution {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := Distribution{Owner: l.cfg.Owner, At: l.now()}
	for _, token := range l.sortedTokensLocked() {
		acc := l.accounts[token]
		if acc.Undistributed == 0 || acc.Undistributed < l.cfg.MinDistributionAmount {
			continue
		}
		a := split(token, acc.Undistributed, l.cfg)
		acc.Distributed += a.Amount
		acc.Undistributed = 0
		acc.UpdatedAt = d.At

		d.Allocations = append(d.Allocations, a)
		d.Distributed += a.Amount
		d.Reinvested += a.Reinvest
		d.Withdrawn += a.Withdraw
		d.Reserved += a.Reserve
	}

	if len(d.Allocations) > 0 {
		imetrics.ProfitDistributed.WithLabelValues("reinvest").Add(float64(d.Reinvested))
		imetrics.ProfitDistributed.WithLabelValues("withdraw").Add(float64(d.Withdrawn))
		imetrics.ProfitDistributed.WithLabelValues("reserve").Add(float64(d.Reserved))
		l.log.Info("profits distributed",
			zap.Int("tokens", len(d.Allocations)),
			zap.Uint64("amount", d.Distributed),
			zap.Uint64("reinvest", d.Reinvested),
			zap.Uint64("withdraw", d.Withdrawn),
			zap.Uint64("reserve", d.Reserved),
			zap.String("owner", d.Owner.Hex()),
		)
	}
	return d
}

func split(token common.Address, amount uint64, cfg DistributionConfig) Allocation {
	amt := new(big.Int).SetUint64(amount)
	pct := func(p uint8) uint64 {
		v := new(big.Int).Mul(amt, big.NewInt(int64(p)))
		return v.Quo(v, big.NewInt(100)).Uint64()
	}
	a := Allocation{Token: token, Amount: amount, Reinvest: pct(cfg.ReinvestPct), Withdraw: pct(cfg.WithdrawPct)}
	a.Reserve = amount - a.Reinvest - a.Withdraw
	return a
}

// Statistics aggregates counts across tokens. With no trades the success rate is 0.
func (l *Ledger) Statistics() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{TotalNative: l.totalNative, TotalUSD: l.totalUSD, TokenCount: len(l.accounts)}
	for _, acc := range l.accounts {
		s.Successes += acc.Successes
		s.Failures += acc.Failures
	}
	if n := s.Successes + s.Failures; n > 0 {
		s.SuccessRate = float64(s.Successes) / float64(n)
	}
	return s
}

// Account returns a copy of the token's record.
func (l *Ledger) Account(token common.Address) (Account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[token]
	if !ok {
		return Account{}, false
	}
	return *acc, true
}

func (l *Ledger) Config() DistributionConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

func (l *Ledger) UpdateConfig(cfg DistributionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Snapshot{
		Accounts:    make(map[common.Address]Account, len(l.accounts)),
		TotalNative: l.totalNative,
		TotalUSD:    l.totalUSD,
	}
	for k, v := range l.accounts {
		s.Accounts[k] = *v
	}
	return s
}

func (l *Ledger) Restore(s Snapshot) {
	accounts := make(map[common.Address]*Account, len(s.Accounts))
	for k, v := range s.Accounts {
		v := v
		v.Token = k
		accounts[k] = &v
	}
	l.mu.Lock()
	l.accounts = accounts
	l.totalNative = s.TotalNative
	l.totalUSD = s.TotalUSD
	l.mu.Unlock()
}

func (l *Ledger) accountLocked(token common.Address) *Account {
	acc, ok := l.accounts[token]
	if !ok {
		acc = &Account{Token: token}
		l.accounts[token] = acc
	}
	return acc
}

func (l *Ledger) sortedTokensLocked() []common.Address {
	out := make([]common.Address, 0, len(l.accounts))
	for k := range l.accounts {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
