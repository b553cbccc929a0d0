package execution

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/you/flash-arb/internal/dex/core"
	imetrics "github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

type Options struct {
	UseFlashLoans bool
	SlippagePct   float64
	SubmitTimeout time.Duration
}

// Deps are the collaborators an Executor drives. Balances is required only
// without flash loans; Confirmer is optional.
type Deps struct {
	Venues    Venues
	Loans     Loans
	Wallets   WalletDirectory
	Signer    Signer
	Balances  BalanceSource
	Confirmer Confirmer
}

type Executor struct {
	mu   sync.RWMutex
	opts Options
	deps Deps
	log  *zap.Logger
}

func NewExecutor(opts Options, deps Deps, log *zap.Logger) *Executor {
	return &Executor{opts: opts, deps: deps, log: log}
}

func (e *Executor) UpdateOptions(opts Options) {
	e.mu.Lock()
	e.opts = opts
	e.mu.Unlock()
}

func (e *Executor) options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// Execute runs one opportunity to completion. It never returns an error or panics:
// every failure is reported in the result.
func (e *Executor) Execute(ctx context.Context, opp types.Opportunity) (res types.ExecutionResult) {
	start := time.Now()
	res.Opportunity = opp
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Err = fmt.Errorf("%w: panic during execution: %v", types.ErrTransaction, r)
		}
		res.Duration = time.Since(start)
		imetrics.ExecutionLatency.Observe(res.Duration.Seconds())
	}()

	opts := e.options()
	ins, trader, err := e.prepare(ctx, opp, opts)
	if err != nil {
		res.Err = err
		e.log.Warn("execution: prepare failed", zap.String("opp", opp.ID), zap.Error(err))
		return res
	}

	subCtx, cancel := withTimeout(ctx, opts.SubmitTimeout)
	txRef, err := e.deps.Signer.SubmitAtomic(subCtx, ins, []common.Address{trader})
	cancel()
	if err != nil {
		res.Err = classifySubmit(err)
		e.log.Warn("execution: atomic submission failed", zap.String("opp", opp.ID), zap.Error(res.Err))
		return res
	}

	res.TxRef = txRef
	profit, estimated, err := e.realised(ctx, opts, txRef, opp)
	if err != nil {
		res.Err = err
		e.log.Warn("execution: settlement failed", zap.String("opp", opp.ID), zap.String("tx", txRef), zap.Error(err))
		return res
	}
	res.Success = true
	res.ActualProfit, res.ProfitEstimated = profit, estimated

	e.log.Info("EXECUTED",
		zap.String("opp", opp.ID),
		zap.String("pair", opp.Pair.String()),
		zap.String("buy", opp.Buy.Venue),
		zap.String("sell", opp.Sell.Venue),
		zap.String("tx", txRef),
		zap.Uint64("size", opp.MaxTradeSize),
		zap.Uint64("profit", res.ActualProfit),
		zap.Bool("estimated", res.ProfitEstimated),
		zap.Bool("flash_loan", opts.UseFlashLoans),
	)
	return res
}

func (e *Executor) prepare(ctx context.Context, opp types.Opportunity, opts Options) ([]types.Instruction, common.Address, error) {
	wallets, err := e.deps.Wallets.WalletsByRole(RoleTrading)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("resolve trading wallet: %w", err)
	}
	if len(wallets) == 0 {
		return nil, common.Address{}, fmt.Errorf("%w: no trading wallet configured", types.ErrConfig)
	}
	trader := wallets[0]

	amount := opp.MaxTradeSize
	if !opts.UseFlashLoans {
		if e.deps.Balances == nil {
			return nil, trader, fmt.Errorf("%w: direct mode needs a balance source", types.ErrConfig)
		}
		bal, err := e.deps.Balances.Balance(ctx, trader, opp.Pair.Quote)
		if err != nil {
			return nil, trader, types.AsRPC("balance", err)
		}
		amount = min(amount, bal)
	}
	if amount == 0 {
		return nil, trader, fmt.Errorf("%w: nothing to trade", types.ErrParameter)
	}

	legs, err := e.legs(ctx, opp, amount, trader, opts.SlippagePct)
	if err != nil {
		return nil, trader, err
	}
	if !opts.UseFlashLoans {
		return legs, trader, nil
	}
	ins, err := e.deps.Loans.BuildBracket(opp.Pair.Quote, trader, amount, legs)
	if err != nil {
		return nil, trader, err
	}
	return ins, trader, nil
}

// legs buys base with amount quote on the buy venue and sells it back on the sell venue.
func (e *Executor) legs(ctx context.Context, opp types.Opportunity, amount uint64, trader common.Address, slippagePct float64) ([]types.Instruction, error) {
	if opp.Buy.Price <= 0 || opp.Sell.Price <= 0 {
		return nil, fmt.Errorf("%w: non-positive quote price", types.ErrParameter)
	}
	buyVen, err := e.venue(opp.Buy.Venue)
	if err != nil {
		return nil, err
	}
	sellVen, err := e.venue(opp.Sell.Venue)
	if err != nil {
		return nil, err
	}

	keep := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(slippagePct).Div(decimal.NewFromInt(100)))
	baseOut := decimalFromUint(amount).Div(decimal.NewFromFloat(opp.Buy.Price))
	minBase := baseOut.Mul(keep).Floor()
	minQuote := minBase.Mul(decimal.NewFromFloat(opp.Sell.Price)).Mul(keep).Floor()
	if !minBase.IsPositive() {
		return nil, fmt.Errorf("%w: trade too small for price %.8f", types.ErrParameter, opp.Buy.Price)
	}

	buy, err := buyVen.Builder.BuildSwap(ctx, core.SwapParams{
		TokenIn:   opp.Pair.Quote,
		TokenOut:  opp.Pair.Base,
		AmountIn:  amount,
		MinOut:    minBase.BigInt().Uint64(),
		Recipient: trader,
	})
	if err != nil {
		return nil, fmt.Errorf("build buy leg on %s: %w", buyVen.ID, err)
	}
	sell, err := sellVen.Builder.BuildSwap(ctx, core.SwapParams{
		TokenIn:   opp.Pair.Base,
		TokenOut:  opp.Pair.Quote,
		AmountIn:  minBase.BigInt().Uint64(),
		MinOut:    minQuote.BigInt().Uint64(),
		Recipient: trader,
	})
	if err != nil {
		return nil, fmt.Errorf("build sell leg on %s: %w", sellVen.ID, err)
	}
	return []types.Instruction{buy, sell}, nil
}

func (e *Executor) venue(id string) (*core.Venue, error) {
	v := e.deps.Venues.Get(core.VenueID(id))
	if v == nil || v.Builder == nil {
		return nil, fmt.Errorf("%w: venue %q cannot build swaps", types.ErrProvider, id)
	}
	return v, nil
}

// realised asks the Confirmer for settled profit. A reverted or otherwise rejected
// unit is returned as an error; when settlement cannot be observed (RPC failure,
// timeout, no confirmer) the estimate is used and flagged.
func (e *Executor) realised(ctx context.Context, opts Options, txRef string, opp types.Opportunity) (uint64, bool, error) {
	if e.deps.Confirmer != nil {
		cctx, cancel := withTimeout(ctx, opts.SubmitTimeout)
		defer cancel()
		p, err := e.deps.Confirmer.Confirm(cctx, txRef, opp)
		if err == nil {
			return p, false, nil
		}
		if kind := types.Classify(err); kind != nil && kind != types.ErrRPC {
			return 0, false, err
		}
		e.log.Warn("execution: settlement not confirmed; recording estimate",
			zap.String("tx", txRef), zap.Error(err))
	} else {
		e.log.Warn("execution: no confirmer; recording estimated profit",
			zap.String("tx", txRef), zap.Uint64("estimate", opp.EstimatedProfit))
	}
	imetrics.ProfitEstimated.Inc()
	return opp.EstimatedProfit, true, nil
}

func classifySubmit(err error) error {
	if types.Classify(err) != nil {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrTransaction, err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func decimalFromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
