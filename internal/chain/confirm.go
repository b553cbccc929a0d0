package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/you/flash-arb/internal/execution"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// Receipts is the part of ethclient.Client the confirmer needs.
type Receipts interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Confirmer waits for a submitted unit to be mined and measures the net flow of
// the pair's quote token into the trading wallet.
type Confirmer struct {
	r       Receipts
	wallets execution.WalletDirectory
	poll    time.Duration
	log     *zap.Logger
}

func NewConfirmer(r Receipts, wallets execution.WalletDirectory, poll time.Duration, log *zap.Logger) *Confirmer {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Confirmer{r: r, wallets: wallets, poll: poll, log: log}
}

func (c *Confirmer) Confirm(ctx context.Context, txRef string, opp types.Opportunity) (uint64, error) {
	b, err := hexutil.Decode(txRef)
	if err != nil || len(b) != common.HashLength {
		return 0, fmt.Errorf("%w: %q is not a transaction hash", types.ErrParameter, txRef)
	}
	wallets, err := c.wallets.WalletsByRole(execution.RoleTrading)
	if err != nil {
		return 0, err
	}
	if len(wallets) == 0 {
		return 0, fmt.Errorf("%w: no trading wallet", types.ErrConfig)
	}

	rcpt, err := c.wait(ctx, common.BytesToHash(b))
	if err != nil {
		return 0, err
	}
	if rcpt.Status != gethtypes.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("%w: %s reverted in block %v", types.ErrTransaction, txRef, rcpt.BlockNumber)
	}

	net := NetTransfer(rcpt.Logs, opp.Pair.Quote, wallets[0])
	if net.Sign() <= 0 {
		c.log.Warn("settled without profit", zap.String("tx", txRef), zap.String("net", net.String()))
		return 0, nil
	}
	if !net.IsUint64() {
		return 0, fmt.Errorf("%w: realised profit overflows", types.ErrProvider)
	}
	return net.Uint64(), nil
}

func (c *Confirmer) wait(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	tick := time.NewTicker(c.poll)
	defer tick.Stop()
	for {
		rcpt, err := c.r.TransactionReceipt(ctx, hash)
		if err == nil {
			return rcpt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, types.AsRPC("receipt "+hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, types.AsRPC("receipt "+hash.Hex(), ctx.Err())
		case <-tick.C:
		}
	}
}

// NetTransfer sums ERC-20 Transfer events of token into holder minus those out of it.
func NetTransfer(logs []*gethtypes.Log, token, holder common.Address) *big.Int {
	net := new(big.Int)
	for _, l := range logs {
		if l.Address != token || len(l.Topics) != 3 || l.Topics[0] != transferTopic {
			continue
		}
		from := common.BytesToAddress(l.Topics[1].Bytes())
		to := common.BytesToAddress(l.Topics[2].Bytes())
		amt := new(big.Int).SetBytes(l.Data)
		if to == holder {
			net.Add(net, amt)
		}
		if from == holder {
			net.Sub(net, amt)
		}
	}
	return net
}
