// Package chain reads settlement data from an EVM node: token balances and
// transaction receipts.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/you/flash-arb/internal/multicall"
	"github.com/you/flash-arb/internal/types"
)

const erc20ABI = `[
  {"inputs":[{"name":"account","type":"address"}],"name":"balanceOf",
   "outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Balances reads ERC-20 balances with eth_call.
type Balances struct {
	c   multicall.Caller
	abi abi.ABI
}

func NewBalances(c multicall.Caller) (*Balances, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("erc20 abi: %w", err)
	}
	return &Balances{c: c, abi: parsed}, nil
}

func (b *Balances) Balance(ctx context.Context, owner, token common.Address) (uint64, error) {
	input, err := b.abi.Pack("balanceOf", owner)
	if err != nil {
		return 0, fmt.Errorf("%w: pack balanceOf: %v", types.ErrParameter, err)
	}
	res, err := b.c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return 0, types.AsRPC("balanceOf "+token.Hex(), err)
	}
	return b.decode(token, res)
}

// BalancesOf reads owner's balance of every token in one multicall round trip.
func (b *Balances) BalancesOf(ctx context.Context, agg *multicall.Aggregator, owner common.Address, tokens []common.Address) (map[common.Address]uint64, error) {
	input, err := b.abi.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("%w: pack balanceOf: %v", types.ErrParameter, err)
	}
	calls := make([]multicall.Call, len(tokens))
	for i, tok := range tokens {
		calls[i] = multicall.Call{Target: tok, CallData: input}
	}
	_, data, err := agg.Aggregate(ctx, calls)
	if err != nil {
		return nil, err
	}
	out := make(map[common.Address]uint64, len(tokens))
	for i, tok := range tokens {
		v, err := b.decode(tok, data[i])
		if err != nil {
			return nil, err
		}
		out[tok] = v
	}
	return out, nil
}

func (b *Balances) decode(token common.Address, res []byte) (uint64, error) {
	outs, err := b.abi.Methods["balanceOf"].Outputs.Unpack(res)
	if err != nil || len(outs) == 0 {
		return 0, fmt.Errorf("%w: decode balanceOf %s: %v", types.ErrProvider, token.Hex(), err)
	}
	v, ok := outs[0].(*big.Int)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("%w: balance of %s does not fit uint64", types.ErrProvider, token.Hex())
	}
	return v.Uint64(), nil
}
