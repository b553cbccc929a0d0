// Package multicall batches read-only contract calls through a Multicall3 deployment.
package multicall

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/types"
)

// DefaultAddress is the canonical Multicall3 deployment, identical on Arbitrum and mainnet.
var DefaultAddress = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const aggregateABI = `[{
  "name": "aggregate",
  "type": "function",
  "stateMutability": "payable",
  "inputs": [{
    "name": "calls",
    "type": "tuple[]",
    "components": [
      {"name": "target",   "type": "address"},
      {"name": "callData", "type": "bytes"}
    ]
  }],
  "outputs": [
    {"name": "blockNumber", "type": "uint256"},
    {"name": "returnData",  "type": "bytes[]"}
  ]
}]`

// Caller is the part of ethclient.Client the aggregator needs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Call struct {
	Target   common.Address
	CallData []byte
}

type Aggregator struct {
	c    Caller
	addr common.Address
	abi  abi.ABI
}

func New(c Caller, addr common.Address) (*Aggregator, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregateABI))
	if err != nil {
		return nil, fmt.Errorf("multicall abi: %w", err)
	}
	if addr == (common.Address{}) {
		addr = DefaultAddress
	}
	return &Aggregator{c: c, addr: addr, abi: parsed}, nil
}

// Aggregate runs calls in one eth_call. The whole batch reverts if any call does,
// so results are positional and complete.
func (a *Aggregator) Aggregate(ctx context.Context, calls []Call) (uint64, [][]byte, error) {
	if len(calls) == 0 {
		return 0, nil, nil
	}
	payload, err := a.abi.Pack("aggregate", calls)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: pack aggregate: %v", types.ErrParameter, err)
	}

	res, err := a.c.CallContract(ctx, ethereum.CallMsg{To: &a.addr, Data: payload}, nil)
	if err != nil {
		return 0, nil, types.AsRPC("call aggregate", err)
	}

	var out struct {
		BlockNumber *big.Int
		ReturnData  [][]byte
	}
	if err := a.abi.UnpackIntoInterface(&out, "aggregate", res); err != nil {
		return 0, nil, fmt.Errorf("%w: unpack aggregate: %v", types.ErrProvider, err)
	}
	if len(out.ReturnData) != len(calls) {
		return 0, nil, fmt.Errorf("%w: aggregate returned %d results for %d calls", types.ErrProvider, len(out.ReturnData), len(calls))
	}
	return out.BlockNumber.Uint64(), out.ReturnData, nil
}
