package flashloan

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/you/flash-arb/internal/types"
)

type ProviderID string

const (
	ProviderAaveV3     ProviderID = "aave_v3"
	ProviderBalancerV2 ProviderID = "balancer_v2"
	ProviderCustom     ProviderID = "custom"
)

// Arbitrum One deployments.
var (
	aavePool      = common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD")
	balancerVault = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
)

func (id ProviderID) Valid() bool {
	switch id {
	case ProviderAaveV3, ProviderBalancerV2, ProviderCustom:
		return true
	}
	return false
}

func (id ProviderID) defaults() (program common.Address, feePct float64) {
	switch id {
	case ProviderAaveV3:
		return aavePool, 0.05
	case ProviderBalancerV2:
		return balancerVault, 0
	}
	return common.Address{}, 0
}

const loanABI = `[
  {"name":"flashBorrow","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"receiver","type":"address"}],
   "outputs":[]},
  {"name":"flashRepay","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[]}
]`

var parsedLoanABI = mustParse(loanABI)

func mustParse(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// Provider is one flash-loan source resolved from configuration.
type Provider struct {
	ID      ProviderID
	Program common.Address
	FeePct  decimal.Decimal
}

// Fee is floor(amount * FeePct / 100).
func (p Provider) Fee(amount uint64) uint64 {
	f := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0).
		Mul(p.FeePct).
		Div(decimal.NewFromInt(100)).
		Floor()
	return f.BigInt().Uint64()
}

func (p Provider) BuildBorrow(asset, receiver common.Address, amount uint64) (types.Instruction, error) {
	data, err := parsedLoanABI.Pack("flashBorrow", asset, new(big.Int).SetUint64(amount), receiver)
	if err != nil {
		return types.Instruction{}, fmt.Errorf("%w: pack borrow: %v", types.ErrParameter, err)
	}
	return types.Instruction{Kind: types.KindBorrow, Program: p.Program, Data: data, Amount: amount}, nil
}

func (p Provider) BuildRepay(asset common.Address, amount uint64) (types.Instruction, error) {
	data, err := parsedLoanABI.Pack("flashRepay", asset, new(big.Int).SetUint64(amount))
	if err != nil {
		return types.Instruction{}, fmt.Errorf("%w: pack repay: %v", types.ErrParameter, err)
	}
	return types.Instruction{Kind: types.KindRepay, Program: p.Program, Data: data, Amount: amount}, nil
}
