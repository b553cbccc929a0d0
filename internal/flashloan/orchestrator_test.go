package flashloan

import (
	"math"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

var (
	usdc     = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	receiver = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func newOrch(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg, zap.NewNop())
	require.NoError(t, err)
	return o
}

func TestQuote_AaveFee(t *testing.T) {
	o := newOrch(t, Config{Provider: ProviderAaveV3, MaxLoanAmount: 10_000_000_000})

	q, err := o.Quote(1_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, ProviderAaveV3, q.Provider)
	assert.Equal(t, aavePool, q.Program)
	assert.Equal(t, uint64(500_000), q.Fee) // 0.05%
	assert.Equal(t, uint64(1_000_500_000), q.Repay())
}

func TestQuote_FeeIsFloored(t *testing.T) {
	fee := 0.3
	o := newOrch(t, Config{Provider: ProviderAaveV3, MaxLoanAmount: 1_000, FeePct: &fee})

	q, err := o.Quote(999)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), q.Fee) // 2.997 -> 2
}

func TestQuote_Rejects(t *testing.T) {
	o := newOrch(t, Config{Provider: ProviderBalancerV2, MaxLoanAmount: 100})

	_, err := o.Quote(101)
	assert.ErrorIs(t, err, types.ErrParameter)
	_, err = o.Quote(0)
	assert.ErrorIs(t, err, types.ErrParameter)

	q, err := o.Quote(100)
	require.NoError(t, err)
	assert.Zero(t, q.Fee)
}

func TestBuildBracket_Order(t *testing.T) {
	o := newOrch(t, Config{Provider: ProviderAaveV3, MaxLoanAmount: 10_000_000_000})
	legs := []types.Instruction{
		{Kind: types.KindSwap, Amount: 1},
		{Kind: types.KindSwap, Amount: 2},
	}

	got, err := o.BuildBracket(usdc, receiver, 1_000_000_000, legs)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, types.KindBorrow, got[0].Kind)
	assert.Equal(t, uint64(1_000_000_000), got[0].Amount)
	assert.Equal(t, legs[0], got[1])
	assert.Equal(t, legs[1], got[2])
	assert.Equal(t, types.KindRepay, got[3].Kind)
	assert.Equal(t, uint64(1_000_500_000), got[3].Amount)
	assert.Equal(t, aavePool, got[3].Program)
	assert.NotEmpty(t, got[0].Data)
}

func TestBuildBracket_Rejects(t *testing.T) {
	o := newOrch(t, Config{Provider: ProviderAaveV3, MaxLoanAmount: 10})

	_, err := o.BuildBracket(usdc, receiver, 5, nil)
	assert.ErrorIs(t, err, types.ErrParameter)

	_, err = o.BuildBracket(usdc, receiver, 11, []types.Instruction{{Kind: types.KindSwap}})
	assert.ErrorIs(t, err, types.ErrParameter)
}

func TestConfig_Validate(t *testing.T) {
	fee := 0.1
	assert.ErrorIs(t, Config{Provider: "dydx", MaxLoanAmount: 1}.Validate(), types.ErrConfig)
	assert.ErrorIs(t, Config{Provider: ProviderAaveV3}.Validate(), types.ErrConfig)
	assert.ErrorIs(t, Config{Provider: ProviderCustom, MaxLoanAmount: 1, FeePct: &fee}.Validate(), types.ErrConfig)
	assert.NoError(t, Config{Provider: ProviderCustom, MaxLoanAmount: 1, FeePct: &fee, Program: receiver}.Validate())

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		bad := bad
		assert.ErrorIs(t, Config{Provider: ProviderAaveV3, MaxLoanAmount: 1, FeePct: &bad}.Validate(), types.ErrConfig)
		_, err := NewOrchestrator(Config{Provider: ProviderAaveV3, MaxLoanAmount: 1, FeePct: &bad}, zap.NewNop())
		assert.ErrorIs(t, err, types.ErrConfig)
	}
}

func TestUpdateConfig(t *testing.T) {
	o := newOrch(t, Config{Provider: ProviderAaveV3, MaxLoanAmount: 100})

	assert.Error(t, o.UpdateConfig(Config{Provider: ProviderCustom, MaxLoanAmount: 100}))
	assert.Equal(t, ProviderAaveV3, o.Provider().ID)

	require.NoError(t, o.UpdateConfig(Config{Provider: ProviderBalancerV2, MaxLoanAmount: 1_000}))
	q, err := o.Quote(500)
	require.NoError(t, err)
	assert.Equal(t, ProviderBalancerV2, q.Provider)
	assert.Equal(t, balancerVault, q.Program)
}

func TestBuildBracket_ConsistentUnderConfigSwap(t *testing.T) {
	aave := Config{Provider: ProviderAaveV3, MaxLoanAmount: 10_000_000_000}
	balancer := Config{Provider: ProviderBalancerV2, MaxLoanAmount: 10_000_000_000}
	o := newOrch(t, aave)
	legs := []types.Instruction{{Kind: types.KindSwap, Amount: 1}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				_ = o.UpdateConfig(balancer)
			} else {
				_ = o.UpdateConfig(aave)
			}
		}
	}()

	for i := 0; i < 500; i++ {
		got, err := o.BuildBracket(usdc, receiver, 1_000_000_000, legs)
		require.NoError(t, err)
		borrow, repay := got[0], got[len(got)-1]
		require.Equal(t, borrow.Program, repay.Program)
		switch repay.Program {
		case aavePool:
			assert.Equal(t, uint64(1_000_500_000), repay.Amount)
		case balancerVault:
			assert.Equal(t, uint64(1_000_000_000), repay.Amount)
		default:
			t.Fatalf("unexpected program %s", repay.Program.Hex())
		}
	}
	wg.Wait()
}
