package multicall

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/types"
)

type callerFunc func(msg ethereum.CallMsg) ([]byte, error)

func (f callerFunc) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f(msg)
}

func TestAggregate(t *testing.T) {
	var agg *Aggregator
	caller := callerFunc(func(msg ethereum.CallMsg) ([]byte, error) {
		require.NotNil(t, msg.To)
		assert.Equal(t, DefaultAddress, *msg.To)
		assert.True(t, bytes.HasPrefix(msg.Data, agg.abi.Methods["aggregate"].ID))
		return agg.abi.Methods["aggregate"].Outputs.Pack(big.NewInt(42), [][]byte{{0x01}, {0x02, 0x03}})
	})
	agg, err := New(caller, common.Address{})
	require.NoError(t, err)

	block, data, err := agg.Aggregate(context.Background(), []Call{
		{Target: common.HexToAddress("0x01"), CallData: []byte{0xaa}},
		{Target: common.HexToAddress("0x02"), CallData: []byte{0xbb}},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), block)
	assert.Equal(t, [][]byte{{0x01}, {0x02, 0x03}}, data)
}

func TestAggregate_Errors(t *testing.T) {
	agg, err := New(callerFunc(func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("connection refused")
	}), common.Address{})
	require.NoError(t, err)
	_, _, err = agg.Aggregate(context.Background(), []Call{{Target: common.HexToAddress("0x01")}})
	assert.ErrorIs(t, err, types.ErrRPC)

	var short *Aggregator
	short, err = New(callerFunc(func(ethereum.CallMsg) ([]byte, error) {
		return short.abi.Methods["aggregate"].Outputs.Pack(big.NewInt(1), [][]byte{{0x01}})
	}), common.Address{})
	require.NoError(t, err)
	_, _, err = short.Aggregate(context.Background(), []Call{{}, {}})
	assert.ErrorIs(t, err, types.ErrProvider)

	_, data, err := short.Aggregate(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, data)
}
