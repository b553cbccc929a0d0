package wallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/execution"
	"github.com/you/flash-arb/internal/types"
)

func TestDirectory_ByRole(t *testing.T) {
	a := common.HexToAddress("0xaa")
	b := common.HexToAddress("0xbb")
	d, err := NewDirectory(map[string][]common.Address{
		"trading": {a, b},
		"owner":   {b},
	})
	require.NoError(t, err)

	got, err := d.WalletsByRole(execution.RoleTrading)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{a, b}, got)

	got[0] = common.Address{}
	again, _ := d.WalletsByRole(execution.RoleTrading)
	assert.Equal(t, a, again[0], "callers get a copy")

	none, err := d.WalletsByRole(execution.RoleProfit)
	require.NoError(t, err)
	assert.Empty(t, none)

	d.Set(execution.RoleProfit, []common.Address{a})
	got, _ = d.WalletsByRole(execution.RoleProfit)
	assert.Equal(t, []common.Address{a}, got)
}

func TestDirectory_UnknownRole(t *testing.T) {
	_, err := NewDirectory(map[string][]common.Address{"hot": nil})
	assert.ErrorIs(t, err, types.ErrConfig)
}
