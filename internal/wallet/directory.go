package wallet

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/execution"
	"github.com/you/flash-arb/internal/types"
)

// Directory maps roles to addresses from configuration. Keys never pass through it.
type Directory struct {
	mu    sync.RWMutex
	roles map[execution.Role][]common.Address
}

func NewDirectory(byRole map[string][]common.Address) (*Directory, error) {
	d := &Directory{roles: make(map[execution.Role][]common.Address, len(byRole))}
	for name, addrs := range byRole {
		role := execution.Role(name)
		switch role {
		case execution.RoleTrading, execution.RoleOperational, execution.RoleProfit, execution.RoleOwner:
		default:
			return nil, fmt.Errorf("%w: unknown wallet role %q", types.ErrConfig, name)
		}
		d.roles[role] = append([]common.Address(nil), addrs...)
	}
	return d, nil
}

// WalletsByRole returns a copy of the role's addresses; an unconfigured role yields none.
func (d *Directory) WalletsByRole(role execution.Role) ([]common.Address, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]common.Address(nil), d.roles[role]...), nil
}

// Set replaces the addresses of one role. Config reloads go through it.
func (d *Directory) Set(role execution.Role, addrs []common.Address) {
	d.mu.Lock()
	d.roles[role] = append([]common.Address(nil), addrs...)
	d.mu.Unlock()
}
