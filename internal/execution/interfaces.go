package execution

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/types"
)

type Role string

const (
	RoleTrading     Role = "trading"
	RoleOperational Role = "operational"
	RoleProfit      Role = "profit"
	RoleOwner       Role = "owner"
)

// Signer submits a set of instructions as one all-or-nothing unit and returns its reference.
type Signer interface {
	SubmitAtomic(ctx context.Context, ins []types.Instruction, signers []common.Address) (string, error)
}

type WalletDirectory interface {
	WalletsByRole(role Role) ([]common.Address, error)
}

// BalanceSource caps direct (unborrowed) trades at what the wallet holds.
type BalanceSource interface {
	Balance(ctx context.Context, owner, token common.Address) (uint64, error)
}

// Confirmer reports the realised profit of a submitted unit once it settles.
type Confirmer interface {
	Confirm(ctx context.Context, txRef string, opp types.Opportunity) (uint64, error)
}

type Loans interface {
	BuildBracket(asset, receiver common.Address, amount uint64, legs []types.Instruction) ([]types.Instruction, error)
}

type Venues interface {
	Get(id core.VenueID) *core.Venue
}
