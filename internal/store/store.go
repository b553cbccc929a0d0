// Package store persists sizing and ledger state across restarts.
package store

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/profit"
	"github.com/you/flash-arb/internal/risk"
	"github.com/you/flash-arb/internal/types"
	"golang.org/x/sync/errgroup"
)

type Positions = map[types.TokenPair]risk.PositionState

// Store is the load/save contract for per-pair positions and the per-token ledger.
// Save calls replace the stored state; loads of an empty store return empty state.
type Store interface {
	SavePositions(ctx context.Context, p Positions) error
	LoadPositions(ctx context.Context) (Positions, error)
	SaveLedger(ctx context.Context, s profit.Snapshot) error
	LoadLedger(ctx context.Context) (profit.Snapshot, error)
	Close() error
}

// SaveAll writes both halves concurrently.
func SaveAll(ctx context.Context, st Store, p Positions, l profit.Snapshot) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.SavePositions(ctx, p) })
	g.Go(func() error { return st.SaveLedger(ctx, l) })
	return g.Wait()
}

// LoadAll reads both halves concurrently.
func LoadAll(ctx context.Context, st Store) (Positions, profit.Snapshot, error) {
	var (
		p Positions
		l profit.Snapshot
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		p, err = st.LoadPositions(ctx)
		return err
	})
	g.Go(func() (err error) {
		l, err = st.LoadLedger(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, profit.Snapshot{}, err
	}
	return p, l, nil
}

// Memory keeps state in process. It backs the "none" backend and tests.
type Memory struct {
	mu        sync.Mutex
	positions Positions
	ledger    profit.Snapshot
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) SavePositions(_ context.Context, p Positions) error {
	cp := make(Positions, len(p))
	for k, v := range p {
		cp[k] = v
	}
	m.mu.Lock()
	m.positions = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadPositions(context.Context) (Positions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(Positions, len(m.positions))
	for k, v := range m.positions {
		cp[k] = v
	}
	return cp, nil
}

func (m *Memory) SaveLedger(_ context.Context, s profit.Snapshot) error {
	s = copyLedger(s)
	m.mu.Lock()
	m.ledger = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadLedger(context.Context) (profit.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyLedger(m.ledger), nil
}

func (m *Memory) Close() error { return nil }

func copyLedger(s profit.Snapshot) profit.Snapshot {
	cp := profit.Snapshot{
		Accounts:    make(map[common.Address]profit.Account, len(s.Accounts)),
		TotalNative: s.TotalNative,
		TotalUSD:    s.TotalUSD,
	}
	for k, v := range s.Accounts {
		cp.Accounts[k] = v
	}
	return cp
}
