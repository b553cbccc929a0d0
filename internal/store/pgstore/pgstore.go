// Package pgstore keeps engine state in PostgreSQL via pgx.
package pgstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/you/flash-arb/internal/profit"
	"github.com/you/flash-arb/internal/risk"
	"github.com/you/flash-arb/internal/store"
	"github.com/you/flash-arb/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Amounts are uint64 and do not fit BIGINT, so they travel as text into NUMERIC columns.
type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return New(pool), nil
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Migrate applies the embedded schema files in name order. They are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("pgstore: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		sql, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("pgstore: read %s: %w", e.Name(), err)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("pgstore: apply %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *Store) SavePositions(ctx context.Context, p store.Positions) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		b.Queue(`DELETE FROM positions`)
		for pair, st := range p {
			b.Queue(`INSERT INTO positions (base, quote, size, baseline, baseline_at)
				VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5)`,
				pair.Base.Hex(), pair.Quote.Hex(), u64(st.Size), u64(st.Baseline), st.BaselineAt)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("pgstore: save positions: %w", err)
		}
		return nil
	})
}

func (s *Store) LoadPositions(ctx context.Context) (store.Positions, error) {
	rows, err := s.pool.Query(ctx, `SELECT base, quote, size::text, baseline::text, baseline_at FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load positions: %w", err)
	}
	defer rows.Close()

	out := make(store.Positions)
	for rows.Next() {
		var (
			base, quote, size, baseline string
			at                          time.Time
		)
		if err := rows.Scan(&base, &quote, &size, &baseline, &at); err != nil {
			return nil, fmt.Errorf("pgstore: scan position: %w", err)
		}
		st := risk.PositionState{BaselineAt: at}
		if st.Size, err = strconv.ParseUint(size, 10, 64); err != nil {
			return nil, fmt.Errorf("pgstore: position size: %w", err)
		}
		if st.Baseline, err = strconv.ParseUint(baseline, 10, 64); err != nil {
			return nil, fmt.Errorf("pgstore: position baseline: %w", err)
		}
		out[types.TokenPair{Base: common.HexToAddress(base), Quote: common.HexToAddress(quote)}] = st
	}
	return out, rows.Err()
}

func (s *Store) SaveLedger(ctx context.Context, snap profit.Snapshot) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		b.Queue(`DELETE FROM profit_accounts`)
		for token, a := range snap.Accounts {
			b.Queue(`INSERT INTO profit_accounts
				(token, total, distributed, undistributed, successes, failures, updated_at)
				VALUES ($1, $2::text::numeric, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6::text::numeric, $7)`,
				token.Hex(), u64(a.TotalProfit), u64(a.Distributed), u64(a.Undistributed),
				u64(a.Successes), u64(a.Failures), a.UpdatedAt)
		}
		b.Queue(`INSERT INTO profit_totals (id, native, usd) VALUES (1, $1::text::numeric, $2::text::numeric)
			ON CONFLICT (id) DO UPDATE SET native = EXCLUDED.native, usd = EXCLUDED.usd`,
			u64(snap.TotalNative), snap.TotalUSD.String())
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("pgstore: save ledger: %w", err)
		}
		return nil
	})
}

func (s *Store) LoadLedger(ctx context.Context) (profit.Snapshot, error) {
	snap := profit.Snapshot{Accounts: make(map[common.Address]profit.Account)}

	rows, err := s.pool.Query(ctx, `SELECT token, total::text, distributed::text, undistributed::text,
		successes::text, failures::text, updated_at FROM profit_accounts`)
	if err != nil {
		return profit.Snapshot{}, fmt.Errorf("pgstore: load ledger: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			token string
			nums  [5]string
			at    time.Time
		)
		if err := rows.Scan(&token, &nums[0], &nums[1], &nums[2], &nums[3], &nums[4], &at); err != nil {
			return profit.Snapshot{}, fmt.Errorf("pgstore: scan account: %w", err)
		}
		var vals [5]uint64
		for i, n := range nums {
			if vals[i], err = strconv.ParseUint(n, 10, 64); err != nil {
				return profit.Snapshot{}, fmt.Errorf("pgstore: account %s: %w", token, err)
			}
		}
		addr := common.HexToAddress(token)
		snap.Accounts[addr] = profit.Account{
			Token:         addr,
			TotalProfit:   vals[0],
			Distributed:   vals[1],
			Undistributed: vals[2],
			Successes:     vals[3],
			Failures:      vals[4],
			UpdatedAt:     at,
		}
	}
	if err := rows.Err(); err != nil {
		return profit.Snapshot{}, err
	}

	var native, usd string
	err = s.pool.QueryRow(ctx, `SELECT native::text, usd::text FROM profit_totals WHERE id = 1`).Scan(&native, &usd)
	switch {
	case err == pgx.ErrNoRows:
		return snap, nil
	case err != nil:
		return profit.Snapshot{}, fmt.Errorf("pgstore: load totals: %w", err)
	}
	if snap.TotalNative, err = strconv.ParseUint(native, 10, 64); err != nil {
		return profit.Snapshot{}, fmt.Errorf("pgstore: native total: %w", err)
	}
	if snap.TotalUSD, err = decimal.NewFromString(usd); err != nil {
		return profit.Snapshot{}, fmt.Errorf("pgstore: usd total: %w", err)
	}
	return snap, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
