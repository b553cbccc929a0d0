// Package redisstore keeps engine state in Redis hashes under a namespace.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/you/flash-arb/internal/profit"
	"github.com/you/flash-arb/internal/risk"
	"github.com/you/flash-arb/internal/store"
	"github.com/you/flash-arb/internal/types"
)

type Store struct {
	rdb *redis.Client
	ns  string
}

func New(rdb *redis.Client, ns string) *Store {
	if ns == "" {
		ns = "arb:"
	}
	return &Store{rdb: rdb, ns: ns}
}

func (s *Store) positionsKey() string { return s.ns + "positions" }
func (s *Store) accountsKey() string  { return s.ns + "ledger:accounts" }
func (s *Store) totalsKey() string    { return s.ns + "ledger:totals" }

type positionRow struct {
	Size       uint64 `json:"size"`
	Baseline   uint64 `json:"baseline"`
	BaselineMs int64  `json:"baseline_ms"`
}

type accountRow struct {
	Total         uint64 `json:"total"`
	Distributed   uint64 `json:"distributed"`
	Undistributed uint64 `json:"undistributed"`
	Successes     uint64 `json:"successes"`
	Failures      uint64 `json:"failures"`
	UpdatedMs     int64  `json:"updated_ms"`
}

func pairField(p types.TokenPair) string { return p.Base.Hex() + ":" + p.Quote.Hex() }

func (s *Store) SavePositions(ctx context.Context, p store.Positions) error {
	fields := make(map[string]interface{}, len(p))
	for pair, st := range p {
		b, err := json.Marshal(positionRow{Size: st.Size, Baseline: st.Baseline, BaselineMs: st.BaselineAt.UnixMilli()})
		if err != nil {
			return err
		}
		fields[pairField(pair)] = b
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.positionsKey())
		if len(fields) > 0 {
			pipe.HSet(ctx, s.positionsKey(), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: save positions: %w", err)
	}
	return nil
}

func (s *Store) LoadPositions(ctx context.Context) (store.Positions, error) {
	m, err := s.rdb.HGetAll(ctx, s.positionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load positions: %w", err)
	}
	out := make(store.Positions, len(m))
	for field, raw := range m {
		base, quote, ok := strings.Cut(field, ":")
		if !ok || !common.IsHexAddress(base) || !common.IsHexAddress(quote) {
			return nil, fmt.Errorf("redisstore: bad position field %q", field)
		}
		var row positionRow
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("redisstore: decode position %q: %w", field, err)
		}
		out[types.TokenPair{Base: common.HexToAddress(base), Quote: common.HexToAddress(quote)}] = risk.PositionState{
			Size:       row.Size,
			Baseline:   row.Baseline,
			BaselineAt: time.UnixMilli(row.BaselineMs),
		}
	}
	return out, nil
}

func (s *Store) SaveLedger(ctx context.Context, snap profit.Snapshot) error {
	fields := make(map[string]interface{}, len(snap.Accounts))
	for token, a := range snap.Accounts {
		b, err := json.Marshal(accountRow{
			Total:         a.TotalProfit,
			Distributed:   a.Distributed,
			Undistributed: a.Undistributed,
			Successes:     a.Successes,
			Failures:      a.Failures,
			UpdatedMs:     a.UpdatedAt.UnixMilli(),
		})
		if err != nil {
			return err
		}
		fields[token.Hex()] = b
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.accountsKey())
		if len(fields) > 0 {
			pipe.HSet(ctx, s.accountsKey(), fields)
		}
		pipe.HSet(ctx, s.totalsKey(), map[string]interface{}{
			"native": strconv.FormatUint(snap.TotalNative, 10),
			"usd":    snap.TotalUSD.String(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: save ledger: %w", err)
	}
	return nil
}

func (s *Store) LoadLedger(ctx context.Context) (profit.Snapshot, error) {
	var (
		accCmd    *redis.MapStringStringCmd
		totalsCmd *redis.MapStringStringCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		accCmd = pipe.HGetAll(ctx, s.accountsKey())
		totalsCmd = pipe.HGetAll(ctx, s.totalsKey())
		return nil
	})
	if err != nil {
		return profit.Snapshot{}, fmt.Errorf("redisstore: load ledger: %w", err)
	}

	snap := profit.Snapshot{Accounts: make(map[common.Address]profit.Account)}
	for field, raw := range accCmd.Val() {
		if !common.IsHexAddress(field) {
			return profit.Snapshot{}, fmt.Errorf("redisstore: bad ledger field %q", field)
		}
		var row accountRow
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return profit.Snapshot{}, fmt.Errorf("redisstore: decode account %q: %w", field, err)
		}
		token := common.HexToAddress(field)
		snap.Accounts[token] = profit.Account{
			Token:         token,
			TotalProfit:   row.Total,
			Distributed:   row.Distributed,
			Undistributed: row.Undistributed,
			Successes:     row.Successes,
			Failures:      row.Failures,
			UpdatedAt:     time.UnixMilli(row.UpdatedMs),
		}
	}

	totals := totalsCmd.Val()
	if v := totals["native"]; v != "" {
		if snap.TotalNative, err = strconv.ParseUint(v, 10, 64); err != nil {
			return profit.Snapshot{}, fmt.Errorf("redisstore: bad native total: %w", err)
		}
	}
	if v := totals["usd"]; v != "" {
		if snap.TotalUSD, err = decimal.NewFromString(v); err != nil {
			return profit.Snapshot{}, fmt.Errorf("redisstore: bad usd total: %w", err)
		}
	}
	return snap, nil
}

func (s *Store) Close() error { return s.rdb.Close() }
