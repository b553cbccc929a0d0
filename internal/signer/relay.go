package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

const streamMaxLen int64 = 10000

// Relay hands atomic units to an external signing service over a Redis stream
// and waits for its reply on <stream>:reply:<id>.
type Relay struct {
	rdb          redis.Cmdable
	stream       string
	replyTimeout time.Duration
	log          *zap.Logger
}

func NewRelay(rdb redis.Cmdable, stream string, replyTimeout time.Duration, log *zap.Logger) *Relay {
	if stream == "" {
		stream = "bundle:submit"
	}
	if replyTimeout <= 0 {
		replyTimeout = 30 * time.Second
	}
	return &Relay{rdb: rdb, stream: stream, replyTimeout: replyTimeout, log: log}
}

type wireInstruction struct {
	Kind    types.InstructionKind `json:"kind"`
	Program common.Address        `json:"program"`
	Data    hexutil.Bytes         `json:"data"`
	Amount  uint64                `json:"amount"`
}

type relayReply struct {
	Tx    string `json:"tx"`
	Error string `json:"error"`
}

func (r *Relay) SubmitAtomic(ctx context.Context, ins []types.Instruction, signers []common.Address) (string, error) {
	if err := validate(ins, signers); err != nil {
		return "", err
	}
	wire := make([]wireInstruction, len(ins))
	for i, in := range ins {
		wire[i] = wireInstruction{Kind: in.Kind, Program: in.Program, Data: in.Data, Amount: in.Amount}
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("%w: encode unit: %v", types.ErrParameter, err)
	}
	signersJSON, err := json.Marshal(signers)
	if err != nil {
		return "", fmt.Errorf("%w: encode signers: %v", types.ErrParameter, err)
	}

	id := uuid.NewString()
	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":           id,
			"instructions": body,
			"signers":      signersJSON,
			"unit_hash":    UnitHash(ins, signers).Hex(),
		},
	}).Err(); err != nil {
		return "", types.AsRPC("relay xadd "+r.stream, err)
	}
	r.log.Debug("relay: unit queued", zap.String("id", id), zap.Int("instructions", len(ins)))

	wait := r.replyTimeout
	if dl, ok := ctx.Deadline(); ok {
		wait = time.Until(dl)
	}
	replyKey := r.ReplyKey(id)
	res, err := r.rdb.BLPop(ctx, wait, replyKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: no relay reply for %s: %w", types.ErrRPC, id, context.DeadlineExceeded)
	}
	if err != nil {
		return "", types.AsRPC("relay blpop "+replyKey, err)
	}

	var reply relayReply
	if err := json.Unmarshal([]byte(res[1]), &reply); err != nil {
		return "", fmt.Errorf("%w: malformed relay reply: %v", types.ErrProvider, err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("%w: relay: %s", types.ErrTransaction, reply.Error)
	}
	if reply.Tx == "" {
		return "", fmt.Errorf("%w: relay reply without tx reference", types.ErrProvider)
	}
	return reply.Tx, nil
}

func (r *Relay) ReplyKey(id string) string {
	return r.stream + ":reply:" + id
}
