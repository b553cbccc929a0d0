package signer

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

// DryRun never broadcasts. It logs the atomic unit and returns a deterministic
// reference derived from its contents.
type DryRun struct {
	log *zap.Logger
}

func NewDryRun(log *zap.Logger) *DryRun { return &DryRun{log: log} }

func (d *DryRun) SubmitAtomic(ctx context.Context, ins []types.Instruction, signers []common.Address) (string, error) {
	if err := validate(ins, signers); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", types.AsRPC("dry-run submit", err)
	}
	ref := UnitHash(ins, signers).Hex()
	d.log.Info("dry run: atomic unit not broadcast",
		zap.String("ref", ref),
		zap.Int("instructions", len(ins)),
		zap.String("signer", signers[0].Hex()),
	)
	return ref, nil
}

// UnitHash is keccak256 over every instruction and signer in order.
func UnitHash(ins []types.Instruction, signers []common.Address) common.Hash {
	parts := make([][]byte, 0, len(ins)*4+len(signers))
	for _, in := range ins {
		var amt [8]byte
		binary.BigEndian.PutUint64(amt[:], in.Amount)
		parts = append(parts, []byte(in.Kind), in.Program.Bytes(), amt[:], in.Data)
	}
	for _, s := range signers {
		parts = append(parts, s.Bytes())
	}
	return crypto.Keccak256Hash(parts...)
}

func validate(ins []types.Instruction, signers []common.Address) error {
	if len(ins) == 0 {
		return fmt.Errorf("%w: empty atomic unit", types.ErrParameter)
	}
	if len(signers) == 0 {
		return fmt.Errorf("%w: no required signers", types.ErrParameter)
	}
	return nil
}
