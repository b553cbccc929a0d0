package types

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrParameter marks an invalid or oversized request (e.g. a loan above the provider maximum).
	ErrParameter = errors.New("parameter error")
	// ErrProvider marks a venue or loan program rejecting the request.
	ErrProvider = errors.New("provider error")
	// ErrTransaction marks a failed or reverted submission.
	ErrTransaction = errors.New("transaction error")
	// ErrRPC marks network failures and timeouts talking to a chain or venue.
	ErrRPC = errors.New("rpc error")
	// ErrConfig marks an inconsistent configuration.
	ErrConfig = errors.New("config error")
)

// Classify returns the taxonomy sentinel err belongs to, or nil for unknown errors.
// Deadlines and cancellations count as RPC failures.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrParameter):
		return ErrParameter
	case errors.Is(err, ErrConfig):
		return ErrConfig
	case errors.Is(err, ErrProvider):
		return ErrProvider
	case errors.Is(err, ErrTransaction):
		return ErrTransaction
	case errors.Is(err, ErrRPC),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrRPC
	}
	return nil
}

// AsRPC wraps transport-level failures so they classify as ErrRPC while keeping the cause.
func AsRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrRPC, op, err)
}
