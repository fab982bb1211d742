// Package engineerr defines the error taxonomy of spec.md §7. Every
// executor and engine component returns one of these typed errors
// instead of a bare fmt.Errorf, so the RPC edge and the matching edge
// can branch on kind without string-matching — the same contract the
// teacher keeps informally via its "%w"-wrapped fmt.Errorf chains in
// pkg/app/core/account_manager.go, generalized into named types.
package engineerr

import "fmt"

// DepositExecutionError wraps a precondition or state failure in the
// deposit executor (spec.md §4.D Deposit).
type DepositExecutionError struct {
	Reason string
	Cause  error
}

func (e *DepositExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("deposit execution failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("deposit execution failed: %s", e.Reason)
}
func (e *DepositExecutionError) Unwrap() error { return e.Cause }

// WithdrawalExecutionError mirrors DepositExecutionError for §4.D Withdrawal.
type WithdrawalExecutionError struct {
	Reason string
	Cause  error
}

func (e *WithdrawalExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("withdrawal execution failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("withdrawal execution failed: %s", e.Reason)
}
func (e *WithdrawalExecutionError) Unwrap() error { return e.Cause }

// SwapExecutionError is returned by the spot-swap executor. InvalidOrderID,
// when set, tells the matching edge (§7) which of the two orders caused
// the failure: nil means neither order is at fault (e.g. a tree I/O
// error), a non-nil value names the order the edge should cancel —
// matching the same id on both sides means cancel both, a differing id
// means retain the other order and retry matching.
type SwapExecutionError struct {
	Reason         string
	InvalidOrderID *uint64
	Cause          error
}

func (e *SwapExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("swap execution failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("swap execution failed: %s", e.Reason)
}
func (e *SwapExecutionError) Unwrap() error { return e.Cause }

// PerpSwapExecutionError mirrors SwapExecutionError for perpetual swaps.
type PerpSwapExecutionError struct {
	Reason         string
	InvalidOrderID *uint64
	Cause          error
}

func (e *PerpSwapExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("perp swap execution failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("perp swap execution failed: %s", e.Reason)
}
func (e *PerpSwapExecutionError) Unwrap() error { return e.Cause }

// OracleUpdateError is non-fatal per spec.md §4.G/§7: the caller drops
// the offending update and retains the last good index price.
type OracleUpdateError struct {
	Token  uint32
	Reason string
	Cause  error
}

func (e *OracleUpdateError) Error() string {
	return fmt.Sprintf("oracle update rejected for token %d: %s", e.Token, e.Reason)
}
func (e *OracleUpdateError) Unwrap() error { return e.Cause }

// BatchFinalizationError is returned when (H) finalize_batch fails;
// §7 requires the in-memory updated-set to be rolled back so the
// caller can retry.
type BatchFinalizationError struct {
	Reason string
	Cause  error
}

func (e *BatchFinalizationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("batch finalization failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("batch finalization failed: %s", e.Reason)
}
func (e *BatchFinalizationError) Unwrap() error { return e.Cause }

// TreeIOError is the backing-store failure (C) escalates into a
// BatchFinalizationError at the caller (spec.md §4.C).
type TreeIOError struct {
	Op    string
	Cause error
}

func (e *TreeIOError) Error() string {
	return fmt.Sprintf("state tree I/O error during %s: %v", e.Op, e.Cause)
}
func (e *TreeIOError) Unwrap() error { return e.Cause }

// RestoreError covers a failure while replaying a batch's micro-batch
// log back into a state tree (spec.md §4.I): a malformed record, an
// unrecognized transaction_type, or a leaf mutation that could not be
// derived from the logged payload.
type RestoreError struct {
	TxType string
	Reason string
	Cause  error
}

func (e *RestoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("restore failed on %q record: %s: %v", e.TxType, e.Reason, e.Cause)
	}
	return fmt.Sprintf("restore failed on %q record: %s", e.TxType, e.Reason)
}
func (e *RestoreError) Unwrap() error { return e.Cause }

// GrpcDecodeError covers malformed wire input at the RPC edge.
type GrpcDecodeError struct {
	Method string
	Cause  error
}

func (e *GrpcDecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s request: %v", e.Method, e.Cause)
}
func (e *GrpcDecodeError) Unwrap() error { return e.Cause }
