package ledger

import "fmt"

// RemoteReadError wraps a failed state read. Cached values are retained by the
// caller; the read is not retried.
type RemoteReadError struct {
	Op  string
	Err error
}

func (e *RemoteReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Op, e.Err)
}

func (e *RemoteReadError) Unwrap() error { return e.Err }

// SubmissionError wraps a state-changing call rejected before inclusion. No
// transaction exists to track when this is returned.
type SubmissionError struct {
	Op     string
	Amount string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s %s: %v", e.Op, e.Amount, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmationError wraps a revert, timeout or dropped transaction observed
// while waiting for a receipt.
type ConfirmationError struct {
	TxID TxID
	Err  error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("confirm %s: %v", e.TxID, e.Err)
}

func (e *ConfirmationError) Unwrap() error { return e.Err }
