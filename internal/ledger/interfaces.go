package ledger

import (
	"context"

	"tokenbank/internal/token"
)

// TxID identifies a submitted transaction (hex transaction hash).
type TxID string

// Receipt is the confirmation the ledger reports for a mined transaction.
type Receipt struct {
	TxID        TxID
	BlockNumber uint64
}

// Operation kinds, used in errors and journal entries.
const (
	OpApprove  = "approve"
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
)

// Client abstracts the two on-chain contracts the controller talks to: the
// ERC-20 token (allowance, approvals) and the bank escrow (deposits,
// withdrawals, escrowed balance).
type Client interface {
	// EscrowBalance reads the account's balance held by the bank contract.
	EscrowBalance(ctx context.Context, account string) (token.Amount, error)
	// Allowance reads how much the spender may still pull from owner's tokens.
	Allowance(ctx context.Context, owner, spender string) (token.Amount, error)

	SubmitApprove(ctx context.Context, spender string, amount token.Amount) (TxID, error)
	SubmitDeposit(ctx context.Context, amount token.Amount) (TxID, error)
	SubmitWithdraw(ctx context.Context, amount token.Amount) (TxID, error)

	// AwaitConfirmation blocks until the transaction is mined or fails. A
	// reverted transaction is a *ConfirmationError, not a receipt.
	AwaitConfirmation(ctx context.Context, id TxID) (*Receipt, error)
}

// HealthChecker is optionally implemented by clients that can probe the node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
