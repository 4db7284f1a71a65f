package bank

import "tokenbank/internal/token"

// Decision is the outcome of an authorization check.
type Decision struct {
	Sufficient bool
}

// Decide reports whether the current allowance headroom covers the requested
// deposit. A nil headroom means the allowance has never been observed and is
// treated as insufficient, forcing an approval before the deposit rather than
// submitting a transfer the ledger would reject.
func Decide(headroom *token.Amount, requested token.Amount) Decision {
	if headroom == nil {
		return Decision{Sufficient: false}
	}
	return Decision{Sufficient: headroom.Cmp(requested) >= 0}
}

// ApprovalAmount is the amount every approval requests: the saturating
// maximum, so one approval covers future deposits without re-approving each
// time. Deliberate amortization, not tied to the requested amount.
func ApprovalAmount() token.Amount {
	return token.MaxApproval()
}
