package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"tokenbank/internal/token"
)

// Submission records one state-changing call accepted by the stub, in order.
type Submission struct {
	Op     string
	Amount token.Amount
	ID     TxID
}

type stubTx struct {
	op     string
	amount token.Amount
	done   chan error
}

// StubClient is an in-memory ledger for tests. It applies confirmed
// transactions to its own balances so round-trip behavior matches a real
// ledger, records submission order, and supports per-operation failure
// injection. With Manual set, confirmations block until Release is called,
// letting tests hold a transaction in flight.
type StubClient struct {
	Manual bool

	mu         sync.Mutex
	balance    token.Amount
	allowance  token.Amount
	seq        int
	pending    map[TxID]*stubTx
	subs       []Submission
	reads      []string
	readErr    map[string]error
	submitErr  map[string]error
	confirmErr map[string]error
}

func NewStubClient() *StubClient {
	return &StubClient{
		pending:    make(map[TxID]*stubTx),
		readErr:    make(map[string]error),
		submitErr:  make(map[string]error),
		confirmErr: make(map[string]error),
	}
}

func (s *StubClient) SetBalance(a token.Amount)   { s.mu.Lock(); s.balance = a; s.mu.Unlock() }
func (s *StubClient) SetAllowance(a token.Amount) { s.mu.Lock(); s.allowance = a; s.mu.Unlock() }

// FailRead makes the named read op ("escrow balance", "allowance") fail until
// cleared with a nil err. Submissions and confirmations have matching knobs.
func (s *StubClient) FailRead(op string, err error)    { s.setErr(s.readErr, op, err) }
func (s *StubClient) FailSubmit(op string, err error)  { s.setErr(s.submitErr, op, err) }
func (s *StubClient) FailConfirm(op string, err error) { s.setErr(s.confirmErr, op, err) }

func (s *StubClient) setErr(m map[string]error, op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(m, op)
		return
	}
	m[op] = err
}

// Submissions returns the ordered record of accepted state-changing calls.
func (s *StubClient) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submission, len(s.subs))
	copy(out, s.subs)
	return out
}

// Reads returns the ordered record of read ops served.
func (s *StubClient) Reads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.reads))
	copy(out, s.reads)
	return out
}

func (s *StubClient) EscrowBalance(_ context.Context, _ string) (token.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, "escrow balance")
	if err := s.readErr["escrow balance"]; err != nil {
		return token.Amount{}, &RemoteReadError{Op: "escrow balance", Err: err}
	}
	return s.balance, nil
}

func (s *StubClient) Allowance(_ context.Context, _, _ string) (token.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, "allowance")
	if err := s.readErr["allowance"]; err != nil {
		return token.Amount{}, &RemoteReadError{Op: "allowance", Err: err}
	}
	return s.allowance, nil
}

func (s *StubClient) SubmitApprove(_ context.Context, _ string, amount token.Amount) (TxID, error) {
	return s.submit(OpApprove, amount)
}

func (s *StubClient) SubmitDeposit(_ context.Context, amount token.Amount) (TxID, error) {
	return s.submit(OpDeposit, amount)
}

func (s *StubClient) SubmitWithdraw(_ context.Context, amount token.Amount) (TxID, error) {
	return s.submit(OpWithdraw, amount)
}

func (s *StubClient) submit(op string, amount token.Amount) (TxID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.submitErr[op]; err != nil {
		return "", &SubmissionError{Op: op, Amount: amount.String(), Err: err}
	}
	s.seq++
	id := TxID(fmt.Sprintf("0xstub%04d", s.seq))
	tx := &stubTx{op: op, amount: amount, done: make(chan error, 1)}
	if !s.Manual {
		tx.done <- s.confirmErr[op]
	}
	s.pending[id] = tx
	s.subs = append(s.subs, Submission{Op: op, Amount: amount, ID: id})
	return id, nil
}

// Release completes a held transaction: nil confirms it, non-nil fails it.
// Only meaningful with Manual set.
func (s *StubClient) Release(id TxID, err error) {
	s.mu.Lock()
	tx := s.pending[id]
	s.mu.Unlock()
	if tx != nil {
		tx.done <- err
	}
}

func (s *StubClient) AwaitConfirmation(ctx context.Context, id TxID) (*Receipt, error) {
	s.mu.Lock()
	tx := s.pending[id]
	s.mu.Unlock()
	if tx == nil {
		return nil, &ConfirmationError{TxID: id, Err: fmt.Errorf("unknown transaction")}
	}

	select {
	case err := <-tx.done:
		if err != nil {
			s.forget(id)
			return nil, &ConfirmationError{TxID: id, Err: err}
		}
	case <-ctx.Done():
		return nil, &ConfirmationError{TxID: id, Err: ctx.Err()}
	}

	s.apply(tx)
	s.forget(id)
	return &Receipt{TxID: id, BlockNumber: 1}, nil
}

func (s *StubClient) forget(id TxID) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// apply mirrors the contract effects of a confirmed transaction.
func (s *StubClient) apply(tx *stubTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch tx.op {
	case OpApprove:
		s.allowance = tx.amount
	case OpDeposit:
		s.balance = s.balance.Add(tx.amount)
		// A saturating allowance is not decremented, matching common ERC-20
		// max-approval behavior.
		if s.allowance.Cmp(token.MaxApproval()) != 0 {
			left := new(big.Int).Sub(s.allowance.BigInt(), tx.amount.BigInt())
			if left.Sign() < 0 {
				left.SetInt64(0)
			}
			s.allowance, _ = token.FromBig(left)
		}
	case OpWithdraw:
		left := new(big.Int).Sub(s.balance.BigInt(), tx.amount.BigInt())
		if left.Sign() < 0 {
			left.SetInt64(0)
		}
		s.balance, _ = token.FromBig(left)
	}
}

func (s *StubClient) Ping(_ context.Context) error { return nil }
