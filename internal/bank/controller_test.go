package bank

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokenbank/internal/ledger"
	"tokenbank/internal/token"

	"github.com/stretchr/testify/require"
)

const (
	testAccount = "0x1111111111111111111111111111111111111111"
	testBank    = "0x2222222222222222222222222222222222222222"
)

type fixture struct {
	stub     *ledger.StubClient
	ctrl     *Controller
	outcomes chan Outcome
}

func newFixture(t *testing.T, manual bool) *fixture {
	t.Helper()
	stub := ledger.NewStubClient()
	stub.Manual = manual
	outcomes := make(chan Outcome, 16)
	ctrl, err := NewController(Config{
		Client:      stub,
		Account:     testAccount,
		BankAddress: testBank,
		Notify:      func(o Outcome) { outcomes <- o },
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)
	return &fixture{stub: stub, ctrl: ctrl, outcomes: outcomes}
}

// await returns the next outcome matching kind, skipping interleaved reports.
func (f *fixture) await(t *testing.T, kind string) Outcome {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case o := <-f.outcomes:
			if o.Kind == kind {
				return o
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s outcome", kind)
		}
	}
}

func TestDepositWithSufficientAllowance(t *testing.T) {
	f := newFixture(t, false)
	f.stub.SetAllowance(amt(t, "1000"))

	require.NoError(t, f.ctrl.RequestDeposit(context.Background(), "100"))

	o := f.await(t, ledger.OpDeposit)
	require.NoError(t, o.Err)

	subs := f.stub.Submissions()
	require.Len(t, subs, 1)
	require.Equal(t, ledger.OpDeposit, subs[0].Op)
	require.Equal(t, "100", subs[0].Amount.String())

	snap := f.ctrl.Snapshot()
	require.True(t, snap.BalanceObserved)
	require.Equal(t, amt(t, "100").Format(), snap.Balance)
	require.False(t, snap.Deposit.Pending)
}

func TestInsufficientAllowanceChainsApproval(t *testing.T) {
	f := newFixture(t, false)
	f.stub.SetAllowance(token.Amount{}) // zero headroom
	f.stub.SetBalance(amt(t, "50"))

	require.NoError(t, f.ctrl.RequestDeposit(context.Background(), "100"))

	require.NoError(t, f.await(t, ledger.OpApprove).Err)
	require.NoError(t, f.await(t, ledger.OpDeposit).Err)

	subs := f.stub.Submissions()
	require.Len(t, subs, 2)
	require.Equal(t, ledger.OpApprove, subs[0].Op)
	require.Zero(t, subs[0].Amount.Cmp(token.MaxApproval()), "approval must request the saturating amount")
	require.Equal(t, ledger.OpDeposit, subs[1].Op)
	require.Equal(t, "100", subs[1].Amount.String())

	snap := f.ctrl.Snapshot()
	require.True(t, snap.BalanceObserved)
	require.Equal(t, amt(t, "150").Format(), snap.Balance)
	require.True(t, snap.HeadroomObserved)
	require.False(t, snap.Deposit.Pending)
}

func TestDepositNeverPrecedesApprovalConfirmation(t *testing.T) {
	f := newFixture(t, true)
	f.stub.SetAllowance(token.Amount{})

	require.NoError(t, f.ctrl.RequestDeposit(context.Background(), "100"))

	subs := f.stub.Submissions()
	require.Len(t, subs, 1)
	require.Equal(t, ledger.OpApprove, subs[0].Op)

	// Only once the approval confirms may the deposit be submitted.
	f.stub.Release(subs[0].ID, nil)
	require.NoError(t, f.await(t, ledger.OpApprove).Err)

	subs = waitForSubmissions(t, f.stub, 2)
	require.Equal(t, ledger.OpDeposit, subs[1].Op)
	f.stub.Release(subs[1].ID, nil)
	require.NoError(t, f.await(t, ledger.OpDeposit).Err)
}

func waitForSubmissions(t *testing.T, stub *ledger.StubClient, n int) []ledger.Submission {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if subs := stub.Submissions(); len(subs) >= n {
			return subs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d submissions", n)
	return nil
}

func TestDuplicateDepositIntentRejected(t *testing.T) {
	f := newFixture(t, true)
	f.stub.SetAllowance(amt(t, "1000"))

	require.NoError(t, f.ctrl.RequestDeposit(context.Background(), "100"))

	err := f.ctrl.RequestDeposit(context.Background(), "100")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, f.stub.Submissions(), 1, "no second submission")

	f.stub.Release(f.stub.Submissions()[0].ID, nil)
	require.NoError(t, f.await(t, ledger.OpDeposit).Err)
}

func TestWithdrawLaneIsIndependentOfDeposit(t *testing.T) {
	f := newFixture(t, true)
	f.stub.SetAllowance(amt(t, "1000"))
	f.stub.SetBalance(amt(t, "500"))

	require.NoError(t, f.ctrl.RequestDeposit(context.Background(), "100"))
	require.NoError(t, f.ctrl.RequestWithdraw(context.Background(), "10"))

	snap := f.ctrl.Snapshot()
	require.True(t, snap.Deposit.Pending)
	require.True(t, snap.Withdraw.Pending)

	for _, sub := range f.stub.Submissions() {
		f.stub.Release(sub.ID, nil)
	}
	require.NoError(t, f.await(t, ledger.OpDeposit).Err)
	require.NoError(t, f.await(t, ledger.OpWithdraw).Err)
}

func TestTwoRapidWithdrawsSecondRejected(t *testing.T) {
	f := newFixture(t, true)
	f.stub.SetBalance(amt(t, "500"))

	require.NoError(t, f.ctrl.RequestWithdraw(context.Background(), "10"))

	err := f.ctrl.RequestWithdraw(context.Background(), "10")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	f.stub.Release(f.stub.Submissions()[0].ID, nil)
	require.NoError(t, f.await(t, ledger.OpWithdraw).Err)
}

func TestInvalidAmountMakesNoLedgerCall(t *testing.T) {
	f := newFixture(t, false)

	for _, amount := range []string{"-5", "abc", "0", ""} {
		var verr *ValidationError
		require.ErrorAs(t, f.ctrl.RequestDeposit(context.Background(), amount), &verr, "deposit %q", amount)
		require.ErrorAs(t, f.ctrl.RequestWithdraw(context.Background(), amount), &verr, "withdraw %q", amount)
	}

	require.Empty(t, f.stub.Reads())
	require.Empty(t, f.stub.Submissions())
}

func TestWithdrawConfirmationFailureLeavesCacheAndFreesLane(t *testing.T) {
	f := newFixture(t, false)
	f.stub.SetBalance(amt(t, "500"))
	require.NoError(t, f.ctrl.Refresh(context.Background()))
	before := f.ctrl.Snapshot().Balance

	f.stub.FailConfirm(ledger.OpWithdraw, errors.New("reverted"))
	require.NoError(t, f.ctrl.RequestWithdraw(context.Background(), "10"))

	o := f.await(t, ledger.OpWithdraw)
	var cerr *ledger.ConfirmationError
	require.ErrorAs(t, o.Err, &cerr)

	snap := f.ctrl.Snapshot()
	require.Equal(t, before, snap.Balance, "cached balance untouched by the failed withdraw")
	require.False(t, snap.Withdraw.Pending)

	// The freed lane accepts the same amount again.
	f.stub.FailConfirm(ledger.OpWithdraw, nil)
	require.NoError(t, f.ctrl.RequestWithdraw(context.Background(), "10"))
	require.NoError(t, f.await(t, ledger.OpWithdraw).Err)
}

func TestSubmissionFailureFreesLaneImmediately(t *testing.T) {
	f := newFixture(t, false)
	f.stub.SetAllowance(amt(t, "1000"))
	f.stub.FailSubmit(ledger.OpDeposit, errors.New("wallet rejected"))

	err := f.ctrl.RequestDeposit(context.Background(), "100")
	var serr *ledger.SubmissionError
	require.ErrorAs(t, err, &serr)
	require.Empty(t, f.stub.Submissions(), "no tracker is created")
	require.False(t, f.ctrl.Snapshot().Deposit.Pending)

	f.stub.FailSubmit(ledger.OpDeposit, nil)
	require.NoError(t, f.ctrl.RequestDeposit(context.Background(), "100"))
	require.NoError(t, f.await(t, ledger.OpDeposit).Err)
}

func TestApprovalFailureAbortsDepositIntent(t *testing.T) {
	f := newFixture(t, false)
	f.stub.SetAllowance(token.Amount{})
	f.stub.FailConfirm(ledger.OpApprove, errors.New("reverted"))

	require.NoError(t, f.ctrl.RequestDeposit(context.Background(), "100"))

	o := f.await(t, ledger.OpApprove)
	var cerr *ledger.ConfirmationError
	require.ErrorAs(t, o.Err, &cerr)

	subs := f.stub.Submissions()
	require.Len(t, subs, 1, "no deposit is auto-retried after a failed approval")
	require.False(t, f.ctrl.Snapshot().Deposit.Pending)
}

func TestRefreshReadFailureRetainsPreviousValue(t *testing.T) {
	f := newFixture(t, false)
	f.stub.SetBalance(amt(t, "500"))
	f.stub.SetAllowance(amt(t, "1000"))
	require.NoError(t, f.ctrl.Refresh(context.Background()))

	f.stub.SetAllowance(amt(t, "2000"))
	f.stub.FailRead("escrow balance", errors.New("node down"))

	err := f.ctrl.Refresh(context.Background())
	var rerr *ledger.RemoteReadError
	require.ErrorAs(t, err, &rerr)

	snap := f.ctrl.Snapshot()
	require.Equal(t, amt(t, "500").Format(), snap.Balance, "previous cached balance retained")
	require.Equal(t, amt(t, "2000").Format(), snap.Headroom, "partial refresh still lands")
}

func TestConfirmedDepositRoundTrip(t *testing.T) {
	f := newFixture(t, false)
	f.stub.SetAllowance(amt(t, "1000"))
	f.stub.SetBalance(amt(t, "250"))
	require.NoError(t, f.ctrl.Refresh(context.Background()))

	require.NoError(t, f.ctrl.RequestDeposit(context.Background(), "100"))
	require.NoError(t, f.await(t, ledger.OpDeposit).Err)

	snap := f.ctrl.Snapshot()
	require.Equal(t, amt(t, "350").Format(), snap.Balance, "balance equals pre-deposit plus amount")
}

func TestDepositProgressStages(t *testing.T) {
	f := newFixture(t, true)
	f.stub.SetAllowance(amt(t, "1000"))

	require.NoError(t, f.ctrl.RequestDeposit(context.Background(), "100"))

	snap := f.ctrl.Snapshot()
	require.True(t, snap.Deposit.Pending)
	require.Contains(t, []string{"submitted", "awaiting confirmation"}, snap.Deposit.Stage)

	f.stub.Release(f.stub.Submissions()[0].ID, nil)
	require.NoError(t, f.await(t, ledger.OpDeposit).Err)
	require.False(t, f.ctrl.Snapshot().Deposit.Pending, "pending indicator cleared on terminal outcome")
}
