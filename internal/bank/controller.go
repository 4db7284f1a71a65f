package bank

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tokenbank/internal/history"
	"tokenbank/internal/ledger"
	"tokenbank/internal/token"
)

// ValidationError rejects a request before any remote call is made: malformed
// or non-positive amount, or an intent already occupying the lane. LaneBusy
// distinguishes the latter so callers can map it separately.
type ValidationError struct {
	Op       string
	Reason   string
	LaneBusy bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
}

// Outcome reports a terminal event (or a surfaced failure) to the
// presentation layer. Err is nil on success.
type Outcome struct {
	Kind   string
	Amount string
	TxID   ledger.TxID
	Err    error
}

// Notifier receives terminal outcomes. Called outside the controller lock.
type Notifier func(Outcome)

// intent is one pending operation occupying a lane, from user action until
// its tracker reaches a terminal state.
type intent struct {
	kind    string
	amount  token.Amount
	tracker *Tracker
}

// LaneStatus is the presentation view of one lane.
type LaneStatus struct {
	Pending bool   `json:"pending"`
	Kind    string `json:"kind,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Stage   string `json:"stage,omitempty"`
	TxID    string `json:"txId,omitempty"`
}

// Snapshot is a copy of the controller's cached view state.
type Snapshot struct {
	Account          string     `json:"account"`
	Balance          string     `json:"balance"`
	BalanceObserved  bool       `json:"balanceObserved"`
	Headroom         string     `json:"headroom"`
	HeadroomObserved bool       `json:"headroomObserved"`
	Deposit          LaneStatus `json:"deposit"`
	Withdraw         LaneStatus `json:"withdraw"`
}

// Config wires a Controller.
type Config struct {
	Client  ledger.Client
	Journal history.Store // optional; defaults to an in-memory journal
	Notify  Notifier      // optional
	Account string
	// BankAddress is the escrow contract, i.e. the allowance spender.
	BankAddress string
}

// Controller drives the deposit/withdraw orchestration. It owns the cached
// balance and allowance headroom: both are overwritten only after a confirmed
// read, never speculatively on submission. Two lanes serialize intents: the
// approve+deposit chain shares one, withdrawals use the other. The
// one-intent-per-lane rule, not finer locking, is what keeps each cached
// field's mutations ordered.
type Controller struct {
	client  ledger.Client
	journal history.Store
	notify  Notifier
	account string
	spender string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	balance      *token.Amount
	headroom     *token.Amount
	depositLane  *intent
	withdrawLane *intent
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.Client == nil {
		return nil, errors.New("ledger client is required")
	}
	if cfg.Account == "" {
		return nil, errors.New("account is required")
	}
	if cfg.BankAddress == "" {
		return nil, errors.New("bank address is required")
	}
	journal := cfg.Journal
	if journal == nil {
		journal = history.NewMemoryStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		client:  cfg.Client,
		journal: journal,
		notify:  cfg.Notify,
		account: cfg.Account,
		spender: cfg.BankAddress,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Close stops waiting on in-flight confirmations and blocks until the
// continuation goroutines have drained.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

// RequestDeposit validates the amount, occupies the deposit lane, and either
// submits the deposit directly or chains an approval first when the allowance
// headroom does not cover the amount.
func (c *Controller) RequestDeposit(ctx context.Context, amountStr string) error {
	amount, err := token.ParsePositive(amountStr)
	if err != nil {
		return &ValidationError{Op: ledger.OpDeposit, Reason: err.Error()}
	}

	in, err := c.occupy(&c.depositLane, ledger.OpDeposit, amount)
	if err != nil {
		return err
	}

	// Resolve headroom for the policy check. The cached value is used when
	// present; an allowance that has never been observed is read now.
	c.mu.Lock()
	headroom := c.headroom
	c.mu.Unlock()
	if headroom == nil {
		h, err := c.client.Allowance(ctx, c.account, c.spender)
		if err != nil {
			c.free(&c.depositLane)
			c.report(Outcome{Kind: ledger.OpDeposit, Amount: amount.String(), Err: err})
			return err
		}
		c.setHeadroom(h)
		headroom = &h
	}

	if !Decide(headroom, amount).Sufficient {
		return c.submitApprove(ctx, in)
	}
	return c.submitDeposit(ctx, in)
}

// RequestWithdraw validates the amount, occupies the withdraw lane, and
// submits directly: returning the user's own escrowed funds needs no
// allowance.
func (c *Controller) RequestWithdraw(ctx context.Context, amountStr string) error {
	amount, err := token.ParsePositive(amountStr)
	if err != nil {
		return &ValidationError{Op: ledger.OpWithdraw, Reason: err.Error()}
	}

	in, err := c.occupy(&c.withdrawLane, ledger.OpWithdraw, amount)
	if err != nil {
		return err
	}

	id, err := c.client.SubmitWithdraw(ctx, in.amount)
	if err != nil {
		c.free(&c.withdrawLane)
		c.report(Outcome{Kind: ledger.OpWithdraw, Amount: in.amount.String(), Err: err})
		return err
	}
	tr := c.track(in, id, ledger.OpWithdraw, in.amount)

	c.wg.Add(1)
	go c.awaitWithdraw(tr, in)
	return nil
}

// Refresh re-reads both cached values. Each read failure retains the previous
// cached value and is reported; a partial refresh still overwrites what it
// could read.
func (c *Controller) Refresh(ctx context.Context) error {
	var errs []error

	if bal, err := c.client.EscrowBalance(ctx, c.account); err != nil {
		errs = append(errs, err)
	} else {
		c.setBalance(bal)
	}

	if h, err := c.client.Allowance(ctx, c.account, c.spender); err != nil {
		errs = append(errs, err)
	} else {
		c.setHeadroom(h)
	}

	return errors.Join(errs...)
}

// Snapshot copies the cached view state for the presentation layer.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Account:  c.account,
		Deposit:  laneStatus(c.depositLane),
		Withdraw: laneStatus(c.withdrawLane),
	}
	if c.balance != nil {
		snap.Balance = c.balance.Format()
		snap.BalanceObserved = true
	}
	if c.headroom != nil {
		snap.Headroom = c.headroom.Format()
		snap.HeadroomObserved = true
	}
	return snap
}

func laneStatus(in *intent) LaneStatus {
	if in == nil {
		return LaneStatus{}
	}
	st := LaneStatus{
		Pending: true,
		Kind:    in.kind,
		Amount:  in.amount.String(),
	}
	if in.tracker != nil {
		st.Stage = in.tracker.Stage().String()
		st.TxID = string(in.tracker.ID())
	}
	return st
}

// occupy reserves a lane before any suspension point. The reservation itself
// is the duplicate-intent guard.
func (c *Controller) occupy(lane **intent, kind string, amount token.Amount) (*intent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if *lane != nil {
		return nil, &ValidationError{Op: kind, Reason: "an intent is already pending in this lane", LaneBusy: true}
	}
	in := &intent{kind: kind, amount: amount}
	*lane = in
	return in, nil
}

func (c *Controller) free(lane **intent) {
	c.mu.Lock()
	*lane = nil
	c.mu.Unlock()
}

func (c *Controller) track(in *intent, id ledger.TxID, kind string, submitted token.Amount) *Tracker {
	tr := NewTracker(id)
	c.mu.Lock()
	in.kind = kind
	in.tracker = tr
	c.mu.Unlock()
	c.journalRecord(id, kind, submitted)
	return tr
}

func (c *Controller) submitApprove(ctx context.Context, in *intent) error {
	approval := ApprovalAmount()
	id, err := c.client.SubmitApprove(ctx, c.spender, approval)
	if err != nil {
		c.free(&c.depositLane)
		c.report(Outcome{Kind: ledger.OpApprove, Amount: approval.String(), Err: err})
		return err
	}
	tr := c.track(in, id, ledger.OpApprove, approval)

	c.wg.Add(1)
	go c.awaitApprove(tr, in)
	return nil
}

func (c *Controller) submitDeposit(ctx context.Context, in *intent) error {
	id, err := c.client.SubmitDeposit(ctx, in.amount)
	if err != nil {
		c.free(&c.depositLane)
		c.report(Outcome{Kind: ledger.OpDeposit, Amount: in.amount.String(), Err: err})
		return err
	}
	tr := c.track(in, id, ledger.OpDeposit, in.amount)

	c.wg.Add(1)
	go c.awaitDeposit(tr, in)
	return nil
}

// awaitApprove is the continuation registered for an approval: on confirmed,
// refresh headroom and chain the deposit exactly once with the sufficiency
// check bypassed; on failed, abort the whole deposit intent.
func (c *Controller) awaitApprove(tr *Tracker, in *intent) {
	defer c.wg.Done()
	tr.MarkAwaiting()

	if _, err := c.client.AwaitConfirmation(c.ctx, tr.ID()); err != nil {
		tr.MarkFailed()
		c.journalStatus(tr.ID(), history.StatusFailed, err)
		c.free(&c.depositLane)
		c.report(Outcome{Kind: ledger.OpApprove, Amount: in.amount.String(), TxID: tr.ID(), Err: err})
		return
	}
	tr.MarkConfirmed()
	c.journalStatus(tr.ID(), history.StatusConfirmed, nil)

	// The cached headroom read before the approval is stale now; re-read it
	// so the view is correct. A failed read keeps the previous value and does
	// not block the chained deposit, which bypasses the check anyway.
	if h, err := c.client.Allowance(c.ctx, c.account, c.spender); err != nil {
		c.report(Outcome{Kind: ledger.OpApprove, TxID: tr.ID(), Err: err})
	} else {
		c.setHeadroom(h)
	}
	c.report(Outcome{Kind: ledger.OpApprove, Amount: in.amount.String(), TxID: tr.ID()})

	// Chain the deposit in the still-occupied lane. The bypass is exactly
	// once: a failure here terminates the intent rather than re-approving.
	c.mu.Lock()
	in.tracker = nil
	in.kind = ledger.OpDeposit
	c.mu.Unlock()
	if err := c.submitDeposit(c.ctx, in); err != nil {
		log.Printf("chained deposit after approval %s failed: %v", tr.ID(), err)
	}
}

// awaitDeposit: on confirmed, refresh the escrow balance; on failed, free the
// lane and leave the cached balance untouched.
func (c *Controller) awaitDeposit(tr *Tracker, in *intent) {
	defer c.wg.Done()
	tr.MarkAwaiting()

	if _, err := c.client.AwaitConfirmation(c.ctx, tr.ID()); err != nil {
		tr.MarkFailed()
		c.journalStatus(tr.ID(), history.StatusFailed, err)
		c.free(&c.depositLane)
		c.report(Outcome{Kind: ledger.OpDeposit, Amount: in.amount.String(), TxID: tr.ID(), Err: err})
		return
	}
	tr.MarkConfirmed()
	c.journalStatus(tr.ID(), history.StatusConfirmed, nil)

	c.refreshBalance(ledger.OpDeposit, tr.ID())
	c.free(&c.depositLane)
	c.report(Outcome{Kind: ledger.OpDeposit, Amount: in.amount.String(), TxID: tr.ID()})
}

func (c *Controller) awaitWithdraw(tr *Tracker, in *intent) {
	defer c.wg.Done()
	tr.MarkAwaiting()

	if _, err := c.client.AwaitConfirmation(c.ctx, tr.ID()); err != nil {
		tr.MarkFailed()
		c.journalStatus(tr.ID(), history.StatusFailed, err)
		c.free(&c.withdrawLane)
		c.report(Outcome{Kind: ledger.OpWithdraw, Amount: in.amount.String(), TxID: tr.ID(), Err: err})
		return
	}
	tr.MarkConfirmed()
	c.journalStatus(tr.ID(), history.StatusConfirmed, nil)

	c.refreshBalance(ledger.OpWithdraw, tr.ID())
	c.free(&c.withdrawLane)
	c.report(Outcome{Kind: ledger.OpWithdraw, Amount: in.amount.String(), TxID: tr.ID()})
}

// refreshBalance re-reads the escrow balance after a confirmed transfer. On a
// read failure the previous cached value is retained and the failure reported.
func (c *Controller) refreshBalance(kind string, id ledger.TxID) {
	bal, err := c.client.EscrowBalance(c.ctx, c.account)
	if err != nil {
		c.report(Outcome{Kind: kind, TxID: id, Err: err})
		return
	}
	c.setBalance(bal)
}

func (c *Controller) setBalance(a token.Amount) {
	c.mu.Lock()
	c.balance = &a
	c.mu.Unlock()
}

func (c *Controller) setHeadroom(a token.Amount) {
	c.mu.Lock()
	c.headroom = &a
	c.mu.Unlock()
}

// SetNotifier installs or replaces the terminal-outcome callback. Used when
// the consumer (the HTTP server) is constructed after the controller.
func (c *Controller) SetNotifier(n Notifier) {
	c.mu.Lock()
	c.notify = n
	c.mu.Unlock()
}

func (c *Controller) report(o Outcome) {
	c.mu.Lock()
	n := c.notify
	c.mu.Unlock()
	if n != nil {
		n(o)
	}
}

func (c *Controller) journalRecord(id ledger.TxID, kind string, amount token.Amount) {
	now := time.Now().UTC()
	err := c.journal.Record(c.ctx, history.Entry{
		TxID:      string(id),
		Kind:      kind,
		Amount:    amount.String(),
		Status:    history.StatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		log.Printf("journal record %s: %v", id, err)
	}
}

func (c *Controller) journalStatus(id ledger.TxID, status string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := c.journal.SetStatus(c.ctx, string(id), status, msg); err != nil {
		log.Printf("journal update %s: %v", id, err)
	}
}
