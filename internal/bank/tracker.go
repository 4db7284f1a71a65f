package bank

import (
	"sync"

	"tokenbank/internal/ledger"
)

// Stage is the coarse progress of an in-flight transaction. Values only
// increase; it is user feedback, not a finality guarantee.
type Stage int

const (
	StageSubmitted Stage = iota
	StageAwaiting
	StageConfirmed
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageSubmitted:
		return "submitted"
	case StageAwaiting:
		return "awaiting confirmation"
	case StageConfirmed:
		return "confirmed"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can occur.
func (s Stage) Terminal() bool {
	return s == StageConfirmed || s == StageFailed
}

// Tracker holds the lifecycle of one submitted transaction. It is a pure
// state holder; response behavior is attached by the controller per call site.
type Tracker struct {
	id ledger.TxID

	mu    sync.Mutex
	stage Stage
}

func NewTracker(id ledger.TxID) *Tracker {
	return &Tracker{id: id, stage: StageSubmitted}
}

func (t *Tracker) ID() ledger.TxID { return t.id }

func (t *Tracker) Stage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// advance moves the stage forward; regressions and transitions out of a
// terminal stage are ignored.
func (t *Tracker) advance(s Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage.Terminal() || s <= t.stage {
		return
	}
	t.stage = s
}

func (t *Tracker) MarkAwaiting()  { t.advance(StageAwaiting) }
func (t *Tracker) MarkConfirmed() { t.advance(StageConfirmed) }
func (t *Tracker) MarkFailed()    { t.advance(StageFailed) }
