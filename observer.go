package wizard

import (
	"sync"
	"time"
)

// Operation names the transition that produced a StateChange.
type Operation string

const (
	OpSetPayload      Operation = "set_payload"
	OpNext            Operation = "next"
	OpBack            Operation = "back"
	OpJump            Operation = "jump"
	OpReset           Operation = "reset"
	OpSubmit          Operation = "submit"
	OpSubmitted       Operation = "submitted"
	OpSubmitFailed    Operation = "submit_failed"
	OpSubmitCancelled Operation = "submit_cancelled"
)

// StateChange is delivered to listeners after every successful transition.
type StateChange struct {
	WizardID       string    `json:"wizard_id"`
	Op             Operation `json:"op"`
	StepID         string    `json:"step_id,omitempty"`
	PreviousIndex  int       `json:"previous_index"`
	CurrentIndex   int       `json:"current_index"`
	PreviousStatus Status    `json:"previous_status"`
	Status         Status    `json:"status"`
	Snapshot       Snapshot  `json:"snapshot"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Listener observes state changes. Listeners run synchronously on the
// goroutine that made the change, after the wizard lock is released.
type Listener func(StateChange)

// Subscription detaches a listener.
type Subscription interface {
	Unsubscribe()
}

type listenerEntry struct {
	fn Listener
}

type observers struct {
	mu        sync.RWMutex
	listeners []*listenerEntry
}

type subscription struct {
	wizard *Wizard
	entry  *listenerEntry
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		o := &s.wizard.observers
		o.mu.Lock()
		defer o.mu.Unlock()

		kept := make([]*listenerEntry, 0, len(o.listeners))
		for _, entry := range o.listeners {
			if entry != s.entry {
				kept = append(kept, entry)
			}
		}
		o.listeners = kept
	})
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

// OnStateChange registers a listener.
func (w *Wizard) OnStateChange(listener Listener) Subscription {
	if listener == nil {
		return noopSubscription{}
	}
	entry := &listenerEntry{fn: listener}
	w.observers.mu.Lock()
	w.observers.listeners = append(w.observers.listeners, entry)
	w.observers.mu.Unlock()
	return &subscription{wizard: w, entry: entry}
}

func (w *Wizard) changeLocked(op Operation, stepID string, prevIndex int, prevStatus Status) StateChange {
	return StateChange{
		WizardID:       w.id,
		Op:             op,
		StepID:         stepID,
		PreviousIndex:  prevIndex,
		CurrentIndex:   w.st.currentIndex,
		PreviousStatus: prevStatus,
		Status:         w.st.status,
		Snapshot:       w.snapshotLocked(),
		OccurredAt:     w.timestamp(),
	}
}

func (w *Wizard) notify(change StateChange) {
	w.observers.mu.RLock()
	listeners := make([]*listenerEntry, len(w.observers.listeners))
	copy(listeners, w.observers.listeners)
	w.observers.mu.RUnlock()

	for idx, entry := range listeners {
		w.deliver(idx, entry, change)
	}
}

func (w *Wizard) deliver(idx int, entry *listenerEntry, change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			withLoggerFields(w.logger, map[string]any{
				"op":             string(change.Op),
				"listener_index": idx,
			}).Error("state listener panic: %v\n%s", r, panicStack())
		}
	}()
	entry.fn(change)
}
