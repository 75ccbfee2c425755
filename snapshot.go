package wizard

import (
	"fmt"
	"strings"
)

// Snapshot is the plain data form of a wizard's state. It holds only
// serializable values so external layers can persist it.
type Snapshot struct {
	WizardID     string         `json:"wizard_id" yaml:"wizard_id"`
	StepOrder    []string       `json:"step_order" yaml:"step_order"`
	CurrentIndex int            `json:"current_index" yaml:"current_index"`
	Payloads     map[string]any `json:"payloads" yaml:"payloads"`
	Composite    map[string]any `json:"composite" yaml:"composite"`
	Status       Status         `json:"status" yaml:"status"`
}

// Snapshot returns a deep copy of the current state.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Wizard) snapshotLocked() Snapshot {
	order := make([]string, len(w.st.stepOrder))
	copy(order, w.st.stepOrder)
	return Snapshot{
		WizardID:     w.id,
		StepOrder:    order,
		CurrentIndex: w.st.currentIndex,
		Payloads:     clonePayloadMap(w.st.payloads),
		Composite:    clonePayloadMap(w.st.composite),
		Status:       w.st.status,
	}
}

// Restore rebuilds a wizard from a snapshot taken against the same registry.
// A snapshot persisted mid submission restores as failed, since the outcome of
// that external call is unknown.
func Restore(registry *Registry, snap Snapshot, opts ...Option) (*Wizard, error) {
	if snap.WizardID != "" {
		opts = append([]Option{WithID(snap.WizardID)}, opts...)
	}
	w, err := newWizard(registry, opts...)
	if err != nil {
		return nil, err
	}

	ids := registry.IDs()
	meta := map[string]any{"wizard_id": w.id}
	if len(snap.StepOrder) != len(ids) {
		return nil, cloneError(ErrSnapshotMismatch,
			fmt.Sprintf("snapshot has %d steps, registry has %d", len(snap.StepOrder), len(ids)), nil, meta)
	}
	for i, id := range ids {
		if strings.TrimSpace(snap.StepOrder[i]) != id {
			meta["index"] = i
			return nil, cloneError(ErrSnapshotMismatch,
				fmt.Sprintf("snapshot step %q at index %d, registry has %q", snap.StepOrder[i], i, id), nil, meta)
		}
	}
	if snap.CurrentIndex < 0 || snap.CurrentIndex >= len(ids) {
		return nil, cloneError(ErrSnapshotMismatch,
			fmt.Sprintf("snapshot index %d out of range", snap.CurrentIndex), nil, meta)
	}
	status := snap.Status
	if status == "" {
		status = StatusInProgress
	}
	if !status.valid() {
		return nil, cloneError(ErrSnapshotMismatch, fmt.Sprintf("unknown status %q", snap.Status), nil, meta)
	}
	if status == StatusSubmitting {
		status = StatusFailed
	}

	st := initialize(registry)
	st.currentIndex = snap.CurrentIndex
	st.status = status
	for id, payload := range snap.Payloads {
		if _, ok := st.payloads[id]; !ok {
			return nil, cloneError(ErrSnapshotMismatch, fmt.Sprintf("payload for unknown step %q", id), nil, meta)
		}
		st.payloads[id] = clonePayload(payload)
	}
	for id, payload := range snap.Composite {
		if _, ok := st.payloads[id]; !ok {
			return nil, cloneError(ErrSnapshotMismatch, fmt.Sprintf("composite for unknown step %q", id), nil, meta)
		}
		st.composite[id] = clonePayload(payload)
	}
	w.st = st
	w.logger.Debug("wizard restored index=%d status=%s", st.currentIndex, st.status)
	return w, nil
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	cp := s
	cp.StepOrder = append([]string(nil), s.StepOrder...)
	cp.Payloads = clonePayloadMap(s.Payloads)
	cp.Composite = clonePayloadMap(s.Composite)
	return cp
}
