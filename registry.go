package wizard

import (
	"fmt"
	"strings"
	"sync"
)

// Registry is the ordered set of steps for one wizard type. It is open for
// Add/Remove until Freeze, then read only and safe to share across wizards.
type Registry struct {
	mu     sync.RWMutex
	steps  []StepDefinition
	index  map[string]int
	frozen bool
}

// NewRegistry returns an empty, open registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Register builds and freezes a registry from an ordered list of steps.
func Register(steps ...StepDefinition) (*Registry, error) {
	r := NewRegistry()
	for _, step := range steps {
		if err := r.Add(step); err != nil {
			return nil, err
		}
	}
	if err := r.Freeze(); err != nil {
		return nil, err
	}
	return r, nil
}

// Add appends a step.
func (r *Registry) Add(step StepDefinition) error {
	step = cloneStep(step)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return cloneError(ErrRegistryFrozen, "cannot add steps to a frozen registry", nil,
			map[string]any{"step_id": step.ID})
	}
	if step.ID == "" {
		return cloneError(ErrInvalidStepID, "", nil, map[string]any{"position": len(r.steps)})
	}
	if _, exists := r.index[step.ID]; exists {
		return cloneError(ErrDuplicateStepID, fmt.Sprintf("step %q already registered", step.ID), nil,
			map[string]any{"step_id": step.ID})
	}
	if r.index == nil {
		r.index = make(map[string]int)
	}
	r.index[step.ID] = len(r.steps)
	r.steps = append(r.steps, step)
	return nil
}

// Remove drops a step while the registry is still open.
func (r *Registry) Remove(id string) error {
	id = strings.TrimSpace(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return cloneError(ErrRegistryFrozen, "cannot remove steps from a frozen registry", nil,
			map[string]any{"step_id": id})
	}
	pos, ok := r.index[id]
	if !ok {
		return cloneError(ErrStepNotFound, fmt.Sprintf("step %q not registered", id), nil,
			map[string]any{"step_id": id})
	}
	r.steps = append(r.steps[:pos], r.steps[pos+1:]...)
	r.index = make(map[string]int, len(r.steps))
	for i, step := range r.steps {
		r.index[step.ID] = i
	}
	return nil
}

// Freeze closes the registry. Calling it again on a frozen registry is a no-op.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil
	}
	if len(r.steps) == 0 {
		return cloneError(ErrEmptyRegistry, "", nil, nil)
	}
	r.frozen = true
	return nil
}

func (r *Registry) Frozen() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// StepAt returns the step at index.
func (r *Registry) StepAt(index int) (StepDefinition, bool) {
	if r == nil {
		return StepDefinition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.steps) {
		return StepDefinition{}, false
	}
	return r.steps[index], true
}

// Step returns the step registered under id.
func (r *Registry) Step(id string) (StepDefinition, bool) {
	idx := r.IndexOf(id)
	if idx < 0 {
		return StepDefinition{}, false
	}
	return r.StepAt(idx)
}

// IndexOf returns the position of id, or -1.
func (r *Registry) IndexOf(id string) int {
	if r == nil {
		return -1
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.index[strings.TrimSpace(id)]
	if !ok {
		return -1
	}
	return idx
}

// IDs returns step ids in order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.steps))
	for i, step := range r.steps {
		ids[i] = step.ID
	}
	return ids
}
