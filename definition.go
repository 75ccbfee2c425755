package wizard

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition describes a wizard type in YAML or JSON.
type Definition struct {
	ID      string         `json:"id" yaml:"id"`
	Version string         `json:"version,omitempty" yaml:"version,omitempty"`
	Title   string         `json:"title,omitempty" yaml:"title,omitempty"`
	Steps   []StepConfig   `json:"steps" yaml:"steps"`
	Meta    map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// StepConfig is the declarative form of a StepDefinition.
type StepConfig struct {
	ID        string           `json:"id" yaml:"id"`
	Title     string           `json:"title,omitempty" yaml:"title,omitempty"`
	Validator *ValidatorConfig `json:"validator,omitempty" yaml:"validator,omitempty"`
	Initial   any              `json:"initial,omitempty" yaml:"initial,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ParseDefinition parses JSON or YAML into a Definition and validates it.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	// yaml can handle JSON too, so a single attempt is fine
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("parse wizard definition: %w", err)
	}
	return def, def.Validate()
}

// Validate performs structural validation. Step id problems are reported with
// the same error kinds the registry uses.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("wizard definition id is required")
	}
	if len(d.Steps) == 0 {
		return cloneError(ErrEmptyRegistry, fmt.Sprintf("wizard %s defines no steps", d.ID), nil,
			map[string]any{"definition_id": d.ID})
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for idx, step := range d.Steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return cloneError(ErrInvalidStepID, fmt.Sprintf("steps[%d]: id is required", idx), nil,
				map[string]any{"definition_id": d.ID, "position": idx})
		}
		if _, dup := seen[id]; dup {
			return cloneError(ErrDuplicateStepID, fmt.Sprintf("steps[%d]: duplicate id %q", idx, id), nil,
				map[string]any{"definition_id": d.ID, "step_id": id})
		}
		seen[id] = struct{}{}
	}
	return nil
}

// BuildRegistry resolves validator references and returns a frozen registry.
// A nil validator registry uses the built-ins.
func BuildRegistry(def Definition, validators *ValidatorRegistry) (*Registry, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if validators == nil {
		validators = NewValidatorRegistry()
	}
	reg := NewRegistry()
	for idx, cfg := range def.Steps {
		var validate Validator
		if cfg.Validator != nil {
			v, err := validators.Build(*cfg.Validator)
			if err != nil {
				return nil, fmt.Errorf("steps[%d] %s: %w", idx, cfg.ID, err)
			}
			validate = v
		}
		meta := copyMap(cfg.Metadata)
		if def.Version != "" {
			if meta == nil {
				meta = map[string]any{}
			}
			meta["definition_version"] = def.Version
		}
		if err := reg.Add(StepDefinition{
			ID:             cfg.ID,
			Title:          cfg.Title,
			Validate:       validate,
			InitialPayload: cfg.Initial,
			Metadata:       meta,
		}); err != nil {
			return nil, err
		}
	}
	if err := reg.Freeze(); err != nil {
		return nil, err
	}
	return reg, nil
}
