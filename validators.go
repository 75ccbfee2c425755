package wizard

import (
	"fmt"
	"net/mail"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

// Reason codes produced by the built-in validators.
const (
	ReasonEmpty           = "empty"
	ReasonNotNumeric      = "not_numeric"
	ReasonNotString       = "not_string"
	ReasonPatternMismatch = "pattern_mismatch"
	ReasonTooShort        = "too_short"
	ReasonTooLong         = "too_long"
	ReasonNotAllowed      = "not_allowed"
	ReasonInvalidEmail    = "invalid_email"
	ReasonMissingField    = "missing_field"
	ReasonNotObject       = "not_object"
)

// ValidatorConfig references a named validator and its parameters.
type ValidatorConfig struct {
	Type   string            `json:"type" yaml:"type"`
	Params map[string]any    `json:"params,omitempty" yaml:"params,omitempty"`
	All    []ValidatorConfig `json:"all,omitempty" yaml:"all,omitempty"`
}

// ValidatorFactory builds a validator from definition parameters.
type ValidatorFactory func(params map[string]any) (Validator, error)

// ValidatorRegistry stores named validator factories.
type ValidatorRegistry struct {
	mu        sync.RWMutex
	factories map[string]ValidatorFactory
}

// NewValidatorRegistry returns a registry preloaded with the built-in validators.
func NewValidatorRegistry() *ValidatorRegistry {
	r := &ValidatorRegistry{factories: make(map[string]ValidatorFactory)}
	for name, factory := range builtinValidators() {
		r.factories[name] = factory
	}
	return r
}

// Register stores a factory by name.
func (r *ValidatorRegistry) Register(name string, factory ValidatorFactory) error {
	name = normalizeValidatorName(name)
	if name == "" || factory == nil {
		return fmt.Errorf("validator name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories == nil {
		r.factories = make(map[string]ValidatorFactory)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("validator %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Lookup retrieves a factory by name.
func (r *ValidatorRegistry) Lookup(name string) (ValidatorFactory, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[normalizeValidatorName(name)]
	return f, ok
}

// Build resolves cfg into a Validator. An empty config accepts everything.
func (r *ValidatorRegistry) Build(cfg ValidatorConfig) (Validator, error) {
	name := normalizeValidatorName(cfg.Type)
	if name == "" && len(cfg.All) == 0 {
		return nil, nil
	}
	if name == "" || name == "all" {
		return r.buildAll(cfg.All)
	}
	factory, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("validator %q not registered", cfg.Type)
	}
	return factory(cfg.Params)
}

func (r *ValidatorRegistry) buildAll(cfgs []ValidatorConfig) (Validator, error) {
	validators := make([]Validator, 0, len(cfgs))
	for idx, nested := range cfgs {
		v, err := r.Build(nested)
		if err != nil {
			return nil, fmt.Errorf("all[%d]: %w", idx, err)
		}
		if v != nil {
			validators = append(validators, v)
		}
	}
	return All(validators...), nil
}

func normalizeValidatorName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func builtinValidators() map[string]ValidatorFactory {
	return map[string]ValidatorFactory{
		"any": func(map[string]any) (Validator, error) { return Any(), nil },
		"required": func(map[string]any) (Validator, error) {
			return Required(), nil
		},
		"numeric": func(map[string]any) (Validator, error) {
			return Numeric(), nil
		},
		"email": func(map[string]any) (Validator, error) {
			return Email(), nil
		},
		"pattern": func(params map[string]any) (Validator, error) {
			expr, _ := params["regex"].(string)
			if expr == "" {
				return nil, fmt.Errorf("pattern validator requires regex")
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("pattern validator: %w", err)
			}
			return Pattern(re), nil
		},
		"min_length": func(params map[string]any) (Validator, error) {
			n, err := intParam(params, "length")
			if err != nil {
				return nil, err
			}
			return MinLength(n), nil
		},
		"max_length": func(params map[string]any) (Validator, error) {
			n, err := intParam(params, "length")
			if err != nil {
				return nil, err
			}
			return MaxLength(n), nil
		},
		"one_of": func(params map[string]any) (Validator, error) {
			values, ok := params["values"].([]any)
			if !ok || len(values) == 0 {
				return nil, fmt.Errorf("one_of validator requires values")
			}
			allowed := make([]string, 0, len(values))
			for _, v := range values {
				allowed = append(allowed, fmt.Sprint(v))
			}
			return OneOf(allowed...), nil
		},
		"fields": func(params map[string]any) (Validator, error) {
			raw, ok := params["required"].([]any)
			if !ok || len(raw) == 0 {
				return nil, fmt.Errorf("fields validator requires required field names")
			}
			names := make([]string, 0, len(raw))
			for _, v := range raw {
				names = append(names, fmt.Sprint(v))
			}
			return Fields(names...), nil
		},
	}
}

func intParam(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("param %s is required", key)
	}
}

// Any accepts every payload.
func Any() Validator {
	return func(any) ValidationResult { return Valid() }
}

// All runs validators in order and returns the first rejection.
func All(validators ...Validator) Validator {
	return func(payload any) ValidationResult {
		for _, v := range validators {
			if v == nil {
				continue
			}
			if res := v(payload); !res.IsValid() {
				return res
			}
		}
		return Valid()
	}
}

// Required rejects nil, blank strings and empty collections.
func Required() Validator {
	return func(payload any) ValidationResult {
		if isEmpty(payload) {
			return Invalid(ReasonEmpty)
		}
		return Valid()
	}
}

// Numeric accepts numbers and strings that parse as numbers.
func Numeric() Validator {
	return func(payload any) ValidationResult {
		switch v := payload.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return Valid()
		case string:
			if _, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return Valid()
			}
		}
		return Invalid(ReasonNotNumeric)
	}
}

// Pattern requires a string payload matching re.
func Pattern(re *regexp.Regexp) Validator {
	return func(payload any) ValidationResult {
		s, ok := payload.(string)
		if !ok {
			return Invalid(ReasonNotString)
		}
		if !re.MatchString(s) {
			return Invalid(ReasonPatternMismatch)
		}
		return Valid()
	}
}

// MinLength requires a string payload with at least n runes.
func MinLength(n int) Validator {
	return func(payload any) ValidationResult {
		s, ok := payload.(string)
		if !ok {
			return Invalid(ReasonNotString)
		}
		if utf8.RuneCountInString(strings.TrimSpace(s)) < n {
			return Invalid(ReasonTooShort)
		}
		return Valid()
	}
}

// MaxLength requires a string payload with at most n runes.
func MaxLength(n int) Validator {
	return func(payload any) ValidationResult {
		s, ok := payload.(string)
		if !ok {
			return Invalid(ReasonNotString)
		}
		if utf8.RuneCountInString(strings.TrimSpace(s)) > n {
			return Invalid(ReasonTooLong)
		}
		return Valid()
	}
}

// OneOf requires the payload's string form to be one of allowed.
func OneOf(allowed ...string) Validator {
	set := make(map[string]struct{}, len(allowed))
	for _, v := range allowed {
		set[v] = struct{}{}
	}
	return func(payload any) ValidationResult {
		if payload == nil {
			return Invalid(ReasonNotAllowed)
		}
		if _, ok := set[fmt.Sprint(payload)]; !ok {
			return Invalid(ReasonNotAllowed)
		}
		return Valid()
	}
}

// Email requires a single bare address.
func Email() Validator {
	return func(payload any) ValidationResult {
		s, ok := payload.(string)
		if !ok {
			return Invalid(ReasonNotString)
		}
		s = strings.TrimSpace(s)
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return Invalid(ReasonInvalidEmail)
		}
		return Valid()
	}
}

// Fields requires an object payload where every named field is present and
// not empty.
func Fields(names ...string) Validator {
	return func(payload any) ValidationResult {
		var lookup func(string) (any, bool)
		switch m := payload.(type) {
		case map[string]any:
			lookup = func(k string) (any, bool) {
				v, ok := m[k]
				return v, ok
			}
		case map[string]string:
			lookup = func(k string) (any, bool) {
				v, ok := m[k]
				return v, ok
			}
		default:
			return Invalid(ReasonNotObject)
		}
		for _, name := range names {
			v, ok := lookup(name)
			if !ok || isEmpty(v) {
				return Invalid(ReasonMissingField)
			}
		}
		return Valid()
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
