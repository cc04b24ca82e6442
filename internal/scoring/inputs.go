package scoring

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opensource-clinical/bedside/internal/domain"
)

// ResolveInputs returns a mapping with a value for every declared variable,
// coerced to the variable's predicate type. A missing or null input takes the
// declared default through the same coercion, so omitting a key and supplying
// its default are indistinguishable. Unknown keys are dropped.
func ResolveInputs(inst *domain.Instrument, inputs map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(inst.Variables))
	var errs []error

	for i := range inst.Variables {
		v := &inst.Variables[i]

		raw, ok := inputs[v.Name]
		if !ok || raw == nil {
			value, err := v.DefaultValue()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			resolved[v.Name] = value
			continue
		}

		value, err := v.Coerce(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolved[v.Name] = value
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return resolved, nil
}

// ValidateInputs checks supplied inputs against the declared schema: every key
// must name a variable, every value must coerce, continuous values must lie in
// range and categorical values must be declared options. Missing keys are fine.
// This is the check an input-collection layer runs before scoring; the engine
// itself computes out-of-range values as given.
func ValidateInputs(inst *domain.Instrument, inputs map[string]any) error {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, name := range keys {
		raw := inputs[name]
		v, ok := inst.Variable(name)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: unknown variable %q", domain.ErrInputOutOfDomain, name))
			continue
		}
		if raw == nil {
			continue
		}
		value, err := v.Coerce(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", domain.ErrInputOutOfDomain, err))
			continue
		}
		if err := v.CheckDomain(value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
