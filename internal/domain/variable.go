package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// VariableKind distinguishes numeric from enumerated inputs.
type VariableKind string

const (
	KindContinuous  VariableKind = "continuous"
	KindCategorical VariableKind = "categorical"
)

// ValueType is the type a variable takes inside predicates.
type ValueType int

const (
	ValueDouble ValueType = iota
	ValueInt
	ValueString
)

func (t ValueType) String() string {
	switch t {
	case ValueDouble:
		return "double"
	case ValueInt:
		return "int"
	default:
		return "string"
	}
}

// Variable declares one input of an instrument.
type Variable struct {
	Name  string       `json:"name" yaml:"name"`
	Label string       `json:"label" yaml:"label"`
	Kind  VariableKind `json:"kind" yaml:"kind"`
	Group string       `json:"group,omitempty" yaml:"group,omitempty"`
	Unit  string       `json:"unit,omitempty" yaml:"unit,omitempty"`

	// Continuous only.
	Min  float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max  float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Step float64 `json:"step,omitempty" yaml:"step,omitempty"`

	// Default is substituted when the input is missing. For categorical variables
	// it is an option label or code; when absent the first option is used.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`

	// Options is the closed set of a categorical variable. Either every option
	// carries an integer code or none does, in which case the label is the value.
	Options []Option `json:"options,omitempty" yaml:"options,omitempty"`
}

// Option is one choice of a categorical variable.
type Option struct {
	Label string `json:"label" yaml:"label"`
	Code  *int64 `json:"code,omitempty" yaml:"code,omitempty"`
}

// Value returns the option's predicate value.
func (o Option) Value() any {
	if o.Code != nil {
		return *o.Code
	}
	return o.Label
}

// ValueType reports the predicate type of the variable.
func (v *Variable) ValueType() ValueType {
	if v.Kind == KindContinuous {
		return ValueDouble
	}
	if len(v.Options) > 0 && v.Options[0].Code != nil {
		return ValueInt
	}
	return ValueString
}

// DefaultValue returns the coerced default.
func (v *Variable) DefaultValue() (any, error) {
	if v.Default != nil {
		return v.Coerce(v.Default)
	}
	if v.Kind == KindCategorical && len(v.Options) > 0 {
		return v.Options[0].Value(), nil
	}
	return nil, fmt.Errorf("%w: %s has no default", ErrInvalidInput, v.Name)
}

// Coerce converts a raw input into the variable's predicate type.
// It does not check ranges or option membership; see CheckDomain.
func (v *Variable) Coerce(raw any) (any, error) {
	switch v.ValueType() {
	case ValueDouble:
		f, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, v.Name, err)
		}
		return f, nil

	case ValueInt:
		if s, ok := raw.(string); ok {
			if opt, found := v.optionByLabel(s); found {
				return *opt.Code, nil
			}
		}
		f, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, v.Name, err)
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %s: code %v is not an integer", ErrInvalidInput, v.Name, f)
		}
		// float64(MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if f >= math.MaxInt64 || f < math.MinInt64 {
			return nil, fmt.Errorf("%w: %s: code %v overflows int64", ErrInvalidInput, v.Name, f)
		}
		return int64(f), nil

	default:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s: expected a string option, got %T", ErrInvalidInput, v.Name, raw)
		}
		if opt, found := v.optionByLabel(s); found {
			return opt.Label, nil
		}
		return s, nil
	}
}

// stepTolerance is the fraction of a step a value may sit off the grid
// anchored at Min, absorbing decimal rounding such as 98.6 on a 0.1 grid.
const stepTolerance = 1e-6

// CheckDomain reports whether a coerced value lies in the declared range or
// option set. A continuous variable with a positive Step also requires the
// value to fall on the grid Min, Min+Step, Min+2*Step and so on.
func (v *Variable) CheckDomain(value any) error {
	switch val := value.(type) {
	case float64:
		if val < v.Min || val > v.Max {
			return fmt.Errorf("%w: %s = %v outside [%v, %v]", ErrInputOutOfDomain, v.Name, val, v.Min, v.Max)
		}
		if v.Step > 0 && math.Abs(math.Remainder(val-v.Min, v.Step)) > stepTolerance*v.Step {
			return fmt.Errorf("%w: %s = %v is not a multiple of step %v from %v", ErrInputOutOfDomain, v.Name, val, v.Step, v.Min)
		}
		return nil
	case int64, string:
		for _, opt := range v.Options {
			if opt.Value() == val {
				return nil
			}
		}
		return fmt.Errorf("%w: %s = %v is not one of %s", ErrInputOutOfDomain, v.Name, val, v.optionList())
	default:
		return fmt.Errorf("%w: %s has unexpected type %T", ErrInputOutOfDomain, v.Name, value)
	}
}

func (v *Variable) validate() error {
	var errs []error
	if !identifier.MatchString(v.Name) {
		errs = append(errs, errors.New("name must be a letter or underscore followed by letters, digits or underscores"))
	}
	switch v.Kind {
	case KindContinuous:
		if isNonFinite(v.Min) || isNonFinite(v.Max) || v.Min > v.Max {
			errs = append(errs, fmt.Errorf("range [%v, %v] is invalid", v.Min, v.Max))
		}
		if isNonFinite(v.Step) || v.Step < 0 {
			errs = append(errs, fmt.Errorf("step %v must be zero or positive", v.Step))
		}
		if len(v.Options) > 0 {
			errs = append(errs, errors.New("continuous variable cannot declare options"))
		}
		if v.Default == nil {
			errs = append(errs, errors.New("continuous variable needs a default"))
		}
	case KindCategorical:
		if len(v.Options) == 0 {
			errs = append(errs, errors.New("categorical variable needs options"))
			break
		}
		coded := v.Options[0].Code != nil
		labels := make(map[string]bool, len(v.Options))
		for _, opt := range v.Options {
			if (opt.Code != nil) != coded {
				errs = append(errs, errors.New("options must all carry codes or none"))
				break
			}
			if labels[opt.Label] {
				errs = append(errs, fmt.Errorf("option %q declared twice", opt.Label))
			}
			labels[opt.Label] = true
		}
	default:
		errs = append(errs, fmt.Errorf("kind must be %q or %q", KindContinuous, KindCategorical))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	def, err := v.DefaultValue()
	if err != nil {
		return err
	}
	if err := v.CheckDomain(def); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	return nil
}

func (v *Variable) optionByLabel(label string) (Option, bool) {
	for _, opt := range v.Options {
		if opt.Label == label {
			return opt, true
		}
	}
	for _, opt := range v.Options {
		if strings.EqualFold(opt.Label, label) {
			return opt, true
		}
	}
	return Option{}, false
}

func (v *Variable) optionList() string {
	labels := make([]string, len(v.Options))
	for i, opt := range v.Options {
		labels[i] = fmt.Sprintf("%v", opt.Value())
	}
	return "[" + strings.Join(labels, ", ") + "]"
}

func toFloat(raw any) (float64, error) {
	var f float64
	switch n := raw.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		f = parsed
	case nil:
		return 0, errors.New("value is null")
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
	if isNonFinite(f) {
		return 0, fmt.Errorf("%v is not finite", f)
	}
	return f, nil
}
