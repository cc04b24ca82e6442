package domain

import (
	"errors"
	"fmt"
	"math"
)

// Instrument is a versioned, declarative rule table for one clinical score.
// It is data, not behavior: the scoring package compiles it before use.
type Instrument struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`

	// Variables is the input schema. Predicates may only reference these names.
	Variables []Variable `json:"variables" yaml:"variables"`

	// Rules are evaluated and reported in declaration order.
	Rules []PredictorRule `json:"rules" yaml:"rules"`

	Aggregation Aggregation  `json:"aggregation" yaml:"aggregation"`
	Score       ScoreBounds  `json:"score" yaml:"score"`
	Rounding    RoundingMode `json:"rounding,omitempty" yaml:"rounding,omitempty"`

	// Tiers are ordered by strictly increasing upper bound.
	Tiers   []RiskTier `json:"tiers" yaml:"tiers"`
	Outcome Outcome    `json:"outcome" yaml:"outcome"`

	// ScoreOutcomes optionally maps each integer score to its own outcome statistic.
	ScoreOutcomes map[int]float64 `json:"scoreOutcomes,omitempty" yaml:"score_outcomes,omitempty"`

	Descriptor Descriptor `json:"descriptor" yaml:"descriptor"`
}

// PredictorRule is one scored condition.
type PredictorRule struct {
	ID        string  `json:"id" yaml:"id"`
	Label     string  `json:"label" yaml:"label"`
	Condition string  `json:"condition" yaml:"condition"`
	When      string  `json:"when" yaml:"when"`
	Points    float64 `json:"points" yaml:"points"`
}

// AggregationMode selects how rule values combine into the raw value.
type AggregationMode string

const (
	// AggregateLinear sums point values.
	AggregateLinear AggregationMode = "linear"

	// AggregateLog sums ln(1 + points/scale).
	AggregateLog AggregationMode = "log"
)

// DefaultLogScale is the divisor used by log aggregation when none is declared.
const DefaultLogScale = 100.0

// Aggregation describes the combination formula.
type Aggregation struct {
	Mode   AggregationMode `json:"mode" yaml:"mode"`
	Scale  float64         `json:"scale,omitempty" yaml:"scale,omitempty"`
	Offset float64         `json:"offset" yaml:"offset"`
}

// EffectiveScale returns the declared scale or DefaultLogScale.
func (a Aggregation) EffectiveScale() float64 {
	if a.Scale == 0 {
		return DefaultLogScale
	}
	return a.Scale
}

// ScoreBounds are the inclusive clamp limits of the final score.
type ScoreBounds struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// RoundingMode selects how the raw value is rounded to an integer.
type RoundingMode string

const (
	// RoundHalfAwayFromZero rounds 2.5 to 3 and -2.5 to -3. This is the default.
	RoundHalfAwayFromZero RoundingMode = "half_away_from_zero"

	// RoundHalfEven rounds 2.5 to 2 and 3.5 to 4.
	RoundHalfEven RoundingMode = "half_even"
)

// RiskTier is a contiguous score band. Its lower bound is the previous tier's
// upper bound plus one, or the minimum score for the first tier.
type RiskTier struct {
	UpperBound int     `json:"upperBound" yaml:"upper_bound"`
	Label      string  `json:"label" yaml:"label"`
	Color      string  `json:"color" yaml:"color"`
	Outcome    float64 `json:"outcome" yaml:"outcome"`
}

// Outcome names the statistic the tiers carry.
type Outcome struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
}

// Descriptor is display metadata. The engine never reads it.
type Descriptor struct {
	Tagline     string `json:"tagline,omitempty" yaml:"tagline,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Column labels for the risk reference table.
	ScoreColumn   string `json:"scoreColumn,omitempty" yaml:"score_column,omitempty"`
	OutcomeColumn string `json:"outcomeColumn,omitempty" yaml:"outcome_column,omitempty"`

	// Column labels for the component breakdown.
	PointsColumn       string `json:"pointsColumn,omitempty" yaml:"points_column,omitempty"`
	ContributionColumn string `json:"contributionColumn,omitempty" yaml:"contribution_column,omitempty"`

	// ChartField is "points" or "contribution".
	ChartField string `json:"chartField,omitempty" yaml:"chart_field,omitempty"`
	ChartLabel string `json:"chartLabel,omitempty" yaml:"chart_label,omitempty"`

	HighlightColor     string `json:"highlightColor,omitempty" yaml:"highlight_color,omitempty"`
	HighlightTextColor string `json:"highlightTextColor,omitempty" yaml:"highlight_text_color,omitempty"`
}

// Chart fields.
const (
	ChartPoints       = "points"
	ChartContribution = "contribution"
)

// InstrumentSummary is the catalog view of an instrument.
type InstrumentSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	Tagline      string `json:"tagline,omitempty"`
	ScoreRange   string `json:"scoreRange"`
	OutcomeLabel string `json:"outcomeLabel"`
	Rules        int    `json:"rules"`
	Source       string `json:"source"`
}

// Instrument sources.
const (
	SourceBuiltin = "builtin"
	SourceFile    = "file"
	SourceCustom  = "custom"
)

// ScoreRange formats the score bounds for display, e.g. "1–10".
func (in *Instrument) ScoreRange() string {
	if in.Score.Min == in.Score.Max {
		return fmt.Sprintf("%d", in.Score.Min)
	}
	return fmt.Sprintf("%d–%d", in.Score.Min, in.Score.Max)
}

// EffectiveRounding returns the declared rounding mode or the default.
func (in *Instrument) EffectiveRounding() RoundingMode {
	if in.Rounding == "" {
		return RoundHalfAwayFromZero
	}
	return in.Rounding
}

// Variable returns the declared variable with the given name.
func (in *Instrument) Variable(name string) (*Variable, bool) {
	for i := range in.Variables {
		if in.Variables[i].Name == name {
			return &in.Variables[i], true
		}
	}
	return nil, false
}

// Summary returns the catalog entry for the instrument.
func (in *Instrument) Summary(source string) InstrumentSummary {
	return InstrumentSummary{
		ID:           in.ID,
		Name:         in.Name,
		Version:      in.Version,
		Tagline:      in.Descriptor.Tagline,
		ScoreRange:   in.ScoreRange(),
		OutcomeLabel: in.Outcome.Label,
		Rules:        len(in.Rules),
		Source:       source,
	}
}

// Clone returns a copy that shares no slices or maps with the receiver.
func (in *Instrument) Clone() *Instrument {
	out := *in
	out.Variables = make([]Variable, len(in.Variables))
	for i, v := range in.Variables {
		v.Options = append([]Option(nil), v.Options...)
		out.Variables[i] = v
	}
	out.Rules = append([]PredictorRule(nil), in.Rules...)
	out.Tiers = append([]RiskTier(nil), in.Tiers...)
	if in.ScoreOutcomes != nil {
		out.ScoreOutcomes = make(map[int]float64, len(in.ScoreOutcomes))
		for k, v := range in.ScoreOutcomes {
			out.ScoreOutcomes[k] = v
		}
	}
	return &out
}

// Validate checks the structural invariants of the table. Predicate syntax and
// variable references are checked when the table is compiled.
// All violations are reported together; each wraps ErrInvalidTable.
func (in *Instrument) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidTable, fmt.Sprintf(format, args...)))
	}

	if in.ID == "" {
		fail("id is required")
	}
	if in.Name == "" {
		fail("name is required")
	}
	if in.Version == "" {
		fail("version is required")
	}

	switch in.Aggregation.Mode {
	case AggregateLinear:
	case AggregateLog:
		if s := in.Aggregation.Scale; s < 0 || isNonFinite(s) {
			fail("log scale must be positive, got %v", s)
		}
	default:
		fail("aggregation mode must be %q or %q, got %q", AggregateLinear, AggregateLog, in.Aggregation.Mode)
	}
	if isNonFinite(in.Aggregation.Offset) {
		fail("offset must be finite")
	}

	if in.Score.Min > in.Score.Max {
		fail("score min %d exceeds max %d", in.Score.Min, in.Score.Max)
	}

	switch in.Rounding {
	case "", RoundHalfAwayFromZero, RoundHalfEven:
	default:
		fail("unknown rounding mode %q", in.Rounding)
	}

	if len(in.Tiers) == 0 {
		fail("at least one risk tier is required")
	}
	for i, tier := range in.Tiers {
		if tier.Label == "" {
			fail("tier %d: label is required", i)
		}
		if isNonFinite(tier.Outcome) {
			fail("tier %q: outcome must be finite", tier.Label)
		}
		if i > 0 && tier.UpperBound <= in.Tiers[i-1].UpperBound {
			fail("tier %q: upper bound %d must exceed previous %d", tier.Label, tier.UpperBound, in.Tiers[i-1].UpperBound)
		}
	}

	for score, value := range in.ScoreOutcomes {
		if score < in.Score.Min || score > in.Score.Max {
			fail("score outcome for %d lies outside [%d, %d]", score, in.Score.Min, in.Score.Max)
		}
		if isNonFinite(value) {
			fail("score outcome for %d must be finite", score)
		}
	}

	seenVars := make(map[string]bool, len(in.Variables))
	for i := range in.Variables {
		v := &in.Variables[i]
		if v.Name == "" {
			fail("variable %d: name is required", i)
			continue
		}
		if seenVars[v.Name] {
			fail("variable %q declared twice", v.Name)
		}
		seenVars[v.Name] = true
		if err := v.validate(); err != nil {
			fail("variable %q: %v", v.Name, err)
		}
	}

	seenRules := make(map[string]bool, len(in.Rules))
	for i, rule := range in.Rules {
		name := rule.ID
		if name == "" {
			fail("rule %d: id is required", i)
			name = fmt.Sprintf("#%d", i)
		} else if seenRules[rule.ID] {
			fail("rule %q declared twice", rule.ID)
		}
		seenRules[rule.ID] = true
		if rule.Label == "" {
			fail("rule %s: label is required", name)
		}
		if rule.When == "" {
			fail("rule %s: predicate is required", name)
		}
		if isNonFinite(rule.Points) {
			fail("rule %s: points must be finite", name)
		}
	}

	return errors.Join(errs...)
}

// Lint reports conditions that are legal at load time but will fail or
// misbehave at evaluation time for some inputs.
func (in *Instrument) Lint() []string {
	var warnings []string

	if n := len(in.Tiers); n > 0 {
		if last := in.Tiers[n-1].UpperBound; last < in.Score.Max {
			warnings = append(warnings, fmt.Sprintf("tiers end at %d but scores reach %d", last, in.Score.Max))
		}
		if in.Tiers[0].UpperBound < in.Score.Min {
			warnings = append(warnings, fmt.Sprintf("tier %q lies below minimum score %d", in.Tiers[0].Label, in.Score.Min))
		}
	}

	if in.Aggregation.Mode == AggregateLog {
		scale := in.Aggregation.EffectiveScale()
		for _, rule := range in.Rules {
			if 1+rule.Points/scale <= 0 {
				warnings = append(warnings, fmt.Sprintf("rule %s: 1 + %v/%v is not positive", rule.ID, rule.Points, scale))
			}
		}
	}

	return warnings
}

func isNonFinite(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
