package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-clinical/bedside/internal/domain"
)

// Evaluate compiles inst and evaluates inputs against it. Callers that score
// repeatedly should Compile once and call Table.Evaluate.
func Evaluate(inst *domain.Instrument, inputs map[string]any) (*domain.Evaluation, error) {
	t, err := Compile(inst)
	if err != nil {
		return nil, err
	}
	return t.Evaluate(inputs)
}

// Evaluate scores inputs. Missing variables take their declared defaults and
// unknown keys are ignored. Range and option checks are not applied here; see
// ValidateInputs. On error no partial result is returned.
func (t *Table) Evaluate(inputs map[string]any) (*domain.Evaluation, error) {
	resolved, err := ResolveInputs(t.inst, inputs)
	if err != nil {
		return nil, err
	}

	agg := t.inst.Aggregation
	scale := agg.EffectiveScale()

	components := make([]domain.ComponentResult, len(t.rules))
	sum := 0.0
	for i := range t.rules {
		r := &t.rules[i]
		met, err := r.eval(resolved)
		if err != nil {
			return nil, err
		}

		value := 0.0
		if met {
			value = r.rule.Points
		}

		contribution := value
		if agg.Mode == domain.AggregateLog {
			arg := 1 + value/scale
			if arg <= 0 {
				return nil, fmt.Errorf("%w: rule %s: 1 + %v/%v = %v", domain.ErrLogDomain, r.rule.ID, value, scale, arg)
			}
			contribution = math.Log(arg)
		}

		components[i] = domain.ComponentResult{
			RuleID:       r.rule.ID,
			Label:        r.rule.Label,
			Condition:    r.rule.Condition,
			Met:          met,
			Points:       r.rule.Points,
			Value:        value,
			Contribution: contribution,
		}
		sum += contribution
	}

	raw := sum + agg.Offset
	score := RoundClamp(raw, t.inst.EffectiveRounding(), t.inst.Score.Min, t.inst.Score.Max)

	tier, ok := FindTier(t.inst.Tiers, score)
	if !ok {
		return nil, fmt.Errorf("%w: instrument %s score %d", domain.ErrTierNotFound, t.inst.ID, score)
	}

	eval := &domain.Evaluation{
		InstrumentID:      t.inst.ID,
		InstrumentVersion: t.inst.Version,
		Score:             score,
		RawValue:          raw,
		Tier:              tier,
		OutcomeKey:        t.inst.Outcome.Key,
		OutcomeLabel:      t.inst.Outcome.Label,
		OutcomeValue:      tier.Outcome,
		Components:        components,
		Inputs:            resolved,
	}
	if v, ok := t.inst.ScoreOutcomes[score]; ok {
		eval.ScoreOutcomeValue = &v
	}

	return eval, nil
}

// RoundClamp rounds raw to an integer with the given mode and clamps it to [lo, hi].
func RoundClamp(raw float64, mode domain.RoundingMode, lo, hi int) int {
	var r float64
	if mode == domain.RoundHalfEven {
		r = math.RoundToEven(raw)
	} else {
		r = math.Round(raw)
	}

	switch {
	case r < float64(lo):
		return lo
	case r > float64(hi):
		return hi
	default:
		return int(r)
	}
}

// FindTier returns the first tier whose upper bound is at least score.
func FindTier(tiers []domain.RiskTier, score int) (domain.RiskTier, bool) {
	for _, tier := range tiers {
		if score <= tier.UpperBound {
			return tier, true
		}
	}
	return domain.RiskTier{}, false
}

// TierBounds returns the inclusive score range covered by tier i.
func TierBounds(tiers []domain.RiskTier, minScore, i int) (low, high int) {
	low = minScore
	if i > 0 {
		low = tiers[i-1].UpperBound + 1
	}
	return low, tiers[i].UpperBound
}
