package domain

import (
	"errors"
	"strings"
	"testing"
)

func validInstrument() *Instrument {
	return &Instrument{
		ID: "demo", Name: "Demo", Version: "1.0.0",
		Variables: []Variable{
			{Name: "age", Label: "Age", Kind: KindContinuous, Min: 0, Max: 120, Default: 50},
			sexVariable(),
		},
		Rules: []PredictorRule{
			{ID: "old", Label: "Age > 65", When: "age > 65.0", Points: 2},
			{ID: "male", Label: "Male", When: "sex == 1", Points: 1},
		},
		Aggregation: Aggregation{Mode: AggregateLinear},
		Score:       ScoreBounds{Min: 0, Max: 3},
		Tiers: []RiskTier{
			{UpperBound: 1, Label: "Low", Outcome: 1},
			{UpperBound: 3, Label: "High", Outcome: 10},
		},
		ScoreOutcomes: map[int]float64{0: 0.5, 3: 12},
	}
}

func TestValidateAcceptsWellFormedTable(t *testing.T) {
	if err := validInstrument().Validate(); err != nil {
		t.Fatalf("expected valid table, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Instrument)
		want   string
	}{
		{"MissingID", func(in *Instrument) { in.ID = "" }, "id is required"},
		{"BadMode", func(in *Instrument) { in.Aggregation.Mode = "product" }, "aggregation mode"},
		{"NegativeScale", func(in *Instrument) {
			in.Aggregation = Aggregation{Mode: AggregateLog, Scale: -1}
		}, "log scale"},
		{"InvertedBounds", func(in *Instrument) { in.Score = ScoreBounds{Min: 5, Max: 1} }, "exceeds max"},
		{"NoTiers", func(in *Instrument) { in.Tiers = nil }, "at least one risk tier"},
		{"UnorderedTiers", func(in *Instrument) { in.Tiers[1].UpperBound = 1 }, "must exceed previous"},
		{"DuplicateRule", func(in *Instrument) { in.Rules[1].ID = "old" }, "declared twice"},
		{"EmptyPredicate", func(in *Instrument) { in.Rules[0].When = "" }, "predicate is required"},
		{"ScoreOutcomeOutOfRange", func(in *Instrument) { in.ScoreOutcomes[9] = 1 }, "outside"},
		{"DefaultOutOfRange", func(in *Instrument) { in.Variables[0].Default = 200 }, "default"},
		{"MixedCodes", func(in *Instrument) { in.Variables[1].Options[1].Code = nil }, "codes or none"},
		{"BadRounding", func(in *Instrument) { in.Rounding = "up" }, "rounding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInstrument()
			tt.mutate(in)

			err := in.Validate()
			if !errors.Is(err, ErrInvalidTable) {
				t.Fatalf("expected ErrInvalidTable, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	in := validInstrument()
	in.ID = ""
	in.Name = ""
	in.Tiers = nil

	err := in.Validate()
	if n := len(strings.Split(err.Error(), "\n")); n != 3 {
		t.Errorf("expected 3 violations, got %d: %v", n, err)
	}
}

func TestLint(t *testing.T) {
	if warnings := validInstrument().Lint(); len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}

	in := validInstrument()
	in.Tiers = in.Tiers[:1]
	in.Aggregation = Aggregation{Mode: AggregateLog, Scale: 1}
	in.Rules[0].Points = -2

	warnings := in.Lint()
	if len(warnings) != 2 {
		t.Fatalf("expected tier coverage and log domain warnings, got %v", warnings)
	}
}

func TestClonesAreIndependent(t *testing.T) {
	in := validInstrument()
	clone := in.Clone()

	clone.Rules[0].Points = 99
	clone.ScoreOutcomes[0] = 99
	clone.Tiers[0].Label = "Changed"

	if in.Rules[0].Points == 99 || in.ScoreOutcomes[0] == 99 || in.Tiers[0].Label == "Changed" {
		t.Error("mutating a clone changed the original")
	}
}

func TestEffectiveDefaults(t *testing.T) {
	in := validInstrument()
	if in.EffectiveRounding() != RoundHalfAwayFromZero {
		t.Errorf("expected half-away-from-zero by default, got %s", in.EffectiveRounding())
	}
	if got := in.ScoreRange(); got == "" {
		t.Error("expected a score range")
	}
}
