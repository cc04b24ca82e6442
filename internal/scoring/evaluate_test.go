package scoring

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/opensource-clinical/bedside/internal/domain"
	"github.com/opensource-clinical/bedside/internal/instruments"
)

func mustBuiltin(t *testing.T, id string) *Table {
	t.Helper()
	inst, err := instruments.LoadBuiltin(id)
	if err != nil {
		t.Fatalf("failed to load %s: %v", id, err)
	}
	table, err := Compile(inst)
	if err != nil {
		t.Fatalf("failed to compile %s: %v", id, err)
	}
	return table
}

func code(v int64) *int64 { return &v }

// linearTable is a small linear instrument whose raw value is offset + 1 when
// flag is set.
func linearTable(offset float64, rounding domain.RoundingMode) *domain.Instrument {
	return &domain.Instrument{
		ID:      "half",
		Name:    "Half",
		Version: "1",
		Variables: []domain.Variable{
			{Name: "flag", Label: "Flag", Kind: domain.KindCategorical, Options: []domain.Option{
				{Label: "No", Code: code(0)}, {Label: "Yes", Code: code(1)},
			}},
		},
		Rules: []domain.PredictorRule{
			{ID: "flag", Label: "Flag", Condition: "Flag = Yes", When: "flag == 1", Points: 1},
		},
		Aggregation: domain.Aggregation{Mode: domain.AggregateLinear, Offset: offset},
		Score:       domain.ScoreBounds{Min: 0, Max: 10},
		Rounding:    rounding,
		Tiers: []domain.RiskTier{
			{UpperBound: 5, Label: "Low", Outcome: 1},
			{UpperBound: 10, Label: "High", Outcome: 2},
		},
		Outcome: domain.Outcome{Key: "rate", Label: "Rate"},
	}
}

func TestFORDDefaults(t *testing.T) {
	table := mustBuiltin(t, "ford")

	eval, err := table.Evaluate(map[string]any{})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if eval.Score != 1 {
		t.Errorf("expected score 1, got %d", eval.Score)
	}
	if eval.Tier.Label != "Low" {
		t.Errorf("expected tier Low, got %s", eval.Tier.Label)
	}
	if eval.OutcomeValue != 1.2 {
		t.Errorf("expected outcome 1.2, got %v", eval.OutcomeValue)
	}
	if eval.ScoreOutcomeValue == nil || *eval.ScoreOutcomeValue != 1.7 {
		t.Errorf("expected per-score outcome 1.7, got %v", eval.ScoreOutcomeValue)
	}
	if len(eval.Components) != 10 {
		t.Fatalf("expected 10 components, got %d", len(eval.Components))
	}
	for _, c := range eval.Components {
		if c.Met != (c.RuleID == "age_45_64") {
			t.Errorf("rule %s: unexpected met=%v", c.RuleID, c.Met)
		}
	}
}

func TestFORDClampsAtMax(t *testing.T) {
	table := mustBuiltin(t, "ford")

	eval, err := table.Evaluate(map[string]any{
		"age":           80,
		"sex":           "Female",
		"gcs":           12,
		"sbp":           80,
		"hr":            120,
		"fracture_site": "Both",
		"transport":     "Ambulance/Air",
		"insurance":     "Medicare",
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if eval.RawValue != 11 {
		t.Errorf("expected raw 11, got %v", eval.RawValue)
	}
	if eval.Score != 10 {
		t.Errorf("expected score clamped to 10, got %d", eval.Score)
	}
	if eval.Tier.Label != "High" {
		t.Errorf("expected tier High, got %s", eval.Tier.Label)
	}
}

func TestPRIMEICUAllUnmet(t *testing.T) {
	table := mustBuiltin(t, "prime_icu")

	eval, err := table.Evaluate(map[string]any{
		"age": 30,
		"sex": "Female",
		"sbp": 110,
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if eval.RawValue != 3 {
		t.Errorf("expected raw exactly 3, got %v", eval.RawValue)
	}
	if eval.Score != 3 {
		t.Errorf("expected score 3, got %d", eval.Score)
	}
	for _, c := range eval.Components {
		if c.Met {
			t.Errorf("rule %s unexpectedly met", c.RuleID)
		}
		if c.Value != 0 || c.Contribution != 0 {
			t.Errorf("rule %s: unmet rule contributed value=%v contribution=%v", c.RuleID, c.Value, c.Contribution)
		}
	}
}

func TestPRIMEICUDefaults(t *testing.T) {
	table := mustBuiltin(t, "prime_icu")

	eval, err := table.Evaluate(nil)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	want := 3 + math.Log(1.28) + math.Log(1.24) + math.Log(0.66)
	if math.Abs(eval.RawValue-want) > 1e-12 {
		t.Errorf("expected raw %v, got %v", want, eval.RawValue)
	}
	if eval.Score != 3 || eval.Tier.Label != "Low Risk" || eval.OutcomeValue != 5.7 {
		t.Errorf("unexpected result: score=%d tier=%s outcome=%v", eval.Score, eval.Tier.Label, eval.OutcomeValue)
	}
}

func TestPRIMEICUHighRisk(t *testing.T) {
	table := mustBuiltin(t, "prime_icu")

	eval, err := table.Evaluate(map[string]any{
		"age":            70,
		"gcs":            6,
		"sbp":            85,
		"rr":             24,
		"o2_sat":         90,
		"transport_mode": "Ambulance",
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if math.Abs(eval.RawValue-8.861064944020708) > 1e-9 {
		t.Errorf("expected raw 8.8611, got %v", eval.RawValue)
	}
	if eval.Score != 9 || eval.Tier.Label != "Highest Risk" {
		t.Errorf("expected 9 / Highest Risk, got %d / %s", eval.Score, eval.Tier.Label)
	}
}

func TestRAMSSevereGCSOnly(t *testing.T) {
	table := mustBuiltin(t, "rams")

	eval, err := table.Evaluate(map[string]any{"gcs": 6})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	want := 2 + math.Log(14.15)
	if math.Abs(eval.RawValue-want) > 1e-12 {
		t.Errorf("expected raw %v, got %v", want, eval.RawValue)
	}
	if math.Round(eval.RawValue*1e4)/1e4 != 4.6497 {
		t.Errorf("expected displayed raw 4.6497, got %v", eval.RawValue)
	}
	if eval.Score != 5 {
		t.Errorf("expected score 5, got %d", eval.Score)
	}
	if eval.Tier.Label != "Moderate Risk" || eval.OutcomeValue != 97.69 {
		t.Errorf("expected Moderate Risk / 97.69, got %s / %v", eval.Tier.Label, eval.OutcomeValue)
	}

	for _, c := range eval.Components {
		if c.Met != (c.RuleID == "e_gcs_severe") {
			t.Errorf("rule %s: unexpected met=%v", c.RuleID, c.Met)
		}
	}
}

func TestRAMSDefaults(t *testing.T) {
	table := mustBuiltin(t, "rams")

	eval, err := table.Evaluate(map[string]any{})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if eval.RawValue != 2 || eval.Score != 2 || eval.Tier.Label != "Low Risk" {
		t.Errorf("expected raw 2 / score 2 / Low Risk, got %v / %d / %s", eval.RawValue, eval.Score, eval.Tier.Label)
	}
}

func TestRAMSMultipleFactors(t *testing.T) {
	table := mustBuiltin(t, "rams")

	eval, err := table.Evaluate(map[string]any{
		"age":    70,
		"sbp":    85,
		"gcs":    6,
		"rr":     24,
		"o2_sat": 90,
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if eval.Score != 8 || eval.Tier.Label != "Highest Risk" {
		t.Errorf("expected 8 / Highest Risk, got %d / %s (raw %v)", eval.Score, eval.Tier.Label, eval.RawValue)
	}
}

func TestCodedOptionsAcceptLabelsAndCodes(t *testing.T) {
	table := mustBuiltin(t, "rams")

	byLabel, err := table.Evaluate(map[string]any{"fall": "Yes"})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	byCode, err := table.Evaluate(map[string]any{"fall": 1})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	byString, err := table.Evaluate(map[string]any{"fall": "1"})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if !reflect.DeepEqual(byLabel, byCode) || !reflect.DeepEqual(byCode, byString) {
		t.Error("label, code and numeric string should produce identical results")
	}
	if !byLabel.Components[11].Met {
		t.Error("expected rule L to be met")
	}
}

func TestDeterminism(t *testing.T) {
	for _, id := range []string{"ford", "prime_icu", "rams"} {
		t.Run(id, func(t *testing.T) {
			table := mustBuiltin(t, id)
			inputs := map[string]any{"age": 67, "gcs": 10, "sbp": 135, "hr": 104}

			first, err := table.Evaluate(inputs)
			if err != nil {
				t.Fatalf("evaluate failed: %v", err)
			}
			for i := 0; i < 20; i++ {
				again, err := table.Evaluate(inputs)
				if err != nil {
					t.Fatalf("evaluate failed: %v", err)
				}
				if !reflect.DeepEqual(first, again) {
					t.Fatalf("evaluation %d differs from the first", i)
				}
			}
		})
	}
}

func TestMissingEqualsDefault(t *testing.T) {
	for _, id := range []string{"ford", "prime_icu", "rams"} {
		t.Run(id, func(t *testing.T) {
			table := mustBuiltin(t, id)
			inst := table.Instrument()

			explicit := make(map[string]any, len(inst.Variables))
			for _, v := range inst.Variables {
				if v.Default != nil {
					explicit[v.Name] = v.Default
				} else {
					explicit[v.Name] = v.Options[0].Label
				}
			}

			omitted, err := table.Evaluate(map[string]any{})
			if err != nil {
				t.Fatalf("evaluate failed: %v", err)
			}
			given, err := table.Evaluate(explicit)
			if err != nil {
				t.Fatalf("evaluate failed: %v", err)
			}
			if !reflect.DeepEqual(omitted, given) {
				t.Error("omitted inputs and explicit defaults should be identical")
			}
		})
	}
}

func TestComponentOrderMatchesDeclaration(t *testing.T) {
	for _, id := range []string{"ford", "prime_icu", "rams"} {
		t.Run(id, func(t *testing.T) {
			table := mustBuiltin(t, id)
			inst := table.Instrument()

			eval, err := table.Evaluate(map[string]any{"gcs": 5, "age": 90})
			if err != nil {
				t.Fatalf("evaluate failed: %v", err)
			}
			if len(eval.Components) != len(inst.Rules) {
				t.Fatalf("expected %d components, got %d", len(inst.Rules), len(eval.Components))
			}
			for i, rule := range inst.Rules {
				if eval.Components[i].RuleID != rule.ID {
					t.Errorf("position %d: expected %s, got %s", i, rule.ID, eval.Components[i].RuleID)
				}
			}
		})
	}
}

func TestScoreBoundsAndTierCoverage(t *testing.T) {
	for _, id := range []string{"ford", "prime_icu", "rams"} {
		t.Run(id, func(t *testing.T) {
			table := mustBuiltin(t, id)
			inst := table.Instrument()

			for score := inst.Score.Min; score <= inst.Score.Max; score++ {
				if _, ok := FindTier(inst.Tiers, score); !ok {
					t.Errorf("score %d has no tier", score)
				}
			}

			extremes := []map[string]any{
				{},
				{"age": 120, "gcs": 3, "sbp": 40, "hr": 220, "rr": 50, "o2_sat": 50, "temp_f": 110},
				{"age": 0, "gcs": 15, "sbp": 260, "hr": 20, "rr": 4, "bmi": 80, "total_time_min": 300},
			}
			for _, inputs := range extremes {
				eval, err := table.Evaluate(inputs)
				if err != nil {
					t.Fatalf("evaluate failed: %v", err)
				}
				if eval.Score < inst.Score.Min || eval.Score > inst.Score.Max {
					t.Errorf("score %d outside [%d, %d]", eval.Score, inst.Score.Min, inst.Score.Max)
				}
			}
		})
	}
}

func TestOutOfRangeComputedAsGiven(t *testing.T) {
	table := mustBuiltin(t, "rams")

	eval, err := table.Evaluate(map[string]any{"gcs": 1})
	if err != nil {
		t.Fatalf("out-of-range input should still evaluate: %v", err)
	}
	if !eval.Components[4].Met {
		t.Error("expected GCS 1 to meet the severe GCS rule")
	}
}

func TestInvalidInputType(t *testing.T) {
	table := mustBuiltin(t, "rams")

	_, err := table.Evaluate(map[string]any{"age": "abc"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUnknownKeysIgnored(t *testing.T) {
	table := mustBuiltin(t, "rams")

	withExtra, err := table.Evaluate(map[string]any{"height_in": 68, "notes": "x"})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	plain, _ := table.Evaluate(nil)
	if !reflect.DeepEqual(withExtra, plain) {
		t.Error("unknown keys should not change the result")
	}
}

func TestRounding(t *testing.T) {
	tests := []struct {
		name     string
		offset   float64
		rounding domain.RoundingMode
		want     int
	}{
		{"half away from zero by default", 1.5, "", 3},
		{"explicit half away from zero", 1.5, domain.RoundHalfAwayFromZero, 3},
		{"half even", 1.5, domain.RoundHalfEven, 2},
		{"half even rounds up to even", 2.5, domain.RoundHalfEven, 4},
		{"below half", 1.4, "", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, err := Evaluate(linearTable(tt.offset, tt.rounding), map[string]any{"flag": "Yes"})
			if err != nil {
				t.Fatalf("evaluate failed: %v", err)
			}
			if eval.Score != tt.want {
				t.Errorf("raw %v: expected %d, got %d", eval.RawValue, tt.want, eval.Score)
			}
		})
	}
}

func TestRoundClamp(t *testing.T) {
	tests := []struct {
		raw  float64
		mode domain.RoundingMode
		want int
	}{
		{2.5, domain.RoundHalfAwayFromZero, 3},
		{2.5, domain.RoundHalfEven, 2},
		{-0.5, domain.RoundHalfAwayFromZero, 0},
		{-3.7, domain.RoundHalfAwayFromZero, 0},
		{99.2, domain.RoundHalfAwayFromZero, 10},
		{1e300, domain.RoundHalfAwayFromZero, 10},
	}
	for _, tt := range tests {
		if got := RoundClamp(tt.raw, tt.mode, 0, 10); got != tt.want {
			t.Errorf("RoundClamp(%v, %s) = %d, want %d", tt.raw, tt.mode, got, tt.want)
		}
	}
}

func TestTierGap(t *testing.T) {
	inst := linearTable(0, "")
	inst.Tiers = []domain.RiskTier{
		{UpperBound: 0, Label: "Low"},
		{UpperBound: 5, Label: "Mid"},
	}

	eval, err := Evaluate(inst, map[string]any{"flag": 1})
	if err != nil {
		t.Fatalf("score 1 is covered, got %v", err)
	}
	if eval.Tier.Label != "Mid" {
		t.Errorf("expected Mid, got %s", eval.Tier.Label)
	}

	inst.Aggregation.Offset = 7
	_, err = Evaluate(inst, map[string]any{"flag": 1})
	if !errors.Is(err, domain.ErrTierNotFound) {
		t.Fatalf("expected ErrTierNotFound, got %v", err)
	}
	if !errors.Is(err, domain.ErrRuleTableDefect) {
		t.Error("tier errors should be rule table defects")
	}
}

func TestLogDomainError(t *testing.T) {
	inst := linearTable(3, "")
	inst.Aggregation.Mode = domain.AggregateLog
	inst.Rules[0].Points = -100

	eval, err := Evaluate(inst, map[string]any{"flag": 0})
	if err != nil {
		t.Fatalf("unmet rule must not trip the log domain: %v", err)
	}
	if eval.RawValue != 3 {
		t.Errorf("expected raw 3, got %v", eval.RawValue)
	}

	_, err = Evaluate(inst, map[string]any{"flag": 1})
	if !errors.Is(err, domain.ErrLogDomain) {
		t.Fatalf("expected ErrLogDomain, got %v", err)
	}
	if !errors.Is(err, domain.ErrRuleTableDefect) {
		t.Error("log domain errors should be rule table defects")
	}
}

func TestLogScale(t *testing.T) {
	inst := linearTable(0, "")
	inst.Aggregation = domain.Aggregation{Mode: domain.AggregateLog, Scale: 50}
	inst.Rules[0].Points = 50

	eval, err := Evaluate(inst, map[string]any{"flag": 1})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if eval.Components[0].Contribution != math.Log(2) {
		t.Errorf("expected ln(2), got %v", eval.Components[0].Contribution)
	}
}
