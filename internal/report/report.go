// Package report turns an evaluation into a presentation-ready view: the risk
// reference table, the component breakdown and the active-factor chart.
package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-clinical/bedside/internal/domain"
	"github.com/opensource-clinical/bedside/internal/scoring"
)

// Report is everything a front end needs to show one result.
type Report struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generatedAt"`

	InstrumentID string `json:"instrumentId"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	ScoreRange   string `json:"scoreRange"`

	Score        int     `json:"score"`
	RawValue     float64 `json:"rawValue"` // rounded to 4 places
	TierLabel    string  `json:"tierLabel"`
	TierColor    string  `json:"tierColor"`
	OutcomeLabel string  `json:"outcomeLabel"`
	OutcomeValue float64 `json:"outcomeValue"`

	ScoreOutcomeValue *float64 `json:"scoreOutcomeValue,omitempty"`

	Columns   Columns        `json:"columns"`
	Highlight Highlight      `json:"highlight"`
	Reference []ReferenceRow `json:"reference"`
	Breakdown []BreakdownRow `json:"breakdown"`
	Active    []ChartBar     `json:"active"`
	Inputs    []InputGroup   `json:"inputs"`
}

// Columns carries the instrument's column labels.
type Columns struct {
	Score        string `json:"score"`
	Outcome      string `json:"outcome"`
	Points       string `json:"points"`
	Contribution string `json:"contribution,omitempty"`
	Chart        string `json:"chart"`
}

// Highlight styles the current tier's reference row.
type Highlight struct {
	Color     string `json:"color,omitempty"`
	TextColor string `json:"textColor,omitempty"`
}

// ReferenceRow is one tier of the risk reference table.
type ReferenceRow struct {
	ScoreRange string  `json:"scoreRange"`
	Label      string  `json:"label"`
	Color      string  `json:"color"`
	Outcome    float64 `json:"outcome"`
	Current    bool    `json:"current"`
}

// BreakdownRow is one rule of the component breakdown.
type BreakdownRow struct {
	Label     string  `json:"label"`
	Condition string  `json:"condition"`
	Met       bool    `json:"met"`
	Points    float64 `json:"points"`

	// Contribution is set for log-mode instruments, rounded to 4 places.
	Contribution *float64 `json:"contribution,omitempty"`
}

// ChartBar is one met rule in the active-factor chart.
type ChartBar struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// InputGroup lists the resolved inputs of one variable group.
type InputGroup struct {
	Name   string       `json:"name"`
	Fields []InputField `json:"fields"`
}

// InputField is one resolved input as the rules saw it.
type InputField struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Build assembles a report. The evaluation must come from inst.
func Build(inst *domain.Instrument, eval *domain.Evaluation) *Report {
	d := inst.Descriptor
	logMode := inst.Aggregation.Mode == domain.AggregateLog

	r := &Report{
		ID:                uuid.New().String(),
		GeneratedAt:       time.Now().UTC(),
		InstrumentID:      inst.ID,
		Name:              inst.Name,
		Version:           inst.Version,
		ScoreRange:        inst.ScoreRange(),
		Score:             eval.Score,
		RawValue:          Round4(eval.RawValue),
		TierLabel:         eval.Tier.Label,
		TierColor:         eval.Tier.Color,
		OutcomeLabel:      inst.Outcome.Label,
		OutcomeValue:      eval.OutcomeValue,
		ScoreOutcomeValue: eval.ScoreOutcomeValue,
		Columns: Columns{
			Score:   fallback(d.ScoreColumn, inst.Name),
			Outcome: fallback(d.OutcomeColumn, inst.Outcome.Label),
			Points:  fallback(d.PointsColumn, "Points"),
			Chart:   fallback(d.ChartLabel, "Points"),
		},
		Highlight: Highlight{Color: d.HighlightColor, TextColor: d.HighlightTextColor},
	}
	if logMode {
		r.Columns.Contribution = fallback(d.ContributionColumn, "Contribution")
	}

	for i, tier := range inst.Tiers {
		low, high := scoring.TierBounds(inst.Tiers, inst.Score.Min, i)
		r.Reference = append(r.Reference, ReferenceRow{
			ScoreRange: FormatRange(low, high),
			Label:      tier.Label,
			Color:      tier.Color,
			Outcome:    tier.Outcome,
			Current:    tier.UpperBound == eval.Tier.UpperBound,
		})
	}

	chartContribution := d.ChartField == domain.ChartContribution
	for _, c := range eval.Components {
		row := BreakdownRow{
			Label:     c.Label,
			Condition: c.Condition,
			Met:       c.Met,
			Points:    c.Value,
		}
		if logMode {
			v := Round4(c.Contribution)
			row.Contribution = &v
		}
		r.Breakdown = append(r.Breakdown, row)

		if !c.Met {
			continue
		}
		bar := ChartBar{Label: c.Label, Value: c.Value}
		if chartContribution {
			bar.Value = Round4(c.Contribution)
		}
		r.Active = append(r.Active, bar)
	}
	sort.SliceStable(r.Active, func(i, j int) bool {
		return math.Abs(r.Active[i].Value) < math.Abs(r.Active[j].Value)
	})

	r.Inputs = groupInputs(inst, eval.Inputs)

	return r
}

// FormatRange renders an inclusive score range, collapsing a single score.
func FormatRange(low, high int) string {
	if low == high {
		return fmt.Sprintf("%d", low)
	}
	return fmt.Sprintf("%d–%d", low, high)
}

// Round4 rounds to four decimal places for display.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func groupInputs(inst *domain.Instrument, inputs map[string]any) []InputGroup {
	var groups []InputGroup
	index := make(map[string]int)

	for i := range inst.Variables {
		v := &inst.Variables[i]
		value, ok := inputs[v.Name]
		if !ok {
			continue
		}
		name := fallback(v.Group, "General")
		pos, seen := index[name]
		if !seen {
			pos = len(groups)
			index[name] = pos
			groups = append(groups, InputGroup{Name: name})
		}
		groups[pos].Fields = append(groups[pos].Fields, InputField{
			Name:  v.Name,
			Label: v.Label,
			Value: displayValue(v, value),
		})
	}
	return groups
}

func displayValue(v *domain.Variable, value any) string {
	if code, ok := value.(int64); ok {
		for _, opt := range v.Options {
			if opt.Code != nil && *opt.Code == code {
				return opt.Label
			}
		}
	}
	if f, ok := value.(float64); ok {
		return fmt.Sprintf("%g", f)
	}
	return fmt.Sprintf("%v", value)
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
