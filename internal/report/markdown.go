package report

import (
	"fmt"
	"strings"

	"github.com/opensource-clinical/bedside/internal/domain"
)

// Markdown renders a report as Markdown.
func Markdown(r *Report) string {
	var b strings.Builder

	// Result
	fmt.Fprintf(&b, "# %s\n\n", r.Name)
	fmt.Fprintf(&b, "**Score (%s):** %d\n", r.ScoreRange, r.Score)
	fmt.Fprintf(&b, "**Risk Level:** %s\n", r.TierLabel)
	fmt.Fprintf(&b, "**%s:** %s%%\n", r.OutcomeLabel, formatPercent(r.OutcomeValue))
	if r.ScoreOutcomeValue != nil {
		fmt.Fprintf(&b, "**Observed rate at this score:** %s%%\n", formatPercent(*r.ScoreOutcomeValue))
	}
	fmt.Fprintf(&b, "**Raw value:** %.4f\n\n", r.RawValue)

	// Inputs
	if len(r.Inputs) > 0 {
		b.WriteString("## Inputs\n\n")
		for _, g := range r.Inputs {
			fmt.Fprintf(&b, "**%s**\n", g.Name)
			for _, f := range g.Fields {
				fmt.Fprintf(&b, "- %s: %s\n", f.Label, f.Value)
			}
			b.WriteString("\n")
		}
	}

	// Reference
	b.WriteString("## Risk Level Reference\n\n")
	fmt.Fprintf(&b, "| %s | Risk Level | %s |\n", r.Columns.Score, r.Columns.Outcome)
	b.WriteString("|---|---|---|\n")
	for _, row := range r.Reference {
		label := row.Label
		if row.Current {
			label = "**" + label + "**"
		}
		fmt.Fprintf(&b, "| %s | %s | %s%% |\n", row.ScoreRange, label, formatPercent(row.Outcome))
	}
	b.WriteString("\n")

	// Breakdown
	b.WriteString("## Component Breakdown\n\n")
	if r.Columns.Contribution != "" {
		fmt.Fprintf(&b, "| Predictor | Condition | Met? | %s | %s |\n", r.Columns.Points, r.Columns.Contribution)
		b.WriteString("|---|---|---|---|---|\n")
	} else {
		fmt.Fprintf(&b, "| Predictor | Condition | Met? | %s |\n", r.Columns.Points)
		b.WriteString("|---|---|---|---|\n")
	}
	for _, row := range r.Breakdown {
		met := "No"
		if row.Met {
			met = "Yes"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %g |", row.Label, row.Condition, met, row.Points)
		if row.Contribution != nil {
			fmt.Fprintf(&b, " %.4f |", *row.Contribution)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	// Active
	b.WriteString("## Active Components\n\n")
	if len(r.Active) == 0 {
		b.WriteString("No risk factors are present with the current inputs.\n")
	}
	for _, bar := range r.Active {
		fmt.Fprintf(&b, "- %s: %g\n", bar.Label, bar.Value)
	}

	return b.String()
}

// CatalogMarkdown renders the instrument catalog.
func CatalogMarkdown(items []domain.InstrumentSummary) string {
	var b strings.Builder

	b.WriteString("# Clinical Scoring Tools\n\n")
	if len(items) == 0 {
		b.WriteString("No instruments are loaded.\n")
		return b.String()
	}
	for _, it := range items {
		fmt.Fprintf(&b, "## %s (`%s`, v%s)\n\n", it.Name, it.ID, it.Version)
		if it.Tagline != "" {
			fmt.Fprintf(&b, "%s\n\n", it.Tagline)
		}
		fmt.Fprintf(&b, "- **Score range:** %s\n", it.ScoreRange)
		fmt.Fprintf(&b, "- **Outcome:** %s\n", it.OutcomeLabel)
		fmt.Fprintf(&b, "- **Rules:** %d (%s)\n\n", it.Rules, it.Source)
	}
	return b.String()
}

func formatPercent(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
