// Package calibrate tabulates a labelled cohort against an instrument: how
// often the outcome was observed at each score and tier, next to the rates
// the instrument declares. It never fits or changes a table.
package calibrate

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-clinical/bedside/internal/domain"
	"github.com/opensource-clinical/bedside/internal/scoring"
)

// ErrNoOutcomeColumn is returned when the cohort header lacks the outcome column.
var ErrNoOutcomeColumn = errors.New("outcome column not found")

// Row is one labelled patient. Inputs hold the raw cell text; blank cells are
// left out so the variable default applies.
type Row struct {
	Line    int
	Inputs  map[string]any
	Outcome bool
}

// RowError records a row that could not be scored.
type RowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// Bucket is one score or tier with its observed and declared rates, both
// expressed as percentages.
type Bucket struct {
	Label    string   `json:"label"`
	Low      int      `json:"low"`
	High     int      `json:"high"`
	N        int      `json:"n"`
	Events   int      `json:"events"`
	Observed *float64 `json:"observed,omitempty"`
	Declared *float64 `json:"declared,omitempty"`
}

// Result is the full tabulation.
type Result struct {
	InstrumentID string     `json:"instrumentId"`
	Version      string     `json:"version"`
	OutcomeLabel string     `json:"outcomeLabel"`
	Rows         int        `json:"rows"`
	Scored       int        `json:"scored"`
	Events       int        `json:"events"`
	Observed     *float64   `json:"observed,omitempty"`
	Scores       []Bucket   `json:"scores"`
	Tiers        []Bucket   `json:"tiers"`
	Skipped      []RowError `json:"skipped,omitempty"`
}

// Options tune a run.
type Options struct {
	// Workers bounds concurrent evaluations; zero uses GOMAXPROCS.
	Workers int
	// Limit stops reading after this many rows; zero reads everything.
	Limit int
}

// ReadCSV reads a cohort. Columns are matched to variables by name, ignoring
// case; unmatched columns are ignored. The outcome column accepts 1/0,
// true/false and yes/no.
func ReadCSV(r io.Reader, inst *domain.Instrument, outcomeColumn string, limit int) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	outcomeIdx := -1
	columns := make(map[int]string)
	for i, col := range header {
		name := strings.TrimSpace(col)
		if strings.EqualFold(name, outcomeColumn) {
			outcomeIdx = i
			continue
		}
		for _, v := range inst.Variables {
			if strings.EqualFold(v.Name, name) {
				columns[i] = v.Name
				break
			}
		}
	}
	if outcomeIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoOutcomeColumn, outcomeColumn)
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		outcome, err := parseOutcome(record[outcomeIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		inputs := make(map[string]any, len(columns))
		for i, name := range columns {
			if cell := strings.TrimSpace(record[i]); cell != "" {
				inputs[name] = cell
			}
		}
		rows = append(rows, Row{Line: line, Inputs: inputs, Outcome: outcome})

		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func parseOutcome(cell string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "1", "true", "yes", "y":
		return true, nil
	case "0", "false", "no", "n":
		return false, nil
	default:
		return false, fmt.Errorf("outcome %q is not a yes/no value", cell)
	}
}

// Run scores every row and tabulates the outcome. Rows whose inputs fall
// outside the declared domain are skipped and listed; any other evaluation
// error aborts the run.
func Run(ctx context.Context, table *scoring.Table, rows []Row, opts Options) (*Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	evals := make([]*domain.Evaluation, len(rows))
	failures := make([]error, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range rows {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := scoring.ValidateInputs(table.Instrument(), rows[i].Inputs); err != nil {
				failures[i] = err
				return nil
			}
			eval, err := table.Evaluate(rows[i].Inputs)
			if err != nil {
				if errors.Is(err, domain.ErrInputOutOfDomain) || errors.Is(err, domain.ErrInvalidInput) {
					failures[i] = err
					return nil
				}
				return fmt.Errorf("line %d: %w", rows[i].Line, err)
			}
			evals[i] = eval
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return tabulate(table.Instrument(), rows, evals, failures), nil
}

func tabulate(inst *domain.Instrument, rows []Row, evals []*domain.Evaluation, failures []error) *Result {
	res := &Result{
		InstrumentID: inst.ID,
		Version:      inst.Version,
		OutcomeLabel: inst.Outcome.Label,
		Rows:         len(rows),
	}

	lo, hi := inst.Score.Min, inst.Score.Max
	scores := make([]Bucket, hi-lo+1)
	for s := lo; s <= hi; s++ {
		b := Bucket{Label: fmt.Sprintf("%d", s), Low: s, High: s}
		if v, ok := inst.ScoreOutcomes[s]; ok {
			b.Declared = ptr(v)
		}
		scores[s-lo] = b
	}

	tiers := make([]Bucket, len(inst.Tiers))
	for i, tier := range inst.Tiers {
		low, high := scoring.TierBounds(inst.Tiers, lo, i)
		tiers[i] = Bucket{Label: tier.Label, Low: low, High: high, Declared: ptr(tier.Outcome)}
	}

	for i, eval := range evals {
		if eval == nil {
			if failures[i] != nil {
				res.Skipped = append(res.Skipped, RowError{Line: rows[i].Line, Error: failures[i].Error()})
			}
			continue
		}
		res.Scored++
		event := 0
		if rows[i].Outcome {
			event = 1
			res.Events++
		}

		sb := &scores[eval.Score-lo]
		sb.N++
		sb.Events += event

		for t := range tiers {
			if eval.Score >= tiers[t].Low && eval.Score <= tiers[t].High {
				tiers[t].N++
				tiers[t].Events += event
				break
			}
		}
	}

	res.Observed = rate(res.Events, res.Scored)
	for i := range scores {
		scores[i].Observed = rate(scores[i].Events, scores[i].N)
	}
	for i := range tiers {
		tiers[i].Observed = rate(tiers[i].Events, tiers[i].N)
	}
	res.Scores = scores
	res.Tiers = tiers
	return res
}

// rate is a percentage, or nil for an empty bucket.
func rate(events, n int) *float64 {
	if n == 0 {
		return nil
	}
	return ptr(100 * float64(events) / float64(n))
}

func ptr(v float64) *float64 { return &v }
