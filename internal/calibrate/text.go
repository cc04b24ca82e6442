package calibrate

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// WriteText prints the tabulation as aligned columns.
func WriteText(w io.Writer, res *Result) error {
	fmt.Fprintf(w, "%s v%s: %d rows, %d scored, %d skipped\n",
		res.InstrumentID, res.Version, res.Rows, res.Scored, len(res.Skipped))
	fmt.Fprintf(w, "%s observed overall: %s\n\n", res.OutcomeLabel, pct(res.Observed))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tSCORES\tN\tEVENTS\tOBSERVED\tDECLARED")
	for _, b := range res.Tiers {
		fmt.Fprintf(tw, "%s\t%d-%d\t%d\t%d\t%s\t%s\n", b.Label, b.Low, b.High, b.N, b.Events, pct(b.Observed), pct(b.Declared))
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SCORE\tN\tEVENTS\tOBSERVED\tDECLARED")
	for _, b := range res.Scores {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", b.Label, b.N, b.Events, pct(b.Observed), pct(b.Declared))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range res.Skipped {
		fmt.Fprintf(w, "skipped line %d: %s\n", s.Line, s.Error)
	}
	return nil
}

func pct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *v)
}
