package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-clinical/bedside/internal/calibrate"
)

type calibrateFlags struct {
	csv     string
	outcome string
	workers int
	limit   int
	format  string
}

func newCalibrateCmd(root *rootFlags) *cobra.Command {
	f := &calibrateFlags{}

	cmd := &cobra.Command{
		Use:   "calibrate <instrument-id>",
		Short: "Compare declared outcome rates with a labelled cohort",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalibrate(cmd.Context(), root, args[0], f, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.csv, "csv", "", "Cohort CSV with one column per variable plus the outcome")
	flags.StringVar(&f.outcome, "outcome", "", "Name of the yes/no outcome column")
	flags.IntVar(&f.workers, "workers", 0, "Concurrent evaluations (default GOMAXPROCS)")
	flags.IntVar(&f.limit, "limit", 0, "Maximum rows to read (0 = all)")
	flags.StringVar(&f.format, "format", "text", "Output format: text or json")
	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func runCalibrate(ctx context.Context, root *rootFlags, id string, f *calibrateFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	registry, err := openRegistry(ctx, root)
	if err != nil {
		return err
	}
	table, err := registry.Get(id)
	if err != nil {
		return exitError(exitInvalid, "%v", err)
	}

	file, err := os.Open(f.csv)
	if err != nil {
		return exitError(exitInvalid, "failed to open cohort: %v", err)
	}
	defer file.Close()

	rows, err := calibrate.ReadCSV(file, table.Instrument(), f.outcome, f.limit)
	if err != nil {
		return exitError(exitInvalid, "failed to read cohort: %v", err)
	}

	res, err := calibrate.Run(ctx, table, rows, calibrate.Options{Workers: f.workers})
	if err != nil {
		return exitError(exitFailure, "calibration failed: %v", err)
	}

	switch f.format {
	case "json":
		return writeJSON(out, res)
	case "text":
		return calibrate.WriteText(out, res)
	default:
		return exitError(exitInvalid, "unknown format %q", f.format)
	}
}
