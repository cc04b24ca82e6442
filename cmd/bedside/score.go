package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opensource-clinical/bedside/internal/catalog"
	"github.com/opensource-clinical/bedside/internal/domain"
	"github.com/opensource-clinical/bedside/internal/instruments"
	"github.com/opensource-clinical/bedside/internal/report"
	"github.com/opensource-clinical/bedside/internal/scoring"
)

// openRegistry loads built-in and directory instruments. Stored custom
// instruments belong to a running server and are not read here.
func openRegistry(ctx context.Context, root *rootFlags) (*scoring.Registry, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	registry := scoring.NewRegistry(logger)
	if err := catalog.NewLoader(cfg.Instruments, nil, logger).Reload(ctx, registry); err != nil {
		return nil, exitError(exitInvalid, "failed to load instruments: %v", err)
	}
	return registry, nil
}

func newListCmd(root *rootFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available instruments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry(cmd.Context(), root)
			if err != nil {
				return err
			}
			return writeCatalog(cmd.OutOrStdout(), registry.List(), format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json or markdown")
	return cmd
}

func writeCatalog(w io.Writer, items []domain.InstrumentSummary, format string) error {
	switch format {
	case "json":
		return writeJSON(w, items)
	case "markdown", "md":
		_, err := io.WriteString(w, report.CatalogMarkdown(items))
		return err
	case "text":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tVERSION\tSCORE\tRULES\tSOURCE\tNAME")
		for _, s := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", s.ID, s.Version, s.ScoreRange, s.Rules, s.Source, s.Name)
		}
		return tw.Flush()
	default:
		return exitError(exitInvalid, "unknown format %q", format)
	}
}

type scoreFlags struct {
	set    []string
	input  string
	format string
}

func newScoreCmd(root *rootFlags) *cobra.Command {
	f := &scoreFlags{}

	cmd := &cobra.Command{
		Use:   "score <instrument-id>",
		Short: "Score one set of inputs",
		Long: `Score one set of inputs against an instrument.

Inputs come from --input (a JSON or YAML mapping) and --set name=value pairs,
which take precedence. Variables left out use their declared defaults.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), root, args[0], f, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringArrayVar(&f.set, "set", nil, "Input as name=value (may be repeated)")
	cmd.Flags().StringVar(&f.input, "input", "", "JSON or YAML file of inputs")
	cmd.Flags().StringVar(&f.format, "format", "text", "Output format: text, json or yaml")
	return cmd
}

func runScore(ctx context.Context, root *rootFlags, id string, f *scoreFlags, out io.Writer) error {
	inputs, err := collectInputs(f.input, f.set)
	if err != nil {
		return exitError(exitInvalid, "%v", err)
	}

	registry, err := openRegistry(ctx, root)
	if err != nil {
		return err
	}
	table, err := registry.Get(id)
	if err != nil {
		return exitError(exitInvalid, "%v", err)
	}

	if err := scoring.ValidateInputs(table.Instrument(), inputs); err != nil {
		return exitError(exitInvalid, "invalid inputs:\n  %s", strings.ReplaceAll(err.Error(), "\n", "\n  "))
	}

	eval, err := table.Evaluate(inputs)
	if err != nil {
		return exitError(exitFailure, "evaluation failed: %v", err)
	}

	switch f.format {
	case "json":
		return writeJSON(out, eval)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(eval); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		_, err := io.WriteString(out, report.Markdown(report.Build(table.Instrument(), eval)))
		return err
	default:
		return exitError(exitInvalid, "unknown format %q", f.format)
	}
}

// collectInputs merges an inputs file with --set pairs. --set values stay
// strings; the engine coerces them against the variable's declared kind.
func collectInputs(path string, pairs []string) (map[string]any, error) {
	inputs := make(map[string]any)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read inputs: %w", err)
		}
		// YAML is a superset of JSON.
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("parse inputs %s: %w", path, err)
		}
		if inputs == nil {
			inputs = make(map[string]any)
		}
	}

	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("--set %q: want name=value", pair)
		}
		inputs[name] = strings.TrimSpace(value)
	}
	return inputs, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a rule table file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0], cmd.OutOrStdout())
		},
	}
}

func runValidate(path string, out io.Writer) error {
	inst, err := instruments.LoadFile(path)
	if err != nil {
		return exitError(exitInvalid, "%v", err)
	}

	table, err := scoring.Compile(inst)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTable) {
			return exitError(exitInvalid, "%s: invalid rule table:\n  %s", path, strings.ReplaceAll(err.Error(), "\n", "\n  "))
		}
		return exitError(exitFailure, "%s: %v", path, err)
	}

	for _, warning := range table.Instrument().Lint() {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	fmt.Fprintf(out, "ok: %s v%s (%d rules, %d tiers, score %s)\n",
		inst.ID, inst.Version, len(inst.Rules), len(inst.Tiers), inst.ScoreRange())
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
