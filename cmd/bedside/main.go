package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type rootFlags struct {
	configPath string
	dir        string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, ee.msg)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}

	root := &cobra.Command{
		Use:           "bedside",
		Short:         "Declarative clinical risk scoring",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&f.configPath, "config", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&f.dir, "dir", "", "Directory of additional rule tables (overrides instruments.dir)")

	root.AddCommand(
		newServeCmd(f),
		newListCmd(f),
		newScoreCmd(f),
		newValidateCmd(),
		newCalibrateCmd(f),
	)
	return root
}

// Exit codes.
const (
	exitFailure = 1
	exitInvalid = 2
)

type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func exitError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}
