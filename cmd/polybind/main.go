package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"polybind/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "polybind",
	Short: "Bind interface parameter types of imported packages to concrete types",
	Long: `polybind resolves //bind: clauses on import declarations and lowers each
package either polymorphically (conversions at the use sites) or
monomorphically (specialized copies of the bound packages).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cleanup, err := setupTracing(cmd)
		if err != nil {
			return err
		}
		stopProfiles, err := setupProfiling(cmd)
		if err != nil {
			cleanup()
			return err
		}
		traceCleanup = func() {
			stopProfiles()
			cleanup()
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if traceCleanup != nil {
			traceCleanup()
		}
	},
}

var traceCleanup func()

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(eligibleCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(versionCmd)

	addPersistentFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		if traceCleanup != nil {
			traceCleanup()
		}
		if !errors.Is(err, errBuildFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func addPersistentFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.Bool("quiet", false, "suppress non-essential output")
	pf.Bool("timings", false, "show timing information")
	pf.Int("max-diagnostics", 0, "maximum number of diagnostics to show (0 = from config)")
	pf.String("config", "", "path to polybind.toml or polybind.yaml (default: search upwards)")
	pf.StringP("dir", "C", ".", "directory to load packages from")
	pf.String("ui", "auto", "progress view (auto|on|off)")
	pf.String("trace", "", "trace output file (- for stderr)")
	pf.String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	pf.String("trace-mode", "stream", "trace storage (stream|ring|both)")
	pf.String("trace-format", "auto", "trace format (auto|text|ndjson)")
	pf.Int("trace-ring-size", 4096, "events kept by the ring tracer")
	pf.Duration("trace-heartbeat", 0, "emit a heartbeat event at this interval (0 = off)")
	pf.String("cpu-profile", "", "write a CPU profile to this file")
	pf.String("mem-profile", "", "write a heap profile to this file on exit")
	pf.String("runtime-trace", "", "write a Go runtime trace to this file")
}

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
