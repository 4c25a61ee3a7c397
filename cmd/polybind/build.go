package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"polybind/internal/driver"
)

var buildCmd = &cobra.Command{
	Use:   "build [packages...]",
	Short: "Resolve binding clauses and lower every matched package",
	Long: `build loads the matched packages, checks which named types of every
loaded package may be bound, resolves the //bind: clauses of each unit and
lowers it in the configured mode. With --out the rewritten sources, the
instantiations and a polybind.yaml manifest are written to a directory.`,
	RunE: runBuild,
}

func init() {
	addBuildFlags(buildCmd)
	addOutputFlags(buildCmd)
	buildCmd.Flags().StringP("out", "o", "", "write lowered sources and the manifest to this directory")
	buildCmd.Flags().Bool("warnings-as-errors", false, "fail the build when any warning is reported")
}

func runBuild(cmd *cobra.Command, args []string) error {
	defer dumpTraceOnPanic()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := buildOptions(cmd, cfg)
	if err != nil {
		return err
	}
	out, err := readOutputOptions(cmd)
	if err != nil {
		return err
	}
	outDir, err := cmd.Flags().GetString("out")
	if err != nil {
		return fmt.Errorf("failed to get out flag: %w", err)
	}
	warningsAsErrors, err := cmd.Flags().GetBool("warnings-as-errors")
	if err != nil {
		return fmt.Errorf("failed to get warnings-as-errors flag: %w", err)
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	uiFlag, err := cmd.Root().PersistentFlags().GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := readUIMode(uiFlag)
	if err != nil {
		return err
	}

	dir, err := readDirFlag(cmd)
	if err != nil {
		return err
	}
	prog, units, err := driver.Load(cmd.Context(), dir, packagePatterns(args, cfg))
	if err != nil {
		return err
	}

	var res *driver.Result
	if !quiet && out.format != "json" && shouldUseTUI(mode) {
		res, err = runBuildWithUI(cmd.Context(), "polybind build", prog, units, opts)
	} else {
		res, err = driver.Build(cmd.Context(), prog, units, opts)
	}
	if err != nil {
		return err
	}
	if opts.DiskCache != nil {
		if cerr := opts.DiskCache.Err(); cerr != nil && !quiet {
			fmt.Fprintf(os.Stderr, "warning: disk cache: %v\n", cerr)
		}
	}

	if err := printDiagnostics(cmd.OutOrStdout(), res.Bag, prog, out); err != nil {
		return fmt.Errorf("failed to format diagnostics: %w", err)
	}
	if res.Dropped > 0 && !quiet {
		fmt.Fprintf(os.Stderr, "%d more diagnostics not shown (raise --max-diagnostics)\n", res.Dropped)
	}

	if outDir != "" {
		manifest, err := driver.Write(outDir, res)
		if err != nil {
			return err
		}
		if !quiet && out.format != "json" {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d units and %d instantiations to %s\n",
				len(manifest.Units), len(manifest.Instances), outDir)
		}
	}
	if opts.EnableTimings && out.format != "json" {
		printBuildTimings(os.Stderr, res)
	}
	if res.Failed() || (warningsAsErrors && res.Bag.HasWarnings()) {
		return errBuildFailed
	}
	return nil
}
