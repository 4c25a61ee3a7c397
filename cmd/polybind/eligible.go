package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"polybind/internal/diag"
	"polybind/internal/driver"
)

var eligibleCmd = &cobra.Command{
	Use:   "eligible [packages...]",
	Short: "List the named types that may be bound in each package",
	RunE:  runEligible,
}

func init() {
	eligibleCmd.Flags().Bool("disk-cache", false, "keep eligibility verdicts in the user cache directory")
	eligibleCmd.Flags().Bool("all", false, "also list ineligible candidates with their violations")
	addOutputFlags(eligibleCmd)
}

type eligibleType struct {
	Name       string   `json:"name"`
	Eligible   bool     `json:"eligible"`
	Violations []string `json:"violations,omitempty"`
}

type eligiblePackage struct {
	Path  string         `json:"path"`
	Types []eligibleType `json:"types"`
}

type eligibleOutput struct {
	Packages []eligiblePackage `json:"packages"`
	Checks   int64             `json:"checks"`
}

func runEligible(cmd *cobra.Command, args []string) error {
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
	showAll, err := cmd.Flags().GetBool("all")
	if err != nil {
		return fmt.Errorf("failed to get all flag: %w", err)
	}

	dir, err := readDirFlag(cmd)
	if err != nil {
		return err
	}
	prog, units, err := driver.Load(cmd.Context(), dir, packagePatterns(args, cfg))
	if err != nil {
		return err
	}
	verdicts, checks, err := driver.CheckEligibility(cmd.Context(), prog, opts)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(units))
	for _, u := range units {
		wanted[u.Path] = true
	}
	bag := diag.NewBag(opts.MaxDiagnostics)
	report := eligibleOutput{Checks: checks}
	for _, v := range verdicts {
		if !wanted[v.Package.Path] {
			continue
		}
		if v.Package.Broken() {
			bag.AddAll(v.Package.Problems)
		}
		pkg := eligiblePackage{Path: v.Package.Path, Types: []eligibleType{}}
		for _, r := range v.Results {
			if !r.Eligible && !showAll {
				continue
			}
			t := eligibleType{Name: r.Name, Eligible: r.Eligible}
			for _, d := range r.Violations {
				t.Violations = append(t.Violations, d.Message)
				if showAll {
					bag.Add(d)
				}
			}
			pkg.Types = append(pkg.Types, t)
		}
		report.Packages = append(report.Packages, pkg)
	}
	sort.Slice(report.Packages, func(i, j int) bool { return report.Packages[i].Path < report.Packages[j].Path })

	w := cmd.OutOrStdout()
	if out.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		renderEligible(w, report, out.color)
		bag.Sort()
		if err := printDiagnostics(w, bag, prog, out); err != nil {
			return err
		}
	}
	if bag.HasErrors() {
		return errBuildFailed
	}
	return nil
}

func renderEligible(w io.Writer, report eligibleOutput, useColor bool) {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	pkgColor := color.New(color.Bold)
	if !useColor {
		ok.DisableColor()
		bad.DisableColor()
		pkgColor.DisableColor()
	}
	for _, p := range report.Packages {
		fmt.Fprintln(w, pkgColor.Sprint(p.Path))
		if len(p.Types) == 0 {
			fmt.Fprintln(w, "  (none)")
			continue
		}
		for _, t := range p.Types {
			if t.Eligible {
				fmt.Fprintf(w, "  %s %s\n", ok.Sprint("+"), t.Name)
				continue
			}
			fmt.Fprintf(w, "  %s %s (%d violations)\n", bad.Sprint("-"), t.Name, len(t.Violations))
		}
	}
}
