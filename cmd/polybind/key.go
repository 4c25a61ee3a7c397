package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"polybind/internal/binding"
	"polybind/internal/diag"
	"polybind/internal/driver"
	"polybind/internal/mono"
)

var keyCmd = &cobra.Command{
	Use:   "key [packages...]",
	Short: "Print the canonical binding key and instance path of every clause",
	RunE:  runKey,
}

func init() {
	keyCmd.Flags().Bool("disk-cache", false, "keep eligibility verdicts in the user cache directory")
	addOutputFlags(keyCmd)
}

type clauseKey struct {
	Unit     string `json:"unit"`
	Location string `json:"location"`
	Import   string `json:"import"`
	Key      string `json:"key,omitempty"`
	Instance string `json:"instance,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
}

func runKey(cmd *cobra.Command, args []string) error {
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

	dir, err := readDirFlag(cmd)
	if err != nil {
		return err
	}
	prog, units, err := driver.Load(cmd.Context(), dir, packagePatterns(args, cfg))
	if err != nil {
		return err
	}
	// clause resolution reads the eligible sets of the bound packages
	if _, _, err := driver.CheckEligibility(cmd.Context(), prog, opts); err != nil {
		return err
	}

	bag := diag.NewBag(opts.MaxDiagnostics)
	var keys []clauseKey
	for _, u := range units {
		if u.Broken() {
			bag.AddAll(u.Problems)
			continue
		}
		rs, ds := binding.ResolveUnit(cmd.Context(), prog, u)
		bag.AddAll(ds)
		for _, r := range rs {
			keys = append(keys, keyOfClause(r))
		}
	}
	if err := cmd.Context().Err(); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if out.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(keys); err != nil {
			return err
		}
	} else {
		renderKeys(w, keys)
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

func keyOfClause(r *binding.Resolved) clauseKey {
	k := clauseKey{
		Unit:     r.Unit.Path,
		Location: r.Clause.Span.String(),
		Import:   r.Clause.Path,
		Failed:   r.Failed,
	}
	if r.Failed {
		return k
	}
	k.Key = r.Key
	if len(r.Bindings) > 0 && !binding.IsCycleKey(r.Key) {
		k.Instance = mono.InstancePath(mono.Key{Base: r.Target.Path, Canonical: r.Key})
	}
	return k
}

func renderKeys(w io.Writer, keys []clauseKey) {
	for _, k := range keys {
		switch {
		case k.Failed:
			fmt.Fprintf(w, "%s: %s (unresolved)\n", k.Location, k.Import)
		case k.Instance == "":
			fmt.Fprintf(w, "%s: %s (plain import)\n", k.Location, k.Import)
		default:
			fmt.Fprintf(w, "%s: %s{%s}\n    -> %s\n", k.Location, k.Import, k.Key, k.Instance)
		}
	}
}
