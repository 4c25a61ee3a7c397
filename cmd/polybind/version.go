package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"polybind/internal/version"
)

// versionFields selects the optional lines of the version output.
type versionFields struct {
	commit, date, toolchain bool
}

type versionJSON struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show polybind build information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	f := versionCmd.Flags()
	f.Bool("hash", false, "include the git commit")
	f.Bool("date", false, "include the build date")
	f.Bool("full", false, "include commit, date and Go toolchain")
	f.String("format", "pretty", "output format (pretty|json)")
}

func runVersion(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	format, _ := f.GetString("format")
	full, _ := f.GetBool("full")
	var sel versionFields
	sel.commit, _ = f.GetBool("hash")
	sel.date, _ = f.GetBool("date")
	if full {
		sel = versionFields{commit: true, date: true, toolchain: true}
	}

	info := version.Current()
	switch strings.ToLower(format) {
	case "json":
		return writeVersionJSON(cmd.OutOrStdout(), info, sel)
	case "pretty":
		colorFlag, err := cmd.Root().PersistentFlags().GetString("color")
		if err != nil {
			return fmt.Errorf("failed to get color flag: %w", err)
		}
		useColor, err := readColorMode(colorFlag)
		if err != nil {
			return err
		}
		writeVersionPretty(cmd.OutOrStdout(), info, sel, useColor)
		return nil
	}
	return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
}

func writeVersionPretty(w io.Writer, info version.Info, sel versionFields, useColor bool) {
	v := info.Version
	if useColor {
		v = version.Colored(v)
	}
	fmt.Fprintf(w, "polybind %s\n", v)
	if sel.commit {
		commit := orUnknown(info.ShortCommit())
		if info.Modified {
			commit += " (modified)"
		}
		fmt.Fprintf(w, "commit: %s\n", commit)
	}
	if sel.date {
		fmt.Fprintf(w, "built:  %s\n", orUnknown(info.Date))
	}
	if sel.toolchain {
		fmt.Fprintf(w, "go:     %s\n", orUnknown(info.GoVersion))
	}
}

func writeVersionJSON(w io.Writer, info version.Info, sel versionFields) error {
	out := versionJSON{Tool: "polybind", Version: info.Version}
	if sel.commit {
		out.GitCommit = orUnknown(info.Commit)
		out.Modified = info.Modified
	}
	if sel.date {
		out.BuildDate = orUnknown(info.Date)
	}
	if sel.toolchain {
		out.GoVersion = info.GoVersion
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
