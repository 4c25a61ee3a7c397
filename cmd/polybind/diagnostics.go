package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"polybind/internal/diag"
	"polybind/internal/diagfmt"
	"polybind/internal/host"
)

type outputOptions struct {
	format   string
	color    bool
	notes    bool
	fixes    bool
	pathMode diagfmt.PathMode
	baseDir  string
}

func addOutputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("format", "pretty", "output format (pretty|short|json)")
	f.Bool("with-notes", false, "include notes in the output")
	f.Bool("suggest", false, "include suggested fixes")
	f.Bool("fullpath", false, "print absolute file paths")
}

func readOutputOptions(cmd *cobra.Command) (outputOptions, error) {
	var out outputOptions
	var err error
	if out.format, err = cmd.Flags().GetString("format"); err != nil {
		return out, fmt.Errorf("failed to get format flag: %w", err)
	}
	switch out.format {
	case "pretty", "short", "json":
	default:
		return out, fmt.Errorf("unknown format: %s", out.format)
	}
	if out.notes, err = cmd.Flags().GetBool("with-notes"); err != nil {
		return out, fmt.Errorf("failed to get with-notes flag: %w", err)
	}
	if out.fixes, err = cmd.Flags().GetBool("suggest"); err != nil {
		return out, fmt.Errorf("failed to get suggest flag: %w", err)
	}
	fullPath, err := cmd.Flags().GetBool("fullpath")
	if err != nil {
		return out, fmt.Errorf("failed to get fullpath flag: %w", err)
	}
	out.pathMode = diagfmt.PathModeAuto
	if fullPath {
		out.pathMode = diagfmt.PathModeAbsolute
	}
	colorFlag, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return out, fmt.Errorf("failed to get color flag: %w", err)
	}
	if out.color, err = readColorMode(colorFlag); err != nil {
		return out, err
	}
	if out.baseDir, err = baseDir(cmd); err != nil {
		return out, err
	}
	return out, nil
}

// programSources serves file contents from the loaded packages, so
// excerpts match what was checked even if the files changed since.
func programSources(prog *host.Program) diagfmt.SourceFunc {
	if prog == nil {
		return nil
	}
	files := make(map[string][]byte)
	for _, p := range prog.Packages() {
		for name, src := range p.Sources {
			files[name] = src
		}
	}
	return diagfmt.MapSources(files)
}

func printDiagnostics(w io.Writer, bag *diag.Bag, prog *host.Program, opts outputOptions) error {
	switch opts.format {
	case "short":
		diagfmt.Short(w, bag, opts.pathMode, opts.baseDir)
	case "json":
		return diagfmt.JSON(w, bag, diagfmt.JSONOpts{
			IncludePositions: true,
			PathMode:         opts.pathMode,
			BaseDir:          opts.baseDir,
			IncludeNotes:     opts.notes,
			IncludeFixes:     opts.fixes,
			IncludePreviews:  opts.fixes,
			Sources:          programSources(prog),
		})
	default:
		diagfmt.Pretty(w, bag, diagfmt.PrettyOpts{
			Color:     opts.color,
			Context:   2,
			PathMode:  opts.pathMode,
			BaseDir:   opts.baseDir,
			ShowNotes: opts.notes,
			ShowFixes: opts.fixes,
			Sources:   programSources(prog),
		})
	}
	return nil
}
