package diagfmt

// PathMode specifies how file paths are displayed.
type PathMode uint8

const (
	// PathModeAuto uses a path relative to BaseDir when possible and the
	// basename of long absolute paths.
	PathModeAuto PathMode = iota
	// PathModeAbsolute always uses absolute paths.
	PathModeAbsolute
	PathModeRelative
	PathModeBasename
)

// SourceFunc returns the contents of a file named by a span.
type SourceFunc func(file string) ([]byte, bool)

// PrettyOpts configures pretty-printing of diagnostics.
type PrettyOpts struct {
	Color    bool
	Context  int8
	PathMode PathMode
	BaseDir  string
	// Width truncates source lines; 0 means unlimited.
	Width     uint8
	ShowNotes bool
	ShowFixes bool
	// Sources resolves file contents; nil reads from disk.
	Sources SourceFunc
}

// JSONOpts configures JSON output of diagnostics.
type JSONOpts struct {
	IncludePositions bool
	PathMode         PathMode
	BaseDir          string
	Max              int // trims the output, not the bag
	IncludeNotes     bool
	IncludeFixes     bool
	IncludePreviews  bool
	Sources          SourceFunc
}
