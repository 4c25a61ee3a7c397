package diag

import (
	"strings"
)

// FormatShort renders ds one per line as "file:line:col: severity Kind: msg",
// in sorted order. Used by golden tests and the short output format.
func FormatShort(ds []Diagnostic) string {
	if len(ds) == 0 {
		return ""
	}
	sorted := append([]Diagnostic(nil), ds...)
	Sort(sorted)
	var b strings.Builder
	for i, d := range sorted {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(d.String())
	}
	return b.String()
}
