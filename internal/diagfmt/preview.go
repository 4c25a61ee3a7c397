package diagfmt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"polybind/internal/diag"
)

type fixEditPreview struct {
	before []string
	after  []string
}

// buildFixEditPreview renders the lines an edit touches before and after
// applying it.
func buildFixEditPreview(src []byte, edit diag.FixEdit) (fixEditPreview, error) {
	if src == nil {
		return fixEditPreview{}, errors.New("no source")
	}
	start, end := edit.Span.Start.Offset, edit.Span.End.Offset
	if !edit.Span.End.IsValid() {
		end = start
	}
	if start < 0 || end < start || end > len(src) {
		return fixEditPreview{}, fmt.Errorf("edit span %d:%d out of range", start, end)
	}

	blockStart := bytes.LastIndexByte(src[:start], '\n') + 1
	blockEnd := len(src)
	if i := bytes.IndexByte(src[end:], '\n'); i >= 0 {
		blockEnd = end + i
	}
	original := src[blockStart:blockEnd]

	after := make([]byte, 0, len(original)+len(edit.NewText))
	after = append(after, src[blockStart:start]...)
	after = append(after, edit.NewText...)
	after = append(after, src[end:blockEnd]...)

	return fixEditPreview{
		before: splitPreviewLines(original),
		after:  splitPreviewLines(after),
	}, nil
}

func splitPreviewLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	return strings.Split(strings.TrimRight(string(content), "\n"), "\n")
}

func oldText(src []byte, edit diag.FixEdit) string {
	start, end := edit.Span.Start.Offset, edit.Span.End.Offset
	if src == nil || start < 0 || end < start || end > len(src) {
		return ""
	}
	return string(src[start:end])
}
