package project

import (
	"polybind/internal/source"
)

type ImportMeta struct {
	Path string
	Span source.Span
}

// PackageMeta is the import skeleton of a package: enough to order loading
// and to report missing or cyclic imports before type-checking.
type PackageMeta struct {
	Path    string
	Span    source.Span
	Imports []ImportMeta
	Hash    Digest
}
