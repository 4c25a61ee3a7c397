package diagfmt

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const autoBasenameOver = 40

func formatPath(path string, mode PathMode, base string) string {
	if path == "" {
		return ""
	}
	switch mode {
	case PathModeAbsolute:
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	case PathModeRelative:
		return relativeTo(path, base)
	case PathModeBasename:
		return filepath.Base(path)
	}
	if base != "" && filepath.IsAbs(path) {
		if rel := relativeTo(path, base); rel != path {
			return rel
		}
	}
	if filepath.IsAbs(path) && len(path) > autoBasenameOver {
		return filepath.Base(path)
	}
	return path
}

func relativeTo(path, base string) string {
	if base == "" {
		return path
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// sourceCache memoizes file contents for one formatting call.
type sourceCache struct {
	mu    sync.Mutex
	fn    SourceFunc
	files map[string][]byte
}

func newSourceCache(fn SourceFunc) *sourceCache {
	return &sourceCache{fn: fn, files: make(map[string][]byte)}
}

func (c *sourceCache) get(file string) ([]byte, bool) {
	if file == "" {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if src, ok := c.files[file]; ok {
		return src, src != nil
	}
	var (
		src []byte
		ok  bool
	)
	if c.fn != nil {
		src, ok = c.fn(file)
	} else if data, err := os.ReadFile(file); err == nil {
		src, ok = data, true
	}
	if !ok {
		src = nil
	}
	c.files[file] = src
	return src, ok
}

// MapSources serves file contents from memory, falling back to nothing.
func MapSources(files map[string][]byte) SourceFunc {
	return func(file string) ([]byte, bool) {
		src, ok := files[file]
		return src, ok
	}
}
