package driver

import (
	"sync"

	"polybind/internal/diag"
	"polybind/internal/ntec"
	"polybind/internal/project"
)

// minimal per-process cache by package path + digest
type cached struct {
	digest  project.Digest
	results []ntec.Result
	broken  bool
	first   *diag.Diagnostic
}

// PackageCache keeps eligibility verdicts and load failures of packages in
// memory. It implements ntec.Store.
type PackageCache struct {
	mu     sync.RWMutex
	byPath map[string]cached
}

// NewPackageCache creates a PackageCache with the given capacity hint.
func NewPackageCache(capHint int) *PackageCache {
	return &PackageCache{byPath: make(map[string]cached, capHint)}
}

func (c *PackageCache) lookup(path string, digest project.Digest) (cached, bool) {
	c.mu.RLock()
	rec, ok := c.byPath[path]
	c.mu.RUnlock()
	if !ok || rec.digest != digest {
		return cached{}, false
	}
	return rec, true
}

func (c *PackageCache) Get(path string, digest project.Digest) ([]ntec.Result, bool) {
	rec, ok := c.lookup(path, digest)
	if !ok || rec.broken {
		return nil, false
	}
	return rec.results, true
}

func (c *PackageCache) Put(path string, digest project.Digest, results []ntec.Result) {
	c.mu.Lock()
	c.byPath[path] = cached{digest: digest, results: results}
	c.mu.Unlock()
}

// MarkBroken remembers that the package failed to load, with its first
// problem for replay.
func (c *PackageCache) MarkBroken(path string, digest project.Digest, first *diag.Diagnostic) {
	c.mu.Lock()
	c.byPath[path] = cached{digest: digest, broken: true, first: first}
	c.mu.Unlock()
}

// Broken reports a remembered load failure.
func (c *PackageCache) Broken(path string, digest project.Digest) (*diag.Diagnostic, bool) {
	rec, ok := c.lookup(path, digest)
	if !ok || !rec.broken {
		return nil, false
	}
	return rec.first, true
}

func (c *PackageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byPath)
}

// tiered looks in memory, then on disk, under dependency-aware digests.
type tiered struct {
	mem    *PackageCache
	disk   *DiskCache
	hashes map[string]project.Digest
}

func newTiered(mem *PackageCache, disk *DiskCache, hashes map[string]project.Digest) ntec.Store {
	if mem == nil && disk == nil {
		return nil
	}
	return &tiered{mem: mem, disk: disk, hashes: hashes}
}

func (t *tiered) digest(path string, d project.Digest) project.Digest {
	if h, ok := t.hashes[path]; ok {
		return h
	}
	return d
}

func (t *tiered) Get(path string, d project.Digest) ([]ntec.Result, bool) {
	d = t.digest(path, d)
	if t.mem != nil {
		if rs, ok := t.mem.Get(path, d); ok {
			return rs, true
		}
	}
	if t.disk != nil {
		if rs, ok := t.disk.Get(path, d); ok {
			if t.mem != nil {
				t.mem.Put(path, d, rs)
			}
			return rs, true
		}
	}
	return nil, false
}

func (t *tiered) Put(path string, d project.Digest, results []ntec.Result) {
	d = t.digest(path, d)
	if t.mem != nil {
		t.mem.Put(path, d, results)
	}
	if t.disk != nil {
		t.disk.Put(path, d, results)
	}
}
