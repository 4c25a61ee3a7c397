package driver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"polybind/internal/ntec"
	"polybind/internal/project"
)

// diskSchema changes whenever diskEntry or ntec.Result changes shape.
const diskSchema uint16 = 2

// maxDiskErrs bounds the errors DiskCache keeps for Err.
const maxDiskErrs = 8

// DiskCache keeps eligibility verdicts between runs, one msgpack file per
// package path and dependency-aware digest. Entries are replaced by
// rename, so readers never see a partial write.
type DiskCache struct {
	dir string

	hits, misses atomic.Int64

	mu   sync.Mutex
	errs []error
}

type diskEntry struct {
	Schema uint16
	Path   string
	Digest project.Digest
	// Eligible repeats the eligible names for inspection with msgpack tools.
	Eligible []string
	Verdicts []ntec.Result
}

// OpenDiskCache uses app under the user cache directory.
func OpenDiskCache(app string) (*DiskCache, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return nil, err
	}
	return NewDiskCache(filepath.Join(base, app))
}

// NewDiskCache uses dir as the cache root, creating it if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) Dir() string { return c.dir }

// entryFile shards entries by the first byte of their key.
func (c *DiskCache) entryFile(path string, digest project.Digest) string {
	key := project.Combine(project.DigestOf([]byte(path)), digest).Hex()
	return filepath.Join(c.dir, "ntec", key[:2], key[2:]+".mp")
}

// Get implements ntec.Store. Unreadable, stale or foreign entries are
// misses.
func (c *DiskCache) Get(path string, digest project.Digest) ([]ntec.Result, bool) {
	e, err := readEntry(c.entryFile(path, digest))
	switch {
	case err != nil:
		c.fail(err)
	case e != nil && e.Schema == diskSchema && e.Path == path && e.Digest == digest:
		c.hits.Add(1)
		return e.Verdicts, true
	}
	c.misses.Add(1)
	return nil, false
}

// Put implements ntec.Store. Write failures are kept for Err.
func (c *DiskCache) Put(path string, digest project.Digest, results []ntec.Result) {
	e := &diskEntry{Schema: diskSchema, Path: path, Digest: digest, Verdicts: results}
	for _, r := range results {
		if r.Eligible {
			e.Eligible = append(e.Eligible, r.Name)
		}
	}
	if err := writeEntry(c.entryFile(path, digest), e); err != nil {
		c.fail(fmt.Errorf("caching %s: %w", path, err))
	}
}

// readEntry returns nil without error when file does not exist.
func readEntry(file string) (*diskEntry, error) {
	f, err := os.Open(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var e diskEntry
	if err := msgpack.NewDecoder(f).Decode(&e); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", file, err)
	}
	return &e, nil
}

func writeEntry(file string, e *diskEntry) (err error) {
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err := msgpack.NewEncoder(tmp).Encode(e); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), file)
}

func (c *DiskCache) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) < maxDiskErrs {
		c.errs = append(c.errs, err)
	}
}

// Err joins the errors Get and Put swallowed, up to a small limit.
func (c *DiskCache) Err() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(c.errs...)
}

// Stats reports lookups answered and missed since the cache was opened.
func (c *DiskCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Clear removes every entry.
func (c *DiskCache) Clear() error {
	if err := os.RemoveAll(filepath.Join(c.dir, "ntec")); err != nil {
		return fmt.Errorf("clearing %s: %w", c.dir, err)
	}
	return nil
}
