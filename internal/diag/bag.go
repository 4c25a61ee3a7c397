package diag

import (
	"math"
	"sort"

	"fortio.org/safecast"
)

type Bag struct {
	items []Diagnostic
	max   uint16
}

// NewBag returns a bag holding at most max diagnostics; max <= 0 means the
// widest limit the bag supports.
func NewBag(max int) *Bag {
	limit, err := safecast.Conv[uint16](max)
	if err != nil || max <= 0 {
		limit = math.MaxUint16
	}
	return &Bag{
		items: make([]Diagnostic, 0, min(int(limit), 64)),
		max:   limit,
	}
}

// Add appends d unless the limit is reached.
func (b *Bag) Add(d Diagnostic) bool {
	if len(b.items) >= int(b.max) {
		return false
	}
	b.items = append(b.items, d)
	return true
}

func (b *Bag) Cap() uint16 {
	return b.max
}

func (b *Bag) HasErrors() bool {
	for i := range b.items {
		if b.items[i].Severity >= SevError {
			return true
		}
	}
	return false
}

func (b *Bag) HasWarnings() bool {
	for i := range b.items {
		if b.items[i].Severity >= SevWarning {
			return true
		}
	}
	return false
}

func (b *Bag) Len() int {
	return len(b.items)
}

// Items returns the backing slice. Callers must not modify it.
func (b *Bag) Items() []Diagnostic {
	return b.items
}

// Count reports how many diagnostics carry code.
func (b *Bag) Count(code Code) int {
	n := 0
	for i := range b.items {
		if b.items[i].Code == code {
			n++
		}
	}
	return n
}

// Merge appends other's items, raising the limit when needed.
func (b *Bag) Merge(other *Bag) {
	if other == nil {
		return
	}
	b.AddAll(other.items)
}

// AddAll appends ds, raising the limit when needed.
func (b *Bag) AddAll(ds []Diagnostic) {
	newTotal := len(b.items) + len(ds)
	if newTotal > int(b.max) {
		if limit, err := safecast.Conv[uint16](newTotal); err == nil {
			b.max = limit
		} else {
			b.max = math.MaxUint16
			ds = ds[:max(0, int(b.max)-len(b.items))]
		}
	}
	b.items = append(b.items, ds...)
}

// Sort orders by file, start, end, severity (desc) and code so output is
// deterministic regardless of which goroutine reported first.
func (b *Bag) Sort() {
	Sort(b.items)
}

// Sort orders ds in place the same way Bag.Sort does.
func Sort(ds []Diagnostic) {
	sort.SliceStable(ds, func(i, j int) bool {
		di, dj := ds[i], ds[j]
		if di.Primary.Start.Filename != dj.Primary.Start.Filename {
			return di.Primary.Start.Filename < dj.Primary.Start.Filename
		}
		if di.Primary.Start.Offset != dj.Primary.Start.Offset {
			return di.Primary.Start.Offset < dj.Primary.Start.Offset
		}
		if di.Primary.Start.Line != dj.Primary.Start.Line {
			return di.Primary.Start.Line < dj.Primary.Start.Line
		}
		if di.Primary.End.Offset != dj.Primary.End.Offset {
			return di.Primary.End.Offset < dj.Primary.End.Offset
		}
		if di.Severity != dj.Severity {
			return di.Severity > dj.Severity
		}
		if di.Code != dj.Code {
			return di.Code < dj.Code
		}
		return di.Message < dj.Message
	})
}

// Dedup drops repeats of the same code, span and message.
func (b *Bag) Dedup() {
	seen := make(map[dedupKey]bool)
	newitems := make([]Diagnostic, 0, len(b.items))
	for _, d := range b.items {
		key := keyOf(d.Code, d.Severity, d.Primary, d.Message)
		if seen[key] {
			continue
		}
		seen[key] = true
		newitems = append(newitems, d)
	}
	b.items = newitems
}

// HasErrors reports whether any of ds is an error.
func HasErrors(ds []Diagnostic) bool {
	for i := range ds {
		if ds[i].Severity >= SevError {
			return true
		}
	}
	return false
}
