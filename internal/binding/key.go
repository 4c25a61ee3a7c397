package binding

import (
	"sort"
	"strings"
)

// KeyPair is one (parameter name, concrete descriptor) entry of a key.
type KeyPair struct {
	Param      string
	Descriptor string
}

// CanonicalKey sorts pairs by parameter name, then descriptor, and
// serializes them as "Name=descriptor;Name=descriptor". Permutations of the
// same pairs yield the same key; an empty list yields "".
func CanonicalKey(pairs []KeyPair) string {
	sorted := append([]KeyPair(nil), pairs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Param != sorted[j].Param {
			return sorted[i].Param < sorted[j].Param
		}
		return sorted[i].Descriptor < sorted[j].Descriptor
	})
	var b strings.Builder
	for i, p := range sorted {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(p.Param)
		b.WriteByte('=')
		b.WriteString(p.Descriptor)
	}
	return b.String()
}

// ParseKey splits a canonical key back into its pairs. Descriptors may contain
// ';' inside nested keys, so splitting respects braces.
func ParseKey(key string) []KeyPair {
	if key == "" {
		return nil
	}
	var out []KeyPair
	for _, seg := range splitTopLevel(key, ';') {
		name, desc, _ := strings.Cut(seg.text, "=")
		out = append(out, KeyPair{Param: name, Descriptor: desc})
	}
	return out
}
