package project

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest is a fixed 256-bit content hash.
type Digest [32]byte

// DigestOf hashes a single blob.
func DigestOf(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// Combine builds an aggregate hash H(content || dep1 || dep2 ...).
// The order of deps must be deterministic.
func Combine(content Digest, deps ...Digest) Digest {
	h := sha256.New()
	_, _ = h.Write(content[:])
	for _, d := range deps {
		_, _ = h.Write(d[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}
