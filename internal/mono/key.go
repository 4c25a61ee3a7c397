package mono

import (
	"crypto/sha256"
	"encoding/hex"
)

// InstanceDir is the path element that separates a base package from the
// hash of one of its instantiations.
const InstanceDir = "__poly"

// Key identifies one instantiation: the base import path and the canonical
// binding key.
type Key struct {
	Base      string
	Canonical string
}

func (k Key) String() string {
	return k.Base + "{" + k.Canonical + "}"
}

// InstancePath derives the import path of the instantiation for k. The
// same bindings requested anywhere in a program name the same path.
func InstancePath(k Key) string {
	h := sha256.New()
	h.Write([]byte(k.Base))
	h.Write([]byte{0})
	h.Write([]byte(k.Canonical))
	sum := h.Sum(nil)
	return k.Base + "/" + InstanceDir + "/" + hex.EncodeToString(sum[:8])
}

// Budget bounds transitive instantiation.
type Budget struct {
	// MaxDepth is the longest chain of nested instantiations.
	MaxDepth int
	// MaxSteps is the number of instantiations one request may trigger.
	MaxSteps int
}

func DefaultBudget() Budget {
	return Budget{MaxDepth: 64, MaxSteps: 4096}
}
