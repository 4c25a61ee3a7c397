// Package ntec decides which interface-shaped named types of a package can
// act as parameter types.
//
// A candidate T is eligible when a shadow copy of its package, where T is
// replaced by an empty struct carrying one stub method per member of T's
// method set, still type-checks. Any error in the shadow copy is a place
// where the package treats T structurally (mixes it with another interface,
// compares it with nil, asserts on it) and is reported as NTECViolation.
//
// Results are memoized per (package path, content digest, type name).
package ntec
