// Package host adapts go/packages, go/ast and go/types to the model the
// binding engine works on: a Program of type-checked packages that doubles as
// the importer for rewritten units and published instantiations.
//
// Packages are immutable once registered, with one exception: the set of
// eligible parameter types, which the eligibility checker fills in exactly once.
package host
