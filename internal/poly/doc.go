// Package poly lowers a unit against the unmodified base packages of its
// bound imports. Values leaving a bound parameter type are asserted to the
// concrete type; values flowing into one are converted back.
//
// The rewrite is a set of text insertions over the original source, so
// every line of the unit keeps its number and the re-check reports errors
// where the user wrote the code.
package poly
