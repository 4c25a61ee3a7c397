// Package dual cross-checks the two lowerings of a build. It never fails a
// unit: everything it finds is attached as notes or reported as warnings.
package dual
