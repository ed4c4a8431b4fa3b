// Package assert provides test assertion helpers for use in unit tests.
//
// It offers convenient functions like NoError, Equal, and more for
// concise test assertions. This is a lightweight alternative to larger
// assertion libraries.
package assert
