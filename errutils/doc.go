package errutils

// Package errutils provides a set of utilities for working with errors in Go.

// Example:
//
// The following example demonstrates how to use `MultiError` to collect several errors:
//
//     package main
//
//     import (
//         "errors"
//         "fmt"
//         "github.com/trailcast/orchestrator/errutils"
//     )
//
//     func main() {
//         errs := errutils.NewMultiErr(nil)
//         errs.Add(errors.New("first failure"))
//         errs.Add(errors.New("second failure"))
//         if errs.HasErrors() {
//             fmt.Println(errs)
//         }
//     }
//
// In the above example, each failure is added to the `MultiError` and `HasErrors` reports that there is at least one.
// Printing the `MultiError` prints each error message on its own line.
