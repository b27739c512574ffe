// Package util collects the handful of small generic helpers every
// component in the dump manager reaches for.
package util

import "time"

// DefaultReadHeaderTimeout bounds how long the bus HTTP server waits for
// request headers before giving up on a slow or stalled client.
var DefaultReadHeaderTimeout = 60 * time.Second

// Pointer returns a pointer to a copy of input, for building optional
// struct fields (the Dump.Entry property surface is full of them) inline.
func Pointer[T any](input T) *T {
	return &input
}

// Must panics on error. Reserved for invariants established at process
// startup (config parsing, flag registration) where there is no caller to
// hand an error back to.
func Must[T any](value T, err error) T {
	if err != nil {
		panic(err)
	}

	return value
}
