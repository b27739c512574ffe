// Package humanize renders byte counts and durations as short
// human-readable strings, and does the ceiling-KiB rounding the quota
// checker uses to size collector requests.
package humanize

import "fmt"

const (
	B   = 1
	kiB = 1024 * B
	MiB = 1024 * kiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
	PiB = 1024 * TiB
)

// Bytes formats a byte count with two decimals in the largest binary unit
// it reaches (kiB up to PiB), or as plain bytes below 1 kiB.
func Bytes(num uint64) string {
	switch {
	case num >= PiB:
		return fmt.Sprintf("%.02f PiB", float64(num)/PiB)
	case num >= TiB:
		return fmt.Sprintf("%.02f TiB", float64(num)/TiB)
	case num >= GiB:
		return fmt.Sprintf("%.02f GiB", float64(num)/GiB)
	case num >= MiB:
		return fmt.Sprintf("%.02f MiB", float64(num)/MiB)
	case num >= kiB:
		return fmt.Sprintf("%.02f kiB", float64(num)/kiB)
	default:
		return fmt.Sprintf("%d B", num)
	}
}

// CeilKiB rounds a byte count up to whole kibibytes, the unit the collector
// binaries' "-s" size argument and the staging-root quota math use. The
// OpenBMC dump manager this engine is modeled on has two variants of this
// calculation in the wild (ceiling vs. truncating division); we always
// round up so a request is never told it has more room than it does.
func CeilKiB(bytes uint64) uint64 {
	return (bytes + 1023) / 1024
}
