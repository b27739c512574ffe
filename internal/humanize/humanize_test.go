package humanize

import (
	"testing"
	"time"
)

func TestBytes(t *testing.T) {
	for _, tc := range []struct {
		input  uint64
		output string
	}{
		{0, "0 B"},
		{1024, "1.00 kiB"},
		{1536, "1.50 kiB"},
		{1048576, "1.00 MiB"},
		{1073741824, "1.00 GiB"},
		{1099511627776, "1.00 TiB"},
	} {
		if got := Bytes(tc.input); got != tc.output {
			t.Errorf("Bytes(%d) = %q, want %q", tc.input, got, tc.output)
		}
	}
}

func TestCeilKiB(t *testing.T) {
	for _, tc := range []struct {
		input uint64
		want  uint64
	}{
		{0, 0},
		{1, 1},
		{1024, 1},
		{1025, 2},
		{4096, 4},
	} {
		if got := CeilKiB(tc.input); got != tc.want {
			t.Errorf("CeilKiB(%d) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func TestDuration(t *testing.T) {
	for _, tc := range []struct {
		input time.Duration
		want  string
	}{
		{0, "0 milliseconds"},
		{time.Millisecond, "1 millisecond"},
		{time.Second, "1 second"},
		{29 * time.Second, "29 seconds"},
		{30 * time.Second, "1 minute"},
		{90 * time.Minute, "2 hours"},
		{36 * time.Hour, "2 days"},
	} {
		if got := Duration(tc.input); got != tc.want {
			t.Errorf("Duration(%s) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
