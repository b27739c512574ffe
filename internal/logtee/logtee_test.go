package logtee

import (
	"bytes"
	"fmt"
	"testing"
)

func TestComposite(t *testing.T) {
	sink := &bytes.Buffer{}

	tail := NewStringTail(4)

	// writes to upstream all end up in the sink, but Snapshot() only returns the last 4 lines
	upstream := NewLineSplitterTee(sink, func(line string) {
		tail.Write(line)
	})

	_, _ = upstream.Write([]byte("line 1\nline 2\nline 3 left open"))

	if got := fmt.Sprintf("%v", tail.Snapshot()); got != "[line 1 line 2]" {
		t.Fatalf("got %s", got)
	}

	_, _ = upstream.Write([]byte("\n")) // close line 3

	if got := fmt.Sprintf("%v", tail.Snapshot()); got != "[line 1 line 2 line 3 left open]" {
		t.Fatalf("got %s", got)
	}

	_, _ = upstream.Write([]byte("line 4\nline 5\nline 6\n"))

	if got := fmt.Sprintf("%v", tail.Snapshot()); got != "[line 3 left open line 4 line 5 line 6]" {
		t.Fatalf("got %s", got)
	}

	if sink.String() != "line 1\nline 2\nline 3 left open\nline 4\nline 5\nline 6\n" {
		t.Fatalf("sink mismatch: %q", sink.String())
	}
}
