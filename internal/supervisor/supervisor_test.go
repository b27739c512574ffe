package supervisor

import (
	"log"
	"os"
	"testing"
	"time"
)

func TestSupervisorDeliversSuccessfulExit(t *testing.T) {
	logger := log.New(os.Stderr, "", 0)

	h, err := Start([]string{"/bin/true"}, nil, logger)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sup := New(logger)
	done := make(chan ExitInfo, 1)
	sup.Register(h, func(info ExitInfo) {
		done <- info
	})

	select {
	case info := <-done:
		if !info.Succeeded() {
			t.Fatalf("expected success, got %+v", info)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit callback")
	}

	if sup.Count() != 0 {
		t.Fatalf("expected supervisor to drop handle after exit, count=%d", sup.Count())
	}
}

func TestSupervisorDeliversNonZeroExit(t *testing.T) {
	logger := log.New(os.Stderr, "", 0)

	h, err := Start([]string{"/bin/false"}, nil, logger)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sup := New(logger)
	done := make(chan ExitInfo, 1)
	sup.Register(h, func(info ExitInfo) {
		done <- info
	})

	select {
	case info := <-done:
		if info.Succeeded() {
			t.Fatalf("expected failure, got %+v", info)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit callback")
	}
}

func TestHandleTerminateKillsProcessGroup(t *testing.T) {
	logger := log.New(os.Stderr, "", 0)

	h, err := Start([]string{"/bin/sleep", "30"}, nil, logger)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sup := New(logger)
	done := make(chan ExitInfo, 1)
	sup.Register(h, func(info ExitInfo) {
		done <- info
	})

	if err := h.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	select {
	case info := <-done:
		if !info.Signaled {
			t.Fatalf("expected signaled exit, got %+v", info)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminated exit callback")
	}
}
