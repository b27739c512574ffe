// Package supervisor implements the engine's Child Supervisor: fork
// a collector, place it in its own process group, and deliver its exit
// (code + terminating signal) to a per-entry callback exactly once. Each
// child owns a *exec.Cmd and is awaited on a goroutine of its own, so the
// caller's callback always runs on that goroutine rather than inline
// during Start. Setpgid: true puts every collector in its own process
// group so a timeout or explicit termination can signal the whole child
// tree (collectors commonly shell out to their own helpers) with one
// kill, instead of leaving orphaned grandchildren behind.
package supervisor

import (
	"fmt"
	"log"
	"os/exec"
	"sync"
	"syscall"

	"github.com/function61/gokit/logex"
)

// ExitInfo is what the exit callback receives: the process's exit code
// and, if it died from a signal instead of exiting normally, which one.
type ExitInfo struct {
	Pid      int
	ExitCode int
	Signaled bool
	Signal   syscall.Signal
}

// Succeeded reports whether the child terminated with exit code 0 and was
// not killed by a signal.
func (i ExitInfo) Succeeded() bool {
	return !i.Signaled && i.ExitCode == 0
}

// ExitCallback is invoked exactly once on child termination, on the
// supervisor's dedicated goroutine for that child; callers are expected to
// hand off to the engine's single event-loop goroutine via a channel if
// they need run-to-completion semantics with other state.
type ExitCallback func(ExitInfo)

// Handle is a live registration for one forked collector. The caller
// (the family manager) owns the map of handles exclusively; a handle
// removes itself from whatever bookkeeping the manager does by calling
// into the manager's own exit callback — the supervisor never reaches
// back into manager state itself.
type Handle struct {
	cmd  *exec.Cmd
	pid  int
	logl *logex.Leveled
}

// Pid returns the forked collector's process id.
func (h *Handle) Pid() int { return h.pid }

// Pgid returns the collector's process group id. Because Start places the
// child in its own process group via Setpgid, this equals Pid().
func (h *Handle) Pgid() int { return h.pid }

// Terminate sends SIGTERM to the negated process group id, killing the
// entire collector process tree in one shot — the timeout-driven
// termination path.
func (h *Handle) Terminate() error {
	return syscall.Kill(-h.pid, syscall.SIGTERM)
}

// Start forks and execs argv[0] with argv[1:], in its own process group,
// and registers a goroutine that waits for it and delivers exactly one
// ExitCallback invocation. Fails with the raw fork/exec error on failure,
// which the caller reports as dumperr.Internal.
//
// env, if non-nil, replaces the child's environment wholesale; if nil the
// child inherits the supervisor process's environment (collectors commonly
// need PATH and similar).
func Start(argv []string, env []string, logger *log.Logger) (*Handle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("supervisor: empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if env != nil {
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start %v: %w", argv, err)
	}

	return &Handle{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		logl: logex.Levels(logger),
	}, nil
}

// Await blocks until the child exits and invokes cb with its ExitInfo.
// Callers run this on its own goroutine (Supervisor.Register does this for
// you); it is the "register after fork, before the next loop turn" step of
// the collection protocol.
func (h *Handle) Await(cb ExitCallback) {
	err := h.cmd.Wait()

	info := ExitInfo{Pid: h.pid}

	if err == nil {
		info.ExitCode = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				info.Signaled = true
				info.Signal = ws.Signal()
			} else {
				info.ExitCode = ws.ExitStatus()
			}
		} else {
			info.ExitCode = exitErr.ExitCode()
		}
	} else {
		h.logl.Error.Printf("wait on pid %d: %v", h.pid, err)
		info.ExitCode = -1
	}

	cb(info)
}

// Supervisor tracks the set of in-flight collector handles for one family
// manager. Registration happens immediately after Start; the handle is
// dropped from the set by its own exit goroutine, so the handles map is
// guarded by mu.
type Supervisor struct {
	mu      sync.Mutex
	handles map[int]*Handle
	logl    *logex.Leveled
}

func New(logger *log.Logger) *Supervisor {
	return &Supervisor{
		handles: map[int]*Handle{},
		logl:    logex.Levels(logger),
	}
}

// Register starts awaiting h's exit on a new goroutine, delivering to cb
// and then removing h from the supervisor's bookkeeping. The wrapped
// callback always runs, even if cb panics-free error handling isn't
// needed here — cb itself must not block the loop.
func (s *Supervisor) Register(h *Handle, cb ExitCallback) {
	s.mu.Lock()
	s.handles[h.pid] = h
	s.mu.Unlock()

	go h.Await(func(info ExitInfo) {
		s.mu.Lock()
		delete(s.handles, h.pid)
		s.mu.Unlock()

		cb(info)
	})
}

// Lookup returns the live handle for pid, if any.
func (s *Supervisor) Lookup(pid int) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[pid]
	return h, ok
}

// Count returns the number of in-flight children, useful for diagnostics
// and tests.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.handles)
}
