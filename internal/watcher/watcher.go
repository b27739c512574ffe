// Package watcher implements the engine's Directory Watcher: a
// non-recursive inotify watch on one directory, with recursion achieved by
// arming a child Watcher per newly-created subdirectory. It talks to
// inotify directly through golang.org/x/sys/unix
// (InotifyInit1/InotifyAddWatch/poll read loop) rather than through a
// higher-level wrapper, since a collector's staging directories come and
// go fast enough that owning the watch lifecycle directly is simpler than
// adapting a recursive-by-default library to it.
package watcher

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/function61/gokit/logex"
)

// EventKind is the kind of filesystem event the watcher delivers.
type EventKind int

const (
	Created EventKind = iota
	CompletedWrite
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "Created"
	case CompletedWrite:
		return "CompletedWrite"
	default:
		return "Unknown"
	}
}

// Event is one (path, kind) notification. Batches are delivered as
// []Event; order within a batch is not significant.
type Event struct {
	Path  string
	Kind  EventKind
	IsDir bool
}

// Callback is invoked on the Watcher's own read-loop goroutine for every
// batch of events read off the inotify fd in one wakeup; a caller that
// needs its event-loop goroutine to handle them forwards the batch over a
// channel.
type Callback func(batch []Event)

// Watcher is a single, non-recursive inotify watch rooted at one directory.
// Arming a watch for a subdirectory (when this Watcher reports a Created
// event for it) is the caller's responsibility — see dumpmgr.Manager's
// watcher callback, which owns the map of child Watchers exclusively
// — ownership of children lives in the event loop, not the watcher.
type Watcher struct {
	path string
	fd   int
	wd   int

	logl *logex.Leveled

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// mask is the inotify event mask watched for: a subdirectory appearing
// under the root, or a file finishing a write inside a watched directory.
const mask = unix.IN_CREATE | unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO

// New arms an inotify watch on path and starts its read loop. Fails with
// an error wrapping the stat error if path cannot be stat'ed, a plain
// error if path is not a directory, or one wrapping the raw inotify errno
// otherwise; the InvalidArgument /
// Internal distinction is made by the caller, which knows the taxonomy.
func New(path string, logger *log.Logger, cb Callback) (*Watcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("watcher: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watcher: %s is not a directory", path)
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("watcher: inotify_init1: %w", err)
	}

	wd, err := unix.InotifyAddWatch(fd, path, mask)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("watcher: inotify_add_watch on %s: %w", path, err)
	}

	w := &Watcher{
		path: path,
		fd:   fd,
		wd:   wd,
		logl: logex.Levels(logger),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go w.readLoop(cb)

	return w, nil
}

// Path is the directory this Watcher is rooted at.
func (w *Watcher) Path() string { return w.path }

// Close releases the kernel watch and the inotify fd, and waits for the
// read loop goroutine to exit. Safe to call multiple times.
func (w *Watcher) Close() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}

func (w *Watcher) readLoop(cb Callback) {
	defer close(w.done)
	defer unix.Close(w.fd)

	buffer := make([]byte, 64*1024)

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		pollFds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pollFds, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.logl.Error.Printf("poll: %v", err)
			return
		}
		if n == 0 {
			continue // timeout; check stop again
		}

		read, err := unix.Read(w.fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			w.logl.Error.Printf("read: %v", err)
			return
		}

		batch := parseEvents(w.path, buffer[:read])
		if len(batch) > 0 {
			cb(batch)
		}
	}
}

// parseEvents decodes a buffer of raw inotify_event structs, per
// inotify(7):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, padded to alignment
//	};
func parseEvents(root string, buffer []byte) []Event {
	var out []Event

	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		rawMask := binary.NativeEndian.Uint32(buffer[offset+4 : offset+8])
		nameLen := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLen
		if offset+eventSize > len(buffer) {
			break
		}

		name := ""
		if nameLen > 0 {
			name = nullTerminated(buffer[offset+unix.SizeofInotifyEvent : offset+eventSize])
		}

		if name != "" {
			path := root + "/" + name
			isDir := rawMask&unix.IN_ISDIR != 0
			switch {
			case rawMask&(unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO) != 0:
				out = append(out, Event{Path: path, Kind: CompletedWrite, IsDir: isDir})
			case rawMask&unix.IN_CREATE != 0:
				out = append(out, Event{Path: path, Kind: Created, IsDir: isDir})
			}
		}

		offset += eventSize
	}

	return out
}

func nullTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
