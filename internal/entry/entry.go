// Package entry implements the per-artifact dump record described by the
// engine's data model: identity, timestamps, size, status, originator and
// the family-specific attributes layered on top of it. It is the Go
// analogue of the OpenBMC phosphor-debug-collector's dump_entry.hpp /
// bmc_dump_entry.hpp pair, minus the sdbusplus multiple-inheritance: here
// every entry is the shared Base paired with one plain extension struct
// holding whatever fields that family needs.
package entry

import (
	"sync"
	"time"
)

// Status is the closed set of states an entry can occupy. Only InProgress
// may transition; Completed and Failed are terminal.
type Status string

const (
	InProgress Status = "InProgress"
	Completed  Status = "Completed"
	Failed     Status = "Failed"
)

// OriginatorType identifies who asked for a dump.
type OriginatorType string

const (
	OriginatorClient            OriginatorType = "Client"
	OriginatorInternal          OriginatorType = "Internal"
	OriginatorSupportingService OriginatorType = "SupportingService"
)

// Originator is the (id, kind) pair identifying a dump's requester.
type Originator struct {
	ID   string
	Type OriginatorType
}

// DefaultOriginator is used when a creation request omits OriginatorId/OriginatorType.
var DefaultOriginator = Originator{ID: "", Type: OriginatorInternal}

// Base holds the fields common to every dump family.
// The family manager keeps it alongside the family's extension struct
// (see dumpmgr.trackedEntry) rather than behind an interface — families
// are parameterized by policy, not by virtual dispatch.
type Base struct {
	mu sync.Mutex

	ID         uint32
	StartTime  time.Time // never mutated after creation
	Elapsed    time.Time // most recent progress marker
	Completed  time.Time // zero while non-terminal
	Size       uint64    // bytes; 0 while non-terminal
	Status     Status
	Progress   uint8 // 0..100, non-decreasing while InProgress
	Offloaded  bool
	OffloadURI string
	File       string // absolute path to payload; empty until collector produces it
	Originator Originator

	// ObjectPath is this entry's bus object path, assigned once at
	// construction and never mutated.
	ObjectPath string
}

// NewInProgress builds a freshly created, in-progress entry.
func NewInProgress(id uint32, objectPath string, origin Originator, start time.Time) *Base {
	return &Base{
		ID:         id,
		ObjectPath: objectPath,
		StartTime:  start,
		Status:     InProgress,
		Originator: origin,
	}
}

// NewCompleted builds a terminal entry directly in Completed state, the
// shape dumpmgr's observePayload and restoreFromPayloadOnly use for
// out-of-band artifact discovery and for restore without a sidecar.
func NewCompleted(id uint32, objectPath string, timestamp time.Time, size uint64, file string) *Base {
	return &Base{
		ID:         id,
		ObjectPath: objectPath,
		StartTime:  timestamp,
		Elapsed:    timestamp,
		Completed:  timestamp,
		Size:       size,
		File:       file,
		Status:     Completed,
		Progress:   100,
		Originator: DefaultOriginator,
	}
}

// Snapshot is a point-in-time, lock-free copy of Base used for serialization
// and for the bus's read-only property surface.
type Snapshot struct {
	ID         uint32
	StartTime  time.Time
	Elapsed    time.Time
	Completed  time.Time
	Size       uint64
	Status     Status
	Progress   uint8
	Offloaded  bool
	OffloadURI string
	File       string
	Originator Originator
	ObjectPath string
}

func (b *Base) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		ID:         b.ID,
		StartTime:  b.StartTime,
		Elapsed:    b.Elapsed,
		Completed:  b.Completed,
		Size:       b.Size,
		Status:     b.Status,
		Progress:   b.Progress,
		Offloaded:  b.Offloaded,
		OffloadURI: b.OffloadURI,
		File:       b.File,
		Originator: b.Originator,
		ObjectPath: b.ObjectPath,
	}
}

// Update transitions an in-progress entry to Completed on payload-ready.
// It is a no-op if the entry is already terminal (watcher idempotence).
func (b *Base) Update(timestamp time.Time, size uint64, file string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Status != InProgress {
		return
	}

	b.Elapsed = timestamp
	b.Completed = timestamp
	b.Size = size
	b.File = file
	b.Status = Completed
	b.Progress = 100

	tagPayload(file, b.ID)
}

// SetFailedStatus is invoked from the child-exit callback on non-zero
// status. The entry remains in the catalog for introspection.
func (b *Base) SetFailedStatus() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Status != InProgress {
		return
	}

	b.Status = Failed
	b.Progress = 100
}

// SetProgress updates the 0..100 progress marker of an in-progress entry.
// It refuses to move progress backwards and is a no-op once terminal.
func (b *Base) SetProgress(now time.Time, pct uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Status != InProgress {
		return
	}

	b.Elapsed = now
	if pct > b.Progress {
		b.Progress = pct
	}
}

// InitiateOffload records an offload intent. It does not itself perform
// any transfer — that is explicitly out of scope.
func (b *Base) InitiateOffload(uri string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.OffloadURI = uri
	b.Offloaded = true
}

// IsTerminal reports whether status is Completed or Failed.
func (b *Base) IsTerminal() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.Status == Completed || b.Status == Failed
}

func (b *Base) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.Status
}
