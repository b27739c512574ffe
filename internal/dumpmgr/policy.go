// Package dumpmgr implements the generic Family Manager engine: a
// single-threaded controller owning one family's catalog, staging
// directory, Watcher, Supervisor, and quota/eviction policy. One Manager[T]
// is instantiated per dump family (BMC, System, FDR, Fault-log); families
// are parameterized by a Policy[T] rather than reached by virtual dispatch.
//
// The run loop is a dedicated goroutine that owns all mutable state and
// services a handful of request channels (create, delete, offload,
// file-handle, watcher batches, child exits, progress ticks): every
// mutation happens on one goroutine, so the catalog, lastID, and watcher
// maps never need their own locking, while callers on other goroutines
// talk to it only through channel round-trips.
package dumpmgr

import (
	"log"
	"time"

	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/entry"
)

// Policy parameterizes Manager[T] for one dump family. T is the
// family-specific extension attached to every entry alongside its Base
// (entry.BMC, entry.System, entry.FaultLog, entry.FDR).
type Policy[T any] struct {
	Family        string
	StagingRoot   string
	Quota         config.Quota
	MaxTimeLimit  time.Duration
	CollectorPath string
	JFFSInaccuracyPercent float64

	// ValidateParams checks a creation request's parameters, returning a
	// dumperr.InvalidArgument on anything unrecognized or malformed for
	// this family.
	ValidateParams func(params map[string]string) error

	// BuildArgv constructs the collector's argument vector given the
	// staging directory for this collection, the reserved id, and the
	// request parameters.
	BuildArgv func(dumpDir string, id uint32, sizeKiB uint64, params map[string]string) ([]string, error)

	// NewExtension builds the zero-value family extension for a freshly
	// created in-progress entry, seeded from the request parameters (or
	// from nil params, when constructing the extension for an entry
	// discovered directly on disk rather than from a creation request).
	NewExtension func(params map[string]string) T

	// ExtraAttrs renders T's fields as the bus-facing string attribute
	// map.
	ExtraAttrs func(ext T) map[string]string

	// EntrySubdir returns the staging subdirectory an entry with this id
	// and these creation params lives under, relative to StagingRoot.
	// Every family but BMC returns strconv.Itoa(id); BMC interposes a
	// category directory.
	EntrySubdir func(id uint32, params map[string]string) string

	// AcceptsCatalogEntry reports whether a successful creation request
	// should actually add a catalog entry. False for FDR's non-Collect
	// actions — the collector still runs, but nothing is tracked.
	AcceptsCatalogEntry func(params map[string]string) bool

	// CountBucket classifies an entry for the purposes of the count
	// quota. BMC has two buckets ("main", "core"); every other family
	// has exactly one ("main").
	CountBucket func(ext T) string

	// Reserve optionally enforces a family-specific mutual-exclusion
	// rule before a collector is started (the System family's
	// InflightSet over DiagnosticType). It returns a release func the
	// manager calls exactly once: on the collector's exit, or straight
	// away if the request fails before the collector is started.
	Reserve func(params map[string]string) (release func(), err error)

	// OnChildFailed runs family-specific cleanup when a collector exits
	// non-zero (e.g. clearing the retimer-debug-mode singleton).
	OnChildFailed func(m *Manager[T], id uint32)

	// OnTerminal runs whenever an entry reaches Completed or Failed
	// (from either the payload-ready or failed-child path). Used by the
	// System family to flip retimer-debug-mode off.
	OnTerminal func(m *Manager[T], id uint32)

	// DecodeExtras augments a restored/created entry's extension from
	// on-disk family-specific data (the fault-log family's
	// Decoded/decoded.json). Optional.
	DecodeExtras func(entryDir string, ext T) T

	// FillDocument copies T's fields onto the persisted sidecar document
	// before it's written. Optional; families with no extension fields
	// worth persisting (FDR) can leave it nil.
	FillDocument func(ext T, doc *entry.Document)

	// ExtensionFromDocument reconstructs T from a deserialized sidecar
	// document during restore. Optional; defaults to NewExtension(nil)
	// when nil.
	ExtensionFromDocument func(doc entry.Document) T

	Logger *log.Logger
}

// countQuotaFor returns the effective maxLimit for a count bucket name.
func (p *Policy[T]) countQuotaFor(bucket string) int {
	if bucket == "core" {
		return p.Quota.CoreMaxLimit
	}
	return p.Quota.MaxLimit
}
