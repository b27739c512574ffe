package dumpmgr

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/djherbis/times"

	"github.com/openbmc/dump-manager/internal/entry"
)

// Restore populates the catalog from whatever is already on disk under
// StagingRoot. It is the engine's process-restart recovery path and must
// run before Run's goroutine starts servicing requests — nothing else can
// be mutating the catalog concurrently yet.
func (m *Manager[T]) Restore() error {
	rootEntries, err := os.ReadDir(m.policy.StagingRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, re := range rootEntries {
		if !re.IsDir() {
			continue
		}
		dir := filepath.Join(m.policy.StagingRoot, re.Name())

		if m.restoreDir(dir) {
			continue
		}

		// Not itself an entry directory (its name doesn't parse as an
		// id) — BMC's category subdirectories nest entries one level
		// deeper.
		nested, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, ne := range nested {
			if ne.IsDir() {
				m.restoreDir(filepath.Join(dir, ne.Name()))
			}
		}
	}

	return nil
}

// restoreDir attempts to restore dir as one entry directory, returning
// false if dir's name doesn't parse as an entry id.
func (m *Manager[T]) restoreDir(dir string) bool {
	id, ok := idFromEntryDir(dir)
	if !ok {
		return false
	}

	if doc, err := entry.Deserialize(dir); err == nil {
		m.restoreFromDocument(dir, id, doc)
		return true
	}

	m.restoreFromPayloadOnly(dir, id)
	return true
}

// restoreFromDocument hydrates a catalog entry from a sidecar document.
// An entry restored in InProgress state had a collector that died along
// with the previous process; there is nothing left to finish it, so it is
// marked Failed rather than left stuck.
func (m *Manager[T]) restoreFromDocument(dir string, id uint32, doc entry.Document) {
	base := doc.ToBase()
	if base.GetStatus() == entry.InProgress {
		base.SetFailedStatus()
	}

	ext := m.policy.NewExtension(nil)
	if m.policy.ExtensionFromDocument != nil {
		ext = m.policy.ExtensionFromDocument(doc)
	}
	if m.policy.DecodeExtras != nil {
		ext = m.policy.DecodeExtras(dir, ext)
	}

	m.catalog[id] = &trackedEntry[T]{base: base, ext: ext, dir: dir}
	m.bumpLastID(id)
}

// restoreFromPayloadOnly handles an entry directory with a payload file
// but no sidecar document — a dump that landed on disk without ever going
// through a tracked creation request (or whose sidecar write never
// reached disk before a crash).
func (m *Manager[T]) restoreFromPayloadOnly(dir string, id uint32) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		matches := filenameRegexp.FindStringSubmatch(f.Name())
		if matches == nil {
			continue
		}

		path := filepath.Join(dir, f.Name())
		info, err := f.Info()
		if err != nil {
			continue
		}

		// The payload filename's embedded epoch is authoritative when
		// present; absent that, prefer the file's actual birth time
		// over ModTime, since a sidecar rewrite or offload bookkeeping
		// step can bump mtime long after the collector finished.
		timestamp := info.ModTime()
		if allTimes := times.Get(info); allTimes.HasBirthTime() {
			timestamp = allTimes.BirthTime()
		}
		if epoch, err := strconv.ParseInt(matches[2], 10, 64); err == nil {
			timestamp = time.Unix(epoch, 0)
		}

		base := entry.NewCompleted(id, m.objectPath(id), timestamp, uint64(info.Size()), path)
		ext := m.policy.NewExtension(nil)
		if m.policy.DecodeExtras != nil {
			ext = m.policy.DecodeExtras(dir, ext)
		}

		m.catalog[id] = &trackedEntry[T]{base: base, ext: ext, dir: dir}
		m.bumpLastID(id)
		m.persistByID(id)
		return
	}
}

// idFromEntryDir extracts the numeric entry id from an entry directory
// name; every family's staging layout uses the id itself as the directory
// name.
func idFromEntryDir(dir string) (uint32, bool) {
	n, err := strconv.ParseUint(filepath.Base(dir), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
