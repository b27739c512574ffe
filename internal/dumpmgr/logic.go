package dumpmgr

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/openbmc/dump-manager/internal/dumperr"
	"github.com/openbmc/dump-manager/internal/entry"
	"github.com/openbmc/dump-manager/internal/supervisor"
	"github.com/openbmc/dump-manager/internal/watcher"
)

// originatorFrom extracts Originator{Id,Type} from a creation request's
// parameter map, falling back to entry.DefaultOriginator when absent.
func originatorFrom(params map[string]string) entry.Originator {
	id, hasID := params["OriginatorId"]
	kind, hasKind := params["OriginatorType"]
	if !hasID && !hasKind {
		return entry.DefaultOriginator
	}

	origin := entry.DefaultOriginator
	if hasID {
		origin.ID = id
	}
	if hasKind {
		origin.Type = entry.OriginatorType(kind)
	}
	return origin
}

// effectiveCreateParams returns the parameter map every Policy hook sees
// for a creation request. A bus client's own "Category" is never
// honored — no family recognizes it as a public parameter — so it is
// stripped unconditionally; forceCategory, set only by an internal,
// non-bus caller (see Manager.createWithCategory), is then applied on
// top, overriding whatever the client sent for that key.
func effectiveCreateParams(params map[string]string, forceCategory *entry.Category) map[string]string {
	if forceCategory == nil {
		if _, present := params["Category"]; !present {
			return params
		}
	}

	effective := make(map[string]string, len(params)+1)
	for k, v := range params {
		if k == "Category" {
			continue
		}
		effective[k] = v
	}
	if forceCategory != nil {
		effective["Category"] = string(*forceCategory)
	}
	return effective
}

// handleCreate runs a creation request end to end: validate, enforce
// quotas, reserve the next id, fork the collector, and (unless the
// family's policy declines to track this particular request) add a
// catalog entry for it.
func (m *Manager[T]) handleCreate(params map[string]string, forceCategory *entry.Category) (string, error) {
	if m.policy.ValidateParams != nil {
		if err := m.policy.ValidateParams(params); err != nil {
			return "", err
		}
	}

	params = effectiveCreateParams(params, forceCategory)

	var release func()
	if m.policy.Reserve != nil {
		r, err := m.policy.Reserve(params)
		if err != nil {
			return "", err
		}
		release = r
	}

	ext := m.policy.NewExtension(params)
	accepts := m.policy.AcceptsCatalogEntry == nil || m.policy.AcceptsCatalogEntry(params)

	if accepts {
		bucket := m.policy.CountBucket(ext)
		if err := m.enforceCountQuota(bucket); err != nil {
			releaseIfSet(release)
			return "", err
		}
		if err := m.enforceByteQuota(); err != nil {
			releaseIfSet(release)
			return "", err
		}
	}

	id := m.lastID + 1

	dumpDir := m.entryDir(id, params)
	if err := os.MkdirAll(dumpDir, 0o755); err != nil {
		releaseIfSet(release)
		return "", dumperr.Internalf(err, "mkdir staging dir for entry %d", id)
	}

	argv, err := m.policy.BuildArgv(dumpDir, id, m.permittedCreateSize(), params)
	if err != nil {
		releaseIfSet(release)
		_ = os.RemoveAll(dumpDir)
		return "", err
	}

	handle, err := supervisor.Start(argv, nil, m.policy.Logger)
	if err != nil {
		releaseIfSet(release)
		_ = os.RemoveAll(dumpDir)
		return "", dumperr.Internalf(err, "start collector for entry %d", id)
	}

	m.lastID = id
	base := entry.NewInProgress(id, m.objectPath(id), originatorFrom(params), time.Now())

	if accepts {
		m.catalog[id] = &trackedEntry[T]{base: base, ext: ext, dir: dumpDir}
		m.persistByID(id)
		m.recorder.RecordCreated(m.policy.Family)
	}

	var timer *time.Timer
	if m.policy.MaxTimeLimit > 0 {
		timer = time.AfterFunc(m.policy.MaxTimeLimit, func() {
			_ = handle.Terminate()
		})
	}

	m.sup.Register(handle, func(info supervisor.ExitInfo) {
		if timer != nil {
			timer.Stop()
		}
		releaseIfSet(release)
		if accepts {
			select {
			case m.childExit <- childExitMsg{id: id, info: info}:
			case <-m.done:
			}
		}
	})

	if !accepts {
		return "", nil
	}
	return base.ObjectPath, nil
}

func releaseIfSet(release func()) {
	if release != nil {
		release()
	}
}

// handleDelete removes a catalog entry. Deleting an in-progress entry is
// permitted and does not signal its collector: the catalog record is
// dropped and the id is tombstoned so the collector's eventual payload
// doesn't resurrect it, but the directory is left alone since a live
// process may still be writing into it. A terminal entry's directory is
// removed outright.
func (m *Manager[T]) handleDelete(id uint32) error {
	te, ok := m.catalog[id]
	if !ok {
		return dumperr.New(dumperr.FileNotFound, "no such entry")
	}

	if !te.base.IsTerminal() {
		delete(m.catalog, id)
		m.deleted[id] = true
		return nil
	}

	m.evict(id)
	return nil
}

// evict drops id from the catalog, releases any child watcher armed on its
// directory, and removes the directory from disk.
func (m *Manager[T]) evict(id uint32) {
	te, ok := m.catalog[id]
	if !ok {
		return
	}

	delete(m.catalog, id)

	if w, ok := m.childWatchers[te.dir]; ok {
		w.Close()
		delete(m.childWatchers, te.dir)
	}

	if err := os.RemoveAll(te.dir); err != nil {
		m.logl.Error.Printf("evict entry %d: remove %s: %v", id, te.dir, err)
	}
}

func (m *Manager[T]) persistByID(id uint32) {
	if te, ok := m.catalog[id]; ok {
		m.persist(te)
	}
}

func (m *Manager[T]) persist(te *trackedEntry[T]) {
	doc := entry.ToDocument(te.base.Snapshot())
	if m.policy.FillDocument != nil {
		m.policy.FillDocument(te.ext, &doc)
	}
	if err := entry.Serialize(te.dir, doc); err != nil {
		m.logl.Error.Printf("persist entry %d: %v", te.base.Snapshot().ID, err)
	}
}

// handleWatcherBatch dispatches one batch of inotify events: a new
// subdirectory gets a child watcher armed on it, a finished write to a
// file gets matched against the catalog (or tracked as an out-of-band
// artifact if nothing claimed that id).
func (m *Manager[T]) handleWatcherBatch(batch []watcher.Event) {
	for _, ev := range batch {
		switch {
		case ev.Kind == watcher.Created && ev.IsDir:
			m.armChildWatcher(ev.Path)
		case ev.Kind == watcher.CompletedWrite && ev.IsDir:
			m.releaseChildWatcher(ev.Path)
		case ev.Kind == watcher.CompletedWrite && !ev.IsDir:
			m.releaseChildWatcher(filepath.Dir(ev.Path))
			m.observePayload(ev.Path)
		}
	}
}

func (m *Manager[T]) releaseChildWatcher(dir string) {
	if w, ok := m.childWatchers[dir]; ok {
		w.Close()
		delete(m.childWatchers, dir)
	}
}

func (m *Manager[T]) armChildWatcher(dir string) {
	if _, exists := m.childWatchers[dir]; exists {
		return
	}

	w, err := watcher.New(dir, m.policy.Logger, func(b []watcher.Event) {
		m.watcherBatch <- b
	})
	if err != nil {
		m.logl.Error.Printf("arm child watcher on %s: %v", dir, err)
		return
	}
	m.childWatchers[dir] = w
}

// observePayload is invoked whenever a file finishes being written
// somewhere under the staging root. A malformed name is ignored outright;
// a well-formed one either completes the matching in-progress entry
// (idempotently — a second write to the same file is a no-op) or, if no
// creation request reserved that id, is tracked as a newly-discovered
// completed entry.
func (m *Manager[T]) observePayload(path string) {
	matches := filenameRegexp.FindStringSubmatch(filepath.Base(path))
	if matches == nil {
		return
	}

	id64, err := strconv.ParseUint(matches[1], 10, 32)
	if err != nil {
		return
	}
	id := uint32(id64)

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	size := uint64(info.Size())

	timestamp := info.ModTime()
	if epoch, err := strconv.ParseInt(matches[2], 10, 64); err == nil {
		timestamp = time.Unix(epoch, 0)
	}

	if te, ok := m.catalog[id]; ok {
		if m.policy.DecodeExtras != nil {
			te.ext = m.policy.DecodeExtras(te.dir, te.ext)
		}
		te.base.Update(timestamp, size, path)
		m.persist(te)
		if te.base.IsTerminal() && m.policy.OnTerminal != nil {
			m.policy.OnTerminal(m, id)
		}
		return
	}

	if m.deleted[id] {
		// Tombstoned: this id was explicitly deleted while its
		// collector was still running. The file is orphaned on disk
		// until the next restore reconciles it.
		return
	}

	dir := filepath.Dir(path)
	base := entry.NewCompleted(id, m.objectPath(id), timestamp, size, path)
	ext := m.policy.NewExtension(nil)
	if m.policy.DecodeExtras != nil {
		ext = m.policy.DecodeExtras(dir, ext)
	}

	m.catalog[id] = &trackedEntry[T]{base: base, ext: ext, dir: dir}
	m.bumpLastID(id)
	m.persistByID(id)
}

func (m *Manager[T]) bumpLastID(id uint32) {
	if id > m.lastID {
		m.lastID = id
	}
}

// handleChildExit reacts to a collector's termination: non-zero exits fail
// the entry and run the family's OnChildFailed hook; either way, reaching
// a terminal state runs OnTerminal and persists the sidecar document.
func (m *Manager[T]) handleChildExit(msg childExitMsg) {
	te, ok := m.catalog[msg.id]
	if !ok {
		return
	}

	if !msg.info.Succeeded() {
		te.base.SetFailedStatus()
		m.recorder.RecordFailed(m.policy.Family)
		if m.policy.OnChildFailed != nil {
			m.policy.OnChildFailed(m, msg.id)
		}
	}

	if te.base.IsTerminal() {
		m.persist(te)
		if m.policy.OnTerminal != nil {
			m.policy.OnTerminal(m, msg.id)
		}
	}
}

// handleProgressTick advances the progress marker of every in-progress
// entry, using the family's configured collection timeout as the
// denominator: progress climbs from 0 toward 100 as the deadline
// approaches, and pins at 100 once it's passed (the collector is
// presumably about to be killed by its own timer).
func (m *Manager[T]) handleProgressTick(now time.Time) {
	limit := m.policy.MaxTimeLimit
	if limit <= 0 {
		return
	}

	for _, te := range m.catalog {
		snap := te.base.Snapshot()
		if snap.Status != entry.InProgress {
			continue
		}

		elapsed := now.Sub(snap.StartTime)

		var pct uint8
		if elapsed >= limit {
			pct = 100
		} else {
			remaining := limit - elapsed
			pct = uint8(100 - 100*remaining.Milliseconds()/limit.Milliseconds())
		}

		te.base.SetProgress(now, pct)
	}
}
