package dumpmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/function61/gokit/logex"

	"github.com/openbmc/dump-manager/internal/dumperr"
	"github.com/openbmc/dump-manager/internal/entry"
	"github.com/openbmc/dump-manager/internal/supervisor"
	"github.com/openbmc/dump-manager/internal/watcher"
)

// filenameRegexp matches the collector payload naming grammar:
// obmcdump_<id>_<epoch>.<ext>
var filenameRegexp = regexp.MustCompile(`^obmcdump_([0-9]+)_([0-9]+)\.([a-zA-Z0-9]+)$`)

type trackedEntry[T any] struct {
	base *entry.Base
	ext  T
	dir  string
}

// Manager is the generic Family Manager engine, instantiated once per
// dump family with a Policy[T] describing that family's collector,
// parameter surface, and catalog-bucketing rules.
type Manager[T any] struct {
	policy Policy[T]
	logl   *logex.Leveled
	sup    *supervisor.Supervisor

	rootWatcher *watcher.Watcher
	// childWatchers is owned exclusively by the loop goroutine: arming
	// (on Created) and releasing (on CompletedWrite) both happen from
	// watcher callbacks funneled through the watcherBatch channel.
	childWatchers map[string]*watcher.Watcher

	catalog  map[uint32]*trackedEntry[T]
	lastID   uint32
	recorder Recorder
	// deleted tombstones ids removed by an explicit Delete while still
	// in progress: their collector keeps running and will eventually
	// produce a payload, but that payload must not resurrect a catalog
	// entry — it's swept up again only on the next restore.
	deleted map[uint32]bool

	objectPathPrefix string

	createCh      chan *createRequest[T]
	deleteCh      chan *idRequest
	offloadCh     chan *offloadRequest
	fileHandleCh  chan *idRequest
	listCh        chan chan []EntryView
	getCh         chan *getRequest
	watcherBatch  chan []watcher.Event
	childExit     chan childExitMsg
	progressTick  <-chan time.Time
	stop          chan struct{}
	done          chan struct{}

	closed atomic.Bool
}

type createRequest[T any] struct {
	params map[string]string
	// forceCategory is set only by an internal, non-bus creation path
	// (see createWithCategory); the public CreateDump never sets it, so
	// a bus client can never reach a category other than what the
	// family's own ValidateParams/NewExtension default to.
	forceCategory *entry.Category
	result        chan createResult
}

type createResult struct {
	objectPath string
	err        error
}

type idRequest struct {
	id     uint32
	result chan error
}

type offloadRequest struct {
	id     uint32
	uri    string
	result chan error
}

type getRequest struct {
	id     uint32
	result chan getResult
}

type getResult struct {
	view EntryView
	ok   bool
}

type childExitMsg struct {
	id   uint32
	info supervisor.ExitInfo
}

// Recorder receives this manager's lifecycle events for metrics reporting.
// Kept as a small interface here rather than importing the metrics package
// directly, so dumpmgr has no dependency on how (or whether) metrics are
// collected.
type Recorder interface {
	RecordCreated(family string)
	RecordEvicted(family string)
	RecordFailed(family string)
}

type noopRecorder struct{}

func (noopRecorder) RecordCreated(string) {}
func (noopRecorder) RecordEvicted(string) {}
func (noopRecorder) RecordFailed(string)  {}

// New constructs a Manager[T] for one family and arms its root Watcher. It
// does not start the run loop — call Restore to hydrate the catalog from
// disk, then Run in its own goroutine, then begin serving requests.
func New[T any](policy Policy[T], objectPathPrefix string) (*Manager[T], error) {
	if err := os.MkdirAll(policy.StagingRoot, 0o755); err != nil {
		return nil, fmt.Errorf("dumpmgr: mkdir staging root %s: %w", policy.StagingRoot, err)
	}

	m := &Manager[T]{
		policy:           policy,
		logl:             logex.Levels(policy.Logger),
		sup:              supervisor.New(policy.Logger),
		childWatchers:    map[string]*watcher.Watcher{},
		catalog:          map[uint32]*trackedEntry[T]{},
		deleted:          map[uint32]bool{},
		recorder:         noopRecorder{},
		objectPathPrefix: objectPathPrefix,
		createCh:         make(chan *createRequest[T]),
		deleteCh:         make(chan *idRequest),
		offloadCh:        make(chan *offloadRequest),
		fileHandleCh:     make(chan *idRequest),
		listCh:           make(chan chan []EntryView),
		getCh:            make(chan *getRequest),
		watcherBatch:     make(chan []watcher.Event, 16),
		childExit:        make(chan childExitMsg, 16),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}

	rw, err := watcher.New(policy.StagingRoot, policy.Logger, func(batch []watcher.Event) {
		m.watcherBatch <- batch
	})
	if err != nil {
		return nil, fmt.Errorf("dumpmgr: arm root watcher: %w", err)
	}
	m.rootWatcher = rw

	return m, nil
}

// Family returns this manager's family name.
func (m *Manager[T]) Family() string { return m.policy.Family }

// SetRecorder installs the metrics sink for this manager's lifecycle
// events. Must be called before Run starts servicing requests; the
// default is a no-op so a manager never needs one to function.
func (m *Manager[T]) SetRecorder(r Recorder) {
	if r == nil {
		r = noopRecorder{}
	}
	m.recorder = r
}

// Run services the request channels until Close is called. It must run on
// its own goroutine; every mutation of catalog/lastID/childWatchers happens
// here and nowhere else.
func (m *Manager[T]) Run() {
	defer close(m.done)

	ticker := time.NewTicker(50 * time.Second)
	defer ticker.Stop()
	m.progressTick = ticker.C

	for {
		select {
		case <-m.stop:
			m.rootWatcher.Close()
			for _, w := range m.childWatchers {
				w.Close()
			}
			return

		case req := <-m.createCh:
			objPath, err := m.handleCreate(req.params, req.forceCategory)
			req.result <- createResult{objectPath: objPath, err: err}

		case req := <-m.deleteCh:
			req.result <- m.handleDelete(req.id)

		case req := <-m.offloadCh:
			req.result <- m.handleOffload(req.id, req.uri)

		case req := <-m.fileHandleCh:
			req.result <- m.handleFileHandleCheck(req.id)

		case resultCh := <-m.listCh:
			resultCh <- m.handleList()

		case req := <-m.getCh:
			v, ok := m.handleGet(req.id)
			req.result <- getResult{view: v, ok: ok}

		case batch := <-m.watcherBatch:
			m.handleWatcherBatch(batch)

		case msg := <-m.childExit:
			m.handleChildExit(msg)

		case now := <-m.progressTick:
			m.handleProgressTick(now)
		}
	}
}

// Close stops the run loop and releases every watcher. It does not wait
// for in-flight collectors to exit; their exit callbacks silently no-op
// once the run loop has stopped, so an exit reported after Close is
// dropped rather than blocking its supervisor goroutine.
func (m *Manager[T]) Close() {
	if m.closed.CompareAndSwap(false, true) {
		close(m.stop)
		<-m.done
	}
}

// objectPath builds the bus path for an entry id.
func (m *Manager[T]) objectPath(id uint32) string {
	return m.objectPathPrefix + strconv.FormatUint(uint64(id), 10)
}

// entryDir returns the staging directory for the given id under the given
// params (accounting for BMC's category subdirectory).
func (m *Manager[T]) entryDir(id uint32, params map[string]string) string {
	return filepath.Join(m.policy.StagingRoot, m.policy.EntrySubdir(id, params))
}

// CreateDump is the bus-facing entrypoint. It hands off to the loop
// goroutine and blocks for the result, which is fine: the loop's own work
// per request is bounded (no blocking I/O beyond fork).
func (m *Manager[T]) CreateDump(params map[string]string) (string, error) {
	return m.create(params, nil)
}

// createWithCategory is the internal-only creation entrypoint: it forces
// category to override whatever (if anything) the caller's params say,
// where a bus-originated request has any client-supplied Category
// stripped by effectiveCreateParams. ValidateParams still runs on the
// caller's params as usual. Not exported; callers outside the
// package reach it through a family-specific wrapper (see
// CreateApplicationCoreDump) rather than this method directly.
func (m *Manager[T]) createWithCategory(params map[string]string, category entry.Category) (string, error) {
	return m.create(params, &category)
}

func (m *Manager[T]) create(params map[string]string, forceCategory *entry.Category) (string, error) {
	req := &createRequest[T]{params: params, forceCategory: forceCategory, result: make(chan createResult, 1)}

	select {
	case m.createCh <- req:
	case <-m.done:
		return "", dumperr.New(dumperr.Internal, "manager is shutting down")
	}

	res := <-req.result
	return res.objectPath, res.err
}

func (m *Manager[T]) DeleteEntry(id uint32) error {
	return m.roundtrip(m.deleteCh, &idRequest{id: id, result: make(chan error, 1)})
}

func (m *Manager[T]) roundtrip(ch chan *idRequest, req *idRequest) error {
	select {
	case ch <- req:
	case <-m.done:
		return dumperr.New(dumperr.Internal, "manager is shutting down")
	}
	return <-req.result
}

func (m *Manager[T]) OffloadEntry(id uint32, uri string) error {
	req := &offloadRequest{id: id, uri: uri, result: make(chan error, 1)}
	select {
	case m.offloadCh <- req:
	case <-m.done:
		return dumperr.New(dumperr.Internal, "manager is shutting down")
	}
	return <-req.result
}

// FileHandleCheck validates (on the loop thread, to avoid racing a
// concurrent Delete) that id exists and has a payload, then returns the
// path to open. Opening itself happens on the caller's goroutine since
// it's pure I/O with no shared-state risk once the path is confirmed.
func (m *Manager[T]) FileHandleCheck(id uint32) (string, error) {
	req := &idRequest{id: id, result: make(chan error, 1)}
	// reuse idRequest.result to carry the error; path retrieved via Get.
	view, ok := m.Get(id)
	if !ok {
		return "", dumperr.New(dumperr.Internal, "entry not found")
	}
	if err := m.roundtrip(m.fileHandleCh, req); err != nil {
		return "", err
	}
	return view.File, nil
}

func (m *Manager[T]) List() []EntryView {
	resultCh := make(chan []EntryView, 1)
	select {
	case m.listCh <- resultCh:
	case <-m.done:
		return nil
	}
	return <-resultCh
}

func (m *Manager[T]) Get(id uint32) (EntryView, bool) {
	req := &getRequest{id: id, result: make(chan getResult, 1)}
	select {
	case m.getCh <- req:
	case <-m.done:
		return EntryView{}, false
	}
	res := <-req.result
	return res.view, res.ok
}

// catalogEntry is the in-package accessor Policy hooks use to read an
// entry's extension directly, since hooks already run on the loop
// goroutine and must not round-trip through the channel-based Get.
func (m *Manager[T]) catalogEntry(id uint32) (*trackedEntry[T], bool) {
	te, ok := m.catalog[id]
	return te, ok
}

func (m *Manager[T]) viewOf(te *trackedEntry[T]) EntryView {
	return EntryView{
		Snapshot: te.base.Snapshot(),
		Family:   m.policy.Family,
		Extra:    m.policy.ExtraAttrs(te.ext),
	}
}

func (m *Manager[T]) handleList() []EntryView {
	ids := m.sortedIDs()
	views := make([]EntryView, 0, len(ids))
	for _, id := range ids {
		views = append(views, m.viewOf(m.catalog[id]))
	}
	return views
}

func (m *Manager[T]) handleGet(id uint32) (EntryView, bool) {
	te, ok := m.catalog[id]
	if !ok {
		return EntryView{}, false
	}
	return m.viewOf(te), true
}

func (m *Manager[T]) sortedIDs() []uint32 {
	ids := lo.Keys(m.catalog)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Manager[T]) handleFileHandleCheck(id uint32) error {
	te, ok := m.catalog[id]
	if !ok {
		return dumperr.New(dumperr.FileNotFound, "no such entry")
	}
	if te.base.Snapshot().File == "" {
		return dumperr.New(dumperr.Unavailable, "payload not yet available")
	}
	return nil
}

func (m *Manager[T]) handleOffload(id uint32, uri string) error {
	te, ok := m.catalog[id]
	if !ok {
		return dumperr.New(dumperr.FileNotFound, "no such entry")
	}
	te.base.InitiateOffload(uri)
	m.persist(te)
	return nil
}
