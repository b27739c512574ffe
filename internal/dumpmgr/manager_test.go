package dumpmgr

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/dumperr"
	"github.com/openbmc/dump-manager/internal/entry"
)

var discardLogger = log.New(io.Discard, "", 0)

// testExt is a minimal stand-in extension type, playing the role one of
// the real families' BMC/System/FaultLog/FDR structs plays in production.
type testExt struct {
	Tag string
}

// testPolicy builds a Policy[testExt] whose collector is a shell one-liner
// that drops a well-formed payload file into its staging directory, so the
// tests below exercise the real watcher/supervisor path rather than a
// stand-in for it.
func testPolicy(t *testing.T, root string, quota config.Quota) Policy[testExt] {
	t.Helper()
	return Policy[testExt]{
		Family:        "test",
		StagingRoot:   root,
		Quota:         quota,
		CollectorPath: "/bin/sh",

		ValidateParams: func(params map[string]string) error {
			if params["reject"] == "true" {
				return dumperr.Invalidf("rejected by request")
			}
			return nil
		},
		NewExtension: func(params map[string]string) testExt {
			return testExt{Tag: params["tag"]}
		},
		ExtraAttrs: func(ext testExt) map[string]string {
			return map[string]string{"tag": ext.Tag}
		},
		EntrySubdir: func(id uint32, params map[string]string) string {
			return fmt.Sprintf("%d", id)
		},
		CountBucket: func(testExt) string { return "main" },
		BuildArgv: func(dumpDir string, id uint32, sizeKiB uint64, params map[string]string) ([]string, error) {
			payload := filepath.Join(dumpDir, fmt.Sprintf("obmcdump_%d_1700000000.raw", id))
			script := fmt.Sprintf("printf hello > %s", payload)
			if params["fail"] == "true" {
				script = "exit 1"
			}
			if params["sleep"] == "true" {
				script = fmt.Sprintf("sleep 5 && printf hello > %s", payload)
			}
			return []string{"/bin/sh", "-c", script}, nil
		},
		FillDocument: func(ext testExt, doc *entry.Document) {
			doc.AdditionalTypeName = ext.Tag
		},
		ExtensionFromDocument: func(doc entry.Document) testExt {
			return testExt{Tag: doc.AdditionalTypeName}
		},
		Logger: discardLogger,
	}
}

func newTestManager(t *testing.T, quota config.Quota) (*Manager[testExt], func()) {
	t.Helper()
	root := t.TempDir()
	m, err := New(testPolicy(t, root, quota), "/xyz/openbmc_project/dump/test/entry/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go m.Run()
	return m, m.Close
}

func waitForStatus[T any](t *testing.T, m *Manager[T], id uint32, want entry.Status) EntryView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := m.Get(id); ok && v.Status == want {
			return v
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("entry %d never reached status %s", id, want)
	return EntryView{}
}

func TestCreateDumpCompletesAndPersists(t *testing.T) {
	m, closeFn := newTestManager(t, config.Quota{})
	defer closeFn()

	objPath, err := m.CreateDump(map[string]string{"tag": "hello"})
	if err != nil {
		t.Fatalf("CreateDump: %v", err)
	}
	if objPath == "" {
		t.Fatalf("expected non-empty object path")
	}

	v := waitForStatus(t, m, 1, entry.Completed)
	if v.Size == 0 {
		t.Errorf("expected non-zero size, got 0")
	}
	if v.Progress != 100 {
		t.Errorf("expected progress 100 at completion, got %d", v.Progress)
	}
	if v.Extra["tag"] != "hello" {
		t.Errorf("expected tag=hello, got %q", v.Extra["tag"])
	}

	sidecar := entry.SidecarPath(filepath.Join(m.policy.StagingRoot, "1"))
	if _, err := os.Stat(sidecar); err != nil {
		t.Errorf("expected sidecar document at %s: %v", sidecar, err)
	}
}

func TestValidateParamsRejectsBeforeForking(t *testing.T) {
	m, closeFn := newTestManager(t, config.Quota{})
	defer closeFn()

	_, err := m.CreateDump(map[string]string{"reject": "true"})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if len(m.List()) != 0 {
		t.Errorf("rejected request should not have created a catalog entry")
	}
}

func TestChildFailureMarksEntryFailed(t *testing.T) {
	m, closeFn := newTestManager(t, config.Quota{})
	defer closeFn()

	_, err := m.CreateDump(map[string]string{"fail": "true"})
	if err != nil {
		t.Fatalf("CreateDump: %v", err)
	}

	waitForStatus(t, m, 1, entry.Failed)
}

func TestDeleteTerminalEntryRemovesDirectory(t *testing.T) {
	m, closeFn := newTestManager(t, config.Quota{})
	defer closeFn()

	_, err := m.CreateDump(map[string]string{"tag": "x"})
	if err != nil {
		t.Fatalf("CreateDump: %v", err)
	}
	waitForStatus(t, m, 1, entry.Completed)

	entryDir := filepath.Join(m.policy.StagingRoot, "1")
	if _, err := os.Stat(entryDir); err != nil {
		t.Fatalf("expected entry dir to exist before delete: %v", err)
	}

	if err := m.DeleteEntry(1); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if _, ok := m.Get(1); ok {
		t.Errorf("expected entry to be gone from catalog after delete")
	}
	if _, err := os.Stat(entryDir); !os.IsNotExist(err) {
		t.Errorf("expected entry dir to be removed, stat err = %v", err)
	}
}

func TestDeleteInProgressTombstonesWithoutTouchingDisk(t *testing.T) {
	m, closeFn := newTestManager(t, config.Quota{})
	defer closeFn()

	_, err := m.CreateDump(map[string]string{"sleep": "true"})
	if err != nil {
		t.Fatalf("CreateDump: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := m.Get(1); ok && v.Status == entry.InProgress {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.DeleteEntry(1); err != nil {
		t.Fatalf("DeleteEntry on in-progress entry: %v", err)
	}
	if _, ok := m.Get(1); ok {
		t.Errorf("expected catalog entry to be gone immediately after delete")
	}

	entryDir := filepath.Join(m.policy.StagingRoot, "1")
	if _, err := os.Stat(entryDir); err != nil {
		t.Errorf("expected entry directory to still exist (collector still running): %v", err)
	}

	// Give the collector time to finish and drop its payload; the
	// tombstone must prevent it from resurrecting a catalog entry.
	time.Sleep(6 * time.Second)
	if _, ok := m.Get(1); ok {
		t.Errorf("tombstoned id resurfaced in catalog after collector finished")
	}
}

func TestCountQuotaRotatesOldestTerminal(t *testing.T) {
	m, closeFn := newTestManager(t, config.Quota{MaxLimit: 1, Rotation: true})
	defer closeFn()

	_, err := m.CreateDump(map[string]string{"tag": "first"})
	if err != nil {
		t.Fatalf("first CreateDump: %v", err)
	}
	waitForStatus(t, m, 1, entry.Completed)

	_, err = m.CreateDump(map[string]string{"tag": "second"})
	if err != nil {
		t.Fatalf("second CreateDump: %v", err)
	}
	waitForStatus(t, m, 2, entry.Completed)

	views := m.List()
	if len(views) != 1 {
		t.Fatalf("expected exactly one entry under the count quota, got %d", len(views))
	}
	if views[0].ID != 2 {
		t.Errorf("expected entry 1 to have been evicted, entry 2 kept; got id %d", views[0].ID)
	}
}

func TestCountQuotaFailsClosedWithoutRotation(t *testing.T) {
	m, closeFn := newTestManager(t, config.Quota{MaxLimit: 1, Rotation: false})
	defer closeFn()

	_, err := m.CreateDump(map[string]string{"tag": "first"})
	if err != nil {
		t.Fatalf("first CreateDump: %v", err)
	}
	waitForStatus(t, m, 1, entry.Completed)

	_, err = m.CreateDump(map[string]string{"tag": "second", "sleep": "true"})
	if err == nil {
		t.Fatalf("expected QuotaExceeded, got nil error")
	}
	if de, ok := err.(*dumperr.Error); !ok || de.Kind != dumperr.QuotaExceeded {
		t.Errorf("expected QuotaExceeded kind, got %v", err)
	}
}

func TestRestoreHydratesCatalogFromSidecar(t *testing.T) {
	root := t.TempDir()

	m1, err := New(testPolicy(t, root, config.Quota{}), "/xyz/openbmc_project/dump/test/entry/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go m1.Run()

	_, err = m1.CreateDump(map[string]string{"tag": "persisted"})
	if err != nil {
		t.Fatalf("CreateDump: %v", err)
	}
	waitForStatus(t, m1, 1, entry.Completed)
	m1.Close()

	m2, err := New(testPolicy(t, root, config.Quota{}), "/xyz/openbmc_project/dump/test/entry/")
	if err != nil {
		t.Fatalf("New (restore): %v", err)
	}
	if err := m2.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	go m2.Run()
	defer m2.Close()

	v, ok := m2.Get(1)
	if !ok {
		t.Fatalf("expected restored entry 1 to be present")
	}
	if v.Status != entry.Completed {
		t.Errorf("expected restored entry to stay Completed, got %s", v.Status)
	}
	if v.Extra["tag"] != "persisted" {
		t.Errorf("expected restored tag, got %q", v.Extra["tag"])
	}
}

func TestRestoreFailsStuckInProgressEntries(t *testing.T) {
	root := t.TempDir()

	m1, err := New(testPolicy(t, root, config.Quota{}), "/xyz/openbmc_project/dump/test/entry/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go m1.Run()

	_, err = m1.CreateDump(map[string]string{"sleep": "true"})
	if err != nil {
		t.Fatalf("CreateDump: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := m1.Get(1); ok && v.Status == entry.InProgress {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	m1.Close()

	m2, err := New(testPolicy(t, root, config.Quota{}), "/xyz/openbmc_project/dump/test/entry/")
	if err != nil {
		t.Fatalf("New (restore): %v", err)
	}
	if err := m2.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	go m2.Run()
	defer m2.Close()

	v, ok := m2.Get(1)
	if !ok {
		t.Fatalf("expected a restored record for the interrupted entry")
	}
	if v.Status != entry.Failed {
		t.Errorf("expected an interrupted in-progress entry to restore as Failed, got %s", v.Status)
	}
}

func TestMalformedPayloadNameIsIgnored(t *testing.T) {
	m, closeFn := newTestManager(t, config.Quota{})
	defer closeFn()

	dir := filepath.Join(m.policy.StagingRoot, "stray")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "not-a-dump-file.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if len(m.List()) != 0 {
		t.Errorf("expected malformed filename to be ignored, not catalogued")
	}
}

// TestLiveCreationDecodesExtrasOnCompletion exercises the normal
// fault-log-style path: CreateDump inserts an in-progress catalog entry,
// then the collector's payload completion must still run DecodeExtras
// against it, not just the out-of-band/restore discovery paths.
func TestLiveCreationDecodesExtrasOnCompletion(t *testing.T) {
	root := t.TempDir()

	policy := testPolicy(t, root, config.Quota{})
	policy.DecodeExtras = func(entryDir string, ext testExt) testExt {
		data, err := os.ReadFile(filepath.Join(entryDir, "decoded.txt"))
		if err == nil {
			ext.Tag = strings.TrimSpace(string(data))
		}
		return ext
	}
	policy.BuildArgv = func(dumpDir string, id uint32, sizeKiB uint64, params map[string]string) ([]string, error) {
		payload := filepath.Join(dumpDir, fmt.Sprintf("obmcdump_%d_1700000000.raw", id))
		decoded := filepath.Join(dumpDir, "decoded.txt")
		script := fmt.Sprintf("printf decoded-value > %s && printf hello > %s", decoded, payload)
		return []string{"/bin/sh", "-c", script}, nil
	}

	m, err := New(policy, "/xyz/openbmc_project/dump/test/entry/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go m.Run()
	defer m.Close()

	_, err = m.CreateDump(map[string]string{"tag": "unset"})
	if err != nil {
		t.Fatalf("CreateDump: %v", err)
	}

	v := waitForStatus(t, m, 1, entry.Completed)
	if v.Extra["tag"] != "decoded-value" {
		t.Errorf("expected DecodeExtras to run on the live-creation completion path, got tag=%q", v.Extra["tag"])
	}
}

func TestLastIDIsMonotonic(t *testing.T) {
	m, closeFn := newTestManager(t, config.Quota{})
	defer closeFn()

	var lastSeen uint32
	for i := 0; i < 5; i++ {
		_, err := m.CreateDump(map[string]string{"tag": "x"})
		if err != nil {
			t.Fatalf("CreateDump #%d: %v", i, err)
		}
		if m.lastID <= lastSeen {
			t.Errorf("lastID did not increase monotonically: %d -> %d", lastSeen, m.lastID)
		}
		lastSeen = m.lastID
	}
}
