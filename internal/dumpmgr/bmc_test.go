package dumpmgr

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/entry"
)

func bmcTestPolicy(t *testing.T, root string) Policy[entry.BMC] {
	t.Helper()
	policy := NewBMCPolicy(config.FamilyConfig{StagingRoot: root, CollectorPath: "/bin/sh"}, 2.0, discardLogger)
	policy.BuildArgv = func(dumpDir string, id uint32, sizeKiB uint64, params map[string]string) ([]string, error) {
		payload := filepath.Join(dumpDir, fmt.Sprintf("obmcdump_%d_1700000000.raw", id))
		return []string{"/bin/sh", "-c", fmt.Sprintf("printf hello > %s", payload)}, nil
	}
	return policy
}

// TestBMCPublicCreateIgnoresClientSuppliedCategory confirms the bus's
// public CreateDump can never select application-core: BMC recognizes no
// parameters beyond the originator ones, so a client-supplied Category is
// ignored rather than honored or rejected.
func TestBMCPublicCreateIgnoresClientSuppliedCategory(t *testing.T) {
	m, err := New(bmcTestPolicy(t, t.TempDir()), "/xyz/openbmc_project/dump/bmc/entry/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go m.Run()
	defer m.Close()

	_, err = m.CreateDump(map[string]string{"Category": "application-core"})
	if err != nil {
		t.Fatalf("CreateDump: %v", err)
	}

	v := waitForStatus(t, m, 1, entry.Completed)
	if v.Extra["Category"] != string(entry.CategoryUserRequested) {
		t.Errorf("expected a bus client's Category to be ignored, got %q", v.Extra["Category"])
	}
}

// TestCreateApplicationCoreDumpBypassesPublicRestriction confirms the
// internal-only entrypoint the error-log watcher uses can still produce
// an application-core entry, with the separate core count quota enabled.
func TestCreateApplicationCoreDumpBypassesPublicRestriction(t *testing.T) {
	policy := bmcTestPolicy(t, t.TempDir())
	policy.Quota.CoreMaxLimit = 5

	m, err := New(policy, "/xyz/openbmc_project/dump/bmc/entry/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go m.Run()
	defer m.Close()

	_, err = CreateApplicationCoreDump(m, map[string]string{"OriginatorId": "42"})
	if err != nil {
		t.Fatalf("CreateApplicationCoreDump: %v", err)
	}

	v := waitForStatus(t, m, 1, entry.Completed)
	if v.Extra["Category"] != string(entry.CategoryApplicationCore) {
		t.Errorf("expected CreateApplicationCoreDump to produce an application-core entry, got %q", v.Extra["Category"])
	}
}
