package dumpmgr

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/dumperr"
	"github.com/openbmc/dump-manager/internal/entry"
)

// systemTestPolicy builds the real NewSystemPolicy, with BuildArgv
// replaced by a shell one-liner: the retimer collector scripts
// (retimerLtssmDump.sh etc.) aren't present in a test environment, but
// everything else — ValidateParams, Reserve, OnTerminal, and the
// retimer-debug-mode wiring under test — comes straight from production.
func systemTestPolicy(t *testing.T, root string) SystemPolicyResources {
	t.Helper()
	res := NewSystemPolicy(config.FamilyConfig{StagingRoot: root, CollectorPath: "/bin/sh"}, 2.0, discardLogger)
	res.Policy.BuildArgv = func(dumpDir string, id uint32, sizeKiB uint64, params map[string]string) ([]string, error) {
		payload := filepath.Join(dumpDir, fmt.Sprintf("obmcdump_%d_1700000000.raw", id))
		script := fmt.Sprintf("printf hello > %s", payload)
		if params["sleep"] == "true" {
			script = fmt.Sprintf("sleep 5 && printf hello > %s", payload)
		}
		return []string{"/bin/sh", "-c", script}, nil
	}
	return res
}

// TestSystemRetimerDiagnosticsAreMutuallyExclusive exercises S5 against
// the real NewSystemPolicy: RetLTSSM and RetRegister conflict through the
// process-wide InflightSet, and retimer debug mode tracks whichever of
// them is in flight, turning back off once the collection reaches a
// terminal state.
func TestSystemRetimerDiagnosticsAreMutuallyExclusive(t *testing.T) {
	res := systemTestPolicy(t, t.TempDir())

	m, err := New(res.Policy, "/xyz/openbmc_project/dump/system/entry/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go m.Run()
	defer m.Close()

	_, err = m.CreateDump(map[string]string{"DiagnosticType": "RetLTSSM", "VendorId": "0x10de", "sleep": "true"})
	if err != nil {
		t.Fatalf("CreateDump RetLTSSM: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := m.Get(1); ok && v.Status == entry.InProgress {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !res.RetimerDebugMode.Active() {
		t.Fatalf("expected retimer debug mode active while RetLTSSM is in flight")
	}
	if res.RetimerDebugMode.VendorID() != "0x10de" {
		t.Errorf("expected vendor id 0x10de, got %q", res.RetimerDebugMode.VendorID())
	}

	_, err = m.CreateDump(map[string]string{"DiagnosticType": "RetRegister"})
	if err == nil {
		t.Fatalf("expected RetRegister to be rejected while RetLTSSM is in flight")
	}
	if de, ok := err.(*dumperr.Error); !ok || de.Kind != dumperr.Unavailable {
		t.Errorf("expected Unavailable kind, got %v", err)
	}

	waitForStatus(t, m, 1, entry.Completed)

	if res.RetimerDebugMode.Active() {
		t.Errorf("expected retimer debug mode off after the in-flight collection reached a terminal state")
	}
	if res.RetimerDebugMode.VendorID() != "" {
		t.Errorf("expected vendor id cleared once debug mode turns off, got %q", res.RetimerDebugMode.VendorID())
	}

	if _, err := m.CreateDump(map[string]string{"DiagnosticType": "RetRegister"}); err != nil {
		t.Fatalf("expected RetRegister to succeed once RetLTSSM released its reservation: %v", err)
	}
}

// TestSystemNonRetimerDiagnosticsDoNotTouchDebugMode confirms ordinary
// System diagnostics (SelfTest, FPGA, ...) never flip the retimer state,
// since they aren't members of the InflightSet's conflict pair.
func TestSystemNonRetimerDiagnosticsDoNotTouchDebugMode(t *testing.T) {
	res := systemTestPolicy(t, t.TempDir())

	m, err := New(res.Policy, "/xyz/openbmc_project/dump/system/entry/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go m.Run()
	defer m.Close()

	_, err = m.CreateDump(map[string]string{"DiagnosticType": "SelfTest"})
	if err != nil {
		t.Fatalf("CreateDump SelfTest: %v", err)
	}
	waitForStatus(t, m, 1, entry.Completed)

	if res.RetimerDebugMode.Active() {
		t.Errorf("expected debug mode untouched by a non-retimer diagnostic")
	}
}
