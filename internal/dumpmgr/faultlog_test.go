package dumpmgr

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/entry"
)

// faultLogTestPolicy builds the real NewFaultLogPolicy, with BuildArgv
// replaced by a shell one-liner that drops a CPER payload plus a
// decoded.json sidecar, exercising the real NewExtension/DecodeExtras
// pair against an on-disk decoded.json rather than a stand-in.
func faultLogTestPolicy(t *testing.T, root, decodedJSON string) Policy[entry.FaultLog] {
	t.Helper()
	policy := NewFaultLogPolicy(config.FaultLogConfig{StagingRoot: root, CollectorPath: "/bin/sh"}, 2.0, discardLogger)
	policy.BuildArgv = func(dumpDir string, id uint32, sizeKiB uint64, params map[string]string) ([]string, error) {
		payload := filepath.Join(dumpDir, fmt.Sprintf("obmcdump_%d_1700000000.cper", id))
		decodedDir := filepath.Join(dumpDir, "Decoded")
		decoded := filepath.Join(decodedDir, "decoded.json")
		script := fmt.Sprintf("mkdir -p %s && printf '%s' > %s && printf cper-bytes > %s", decodedDir, decodedJSON, decoded, payload)
		return []string{"/bin/sh", "-c", script}, nil
	}
	return policy
}

// TestFaultLogCapturesCperTypeAndMonotonicPrimaryLogID exercises S6
// against the real NewFaultLogPolicy: CPER_TYPE is captured at creation
// time into AdditionalTypeName, PrimaryLogID comes from the family's own
// monotonic counter rather than decoded.json, and NotificationType,
// SectionType, and PCIeVendorID are still enriched from the collector's
// decoded.json once it lands.
func TestFaultLogCapturesCperTypeAndMonotonicPrimaryLogID(t *testing.T) {
	root := t.TempDir()
	decodedJSON := `{"Header":{"NotificationType":"Fatal"},"Sections":[{"SectionDescriptor":{"SectionType":"PCIe"},"Section":{"DeviceID":{"VendorID":"0x10de"}}}]}`

	policy := faultLogTestPolicy(t, root, decodedJSON)

	m, err := New(policy, "/xyz/openbmc_project/dump/faultlog/entry/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go m.Run()
	defer m.Close()

	_, err = m.CreateDump(map[string]string{"CPER_PATH": "/tmp/whatever.cper", "CPER_TYPE": "BertError"})
	if err != nil {
		t.Fatalf("CreateDump: %v", err)
	}

	v := waitForStatus(t, m, 1, entry.Completed)

	if v.Extra["AdditionalTypeName"] != "BertError" {
		t.Errorf("expected AdditionalTypeName from CPER_TYPE, got %q", v.Extra["AdditionalTypeName"])
	}
	if v.Extra["PrimaryLogID"] != "1" {
		t.Errorf("expected the first fault log to get PrimaryLogID 1, got %q", v.Extra["PrimaryLogID"])
	}
	if v.Extra["NotificationType"] != "Fatal" {
		t.Errorf("expected NotificationType decoded from decoded.json, got %q", v.Extra["NotificationType"])
	}
	if v.Extra["SectionType"] != "PCIe" {
		t.Errorf("expected SectionType decoded from decoded.json, got %q", v.Extra["SectionType"])
	}
	if v.Extra["PCIeVendorID"] != "0x10de" {
		t.Errorf("expected PCIeVendorID decoded from decoded.json, got %q", v.Extra["PCIeVendorID"])
	}

	_, err = m.CreateDump(map[string]string{"CPER_PATH": "/tmp/whatever2.cper"})
	if err != nil {
		t.Fatalf("second CreateDump: %v", err)
	}
	v2 := waitForStatus(t, m, 2, entry.Completed)

	if v2.Extra["PrimaryLogID"] != "2" {
		t.Errorf("expected the second fault log's PrimaryLogID to advance to 2, got %q", v2.Extra["PrimaryLogID"])
	}
	if v2.Extra["AdditionalTypeName"] != entry.NA {
		t.Errorf("expected AdditionalTypeName to default to NA when CPER_TYPE is absent, got %q", v2.Extra["AdditionalTypeName"])
	}
}
