package dumpmgr

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/dumperr"
	"github.com/openbmc/dump-manager/internal/entry"
)

// RetimerDebugMode is the process-wide state a separate vendor-detection
// service reads (and occasionally writes a VendorId into) while a
// RetLTSSM or RetRegister collection is in flight. It is owned by the
// System family's Policy rather than kept as a free-floating global:
// NewSystemPolicy constructs exactly one and hands the caller a read/write
// handle alongside the Policy that drives it.
type RetimerDebugMode struct {
	mu       sync.Mutex
	active   bool
	vendorID string
}

func (r *RetimerDebugMode) on() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
}

func (r *RetimerDebugMode) off() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.vendorID = ""
}

// Active reports whether a retimer diagnostic collection currently holds
// debug mode on.
func (r *RetimerDebugMode) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// VendorID returns the PCIe vendor id last recorded for the in-flight
// retimer collection.
func (r *RetimerDebugMode) VendorID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vendorID
}

// SetVendorID is called by the external vendor-detection service; it has
// no effect once debug mode is off, so a stale write racing the mode
// flipping off can't resurrect a vendor id for the next collection.
func (r *RetimerDebugMode) SetVendorID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		r.vendorID = id
	}
}

var systemDiagnosticTypes = map[entry.DiagnosticType]bool{
	entry.DiagSelfTest:           true,
	entry.DiagFPGA:               true,
	entry.DiagEROT:               true,
	entry.DiagROT:                true,
	entry.DiagRetLTSSM:           true,
	entry.DiagRetRegister:        true,
	entry.DiagFirmwareAttributes: true,
	entry.DiagHardwareCheckout:   true,
}

func diagnosticTypeOf(params map[string]string) entry.DiagnosticType {
	if params == nil {
		return ""
	}
	return entry.DiagnosticType(params["DiagnosticType"])
}

func isRetimerDiagnostic(diag entry.DiagnosticType) bool {
	return diag == entry.DiagRetLTSSM || diag == entry.DiagRetRegister
}

// SystemPolicyResources bundles the System family's Policy with the
// retimer-debug-mode handle that code outside the manager needs to read
// and occasionally write.
type SystemPolicyResources struct {
	Policy           Policy[entry.System]
	RetimerDebugMode *RetimerDebugMode
}

// NewSystemPolicy builds the Policy for the System family. Absent a
// DiagnosticType, requests follow the same dreport path as BMC (with
// additional positional bf_ip/bf_username/bf_password arguments); with
// one, they select a dedicated per-diagnostic collector script, with
// RetLTSSM and RetRegister additionally reserved against each other via a
// process-wide InflightSet.
func NewSystemPolicy(cfg config.FamilyConfig, jffsInaccuracyPercent float64, logger *log.Logger) SystemPolicyResources {
	inflight := NewInflightSet()
	inflight.AddConflict(string(entry.DiagRetLTSSM), string(entry.DiagRetRegister))

	retimer := &RetimerDebugMode{}

	policy := Policy[entry.System]{
		Family:                "system",
		StagingRoot:           cfg.StagingRoot,
		Quota:                 cfg.Quota,
		MaxTimeLimit:          time.Duration(cfg.MaxTimeLimit) * time.Second,
		CollectorPath:         cfg.CollectorPath,
		JFFSInaccuracyPercent: jffsInaccuracyPercent,
		Logger:                logger,

		ValidateParams: func(params map[string]string) error {
			diag, ok := params["DiagnosticType"]
			if !ok || diag == "" {
				return nil
			}
			if !systemDiagnosticTypes[entry.DiagnosticType(diag)] {
				return dumperr.Invalidf("unrecognized DiagnosticType %q", diag)
			}
			return nil
		},

		Reserve: func(params map[string]string) (func(), error) {
			diag := diagnosticTypeOf(params)
			if diag == "" {
				return nil, nil
			}

			release, ok := inflight.TryReserve(string(diag))
			if !ok {
				return nil, dumperr.New(dumperr.Unavailable, "a mutually exclusive collection is already in flight")
			}

			if isRetimerDiagnostic(diag) {
				retimer.on()
				if v, ok := params["VendorId"]; ok {
					retimer.SetVendorID(v)
				}

				// A quota or fork failure after Reserve means no catalog
				// entry is ever created, so OnTerminal never runs and
				// never gets a chance to turn debug mode back off. Fold
				// that into the inflight release itself, which the
				// caller invokes exactly once regardless of how the
				// request ends.
				releaseInflight := release
				release = func() {
					releaseInflight()
					retimer.off()
				}
			}

			return release, nil
		},

		NewExtension: func(params map[string]string) entry.System {
			return entry.System{DiagnosticType: diagnosticTypeOf(params)}
		},

		ExtraAttrs: func(ext entry.System) map[string]string {
			return map[string]string{"DiagnosticType": string(ext.DiagnosticType)}
		},

		EntrySubdir: func(id uint32, params map[string]string) string {
			return strconv.FormatUint(uint64(id), 10)
		},

		CountBucket: func(entry.System) string { return "main" },

		BuildArgv: func(dumpDir string, id uint32, maxSizeKiB uint64, params map[string]string) ([]string, error) {
			return buildSystemArgv(cfg.CollectorPath, dumpDir, id, maxSizeKiB, params)
		},

		OnTerminal: func(m *Manager[entry.System], id uint32) {
			te, ok := m.catalogEntry(id)
			if !ok {
				return
			}
			if isRetimerDiagnostic(te.ext.DiagnosticType) {
				retimer.off()
			}
		},

		FillDocument: func(ext entry.System, doc *entry.Document) {
			doc.DiagnosticType = ext.DiagnosticType
		},
		ExtensionFromDocument: func(doc entry.Document) entry.System {
			return entry.System{DiagnosticType: doc.DiagnosticType}
		},
	}

	return SystemPolicyResources{Policy: policy, RetimerDebugMode: retimer}
}

func buildSystemArgv(collectorPath, dumpDir string, id uint32, maxSizeKiB uint64, params map[string]string) ([]string, error) {
	diag := diagnosticTypeOf(params)
	idStr := strconv.FormatUint(uint64(id), 10)

	switch diag {
	case "":
		argv := []string{collectorPath, "-d", dumpDir, "-i", idStr, "-s", strconv.FormatUint(maxSizeKiB, 10), "-q", "-v"}
		for _, key := range []string{"bf_ip", "bf_username", "bf_password"} {
			if v, ok := params[key]; ok {
				argv = append(argv, "-a", key+"="+v)
			}
		}
		return argv, nil

	case entry.DiagSelfTest:
		return []string{"selftest_dump.sh", "-p", dumpDir, "-i", idStr, "-v"}, nil

	case entry.DiagFPGA:
		return []string{"fpga_dump.sh", "-p", dumpDir, "-i", idStr}, nil

	case entry.DiagEROT, entry.DiagROT:
		return []string{"erot_dump.sh", "-p", dumpDir, "-i", idStr}, nil

	case entry.DiagRetLTSSM:
		argv := []string{"retimerLtssmDump.sh", "-p", dumpDir, "-i", idStr}
		if v, ok := params["VendorId"]; ok {
			argv = append(argv, "-v", v)
		}
		return argv, nil

	case entry.DiagRetRegister:
		argv := []string{"retimerRegisterDump.sh", "-p", dumpDir, "-i", idStr}
		if a, ok := params["Address"]; ok {
			argv = append(argv, "-a", a)
		}
		if v, ok := params["VendorId"]; ok {
			argv = append(argv, "-v", v)
		}
		return argv, nil

	case entry.DiagFirmwareAttributes:
		return []string{"fw_atts_dump.sh", "-p", dumpDir, "-i", idStr, "-v"}, nil

	case entry.DiagHardwareCheckout:
		return []string{"hwcheckout_dump.sh", "-p", dumpDir, "-i", idStr, "-v"}, nil

	default:
		return nil, dumperr.Invalidf("unsupported DiagnosticType %q", diag)
	}
}
