package dumpmgr

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/dumperr"
	"github.com/openbmc/dump-manager/internal/entry"
)

// NewFaultLogPolicy builds the Policy for the fault-log family: CPER
// ingestion with no collection timeout (unlike BMC and System, there is no
// long-running progress to track). AdditionalTypeName and PrimaryLogID are
// captured at creation time (from the request's CPER_TYPE parameter and a
// family-wide monotonic counter, respectively); NotificationType,
// SectionType, and PCIeVendorID are the genuinely decoded-CPER attributes
// a DecodeExtras pass over decoded.json enriches once the collector
// produces one.
func NewFaultLogPolicy(cfg config.FaultLogConfig, jffsInaccuracyPercent float64, logger *log.Logger) Policy[entry.FaultLog] {
	var lastCperID uint64
	nextCperID := func() string {
		lastCperID++
		return strconv.FormatUint(lastCperID, 10)
	}

	return Policy[entry.FaultLog]{
		Family:                "faultlog",
		StagingRoot:           cfg.StagingRoot,
		Quota:                 cfg.Quota,
		CollectorPath:         cfg.CollectorPath,
		JFFSInaccuracyPercent: jffsInaccuracyPercent,
		Logger:                logger,

		ValidateParams: func(params map[string]string) error {
			if params["CPER_PATH"] == "" {
				return dumperr.Invalidf("fault-log requests require CPER_PATH")
			}
			return nil
		},

		NewExtension: func(params map[string]string) entry.FaultLog {
			ext := entry.NewFaultLog()
			ext.FaultDataType = entry.FaultDataCPER
			ext.PrimaryLogID = nextCperID()
			if v, ok := params["CPER_TYPE"]; ok && v != "" {
				ext.AdditionalTypeName = v
			}
			return ext
		},

		ExtraAttrs: func(ext entry.FaultLog) map[string]string {
			return map[string]string{
				"FaultDataType":      string(ext.FaultDataType),
				"AdditionalTypeName": ext.AdditionalTypeName,
				"PrimaryLogID":       ext.PrimaryLogID,
				"NotificationType":   ext.NotificationType,
				"SectionType":        ext.SectionType,
				"PCIeVendorID":       ext.PCIeVendorID,
			}
		},

		EntrySubdir: func(id uint32, params map[string]string) string {
			return strconv.FormatUint(uint64(id), 10)
		},

		CountBucket: func(entry.FaultLog) string { return "main" },

		BuildArgv: func(dumpDir string, id uint32, maxSizeKiB uint64, params map[string]string) ([]string, error) {
			return []string{
				cfg.CollectorPath,
				"-p", dumpDir,
				"-i", strconv.FormatUint(uint64(id), 10),
				"-s", params["CPER_PATH"],
			}, nil
		},

		DecodeExtras: func(entryDir string, ext entry.FaultLog) entry.FaultLog {
			return decodeCPER(entryDir, ext)
		},

		FillDocument: func(ext entry.FaultLog, doc *entry.Document) {
			doc.FaultDataType = ext.FaultDataType
			doc.AdditionalTypeName = ext.AdditionalTypeName
			doc.PrimaryLogID = ext.PrimaryLogID
			doc.NotificationType = ext.NotificationType
			doc.SectionType = ext.SectionType
			doc.PCIeVendorID = ext.PCIeVendorID
		},
		ExtensionFromDocument: func(doc entry.Document) entry.FaultLog {
			ext := entry.NewFaultLog()
			ext.FaultDataType = doc.FaultDataType
			if doc.AdditionalTypeName != "" {
				ext.AdditionalTypeName = doc.AdditionalTypeName
			}
			if doc.PrimaryLogID != "" {
				ext.PrimaryLogID = doc.PrimaryLogID
			}
			if doc.NotificationType != "" {
				ext.NotificationType = doc.NotificationType
			}
			if doc.SectionType != "" {
				ext.SectionType = doc.SectionType
			}
			if doc.PCIeVendorID != "" {
				ext.PCIeVendorID = doc.PCIeVendorID
			}
			return ext
		},
	}
}

// decodedCPER mirrors the subset of <staging>/<id>/Decoded/decoded.json
// the fault-log family cares about: the header's notification type, and
// the first section's descriptor and device-id vendor. AdditionalTypeName
// and PrimaryLogID are not here — they're set at creation time from
// CPER_TYPE and the family's monotonic counter, not decoded from disk.
type decodedCPER struct {
	Header struct {
		NotificationType string `json:"NotificationType"`
	} `json:"Header"`
	Sections []struct {
		SectionDescriptor struct {
			SectionType string `json:"SectionType"`
		} `json:"SectionDescriptor"`
		Section struct {
			DeviceID struct {
				VendorID string `json:"VendorID"`
			} `json:"DeviceID"`
		} `json:"Section"`
	} `json:"Sections"`
}

// decodeCPER reads entryDir's decoded.json, if present, and overlays
// whichever fields it supplies onto ext. A missing or unparseable file is
// not an error here: watcher-path failures are logged by the caller and
// the entry simply keeps its "NA" defaults.
func decodeCPER(entryDir string, ext entry.FaultLog) entry.FaultLog {
	data, err := os.ReadFile(filepath.Join(entryDir, "Decoded", "decoded.json"))
	if err != nil {
		return ext
	}

	var doc decodedCPER
	if err := json.Unmarshal(data, &doc); err != nil {
		return ext
	}

	if doc.Header.NotificationType != "" {
		ext.NotificationType = doc.Header.NotificationType
	}
	if len(doc.Sections) > 0 {
		if doc.Sections[0].SectionDescriptor.SectionType != "" {
			ext.SectionType = doc.Sections[0].SectionDescriptor.SectionType
		}
		if doc.Sections[0].Section.DeviceID.VendorID != "" {
			ext.PCIeVendorID = doc.Sections[0].Section.DeviceID.VendorID
		}
	}

	return ext
}
