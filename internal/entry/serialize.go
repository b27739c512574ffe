package entry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ClassSerializationVersion is the current version of the sidecar document.
// Readers reject documents carrying a higher major version than this.
const ClassSerializationVersion = 1

const (
	preserveDir = ".preserve"
	serialFile  = "serialized_entry.json"
)

// Document is the full attribute set persisted to
// <staging>/<id>/.preserve/serialized_entry.json.
type Document struct {
	Version int `json:"version"`

	ID            uint32         `json:"id"`
	StartTime     int64          `json:"start_time_us"`
	Elapsed       int64          `json:"elapsed_us"`
	CompletedTime int64          `json:"completed_time_us"`
	Size          uint64         `json:"size"`
	Status        Status         `json:"status"`
	Progress      uint8          `json:"progress"`
	Offloaded     bool           `json:"offloaded"`
	OffloadURI    string         `json:"offload_uri"`
	File          string         `json:"file"`
	OriginatorID  string         `json:"originator_id"`
	OriginatorType OriginatorType `json:"originator_type"`
	ObjectPath    string         `json:"object_path"`

	// Family-specific, all optional.
	Category           Category        `json:"category,omitempty"`
	DiagnosticType     DiagnosticType  `json:"diagnostic_type,omitempty"`
	FaultDataType      FaultDataType   `json:"fault_data_type,omitempty"`
	AdditionalTypeName string          `json:"additional_type_name,omitempty"`
	PrimaryLogID       string          `json:"primary_log_id,omitempty"`
	NotificationType   string          `json:"notification_type,omitempty"`
	SectionType        string          `json:"section_type,omitempty"`
	PCIeVendorID       string          `json:"pcie_vendor_id,omitempty"`
}

func usToTime(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us)
}

func timeToUs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// ToDocument converts a base snapshot into the persisted document shape.
func ToDocument(s Snapshot) Document {
	return Document{
		Version:        ClassSerializationVersion,
		ID:             s.ID,
		StartTime:      timeToUs(s.StartTime),
		Elapsed:        timeToUs(s.Elapsed),
		CompletedTime:  timeToUs(s.Completed),
		Size:           s.Size,
		Status:         s.Status,
		Progress:       s.Progress,
		Offloaded:      s.Offloaded,
		OffloadURI:     s.OffloadURI,
		File:           s.File,
		OriginatorID:   s.Originator.ID,
		OriginatorType: s.Originator.Type,
		ObjectPath:     s.ObjectPath,
	}
}

// ToBase reconstructs a Base (with its mutex zero-valued, as intended for a
// freshly restored entry) from a persisted document.
func (d Document) ToBase() *Base {
	return &Base{
		ID:         d.ID,
		ObjectPath: d.ObjectPath,
		StartTime:  usToTime(d.StartTime),
		Elapsed:    usToTime(d.Elapsed),
		Completed:  usToTime(d.CompletedTime),
		Size:       d.Size,
		Status:     d.Status,
		Progress:   d.Progress,
		Offloaded:  d.Offloaded,
		OffloadURI: d.OffloadURI,
		File:       d.File,
		Originator: Originator{ID: d.OriginatorID, Type: d.OriginatorType},
	}
}

// SidecarPath returns <entryDir>/.preserve/serialized_entry.json.
func SidecarPath(entryDir string) string {
	return filepath.Join(entryDir, preserveDir, serialFile)
}

// Serialize writes doc to the sidecar file under entryDir, creating the
// .preserve directory if needed. Best effort: callers log on error and
// continue, per the watcher-path error-handling policy.
func Serialize(entryDir string, doc Document) error {
	dir := filepath.Join(entryDir, preserveDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("entry: mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("entry: marshal sidecar: %w", err)
	}

	tmp := SidecarPath(entryDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("entry: write sidecar: %w", err)
	}

	return os.Rename(tmp, SidecarPath(entryDir))
}

// Deserialize reads and validates the sidecar document under entryDir.
// A document whose major version exceeds what this build understands is
// rejected rather than silently misinterpreted.
func Deserialize(entryDir string) (Document, error) {
	data, err := os.ReadFile(SidecarPath(entryDir))
	if err != nil {
		return Document{}, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("entry: unmarshal sidecar: %w", err)
	}

	if doc.Version > ClassSerializationVersion {
		return Document{}, fmt.Errorf("entry: sidecar version %d newer than supported %d", doc.Version, ClassSerializationVersion)
	}

	return doc, nil
}
