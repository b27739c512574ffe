// Package config parses the engine's environment-variable knobs into a
// typed structure, read once at startup before anything else runs so the
// rest of the process can treat configuration as an immutable value
// rather than re-reading the environment.
package config

import (
	"os"
	"strconv"
)

// Quota holds one family's count/size limits.
type Quota struct {
	// MaxLimit is the maximum number of catalog entries; 0 disables the
	// count quota.
	MaxLimit int
	// CoreMaxLimit is the BMC family's separate quota for
	// application-core entries; 0 disables it.
	CoreMaxLimit int
	// MaxSize is the largest single collection permitted, in KiB.
	MaxSize uint64
	// TotalSize is the staging root's overall byte budget, in KiB.
	TotalSize uint64
	// MinSpaceReqd is the headroom, in KiB, that must remain after a
	// creation; below it creation either rotates or fails QuotaExceeded.
	MinSpaceReqd uint64
	// Rotation, when true, evicts oldest entries to make room instead of
	// failing QuotaExceeded.
	Rotation bool
}

// FamilyConfig is one family's staging root plus its quota and collection
// timeout.
type FamilyConfig struct {
	Enabled       bool
	StagingRoot   string
	Quota         Quota
	MaxTimeLimit  int // seconds; default 2700
	CollectorPath string
}

// Config is the engine-wide configuration assembled from the environment.
type Config struct {
	BMC      FamilyConfig
	System   FamilyConfig
	FDR      FamilyConfig
	FaultLog FaultLogConfig

	// JFFSInaccuracyPercent is the fixed percentage of capacity
	// subtracted from "available bytes" before quota comparisons, to
	// avoid false-successes on log-structured filesystems that
	// overreport free space.
	JFFSInaccuracyPercent float64

	// ErrorLogWatcherEnabled turns on the optional Error-Log Watcher.
	ErrorLogWatcherEnabled bool
	// ErrorLogSourcePath is the directory external error-log objects
	// are materialized into (one JSON file per log) for the watcher to
	// pick up; the bus-signal equivalent for a process with no D-Bus.
	ErrorLogSourcePath string
	// ErrorLogStorePath is the bbolt file recording which external
	// error-log ids have already caused a BMC dump.
	ErrorLogStorePath string

	// BusListenAddr is where the bus HTTP server listens; /metrics is
	// served on this same address, not a separate port.
	BusListenAddr string
}

// FaultLogConfig is the fault-log family's configuration; it has no
// collection timeout of its own (CPER ingestion is typically fast) but
// otherwise follows the same shape.
type FaultLogConfig struct {
	Enabled     bool
	StagingRoot string
	Quota       Quota
	CollectorPath string
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envUint(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// FromEnv builds a Config from the process environment, defaulting every
// knob to its documented default.
func FromEnv() Config {
	return Config{
		BMC: FamilyConfig{
			Enabled:     envBool("BMC_DUMP_ENABLED", true),
			StagingRoot: envOr("BMC_DUMP_PATH", "/var/lib/phosphor-debug-collector/dumps/bmc"),
			Quota: Quota{
				MaxLimit:     envInt("BMC_DUMP_MAX_LIMIT", 20),
				CoreMaxLimit: envInt("BMC_DUMP_MAX_CORE_LIMIT", 10),
				MaxSize:      envUint("BMC_DUMP_MAX_SIZE_KB", 20 * 1024),
				TotalSize:    envUint("BMC_DUMP_TOTAL_SIZE_KB", 200 * 1024),
				MinSpaceReqd: envUint("BMC_DUMP_MIN_SPACE_KB", 20 * 1024),
				Rotation:     envBool("BMC_DUMP_ROTATION", true),
			},
			MaxTimeLimit:  envInt("BMC_DUMP_MAX_TIME_LIMIT_SEC", 2700),
			CollectorPath: envOr("BMC_DUMP_COLLECTOR", "/usr/bin/dreport"),
		},
		System: FamilyConfig{
			Enabled:     envBool("SYSTEM_DUMP_ENABLED", true),
			StagingRoot: envOr("SYSTEM_DUMP_PATH", "/var/lib/phosphor-debug-collector/dumps/system"),
			Quota: Quota{
				MaxLimit:     envInt("SYSTEM_DUMP_MAX_LIMIT", 20),
				MaxSize:      envUint("SYSTEM_DUMP_MAX_SIZE_KB", 20 * 1024),
				TotalSize:    envUint("SYSTEM_DUMP_TOTAL_SIZE_KB", 200 * 1024),
				MinSpaceReqd: envUint("SYSTEM_DUMP_MIN_SPACE_KB", 20 * 1024),
				Rotation:     envBool("SYSTEM_DUMP_ROTATION", true),
			},
			MaxTimeLimit:  envInt("SYSTEM_DUMP_MAX_TIME_LIMIT_SEC", 2700),
			CollectorPath: envOr("SYSTEM_DUMP_COLLECTOR", "/usr/bin/dreport"),
		},
		FDR: FamilyConfig{
			Enabled:     envBool("FDR_DUMP_ENABLED", true),
			StagingRoot: envOr("FDR_DUMP_PATH", "/var/lib/phosphor-debug-collector/dumps/fdr"),
			Quota: Quota{
				MaxLimit:     envInt("FDR_DUMP_MAX_LIMIT", 10),
				MaxSize:      envUint("FDR_DUMP_MAX_SIZE_KB", 50 * 1024),
				TotalSize:    envUint("FDR_DUMP_TOTAL_SIZE_KB", 200 * 1024),
				MinSpaceReqd: envUint("FDR_DUMP_MIN_SPACE_KB", 20 * 1024),
				Rotation:     envBool("FDR_DUMP_ROTATION", true),
			},
			MaxTimeLimit:  envInt("FDR_DUMP_MAX_TIME_LIMIT_SEC", 2700),
			CollectorPath: envOr("FDR_DUMP_COLLECTOR", "/usr/bin/fdrdump"),
		},
		FaultLog: FaultLogConfig{
			Enabled:     envBool("FAULTLOG_DUMP_ENABLED", true),
			StagingRoot: envOr("FAULTLOG_DUMP_PATH", "/var/lib/phosphor-debug-collector/dumps/faultlog"),
			Quota: Quota{
				MaxLimit:     envInt("FAULTLOG_DUMP_MAX_LIMIT", 40),
				MaxSize:      envUint("FAULTLOG_DUMP_MAX_SIZE_KB", 5 * 1024),
				TotalSize:    envUint("FAULTLOG_DUMP_TOTAL_SIZE_KB", 50 * 1024),
				MinSpaceReqd: envUint("FAULTLOG_DUMP_MIN_SPACE_KB", 5 * 1024),
				Rotation:     envBool("FAULTLOG_DUMP_ROTATION", true),
			},
			CollectorPath: envOr("FAULTLOG_DUMP_COLLECTOR", "/usr/bin/cper_dump.sh"),
		},
		JFFSInaccuracyPercent:  envFloat("JFFS_INACCURACY_PERCENT", 2.0),
		ErrorLogWatcherEnabled: envBool("ERROR_LOG_WATCHER_ENABLED", true),
		ErrorLogSourcePath:     envOr("ERROR_LOG_SOURCE_PATH", "/var/lib/phosphor-debug-collector/elog_external"),
		ErrorLogStorePath:      envOr("ERROR_LOG_STORE_PATH", "/var/lib/phosphor-debug-collector/dumps/errorlog_actioned.db"),
		BusListenAddr:          envOr("DUMP_BUS_LISTEN_ADDR", "127.0.0.1:8081"),
	}
}
