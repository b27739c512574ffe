package dumpmgr

import (
	"log"
	"strconv"
	"time"

	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/dumperr"
	"github.com/openbmc/dump-manager/internal/entry"
)

// NewFDRPolicy builds the Policy for the field-data-request family. Only
// the Collect action (the default when Action is absent) adds a catalog
// entry; every other action still runs its collector but leaves nothing
// tracked.
func NewFDRPolicy(cfg config.FamilyConfig, jffsInaccuracyPercent float64, logger *log.Logger) Policy[entry.FDR] {
	return Policy[entry.FDR]{
		Family:                "fdr",
		StagingRoot:           cfg.StagingRoot,
		Quota:                 cfg.Quota,
		MaxTimeLimit:          time.Duration(cfg.MaxTimeLimit) * time.Second,
		CollectorPath:         cfg.CollectorPath,
		JFFSInaccuracyPercent: jffsInaccuracyPercent,
		Logger:                logger,

		ValidateParams: func(params map[string]string) error {
			if params["DiagnosticType"] != "FDR" {
				return dumperr.Invalidf("FDR requests require DiagnosticType=FDR")
			}
			return nil
		},

		NewExtension: func(params map[string]string) entry.FDR { return entry.FDR{} },
		ExtraAttrs:   func(entry.FDR) map[string]string { return map[string]string{} },

		EntrySubdir: func(id uint32, params map[string]string) string {
			return strconv.FormatUint(uint64(id), 10)
		},

		AcceptsCatalogEntry: func(params map[string]string) bool {
			return fdrActionOf(params) == entry.FDRActionCollect
		},

		CountBucket: func(entry.FDR) string { return "main" },

		BuildArgv: func(dumpDir string, id uint32, maxSizeKiB uint64, params map[string]string) ([]string, error) {
			argv := []string{
				cfg.CollectorPath,
				"-p", dumpDir,
				"-i", strconv.FormatUint(uint64(id), 10),
				"-a", string(fdrActionOf(params)),
			}
			if v, ok := params["TimeRangeStart"]; ok {
				argv = append(argv, "-s", v)
			}
			if v, ok := params["TimeRangeEnd"]; ok {
				argv = append(argv, "-e", v)
			}
			if v, ok := params["MaxDumpSize"]; ok {
				argv = append(argv, "-m", v)
			}
			if v, ok := params["ExtendedSource"]; ok {
				argv = append(argv, "-S", v)
			}
			return argv, nil
		},
	}
}

// fdrActionOf reads the FDR family's Action param, defaulting to Collect.
func fdrActionOf(params map[string]string) entry.FDRAction {
	if params == nil {
		return entry.FDRActionCollect
	}
	action, ok := params["Action"]
	if !ok || action == "" {
		return entry.FDRActionCollect
	}
	return entry.FDRAction(action)
}
