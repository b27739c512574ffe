package dumpmgr

import (
	"log"
	"path/filepath"
	"strconv"
	"time"

	"github.com/function61/gokit/logex"

	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/entry"
)

// NewBMCPolicy builds the Policy for the BMC family: dreport invoked with
// no diagnostic-type selector, staged under a category subdirectory that
// also doubles as the count-quota bucket (a separate, smaller limit for
// application-core dumps).
func NewBMCPolicy(cfg config.FamilyConfig, jffsInaccuracyPercent float64, logger *log.Logger) Policy[entry.BMC] {
	return Policy[entry.BMC]{
		Family:                "bmc",
		StagingRoot:           cfg.StagingRoot,
		Quota:                 cfg.Quota,
		MaxTimeLimit:          time.Duration(cfg.MaxTimeLimit) * time.Second,
		CollectorPath:         cfg.CollectorPath,
		JFFSInaccuracyPercent: jffsInaccuracyPercent,
		Logger:                logger,

		ValidateParams: validateBMCParams(logger),
		NewExtension:   func(params map[string]string) entry.BMC { return entry.BMC{Category: categoryOf(params)} },

		ExtraAttrs: func(ext entry.BMC) map[string]string {
			return map[string]string{"Category": string(ext.Category)}
		},

		EntrySubdir: func(id uint32, params map[string]string) string {
			return filepath.Join(string(categoryOf(params)), strconv.FormatUint(uint64(id), 10))
		},

		CountBucket: func(ext entry.BMC) string {
			if ext.Category == entry.CategoryApplicationCore {
				return "core"
			}
			return "main"
		},

		BuildArgv: func(dumpDir string, id uint32, maxSizeKiB uint64, params map[string]string) ([]string, error) {
			return []string{
				cfg.CollectorPath,
				"-d", dumpDir,
				"-i", strconv.FormatUint(uint64(id), 10),
				"-s", strconv.FormatUint(maxSizeKiB, 10),
				"-q", "-v",
				"-t", string(categoryOf(params)),
			}, nil
		},

		FillDocument: func(ext entry.BMC, doc *entry.Document) {
			doc.Category = ext.Category
		},
		ExtensionFromDocument: func(doc entry.Document) entry.BMC {
			category := doc.Category
			if category == "" {
				category = entry.CategoryUserRequested
			}
			return entry.BMC{Category: category}
		},
	}
}

// recognizedBMCParams are the only creation parameters the public bus
// surface honors for BMC. Category is deliberately absent: a bus client
// can only ever produce a user-requested dump, the same as the D-Bus
// createDump method, which takes no category argument at all.
var recognizedBMCParams = map[string]bool{
	"OriginatorId":   true,
	"OriginatorType": true,
}

// validateBMCParams logs and ignores any parameter outside
// recognizedBMCParams rather than rejecting the request, matching
// createDump's behavior of warning on unexpected arguments without
// refusing the collection.
func validateBMCParams(logger *log.Logger) func(params map[string]string) error {
	logl := logex.Levels(logger)
	return func(params map[string]string) error {
		for k := range params {
			if !recognizedBMCParams[k] {
				logl.Info.Printf("BMC dump request carries unrecognized parameter %q; ignoring", k)
			}
		}
		return nil
	}
}

// categoryOf reads the BMC family's Category param, defaulting to
// user-requested. params here is always the manager's effective params
// map (see effectiveCreateParams in logic.go), which strips any
// client-supplied Category unless a trusted internal caller forced one
// in; a bus client can never select application-core this way.
func categoryOf(params map[string]string) entry.Category {
	if params == nil {
		return entry.CategoryUserRequested
	}
	if c, ok := params["Category"]; ok {
		switch entry.Category(c) {
		case entry.CategoryUserRequested, entry.CategoryApplicationCore:
			return entry.Category(c)
		}
	}
	return entry.CategoryUserRequested
}

// CreateApplicationCoreDump requests an application-core BMC dump. It is
// not part of bus.FamilyAPI and is reachable only from trusted in-process
// callers such as the error-log watcher — never from a bus client, whose
// requests always go through the public CreateDump and can only ever
// produce a user-requested dump.
func CreateApplicationCoreDump(m *Manager[entry.BMC], params map[string]string) (string, error) {
	return m.createWithCategory(params, entry.CategoryApplicationCore)
}
