package errorlog

import (
	"encoding/json"
	"log"
	"os"
	"strconv"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/stopper"

	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/dumpmgr"
	"github.com/openbmc/dump-manager/internal/entry"
	"github.com/openbmc/dump-manager/internal/watcher"
)

// allowlist is the compile-time set of external error-log "Message"
// values that warrant a BMC core dump. The subset tagged true routes
// to the ApplicationCore category; everything else that matches routes
// to UserRequested.
var allowlist = map[string]bool{
	"xyz.openbmc_project.Software.Version.Error.ApplicationFault":   true,
	"xyz.openbmc_project.State.Chassis.Error.PowerFault":            true,
	"xyz.openbmc_project.Common.Error.InternalFailure":              false,
	"xyz.openbmc_project.Sensor.Threshold.Error.CriticalHigh":       false,
}

// externalErrorLog is the shape a source drops into the watched
// directory, one JSON file per log, as a stand-in for a bus signal's
// payload.
type externalErrorLog struct {
	ID      uint32 `json:"Id"`
	Message string `json:"Message"`
}

// Start arms a Watcher over cfg.ErrorLogSourcePath and, for every
// completed file whose Message is allowlisted, issues a BMC CreateDump
// and records the log's id so a restart doesn't duplicate it.
func Start(bmc *dumpmgr.Manager[entry.BMC], cfg config.Config, logger *log.Logger, stop *stopper.Stopper) {
	logl := logex.Levels(logger)

	store, err := OpenStore(cfg.ErrorLogStorePath)
	if err != nil {
		logl.Error.Printf("open store: %v", err)
		stop.Done()
		return
	}

	if err := os.MkdirAll(cfg.ErrorLogSourcePath, 0o755); err != nil {
		logl.Error.Printf("mkdir source path: %v", err)
		_ = store.Close()
		stop.Done()
		return
	}

	handle := func(batch []watcher.Event) {
		for _, ev := range batch {
			if ev.Kind != watcher.CompletedWrite || ev.IsDir {
				continue
			}
			handleOne(bmc, store, ev.Path, logl)
		}
	}

	w, err := watcher.New(cfg.ErrorLogSourcePath, logger, handle)
	if err != nil {
		logl.Error.Printf("arm watcher: %v", err)
		_ = store.Close()
		stop.Done()
		return
	}

	go func() {
		defer stop.Done()
		<-stop.Signal
		w.Close()
		_ = store.Close()
	}()
}

func handleOne(bmc *dumpmgr.Manager[entry.BMC], store *Store, path string, logl *logex.Leveled) {
	data, err := os.ReadFile(path)
	if err != nil {
		logl.Error.Printf("read %s: %v", path, err)
		return
	}

	var elog externalErrorLog
	if err := json.Unmarshal(data, &elog); err != nil {
		logl.Error.Printf("decode %s: %v", path, err)
		return
	}

	isCore, matched := allowlist[elog.Message]
	if !matched {
		return
	}

	seen, err := store.Seen(elog.ID)
	if err != nil {
		logl.Error.Printf("check seen %d: %v", elog.ID, err)
		return
	}
	if seen {
		return
	}

	params := map[string]string{
		"OriginatorId":   strconv.FormatUint(uint64(elog.ID), 10),
		"OriginatorType": string(entry.OriginatorInternal),
	}

	if isCore {
		_, err = dumpmgr.CreateApplicationCoreDump(bmc, params)
	} else {
		_, err = bmc.CreateDump(params)
	}
	if err != nil {
		logl.Error.Printf("create dump for error-log %d: %v", elog.ID, err)
		return
	}

	if err := store.MarkActioned(elog.ID); err != nil {
		logl.Error.Printf("mark actioned %d: %v", elog.ID, err)
	}
}
