// Package reconcile runs the periodic job that keeps the metrics
// collector's catalog gauges current from each family's List(). It only
// reads catalogs: it does not rescan staging directories or change any
// entry's state.
package reconcile

import (
	"log"

	"github.com/robfig/cron/v3"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/stopper"

	"github.com/openbmc/dump-manager/internal/dumpmgr"
	"github.com/openbmc/dump-manager/internal/metrics"
)

// Target is one family's read-only surface the reconcile job needs: its
// name (for metric labels) and a way to list its current catalog.
type Target struct {
	Family string
	List   func() []dumpmgr.EntryView
}

func (t Target) valid() bool { return t.List != nil }

// Targets bundles every family's Target; disabled families carry a
// zero Target and are skipped.
type Targets struct {
	BMC      Target
	System   Target
	FDR      Target
	FaultLog Target
}

func (t Targets) all() []Target {
	return []Target{t.BMC, t.System, t.FDR, t.FaultLog}
}

// Start schedules the reconcile tick (every minute) on a cron.Cron and
// runs it on its own goroutine tracked by stop, so the caller can shut it
// down the same way it shuts down every other background worker.
func Start(targets Targets, coll *metrics.Collector, logger *log.Logger, stop *stopper.Stopper) {
	logl := logex.Levels(logger)

	c := cron.New()
	_, err := c.AddFunc("@every 1m", func() {
		tick(targets, coll, logl)
	})
	if err != nil {
		logl.Error.Printf("schedule reconcile: %v", err)
		stop.Done()
		return
	}

	go func() {
		defer stop.Done()

		c.Start()
		<-stop.Signal
		<-c.Stop().Done()
	}()
}

func tick(targets Targets, coll *metrics.Collector, logl *logex.Leveled) {
	for _, target := range targets.all() {
		if !target.valid() {
			continue
		}

		views := target.List()

		var totalBytes uint64
		for _, v := range views {
			totalBytes += v.Size
		}

		coll.SetCatalog(target.Family, len(views), totalBytes)
	}

	logl.Debug.Println("reconcile tick complete")
}
