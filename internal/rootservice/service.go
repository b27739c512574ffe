// Package rootservice wires the engine's components together: one
// Manager[T] per enabled family, the bus HTTP server, the metrics
// collector, and the periodic reconcile job. Run is a single function
// that builds everything from config and runs until told to stop.
package rootservice

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/stopper"

	"github.com/openbmc/dump-manager/internal/bus"
	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/dumpmgr"
	"github.com/openbmc/dump-manager/internal/entry"
	"github.com/openbmc/dump-manager/internal/errorlog"
	"github.com/openbmc/dump-manager/internal/logtee"
	"github.com/openbmc/dump-manager/internal/metrics"
	"github.com/openbmc/dump-manager/internal/reconcile"
	"github.com/openbmc/dump-manager/internal/util"
)

// families bundles every running Manager[T] behind its bus.FamilyAPI
// surface, keyed the same way the Registry is, so Run can hand them all
// to Restore/reconcile without re-deriving the type parameters.
type families struct {
	bmc      *dumpmgr.Manager[entry.BMC]
	system   *dumpmgr.Manager[entry.System]
	fdr      *dumpmgr.Manager[entry.FDR]
	faultlog *dumpmgr.Manager[entry.FaultLog]
}

// Run builds the whole engine from cfg and blocks until stop fires:
// start every enabled family, the reconcile job, the optional error-log
// watcher, and the bus HTTP server, then wait on stop.Signal and shut
// everything down in reverse order before returning.
func Run(cfg config.Config, logger *log.Logger, logTail *logtee.StringTail, stop *stopper.Stopper) error {
	defer stop.Done()

	logl := logex.Levels(logger)

	fam := &families{}
	registry := bus.NewRegistry()
	coll := metrics.New()

	if cfg.BMC.Enabled {
		m, err := startFamily(dumpmgr.NewBMCPolicy(cfg.BMC, cfg.JFFSInaccuracyPercent, logex.Prefix("bmc", logger)), "/xyz/openbmc_project/dump/bmc/entry/", coll)
		if err != nil {
			return fmt.Errorf("rootservice: start bmc: %w", err)
		}
		fam.bmc = m
		registry.Register(m)
	}

	if cfg.System.Enabled {
		res := dumpmgr.NewSystemPolicy(cfg.System, cfg.JFFSInaccuracyPercent, logex.Prefix("system", logger))
		m, err := startFamily(res.Policy, "/xyz/openbmc_project/dump/system/entry/", coll)
		if err != nil {
			return fmt.Errorf("rootservice: start system: %w", err)
		}
		fam.system = m
		registry.Register(m)
	}

	if cfg.FDR.Enabled {
		m, err := startFamily(dumpmgr.NewFDRPolicy(cfg.FDR, cfg.JFFSInaccuracyPercent, logex.Prefix("fdr", logger)), "/xyz/openbmc_project/dump/fdr/entry/", coll)
		if err != nil {
			return fmt.Errorf("rootservice: start fdr: %w", err)
		}
		fam.fdr = m
		registry.Register(m)
	}

	if cfg.FaultLog.Enabled {
		m, err := startFamily(dumpmgr.NewFaultLogPolicy(cfg.FaultLog, cfg.JFFSInaccuracyPercent, logex.Prefix("faultlog", logger)), "/xyz/openbmc_project/dump/faultlog/entry/", coll)
		if err != nil {
			return fmt.Errorf("rootservice: start faultlog: %w", err)
		}
		fam.faultlog = m
		registry.Register(m)
	}

	workers := stopper.NewManager()

	reconcile.Start(reconcile.Targets{
		BMC:      managerOrNil[entry.BMC](fam.bmc),
		System:   managerOrNil[entry.System](fam.system),
		FDR:      managerOrNil[entry.FDR](fam.fdr),
		FaultLog: managerOrNil[entry.FaultLog](fam.faultlog),
	}, coll, logex.Prefix("reconcile", logger), workers.Stopper())

	if cfg.ErrorLogWatcherEnabled && fam.bmc != nil {
		errorlog.Start(fam.bmc, cfg, logex.Prefix("errorlog", logger), workers.Stopper())
	}

	busSrv := bus.NewServer(registry, coll, logTail, logex.Prefix("bus", logger))
	httpSrv := &http.Server{
		Addr:              cfg.BusListenAddr,
		Handler:           busSrv.Handler(),
		ReadHeaderTimeout: util.DefaultReadHeaderTimeout,
	}

	listener, err := net.Listen("tcp", cfg.BusListenAddr)
	if err != nil {
		return fmt.Errorf("rootservice: listen %s: %w", cfg.BusListenAddr, err)
	}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logl.Error.Printf("bus server: %v", err)
		}
	}()

	logl.Info.Printf("serving bus on %s", cfg.BusListenAddr)

	<-stop.Signal

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	workers.StopAllWorkersAndWait()

	fam.closeAll()

	return nil
}

func (f *families) closeAll() {
	if f.bmc != nil {
		f.bmc.Close()
	}
	if f.system != nil {
		f.system.Close()
	}
	if f.fdr != nil {
		f.fdr.Close()
	}
	if f.faultlog != nil {
		f.faultlog.Close()
	}
}

// startFamily constructs a Manager[T], restores its catalog from disk,
// and starts its run loop, in that order: Restore must complete before
// any request is serviced.
func startFamily[T any](policy dumpmgr.Policy[T], objectPathPrefix string, recorder dumpmgr.Recorder) (*dumpmgr.Manager[T], error) {
	m, err := dumpmgr.New(policy, objectPathPrefix)
	if err != nil {
		return nil, err
	}
	m.SetRecorder(recorder)
	if err := m.Restore(); err != nil {
		return nil, fmt.Errorf("restore %s: %w", policy.Family, err)
	}
	go m.Run()
	return m, nil
}

// managerOrNil adapts a possibly-nil *Manager[T] to reconcile.Target,
// returning a zero Target when the family is disabled.
func managerOrNil[T any](m *dumpmgr.Manager[T]) reconcile.Target {
	if m == nil {
		return reconcile.Target{}
	}
	return reconcile.Target{Family: m.Family(), List: func() []dumpmgr.EntryView { return m.List() }}
}
