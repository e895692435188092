// Package startup brings an ATIP IOC up in a fixed order:
//
//	resolve ring mode → build PV server → add FBHEART record →
//	load database → start IOC → start mirror monitoring
//
// Each step commits before the next begins and nothing is rolled back. The
// collaborators are reached only through the small interfaces below, so the
// whole sequence runs against test doubles without touching the network.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/atipioc/internal/logger"
	"github.com/marmos91/atipioc/pkg/atip"
	"github.com/marmos91/atipioc/pkg/metrics"
	"github.com/marmos91/atipioc/pkg/record"
)

// The output record written by the slow orbit feedback as a heartbeat.
const (
	SpecialDevice  = "CS-CS-MSTAT-01"
	SpecialRecord  = "FBHEART"
	SpecialInitial = 10
)

// Stage is a point in the startup sequence.
type Stage int

const (
	StageStart Stage = iota
	StageModeResolved
	StageServerBuilt
	StageSpecialRecordAdded
	StageDatabaseLoaded
	StageIOCRunning
	StageMonitoringActive
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "START"
	case StageModeResolved:
		return "MODE_RESOLVED"
	case StageServerBuilt:
		return "SERVER_BUILT"
	case StageSpecialRecordAdded:
		return "SPECIAL_RECORD_ADDED"
	case StageDatabaseLoaded:
		return "DATABASE_LOADED"
	case StageIOCRunning:
		return "IOC_RUNNING"
	case StageMonitoringActive:
		return "MONITORING_ACTIVE"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// PVServer is the model component built for the resolved ring mode.
type PVServer interface {
	// MonitorMirroredPVs schedules background mirroring and returns promptly.
	MonitorMirroredPVs(ctx context.Context)
}

// ServerFactory builds the PV server. Building it defines its records on
// the shared builder.
type ServerFactory func(ctx context.Context, ringMode string, paths atip.ConfigPaths) (PVServer, error)

// RecordBuilder is the part of record.Builder the special record needs.
type RecordBuilder interface {
	SetDeviceName(name string)
	AOut(name string, opts ...record.Option) (*record.Record, error)
}

// Runtime loads the record database and starts serving it.
type Runtime interface {
	LoadDatabase(ctx context.Context) error
	Init(ctx context.Context) error
}

// Deps are the collaborators of Initialize. All but Metrics and OnStage are
// required.
type Deps struct {
	Resolver  ModeResolver
	Paths     atip.ConfigPaths
	NewServer ServerFactory
	Builder   RecordBuilder
	Runtime   Runtime

	// Metrics observes stage durations. Defaults to no-op.
	Metrics metrics.StartupMetrics

	// OnStage is called after each stage commits.
	OnStage func(Stage)
}

// Result describes how far startup got.
type Result struct {
	// Stage is the last stage that committed.
	Stage Stage

	RingMode   string
	ModeSource string
	Server     PVServer
}

// StageError is a fatal startup failure. Stage is the stage that could not
// be reached.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("startup failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Initialize runs the startup sequence once.
//
// ctx bounds the blocking steps and is handed to the runtime and the mirror
// monitor, so cancelling it later shuts both down.
//
// Returns:
//   - the Result (never nil) with Stage == StageMonitoringActive on success
//   - a *StageError wrapping the first failure; Result.Stage is then the
//     last stage that did commit
//
// Panics if a required dependency is nil (programmer error).
func Initialize(ctx context.Context, deps Deps) (*Result, error) {
	if deps.Resolver == nil || deps.NewServer == nil || deps.Builder == nil || deps.Runtime == nil {
		panic("startup: resolver, server factory, builder and runtime are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopStartupMetrics()
	}

	res := &Result{Stage: StageStart}

	reached := func(stage Stage, start time.Time) {
		res.Stage = stage
		logger.Debug("Startup stage %s done in %v", stage, time.Since(start))
		if deps.OnStage != nil {
			deps.OnStage(stage)
		}
	}

	step := func(stage Stage, fn func() error) error {
		start := time.Now()
		err := fn()
		deps.Metrics.RecordStage(stage.String(), time.Since(start), err)
		if err != nil {
			logger.Error("Startup failed at %s: %v", stage, err)
			return &StageError{Stage: stage, Err: err}
		}
		reached(stage, start)
		return nil
	}

	err := step(StageModeResolved, func() error {
		r, err := deps.Resolver.Resolve(ctx)
		if err != nil {
			return err
		}
		res.RingMode, res.ModeSource = r.Mode, r.Source
		deps.Metrics.SetRingMode(r.Mode, r.Source)
		logger.Info("Ring mode %q (from %s)", r.Mode, r.Source)
		return nil
	})
	if err != nil {
		return res, err
	}

	err = step(StageServerBuilt, func() error {
		srv, err := deps.NewServer(ctx, res.RingMode, deps.Paths)
		if err != nil {
			return fmt.Errorf("failed to build PV server: %w", err)
		}
		if srv == nil {
			return fmt.Errorf("server factory returned no server")
		}
		res.Server = srv
		return nil
	})
	if err != nil {
		return res, err
	}

	err = step(StageSpecialRecordAdded, func() error {
		deps.Builder.SetDeviceName(SpecialDevice)
		if _, err := deps.Builder.AOut(SpecialRecord, record.WithInitial(SpecialInitial)); err != nil {
			return fmt.Errorf("failed to add %s:%s: %w", SpecialDevice, SpecialRecord, err)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	err = step(StageDatabaseLoaded, func() error {
		return deps.Runtime.LoadDatabase(ctx)
	})
	if err != nil {
		return res, err
	}

	err = step(StageIOCRunning, func() error {
		return deps.Runtime.Init(ctx)
	})
	if err != nil {
		return res, err
	}

	// Monitoring cannot fail; it only starts the mirror loop.
	start := time.Now()
	res.Server.MonitorMirroredPVs(ctx)
	deps.Metrics.RecordStage(StageMonitoringActive.String(), time.Since(start), nil)
	reached(StageMonitoringActive, start)

	logger.Info("IOC started in ring mode %s", res.RingMode)
	return res, nil
}
