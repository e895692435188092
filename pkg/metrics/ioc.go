package metrics

import "time"

// StartupMetrics observes the IOC startup sequence.
type StartupMetrics interface {
	// RecordStage records how long a startup stage took and whether it failed.
	RecordStage(stage string, duration time.Duration, err error)

	// SetRingMode publishes the resolved ring mode and where it came from
	// (arg, env, live, default).
	SetRingMode(mode string, source string)
}

// MirrorMetrics observes mirror propagation and persistence.
type MirrorMetrics interface {
	// RecordMirrorUpdate counts one recomputed mirror output.
	RecordMirrorUpdate(mirrorType string, err error)

	// RecordMonitorCycle records the duration of one pass over all mirrors.
	RecordMonitorCycle(duration time.Duration)

	// RecordAutosave counts one autosave write.
	RecordAutosave(err error)
}

type noopStartupMetrics struct{}

// NewNoopStartupMetrics returns a StartupMetrics that records nothing.
func NewNoopStartupMetrics() StartupMetrics { return noopStartupMetrics{} }

func (noopStartupMetrics) RecordStage(string, time.Duration, error) {}
func (noopStartupMetrics) SetRingMode(string, string)               {}

type noopMirrorMetrics struct{}

// NewNoopMirrorMetrics returns a MirrorMetrics that records nothing.
func NewNoopMirrorMetrics() MirrorMetrics { return noopMirrorMetrics{} }

func (noopMirrorMetrics) RecordMirrorUpdate(string, error)  {}
func (noopMirrorMetrics) RecordMonitorCycle(time.Duration) {}
func (noopMirrorMetrics) RecordAutosave(error)              {}
