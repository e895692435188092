// Package atip builds the process variables of the accelerator model for
// one ring mode and keeps its mirrored PVs in step with their live inputs.
//
// Construction reads four CSV files (see ConfigPaths) and defines every
// record on the shared record.Builder. MonitorMirroredPVs starts the
// background polling once the IOC is serving.
package atip

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/atipioc/internal/logger"
	"github.com/marmos91/atipioc/pkg/catools"
	"github.com/marmos91/atipioc/pkg/metrics"
	"github.com/marmos91/atipioc/pkg/record"
)

// ErrUnknownRingMode is returned by New for a mode outside Options.RingModes.
var ErrUnknownRingMode = errors.New("unknown ring mode")

const (
	// DefaultModePV is the record publishing the ring mode to peers.
	DefaultModePV = "SR-CS-RING-01:MODE"

	// DefaultMirrorInterval is the mirror polling period.
	DefaultMirrorInterval = time.Second
)

// DefaultRingModes are the ring modes known to the lattice model.
var DefaultRingModes = []string{"DIAD", "VMX", "VMXSP", "I04", "48"}

// Reader reads live PV values. catools.Client implements it.
type Reader interface {
	Get(ctx context.Context, name string) (record.Value, error)
}

// Options configures New.
type Options struct {
	// RingMode selects the lattice. Must be in RingModes unless RingModes is empty.
	RingMode string

	// RingModes is the closed set of accepted ring modes, in mbbi label order.
	RingModes []string

	// ModePV is the name of the published ring-mode record. Empty disables it.
	ModePV string

	// Paths locates the CSV definitions. Empty paths are skipped.
	Paths ConfigPaths

	// Builder receives every record definition (required).
	Builder *record.Builder

	// Client reads mirror and tune-feedback inputs. Required when any are defined.
	Client Reader

	// MirrorInterval between polling passes. Default: 1s
	MirrorInterval time.Duration

	// Metrics observes mirror updates. Defaults to no-op.
	Metrics metrics.MirrorMetrics
}

// Server holds the records of one ring mode.
//
// Thread safety:
// Server is safe for concurrent use after New returns.
type Server struct {
	ringMode string
	client   Reader
	interval time.Duration
	metrics  metrics.MirrorMetrics

	modeRecord *record.Record
	setpoints  map[string]*setpoint
	feedback   []*record.Record
	mirrors    []*mirror
	tunes      []*tuneFeedback

	monitorOnce sync.Once
	monitorDone chan struct{}
}

// New validates the ring mode, reads the CSV files and defines all records
// on opts.Builder. The builder's device name is left empty.
//
// Returns ErrUnknownRingMode for a mode outside RingModes, or an error
// naming the file and line of the first malformed row. Record definition
// errors (duplicates, bad limits) are returned unchanged.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Builder == nil {
		panic("record builder cannot be nil")
	}
	if err := validateRingMode(opts.RingMode, opts.RingModes); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.MirrorInterval <= 0 {
		opts.MirrorInterval = DefaultMirrorInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopMirrorMetrics()
	}

	s := &Server{
		ringMode:    opts.RingMode,
		client:      opts.Client,
		interval:    opts.MirrorInterval,
		metrics:     opts.Metrics,
		setpoints:   make(map[string]*setpoint),
		monitorDone: make(chan struct{}),
	}

	b := opts.Builder
	b.SetDeviceName("")

	if err := s.defineModeRecord(b, opts); err != nil {
		return nil, err
	}
	if err := s.defineLimits(b, opts.Paths.Limits); err != nil {
		return nil, err
	}
	if err := s.defineFeedback(b, opts.Paths.Feedback); err != nil {
		return nil, err
	}
	if err := s.defineMirrors(b, opts.Paths.Mirrored); err != nil {
		return nil, err
	}
	if err := s.defineTuneFB(b, opts.Paths.TuneFB); err != nil {
		return nil, err
	}

	if s.client == nil && (len(s.mirrors) > 0 || len(s.tunes) > 0) {
		return nil, fmt.Errorf("a live reader is required for %d mirror(s) and %d tune feedback(s)",
			len(s.mirrors), len(s.tunes))
	}

	logger.Info("ATIP server for ring mode %s: %d setpoint(s), %d feedback, %d mirror(s), %d tune feedback(s)",
		s.ringMode, len(s.setpoints), len(s.feedback), len(s.mirrors), len(s.tunes))

	return s, nil
}

func validateRingMode(mode string, known []string) error {
	if mode == "" {
		return fmt.Errorf("%w: empty", ErrUnknownRingMode)
	}
	if len(known) > 0 && !slices.Contains(known, mode) {
		return fmt.Errorf("%w: %q (known: %v)", ErrUnknownRingMode, mode, known)
	}
	return nil
}

func (s *Server) defineModeRecord(b *record.Builder, opts Options) error {
	if opts.ModePV == "" {
		return nil
	}

	labels := opts.RingModes
	if len(labels) == 0 {
		labels = []string{opts.RingMode}
	}
	index := slices.Index(labels, opts.RingMode)

	r, err := b.MbbIn(opts.ModePV,
		record.WithLabels(labels...),
		record.WithInitial(float64(index)),
		record.WithDesc("Ring mode"),
	)
	if err != nil {
		return fmt.Errorf("failed to define ring mode record: %w", err)
	}
	s.modeRecord = r
	return nil
}

func (s *Server) defineLimits(b *record.Builder, path string) error {
	rows, err := readRows(path, "pv", 4, 5)
	if err != nil {
		return err
	}
	limits, err := parseLimits(rows)
	if err != nil {
		return err
	}

	for _, l := range limits {
		sp := &setpoint{}

		sp.set, err = b.AOut(l.PV,
			record.WithDriveLimits(l.Lower, l.Upper),
			record.WithDisplayLimits(l.Lower, l.Upper),
			record.WithPrecision(l.Precision),
			record.WithAutosave(),
			record.WithOnUpdate(func(context.Context, *record.Record, record.Value) error {
				return sp.refresh()
			}),
		)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if l.Readback != "" {
			sp.readback, err = b.AIn(l.Readback,
				record.WithDisplayLimits(l.Lower, l.Upper),
				record.WithPrecision(l.Precision),
			)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}

		s.setpoints[l.PV] = sp
	}
	return nil
}

func (s *Server) defineFeedback(b *record.Builder, path string) error {
	rows, err := readRows(path, "pv", 2, 2)
	if err != nil {
		return err
	}
	feedback, err := parseFeedback(rows)
	if err != nil {
		return err
	}

	for _, f := range feedback {
		r, err := b.LongOut(f.PV, record.WithInitial(float64(f.Value)), record.WithAutosave())
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		s.feedback = append(s.feedback, r)
	}
	return nil
}

func (s *Server) defineMirrors(b *record.Builder, path string) error {
	rows, err := readRows(path, "output_pv", 3, 4)
	if err != nil {
		return err
	}
	mirrors, err := parseMirrored(rows)
	if err != nil {
		return err
	}

	for _, m := range mirrors {
		typ := m.Type.recordType()

		var opts []record.Option
		if m.Value != "" {
			v, err := record.ParseValue(typ.Kind(), m.Value)
			if err != nil {
				return fmt.Errorf("%s: mirror %s: %w", path, m.Output, err)
			}
			opts = append(opts, initialOption(v))
		}
		opts = append(opts, record.WithDesc(string(m.Type)+" mirror"))

		var out *record.Record
		if typ == record.TypeWaveform {
			out, err = b.Waveform(m.Output, opts...)
		} else {
			out, err = b.AIn(m.Output, opts...)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		s.mirrors = append(s.mirrors, &mirror{typ: m.Type, inputs: m.Inputs, output: out})
	}
	return nil
}

func initialOption(v record.Value) record.Option {
	if v.Kind == record.KindArray {
		return record.WithInitialArray(v.Array)
	}
	f, _ := v.Float()
	return record.WithInitial(f)
}

func (s *Server) defineTuneFB(b *record.Builder, path string) error {
	rows, err := readRows(path, "set_pv", 3, 3)
	if err != nil {
		return err
	}
	tunes, err := parseTuneFB(rows)
	if err != nil {
		return err
	}

	for _, t := range tunes {
		target := s.setpoints[t.SetPV]
		if target == nil {
			logger.Warn("%s: tune feedback %s targets %s, which is not a local setpoint", path, t.OffsetPV, t.SetPV)
		}

		offset, err := b.AOut(t.OffsetPV,
			record.WithDesc("Tune feedback offset"),
			record.WithOnUpdate(func(context.Context, *record.Record, record.Value) error {
				return target.refresh()
			}),
		)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if target != nil {
			target.offset = offset
		}

		s.tunes = append(s.tunes, &tuneFeedback{delta: t.DeltaPV, offset: offset, target: target})
	}
	return nil
}

// RingMode returns the mode the server was built for.
func (s *Server) RingMode() string {
	return s.ringMode
}

// Mirrors returns the number of mirrored outputs.
func (s *Server) Mirrors() int {
	return len(s.mirrors)
}

// MonitorMirroredPVs starts polling mirror and tune-feedback inputs every
// MirrorInterval until ctx ends. It returns immediately; calls after the
// first do nothing.
//
// Readbacks are brought in line with their setpoints first, which picks up
// values restored by autosave.
func (s *Server) MonitorMirroredPVs(ctx context.Context) {
	s.monitorOnce.Do(func() {
		for pv, sp := range s.setpoints {
			if err := sp.refresh(); err != nil {
				logger.Warn("Readback of %s: %v", pv, err)
			}
		}

		if len(s.mirrors) == 0 && len(s.tunes) == 0 {
			logger.Info("No mirrored PVs to monitor")
			close(s.monitorDone)
			return
		}

		logger.Info("Monitoring %d mirrored PV(s) and %d tune feedback(s) every %v",
			len(s.mirrors), len(s.tunes), s.interval)
		go s.monitor(ctx)
	})
}

// MonitorDone is closed when monitoring has stopped.
func (s *Server) MonitorDone() <-chan struct{} {
	return s.monitorDone
}

func (s *Server) monitor(ctx context.Context) {
	defer close(s.monitorDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.UpdateMirrors(ctx)

		select {
		case <-ctx.Done():
			logger.Debug("Mirror monitoring stopped: %v", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// UpdateMirrors runs one polling pass over every mirror and tune feedback.
// Inputs that are not available are skipped until the next pass.
func (s *Server) UpdateMirrors(ctx context.Context) {
	start := time.Now()

	for _, m := range s.mirrors {
		if ctx.Err() != nil {
			return
		}
		s.updateMirror(ctx, m)
	}
	for _, t := range s.tunes {
		if ctx.Err() != nil {
			return
		}
		s.updateTune(ctx, t)
	}

	s.metrics.RecordMonitorCycle(time.Since(start))
}

func (s *Server) updateMirror(ctx context.Context, m *mirror) {
	values := make([]record.Value, 0, len(m.inputs))
	for _, in := range m.inputs {
		v, err := s.client.Get(ctx, in)
		if err != nil {
			s.inputFailed(ctx, m.output.Name(), in, err)
			if ctx.Err() == nil && !errors.Is(err, catools.ErrNoData) {
				s.metrics.RecordMirrorUpdate(string(m.typ), err)
			}
			return
		}
		values = append(values, v)
	}

	v, err := m.typ.compute(values)
	if err == nil {
		err = m.output.Set(v)
	}
	if err != nil {
		logger.Warn("Mirror %s: %v", m.output.Name(), err)
	}
	s.metrics.RecordMirrorUpdate(string(m.typ), err)
}

func (s *Server) updateTune(ctx context.Context, t *tuneFeedback) {
	v, err := s.client.Get(ctx, t.delta)
	if err != nil {
		s.inputFailed(ctx, t.offset.Name(), t.delta, err)
		return
	}

	if err := t.offset.Set(v); err != nil {
		logger.Warn("Tune feedback %s: %v", t.offset.Name(), err)
		return
	}
	if err := t.target.refresh(); err != nil {
		logger.Warn("Tune feedback %s: readback: %v", t.offset.Name(), err)
	}
}

func (s *Server) inputFailed(ctx context.Context, output, input string, err error) {
	switch {
	case ctx.Err() != nil:
	case errors.Is(err, catools.ErrNoData):
		logger.Debug("%s: input %s unavailable", output, input)
	default:
		logger.Warn("%s: reading %s: %v", output, input, err)
	}
}
