package startup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/marmos91/atipioc/pkg/atip"
	"github.com/marmos91/atipioc/pkg/catools"
	"github.com/marmos91/atipioc/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Doubles
// ============================================================================

// journal records the order in which collaborators are called.
type journal struct {
	events []string
}

func (j *journal) add(format string, args ...any) {
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

type fakeLive struct {
	j     *journal
	ctrl  *catools.Ctrl
	err   error
	calls int
}

func (f *fakeLive) GetCtrl(_ context.Context, name string) (*catools.Ctrl, error) {
	f.calls++
	if f.j != nil {
		f.j.add("live %s", name)
	}
	return f.ctrl, f.err
}

type fakeServer struct {
	j        *journal
	monitors int
}

func (s *fakeServer) MonitorMirroredPVs(context.Context) {
	s.monitors++
	s.j.add("monitor")
}

type fakeBuilder struct {
	j       *journal
	device  string
	err     error
	defined []string
}

func (b *fakeBuilder) SetDeviceName(name string) {
	b.device = name
	b.j.add("device %s", name)
}

func (b *fakeBuilder) AOut(name string, opts ...record.Option) (*record.Record, error) {
	b.j.add("aout %s", name)
	if b.err != nil {
		return nil, b.err
	}
	b.defined = append(b.defined, b.device+":"+name)

	// Build a real record to check the options.
	rb := record.NewBuilder()
	rb.SetDeviceName(b.device)
	return rb.AOut(name, opts...)
}

type fakeRuntime struct {
	j       *journal
	loadErr error
	initErr error
}

func (r *fakeRuntime) LoadDatabase(context.Context) error {
	r.j.add("load")
	return r.loadErr
}

func (r *fakeRuntime) Init(context.Context) error {
	r.j.add("init")
	return r.initErr
}

type recordingMetrics struct {
	stages []string
	failed []bool
	mode   string
}

func (m *recordingMetrics) RecordStage(stage string, _ time.Duration, err error) {
	m.stages = append(m.stages, stage)
	m.failed = append(m.failed, err != nil)
}

func (m *recordingMetrics) SetRingMode(mode, source string) {
	m.mode = mode + "/" + source
}

type harness struct {
	j        *journal
	live     *fakeLive
	server   *fakeServer
	builder  *fakeBuilder
	runtime  *fakeRuntime
	buildErr error
	built    []string
	stages   []Stage
}

func newHarness() *harness {
	j := &journal{}
	return &harness{
		j:       j,
		live:    &fakeLive{j: j, err: catools.ErrNoData},
		server:  &fakeServer{j: j},
		builder: &fakeBuilder{j: j},
		runtime: &fakeRuntime{j: j},
	}
}

func (h *harness) deps(args []string, env map[string]string) Deps {
	return Deps{
		Resolver: NewResolver(ResolverConfig{
			Args: args,
			LookupEnv: func(k string) (string, bool) {
				v, ok := env[k]
				return v, ok
			},
			Live: h.live,
		}),
		Paths: atip.DefaultConfigPaths("/opt/atip"),
		NewServer: func(_ context.Context, mode string, paths atip.ConfigPaths) (PVServer, error) {
			h.j.add("build %s", mode)
			h.built = append(h.built, paths.Limits)
			if h.buildErr != nil {
				return nil, h.buildErr
			}
			return h.server, nil
		},
		Builder: h.builder,
		Runtime: h.runtime,
		OnStage: func(s Stage) { h.stages = append(h.stages, s) },
	}
}

// ============================================================================
// Ring Mode Resolution
// ============================================================================

func TestResolve_ArgumentDominates(t *testing.T) {
	h := newHarness()
	h.live.err = nil
	h.live.ctrl = &catools.Ctrl{Value: record.Enum(1), Labels: []string{"DIAD", "VMX"}}

	res, err := Initialize(context.Background(), h.deps([]string{"DIAD", "extra"}, map[string]string{"RINGMODE": "VMX"}))
	require.NoError(t, err)
	assert.Equal(t, "DIAD", res.RingMode)
	assert.Equal(t, "arg", res.ModeSource)
	assert.Zero(t, h.live.calls)
}

func TestResolve_ArgumentVerbatim(t *testing.T) {
	for _, arg := range []string{"VMX", " with spaces ", "not-a-mode", ""} {
		r, err := NewResolver(ResolverConfig{Args: []string{arg}}).Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, arg, r.Mode)
		assert.Equal(t, "arg", r.Source)
	}
}

func TestResolve_Environment(t *testing.T) {
	h := newHarness()

	res, err := Initialize(context.Background(), h.deps(nil, map[string]string{"RINGMODE": "VMX"}))
	require.NoError(t, err)
	assert.Equal(t, "VMX", res.RingMode)
	assert.Equal(t, "env", res.ModeSource)
	assert.Zero(t, h.live.calls)
}

func TestResolve_EmptyEnvironmentCountsAsSet(t *testing.T) {
	live := &fakeLive{err: catools.ErrNoData}
	r := NewResolver(ResolverConfig{
		LookupEnv: func(k string) (string, bool) { return "", k == "RINGMODE" },
		Live:      live,
	})

	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Resolution{Mode: "", Source: "env"}, res)
	assert.Zero(t, live.calls)
}

func TestResolve_CustomEnvKey(t *testing.T) {
	r := NewResolver(ResolverConfig{
		EnvKey:    "ATIP_MODE",
		LookupEnv: func(k string) (string, bool) { return "I04", k == "ATIP_MODE" },
	})
	res, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "I04", res.Mode)
}

func TestResolve_NoDataFallsBackToDefault(t *testing.T) {
	h := newHarness()

	res, err := Initialize(context.Background(), h.deps(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "DIAD", res.RingMode)
	assert.Equal(t, "default", res.ModeSource)
	assert.Equal(t, 1, h.live.calls)
	assert.Equal(t, []string{"live SR-CS-RING-01:MODE", "build DIAD"}, h.j.events[:2])
}

func TestResolve_WrappedNoDataFallsBack(t *testing.T) {
	live := &fakeLive{err: fmt.Errorf("%w: SR-CS-RING-01:MODE (last error: timeout)", catools.ErrNoData)}
	res, err := NewResolver(ResolverConfig{Live: live, Default: "VMX"}).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "VMX", res.Mode)
}

func TestResolve_LiveLabel(t *testing.T) {
	h := newHarness()
	h.live.err = nil
	h.live.ctrl = &catools.Ctrl{Value: record.Enum(2), Labels: []string{"DIAD", "VMX", "VMXS"}}

	res, err := Initialize(context.Background(), h.deps(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "VMXS", res.RingMode)
	assert.Equal(t, "live", res.ModeSource)
}

func TestResolve_LiveFailuresPropagate(t *testing.T) {
	tests := []struct {
		name string
		live *fakeLive
		want error
	}{
		{"Malformed", &fakeLive{err: catools.ErrMalformedReply}, catools.ErrMalformedReply},
		{"Remote", &fakeLive{err: catools.ErrRemote}, catools.ErrRemote},
		{"Cancelled", &fakeLive{err: context.Canceled}, context.Canceled},
		{"BadRequest", &fakeLive{err: fmt.Errorf("%w: getctrl: too large", catools.ErrBadRequest)}, catools.ErrBadRequest},
		{"NotEnum", &fakeLive{ctrl: &catools.Ctrl{Value: record.Double(1)}}, ErrNotEnum},
		{"IndexPastLabels", &fakeLive{ctrl: &catools.Ctrl{Value: record.Enum(3), Labels: []string{"DIAD"}}}, ErrNoLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.live = tt.live
			h.live.j = h.j

			res, err := Initialize(context.Background(), h.deps(nil, nil))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, errors.Is(err, catools.ErrNoData))

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, StageModeResolved, stageErr.Stage)
			assert.Equal(t, StageStart, res.Stage)
			assert.Empty(t, h.built)
		})
	}
}

func TestResolve_WithoutLiveReader(t *testing.T) {
	res, err := NewResolver(ResolverConfig{}).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Resolution{Mode: "DIAD", Source: "default"}, res)
}

func TestResolve_AllSourcesDecline(t *testing.T) {
	_, err := (&Resolver{Sources: []Source{ArgSource{}}}).Resolve(context.Background())
	assert.ErrorIs(t, err, ErrUnresolved)
}

// ============================================================================
// Sequencing
// ============================================================================

func TestInitialize_Order(t *testing.T) {
	h := newHarness()

	res, err := Initialize(context.Background(), h.deps([]string{"VMX"}, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"build VMX",
		"device CS-CS-MSTAT-01",
		"aout FBHEART",
		"load",
		"init",
		"monitor",
	}, h.j.events)

	assert.Equal(t, []Stage{
		StageModeResolved,
		StageServerBuilt,
		StageSpecialRecordAdded,
		StageDatabaseLoaded,
		StageIOCRunning,
		StageMonitoringActive,
	}, h.stages)

	assert.Equal(t, StageMonitoringActive, res.Stage)
	assert.Same(t, h.server, res.Server)
	assert.Equal(t, []string{"/opt/atip/limits.csv"}, h.built)
	assert.Equal(t, []string{"CS-CS-MSTAT-01:FBHEART"}, h.builder.defined)
	assert.Equal(t, 1, h.server.monitors)
}

func TestInitialize_SpecialRecord(t *testing.T) {
	b := record.NewBuilder()
	h := newHarness()
	deps := h.deps([]string{"DIAD"}, nil)
	deps.Builder = b

	_, err := Initialize(context.Background(), deps)
	require.NoError(t, err)

	r, ok := b.Lookup("CS-CS-MSTAT-01:FBHEART")
	require.True(t, ok)
	assert.Equal(t, record.TypeAO, r.Type())
	assert.Equal(t, record.Double(10), r.Get())
}

func TestInitialize_Failures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *harness)
		failStage  Stage
		lastStage  Stage
		wantEvents []string
	}{
		{
			name:       "ServerBuild",
			setup:      func(h *harness) { h.buildErr = atip.ErrUnknownRingMode },
			failStage:  StageServerBuilt,
			lastStage:  StageModeResolved,
			wantEvents: []string{"build VMX"},
		},
		{
			name:       "SpecialRecordCollision",
			setup:      func(h *harness) { h.builder.err = record.ErrDuplicateRecord },
			failStage:  StageSpecialRecordAdded,
			lastStage:  StageServerBuilt,
			wantEvents: []string{"build VMX", "device CS-CS-MSTAT-01", "aout FBHEART"},
		},
		{
			name:       "LoadDatabase",
			setup:      func(h *harness) { h.runtime.loadErr = errors.New("disk full") },
			failStage:  StageDatabaseLoaded,
			lastStage:  StageSpecialRecordAdded,
			wantEvents: []string{"build VMX", "device CS-CS-MSTAT-01", "aout FBHEART", "load"},
		},
		{
			name:       "Init",
			setup:      func(h *harness) { h.runtime.initErr = errors.New("address in use") },
			failStage:  StageIOCRunning,
			lastStage:  StageDatabaseLoaded,
			wantEvents: []string{"build VMX", "device CS-CS-MSTAT-01", "aout FBHEART", "load", "init"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)

			res, err := Initialize(context.Background(), h.deps([]string{"VMX"}, nil))
			require.Error(t, err)

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tt.failStage, stageErr.Stage)
			assert.Equal(t, tt.lastStage, res.Stage)
			assert.Equal(t, tt.wantEvents, h.j.events)
			assert.Zero(t, h.server.monitors)
		})
	}
}

func TestInitialize_CollisionWithRealBuilder(t *testing.T) {
	b := record.NewBuilder()
	b.SetDeviceName("CS-CS-MSTAT-01")
	_, err := b.AIn("FBHEART")
	require.NoError(t, err)

	h := newHarness()
	deps := h.deps([]string{"DIAD"}, nil)
	deps.Builder = b

	_, err = Initialize(context.Background(), deps)
	assert.ErrorIs(t, err, record.ErrDuplicateRecord)
	assert.NotContains(t, h.j.events, "load")
}

func TestInitialize_NilServer(t *testing.T) {
	h := newHarness()
	deps := h.deps([]string{"DIAD"}, nil)
	deps.NewServer = func(context.Context, string, atip.ConfigPaths) (PVServer, error) { return nil, nil }

	res, err := Initialize(context.Background(), deps)
	require.Error(t, err)
	assert.Equal(t, StageModeResolved, res.Stage)
}

func TestInitialize_RecordsStageMetrics(t *testing.T) {
	m := &recordingMetrics{}
	h := newHarness()
	deps := h.deps([]string{"VMX"}, nil)
	deps.Metrics = m
	h.runtime.initErr = errors.New("boom")

	_, err := Initialize(context.Background(), deps)
	require.Error(t, err)

	assert.Equal(t, []string{"MODE_RESOLVED", "SERVER_BUILT", "SPECIAL_RECORD_ADDED", "DATABASE_LOADED", "IOC_RUNNING"}, m.stages)
	assert.Equal(t, []bool{false, false, false, false, true}, m.failed)
	assert.Equal(t, "VMX/arg", m.mode)
}

func TestInitialize_RecordsMonitoringStage(t *testing.T) {
	m := &recordingMetrics{}
	h := newHarness()
	deps := h.deps([]string{"DIAD"}, nil)
	deps.Metrics = m

	res, err := Initialize(context.Background(), deps)
	require.NoError(t, err)

	assert.Equal(t, StageMonitoringActive, res.Stage)
	require.Len(t, m.stages, 6)
	assert.Equal(t, "MONITORING_ACTIVE", m.stages[5])
	assert.Equal(t, []bool{false, false, false, false, false, false}, m.failed)
	assert.Equal(t, StageMonitoringActive, h.stages[len(h.stages)-1])
	assert.Equal(t, 1, h.server.monitors)
}

func TestInitialize_PanicsOnMissingDeps(t *testing.T) {
	assert.Panics(t, func() { _, _ = Initialize(context.Background(), Deps{}) })
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "IOC_RUNNING", StageIOCRunning.String())
	assert.Equal(t, "Stage(42)", Stage(42).String())

	err := &StageError{Stage: StageDatabaseLoaded, Err: errors.New("x")}
	assert.Equal(t, "startup failed at DATABASE_LOADED: x", err.Error())
}
