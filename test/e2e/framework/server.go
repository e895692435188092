package framework

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/atipioc/internal/logger"
	pvwireadapter "github.com/marmos91/atipioc/pkg/adapter/pvwire"
	"github.com/marmos91/atipioc/pkg/atip"
	"github.com/marmos91/atipioc/pkg/catools"
	"github.com/marmos91/atipioc/pkg/record"
	"github.com/marmos91/atipioc/pkg/server"
	"github.com/marmos91/atipioc/pkg/startup"
	"github.com/marmos91/atipioc/pkg/store/dbfile"
	"github.com/marmos91/atipioc/pkg/store/values"
)

// TestIOCConfig holds configuration for a test IOC.
type TestIOCConfig struct {
	// Name identifies the IOC for autosave and dbfile keys. Default: "atip".
	Name string

	// Args are the positional command-line arguments (the ring mode).
	Args []string

	// Env replaces the process environment for the ring-mode lookup.
	Env map[string]string

	// Peers are addresses of running IOCs. With none, the live lookup is
	// skipped and mirrors have nothing to read.
	Peers []string

	// Files are the ATIP configuration tables. Zero uses SampleFiles.
	Files ConfigFiles

	// RingModes overrides atip.DefaultRingModes.
	RingModes []string

	Values  values.Store
	Restore bool
	Sink    dbfile.Sink

	MirrorInterval time.Duration
	LogLevel       string
	StartupTimeout time.Duration
}

// TestIOC wraps a fully started IOC for testing. It listens on an
// ephemeral pvwire port.
type TestIOC struct {
	t       testing.TB
	config  TestIOCConfig
	ioc     *server.IOC
	adapter *pvwireadapter.Adapter
	result  *startup.Result
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewTestIOC creates a test IOC instance. Call Start to bring it up.
func NewTestIOC(t testing.TB, config TestIOCConfig) *TestIOC {
	t.Helper()

	if config.Name == "" {
		config.Name = "atip"
	}
	if config.Files == (ConfigFiles{}) {
		config.Files = SampleFiles
	}
	if config.MirrorInterval == 0 {
		config.MirrorInterval = 20 * time.Millisecond
	}
	if config.LogLevel == "" {
		config.LogLevel = "ERROR" // Keep tests quiet by default
	}
	if config.StartupTimeout == 0 {
		config.StartupTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &TestIOC{
		t:      t,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs the startup sequence and waits until the pvwire port answers.
//
// On failure the returned error wraps the *startup.StageError.
func (ti *TestIOC) Start() error {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	if ti.started {
		return fmt.Errorf("ioc already started")
	}

	ti.t.Helper()
	logger.SetLevel(ti.config.LogLevel)

	paths := WriteConfigFiles(ti.t, ti.config.Files)

	client := catools.NewClient(catools.Config{
		AddrList: ti.config.Peers,
		Timeout:  time.Second,
	})
	builder := record.NewBuilder()

	ti.ioc = server.New(builder, server.Options{
		Name:    ti.config.Name,
		RunID:   strconv.FormatInt(time.Now().UnixNano(), 36),
		Values:  ti.config.Values,
		Restore: ti.config.Restore,
		Sink:    ti.config.Sink,
	})

	ti.adapter = pvwireadapter.New(pvwireadapter.Config{
		Enabled:            true,
		BindAddress:        "127.0.0.1",
		MetricsLogInterval: -1,
	}, nil) // nil = no metrics for tests
	if err := ti.ioc.AddAdapter(ti.adapter); err != nil {
		return err
	}

	var live startup.LiveReader
	if len(ti.config.Peers) > 0 {
		live = client
	}

	resolver := startup.NewResolver(startup.ResolverConfig{
		Args:      ti.config.Args,
		LookupEnv: ti.lookupEnv,
		Live:      live,
	})

	ringModes := ti.config.RingModes
	if ringModes == nil {
		ringModes = atip.DefaultRingModes
	}

	newServer := func(ctx context.Context, mode string, paths atip.ConfigPaths) (startup.PVServer, error) {
		srv, err := atip.New(ctx, atip.Options{
			RingMode:       mode,
			RingModes:      ringModes,
			ModePV:         atip.DefaultModePV,
			Paths:          paths,
			Builder:        builder,
			Client:         client,
			MirrorInterval: ti.config.MirrorInterval,
		})
		if err != nil {
			return nil, err
		}
		return srv, nil
	}

	res, err := startup.Initialize(ti.ctx, startup.Deps{
		Resolver:  resolver,
		Paths:     paths,
		NewServer: newServer,
		Builder:   builder,
		Runtime:   ti.ioc,
	})
	ti.result = res
	if err != nil {
		ti.cancel()
		return fmt.Errorf("ioc failed to start: %w", err)
	}

	ti.t.Logf("Waiting for IOC to answer on %s...", ti.Addr())
	if err := ti.waitForIOC(); err != nil {
		ti.cancel()
		_ = ti.ioc.Wait()
		return err
	}

	ti.started = true
	ti.t.Logf("IOC started in ring mode %s on %s", res.RingMode, ti.Addr())
	return nil
}

// Stop stops the IOC and waits for the adapters and the mirror monitor.
func (ti *TestIOC) Stop() {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	if !ti.started {
		return
	}

	ti.t.Helper()
	ti.cancel()

	done := make(chan struct{})
	go func() {
		_ = ti.ioc.Wait()
		if srv, ok := ti.result.Server.(*atip.Server); ok {
			<-srv.MonitorDone()
		}
		close(done)
	}()

	select {
	case <-done:
		ti.t.Logf("IOC stopped gracefully")
	case <-time.After(5 * time.Second):
		ti.t.Logf("IOC stop timeout")
	}

	ti.started = false
}

func (ti *TestIOC) lookupEnv(key string) (string, bool) {
	if ti.config.Env == nil {
		return "", false
	}
	v, ok := ti.config.Env[key]
	return v, ok
}

// Addr returns the host:port the IOC serves on.
func (ti *TestIOC) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(ti.adapter.Port()))
}

// Result returns the startup result, including the stage reached on failure.
func (ti *TestIOC) Result() *startup.Result {
	return ti.result
}

// RingMode returns the resolved ring mode.
func (ti *TestIOC) RingMode() string {
	return ti.result.RingMode
}

// IOC returns the underlying runtime.
func (ti *TestIOC) IOC() *server.IOC {
	return ti.ioc
}

// Client returns a catools client pointed at this IOC only.
func (ti *TestIOC) Client() *catools.Client {
	return catools.NewClient(catools.Config{
		AddrList: []string{ti.Addr()},
		Timeout:  2 * time.Second,
	})
}

// waitForIOC waits for the IOC to answer a List request.
func (ti *TestIOC) waitForIOC() error {
	client := ti.Client()
	deadline := time.Now().Add(ti.config.StartupTimeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(ti.ctx, 500*time.Millisecond)
		_, err := client.List(ctx)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for IOC on %s", ti.Addr())
}

// FreeAddr returns a local address nothing listens on.
func FreeAddr(t testing.TB) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()
	return addr
}
