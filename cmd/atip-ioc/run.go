package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/atipioc/internal/logger"
	"github.com/marmos91/atipioc/pkg/atip"
	"github.com/marmos91/atipioc/pkg/catools"
	"github.com/marmos91/atipioc/pkg/config"
	"github.com/marmos91/atipioc/pkg/gc"
	"github.com/marmos91/atipioc/pkg/record"
	"github.com/marmos91/atipioc/pkg/server"
	"github.com/marmos91/atipioc/pkg/shell"
	"github.com/marmos91/atipioc/pkg/startup"
)

type runOptions struct {
	configPath  string
	logLevel    string
	interactive bool
	args        []string

	// lookupEnv replaces os.LookupEnv for the ring-mode variable.
	lookupEnv func(string) (string, bool)

	// onStarted is called once the IOC is fully up.
	onStarted func(*server.IOC)
}

// run loads the configuration, brings the IOC up and serves until ctx is
// cancelled or the shell exits.
func run(ctx context.Context, opts runOptions, stdin io.Reader, stdout io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	if opts.logLevel != "" {
		if _, ok := logger.ParseLevel(opts.logLevel); !ok {
			return fmt.Errorf("invalid log level %q", opts.logLevel)
		}
		cfg.Logging.Level = strings.ToUpper(opts.logLevel)
	}

	logCloser, err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runID := cfg.IOC.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	paths, err := cfg.IOC.Paths()
	if err != nil {
		return err
	}

	var ready atomic.Bool
	m := config.InitializeMetrics(cfg, ready.Load)
	if m.Server != nil {
		go func() {
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	store, err := config.CreateValueStore(ctx, &cfg.Autosave)
	if err != nil {
		return fmt.Errorf("failed to create autosave store: %w", err)
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close autosave store: %v", err)
			}
		}()
	}

	sink, err := config.CreateDBFileSink(ctx, &cfg.DBFile)
	if err != nil {
		return fmt.Errorf("failed to create dbfile sink: %w", err)
	}
	if sink != nil {
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Warn("Failed to close dbfile sink: %v", err)
			}
		}()
	}

	client := catools.NewClient(cfg.CATools)
	builder := record.NewBuilder()

	ioc := server.New(builder, server.Options{
		Name:    cfg.IOC.Name,
		RunID:   runID,
		Values:  store,
		Restore: cfg.Autosave.Restore,
		Sink:    sink,
		Metrics: m.Mirror,
	})

	adapters, err := config.CreateAdapters(cfg, m.PVWire)
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := ioc.AddAdapter(a); err != nil {
			return err
		}
	}

	var live startup.LiveReader
	if !cfg.RingMode.SkipLive {
		live = client
	}

	resolver := startup.NewResolver(startup.ResolverConfig{
		Args:      opts.args,
		EnvKey:    cfg.RingMode.EnvVar,
		LookupEnv: opts.lookupEnv,
		Live:      live,
		PV:        cfg.RingMode.PV,
		Default:   cfg.RingMode.Default,
	})

	newServer := func(ctx context.Context, ringMode string, paths atip.ConfigPaths) (startup.PVServer, error) {
		srv, err := atip.New(ctx, atip.Options{
			RingMode:       ringMode,
			RingModes:      cfg.ATIP.RingModes,
			ModePV:         cfg.ATIP.ModePV,
			Paths:          paths,
			Builder:        builder,
			Client:         client,
			MirrorInterval: cfg.Mirror.Interval,
			Metrics:        m.Mirror,
		})
		if err != nil {
			// A typed nil would pass the nil-server check in Initialize.
			return nil, err
		}
		return srv, nil
	}

	res, err := startup.Initialize(ctx, startup.Deps{
		Resolver:  resolver,
		Paths:     paths,
		NewServer: newServer,
		Builder:   builder,
		Runtime:   ioc,
		Metrics:   m.Startup,
	})
	if err != nil {
		return err
	}
	ready.Store(true)

	logger.Info("IOC %s (run %s) serving %d records in ring mode %s",
		cfg.IOC.Name, runID, ioc.Database().Len(), res.RingMode)

	if sink != nil {
		collector := gc.NewCollector(sink, cfg.IOC.Name, ioc.DBFileKey(), cfg.DBFile.GCConfig())
		if stats, err := collector.RunNow(ctx); err != nil {
			logger.Warn("dbfile retention failed: %v", err)
		} else {
			logger.Debug("dbfile retention: %s", stats.Summary())
		}
		collector.Start()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer stopCancel()
			_ = collector.Stop(stopCtx)
		}()
	}

	if opts.onStarted != nil {
		opts.onStarted(ioc)
	}

	shellDone := make(chan struct{})
	if opts.interactive {
		go func() {
			defer close(shellDone)
			sh := shell.New(ioc.Database(), stdin, stdout)
			if err := sh.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Shell stopped: %v", err)
			}
			cancel()
		}()
	} else {
		close(shellDone)
		logger.Info("IOC is running. Press Ctrl+C to stop.")
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested, stopping IOC...")
	case <-ioc.Done():
	}
	cancel()

	timeout := time.NewTimer(cfg.Server.ShutdownTimeout)
	defer timeout.Stop()

	select {
	case <-ioc.Done():
	case <-timeout.C:
		return fmt.Errorf("IOC did not stop within %v", cfg.Server.ShutdownTimeout)
	}

	if srv, ok := res.Server.(*atip.Server); ok {
		select {
		case <-srv.MonitorDone():
		case <-timeout.C:
			logger.Warn("Mirror monitor did not stop within %v", cfg.Server.ShutdownTimeout)
		}
	}

	<-shellDone

	if err := ioc.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("IOC stopped")
	return nil
}
