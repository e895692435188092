package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/atipioc/internal/logger"
	"github.com/marmos91/atipioc/pkg/adapter"
	"github.com/marmos91/atipioc/pkg/metrics"
	"github.com/marmos91/atipioc/pkg/record"
	"github.com/marmos91/atipioc/pkg/store/dbfile"
	"github.com/marmos91/atipioc/pkg/store/values"
)

var (
	// ErrNotLoaded is returned by Init when LoadDatabase has not succeeded.
	ErrNotLoaded = errors.New("database not loaded")

	// ErrAlreadyLoaded is returned by a second LoadDatabase.
	ErrAlreadyLoaded = errors.New("database already loaded")

	// ErrAlreadyStarted is returned by a second Init and by AddAdapter after Init.
	ErrAlreadyStarted = errors.New("ioc already started")

	// ErrNotStarted is returned by Wait before Init has succeeded.
	ErrNotStarted = errors.New("ioc not started")
)

// stopTimeout bounds how long Wait spends stopping adapters.
const stopTimeout = 30 * time.Second

// Options configures an IOC runtime.
type Options struct {
	// Name identifies the IOC in autosave entries and dbfile keys.
	Name string

	// RunID distinguishes this run's database file from earlier ones.
	RunID string

	// Values persists records built WithAutosave. Optional.
	Values values.Store

	// Restore loads saved values into autosave records at LoadDatabase.
	Restore bool

	// Sink receives the rendered database file. Optional.
	Sink dbfile.Sink

	// Metrics counts autosave writes. Defaults to no-op.
	Metrics metrics.MirrorMetrics
}

// IOC is the record-serving runtime: it freezes the builder into a database,
// hands it to every registered protocol adapter and supervises them.
//
// Lifecycle:
//  1. Creation: New() with the builder records are defined on
//  2. Registration: AddAdapter() for each protocol
//  3. LoadDatabase(): freeze records, restore autosave, write the .db file
//  4. Init(): bind every adapter and serve in the background
//  5. Wait(): block until the serving context ends or an adapter fails
//
// Thread safety:
// IOC is safe for concurrent use. LoadDatabase and Init each succeed at most
// once.
type IOC struct {
	builder *record.Builder
	opts    Options

	// mu protects adapters, db and the lifecycle flags
	mu       sync.RWMutex
	adapters []adapter.Adapter
	db       *record.Database
	dbKey    string
	started  bool

	done    chan struct{}
	waitErr error
}

// New creates an IOC over builder.
//
// Panics if builder is nil (programmer error).
func New(builder *record.Builder, opts Options) *IOC {
	if builder == nil {
		panic("record builder cannot be nil")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopMirrorMetrics()
	}

	return &IOC{
		builder:  builder,
		opts:     opts,
		adapters: make([]adapter.Adapter, 0, 2),
		done:     make(chan struct{}),
	}
}

// AddAdapter registers a protocol adapter.
//
// Each adapter must implement a different protocol and, unless it binds an
// ephemeral port, listen on a different port. If the database is already
// loaded the adapter receives it immediately.
//
// Returns:
//   - error if the adapter conflicts with an existing one
//   - ErrAlreadyStarted after Init
//
// Panics if the adapter is nil (programmer error).
func (s *IOC) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot add %s adapter: %w", a.Protocol(), ErrAlreadyStarted)
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	if s.db != nil {
		a.SetDatabase(s.db)
	}
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// LoadDatabase freezes the builder and prepares the database for serving.
//
// The steps, in order:
//  1. Builder.LoadDatabase; later record definitions fail
//  2. Restore saved values into autosave records (when Restore is set)
//  3. Attach observers that save autosave records on every client write
//  4. Render the .db file and write it to the sink (when one is set)
//  5. Hand the database to every registered adapter
//
// A restored value that no longer fits its record is logged and skipped.
func (s *IOC) LoadDatabase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return ErrAlreadyLoaded
	}

	db, err := s.builder.LoadDatabase()
	if err != nil {
		return fmt.Errorf("failed to freeze records: %w", err)
	}

	if s.opts.Values != nil {
		if err := s.restore(ctx, db); err != nil {
			return err
		}
		s.attachAutosave(db)
	}

	if s.opts.Sink != nil {
		key, err := s.writeDBFile(ctx, db)
		if err != nil {
			return err
		}
		s.dbKey = key
	}

	for _, a := range s.adapters {
		a.SetDatabase(db)
	}
	s.db = db

	logger.Info("Database loaded: %d record(s)", db.Len())
	return nil
}

func (s *IOC) restore(ctx context.Context, db *record.Database) error {
	if !s.opts.Restore {
		return nil
	}

	saved, err := s.opts.Values.Load(ctx, s.opts.Name)
	if err != nil {
		return fmt.Errorf("failed to load autosave values: %w", err)
	}

	restored := 0
	for name, v := range saved {
		rec, ok := db.Lookup(name)
		if !ok || !rec.Autosave() {
			logger.Debug("Ignoring autosave entry for %s: no such autosave record", name)
			continue
		}
		if err := rec.Set(v); err != nil {
			logger.Warn("Cannot restore %s: %v", name, err)
			continue
		}
		restored++
	}

	logger.Info("Restored %d autosave value(s)", restored)
	return nil
}

func (s *IOC) attachAutosave(db *record.Database) {
	store := s.opts.Values
	ioc := s.opts.Name
	m := s.opts.Metrics

	for _, rec := range db.Records() {
		if !rec.Autosave() {
			continue
		}
		rec.Observe(func(ctx context.Context, r *record.Record, v record.Value) error {
			err := store.Save(ctx, ioc, r.Name(), v)
			m.RecordAutosave(err)
			if err != nil {
				// The write itself stands; losing one save only costs the
				// value at the next restart.
				logger.Warn("Autosave of %s failed: %v", r.Name(), err)
			}
			return nil
		})
	}
}

func (s *IOC) writeDBFile(ctx context.Context, db *record.Database) (string, error) {
	var buf bytes.Buffer
	if err := db.Render(&buf); err != nil {
		return "", fmt.Errorf("failed to render database: %w", err)
	}

	key := dbfile.Key(s.opts.Name, s.opts.RunID)
	if err := dbfile.ValidateKey(key); err != nil {
		return "", err
	}
	if err := s.opts.Sink.Write(ctx, key, buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to write database file %s: %w", key, err)
	}

	logger.Info("Wrote database file %s (%d bytes)", key, buf.Len())
	return key, nil
}

// Init binds every adapter and starts serving in the background. It returns
// once all listeners are bound, so a record is reachable as soon as Init
// returns and never before.
//
// ctx controls the serving lifetime: cancelling it stops every adapter.
// If any adapter fails to bind, the ones already bound are stopped and the
// error is returned.
func (s *IOC) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if s.db == nil {
		return ErrNotLoaded
	}
	if len(s.adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Init()")
	}

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)

	for i, a := range adapters {
		if err := a.Listen(ctx); err != nil {
			stopAdapters(adapters[:i])
			return fmt.Errorf("%s adapter: %w", a.Protocol(), err)
		}
	}

	s.started = true
	go s.serve(ctx, adapters)

	logger.Info("IOC %s running with %d adapter(s)", s.opts.Name, len(adapters))
	return nil
}

// serve runs every adapter until ctx ends or one of them fails, then stops
// all of them and publishes the outcome for Wait.
func (s *IOC) serve(ctx context.Context, adapters []adapter.Adapter) {
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			if err := a.Serve(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				} else {
					logger.Debug("%s adapter stopped: %v", protocol, err)
				}
			} else {
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	var result error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		stopAdapters(adapters)
		result = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - stopping all adapters", adapterErr.protocol, adapterErr.err)
		stopAdapters(adapters)
		result = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	wg.Wait()
	logger.Info("IOC %s stopped", s.opts.Name)

	s.waitErr = result
	close(s.done)
}

type adapterError struct {
	protocol string
	err      error
}

// stopAdapters stops adapters in reverse registration order within
// stopTimeout, logging failures and carrying on.
func stopAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		logger.Debug("Stopping %s adapter (port %d)", a.Protocol(), a.Port())
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
		}
	}
}

// Wait blocks until serving has ended and every adapter has returned.
//
// Returns:
//   - ctx.Err() of the Init context when shutdown was requested
//   - the first adapter failure otherwise
//   - ErrNotStarted if Init has not succeeded
func (s *IOC) Wait() error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	if !started {
		return ErrNotStarted
	}

	<-s.done
	return s.waitErr
}

// Done is closed once serving has fully stopped.
func (s *IOC) Done() <-chan struct{} {
	return s.done
}

// Database returns the loaded database, or nil before LoadDatabase.
func (s *IOC) Database() *record.Database {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// DBFileKey returns the key the rendered database was written under, or ""
// when no sink is configured.
func (s *IOC) DBFileKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbKey
}

// Name returns the IOC name.
func (s *IOC) Name() string {
	return s.opts.Name
}

// Adapters returns a snapshot of the registered adapters.
func (s *IOC) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
