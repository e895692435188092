package pvwire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/atipioc/internal/logger"
	"github.com/marmos91/atipioc/internal/ratelimiter"
	"github.com/marmos91/atipioc/pkg/metrics"
	"github.com/marmos91/atipioc/pkg/record"
)

// Adapter serves a record database over the pvwire protocol.
//
// Architecture:
// Adapter owns the TCP listener and the connection lifecycle. Each accepted
// connection runs in its own goroutine and processes requests one at a time.
// Connections share the database but own their rate limiter.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled and idle reads interrupted
//  4. Wait for active connections to complete (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use.
type Adapter struct {
	config  Config
	metrics metrics.PVWireMetrics

	db atomic.Pointer[record.Database]

	listenMu sync.Mutex
	listener net.Listener

	activeConns  sync.WaitGroup
	shutdownOnce sync.Once
	shutdown     chan struct{}
	connCount    atomic.Int32

	// connSemaphore is nil when MaxConnections is 0 (unlimited)
	connSemaphore chan struct{}

	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to net.Conn for forced closure
	activeConnections sync.Map
}

// Config holds the pvwire server configuration.
//
// Zero timeouts are replaced by defaults in New. Port 0 asks the OS for an
// ephemeral port; the configuration layer defaults it to pvwire.DefaultPort.
type Config struct {
	// Enabled controls whether the adapter is started.
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// BindAddress restricts the listener to one interface. Empty binds all.
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip"`

	// MaxConnections limits concurrent clients. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	Timeouts TimeoutsConfig `mapstructure:"timeouts"`

	// ShutdownTimeout bounds graceful shutdown before connections are
	// force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval is the period of the "pvwire metrics" log line.
	// 0 uses the default, negative disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval"`

	// RateLimit throttles each connection separately.
	RateLimit ratelimiter.Config `mapstructure:"rate_limit"`
}

// TimeoutsConfig holds per-connection I/O timeouts.
type TimeoutsConfig struct {
	// Read bounds reading one complete request.
	Read time.Duration `mapstructure:"read" validate:"min=0"`

	// Write bounds writing one reply.
	Write time.Duration `mapstructure:"write" validate:"min=0"`

	// Idle closes connections with no request for this long.
	Idle time.Duration `mapstructure:"idle" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = 30 * time.Second
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 30 * time.Second
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.Timeouts.Read < 0 || c.Timeouts.Write < 0 || c.Timeouts.Idle < 0 {
		return fmt.Errorf("invalid timeouts %+v: must be >= 0", c.Timeouts)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates a stopped adapter. Call SetDatabase and Listen, then Serve.
//
// Parameters:
//   - config: server configuration (zero values take defaults)
//   - wireMetrics: optional metrics collector (nil for no metrics)
//
// Panics if config validation fails, which indicates a programmer error:
// the configuration layer validates user input first.
func New(config Config, wireMetrics metrics.PVWireMetrics) *Adapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid pvwire config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
	}

	if wireMetrics == nil {
		wireMetrics = metrics.NewNoopPVWireMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Adapter{
		config:         config,
		metrics:        wireMetrics,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// SetDatabase sets the database served to clients. Requests arriving
// before it is set are answered with StatusInternal.
func (s *Adapter) SetDatabase(db *record.Database) {
	s.db.Store(db)
	logger.Debug("pvwire database configured: %d record(s)", db.Len())
}

// Listen binds the TCP listener. Calling it again after success is a no-op.
func (s *Adapter) Listen(ctx context.Context) error {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()

	if s.listener != nil {
		return nil
	}

	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create pvwire listener on %s: %w", addr, err)
	}

	s.listener = listener
	logger.Info("pvwire server listening on %s", listener.Addr())
	logger.Debug("pvwire config: max_connections=%d read_timeout=%v write_timeout=%v idle_timeout=%v rate=%d/s",
		s.config.MaxConnections, s.config.Timeouts.Read, s.config.Timeouts.Write,
		s.config.Timeouts.Idle, s.config.RateLimit.RequestsPerSecond)

	return nil
}

func (s *Adapter) getListener() net.Listener {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	return s.listener
}

// Serve accepts connections until ctx is cancelled. It binds the listener
// first if Listen has not been called.
//
// Returns:
//   - nil when every connection finished within ShutdownTimeout
//   - an error naming the force-closed connections otherwise
//   - the listen error if binding fails
func (s *Adapter) Serve(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	listener := s.getListener()

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("pvwire shutdown signal received: %v", ctx.Err())
		case <-s.shutdown:
		}
		s.initiateShutdown()
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("pvwire listener closed: %w", err)
			}
			logger.Debug("Error accepting pvwire connection: %v", err)
			continue
		}

		s.activeConns.Add(1)
		current := s.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(current)
		logger.Debug("pvwire connection accepted from %s (active: %d)", connAddr, current)

		conn := newConnection(s, tcpConn)
		go func(addr string) {
			defer func() {
				s.activeConnections.Delete(addr)
				s.activeConns.Done()
				current := s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(current)
				logger.Debug("pvwire connection closed from %s (active: %d)", addr, current)
			}()

			conn.Serve(s.shutdownCtx)
		}(connAddr)
	}
}

// initiateShutdown closes the listener and cancels in-flight requests.
// Safe to call multiple times.
func (s *Adapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("pvwire shutdown initiated")

		close(s.shutdown)

		if l := s.getListener(); l != nil {
			if err := l.Close(); err != nil {
				logger.Debug("Error closing pvwire listener: %v", err)
			}
		}

		s.cancelRequests()

		// Wake connections blocked waiting for their next request. A
		// request already being handled still gets its reply written.
		s.activeConnections.Range(func(_, value any) bool {
			_ = value.(net.Conn).SetReadDeadline(time.Now())
			return true
		})
	})
}

// gracefulShutdown waits for active connections up to ShutdownTimeout, then
// force-closes the rest.
func (s *Adapter) gracefulShutdown() error {
	logger.Info("pvwire graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		s.connCount.Load(), s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("pvwire graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("pvwire shutdown timeout exceeded: %d connection(s) still active after %v, forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()
		return fmt.Errorf("pvwire shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *Adapter) forceCloseConnections() {
	closed := 0
	s.activeConnections.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", key, err)
		} else {
			closed++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closed > 0 {
		logger.Info("Force-closed %d pvwire connection(s)", closed)
	}
}

// Stop initiates shutdown and waits for active connections until ctx ends.
// Safe to call concurrently with Serve and more than once.
func (s *Adapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("pvwire shutdown context cancelled: %d connection(s) still active: %v",
			remaining, ctx.Err())
		s.forceCloseConnections()
		return ctx.Err()
	}
}

func (s *Adapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("pvwire metrics: active_connections=%d", s.connCount.Load())
		}
	}
}

// ActiveConnections returns the number of connections being served.
func (s *Adapter) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the bound port once listening, the configured port before.
func (s *Adapter) Port() int {
	if l := s.getListener(); l != nil {
		if addr, ok := l.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.config.Port
}

// Protocol returns "pvwire".
func (s *Adapter) Protocol() string {
	return "pvwire"
}
