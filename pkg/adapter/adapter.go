package adapter

import (
	"context"

	"github.com/marmos91/atipioc/pkg/record"
)

// Adapter is a protocol server that publishes the IOC's record database.
//
// Lifecycle:
//  1. Creation: adapter is created with protocol-specific configuration
//  2. Database injection: SetDatabase hands over the frozen record set
//  3. Listen: binds the socket; failures here fail IOC initialisation
//  4. Serve: accepts clients and blocks until ctx is cancelled
//  5. Stop: graceful shutdown with a deadline
//
// Splitting Listen from Serve lets the IOC report "initialised" only once
// every adapter actually owns its port.
//
// Thread safety:
// SetDatabase and Listen are called once before Serve. Stop may be called
// concurrently with Serve.
type Adapter interface {
	// Listen binds the server socket. It must not block.
	Listen(ctx context.Context) error

	// Serve accepts connections until ctx is cancelled or an unrecoverable
	// error occurs.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - context.Canceled if cancelled via context
	//   - error if serving fails
	Serve(ctx context.Context) error

	// SetDatabase injects the record database served to clients.
	SetDatabase(db *record.Database)

	// Stop initiates graceful shutdown. Idempotent and safe to call
	// concurrently with Serve. When ctx expires remaining connections are
	// closed forcibly.
	Stop(ctx context.Context) error

	// Protocol returns the protocol name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter listens on. Once Listen has
	// succeeded with port 0, the actual bound port is returned.
	Port() int
}
