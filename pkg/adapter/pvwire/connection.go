package pvwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/marmos91/atipioc/internal/logger"
	"github.com/marmos91/atipioc/internal/protocol/pvwire"
	"github.com/marmos91/atipioc/internal/ratelimiter"
)

// connection serves requests from one client, one at a time.
type connection struct {
	server  *Adapter
	conn    net.Conn
	limiter *ratelimiter.RateLimiter
}

func newConnection(server *Adapter, conn net.Conn) *connection {
	return &connection{
		server:  server,
		conn:    conn,
		limiter: ratelimiter.New(server.config.RateLimit),
	}
}

// Serve handles requests until the client disconnects, a timeout expires,
// a malformed frame arrives or ctx is cancelled. The connection is always
// closed on return, including after a panic in a handler.
func (c *connection) Serve(ctx context.Context) {
	clientAddr := c.conn.RemoteAddr().String()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in pvwire connection handler from %s: %v", clientAddr, r)
		}
		_ = c.conn.Close()
	}()

	timeouts := c.server.config.Timeouts
	if timeouts.Idle > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(timeouts.Idle)); err != nil {
			logger.Warn("Failed to set deadline for %s: %v", clientAddr, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("pvwire connection from %s closed due to context cancellation", clientAddr)
			return
		case <-c.server.shutdown:
			logger.Debug("pvwire connection from %s closed due to server shutdown", clientAddr)
			return
		default:
		}

		if err := c.handleRequest(ctx); err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("pvwire connection from %s closed by client", clientAddr)
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Debug("pvwire connection from %s timed out: %v", clientAddr, err)
			case errors.Is(err, context.Canceled):
				logger.Debug("pvwire connection from %s cancelled", clientAddr)
			default:
				logger.Debug("Error handling pvwire request from %s: %v", clientAddr, err)
			}
			return
		}

		if timeouts.Idle > 0 {
			if err := c.conn.SetDeadline(time.Now().Add(timeouts.Idle)); err != nil {
				logger.Warn("Failed to reset deadline for %s: %v", clientAddr, err)
			}
		}
	}
}

// handleRequest reads one frame, dispatches it and writes the reply.
//
// Returns an error only when the connection should be closed: I/O failure,
// an oversized or undecodable frame, or cancellation.
func (c *connection) handleRequest(ctx context.Context) error {
	// The idle deadline covers the wait for the next header; the read
	// timeout starts once a request begins to arrive.
	header, err := pvwire.ReadFrameHeader(c.conn)
	if err != nil {
		return err
	}

	if c.server.config.Timeouts.Read > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.server.config.Timeouts.Read)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	body := make([]byte, header.Length)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return fmt.Errorf("read request body: %w", err)
	}

	req, err := pvwire.DecodeRequest(body)
	if err != nil {
		if req == nil {
			return err
		}
		// Well-formed but unsupported: answer so the client can report it.
		return c.sendReply(&pvwire.Reply{
			XID:     req.XID,
			Status:  pvwire.StatusBadRequest,
			Message: err.Error(),
		})
	}

	op := pvwire.OpName(req.Op)
	logger.Debug("pvwire %s: xid=0x%x name=%q client=%s", op, req.XID, req.Name, c.conn.RemoteAddr())

	if !c.limiter.Allow() {
		c.server.metrics.RecordRateLimited()
		return c.sendReply(&pvwire.Reply{
			XID:     req.XID,
			Status:  pvwire.StatusBusy,
			Message: "rate limit exceeded",
		})
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.server.metrics.RecordRequestStart(op)
	start := time.Now()
	reply := c.server.handle(ctx, req)
	c.server.metrics.RecordRequest(op, pvwire.StatusName(reply.Status), time.Since(start))
	c.server.metrics.RecordRequestEnd(op)

	return c.sendReply(reply)
}

func (c *connection) sendReply(reply *pvwire.Reply) error {
	if c.server.config.Timeouts.Write > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.Timeouts.Write)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	body, err := pvwire.EncodeReply(reply)
	if err != nil {
		return err
	}

	if err := pvwire.WriteFrame(c.conn, body); err != nil {
		return err
	}

	logger.Debug("Sent pvwire reply for XID=0x%x status=%s", reply.XID, pvwire.StatusName(reply.Status))
	return nil
}
