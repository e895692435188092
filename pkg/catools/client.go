// Package catools provides the client side of the pvwire protocol: one-shot
// reads and writes of process variables served by any IOC on the address
// list, in the spirit of caget/caput.
//
// The absence of a PV is reported as ErrNoData. Callers that treat a
// missing peer as a normal condition (ring-mode discovery, mirror polling)
// test for it with errors.Is and treat every other error as a failure.
package catools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/marmos91/atipioc/internal/logger"
	"github.com/marmos91/atipioc/internal/protocol/pvwire"
	"github.com/marmos91/atipioc/pkg/record"
)

var (
	// ErrNoData means no server on the address list answered for the PV
	// within the timeout: it was unreachable, timed out, or reported the
	// name unknown.
	ErrNoData = errors.New("no data available")

	// ErrMalformedReply means a server answered with something that is not
	// a valid reply to the request.
	ErrMalformedReply = errors.New("malformed reply")

	// ErrReadOnly is returned by Put for input records.
	ErrReadOnly = errors.New("pv is read-only")

	// ErrBadValue is returned by Put when the server rejected the value.
	ErrBadValue = errors.New("bad value")

	// ErrRemote wraps any other failure status reported by a server.
	ErrRemote = errors.New("server error")

	// ErrBadRequest means the request could not be encoded and was never
	// sent.
	ErrBadRequest = errors.New("bad request")

	// ErrNotEnum is returned by Ctrl.Label for a value that is not an enum.
	ErrNotEnum = errors.New("value is not an enum")

	// ErrNoLabel is returned by Ctrl.Label when the enum index is past the
	// label list.
	ErrNoLabel = errors.New("enum index has no label")
)

const (
	// DefaultTimeout bounds one request to one server.
	DefaultTimeout = 5 * time.Second

	// DefaultAddr is used when the address list is empty.
	DefaultAddr = "localhost:5064"
)

// Config configures a Client.
type Config struct {
	// AddrList is tried in order. Entries without a port use 5064.
	AddrList []string `mapstructure:"addr_list"`

	// Timeout per request and server, dial included. Default: 5s
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// Ctrl is a value together with the record's control metadata.
type Ctrl struct {
	Value      record.Value
	RecordType string
	Labels     []string
	Units      string
	Precision  int
	Desc       string
	Writable   bool
	HasDisplay bool
	LOPR, HOPR float64
}

// Label returns the state string of an enum value.
//
// Returns ErrNotEnum if the value is not an enum, or ErrNoLabel if its
// index is past the label list.
func (c *Ctrl) Label() (string, error) {
	if c.Value.Kind != record.KindEnum {
		return "", fmt.Errorf("%w: got %s", ErrNotEnum, c.Value.Kind)
	}
	if int(c.Value.Index) >= len(c.Labels) {
		return "", fmt.Errorf("%w: index %d of %d", ErrNoLabel, c.Value.Index, len(c.Labels))
	}
	return c.Labels[c.Value.Index], nil
}

// Client issues one-shot requests. Each request opens its own connection
// to each server it tries.
//
// Thread safety:
// Client is safe for concurrent use.
type Client struct {
	addrs   []string
	timeout time.Duration
	xid     atomic.Uint32
	dialer  net.Dialer
}

// NewClient creates a client with defaults applied.
func NewClient(cfg Config) *Client {
	addrs := make([]string, 0, len(cfg.AddrList))
	for _, a := range cfg.AddrList {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, normalizeAddr(a))
		}
	}
	if len(addrs) == 0 {
		addrs = []string{DefaultAddr}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{addrs: addrs, timeout: timeout}
}

// ParseAddrList splits an EPICS_CA_ADDR_LIST style string (whitespace or
// comma separated) into addresses.
func ParseAddrList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

func normalizeAddr(a string) string {
	if _, _, err := net.SplitHostPort(a); err == nil {
		return a
	}
	return net.JoinHostPort(strings.Trim(a, "[]"), strconv.Itoa(pvwire.DefaultPort))
}

// Addrs returns the effective address list.
func (c *Client) Addrs() []string {
	return append([]string(nil), c.addrs...)
}

// Get reads the current value of a PV.
func (c *Client) Get(ctx context.Context, name string) (record.Value, error) {
	reply, err := c.do(ctx, pvwire.OpGet, name, pvwire.Value{})
	if err != nil {
		return record.Value{}, err
	}
	return reply.Value.Record(), nil
}

// GetCtrl reads a PV's value together with its labels, units and limits.
func (c *Client) GetCtrl(ctx context.Context, name string) (*Ctrl, error) {
	reply, err := c.do(ctx, pvwire.OpGetCtrl, name, pvwire.Value{})
	if err != nil {
		return nil, err
	}

	return &Ctrl{
		Value:      reply.Value.Record(),
		RecordType: reply.Ctrl.RecordType,
		Labels:     reply.Ctrl.Labels,
		Units:      reply.Ctrl.Units,
		Precision:  int(reply.Ctrl.Precision),
		Desc:       reply.Ctrl.Desc,
		Writable:   reply.Ctrl.Writable,
		HasDisplay: reply.Ctrl.HasDisplay,
		LOPR:       reply.Ctrl.LOPR,
		HOPR:       reply.Ctrl.HOPR,
	}, nil
}

// Put writes a PV and returns the value the server committed, which may
// differ from v after drive-limit clamping.
func (c *Client) Put(ctx context.Context, name string, v record.Value) (record.Value, error) {
	reply, err := c.do(ctx, pvwire.OpPut, name, pvwire.FromRecord(v))
	if err != nil {
		return record.Value{}, err
	}
	return reply.Value.Record(), nil
}

// List returns the sorted union of PV names served by every reachable
// server. It returns ErrNoData only if no server answered.
func (c *Client) List(ctx context.Context) ([]string, error) {
	xid, body, err := c.encode(pvwire.OpList, "", pvwire.Value{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	answered := false
	var lastErr error

	for _, addr := range c.addrs {
		reply, err := c.roundTrip(ctx, addr, xid, body)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, ErrMalformedReply) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if reply.Status != pvwire.StatusOK {
			return nil, statusError(addr, "", reply)
		}

		answered = true
		for _, n := range strings.Split(reply.Value.Text, "\n") {
			if n != "" {
				seen[n] = struct{}{}
			}
		}
	}

	if !answered {
		return nil, fmt.Errorf("%w: list (last error: %v)", ErrNoData, lastErr)
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// do sends one request for name to each address in order until one of them
// serves the name.
//
// Only servers that could not be reached or do not know the name count
// towards ErrNoData; a request that cannot be encoded fails with
// ErrBadRequest before any server is tried.
func (c *Client) do(ctx context.Context, op uint32, name string, v pvwire.Value) (*pvwire.Reply, error) {
	xid, body, err := c.encode(op, name, v)
	if err != nil {
		return nil, err
	}

	var lastErr error

	for _, addr := range c.addrs {
		reply, err := c.roundTrip(ctx, addr, xid, body)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, ErrMalformedReply) {
				return nil, err
			}
			logger.Debug("catools %s %s via %s: %v", pvwire.OpName(op), name, addr, err)
			lastErr = err
			continue
		}

		if reply.Status == pvwire.StatusNotFound {
			lastErr = fmt.Errorf("%s: not found", addr)
			continue
		}
		if reply.Status != pvwire.StatusOK {
			return nil, statusError(addr, name, reply)
		}
		return reply, nil
	}

	return nil, fmt.Errorf("%w: %s (last error: %v)", ErrNoData, name, lastErr)
}

func statusError(addr, name string, reply *pvwire.Reply) error {
	var sentinel error
	switch reply.Status {
	case pvwire.StatusReadOnly:
		sentinel = ErrReadOnly
	case pvwire.StatusBadValue:
		sentinel = ErrBadValue
	default:
		sentinel = ErrRemote
	}
	if reply.Message != "" {
		return fmt.Errorf("%w: %s from %s: %s: %s", sentinel, name, addr, pvwire.StatusName(reply.Status), reply.Message)
	}
	return fmt.Errorf("%w: %s from %s: %s", sentinel, name, addr, pvwire.StatusName(reply.Status))
}

// encode builds the request body sent to every server of one call.
func (c *Client) encode(op uint32, name string, v pvwire.Value) (uint32, []byte, error) {
	req := &pvwire.Request{
		XID:     c.xid.Add(1),
		Version: pvwire.Version,
		Op:      op,
		Name:    name,
		Value:   v,
	}

	body, err := pvwire.EncodeRequest(req)
	if err == nil && len(body) > pvwire.MaxFrameSize {
		err = fmt.Errorf("%w: %d bytes", pvwire.ErrFrameTooLarge, len(body))
	}
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %v", ErrBadRequest, pvwire.OpName(op), err)
	}
	return req.XID, body, nil
}

// roundTrip sends one encoded request to one server within the timeout.
func (c *Client) roundTrip(ctx context.Context, addr string, xid uint32, body []byte) (*pvwire.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Unblock reads and writes when ctx ends before the deadline does.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	if err := pvwire.WriteFrame(conn, body); err != nil {
		return nil, err
	}

	replyBody, err := pvwire.ReadFrame(conn)
	if err != nil {
		if errors.Is(err, pvwire.ErrFrameTooLarge) {
			return nil, fmt.Errorf("%w from %s: %v", ErrMalformedReply, addr, err)
		}
		return nil, err
	}

	reply, err := pvwire.DecodeReply(replyBody)
	if err != nil {
		return nil, fmt.Errorf("%w from %s: %v", ErrMalformedReply, addr, err)
	}
	if reply.XID != xid {
		return nil, fmt.Errorf("%w from %s: xid %d, want %d", ErrMalformedReply, addr, reply.XID, xid)
	}

	return reply, nil
}
