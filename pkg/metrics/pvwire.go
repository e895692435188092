package metrics

import "time"

// PVWireMetrics provides observability for the pvwire adapter.
//
// The adapter falls back to NewNoopPVWireMetrics when given nil.
type PVWireMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - op: operation name (GET, GET_CTRL, PUT, LIST)
	//   - status: reply status name (OK, NOT_FOUND, ...)
	//   - duration: time spent in the handler
	RecordRequest(op string, status string, duration time.Duration)

	// RecordRequestStart increments the in-flight gauge for op.
	RecordRequestStart(op string)

	// RecordRequestEnd decrements the in-flight gauge for op.
	RecordRequestEnd(op string)

	// RecordRateLimited counts a request rejected by the per-connection limiter.
	RecordRateLimited()

	SetActiveConnections(count int32)
	RecordConnectionAccepted()
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed after the
	// shutdown timeout expired.
	RecordConnectionForceClosed()
}

type noopPVWireMetrics struct{}

// NewNoopPVWireMetrics returns a PVWireMetrics that records nothing.
func NewNoopPVWireMetrics() PVWireMetrics {
	return noopPVWireMetrics{}
}

func (noopPVWireMetrics) RecordRequest(string, string, time.Duration) {}
func (noopPVWireMetrics) RecordRequestStart(string)                   {}
func (noopPVWireMetrics) RecordRequestEnd(string)                     {}
func (noopPVWireMetrics) RecordRateLimited()                          {}
func (noopPVWireMetrics) SetActiveConnections(int32)                  {}
func (noopPVWireMetrics) RecordConnectionAccepted()                   {}
func (noopPVWireMetrics) RecordConnectionClosed()                     {}
func (noopPVWireMetrics) RecordConnectionForceClosed()                {}
