package pvwire

// Protocol version carried in every request. Servers reject other versions
// with StatusBadRequest.
const Version = 1

// DefaultPort is the TCP port pvwire servers listen on by default. It is the
// Channel Access server port so site firewall rules carry over.
const DefaultPort = 5064

// MaxFrameSize bounds a single request or reply body.
const MaxFrameSize = 1 << 20 // 1MB

// Operations
//
// A request names exactly one record, except OpList which names none.
const (
	// OpGet reads the current value.
	OpGet uint32 = 1

	// OpGetCtrl reads the value together with the record's control
	// metadata: type, enum labels, units, precision and limits.
	OpGetCtrl uint32 = 2

	// OpPut writes a value to an output record. The reply carries the value
	// actually committed, which may differ after drive-limit clamping.
	OpPut uint32 = 3

	// OpList returns every record name served, newline-joined in the reply
	// value's text.
	OpList uint32 = 4
)

// Reply statuses
const (
	StatusOK         uint32 = 0
	StatusNotFound   uint32 = 1
	StatusReadOnly   uint32 = 2
	StatusBadValue   uint32 = 3
	StatusBadRequest uint32 = 4
	StatusInternal   uint32 = 5
	StatusBusy       uint32 = 6
)

// OpName returns a short name for an operation, used in logs and metric labels.
func OpName(op uint32) string {
	switch op {
	case OpGet:
		return "GET"
	case OpGetCtrl:
		return "GET_CTRL"
	case OpPut:
		return "PUT"
	case OpList:
		return "LIST"
	default:
		return "UNKNOWN"
	}
}

// StatusName returns a short name for a reply status.
func StatusName(status uint32) string {
	switch status {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusReadOnly:
		return "READ_ONLY"
	case StatusBadValue:
		return "BAD_VALUE"
	case StatusBadRequest:
		return "BAD_REQUEST"
	case StatusInternal:
		return "INTERNAL"
	case StatusBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}
