package pvwire

// Value is the XDR form of record.Value. Kind selects the meaningful member;
// the rest are zero on the wire.
type Value struct {
	Kind   uint32
	Double float64
	Long   int32
	Index  uint32
	Text   string
	Array  []float64
}

// Request is a client call.
type Request struct {
	XID     uint32
	Version uint32
	Op      uint32
	Name    string
	Value   Value
}

// Ctrl carries record metadata for OpGetCtrl replies. It is zero in every
// other reply.
type Ctrl struct {
	RecordType string
	Labels     []string
	Units      string
	Precision  int32
	Desc       string
	Writable   bool

	HasDisplay bool
	LOPR       float64
	HOPR       float64
}

// Reply is a server response. XID echoes the request.
type Reply struct {
	XID     uint32
	Status  uint32
	Message string
	Value   Value
	Ctrl    Ctrl
}
