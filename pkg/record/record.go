package record

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Type is the EPICS record type name.
type Type string

const (
	TypeAI        Type = "ai"
	TypeAO        Type = "ao"
	TypeBI        Type = "bi"
	TypeBO        Type = "bo"
	TypeLongIn    Type = "longin"
	TypeLongOut   Type = "longout"
	TypeMbbi      Type = "mbbi"
	TypeMbbo      Type = "mbbo"
	TypeStringIn  Type = "stringin"
	TypeStringOut Type = "stringout"
	TypeWaveform  Type = "waveform"
)

// maxMbbLabels is the number of state strings an mbbi/mbbo record carries.
const maxMbbLabels = 16

// IsOutput reports whether clients may write records of this type.
func (t Type) IsOutput() bool {
	switch t {
	case TypeAO, TypeBO, TypeLongOut, TypeMbbo, TypeStringOut:
		return true
	}
	return false
}

// Kind returns the value kind stored by records of this type.
func (t Type) Kind() Kind {
	switch t {
	case TypeAI, TypeAO:
		return KindDouble
	case TypeLongIn, TypeLongOut:
		return KindLong
	case TypeBI, TypeBO, TypeMbbi, TypeMbbo:
		return KindEnum
	case TypeStringIn, TypeStringOut:
		return KindString
	case TypeWaveform:
		return KindArray
	}
	return 0
}

// Fields holds the descriptive and limit fields of a record.
type Fields struct {
	Desc      string
	EGU       string
	Precision int

	// Display limits (HOPR/LOPR)
	HasDisplay bool
	HOPR, LOPR float64

	// Drive limits (DRVH/DRVL), enforced on client writes to ao records
	HasDrive   bool
	DRVH, DRVL float64
}

// UpdateFunc is called after a client write has been committed.
type UpdateFunc func(ctx context.Context, r *Record, v Value) error

// Record is a single named process variable.
//
// Name, type, fields and labels are fixed at construction. The value is
// guarded by the record's own mutex and may change for the lifetime of the
// process.
type Record struct {
	name     string
	typ      Type
	fields   Fields
	labels   []string
	autosave bool
	onUpdate UpdateFunc

	mu        sync.RWMutex
	value     Value
	observers []UpdateFunc
}

func (r *Record) Name() string   { return r.name }
func (r *Record) Type() Type     { return r.typ }
func (r *Record) Fields() Fields { return r.fields }
func (r *Record) Autosave() bool { return r.autosave }

// Labels returns a copy of the enum state strings.
func (r *Record) Labels() []string {
	out := make([]string, len(r.labels))
	copy(out, r.labels)
	return out
}

// Get returns the current value.
func (r *Record) Get() Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// Set stores a value without running update callbacks. It is used by the
// model side (mirrors, readbacks, restore) and works on input and output
// records alike.
func (r *Record) Set(v Value) error {
	v, err := r.check(v)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.value = v
	r.mu.Unlock()
	return nil
}

// Write applies a client write. Only output records accept writes; ao values
// are clamped to the drive limits. The value is committed before the
// record's update callback and observers run, and the committed value is
// returned.
func (r *Record) Write(ctx context.Context, v Value) (Value, error) {
	if !r.typ.IsOutput() {
		return Value{}, fmt.Errorf("%s: %w", r.name, ErrReadOnly)
	}

	v, err := r.check(v)
	if err != nil {
		return Value{}, err
	}

	if r.typ == TypeAO && r.fields.HasDrive {
		v.Double = math.Min(math.Max(v.Double, r.fields.DRVL), r.fields.DRVH)
	}

	r.mu.Lock()
	r.value = v
	observers := r.observers
	r.mu.Unlock()

	if r.onUpdate != nil {
		if err := r.onUpdate(ctx, r, v); err != nil {
			return v, fmt.Errorf("%s: update callback: %w", r.name, err)
		}
	}
	for _, fn := range observers {
		if err := fn(ctx, r, v); err != nil {
			return v, fmt.Errorf("%s: observer: %w", r.name, err)
		}
	}

	return v, nil
}

// Observe registers fn to run after every successful client write.
func (r *Record) Observe(fn UpdateFunc) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// check coerces v to the record's kind and validates enum ranges.
func (r *Record) check(v Value) (Value, error) {
	v, err := coerce(r.typ.Kind(), v)
	if err != nil {
		return Value{}, fmt.Errorf("%s: %w", r.name, err)
	}

	if v.Kind == KindEnum && len(r.labels) > 0 && int(v.Index) >= len(r.labels) {
		return Value{}, fmt.Errorf("%s: %w: index %d, %d states", r.name, ErrOutOfRange, v.Index, len(r.labels))
	}

	if v.Kind == KindArray {
		v = Array(v.Array)
	}

	return v, nil
}

// Option customises a record at construction.
type Option func(*options)

type options struct {
	fields   Fields
	labels   []string
	onUpdate UpdateFunc
	autosave bool

	initial    *float64
	initialStr *string
	initialArr []float64
}

// WithInitial sets a numeric initial value. For enum records it is the state index.
func WithInitial(v float64) Option {
	return func(o *options) { o.initial = &v }
}

// WithInitialString sets the initial value of a string record.
func WithInitialString(s string) Option {
	return func(o *options) { o.initialStr = &s }
}

// WithInitialArray sets the initial value of a waveform record.
func WithInitialArray(v []float64) Option {
	return func(o *options) { o.initialArr = append([]float64(nil), v...) }
}

func WithDesc(desc string) Option {
	return func(o *options) { o.fields.Desc = desc }
}

func WithEGU(egu string) Option {
	return func(o *options) { o.fields.EGU = egu }
}

func WithPrecision(prec int) Option {
	return func(o *options) { o.fields.Precision = prec }
}

// WithDriveLimits sets DRVL/DRVH. Client writes to ao records are clamped to them.
func WithDriveLimits(low, high float64) Option {
	return func(o *options) {
		o.fields.HasDrive = true
		o.fields.DRVL, o.fields.DRVH = low, high
	}
}

// WithDisplayLimits sets LOPR/HOPR.
func WithDisplayLimits(low, high float64) Option {
	return func(o *options) {
		o.fields.HasDisplay = true
		o.fields.LOPR, o.fields.HOPR = low, high
	}
}

// WithLabels sets the state strings of bi/bo/mbbi/mbbo records.
func WithLabels(labels ...string) Option {
	return func(o *options) { o.labels = append([]string(nil), labels...) }
}

// WithOnUpdate sets the callback run after client writes to an output record.
func WithOnUpdate(fn UpdateFunc) Option {
	return func(o *options) { o.onUpdate = fn }
}

// WithAutosave marks the record for value persistence across restarts.
func WithAutosave() Option {
	return func(o *options) { o.autosave = true }
}

func newRecord(name string, typ Type, opts []Option) (*Record, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	switch typ {
	case TypeBI, TypeBO:
		if len(o.labels) == 0 {
			o.labels = []string{"0", "1"}
		}
		if len(o.labels) > 2 {
			return nil, fmt.Errorf("%s: %w: %s takes 2 states, got %d", name, ErrTooManyLabels, typ, len(o.labels))
		}
	case TypeMbbi, TypeMbbo:
		if len(o.labels) > maxMbbLabels {
			return nil, fmt.Errorf("%s: %w: %s takes %d states, got %d", name, ErrTooManyLabels, typ, maxMbbLabels, len(o.labels))
		}
	default:
		if len(o.labels) > 0 {
			return nil, fmt.Errorf("%s: labels are not supported by %s records", name, typ)
		}
	}

	r := &Record{
		name:     name,
		typ:      typ,
		fields:   o.fields,
		labels:   o.labels,
		autosave: o.autosave,
		onUpdate: o.onUpdate,
	}

	initial := zeroValue(typ.Kind())
	switch {
	case o.initialStr != nil:
		initial = String(*o.initialStr)
	case o.initialArr != nil:
		initial = Array(o.initialArr)
	case o.initial != nil:
		initial = Double(*o.initial)
	}

	if err := r.Set(initial); err != nil {
		return nil, fmt.Errorf("initial value: %w", err)
	}

	return r, nil
}

func zeroValue(k Kind) Value {
	switch k {
	case KindDouble:
		return Double(0)
	case KindLong:
		return Long(0)
	case KindEnum:
		return Enum(0)
	case KindString:
		return String("")
	default:
		return Array(nil)
	}
}
