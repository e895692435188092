package record

import (
	"fmt"
	"strings"
	"sync"
)

// Separator joins the device name and the record name.
const Separator = ":"

// Builder accumulates record definitions until LoadDatabase freezes them.
//
// Records are named relative to the active device name, the way softioc's
// builder does it: with device "CS-CS-MSTAT-01", AOut("FBHEART") defines
// "CS-CS-MSTAT-01:FBHEART". With no device name set, names are used as is.
//
// Thread safety:
// Builder is safe for concurrent use, but the device name is shared state,
// so callers that interleave SetDeviceName with definitions should not do
// so from multiple goroutines.
type Builder struct {
	mu      sync.Mutex
	device  string
	records []*Record
	index   map[string]*Record
	loaded  bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{index: make(map[string]*Record)}
}

// SetDeviceName sets the prefix applied to subsequently defined records.
func (b *Builder) SetDeviceName(name string) {
	b.mu.Lock()
	b.device = name
	b.mu.Unlock()
}

// DeviceName returns the active device name.
func (b *Builder) DeviceName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device
}

// Len returns the number of records defined so far.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Lookup returns a record defined on this builder by full name.
func (b *Builder) Lookup(name string) (*Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.index[name]
	return r, ok
}

func (b *Builder) AIn(name string, opts ...Option) (*Record, error) {
	return b.define(TypeAI, name, opts)
}

func (b *Builder) AOut(name string, opts ...Option) (*Record, error) {
	return b.define(TypeAO, name, opts)
}

func (b *Builder) BoolIn(name string, opts ...Option) (*Record, error) {
	return b.define(TypeBI, name, opts)
}

func (b *Builder) BoolOut(name string, opts ...Option) (*Record, error) {
	return b.define(TypeBO, name, opts)
}

func (b *Builder) LongIn(name string, opts ...Option) (*Record, error) {
	return b.define(TypeLongIn, name, opts)
}

func (b *Builder) LongOut(name string, opts ...Option) (*Record, error) {
	return b.define(TypeLongOut, name, opts)
}

func (b *Builder) MbbIn(name string, opts ...Option) (*Record, error) {
	return b.define(TypeMbbi, name, opts)
}

func (b *Builder) MbbOut(name string, opts ...Option) (*Record, error) {
	return b.define(TypeMbbo, name, opts)
}

func (b *Builder) StringIn(name string, opts ...Option) (*Record, error) {
	return b.define(TypeStringIn, name, opts)
}

func (b *Builder) StringOut(name string, opts ...Option) (*Record, error) {
	return b.define(TypeStringOut, name, opts)
}

func (b *Builder) Waveform(name string, opts ...Option) (*Record, error) {
	return b.define(TypeWaveform, name, opts)
}

func (b *Builder) define(typ Type, name string, opts []Option) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loaded {
		return nil, ErrDatabaseLoaded
	}

	full, err := b.fullName(name)
	if err != nil {
		return nil, err
	}

	if _, exists := b.index[full]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRecord, full)
	}

	r, err := newRecord(full, typ, opts)
	if err != nil {
		return nil, err
	}

	b.records = append(b.records, r)
	b.index[full] = r
	return r, nil
}

func (b *Builder) fullName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if strings.ContainsAny(name, " \t\n\"") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if b.device == "" {
		return name, nil
	}
	return b.device + Separator + name, nil
}

// LoadDatabase freezes the definitions into a Database. The builder rejects
// every later definition and a second LoadDatabase.
func (b *Builder) LoadDatabase() (*Database, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loaded {
		return nil, ErrDatabaseLoaded
	}
	b.loaded = true

	return newDatabase(b.records), nil
}

// SplitName splits a full PV name at the first separator into device and
// record name. Names without a separator have an empty device.
func SplitName(pv string) (device, name string) {
	if i := strings.Index(pv, Separator); i >= 0 {
		return pv[:i], pv[i+len(Separator):]
	}
	return "", pv
}
