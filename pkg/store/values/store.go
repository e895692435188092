// Package values persists autosaved record values across IOC restarts.
//
// Entries are scoped by IOC name so several IOCs can share one store.
package values

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marmos91/atipioc/pkg/record"
)

// Store saves and restores record values.
//
// Thread safety:
// Implementations must be safe for concurrent use; record observers call
// Save from client-write goroutines.
type Store interface {
	// Save records the latest value of one record.
	Save(ctx context.Context, ioc, name string, v record.Value) error

	// Load returns every saved value for ioc, keyed by record name. An IOC
	// with nothing saved yields an empty map, not an error.
	Load(ctx context.Context, ioc string) (map[string]record.Value, error)

	// Delete forgets one record's saved value. Deleting a missing entry is
	// not an error.
	Delete(ctx context.Context, ioc, name string) error

	Close() error
}

// Entry is the serialized form of a saved value.
type Entry struct {
	Kind    string    `json:"kind"`
	Double  float64   `json:"double,omitempty"`
	Long    int32     `json:"long,omitempty"`
	Index   uint32    `json:"index,omitempty"`
	Text    string    `json:"text,omitempty"`
	Array   []float64 `json:"array,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

var kindsByName = map[string]record.Kind{
	record.KindDouble.String(): record.KindDouble,
	record.KindLong.String():   record.KindLong,
	record.KindEnum.String():   record.KindEnum,
	record.KindString.String(): record.KindString,
	record.KindArray.String():  record.KindArray,
}

// Encode serializes a value as JSON. JSON keeps saved files readable when
// an operator needs to inspect or hand-edit them.
func Encode(v record.Value, savedAt time.Time) ([]byte, error) {
	e := Entry{
		Kind:    v.Kind.String(),
		Double:  v.Double,
		Long:    v.Long,
		Index:   v.Index,
		Text:    v.Text,
		Array:   v.Array,
		SavedAt: savedAt.UTC(),
	}
	data, err := json.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return data, nil
}

// Decode parses a value written by Encode.
func Decode(data []byte) (record.Value, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return record.Value{}, fmt.Errorf("failed to decode value: %w", err)
	}

	kind, ok := kindsByName[e.Kind]
	if !ok {
		return record.Value{}, fmt.Errorf("failed to decode value: unknown kind %q", e.Kind)
	}

	switch kind {
	case record.KindDouble:
		return record.Double(e.Double), nil
	case record.KindLong:
		return record.Long(e.Long), nil
	case record.KindEnum:
		return record.Enum(e.Index), nil
	case record.KindString:
		return record.String(e.Text), nil
	default:
		return record.Array(e.Array), nil
	}
}
