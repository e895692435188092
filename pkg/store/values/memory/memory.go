package memory

import (
	"context"
	"sync"

	"github.com/marmos91/atipioc/pkg/record"
)

// Store keeps values in a map. Nothing survives the process, which makes it
// the default when autosave is not configured and the store used in tests.
type Store struct {
	mu     sync.RWMutex
	values map[string]map[string]record.Value
}

// New returns an empty memory store.
func New() *Store {
	return &Store{values: make(map[string]map[string]record.Value)}
}

func (s *Store) Save(ctx context.Context, ioc, name string, v record.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.values[ioc]
	if !ok {
		m = make(map[string]record.Value)
		s.values[ioc] = m
	}
	if v.Kind == record.KindArray {
		v = record.Array(v.Array)
	}
	m[name] = v
	return nil
}

func (s *Store) Load(ctx context.Context, ioc string) (map[string]record.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]record.Value, len(s.values[ioc]))
	for name, v := range s.values[ioc] {
		out[name] = v
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ioc, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.values[ioc], name)
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error {
	return nil
}
