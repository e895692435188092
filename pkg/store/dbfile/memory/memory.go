package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/atipioc/pkg/store/dbfile"
)

type file struct {
	data    []byte
	modTime time.Time
}

// Sink keeps database files in memory.
type Sink struct {
	mu    sync.RWMutex
	files map[string]file
	now   func() time.Time
}

// New returns an empty sink.
func New() *Sink {
	return &Sink{files: make(map[string]file), now: time.Now}
}

// SetClock replaces the time source used for modification times.
func (s *Sink) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Sink) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := dbfile.ValidateKey(key); err != nil {
		return err
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.files[key] = file{data: cp, modTime: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *Sink) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	f, ok := s.files[key]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", dbfile.ErrNotFound, key)
	}

	cp := make([]byte, len(f.data))
	copy(cp, f.data)
	return cp, nil
}

func (s *Sink) List(ctx context.Context, prefix string) ([]dbfile.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []dbfile.Entry
	for key, f := range s.files {
		if strings.HasPrefix(key, prefix) {
			out = append(out, dbfile.Entry{Key: key, Size: int64(len(f.data)), ModTime: f.modTime})
		}
	}
	dbfile.SortEntries(out)
	return out, nil
}

func (s *Sink) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.files, key)
	s.mu.Unlock()
	return nil
}

func (s *Sink) Close() error {
	return nil
}
