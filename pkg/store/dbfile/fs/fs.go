package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/atipioc/pkg/store/dbfile"
)

// Sink writes database files below a base directory. Key separators map to
// subdirectories, so each IOC gets its own directory.
type Sink struct {
	basePath string
}

// New creates the base directory if needed.
func New(ctx context.Context, basePath string) (*Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if basePath == "" {
		return nil, errors.New("filesystem dbfile sink: path is required")
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Sink{basePath: basePath}, nil
}

func (s *Sink) path(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// Write replaces the file atomically: readers never see a partial database.
func (s *Sink) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := dbfile.ValidateKey(key); err != nil {
		return err
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}

	return nil
}

func (s *Sink) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := dbfile.ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", dbfile.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *Sink) List(ctx context.Context, prefix string) ([]dbfile.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []dbfile.Entry
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}

		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, dbfile.Entry{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.basePath, err)
	}

	dbfile.SortEntries(out)
	return out, nil
}

func (s *Sink) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := dbfile.ValidateKey(key); err != nil {
		return err
	}

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Sink) Close() error {
	return nil
}
