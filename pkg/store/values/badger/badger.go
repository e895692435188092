package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/atipioc/pkg/record"
	"github.com/marmos91/atipioc/pkg/store/values"
)

// Key layout
//
//	v:<ioc>:<record name>  -> JSON entry (values.Encode)
//
// Record names contain ':' themselves; the IOC name may not, so the first
// two separators delimit the prefix.
const prefixValue = "v:"

func keyValue(ioc, name string) []byte {
	return []byte(prefixValue + ioc + ":" + name)
}

func keyIOCPrefix(ioc string) []byte {
	return []byte(prefixValue + ioc + ":")
}

// Config configures the badger value store.
type Config struct {
	// DBPath is the directory holding the badger files.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps everything in RAM. DBPath is ignored.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs every Save. Autosave traffic is low, so the default
	// configuration turns it on.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// Store is a values.Store backed by BadgerDB.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// New opens (or creates) the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.InMemory && cfg.DBPath == "" {
		return nil, errors.New("badger value store: db_path is required")
	}

	opts := badger.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Save(ctx context.Context, ioc, name string, v record.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.Contains(ioc, ":") {
		return fmt.Errorf("invalid IOC name %q: must not contain ':'", ioc)
	}

	data, err := values.Encode(v, s.now())
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyValue(ioc, name), data)
	})
}

func (s *Store) Load(ctx context.Context, ioc string) (map[string]record.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]record.Value)
	prefix := keyIOCPrefix(ioc)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			name := string(item.Key()[len(prefix):])

			err := item.Value(func(val []byte) error {
				v, err := values.Decode(val)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				out[name] = v
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Store) Delete(ctx context.Context, ioc, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyValue(ioc, name))
	})
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
