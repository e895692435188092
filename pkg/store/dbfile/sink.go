// Package dbfile stores the rendered record database of each IOC run, the
// equivalent of the .db file an EPICS IOC is booted from.
//
// Keys have the form "<ioc name>/<run id>.db".
package dbfile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned by Read for a key that does not exist.
var ErrNotFound = errors.New("dbfile not found")

// Entry describes one stored file.
type Entry struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Sink is a flat key/value blob store for rendered databases.
//
// Thread safety:
// Implementations must be safe for concurrent use.
type Sink interface {
	// Write stores data under key, replacing any previous content.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns the content of key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// List returns the entries whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// Key builds the key of one run's database.
func Key(ioc, runID string) string {
	return ioc + "/" + runID + ".db"
}

// Prefix returns the key prefix shared by every run of an IOC.
func Prefix(ioc string) string {
	return ioc + "/"
}

// ValidateKey rejects keys that could escape a filesystem root or that
// no backend can store.
func ValidateKey(key string) error {
	if key == "" {
		return errors.New("empty dbfile key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid dbfile key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid dbfile key %q", key)
		}
	}
	return nil
}

// SortEntries orders entries by key.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}
