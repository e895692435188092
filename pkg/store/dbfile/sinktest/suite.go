// Package sinktest holds the contract tests shared by dbfile.Sink
// implementations.
package sinktest

import (
	"context"
	"testing"

	"github.com/marmos91/atipioc/pkg/store/dbfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Suite tests the dbfile.Sink contract.
type Suite struct {
	// NewSink returns a fresh, empty sink for each subtest.
	NewSink func(t *testing.T) dbfile.Sink
}

// Run executes all tests in the suite.
func (s *Suite) Run(t *testing.T) {
	t.Run("WriteRead", s.testWriteRead)
	t.Run("Replace", s.testReplace)
	t.Run("ReadMissing", s.testReadMissing)
	t.Run("ListByPrefix", s.testList)
	t.Run("Delete", s.testDelete)
}

func (s *Suite) sink(t *testing.T) dbfile.Sink {
	sink := s.NewSink(t)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func (s *Suite) testWriteRead(t *testing.T) {
	sink := s.sink(t)
	ctx := context.Background()
	key := dbfile.Key("atip", "run-1")

	require.NoError(t, sink.Write(ctx, key, []byte("record(ao, \"X\")\n")))

	got, err := sink.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "record(ao, \"X\")\n", string(got))
}

func (s *Suite) testReplace(t *testing.T) {
	sink := s.sink(t)
	ctx := context.Background()
	key := dbfile.Key("atip", "run-1")

	require.NoError(t, sink.Write(ctx, key, []byte("old")))
	require.NoError(t, sink.Write(ctx, key, []byte("new")))

	got, err := sink.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func (s *Suite) testReadMissing(t *testing.T) {
	sink := s.sink(t)

	_, err := sink.Read(context.Background(), dbfile.Key("atip", "nope"))
	assert.ErrorIs(t, err, dbfile.ErrNotFound)
}

func (s *Suite) testList(t *testing.T) {
	sink := s.sink(t)
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, dbfile.Key("atip", "b"), []byte("bb")))
	require.NoError(t, sink.Write(ctx, dbfile.Key("atip", "a"), []byte("a")))
	require.NoError(t, sink.Write(ctx, dbfile.Key("other", "c"), []byte("c")))

	entries, err := sink.List(ctx, dbfile.Prefix("atip"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "atip/a.db", entries[0].Key)
	assert.Equal(t, int64(1), entries[0].Size)
	assert.Equal(t, "atip/b.db", entries[1].Key)
	assert.Equal(t, int64(2), entries[1].Size)

	all, err := sink.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func (s *Suite) testDelete(t *testing.T) {
	sink := s.sink(t)
	ctx := context.Background()
	key := dbfile.Key("atip", "run-1")

	require.NoError(t, sink.Write(ctx, key, []byte("x")))
	require.NoError(t, sink.Delete(ctx, key))
	require.NoError(t, sink.Delete(ctx, key))

	_, err := sink.Read(ctx, key)
	assert.ErrorIs(t, err, dbfile.ErrNotFound)
}
