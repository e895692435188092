// Package storetest holds the contract tests shared by values.Store
// implementations.
package storetest

import (
	"context"
	"testing"

	"github.com/marmos91/atipioc/pkg/record"
	"github.com/marmos91/atipioc/pkg/store/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Suite tests the values.Store contract.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetest.Suite{
//	        NewStore: func(t *testing.T) values.Store { return mystore.New() },
//	    }
//	    suite.Run(t)
//	}
type Suite struct {
	// NewStore returns a fresh, empty store for each subtest.
	NewStore func(t *testing.T) values.Store
}

// Run executes all tests in the suite.
func (s *Suite) Run(t *testing.T) {
	t.Run("EmptyLoad", s.testEmptyLoad)
	t.Run("SaveLoad", s.testSaveLoad)
	t.Run("Overwrite", s.testOverwrite)
	t.Run("ScopedByIOC", s.testScopedByIOC)
	t.Run("Delete", s.testDelete)
	t.Run("CancelledContext", s.testCancelled)
}

func (s *Suite) store(t *testing.T) values.Store {
	st := s.NewStore(t)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func (s *Suite) testEmptyLoad(t *testing.T) {
	st := s.store(t)

	got, err := st.Load(context.Background(), "atip")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func (s *Suite) testSaveLoad(t *testing.T) {
	st := s.store(t)
	ctx := context.Background()

	want := map[string]record.Value{
		"CS-CS-MSTAT-01:FBHEART": record.Double(10),
		"SR-CS-FOFB-01:ENABLED":  record.Long(1),
		"SR-CS-RING-01:MODE":     record.Enum(2),
		"SR-CS-RING-01:NAME":     record.String("VMX"),
		"SR-DI-EBPM-01:SA:X":     record.Array([]float64{0.1, -0.2}),
	}
	for name, v := range want {
		require.NoError(t, st.Save(ctx, "atip", name, v))
	}

	got, err := st.Load(ctx, "atip")
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for name, v := range want {
		assert.True(t, v.Equal(got[name]), "%s: want %v got %v", name, v, got[name])
	}
}

func (s *Suite) testOverwrite(t *testing.T) {
	st := s.store(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "atip", "X:SET", record.Double(1)))
	require.NoError(t, st.Save(ctx, "atip", "X:SET", record.Double(2)))

	got, err := st.Load(ctx, "atip")
	require.NoError(t, err)
	assert.Equal(t, record.Double(2), got["X:SET"])
}

func (s *Suite) testScopedByIOC(t *testing.T) {
	st := s.store(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "atip", "X:SET", record.Double(1)))
	require.NoError(t, st.Save(ctx, "atip2", "X:SET", record.Double(2)))

	got, err := st.Load(ctx, "atip")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, record.Double(1), got["X:SET"])
}

func (s *Suite) testDelete(t *testing.T) {
	st := s.store(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "atip", "X:SET", record.Double(1)))
	require.NoError(t, st.Delete(ctx, "atip", "X:SET"))
	require.NoError(t, st.Delete(ctx, "atip", "X:MISSING"))

	got, err := st.Load(ctx, "atip")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func (s *Suite) testCancelled(t *testing.T) {
	st := s.store(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, st.Save(ctx, "atip", "X:SET", record.Double(1)), context.Canceled)
	_, err := st.Load(ctx, "atip")
	assert.ErrorIs(t, err, context.Canceled)
}
