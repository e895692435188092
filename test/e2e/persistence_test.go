package e2e

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/atipioc/pkg/record"
	"github.com/marmos91/atipioc/pkg/store/dbfile"
	dbmemory "github.com/marmos91/atipioc/pkg/store/dbfile/memory"
	valuesmemory "github.com/marmos91/atipioc/pkg/store/values/memory"
	"github.com/marmos91/atipioc/test/e2e/framework"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutosave_RestoredOnRestart(t *testing.T) {
	store := valuesmemory.New()
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := framework.NewTestIOC(t, framework.TestIOCConfig{Values: store, Restore: true})
	require.NoError(t, first.Start())

	_, err := first.Client().Put(ctx, "SR-CS-FOFB-01:ENABLED", record.Long(0))
	require.NoError(t, err)
	_, err = first.Client().Put(ctx, "SR-PC-Q1:SETI", record.Double(123.5))
	require.NoError(t, err)
	first.Stop()

	second := startIOC(t, framework.TestIOCConfig{Values: store, Restore: true})
	client := second.Client()

	got, err := client.Get(ctx, "SR-CS-FOFB-01:ENABLED")
	require.NoError(t, err)
	assert.Equal(t, record.Long(0), got)

	got, err = client.Get(ctx, "SR-PC-Q1:SETI")
	require.NoError(t, err)
	assert.Equal(t, record.Double(123.5), got)

	// FBHEART is not an autosave record and always starts at 10.
	got, err = client.Get(ctx, "CS-CS-MSTAT-01:FBHEART")
	require.NoError(t, err)
	assert.Equal(t, record.Double(10), got)
}

func TestAutosave_RestoreDisabled(t *testing.T) {
	store := valuesmemory.New()
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, store.Save(ctx, "atip", "SR-CS-FOFB-01:ENABLED", record.Long(0)))

	ioc := startIOC(t, framework.TestIOCConfig{Values: store})

	got, err := ioc.Client().Get(ctx, "SR-CS-FOFB-01:ENABLED")
	require.NoError(t, err)
	assert.Equal(t, record.Long(1), got)
}

func TestDBFile_WrittenAtStartup(t *testing.T) {
	sink := dbmemory.New()
	defer func() { _ = sink.Close() }()

	ioc := startIOC(t, framework.TestIOCConfig{Sink: sink})

	ctx := context.Background()
	entries, err := sink.List(ctx, dbfile.Prefix("atip"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ioc.IOC().DBFileKey(), entries[0].Key)

	data, err := sink.Read(ctx, entries[0].Key)
	require.NoError(t, err)

	db := string(data)
	assert.Contains(t, db, `record(ao, "CS-CS-MSTAT-01:FBHEART")`)
	assert.Contains(t, db, `record(mbbi, "SR-CS-RING-01:MODE")`)
	assert.Equal(t, ioc.IOC().Database().Len(), strings.Count(db, "record("))
}
