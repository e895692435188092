package shell

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/atipioc/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabase(t *testing.T) *record.Database {
	t.Helper()
	b := record.NewBuilder()
	b.SetDeviceName("CS-CS-MSTAT-01")
	_, err := b.AOut("FBHEART", record.WithInitial(10))
	require.NoError(t, err)
	b.SetDeviceName("SR-CS-RING-01")
	_, err = b.MbbIn("MODE", record.WithLabels("DIAD", "VMX"))
	require.NoError(t, err)
	b.SetDeviceName("SR-CS-FOFB-01")
	_, err = b.MbbOut("STATE", record.WithLabels("OFF", "ON"))
	require.NoError(t, err)
	_, err = b.StringOut("NOTE", record.WithInitialString("hello"))
	require.NoError(t, err)

	db, err := b.LoadDatabase()
	require.NoError(t, err)
	return db
}

func run(t *testing.T, db *record.Database, input string) string {
	t.Helper()
	var out bytes.Buffer
	sh := New(db, strings.NewReader(input), &out)
	sh.SetPrompt("")
	require.NoError(t, sh.Run(context.Background()))
	return out.String()
}

func TestShell_Commands(t *testing.T) {
	db := testDatabase(t)

	out := run(t, db, strings.Join([]string{
		"dbl SR-*",
		"dbgf CS-CS-MSTAT-01:FBHEART",
		"dbpf CS-CS-MSTAT-01:FBHEART 11.5",
		"dbgf SR-CS-RING-01:MODE",
		"dbpf SR-CS-FOFB-01:STATE ON",
		"dbgf SR-CS-FOFB-01:NOTE",
		"# a comment",
		"",
		"exit",
		"dbgf CS-CS-MSTAT-01:FBHEART",
	}, "\n"))

	assert.Equal(t, strings.Join([]string{
		"SR-CS-FOFB-01:NOTE",
		"SR-CS-FOFB-01:STATE",
		"SR-CS-RING-01:MODE",
		"DBF_DOUBLE: 10",
		"DBF_DOUBLE: 11.5",
		`DBF_ENUM: 0 = "DIAD"`,
		`DBF_ENUM: 1 = "ON"`,
		`DBF_STRING: "hello"`,
		"",
	}, "\n"), out)

	r, _ := db.Lookup("CS-CS-MSTAT-01:FBHEART")
	assert.Equal(t, record.Double(11.5), r.Get())
}

func TestShell_Errors(t *testing.T) {
	db := testDatabase(t)

	out := run(t, db, strings.Join([]string{
		"dbgf",
		"dbgf NOPE",
		"dbpf SR-CS-RING-01:MODE 1",
		"dbpf CS-CS-MSTAT-01:FBHEART abc",
		"frobnicate",
	}, "\n"))

	assert.Contains(t, out, "error: usage: dbgf <pv>")
	assert.Contains(t, out, "error: record NOPE not found")
	assert.Contains(t, out, "read-only")
	assert.Contains(t, out, "not a number")
	assert.Contains(t, out, `unknown command "frobnicate"`)
}

func TestShell_Help(t *testing.T) {
	out := run(t, testDatabase(t), "help\n")
	assert.Contains(t, out, "dbpf <pv> <value>")
}

func TestShell_EndOfInput(t *testing.T) {
	var out bytes.Buffer
	sh := New(testDatabase(t), strings.NewReader("dbl\n"), &out)
	require.NoError(t, sh.Run(context.Background()))
	assert.True(t, strings.HasPrefix(out.String(), DefaultPrompt))
}

func TestShell_Cancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	sh := New(testDatabase(t), pr, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sh.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("shell did not stop")
	}
}
