package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/atipioc/pkg/atip"
	"github.com/marmos91/atipioc/pkg/server"
	"github.com/marmos91/atipioc/pkg/startup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTables = map[string]string{
	"limits.csv": `pv,upper,lower,precision,readback
SR-PC-Q1:SETI,200,0,2,SR-PC-Q1:I
`,
	"feedback.csv": "pv,value\n",
	"mirrored.csv": "output_pv,mirror_type,input_pvs,value\n",
	"tunefb.csv":   "set_pv,offset_pv,delta_pv\n",
}

func findFreePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()
	return port
}

// writeTestConfig writes an IOC configuration serving a one-setpoint
// lattice on a free port, and returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	for name, content := range testTables {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	cfg := fmt.Sprintf(`
logging:
  level: ERROR
  output: %s
server:
  shutdown_timeout: 5s
ioc:
  name: atip-test
  config_dir: %s
ring_mode:
  skip_live: true
mirror:
  interval: 50ms
autosave:
  type: memory
  restore: true
dbfile:
  type: memory
adapters:
  pvwire:
    enabled: true
    bind_address: 127.0.0.1
    port: %d
`, filepath.Join(dir, "ioc.log"), dir, findFreePort(t))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func runShell(t *testing.T, opts runOptions, input string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	opts.interactive = true
	require.NoError(t, run(ctx, opts, strings.NewReader(input), &out))
	return out.String()
}

func TestRun_ShellSeesSpecialRecord(t *testing.T) {
	out := runShell(t, runOptions{
		configPath: writeTestConfig(t),
		lookupEnv:  noEnv,
	}, "dbgf CS-CS-MSTAT-01:FBHEART\ndbgf SR-CS-RING-01:MODE\nexit\n")

	assert.Contains(t, out, "DBF_DOUBLE: 10")
	assert.Contains(t, out, `"DIAD"`)
}

func TestRun_RingModeFromArgument(t *testing.T) {
	out := runShell(t, runOptions{
		configPath: writeTestConfig(t),
		args:       []string{"VMX"},
		lookupEnv:  func(string) (string, bool) { return "I04", true },
	}, "dbgf SR-CS-RING-01:MODE\nexit\n")

	assert.Contains(t, out, `"VMX"`)
}

func TestRun_RingModeFromEnvironment(t *testing.T) {
	out := runShell(t, runOptions{
		configPath: writeTestConfig(t),
		lookupEnv: func(key string) (string, bool) {
			if key == "RINGMODE" {
				return "VMXSP", true
			}
			return "", false
		},
	}, "dbgf SR-CS-RING-01:MODE\nexit\n")

	assert.Contains(t, out, `"VMXSP"`)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started *server.IOC
	opts := runOptions{
		configPath: writeTestConfig(t),
		lookupEnv:  noEnv,
		onStarted: func(ioc *server.IOC) {
			started = ioc
			cancel()
		},
	}

	done := make(chan error, 1)
	go func() { done <- run(ctx, opts, strings.NewReader(""), &bytes.Buffer{}) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	require.NotNil(t, started)
	_, ok := started.Database().Lookup("CS-CS-MSTAT-01:FBHEART")
	assert.True(t, ok)
	assert.NotEmpty(t, started.DBFileKey())
}

func TestRun_UnknownRingMode(t *testing.T) {
	err := run(context.Background(), runOptions{
		configPath: writeTestConfig(t),
		args:       []string{"BOGUS"},
		lookupEnv:  noEnv,
	}, strings.NewReader(""), &bytes.Buffer{})

	var stageErr *startup.StageError
	require.True(t, errors.As(err, &stageErr), "expected StageError, got %v", err)
	assert.Equal(t, startup.StageServerBuilt, stageErr.Stage)
}

func TestRun_InvalidLogLevel(t *testing.T) {
	err := run(context.Background(), runOptions{
		configPath: writeTestConfig(t),
		logLevel:   "LOUD",
	}, strings.NewReader(""), &bytes.Buffer{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestRun_MissingConfigFile(t *testing.T) {
	err := run(context.Background(), runOptions{
		configPath: filepath.Join(t.TempDir(), "missing.yaml"),
	}, strings.NewReader(""), &bytes.Buffer{})

	assert.Error(t, err)
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", "--config", path})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Configuration written to "+path)
	assert.FileExists(t, path)

	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"init", "--config", path})
	assert.Error(t, cmd.Execute())

	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"init", "--config", path, "--force"})
	assert.NoError(t, cmd.Execute())
}

func TestRootCommand_ExtraArgsIgnored(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader("dbgf SR-CS-RING-01:MODE\nexit\n"))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", writeTestConfig(t), "--interactive", "VMX", "extra"})
	require.NoError(t, cmd.ExecuteContext(ctx))

	assert.Contains(t, out.String(), `"VMX"`)
}

func TestRootCommand_DashedRingModeAfterSeparator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", writeTestConfig(t), "--interactive=false", "--", "-weird"})
	err := cmd.ExecuteContext(ctx)

	// The mode reaches the lattice loader unchanged and is rejected there.
	var stageErr *startup.StageError
	require.True(t, errors.As(err, &stageErr), "expected StageError, got %v", err)
	assert.Equal(t, startup.StageServerBuilt, stageErr.Stage)
	assert.ErrorIs(t, err, atip.ErrUnknownRingMode)
	assert.Contains(t, err.Error(), `"-weird"`)
}
