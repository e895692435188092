package framework

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/atipioc/pkg/atip"
	"github.com/marmos91/atipioc/pkg/catools"
	"github.com/marmos91/atipioc/pkg/record"
)

// ConfigFiles holds the contents of the four ATIP tables. An empty field
// leaves that table out.
type ConfigFiles struct {
	Limits   string
	Feedback string
	Mirrored string
	TuneFB   string
}

// SampleFiles is a small lattice with one of each record kind. Its mirror
// reads SR-DI-DCCT-01:LIVE, which a peer can serve via Limits.
var SampleFiles = ConfigFiles{
	Limits: `pv,upper,lower,precision,readback
SR01A-PC-HSTR-01:SETI,5,-5,3,SR01A-PC-HSTR-01:I
SR-PC-Q1:SETI,200,0,2
`,
	Feedback: `pv,value
SR-CS-FOFB-01:ENABLED,1
`,
	Mirrored: `output_pv,mirror_type,input_pvs,value
SR-DI-DCCT-01:SIGNAL,basic,SR-DI-DCCT-01:LIVE,0
`,
	TuneFB: `set_pv,offset_pv,delta_pv
SR01A-PC-HSTR-01:SETI,SR01A-PC-HSTR-01:OFFSET,SR-CS-TFB-01:DELTA
`,
}

// SourceFiles is a lattice that publishes the PVs SampleFiles mirrors.
var SourceFiles = ConfigFiles{
	Limits: `pv,upper,lower,precision
SR-DI-DCCT-01:LIVE,1000,0,3
SR-CS-TFB-01:DELTA,1,-1,4
`,
}

// WriteConfigFiles writes files into a temporary directory and returns
// their paths.
func WriteConfigFiles(t testing.TB, files ConfigFiles) atip.ConfigPaths {
	t.Helper()
	dir := t.TempDir()
	paths := atip.DefaultConfigPaths(dir)

	write := func(path *string, content string) {
		if content == "" {
			*path = ""
			return
		}
		if err := os.WriteFile(*path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", filepath.Base(*path), err)
		}
	}

	write(&paths.Limits, files.Limits)
	write(&paths.Feedback, files.Feedback)
	write(&paths.Mirrored, files.Mirrored)
	write(&paths.TuneFB, files.TuneFB)

	return paths
}

// WaitForValue polls name through client until match accepts the value
// or timeout elapses. It returns the last value read.
func WaitForValue(t testing.TB, client *catools.Client, name string, timeout time.Duration, match func(record.Value) bool) record.Value {
	t.Helper()

	var last record.Value
	var lastErr error
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		last, lastErr = client.Get(ctx, name)
		cancel()
		if lastErr == nil && match(last) {
			return last
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("Timed out waiting for %s: last value %v, last error %v", name, last, lastErr)
	return last
}

// DoubleEquals matches a double value.
func DoubleEquals(want float64) func(record.Value) bool {
	return func(v record.Value) bool {
		f, ok := v.Float()
		return ok && f == want
	}
}
