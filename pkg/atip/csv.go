package atip

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ConfigPaths locates the four CSV files that describe the PVs of an ATIP
// server.
type ConfigPaths struct {
	// Limits: pv,upper,lower,precision[,readback]
	Limits string `mapstructure:"limits"`

	// Feedback: pv,value
	Feedback string `mapstructure:"feedback"`

	// Mirrored: output_pv,mirror_type,input_pvs,value
	Mirrored string `mapstructure:"mirrored"`

	// TuneFB: set_pv,offset_pv,delta_pv
	TuneFB string `mapstructure:"tunefb"`
}

// Default CSV file names.
const (
	LimitsFile   = "limits.csv"
	FeedbackFile = "feedback.csv"
	MirroredFile = "mirrored.csv"
	TuneFBFile   = "tunefb.csv"
)

// DefaultConfigPaths returns the default file names joined onto dir.
func DefaultConfigPaths(dir string) ConfigPaths {
	return ConfigPaths{
		Limits:   filepath.Join(dir, LimitsFile),
		Feedback: filepath.Join(dir, FeedbackFile),
		Mirrored: filepath.Join(dir, MirroredFile),
		TuneFB:   filepath.Join(dir, TuneFBFile),
	}
}

// InstallDir returns the directory of the running executable.
func InstallDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return filepath.Dir(exe), nil
}

// row is one parsed CSV record with its source position.
type row struct {
	file   string
	line   int
	fields []string
}

func (r row) errorf(format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", r.file, r.line, fmt.Sprintf(format, args...))
}

func (r row) field(i int) string {
	if i < len(r.fields) {
		return strings.TrimSpace(r.fields[i])
	}
	return ""
}

func (r row) float(i int, name string) (float64, error) {
	f, err := strconv.ParseFloat(r.field(i), 64)
	if err != nil {
		return 0, r.errorf("%s %q is not a number", name, r.field(i))
	}
	return f, nil
}

// readRows reads a CSV file. Lines starting with '#' are skipped, as is a
// leading header row whose first cell is header. Each row must have between
// minFields and maxFields columns.
//
// An empty path yields no rows.
func readRows(path, header string, minFields, maxFields int) ([]row, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return parseRows(f, path, header, minFields, maxFields)
}

func parseRows(r io.Reader, name, header string, minFields, maxFields int) ([]row, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []row
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		line, _ := cr.FieldPos(0)
		rec := row{file: name, line: line, fields: fields}

		if len(rows) == 0 && strings.EqualFold(rec.field(0), header) {
			continue
		}
		if len(fields) == 1 && rec.field(0) == "" {
			continue
		}
		if len(fields) < minFields || len(fields) > maxFields {
			if minFields == maxFields {
				return nil, rec.errorf("expected %d columns, got %d", minFields, len(fields))
			}
			return nil, rec.errorf("expected %d to %d columns, got %d", minFields, maxFields, len(fields))
		}
		if rec.field(0) == "" {
			return nil, rec.errorf("empty pv name")
		}

		rows = append(rows, rec)
	}

	return rows, nil
}

// LimitRow defines a setpoint with drive limits and an optional readback.
type LimitRow struct {
	PV        string
	Upper     float64
	Lower     float64
	Precision int
	Readback  string
}

// FeedbackRow defines a feedback control record and its initial value.
type FeedbackRow struct {
	PV    string
	Value int32
}

// MirrorRow defines an output record computed from live input PVs.
type MirrorRow struct {
	Output string
	Type   MirrorType
	Inputs []string
	Value  string
}

// TuneFBRow links a tune-feedback offset record to a setpoint.
type TuneFBRow struct {
	SetPV    string
	OffsetPV string
	DeltaPV  string
}

func parseLimits(rows []row) ([]LimitRow, error) {
	out := make([]LimitRow, 0, len(rows))
	for _, r := range rows {
		upper, err := r.float(1, "upper")
		if err != nil {
			return nil, err
		}
		lower, err := r.float(2, "lower")
		if err != nil {
			return nil, err
		}
		if lower > upper {
			return nil, r.errorf("lower limit %v above upper limit %v", lower, upper)
		}

		prec := 0
		if s := r.field(3); s != "" {
			prec, err = strconv.Atoi(s)
			if err != nil || prec < 0 {
				return nil, r.errorf("precision %q is not a non-negative integer", s)
			}
		}

		out = append(out, LimitRow{
			PV:        r.field(0),
			Upper:     upper,
			Lower:     lower,
			Precision: prec,
			Readback:  r.field(4),
		})
	}
	return out, nil
}

func parseFeedback(rows []row) ([]FeedbackRow, error) {
	out := make([]FeedbackRow, 0, len(rows))
	for _, r := range rows {
		v, err := strconv.ParseInt(r.field(1), 10, 32)
		if err != nil {
			return nil, r.errorf("value %q is not a 32-bit integer", r.field(1))
		}
		out = append(out, FeedbackRow{PV: r.field(0), Value: int32(v)})
	}
	return out, nil
}

func parseMirrored(rows []row) ([]MirrorRow, error) {
	out := make([]MirrorRow, 0, len(rows))
	for _, r := range rows {
		typ, err := ParseMirrorType(r.field(1))
		if err != nil {
			return nil, r.errorf("%v", err)
		}

		var inputs []string
		for _, in := range strings.Split(r.field(2), ";") {
			if in = strings.TrimSpace(in); in != "" {
				inputs = append(inputs, in)
			}
		}
		if len(inputs) == 0 {
			return nil, r.errorf("mirror %s has no input pvs", r.field(0))
		}

		out = append(out, MirrorRow{
			Output: r.field(0),
			Type:   typ,
			Inputs: inputs,
			Value:  r.field(3),
		})
	}
	return out, nil
}

func parseTuneFB(rows []row) ([]TuneFBRow, error) {
	out := make([]TuneFBRow, 0, len(rows))
	for _, r := range rows {
		t := TuneFBRow{SetPV: r.field(0), OffsetPV: r.field(1), DeltaPV: r.field(2)}
		if t.OffsetPV == "" || t.DeltaPV == "" {
			return nil, r.errorf("offset and delta pvs are required")
		}
		out = append(out, t)
	}
	return out, nil
}
