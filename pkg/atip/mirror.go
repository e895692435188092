package atip

import (
	"fmt"
	"strings"

	"github.com/marmos91/atipioc/pkg/record"
)

// MirrorType selects how a mirror output is computed from its inputs.
type MirrorType string

const (
	// MirrorBasic copies the first input.
	MirrorBasic MirrorType = "basic"

	// MirrorInverse negates the first input.
	MirrorInverse MirrorType = "inverse"

	// MirrorSummate sums all inputs.
	MirrorSummate MirrorType = "summate"

	// MirrorCollate gathers all inputs into a waveform.
	MirrorCollate MirrorType = "collate"
)

// ParseMirrorType parses a mirror type name, case-insensitively.
func ParseMirrorType(s string) (MirrorType, error) {
	switch t := MirrorType(strings.ToLower(strings.TrimSpace(s))); t {
	case MirrorBasic, MirrorInverse, MirrorSummate, MirrorCollate:
		return t, nil
	default:
		return "", fmt.Errorf("unknown mirror type %q", s)
	}
}

// recordType is the type of the output record a mirror writes.
func (t MirrorType) recordType() record.Type {
	if t == MirrorCollate {
		return record.TypeWaveform
	}
	return record.TypeAI
}

// compute combines input values into the output value.
func (t MirrorType) compute(inputs []record.Value) (record.Value, error) {
	nums := make([]float64, len(inputs))
	for i, v := range inputs {
		f, ok := v.Float()
		if !ok {
			return record.Value{}, fmt.Errorf("input %d is %s, not numeric", i, v.Kind)
		}
		nums[i] = f
	}

	switch t {
	case MirrorBasic:
		return record.Double(nums[0]), nil
	case MirrorInverse:
		return record.Double(-nums[0]), nil
	case MirrorSummate:
		sum := 0.0
		for _, f := range nums {
			sum += f
		}
		return record.Double(sum), nil
	case MirrorCollate:
		return record.Array(nums), nil
	default:
		return record.Value{}, fmt.Errorf("unknown mirror type %q", t)
	}
}

// mirror is one output record fed by live inputs.
type mirror struct {
	typ    MirrorType
	inputs []string
	output *record.Record
}

// tuneFeedback copies a live delta PV into an offset record and applies
// the offset to a setpoint's readback.
type tuneFeedback struct {
	delta  string
	offset *record.Record
	target *setpoint
}

// setpoint is a limits.csv entry: a clamped output record and its optional
// readback, which reports the setpoint plus the tune offset.
type setpoint struct {
	set      *record.Record
	readback *record.Record
	offset   *record.Record
}

// refresh recomputes the readback from the current setpoint and offset.
func (s *setpoint) refresh() error {
	if s == nil || s.readback == nil {
		return nil
	}

	v := s.set.Get().Double
	if s.offset != nil {
		v += s.offset.Get().Double
	}
	return s.readback.Set(record.Double(v))
}
