package pvwire

import "github.com/marmos91/atipioc/pkg/record"

// FromRecord converts a record value to its wire form.
func FromRecord(v record.Value) Value {
	w := Value{Kind: uint32(v.Kind)}
	switch v.Kind {
	case record.KindDouble:
		w.Double = v.Double
	case record.KindLong:
		w.Long = v.Long
	case record.KindEnum:
		w.Index = v.Index
	case record.KindString:
		w.Text = v.Text
	case record.KindArray:
		w.Array = v.Array
	}
	return w
}

// Record converts a wire value back to a record value.
func (w Value) Record() record.Value {
	switch record.Kind(w.Kind) {
	case record.KindDouble:
		return record.Double(w.Double)
	case record.KindLong:
		return record.Long(w.Long)
	case record.KindEnum:
		return record.Enum(w.Index)
	case record.KindString:
		return record.String(w.Text)
	case record.KindArray:
		return record.Array(w.Array)
	default:
		return record.Value{Kind: record.Kind(w.Kind)}
	}
}

// CtrlFor builds the control metadata of a record.
func CtrlFor(r *record.Record) Ctrl {
	f := r.Fields()
	return Ctrl{
		RecordType: string(r.Type()),
		Labels:     r.Labels(),
		Units:      f.EGU,
		Precision:  int32(f.Precision),
		Desc:       f.Desc,
		Writable:   r.Type().IsOutput(),
		HasDisplay: f.HasDisplay,
		LOPR:       f.LOPR,
		HOPR:       f.HOPR,
	}
}
