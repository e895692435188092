package record

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
)

// mbbStateFields are the EPICS field names for mbbi/mbbo state strings.
var mbbStateFields = [maxMbbLabels]string{
	"ZRST", "ONST", "TWST", "THST", "FRST", "FVST", "SXST", "SVST",
	"EIST", "NIST", "TEST", "ELST", "TVST", "TTST", "FTST", "FFST",
}

// Database is the frozen record set produced by Builder.LoadDatabase.
// Its set of names never changes; record values do.
type Database struct {
	records []*Record
	index   map[string]*Record
}

func newDatabase(records []*Record) *Database {
	db := &Database{
		records: make([]*Record, len(records)),
		index:   make(map[string]*Record, len(records)),
	}
	copy(db.records, records)
	for _, r := range records {
		db.index[r.Name()] = r
	}
	return db
}

// Lookup returns the record with the given full name.
func (db *Database) Lookup(name string) (*Record, bool) {
	r, ok := db.index[name]
	return r, ok
}

// Len returns the number of records.
func (db *Database) Len() int {
	return len(db.records)
}

// Records returns the records in definition order.
func (db *Database) Records() []*Record {
	out := make([]*Record, len(db.records))
	copy(out, db.records)
	return out
}

// Names returns all record names, sorted.
func (db *Database) Names() []string {
	names := make([]string, 0, len(db.records))
	for _, r := range db.records {
		names = append(names, r.Name())
	}
	sort.Strings(names)
	return names
}

// Match returns the sorted names matching a shell glob pattern.
// An empty pattern matches everything.
func (db *Database) Match(pattern string) ([]string, error) {
	if pattern == "" {
		return db.Names(), nil
	}

	var out []string
	for _, name := range db.Names() {
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// Render writes the database in EPICS .db syntax, one record block per
// record in definition order.
func (db *Database) Render(w io.Writer) error {
	bw := bufio.NewWriter(w)

	for i, r := range db.records {
		if i > 0 {
			fmt.Fprintln(bw)
		}
		renderRecord(bw, r)
	}

	return bw.Flush()
}

func renderRecord(w io.Writer, r *Record) {
	fmt.Fprintf(w, "record(%s, \"%s\")\n{\n", r.Type(), r.Name())

	field := func(name, value string) {
		fmt.Fprintf(w, "    field(%s, %s)\n", name, strconv.Quote(value))
	}
	num := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

	f := r.Fields()
	if f.Desc != "" {
		field("DESC", f.Desc)
	}
	if f.EGU != "" {
		field("EGU", f.EGU)
	}
	if f.Precision > 0 {
		field("PREC", strconv.Itoa(f.Precision))
	}
	if f.HasDisplay {
		field("LOPR", num(f.LOPR))
		field("HOPR", num(f.HOPR))
	}
	if f.HasDrive {
		field("DRVL", num(f.DRVL))
		field("DRVH", num(f.DRVH))
	}

	labels := r.Labels()
	switch r.Type() {
	case TypeBI, TypeBO:
		field("ZNAM", labels[0])
		if len(labels) > 1 {
			field("ONAM", labels[1])
		}
	case TypeMbbi, TypeMbbo:
		for i, l := range labels {
			field(mbbStateFields[i], l)
		}
	}

	v := r.Get()
	switch r.Type() {
	case TypeWaveform:
		field("FTVL", "DOUBLE")
		field("NELM", strconv.Itoa(max(len(v.Array), 1)))
	case TypeAI, TypeBI, TypeMbbi, TypeLongIn, TypeStringIn:
		field("SCAN", "I/O Intr")
	default:
		field("VAL", v.String())
		field("PINI", "YES")
	}

	fmt.Fprintln(w, "}")
}
