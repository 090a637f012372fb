package dataset

import (
	dErrors "kanon/pkg/domain-errors"
)

// Record is one row, aligned to the owning Dataset's Columns. A record has no
// identity beyond its position.
type Record struct {
	Values []Value
}

// Dataset is an ordered, versioned record collection. Generation increments on
// every mutating step so callers can tell snapshots apart.
type Dataset struct {
	Columns    []string
	Records    []Record
	Generation int

	index map[string]int
}

// New creates an empty dataset with the given columns.
func New(columns []string) (*Dataset, error) {
	d := &Dataset{Columns: append([]string(nil), columns...)}
	if err := d.reindex(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dataset) reindex() error {
	d.index = make(map[string]int, len(d.Columns))
	for i, c := range d.Columns {
		if c == "" {
			return dErrors.Newf(dErrors.CodeSchema, "column %d has an empty name", i)
		}
		if _, dup := d.index[c]; dup {
			return dErrors.Newf(dErrors.CodeSchema, "duplicate column %q", c)
		}
		d.index[c] = i
	}
	return nil
}

// Append adds a record; the value count must match the column count.
func (d *Dataset) Append(values ...Value) error {
	if len(values) != len(d.Columns) {
		return dErrors.Newf(dErrors.CodeSchema, "record has %d values, dataset has %d columns", len(values), len(d.Columns))
	}
	d.Records = append(d.Records, Record{Values: append([]Value(nil), values...)})
	return nil
}

func (d *Dataset) Len() int {
	return len(d.Records)
}

// Index returns the position of a column.
func (d *Dataset) Index(column string) (int, bool) {
	i, ok := d.index[column]
	return i, ok
}

func (d *Dataset) HasColumn(column string) bool {
	_, ok := d.index[column]
	return ok
}

// Column returns the values of one column in record order.
func (d *Dataset) Column(column string) ([]Value, error) {
	i, ok := d.index[column]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeSchema, "column %q not present", column)
	}
	out := make([]Value, len(d.Records))
	for r, rec := range d.Records {
		out[r] = rec.Values[i]
	}
	return out, nil
}

// Clone returns a deep copy. Releases are built on clones so the input
// snapshot stays immutable.
func (d *Dataset) Clone() *Dataset {
	c := &Dataset{
		Columns:    append([]string(nil), d.Columns...),
		Records:    make([]Record, len(d.Records)),
		Generation: d.Generation,
	}
	for i, r := range d.Records {
		c.Records[i] = Record{Values: append([]Value(nil), r.Values...)}
	}
	_ = c.reindex()
	return c
}

// DropColumns removes the named columns that exist and returns the names that
// were actually removed, in dataset order. Absent names are ignored.
func (d *Dataset) DropColumns(names ...string) []string {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		if d.HasColumn(n) {
			drop[n] = true
		}
	}
	if len(drop) == 0 {
		return nil
	}

	var removed []string
	keep := make([]int, 0, len(d.Columns))
	cols := make([]string, 0, len(d.Columns))
	for i, c := range d.Columns {
		if drop[c] {
			removed = append(removed, c)
			continue
		}
		keep = append(keep, i)
		cols = append(cols, c)
	}
	for r := range d.Records {
		vals := make([]Value, len(keep))
		for j, i := range keep {
			vals[j] = d.Records[r].Values[i]
		}
		d.Records[r].Values = vals
	}
	d.Columns = cols
	_ = d.reindex()
	d.Generation++
	return removed
}

// SetColumn replaces the values of an existing column or appends a new column.
func (d *Dataset) SetColumn(column string, values []Value) error {
	if len(values) != len(d.Records) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "column %q has %d values for %d records", column, len(values), len(d.Records))
	}
	i, ok := d.index[column]
	if !ok {
		d.Columns = append(d.Columns, column)
		if err := d.reindex(); err != nil {
			return err
		}
		for r := range d.Records {
			d.Records[r].Values = append(d.Records[r].Values, values[r])
		}
		d.Generation++
		return nil
	}
	for r := range d.Records {
		d.Records[r].Values[i] = values[r]
	}
	d.Generation++
	return nil
}

// MoveColumnFirst reorders columns so the named column leads.
func (d *Dataset) MoveColumnFirst(column string) {
	i, ok := d.index[column]
	if !ok || i == 0 {
		return
	}
	d.Columns = append([]string{column}, append(d.Columns[:i:i], d.Columns[i+1:]...)...)
	for r := range d.Records {
		vals := d.Records[r].Values
		v := vals[i]
		rest := append(vals[:i:i], vals[i+1:]...)
		d.Records[r].Values = append([]Value{v}, rest...)
	}
	_ = d.reindex()
	d.Generation++
}

// Select returns a new dataset holding the records at the given positions, in
// the given order.
func (d *Dataset) Select(positions []int) *Dataset {
	out := &Dataset{
		Columns:    append([]string(nil), d.Columns...),
		Records:    make([]Record, 0, len(positions)),
		Generation: d.Generation + 1,
	}
	for _, p := range positions {
		out.Records = append(out.Records, Record{Values: append([]Value(nil), d.Records[p].Values...)})
	}
	_ = out.reindex()
	return out
}
