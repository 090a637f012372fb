// Package partition groups records into equivalence classes by their
// quasi-identifier tuple.
package partition

import (
	"strconv"
	"strings"

	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
)

// Class is one equivalence class: the records sharing a tuple.
type Class struct {
	Key     string
	Values  []dataset.Value
	Records []int
}

func (c Class) Size() int {
	return len(c.Records)
}

// Partition lists classes in first-occurrence order. Every record belongs to
// exactly one class.
type Partition struct {
	Classes []Class
	Total   int
}

// Build partitions records by the given columns, one slice per
// quasi-identifier, all of the same length. Record i's tuple is
// (columns[0][i], columns[1][i], ...).
func Build(columns ...[]dataset.Value) (Partition, error) {
	n := 0
	if len(columns) > 0 {
		n = len(columns[0])
	}
	for f, col := range columns {
		if len(col) != n {
			return Partition{}, dErrors.Newf(dErrors.CodeInvariantViolation, "column %d has %d values, want %d", f, len(col), n)
		}
	}

	p := Partition{Total: n}
	byKey := make(map[string]int)
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.Reset()
		for _, col := range columns {
			writeKeyPart(&sb, col[i])
		}
		key := sb.String()
		idx, ok := byKey[key]
		if !ok {
			idx = len(p.Classes)
			byKey[key] = idx
			values := make([]dataset.Value, len(columns))
			for f, col := range columns {
				values[f] = col[i]
			}
			p.Classes = append(p.Classes, Class{Key: key, Values: values})
		}
		p.Classes[idx].Records = append(p.Classes[idx].Records, i)
	}
	return p, nil
}

// writeKeyPart length-prefixes each rendering so no two distinct tuples share
// a key; missing gets its own marker so it never collides with "".
func writeKeyPart(sb *strings.Builder, v dataset.Value) {
	if v.IsMissing() {
		sb.WriteString("-|")
		return
	}
	sb.WriteString(strconv.Itoa(len(v.Text)))
	sb.WriteByte(':')
	sb.WriteString(v.Text)
	sb.WriteByte('|')
}
