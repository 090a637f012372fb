package generalize

import (
	"fmt"

	"kanon/internal/anonymization/hierarchy"
	"kanon/internal/anonymization/models"
	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
)

// WorkingSet is the single owned handle through which a run mutates
// quasi-identifier values. It never touches non-quasi-identifier columns.
//
// Invariants:
//   - every column holds one value per remaining record
//   - a record's level for a field never decreases
//   - Generation increases with every mutation that changed a value or
//     removed a record
type WorkingSet struct {
	fields     []models.QuasiIdentifierSpec
	byName     map[string]int
	values     [][]dataset.Value
	levels     [][]int
	origin     []int
	generation int
}

// NewWorkingSet parses every quasi-identifier column of ds through its
// hierarchy. Unreadable cells fail with a schema error. Missing cells lose
// their source text: a quasi-identifier column is always rewritten.
func NewWorkingSet(ds *dataset.Dataset, fields []models.QuasiIdentifierSpec) (*WorkingSet, error) {
	ws := &WorkingSet{
		fields: fields,
		byName: make(map[string]int, len(fields)),
		values: make([][]dataset.Value, len(fields)),
		levels: make([][]int, len(fields)),
		origin: make([]int, ds.Len()),
	}
	for i := range ws.origin {
		ws.origin[i] = i
	}
	for f, qi := range fields {
		column, released := qi.InputColumn(ds)
		raw, err := ds.Column(column)
		if err != nil {
			return nil, err
		}
		parse := qi.Hierarchy.Parse
		if released {
			h := qi.Hierarchy
			parse = func(v dataset.Value) (dataset.Value, error) { return hierarchy.ParseReleased(h, v) }
		}
		ws.byName[qi.Name] = f
		ws.values[f] = make([]dataset.Value, len(raw))
		ws.levels[f] = make([]int, len(raw))
		for i, cell := range raw {
			v, err := parse(cell)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeSchema, fmt.Sprintf("row %d", i+1))
			}
			v = v.Normalized()
			level, err := qi.Hierarchy.LevelOf(v)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeSchema, fmt.Sprintf("row %d", i+1))
			}
			ws.values[f][i] = v
			ws.levels[f][i] = level
		}
	}
	return ws, nil
}

func (ws *WorkingSet) Len() int { return len(ws.origin) }

func (ws *WorkingSet) Generation() int { return ws.generation }

func (ws *WorkingSet) Fields() []models.QuasiIdentifierSpec { return ws.fields }

// Columns returns the current quasi-identifier values in field order. The
// slices are borrowed; callers must not modify them.
func (ws *WorkingSet) Columns() [][]dataset.Value { return ws.values }

// Column returns the current values of one field.
func (ws *WorkingSet) Column(field string) ([]dataset.Value, error) {
	f, err := ws.index(field)
	if err != nil {
		return nil, err
	}
	return ws.values[f], nil
}

// Level reports the level record i holds for field.
func (ws *WorkingSet) Level(field string, i int) int {
	f, ok := ws.byName[field]
	if !ok {
		return 0
	}
	return ws.levels[f][i]
}

// Hierarchy returns the hierarchy of field.
func (ws *WorkingSet) Hierarchy(field string) (hierarchy.Hierarchy, error) {
	f, err := ws.index(field)
	if err != nil {
		return nil, err
	}
	return ws.fields[f].Hierarchy, nil
}

// Origin maps a working position back to the record's index in the input.
func (ws *WorkingSet) Origin(i int) int { return ws.origin[i] }

// Origins lists the input index of every remaining record, in order.
func (ws *WorkingSet) Origins() []int {
	return append([]int(nil), ws.origin...)
}

// Remove drops the records at the given working positions.
func (ws *WorkingSet) Remove(positions []int) {
	if len(positions) == 0 {
		return
	}
	drop := make(map[int]struct{}, len(positions))
	for _, p := range positions {
		drop[p] = struct{}{}
	}
	keep := 0
	for i := range ws.origin {
		if _, gone := drop[i]; gone {
			continue
		}
		ws.origin[keep] = ws.origin[i]
		for f := range ws.fields {
			ws.values[f][keep] = ws.values[f][i]
			ws.levels[f][keep] = ws.levels[f][i]
		}
		keep++
	}
	ws.origin = ws.origin[:keep]
	for f := range ws.fields {
		ws.values[f] = ws.values[f][:keep]
		ws.levels[f] = ws.levels[f][:keep]
	}
	ws.generation++
}

func (ws *WorkingSet) index(field string) (int, error) {
	f, ok := ws.byName[field]
	if !ok {
		return 0, dErrors.Newf(dErrors.CodeConfig, "unknown quasi-identifier %q", field)
	}
	return f, nil
}
