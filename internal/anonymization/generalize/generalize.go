// Package generalize applies hierarchy steps to quasi-identifier fields of a
// working set, globally or scoped to selected records.
package generalize

import (
	"sort"

	"kanon/internal/anonymization/hierarchy"
	"kanon/internal/anonymization/models"
	"kanon/internal/dataset"
)

// Scope selects the records a generalization applies to.
type Scope struct {
	all     bool
	records []int
}

// All is global recoding: every record.
func All() Scope { return Scope{all: true} }

// Records is local recoding: only the given working positions.
func Records(positions []int) Scope { return Scope{records: positions} }

func (s Scope) IsGlobal() bool { return s.all }

func (s Scope) label() string {
	if s.all {
		return models.ScopeGlobal
	}
	return models.ScopeLocal
}

// Generalize raises field to targetLevel for the records in scope. Records
// already at or above targetLevel keep their value. Returns how many values
// changed.
func Generalize(ws *WorkingSet, field string, targetLevel int, scope Scope) (int, error) {
	f, err := ws.index(field)
	if err != nil {
		return 0, err
	}
	h := ws.fields[f].Hierarchy
	if err := hierarchy.CheckLevel(h, targetLevel); err != nil {
		return 0, err
	}

	changed := 0
	apply := func(i int) error {
		if ws.levels[f][i] >= targetLevel {
			return nil
		}
		next, err := h.Generalize(ws.values[f][i], targetLevel)
		if err != nil {
			return err
		}
		if !next.Equal(ws.values[f][i]) {
			changed++
		}
		ws.values[f][i] = next
		ws.levels[f][i] = targetLevel
		return nil
	}

	if scope.all {
		for i := range ws.values[f] {
			if err := apply(i); err != nil {
				return changed, err
			}
		}
	} else {
		for _, i := range scope.records {
			if err := apply(i); err != nil {
				return changed, err
			}
		}
	}
	if changed > 0 {
		ws.generation++
	}
	return changed, nil
}

// Step runs Generalize and describes it for the report.
func Step(ws *WorkingSet, field string, targetLevel int, scope Scope) (models.Step, error) {
	changed, err := Generalize(ws, field, targetLevel, scope)
	if err != nil {
		return models.Step{}, err
	}
	return models.Step{Field: field, Level: targetLevel, Scope: scope.label(), Changed: changed}, nil
}

// ApplyBase globally recodes every field to its configured base level.
func ApplyBase(ws *WorkingSet) ([]models.Step, error) {
	var steps []models.Step
	for _, qi := range ws.fields {
		if qi.BaseLevel == 0 {
			continue
		}
		step, err := Step(ws, qi.Name, qi.BaseLevel, All())
		if err != nil {
			return steps, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// MergeRare collapses every category of field occurring fewer than
// threshold times into the hierarchy's catch-all. It applies to the whole
// working set and only to hierarchies that end in a catch-all. Returns the
// merged categories, sorted.
func MergeRare(ws *WorkingSet, field string, threshold int) ([]string, error) {
	f, err := ws.index(field)
	if err != nil {
		return nil, err
	}
	h := ws.fields[f].Hierarchy
	all, ok := h.CatchAll()
	if !ok || threshold <= 1 {
		return nil, nil
	}

	counts := make(map[string]int)
	for _, v := range ws.values[f] {
		if v.IsMissing() || v.Text == all {
			continue
		}
		counts[v.Text]++
	}
	rare := make(map[string]struct{})
	for cat, n := range counts {
		if n < threshold {
			rare[cat] = struct{}{}
		}
	}
	if len(rare) == 0 {
		return nil, nil
	}

	catchAll := dataset.Categorical(all)
	for i, v := range ws.values[f] {
		if v.IsMissing() {
			continue
		}
		if _, ok := rare[v.Text]; ok {
			ws.values[f][i] = catchAll
			ws.levels[f][i] = h.Depth()
		}
	}
	ws.generation++

	merged := make([]string, 0, len(rare))
	for cat := range rare {
		merged = append(merged, cat)
	}
	sort.Strings(merged)
	return merged, nil
}
