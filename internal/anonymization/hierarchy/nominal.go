package hierarchy

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
)

// Nominal generalizes categories through optional grouping maps and an
// optional catch-all, e.g. neighbourhood → district → "OTHER".
// Categories a grouping map does not mention pass through that level
// unchanged.
type Nominal struct {
	field    string
	groups   []map[string]string // index 0 is unused
	images   []map[string]struct{}
	all      string
	foldCase bool
}

func newNominal(field string, spec Spec) (*Nominal, error) {
	if len(spec.Levels) == 0 {
		return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: nominal hierarchy needs at least its raw level", field)
	}
	n := &Nominal{
		field:    field,
		groups:   []map[string]string{nil},
		images:   []map[string]struct{}{nil},
		foldCase: spec.FoldCase,
	}
	for i := 1; i < len(spec.Levels); i++ {
		lvl := spec.Levels[i]
		if lvl.All != "" {
			if i != len(spec.Levels)-1 {
				return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: catch-all %q must be the last level", field, lvl.All)
			}
			n.all = n.normalize(lvl.All)
			continue
		}
		if len(lvl.Groups) == 0 {
			return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: level %d has neither groups nor a catch-all", field, i)
		}
		groups := make(map[string]string, len(lvl.Groups))
		image := make(map[string]struct{}, len(lvl.Groups))
		for from, to := range lvl.Groups {
			from, to = n.normalize(from), n.normalize(to)
			if prev, dup := groups[from]; dup && prev != to {
				return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: level %d maps %q to both %q and %q", field, i, from, prev, to)
			}
			groups[from] = to
			image[to] = struct{}{}
		}
		n.groups = append(n.groups, groups)
		n.images = append(n.images, image)
	}
	return n, nil
}

// normalize puts a category in canonical form: NFC, trimmed, and upper-cased
// when the field folds case.
func (n *Nominal) normalize(s string) string {
	s = strings.TrimSpace(norm.NFC.String(s))
	if n.foldCase {
		// Casers keep state, so one per call keeps Nominal safe to share.
		s = cases.Upper(language.Und).String(s)
	}
	return s
}

func (n *Nominal) Field() string { return n.field }

func (n *Nominal) Role() Role { return RoleNominal }

func (n *Nominal) Depth() int {
	if n.all != "" {
		return len(n.groups)
	}
	return len(n.groups) - 1
}

func (n *Nominal) CatchAll() (string, bool) { return n.all, n.all != "" }

func (n *Nominal) Parse(v dataset.Value) (dataset.Value, error) {
	if v.IsMissing() {
		return v, nil
	}
	s := n.normalize(v.Text)
	if s == "" {
		return dataset.Missing(), nil
	}
	return dataset.Categorical(s), nil
}

// LevelOf is the highest level whose labels include v. Raw categories that no
// map produces sit at level 0.
func (n *Nominal) LevelOf(v dataset.Value) (int, error) {
	if v.IsMissing() {
		return 0, nil
	}
	if n.all != "" && v.Text == n.all {
		return n.Depth(), nil
	}
	for i := len(n.images) - 1; i >= 1; i-- {
		if _, ok := n.images[i][v.Text]; ok {
			return i, nil
		}
	}
	return 0, nil
}

func (n *Nominal) Generalize(v dataset.Value, level int) (dataset.Value, error) {
	if err := CheckLevel(n, level); err != nil {
		return dataset.Value{}, err
	}
	if v.IsMissing() {
		return v, nil
	}
	cur, _ := n.LevelOf(v)
	if cur >= level {
		return v, nil
	}
	if level == len(n.groups) {
		return dataset.Categorical(n.all), nil
	}
	s := v.Text
	for i := cur + 1; i <= level; i++ {
		if to, ok := n.groups[i][s]; ok {
			s = to
		}
	}
	return dataset.Categorical(s), nil
}
