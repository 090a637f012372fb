package hierarchy

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
)

// Ordinal generalizes numbers into progressively wider bins, e.g.
// 37 → "18-39" → "0-39" → "ALL_AGES".
type Ordinal struct {
	field  string
	levels []binLevel // index 0 is unused; level 0 is the raw number
	all    string
	offset float64
	clamp  []float64

	labels map[string]labelRef
}

type binLevel struct {
	edges  []float64
	labels []string
}

type labelRef struct {
	level int
	bin   int
}

func newOrdinal(field string, spec Spec) (*Ordinal, error) {
	if len(spec.Levels) == 0 {
		return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: ordinal hierarchy needs at least its raw level", field)
	}
	if len(spec.Clamp) != 0 && (len(spec.Clamp) != 2 || spec.Clamp[0] > spec.Clamp[1]) {
		return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: clamp must be [min, max]", field)
	}
	o := &Ordinal{
		field:  field,
		levels: []binLevel{{}},
		offset: spec.Offset,
		clamp:  spec.Clamp,
		labels: map[string]labelRef{},
	}
	for i := 1; i < len(spec.Levels); i++ {
		lvl := spec.Levels[i]
		if lvl.All != "" {
			if i != len(spec.Levels)-1 {
				return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: catch-all %q must be the last level", field, lvl.All)
			}
			o.all = lvl.All
			continue
		}
		bl, err := buildBins(field, i, lvl)
		if err != nil {
			return nil, err
		}
		if i > 1 {
			if err := checkCoarser(field, i, o.levels[i-1].edges, bl.edges); err != nil {
				return nil, err
			}
		}
		o.levels = append(o.levels, bl)
	}
	if err := o.indexLabels(); err != nil {
		return nil, err
	}
	return o, nil
}

func buildBins(field string, level int, lvl LevelSpec) (binLevel, error) {
	if len(lvl.Bins) == 0 {
		return binLevel{}, dErrors.Newf(dErrors.CodeConfig, "field %q: level %d has neither bins nor a catch-all", field, level)
	}
	if !sort.SliceIsSorted(lvl.Bins, func(a, b int) bool { return lvl.Bins[a] < lvl.Bins[b] }) {
		return binLevel{}, dErrors.Newf(dErrors.CodeConfig, "field %q: level %d bin edges must be increasing", field, level)
	}
	for j := 1; j < len(lvl.Bins); j++ {
		if lvl.Bins[j] == lvl.Bins[j-1] {
			return binLevel{}, dErrors.Newf(dErrors.CodeConfig, "field %q: level %d repeats bin edge %v", field, level, lvl.Bins[j])
		}
	}
	labels := lvl.Labels
	if len(labels) == 0 {
		labels = defaultBinLabels(lvl.Bins)
	}
	if len(labels) != len(lvl.Bins) {
		return binLevel{}, dErrors.Newf(dErrors.CodeConfig, "field %q: level %d has %d bins but %d labels", field, level, len(lvl.Bins), len(labels))
	}
	return binLevel{edges: lvl.Bins, labels: labels}, nil
}

// checkCoarser enforces nesting: every coarser edge is also a finer edge, so
// each finer bin falls inside exactly one coarser bin.
func checkCoarser(field string, level int, finer, coarser []float64) error {
	if coarser[0] != finer[0] {
		return dErrors.Newf(dErrors.CodeConfig, "field %q: level %d must start at %v like level %d", field, level, finer[0], level-1)
	}
	set := make(map[float64]struct{}, len(finer))
	for _, e := range finer {
		set[e] = struct{}{}
	}
	for _, e := range coarser {
		if _, ok := set[e]; !ok {
			return dErrors.Newf(dErrors.CodeConfig, "field %q: level %d edge %v splits a bin of level %d", field, level, e, level-1)
		}
	}
	return nil
}

func (o *Ordinal) indexLabels() error {
	for lvl := 1; lvl < len(o.levels); lvl++ {
		for bin, label := range o.levels[lvl].labels {
			if label == o.all {
				return dErrors.Newf(dErrors.CodeConfig, "field %q: bin label %q collides with the catch-all", o.field, label)
			}
			prev, seen := o.labels[label]
			if seen {
				pl, pb := o.bounds(prev.level, prev.bin)
				cl, cb := o.bounds(lvl, bin)
				if pl != cl || pb != cb {
					return dErrors.Newf(dErrors.CodeConfig, "field %q: label %q names different bins at levels %d and %d", o.field, label, prev.level, lvl)
				}
			}
			o.labels[label] = labelRef{level: lvl, bin: bin}
		}
	}
	return nil
}

func (o *Ordinal) bounds(level, bin int) (float64, float64) {
	edges := o.levels[level].edges
	hi := math.Inf(1)
	if bin+1 < len(edges) {
		hi = edges[bin+1]
	}
	return edges[bin], hi
}

func defaultBinLabels(edges []float64) []string {
	labels := make([]string, len(edges))
	for i, lo := range edges {
		if i == len(edges)-1 {
			labels[i] = formatEdge(lo) + "+"
			continue
		}
		hi := edges[i+1]
		if lo == math.Trunc(lo) && hi == math.Trunc(hi) {
			labels[i] = formatEdge(lo) + "-" + formatEdge(hi-1)
		} else {
			labels[i] = formatEdge(lo) + "-" + formatEdge(hi)
		}
	}
	return labels
}

func formatEdge(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (o *Ordinal) Field() string { return o.field }

func (o *Ordinal) Role() Role { return RoleOrdinal }

func (o *Ordinal) Depth() int {
	if o.all != "" {
		return len(o.levels)
	}
	return len(o.levels) - 1
}

func (o *Ordinal) CatchAll() (string, bool) { return o.all, o.all != "" }

// Parse reads a raw number, applying the configured offset and clamp, or a
// label this hierarchy produces.
func (o *Ordinal) Parse(v dataset.Value) (dataset.Value, error) {
	if v.IsMissing() || v.Kind == dataset.KindNumeric {
		return v, nil
	}
	text := strings.TrimSpace(v.Text)
	if n, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		n += o.offset
		if len(o.clamp) == 2 {
			n = math.Min(math.Max(n, o.clamp[0]), o.clamp[1])
		}
		if o.offset == 0 && len(o.clamp) == 0 {
			return dataset.Numeric(n, text), nil
		}
		return dataset.Numeric(n, ""), nil
	}
	if _, ok := o.labels[text]; ok {
		return dataset.Categorical(text), nil
	}
	if o.all != "" && text == o.all {
		return dataset.Categorical(text), nil
	}
	return dataset.Value{}, unreadable(o.field, v, "is neither a number nor a known bin label")
}

// ParseReleased reads a number as written on release, with the offset and
// clamp already applied, or a label.
func (o *Ordinal) ParseReleased(v dataset.Value) (dataset.Value, error) {
	if v.IsMissing() || v.Kind == dataset.KindNumeric {
		return v, nil
	}
	text := strings.TrimSpace(v.Text)
	if n, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return dataset.Numeric(n, text), nil
	}
	return o.Parse(v)
}

func (o *Ordinal) LevelOf(v dataset.Value) (int, error) {
	switch v.Kind {
	case dataset.KindMissing, dataset.KindNumeric:
		return 0, nil
	}
	if o.all != "" && v.Text == o.all {
		return o.Depth(), nil
	}
	ref, ok := o.labels[v.Text]
	if !ok {
		return 0, unreadable(o.field, v, "is not a bin label")
	}
	return ref.level, nil
}

func (o *Ordinal) Generalize(v dataset.Value, level int) (dataset.Value, error) {
	if err := CheckLevel(o, level); err != nil {
		return dataset.Value{}, err
	}
	if v.IsMissing() {
		return v, nil
	}
	cur, err := o.LevelOf(v)
	if err != nil {
		return dataset.Value{}, err
	}
	if cur >= level {
		return v, nil
	}
	if level == len(o.levels) {
		return dataset.Categorical(o.all), nil
	}
	x := v.Number
	if v.Kind != dataset.KindNumeric {
		ref := o.labels[v.Text]
		x = o.levels[ref.level].edges[ref.bin]
	}
	bl := o.levels[level]
	return dataset.Categorical(bl.labels[binOf(bl.edges, x)]), nil
}

// binOf returns the bin whose lower edge is the greatest edge <= x. Values
// below the first edge fall into the first bin.
func binOf(edges []float64, x float64) int {
	i := sort.Search(len(edges), func(i int) bool { return edges[i] > x })
	if i == 0 {
		return 0
	}
	return i - 1
}
