package hierarchy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
)

// Granularity is one temporal resolution.
type Granularity string

const (
	GranularityDate     Granularity = "date"
	GranularityMonth    Granularity = "month"
	GranularityQuarter  Granularity = "quarter"
	GranularitySemester Granularity = "semester"
	GranularityYear     Granularity = "year"
)

// granularityRank orders the supported resolutions; every coarser one nests
// the finer ones. Weeks are absent on purpose: they straddle months.
var granularityRank = map[Granularity]int{
	GranularityDate:     0,
	GranularityMonth:    1,
	GranularityQuarter:  2,
	GranularitySemester: 3,
	GranularityYear:     4,
}

var (
	monthLabel    = regexp.MustCompile(`^(\d{4})-(0[1-9]|1[0-2])$`)
	quarterLabel  = regexp.MustCompile(`^(\d{4})-Q([1-4])$`)
	semesterLabel = regexp.MustCompile(`^(\d{4})-H([12])$`)
	yearLabel     = regexp.MustCompile(`^(\d{4})$`)
)

// DefaultLayouts parse raw dates when a temporal spec names none.
var DefaultLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339}

// Temporal generalizes dates along nested calendar periods, e.g.
// date → year-month → year-semester.
type Temporal struct {
	field   string
	steps   []Granularity
	all     string
	layouts []string
}

func newTemporal(field string, spec Spec) (*Temporal, error) {
	if len(spec.Levels) == 0 {
		return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: temporal hierarchy needs at least its raw level", field)
	}
	t := &Temporal{field: field, layouts: spec.Layouts}
	if len(t.layouts) == 0 {
		t.layouts = DefaultLayouts
	}
	prev := -1
	for i, lvl := range spec.Levels {
		if lvl.All != "" {
			if i != len(spec.Levels)-1 || i == 0 {
				return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: catch-all must be the last level above the raw one", field)
			}
			t.all = lvl.All
			continue
		}
		g := Granularity(strings.ToLower(strings.TrimSpace(lvl.Granularity)))
		rank, ok := granularityRank[g]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: level %d has unsupported granularity %q", field, i, lvl.Granularity)
		}
		if rank <= prev {
			return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: level %d (%s) is not coarser than level %d", field, i, g, i-1)
		}
		prev = rank
		t.steps = append(t.steps, g)
	}
	return t, nil
}

func (t *Temporal) Field() string { return t.field }

func (t *Temporal) Role() Role { return RoleTemporal }

func (t *Temporal) Depth() int {
	if t.all != "" {
		return len(t.steps)
	}
	return len(t.steps) - 1
}

func (t *Temporal) CatchAll() (string, bool) { return t.all, t.all != "" }

// Steps returns the granularity of each level.
func (t *Temporal) Steps() []Granularity {
	return append([]Granularity(nil), t.steps...)
}

// Parse reads a raw date or a period label. A label at a resolution the chain
// skips (a quarter in a month → semester chain) is lifted to the next coarser
// resolution the chain does have.
func (t *Temporal) Parse(v dataset.Value) (dataset.Value, error) {
	if v.IsMissing() || v.Kind == dataset.KindTemporal {
		return v, nil
	}
	text := strings.TrimSpace(v.Text)
	if t.all != "" && text == t.all {
		return dataset.Categorical(text), nil
	}
	if g, at, ok := parseLabel(text); ok {
		level := t.levelFor(g)
		if level < 0 {
			return dataset.Value{}, unreadable(t.field, v, fmt.Sprintf("is a %s period, coarser than every level of the hierarchy", g))
		}
		if t.steps[level] == g {
			return dataset.Categorical(text), nil
		}
		return dataset.Categorical(formatPeriod(at, t.steps[level])), nil
	}
	for _, layout := range t.layouts {
		if at, err := time.Parse(layout, text); err == nil {
			if t.steps[0] != GranularityDate {
				return dataset.Categorical(formatPeriod(at, t.steps[0])), nil
			}
			return dataset.Temporal(at, text), nil
		}
	}
	return dataset.Value{}, unreadable(t.field, v, "is neither a date nor a period label")
}

// levelFor returns the first level at least as coarse as g, or -1.
func (t *Temporal) levelFor(g Granularity) int {
	for i, s := range t.steps {
		if granularityRank[s] >= granularityRank[g] {
			return i
		}
	}
	return -1
}

func (t *Temporal) LevelOf(v dataset.Value) (int, error) {
	switch v.Kind {
	case dataset.KindMissing:
		return 0, nil
	case dataset.KindTemporal:
		return 0, nil
	}
	if t.all != "" && v.Text == t.all {
		return t.Depth(), nil
	}
	g, _, ok := parseLabel(v.Text)
	if !ok {
		return 0, unreadable(t.field, v, "is not a period label")
	}
	for i, s := range t.steps {
		if s == g {
			return i, nil
		}
	}
	return 0, unreadable(t.field, v, fmt.Sprintf("is a %s period, which the hierarchy does not use", g))
}

func (t *Temporal) Generalize(v dataset.Value, level int) (dataset.Value, error) {
	if err := CheckLevel(t, level); err != nil {
		return dataset.Value{}, err
	}
	if v.IsMissing() {
		return v, nil
	}
	cur, err := t.LevelOf(v)
	if err != nil {
		return dataset.Value{}, err
	}
	if cur >= level {
		return v, nil
	}
	if level == len(t.steps) {
		return dataset.Categorical(t.all), nil
	}
	at := v.Time
	if v.Kind != dataset.KindTemporal {
		_, at, _ = parseLabel(v.Text)
	}
	return dataset.Categorical(formatPeriod(at, t.steps[level])), nil
}

// parseLabel recognises period labels and returns the first instant they cover.
func parseLabel(text string) (Granularity, time.Time, bool) {
	if m := monthLabel.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		return GranularityMonth, time.Date(y, time.Month(mo), 1, 0, 0, 0, 0, time.UTC), true
	}
	if m := quarterLabel.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		return GranularityQuarter, time.Date(y, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC), true
	}
	if m := semesterLabel.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		return GranularitySemester, time.Date(y, time.Month((h-1)*6+1), 1, 0, 0, 0, 0, time.UTC), true
	}
	if m := yearLabel.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		return GranularityYear, time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), true
	}
	return "", time.Time{}, false
}

func formatPeriod(at time.Time, g Granularity) string {
	y, m := at.Year(), int(at.Month())
	switch g {
	case GranularityMonth:
		return fmt.Sprintf("%04d-%02d", y, m)
	case GranularityQuarter:
		return fmt.Sprintf("%04d-Q%d", y, (m-1)/3+1)
	case GranularitySemester:
		return fmt.Sprintf("%04d-H%d", y, (m-1)/6+1)
	case GranularityYear:
		return fmt.Sprintf("%04d", y)
	default:
		return at.Format("2006-01-02")
	}
}
