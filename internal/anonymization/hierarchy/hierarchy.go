// Package hierarchy models per-field generalization hierarchies.
//
// A hierarchy is an ordered chain of levels from the raw value (level 0) to
// the most general value (level Depth). Each role has its own implementation
// behind the Hierarchy interface; callers never branch on field names.
//
// Invariants shared by every implementation:
//   - Generalize is a pure function of (value, level).
//   - Generalize never returns a value finer than its input: asking for a
//     level at or below the value's current level returns the value as is.
//   - Levels nest: two values that agree at level i agree at every level > i.
//   - Missing values stay missing at every level.
package hierarchy

import (
	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
)

// Role is the kind of quasi-identifier a hierarchy generalizes.
type Role string

const (
	RoleTemporal Role = "temporal"
	RoleOrdinal  Role = "ordinal"
	RoleNominal  Role = "nominal"
)

// Hierarchy generalizes values of one quasi-identifier field.
type Hierarchy interface {
	Field() string
	Role() Role
	// Depth is the index of the terminal level. Zero means the field has no
	// coarser level than its raw value.
	Depth() int
	// Parse types a raw cell. Cells already carrying a generalized label
	// parse to that label.
	Parse(v dataset.Value) (dataset.Value, error)
	// LevelOf reports the level a parsed value sits at.
	LevelOf(v dataset.Value) (int, error)
	// Generalize maps a parsed value to the given level.
	Generalize(v dataset.Value, level int) (dataset.Value, error)
	// CatchAll returns the terminal catch-all label, if the chain ends in one.
	CatchAll() (string, bool)
}

// releasedParser is implemented by hierarchies whose Parse transforms raw
// numbers. Released values have been through that transform already.
type releasedParser interface {
	ParseReleased(v dataset.Value) (dataset.Value, error)
}

// ParseReleased types a cell read back from a released column.
func ParseReleased(h Hierarchy, v dataset.Value) (dataset.Value, error) {
	if p, ok := h.(releasedParser); ok {
		return p.ParseReleased(v)
	}
	return h.Parse(v)
}

// Spec is the configuration-level description of a hierarchy.
type Spec struct {
	Role   Role
	Levels []LevelSpec

	// Temporal: layouts used to parse raw dates.
	Layouts []string

	// Ordinal: pre-transform applied to raw numbers (SINAN age codes are
	// 4000 + years, so Offset -4000 and Clamp [0, 120]).
	Offset float64
	Clamp  []float64

	// Nominal: upper-case categories after Unicode normalization.
	FoldCase bool
}

// LevelSpec describes one level. Exactly one of the fields is meaningful for
// a given role; All marks the terminal catch-all level of any role.
type LevelSpec struct {
	Granularity string
	Bins        []float64
	Labels      []string
	Groups      map[string]string
	All         string
}

// Build constructs and validates the hierarchy for a field.
func Build(field string, spec Spec) (Hierarchy, error) {
	switch spec.Role {
	case RoleTemporal:
		return newTemporal(field, spec)
	case RoleOrdinal:
		return newOrdinal(field, spec)
	case RoleNominal:
		return newNominal(field, spec)
	case "":
		return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: hierarchy role is required", field)
	default:
		return nil, dErrors.Newf(dErrors.CodeConfig, "field %q: unknown hierarchy role %q", field, spec.Role)
	}
}

// CheckLevel fails with a config error when level is outside 0..Depth.
func CheckLevel(h Hierarchy, level int) error {
	if level < 0 {
		return dErrors.Newf(dErrors.CodeConfig, "field %q: negative generalization level %d", h.Field(), level)
	}
	if level > h.Depth() {
		return dErrors.Newf(dErrors.CodeConfig, "field %q: hierarchy exhausted, level %d requested beyond terminal level %d", h.Field(), level, h.Depth())
	}
	return nil
}

func unreadable(field string, v dataset.Value, why string) error {
	return dErrors.Newf(dErrors.CodeSchema, "field %q: value %q %s", field, v.String(), why)
}
