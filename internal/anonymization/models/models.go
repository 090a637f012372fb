package models

import (
	"time"

	"github.com/google/uuid"

	"kanon/internal/anonymization/hierarchy"
	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
	"kanon/pkg/platform/strings"
)

// Defaults applied by the configuration loader.
const (
	DefaultSeed           int64 = 42
	DefaultIDColumn             = "id"
	DefaultRareThreshold        = 0
	DefaultMaxSuppression       = 0.05
)

// QuasiIdentifierSpec binds a released column to its hierarchy.
//
// Source names the raw column the values are read from when it differs from
// the released name (for example a released "period" derived from
// "notification_date"). The source column is dropped on release.
type QuasiIdentifierSpec struct {
	Name      string
	Source    string
	Hierarchy hierarchy.Hierarchy
	BaseLevel int
}

// SourceColumn is the column the raw values are read from.
func (q QuasiIdentifierSpec) SourceColumn() string {
	if q.Source == "" {
		return q.Name
	}
	return q.Source
}

// InputColumn is the column a run reads the field from. A dataset released
// earlier no longer carries the source column, so the field is read back from
// its released column; released reports that case.
func (q QuasiIdentifierSpec) InputColumn(ds *dataset.Dataset) (column string, released bool) {
	src := q.SourceColumn()
	if src == q.Name || ds.HasColumn(src) || !ds.HasColumn(q.Name) {
		return src, false
	}
	return q.Name, true
}

// AnonymizationConfig is the static configuration of a run.
//
// Invariants (enforced by Validate):
//   - K >= 2
//   - every quasi-identifier has a hierarchy and a base level within it
//   - Priority references declared quasi-identifiers only, without repeats
//   - MaxSuppression is a fraction in [0, 1]
type AnonymizationConfig struct {
	K                int
	QuasiIdentifiers []QuasiIdentifierSpec
	// Priority orders the loop's field choice. Empty means declaration order.
	Priority       []string
	RareThreshold  int
	MaxSuppression float64

	IDColumn    string
	DropColumns []string
	Seed        int64
}

// Validate fails fast with a config error before any data is touched.
func (c AnonymizationConfig) Validate() error {
	if c.K < 2 {
		return dErrors.Newf(dErrors.CodeConfig, "k must be at least 2, got %d", c.K)
	}
	if len(c.QuasiIdentifiers) == 0 {
		return dErrors.New(dErrors.CodeConfig, "at least one quasi-identifier is required")
	}
	names := make([]string, 0, len(c.QuasiIdentifiers))
	for _, qi := range c.QuasiIdentifiers {
		if qi.Name == "" {
			return dErrors.New(dErrors.CodeConfig, "quasi-identifier name is required")
		}
		if qi.Hierarchy == nil {
			return dErrors.Newf(dErrors.CodeConfig, "quasi-identifier %q has no hierarchy", qi.Name)
		}
		if qi.BaseLevel < 0 || qi.BaseLevel > qi.Hierarchy.Depth() {
			return dErrors.Newf(dErrors.CodeConfig, "quasi-identifier %q base level %d outside 0..%d", qi.Name, qi.BaseLevel, qi.Hierarchy.Depth())
		}
		names = append(names, qi.Name)
	}
	if dups := strings.Duplicates(names); len(dups) > 0 {
		return dErrors.Newf(dErrors.CodeConfig, "quasi-identifier %q declared more than once", dups[0])
	}
	if dups := strings.Duplicates(c.Priority); len(dups) > 0 {
		return dErrors.Newf(dErrors.CodeConfig, "priority lists %q more than once", dups[0])
	}
	for _, p := range c.Priority {
		if _, ok := c.QuasiIdentifier(p); !ok {
			return dErrors.Newf(dErrors.CodeConfig, "priority references unknown field %q", p)
		}
	}
	if c.RareThreshold < 0 {
		return dErrors.Newf(dErrors.CodeConfig, "rare threshold must not be negative, got %d", c.RareThreshold)
	}
	if c.MaxSuppression < 0 || c.MaxSuppression > 1 {
		return dErrors.Newf(dErrors.CodeConfig, "max suppression must be a fraction in [0, 1], got %v", c.MaxSuppression)
	}
	return nil
}

// QuasiIdentifier looks up a quasi-identifier by released name.
func (c AnonymizationConfig) QuasiIdentifier(name string) (QuasiIdentifierSpec, bool) {
	for _, qi := range c.QuasiIdentifiers {
		if qi.Name == name {
			return qi, true
		}
	}
	return QuasiIdentifierSpec{}, false
}

// Fields lists the released quasi-identifier columns in declaration order.
func (c AnonymizationConfig) Fields() []string {
	out := make([]string, len(c.QuasiIdentifiers))
	for i, qi := range c.QuasiIdentifiers {
		out[i] = qi.Name
	}
	return out
}

// PriorityOrder is the loop's field order: Priority followed by any
// quasi-identifier it leaves out, in declaration order.
func (c AnonymizationConfig) PriorityOrder() []string {
	seen := make(map[string]struct{}, len(c.Priority))
	out := make([]string, 0, len(c.QuasiIdentifiers))
	for _, p := range c.Priority {
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, qi := range c.QuasiIdentifiers {
		if _, ok := seen[qi.Name]; !ok {
			out = append(out, qi.Name)
		}
	}
	return out
}

// Step is one generalization applied during a run.
type Step struct {
	Field   string `json:"field"`
	Level   int    `json:"level"`
	Scope   string `json:"scope"`
	Changed int    `json:"changed"`
}

// Scopes recorded on steps.
const (
	ScopeGlobal = "global"
	ScopeLocal  = "local"
)

// ComplianceReport is the machine-readable outcome of one anonymization run.
type ComplianceReport struct {
	RunID       uuid.UUID `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`

	K                      int      `json:"k"`
	QuasiIdentifiers       []string `json:"quasi_identifiers"`
	TotalRecords           int      `json:"total_records"`
	ReleasedRecords        int      `json:"released_records"`
	MinClassSize           int      `json:"min_class_size"`
	ClassCount             int      `json:"class_count"`
	ViolatingClassesBefore int      `json:"violating_classes_before"`

	SuppressedCount   int   `json:"suppressed_count"`
	SuppressedRecords []int `json:"suppressed_records"`

	FieldLevels map[string]int      `json:"field_levels"`
	Steps       []Step              `json:"steps"`
	RareMerges  map[string][]string `json:"rare_merges,omitempty"`
	Transitions []Transition        `json:"transitions"`

	ColumnsRemoved []string `json:"columns_removed"`
	ColumnsAdded   []string `json:"columns_added"`

	Passed      bool   `json:"passed"`
	Fingerprint string `json:"fingerprint"`
}

// Status renders the pass/fail verdict.
func (r *ComplianceReport) Status() string {
	if r.Passed {
		return "PASS"
	}
	return "FAIL"
}

// Release is the output of a successful run. A failed run yields no Release.
type Release struct {
	Dataset *dataset.Dataset
	Report  *ComplianceReport
}
