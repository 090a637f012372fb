package models

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "kanon/pkg/domain-errors"
	pkgstrings "kanon/pkg/platform/strings"
)

// AuditRequest describes what to certify about a dataset snapshot.
type AuditRequest struct {
	QuasiIdentifiers []string `json:"quasi_identifiers"`
	K                int      `json:"k"`
	// Forbidden columns are direct identifiers that must not appear in a release.
	Forbidden []string `json:"forbidden_columns,omitempty"`
	// Required columns are the anonymized fields a release must carry.
	Required []string `json:"required_columns,omitempty"`
}

// Normalize trims and dedupes every column list.
func (r AuditRequest) Normalize() AuditRequest {
	return AuditRequest{
		QuasiIdentifiers: pkgstrings.DedupeAndTrim(r.QuasiIdentifiers),
		K:                r.K,
		Forbidden:        pkgstrings.DedupeAndTrim(r.Forbidden),
		Required:         pkgstrings.DedupeAndTrim(r.Required),
	}
}

// Validate rejects requests that cannot be audited.
func (r AuditRequest) Validate() error {
	if r.K < 2 {
		return dErrors.Newf(dErrors.CodeConfig, "k must be at least 2, got %d", r.K)
	}
	if len(pkgstrings.DedupeAndTrim(r.QuasiIdentifiers)) == 0 {
		return dErrors.New(dErrors.CodeConfig, "at least one quasi-identifier is required")
	}
	return nil
}

// CacheKey identifies an audit of the snapshot with the given fingerprint.
// Column order does not matter: two requests naming the same sets share a key.
func (r AuditRequest) CacheKey(fingerprint string) string {
	n := r.Normalize()
	sorted := func(s []string) string {
		c := slices.Clone(s)
		slices.Sort(c)
		return strings.Join(c, ",")
	}
	return strings.Join([]string{
		fingerprint,
		strconv.Itoa(n.K),
		sorted(n.QuasiIdentifiers),
		sorted(n.Forbidden),
		sorted(n.Required),
	}, "|")
}

// ClassViolation is an equivalence class smaller than k.
type ClassViolation struct {
	Values map[string]string `json:"values"`
	Size   int               `json:"size"`
}

// AuditReport is the outcome of certifying a snapshot. A failing audit is a
// report with Passed false, never an error.
type AuditReport struct {
	ID               uuid.UUID        `json:"id"`
	Fingerprint      string           `json:"fingerprint"`
	K                int              `json:"k"`
	QuasiIdentifiers []string         `json:"quasi_identifiers"`
	TotalRecords     int              `json:"total_records"`
	ClassCount       int              `json:"class_count"`
	MinClassSize     int              `json:"min_class_size"`
	ViolatingRecords int              `json:"violating_records"`
	Violations       []ClassViolation `json:"violations"`
	ForbiddenPresent []string         `json:"forbidden_present"`
	RequiredMissing  []string         `json:"required_missing"`
	Passed           bool             `json:"passed"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Status renders Passed as PASS or FAIL.
func (r *AuditReport) Status() string {
	if r.Passed {
		return "PASS"
	}
	return "FAIL"
}

// Issues lists every finding as a line of text, column checks first.
func (r *AuditReport) Issues() []string {
	var out []string
	for _, c := range r.ForbiddenPresent {
		out = append(out, fmt.Sprintf("forbidden column present: %s", c))
	}
	for _, c := range r.RequiredMissing {
		out = append(out, fmt.Sprintf("required column missing: %s", c))
	}
	for _, v := range r.Violations {
		parts := make([]string, 0, len(r.QuasiIdentifiers))
		for _, f := range r.QuasiIdentifiers {
			parts = append(parts, fmt.Sprintf("%s=%q", f, v.Values[f]))
		}
		out = append(out, fmt.Sprintf("class of size %d below k=%d: %s", v.Size, r.K, strings.Join(parts, " ")))
	}
	return out
}
