// Package compliance certifies dataset snapshots: k-anonymity over a set of
// quasi-identifier columns plus the presence checks a release must satisfy.
package compliance

import (
	"kanon/internal/anonymization/partition"
	"kanon/internal/anonymization/validate"
	"kanon/internal/compliance/models"
	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
)

// Audit partitions ds on the named columns as they appear in the snapshot and
// reports every class smaller than k. Violations are part of the report;
// only an unusable request or a missing column is an error.
func Audit(ds *dataset.Dataset, fields []string, k int) (*models.AuditReport, error) {
	if k < 2 {
		return nil, dErrors.Newf(dErrors.CodeConfig, "k must be at least 2, got %d", k)
	}
	if len(fields) == 0 {
		return nil, dErrors.New(dErrors.CodeConfig, "at least one quasi-identifier is required")
	}
	var missing []string
	columns := make([][]dataset.Value, 0, len(fields))
	for _, f := range fields {
		col, err := ds.Column(f)
		if err != nil {
			missing = append(missing, f)
			continue
		}
		columns = append(columns, col)
	}
	if len(missing) > 0 {
		return nil, dErrors.Newf(dErrors.CodeSchema, "dataset is missing quasi-identifier columns %v", missing)
	}

	p, err := partition.Build(columns...)
	if err != nil {
		return nil, err
	}
	res := validate.Validate(p, k)

	rep := &models.AuditReport{
		K:                k,
		QuasiIdentifiers: append([]string(nil), fields...),
		TotalRecords:     p.Total,
		ClassCount:       res.ClassCount,
		MinClassSize:     res.MinSize,
		ViolatingRecords: len(res.ViolatingRecords()),
		Violations:       make([]models.ClassViolation, 0, len(res.Violating)),
		ForbiddenPresent: []string{},
		RequiredMissing:  []string{},
		Passed:           res.Passed,
	}
	for _, c := range res.Violating {
		values := make(map[string]string, len(fields))
		for i, f := range fields {
			values[f] = c.Values[i].String()
		}
		rep.Violations = append(rep.Violations, models.ClassViolation{Values: values, Size: c.Size()})
	}
	return rep, nil
}

// CheckColumns returns the forbidden columns present in ds and the required
// columns absent from it, each in the order given.
func CheckColumns(ds *dataset.Dataset, forbidden, required []string) (present, missing []string) {
	present, missing = []string{}, []string{}
	for _, c := range forbidden {
		if ds.HasColumn(c) {
			present = append(present, c)
		}
	}
	for _, c := range required {
		if !ds.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	return present, missing
}

// Certify runs Audit and CheckColumns for req. The report passes only when
// every class meets k and both column checks are clean.
func Certify(ds *dataset.Dataset, req models.AuditRequest) (*models.AuditReport, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rep, err := Audit(ds, req.QuasiIdentifiers, req.K)
	if err != nil {
		return nil, err
	}
	rep.ForbiddenPresent, rep.RequiredMissing = CheckColumns(ds, req.Forbidden, req.Required)
	if len(rep.ForbiddenPresent) > 0 || len(rep.RequiredMissing) > 0 {
		rep.Passed = false
	}
	return rep, nil
}
