// Package suppression selects the records removed once generalization is
// exhausted.
package suppression

import (
	"sort"

	"kanon/internal/anonymization/partition"
	dErrors "kanon/pkg/domain-errors"
)

// Selection is the set of records to remove.
type Selection struct {
	Records  []int
	Classes  int
	Fraction float64
}

// Select removes exactly the records of the violating classes. Every other
// class already meets k, so nothing smaller would do and nothing larger is
// needed. It fails with a compliance error when the removal would exceed
// maxFraction of total.
func Select(violating []partition.Class, total int, maxFraction float64) (Selection, error) {
	sel := Selection{Classes: len(violating)}
	for _, c := range violating {
		sel.Records = append(sel.Records, c.Records...)
	}
	sort.Ints(sel.Records)
	if total > 0 {
		sel.Fraction = float64(len(sel.Records)) / float64(total)
	}
	if sel.Fraction > maxFraction {
		return Selection{}, dErrors.Newf(dErrors.CodeCompliance,
			"dataset cannot be anonymized under current configuration: suppressing %d of %d records (%.2f%%) exceeds the maximum of %.2f%%",
			len(sel.Records), total, sel.Fraction*100, maxFraction*100)
	}
	return sel, nil
}
