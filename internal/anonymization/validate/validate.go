// Package validate checks a partition against a k-anonymity threshold.
package validate

import (
	"sort"

	"kanon/internal/anonymization/partition"
)

// Result is the outcome of one validation. Passed holds iff Violating is
// empty.
type Result struct {
	K          int
	MinSize    int
	ClassCount int
	Violating  []partition.Class
	Passed     bool
}

// Validate reports the smallest class and every class smaller than k.
// It never mutates the partition.
func Validate(p partition.Partition, k int) Result {
	res := Result{K: k, ClassCount: len(p.Classes)}
	for i, c := range p.Classes {
		if i == 0 || c.Size() < res.MinSize {
			res.MinSize = c.Size()
		}
		if c.Size() < k {
			res.Violating = append(res.Violating, c)
		}
	}
	res.Passed = len(res.Violating) == 0
	return res
}

// ViolatingRecords returns the records of every violating class, sorted.
func (r Result) ViolatingRecords() []int {
	var out []int
	for _, c := range r.Violating {
		out = append(out, c.Records...)
	}
	sort.Ints(out)
	return out
}
