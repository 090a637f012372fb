package dataset

import (
	"strconv"
	"time"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindMissing Kind = iota
	KindNumeric
	KindCategorical
	KindTemporal
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindCategorical:
		return "categorical"
	case KindTemporal:
		return "temporal"
	default:
		return "missing"
	}
}

// Value is a typed cell. Text is the canonical rendering written on release;
// Number and Time are populated for numeric and temporal values only.
type Value struct {
	Kind   Kind
	Text   string
	Number float64
	Time   time.Time

	// verbatim marks a missing value read from a cell; Text holds the cell
	// as it was and is written back unchanged.
	verbatim bool
}

// Missing returns the missing sentinel.
func Missing() Value {
	return Value{Kind: KindMissing}
}

// MissingCell is the missing sentinel for a cell read as a missing token.
// The cell text survives a write unless the value is replaced.
func MissingCell(cell string) Value {
	return Value{Kind: KindMissing, Text: cell, verbatim: true}
}

// Normalized drops the cell text a missing value was read from, so it is
// written as the codec's missing token.
func (v Value) Normalized() Value {
	if v.IsMissing() {
		return Missing()
	}
	return v
}

// Categorical wraps a category label.
func Categorical(s string) Value {
	return Value{Kind: KindCategorical, Text: s}
}

// Numeric wraps a number, keeping its source text for rendering.
func Numeric(n float64, text string) Value {
	if text == "" {
		text = strconv.FormatFloat(n, 'f', -1, 64)
	}
	return Value{Kind: KindNumeric, Number: n, Text: text}
}

// Temporal wraps a timestamp, keeping its source text for rendering.
func Temporal(t time.Time, text string) Value {
	return Value{Kind: KindTemporal, Time: t, Text: text}
}

func (v Value) IsMissing() bool {
	return v.Kind == KindMissing
}

// String renders the value; the missing sentinel renders as "".
func (v Value) String() string {
	if v.IsMissing() {
		return ""
	}
	return v.Text
}

// Equal compares the released rendering of two values. Two cells that would
// be written identically are indistinguishable to a reader of the release.
func (v Value) Equal(o Value) bool {
	if v.IsMissing() || o.IsMissing() {
		return v.IsMissing() && o.IsMissing()
	}
	return v.Text == o.Text
}
