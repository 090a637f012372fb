package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"

	dErrors "kanon/pkg/domain-errors"
)

// DefaultMissingTokens are the cell texts read as the missing sentinel.
var DefaultMissingTokens = []string{"", "NA", "NaN", "nan", "null", "NULL"}

// Codec reads and writes datasets as delimited text with a header row.
type Codec struct {
	// Delimiter separates fields; zero means ';'.
	Delimiter rune
	// Missing is written for missing values that were not read from a cell.
	// Missing tokens read from input are written back as they were.
	Missing string
	// MissingTokens are read as missing; nil means DefaultMissingTokens.
	MissingTokens []string
}

func (c Codec) delimiter() rune {
	if c.Delimiter == 0 {
		return ';'
	}
	return c.Delimiter
}

func (c Codec) missingSet() map[string]bool {
	tokens := c.MissingTokens
	if tokens == nil {
		tokens = DefaultMissingTokens
	}
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// Read parses a table. Every cell is loaded as categorical text or the missing
// sentinel; typing quasi-identifier cells is the hierarchies' job.
func (c Codec) Read(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comma = c.delimiter()
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, dErrors.New(dErrors.CodeSchema, "input has no header row")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeSchema, "read header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	ds, err := New(header)
	if err != nil {
		return nil, err
	}

	missing := c.missingSet()
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeSchema, "read row")
		}
		vals := make([]Value, len(row))
		for i, cell := range row {
			if missing[strings.TrimSpace(cell)] {
				vals[i] = MissingCell(cell)
				continue
			}
			vals[i] = Categorical(cell)
		}
		if err := ds.Append(vals...); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// Write renders the dataset with a header row.
func (c Codec) Write(w io.Writer, d *Dataset) error {
	cw := csv.NewWriter(w)
	cw.Comma = c.delimiter()
	if err := cw.Write(d.Columns); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "write header")
	}
	row := make([]string, len(d.Columns))
	for _, rec := range d.Records {
		for i, v := range rec.Values {
			if v.IsMissing() {
				row[i] = c.Missing
				if v.verbatim {
					row[i] = v.Text
				}
				continue
			}
			row[i] = v.Text
		}
		if err := cw.Write(row); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "flush table")
	}
	return nil
}

// Fingerprint returns the hex BLAKE2b-256 digest of the dataset's encoding
// under this codec. Equal fingerprints mean byte-identical releases.
func (c Codec) Fingerprint(d *Dataset) (string, error) {
	var buf bytes.Buffer
	if err := c.Write(&buf, d); err != nil {
		return "", err
	}
	sum := blake2b.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
