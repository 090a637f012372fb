package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"kanon/internal/anonymization/hierarchy"
	anonModels "kanon/internal/anonymization/models"
	compModels "kanon/internal/compliance/models"
	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
	"kanon/pkg/platform/strings"
)

// DefaultSeed is the shuffle seed when a profile names none.
const DefaultSeed int64 = 42

// Profile is the YAML description of a dataset and how to anonymize it.
//
//	k: 5
//	max_suppression: 0.05
//	dataset:
//	  delimiter: ";"
//	  drop_columns: [nm_pacient]
//	quasi_identifiers:
//	  - name: age
//	    source: nu_idade_n
//	    role: ordinal
//	    levels: [{}, {bins: [0, 18, 40, 60]}, {all: ALL_AGES}]
type Profile struct {
	K                int                      `yaml:"k"`
	RareThreshold    *int                     `yaml:"rare_threshold"`
	MaxSuppression   float64                  `yaml:"max_suppression"`
	Seed             *int64                   `yaml:"seed"`
	Priority         []string                 `yaml:"priority"`
	Dataset          DatasetProfile           `yaml:"dataset"`
	QuasiIdentifiers []QuasiIdentifierProfile `yaml:"quasi_identifiers"`
}

// DatasetProfile describes the input table.
type DatasetProfile struct {
	Delimiter        string   `yaml:"delimiter"`
	Missing          string   `yaml:"missing"`
	MissingTokens    []string `yaml:"missing_tokens"`
	IDColumn         string   `yaml:"id_column"`
	DropColumns      []string `yaml:"drop_columns"`
	ForbiddenColumns []string `yaml:"forbidden_columns"`
	RequiredColumns  []string `yaml:"required_columns"`
}

// QuasiIdentifierProfile describes one quasi-identifier and its hierarchy.
type QuasiIdentifierProfile struct {
	Name      string         `yaml:"name"`
	Source    string         `yaml:"source"`
	Role      string         `yaml:"role"`
	BaseLevel int            `yaml:"base_level"`
	Layouts   []string       `yaml:"layouts"`
	Offset    float64        `yaml:"offset"`
	Clamp     []float64      `yaml:"clamp"`
	FoldCase  bool           `yaml:"fold_case"`
	Levels    []LevelProfile `yaml:"levels"`
}

// LevelProfile is one hierarchy level. An empty mapping is the raw level.
type LevelProfile struct {
	Granularity string            `yaml:"granularity"`
	Bins        []float64         `yaml:"bins"`
	Labels      []string          `yaml:"labels"`
	Groups      map[string]string `yaml:"groups"`
	All         string            `yaml:"all"`
}

// LoadProfile reads and validates a profile file.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfig, "read profile")
	}
	return ParseProfile(raw)
}

// ParseProfile decodes and validates a profile. Unknown keys are rejected so
// a misspelt setting never silently falls back to a default.
func ParseProfile(raw []byte) (*Profile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var p Profile
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, dErrors.New(dErrors.CodeConfig, "profile is empty")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeConfig, "decode profile")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate builds every hierarchy and checks the run settings.
func (p *Profile) Validate() error {
	if _, err := p.Codec(); err != nil {
		return err
	}
	_, err := p.AnonymizationConfig()
	return err
}

// Codec returns the CSV codec the dataset section describes.
func (p *Profile) Codec() (dataset.Codec, error) {
	codec := dataset.Codec{Missing: p.Dataset.Missing, MissingTokens: p.Dataset.MissingTokens}
	if p.Dataset.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(p.Dataset.Delimiter)
		if size != len(p.Dataset.Delimiter) || r == '"' || r == '\n' || r == '\r' || r == utf8.RuneError {
			return dataset.Codec{}, dErrors.Newf(dErrors.CodeConfig, "delimiter must be a single character, got %q", p.Dataset.Delimiter)
		}
		codec.Delimiter = r
	}
	return codec, nil
}

// AnonymizationConfig builds the run configuration. The rare threshold
// defaults to k, as the surveillance scripts merge categories seen fewer
// than k times.
func (p *Profile) AnonymizationConfig() (anonModels.AnonymizationConfig, error) {
	cfg := anonModels.AnonymizationConfig{
		K:              p.K,
		Priority:       p.Priority,
		RareThreshold:  p.K,
		MaxSuppression: p.MaxSuppression,
		IDColumn:       p.Dataset.IDColumn,
		DropColumns:    p.Dataset.DropColumns,
		Seed:           DefaultSeed,
	}
	if p.RareThreshold != nil {
		cfg.RareThreshold = *p.RareThreshold
	}
	if p.Seed != nil {
		cfg.Seed = *p.Seed
	}
	for _, qi := range p.QuasiIdentifiers {
		h, err := hierarchy.Build(qi.Name, qi.spec())
		if err != nil {
			return anonModels.AnonymizationConfig{}, err
		}
		cfg.QuasiIdentifiers = append(cfg.QuasiIdentifiers, anonModels.QuasiIdentifierSpec{
			Name:      qi.Name,
			Source:    qi.Source,
			Hierarchy: h,
			BaseLevel: qi.BaseLevel,
		})
	}
	if err := cfg.Validate(); err != nil {
		return anonModels.AnonymizationConfig{}, err
	}
	return cfg, nil
}

// AuditRequest is the default certification request for released snapshots:
// the released quasi-identifier columns at the profile's k, plus the column
// rules.
func (p *Profile) AuditRequest() compModels.AuditRequest {
	fields := make([]string, 0, len(p.QuasiIdentifiers))
	for _, qi := range p.QuasiIdentifiers {
		fields = append(fields, qi.Name)
	}
	return compModels.AuditRequest{
		QuasiIdentifiers: strings.DedupeAndTrim(fields),
		K:                p.K,
		Forbidden:        strings.DedupeAndTrim(p.Dataset.ForbiddenColumns),
		Required:         strings.DedupeAndTrim(p.Dataset.RequiredColumns),
	}
}

func (q QuasiIdentifierProfile) spec() hierarchy.Spec {
	spec := hierarchy.Spec{
		Role:     hierarchy.Role(q.Role),
		Layouts:  q.Layouts,
		Offset:   q.Offset,
		Clamp:    q.Clamp,
		FoldCase: q.FoldCase,
	}
	for _, l := range q.Levels {
		spec.Levels = append(spec.Levels, hierarchy.LevelSpec{
			Granularity: l.Granularity,
			Bins:        l.Bins,
			Labels:      l.Labels,
			Groups:      l.Groups,
			All:         l.All,
		})
	}
	return spec
}
