package diff

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"go.strata.dev/core/fault"
	"gopkg.in/yaml.v2"
)

// FieldKind is the comparison discipline applied to a tracked field.
type FieldKind string

const (
	// FieldNumeric fields compare by absolute difference against a threshold.
	FieldNumeric FieldKind = "numeric"
	// FieldCategorical fields compare by exact inequality.
	FieldCategorical FieldKind = "categorical"
)

// Field is one tracked field of the diff rules.
type Field struct {
	Name string    `yaml:"name"`
	Kind FieldKind `yaml:"kind"`
	// Threshold is the absolute difference beyond which a numeric field
	// counts as modified. Ignored for categorical fields.
	Threshold float64 `yaml:"threshold,omitempty"`
}

// Rules configures which fields the diff engine tracks, beyond the content
// checksum. Rules are typically loaded from a YAML file such as:
//
//	tracked_fields:
//	  - name: word_count
//	    kind: numeric
//	    threshold: 25
//	  - name: language
//	    kind: categorical
type Rules struct {
	Fields []Field `yaml:"tracked_fields"`
}

// DefaultRules tracks the word count (within 25 words) and the language and
// type tags of each record.
func DefaultRules() Rules {
	return Rules{Fields: []Field{
		{Name: "word_count", Kind: FieldNumeric, Threshold: 25},
		{Name: "language", Kind: FieldCategorical},
		{Name: "type", Kind: FieldCategorical},
	}}
}

// Validate inspects the Rules for structural problems.
func (r Rules) Validate() error {
	for _, f := range r.Fields {
		if f.Name == "" {
			return fault.Errorf(fault.Fatal, "tracked field with empty name")
		}
		switch f.Kind {
		case FieldNumeric:
			if f.Threshold < 0 {
				return fault.Errorf(fault.Fatal, "tracked field %q has a negative threshold", f.Name)
			}
		case FieldCategorical:
			if f.Threshold != 0 {
				return fault.Errorf(fault.Fatal, "tracked field %q is categorical and cannot carry a threshold", f.Name)
			}
		default:
			return fault.Errorf(fault.Fatal, "tracked field %q has unrecognized kind %q", f.Name, f.Kind)
		}
	}
	return nil
}

// ParseRules decodes Rules from YAML.
func ParseRules(b []byte) (Rules, error) {
	var r Rules
	if err := yaml.UnmarshalStrict(b, &r); err != nil {
		return Rules{}, errors.WithMessage(err, "parsing diff rules")
	}
	return r, r.Validate()
}

// LoadRules reads and decodes Rules from a YAML file.
func LoadRules(path string) (Rules, error) {
	var b, err = ioutil.ReadFile(path)
	if err != nil {
		return Rules{}, errors.WithMessagef(err, "reading diff rules %s", path)
	}
	return ParseRules(b)
}
