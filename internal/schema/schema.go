// Package schema describes the indexed shape of a record collection.
//
// A Schema names the collection (the index), the key prefix records are
// stored under, and the typed fields the backend indexes. Backends use the
// schema to build their secondary indexes and to reject queries against
// fields that are not indexed.
//
// Schemas are loaded from YAML or CUE files (see load.go). The Fingerprint
// of a schema identifies its index definition: backends rebuild the index
// only when the fingerprint changes.
package schema

import (
	"fmt"
	"regexp"
	"sort"
)

// FieldType is the index type of a field.
type FieldType string

const (
	// TypeString is an exact-match (tag) field.
	TypeString FieldType = "string"

	// TypeNumber is a numeric range field.
	TypeNumber FieldType = "number"

	// TypeBoolean is a true/false field.
	TypeBoolean FieldType = "boolean"

	// TypeText is a full-text field.
	TypeText FieldType = "text"

	// TypeDate is a point in time, indexed as Unix seconds.
	TypeDate FieldType = "date"

	// TypeStringArray is a list of exact-match values; equality means membership.
	TypeStringArray FieldType = "string[]"
)

// ValidTypes lists the accepted field types.
var ValidTypes = []FieldType{TypeString, TypeNumber, TypeBoolean, TypeText, TypeDate, TypeStringArray}

// IsValid reports whether t is one of ValidTypes.
func (t FieldType) IsValid() bool {
	for _, v := range ValidTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsRange reports whether the type supports range comparison.
func (t FieldType) IsRange() bool {
	return t == TypeNumber || t == TypeDate
}

// Field is a single indexed field.
type Field struct {
	Name     string    `yaml:"name" json:"name"`
	Type     FieldType `yaml:"type" json:"type"`
	Sortable bool      `yaml:"sortable,omitempty" json:"sortable,omitempty"`
}

// Schema is the index definition of a record collection.
type Schema struct {
	// Name is the collection and index name.
	Name string `yaml:"name" json:"name"`

	// Prefix is the key prefix records are stored under.
	// Defaults to Name when empty.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	// Fields are the indexed fields.
	Fields []Field `yaml:"fields" json:"fields"`
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// KeyPrefix returns Prefix, or Name when Prefix is empty.
func (s *Schema) KeyPrefix() string {
	if s.Prefix != "" {
		return s.Prefix
	}
	return s.Name
}

// Field returns the field with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// EnsureField adds a field of type t if no field with that name exists.
// Used to guarantee the identity field is indexed.
func (s *Schema) EnsureField(name string, t FieldType) {
	if _, ok := s.Field(name); ok {
		return
	}
	s.Fields = append(s.Fields, Field{Name: name, Type: t})
}

// SortedFields returns a copy of the fields ordered by name.
func (s *Schema) SortedFields() []Field {
	out := make([]Field, len(s.Fields))
	copy(out, s.Fields)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks names and types. Field names may carry one level of
// qualification ("address.city"); deeper nesting is rejected.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	if !namePattern.MatchString(s.Name) {
		return fmt.Errorf("invalid schema name %q", s.Name)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q: at least one field is required", s.Name)
	}

	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %q: field %d: name is required", s.Name, i)
		}
		if !namePattern.MatchString(f.Name) {
			return fmt.Errorf("schema %q: invalid field name %q", s.Name, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %q: duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true
		if !f.Type.IsValid() {
			return fmt.Errorf("schema %q: field %q: invalid type %q (must be one of %v)", s.Name, f.Name, f.Type, ValidTypes)
		}
	}
	return nil
}
