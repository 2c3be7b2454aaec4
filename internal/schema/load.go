package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

// LoadError is a schema loading error with optional source position.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads a schema from a .yaml/.yml or .cue file and validates it.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		return LoadYAML(data)
	case ".cue":
		return LoadCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported schema file extension %q (want .yaml, .yml or .cue)", ext)
	}
}

// LoadYAML parses a YAML schema. Unknown keys are rejected so typos
// ("feilds:") fail loudly instead of producing an empty schema.
func LoadYAML(data []byte) (*Schema, error) {
	var s Schema
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadCUE parses a CUE schema of the form:
//
//	schema: {
//		name:   "todos"
//		prefix: "todo"
//		fields: {
//			title:    "text"
//			priority: {type: "number", sortable: true}
//		}
//	}
//
// Field order follows declaration order.
func LoadCUE(filename string, data []byte) (*Schema, error) {
	ctx := cuecontext.New()
	root := ctx.CompileBytes(data, cue.Filename(filename))
	if err := root.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := root.LookupPath(cue.ParsePath("schema"))
	if !v.Exists() {
		return nil, &LoadError{Field: "schema", Message: "top-level schema struct is required", Pos: root.Pos()}
	}

	s := &Schema{}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return nil, &LoadError{Field: "name", Message: "name is required", Pos: v.Pos()}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	s.Name = name

	if prefixVal := v.LookupPath(cue.ParsePath("prefix")); prefixVal.Exists() {
		prefix, err := prefixVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		s.Prefix = prefix
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &LoadError{Field: "fields", Message: "fields are required", Pos: v.Pos()}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		f, err := parseCUEField(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, f)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// parseCUEField accepts either a bare type string or a struct with
// type and sortable.
func parseCUEField(name string, v cue.Value) (Field, error) {
	f := Field{Name: name}

	if t, err := v.String(); err == nil {
		f.Type = FieldType(t)
		return f, nil
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return f, &LoadError{
			Field:   name,
			Message: "must be a type string or a struct with a type field",
			Pos:     v.Pos(),
		}
	}
	t, err := typeVal.String()
	if err != nil {
		return f, formatCUEError(err)
	}
	f.Type = FieldType(t)

	if sortVal := v.LookupPath(cue.ParsePath("sortable")); sortVal.Exists() {
		sortable, err := sortVal.Bool()
		if err != nil {
			return f, formatCUEError(err)
		}
		f.Sortable = sortable
	}
	return f, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
