package schema

import (
	"fmt"
	"slices"
)

// FieldType is the declared type of a collection field
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeRelation FieldType = "relation"
	FieldTypeFile     FieldType = "file"
	FieldTypeNumber   FieldType = "number"
	FieldTypeBool     FieldType = "bool"
	FieldTypeEmail    FieldType = "email"
	FieldTypeJSON     FieldType = "json"
	FieldTypeDate     FieldType = "date"
)

var knownFieldTypes = []FieldType{
	FieldTypeText,
	FieldTypeRelation,
	FieldTypeFile,
	FieldTypeNumber,
	FieldTypeBool,
	FieldTypeEmail,
	FieldTypeJSON,
	FieldTypeDate,
}

// IsKnown reports whether t is one of the supported field types
func (t FieldType) IsKnown() bool {
	return slices.Contains(knownFieldTypes, t)
}

// Field describes a single collection field.
//
// Only the constraints relevant to the field type are meaningful:
//   - text: Min, Max (length), Pattern
//   - relation: CollectionID, MaxSelect, CascadeDelete
//   - file: MaxSize (bytes per file), MaxSelect (files per record), MimeTypes, Protected
type Field struct {
	ID       string    `json:"id,omitempty"`
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	System   bool      `json:"system,omitempty"`
	Hidden   bool      `json:"hidden,omitempty"`

	Min     int    `json:"min,omitempty"`
	Max     int    `json:"max,omitempty"`
	Pattern string `json:"pattern,omitempty"`

	MaxSelect     int    `json:"maxSelect,omitempty"`
	CollectionID  string `json:"collectionId,omitempty"`
	CascadeDelete bool   `json:"cascadeDelete,omitempty"`

	MaxSize   int64    `json:"maxSize,omitempty"`
	MimeTypes []string `json:"mimeTypes,omitempty"`
	Protected bool     `json:"protected,omitempty"`
}

// IsMultiple reports whether the field holds more than one value (relation and file fields)
func (f *Field) IsMultiple() bool {
	return f.MaxSelect > 1
}

func (f *Field) validate() error {
	if f.Name == "" {
		return fmt.Errorf("field name is required")
	}
	if !identifierRe.MatchString(f.Name) {
		return fmt.Errorf("invalid field name %q", f.Name)
	}
	if f.Name == IDColumn {
		return fmt.Errorf("field name %q is reserved", f.Name)
	}
	if !f.Type.IsKnown() {
		return fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
	}
	if f.MaxSelect < 0 {
		return fmt.Errorf("field %q: maxSelect must not be negative", f.Name)
	}

	switch f.Type {
	case FieldTypeRelation:
		if f.CollectionID == "" {
			return fmt.Errorf("field %q: relation requires a target collection", f.Name)
		}
	case FieldTypeFile:
		if f.MaxSize <= 0 {
			return fmt.Errorf("field %q: file fields require a positive maxSize", f.Name)
		}
	case FieldTypeText:
		if f.Max > 0 && f.Min > f.Max {
			return fmt.Errorf("field %q: min length %d exceeds max length %d", f.Name, f.Min, f.Max)
		}
	}
	return nil
}

// Fields is an ordered list of field definitions
type Fields []*Field

// Add appends the given fields, replacing any existing field with the same name in place
func (fs *Fields) Add(fields ...*Field) {
	for _, f := range fields {
		if i := slices.IndexFunc(*fs, func(existing *Field) bool { return existing.Name == f.Name }); i >= 0 {
			(*fs)[i] = f
			continue
		}
		*fs = append(*fs, f)
	}
}

// GetByName returns the field with the given name or nil
func (fs Fields) GetByName(name string) *Field {
	for _, f := range fs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Names returns the field names in declaration order
func (fs Fields) Names() []string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	return names
}

func (fs Fields) clone() Fields {
	if fs == nil {
		return nil
	}
	out := make(Fields, len(fs))
	for i, f := range fs {
		cp := *f
		cp.MimeTypes = slices.Clone(f.MimeTypes)
		out[i] = &cp
	}
	return out
}
