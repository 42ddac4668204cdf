package schema

import (
	"fmt"
	"io"
	"net/mail"
	"regexp"
	"slices"
	"unicode/utf8"
)

// File is an upload attached to a record file field.
// Size is the declared size in bytes and is checked before Reader is consumed.
type File struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// Record is a single row of a collection.
//
// Data holds the field values keyed by field name. Relation values are record
// ids (string, or []string when the field allows several). File values are the
// stored file names and are filled in by the catalog from Files on save.
type Record struct {
	ID           string
	CollectionID string
	Data         map[string]any
	Files        map[string][]*File
}

// NewRecord returns an empty record bound to the given collection
func NewRecord(c *Collection) *Record {
	return &Record{
		CollectionID: c.ID,
		Data:         map[string]any{},
		Files:        map[string][]*File{},
	}
}

// Get returns the value of the named field
func (r *Record) Get(name string) any {
	return r.Data[name]
}

// Set assigns the value of the named field
func (r *Record) Set(name string, value any) {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	r.Data[name] = value
}

// Attach adds an upload to the named file field
func (r *Record) Attach(field string, f *File) {
	if r.Files == nil {
		r.Files = map[string][]*File{}
	}
	r.Files[field] = append(r.Files[field], f)
}

// RelationIDs returns the referenced record ids of a relation value
func RelationIDs(v any) []string {
	switch ids := v.(type) {
	case string:
		if ids == "" {
			return nil
		}
		return []string{ids}
	case []string:
		return slices.DeleteFunc(slices.Clone(ids), func(s string) bool { return s == "" })
	}
	return nil
}

// NormalizeRecord rewrites relation and file values in place to one form: a
// single string for single-value fields and a []string for multiple ones.
// Values of another type, or lists too long for a single-value field, are left
// as they are for ValidateRecord to reject.
func NormalizeRecord(c *Collection, r *Record) {
	for _, f := range c.Fields {
		if f.Type != FieldTypeRelation && f.Type != FieldTypeFile {
			continue
		}
		v, ok := r.Data[f.Name]
		if !ok {
			continue
		}
		switch v.(type) {
		case string, []string:
		default:
			continue
		}

		ids := RelationIDs(v)
		switch {
		case f.IsMultiple():
			if ids == nil {
				ids = []string{}
			}
			r.Data[f.Name] = ids
		case len(ids) == 0:
			r.Data[f.Name] = ""
		case len(ids) == 1:
			r.Data[f.Name] = ids[0]
		}
	}
}

// ValidateRecord checks the record against the field-level constraints declared
// by the collection: presence, value kind, relation cardinality, file count and
// file size. Catalog-level constraints (relation targets, unique indexes) are
// checked by the catalog.
func ValidateRecord(c *Collection, r *Record) error {
	for name := range r.Data {
		if c.Fields.GetByName(name) == nil {
			return fmt.Errorf("%s: unknown field %q", c.Name, name)
		}
	}
	for name := range r.Files {
		f := c.Fields.GetByName(name)
		if f == nil || f.Type != FieldTypeFile {
			return fmt.Errorf("%s: %q is not a file field", c.Name, name)
		}
	}

	for _, f := range c.Fields {
		if err := validateValue(f, r); err != nil {
			return fmt.Errorf("%s.%s: %w", c.Name, f.Name, err)
		}
	}
	return nil
}

func validateValue(f *Field, r *Record) error {
	v, present := r.Data[f.Name]

	switch f.Type {
	case FieldTypeText:
		s, err := asString(v, present)
		if err != nil {
			return err
		}
		if s == "" {
			return requiredErr(f)
		}
		n := utf8.RuneCountInString(s)
		if f.Min > 0 && n < f.Min {
			return fmt.Errorf("must be at least %d characters", f.Min)
		}
		if f.Max > 0 && n > f.Max {
			return fmt.Errorf("must be at most %d characters", f.Max)
		}
		if f.Pattern != "" {
			ok, err := regexp.MatchString(f.Pattern, s)
			if err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
			if !ok {
				return fmt.Errorf("does not match pattern %q", f.Pattern)
			}
		}
	case FieldTypeEmail:
		s, err := asString(v, present)
		if err != nil {
			return err
		}
		if s == "" {
			return requiredErr(f)
		}
		if _, err := mail.ParseAddress(s); err != nil {
			return fmt.Errorf("invalid email address")
		}
	case FieldTypeRelation:
		if present {
			switch v.(type) {
			case string, []string:
			default:
				return fmt.Errorf("relation value must be a record id or a list of ids, got %T", v)
			}
		}
		ids := RelationIDs(v)
		if len(ids) == 0 {
			return requiredErr(f)
		}
		if limit := maxSelect(f); len(ids) > limit {
			return fmt.Errorf("at most %d related records allowed, got %d", limit, len(ids))
		}
	case FieldTypeFile:
		uploads := r.Files[f.Name]
		existing := FileNames(v)
		if len(uploads)+len(existing) == 0 {
			return requiredErr(f)
		}
		if limit := maxSelect(f); len(uploads)+len(existing) > limit {
			return fmt.Errorf("at most %d files allowed, got %d", limit, len(uploads)+len(existing))
		}
		for _, up := range uploads {
			if up == nil || up.Name == "" {
				return fmt.Errorf("file name is required")
			}
			if up.Size < 0 {
				return fmt.Errorf("file %q: invalid size %d", up.Name, up.Size)
			}
			if up.Size > f.MaxSize {
				return fmt.Errorf("file %q is %d bytes, max allowed is %d", up.Name, up.Size, f.MaxSize)
			}
		}
	case FieldTypeNumber:
		if !present || v == nil {
			return requiredErr(f)
		}
		switch v.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("expected a number, got %T", v)
		}
	case FieldTypeBool:
		if !present || v == nil {
			return requiredErr(f)
		}
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected a bool, got %T", v)
		}
		if !b && f.Required {
			return fmt.Errorf("value is required")
		}
	default:
		if !present || v == nil {
			return requiredErr(f)
		}
	}
	return nil
}

func asString(v any, present bool) (string, error) {
	if !present || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", v)
	}
	return s, nil
}

// requiredErr is returned for a blank value; it is nil for optional fields
func requiredErr(f *Field) error {
	if f.Required {
		return fmt.Errorf("value is required")
	}
	return nil
}

func maxSelect(f *Field) int {
	if f.MaxSelect <= 0 {
		return 1
	}
	return f.MaxSelect
}

// FileNames returns the stored file names of a file field value
func FileNames(v any) []string {
	switch names := v.(type) {
	case string:
		if names == "" {
			return nil
		}
		return []string{names}
	case []string:
		return names
	}
	return nil
}
