// Package schema defines collection definitions: the declarative description of a
// stored entity type with its fields, access rules and indexes.
//
// A collection definition is plain data. It is built as a struct literal (or with
// NewBaseCollection and Fields.Add), validated with Validate, and handed to a
// catalog implementation for persistence.
package schema

import (
	"fmt"
	"regexp"
	"slices"
	"time"
)

// IDColumn is the implicit primary key column every collection table carries
const IDColumn = "id"

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CollectionType is the category of a collection
type CollectionType string

const (
	CollectionTypeBase CollectionType = "base"
	CollectionTypeAuth CollectionType = "auth"
	CollectionTypeView CollectionType = "view"
)

// Collection is a schema-defined entity type.
//
// Rules are authorization predicates evaluated by the host platform. They are
// stored verbatim: a nil rule restricts the action to superusers, an empty
// rule makes the action public.
type Collection struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Type    CollectionType `json:"type"`
	System  bool           `json:"system,omitempty"`
	Fields  Fields         `json:"fields"`
	Indexes []string       `json:"indexes"`

	ListRule   *string `json:"listRule"`
	ViewRule   *string `json:"viewRule"`
	CreateRule *string `json:"createRule"`
	UpdateRule *string `json:"updateRule"`
	DeleteRule *string `json:"deleteRule"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// NewBaseCollection returns an empty base collection with all rules locked
func NewBaseCollection(name string) *Collection {
	return &Collection{
		Name:    name,
		Type:    CollectionTypeBase,
		Fields:  Fields{},
		Indexes: []string{},
	}
}

// NewAuthCollection returns an auth collection with the minimal identity fields
func NewAuthCollection(name string) *Collection {
	c := NewBaseCollection(name)
	c.Type = CollectionTypeAuth
	c.Fields.Add(
		&Field{Name: "email", Type: FieldTypeEmail, Required: true, System: true},
		&Field{Name: "name", Type: FieldTypeText, Max: 255},
	)
	c.Indexes = append(c.Indexes,
		fmt.Sprintf("CREATE UNIQUE INDEX idx_%s_email ON %s (email)", name, name),
	)
	return c
}

// Rule returns a pointer to the given rule expression, for use in struct literals
func Rule(expr string) *string {
	return &expr
}

// IsNew reports whether the collection has not been persisted yet
func (c *Collection) IsNew() bool {
	return c.ID == ""
}

// ParsedIndexes parses every index definition of the collection
func (c *Collection) ParsedIndexes() ([]Index, error) {
	out := make([]Index, 0, len(c.Indexes))
	for _, raw := range c.Indexes {
		idx, err := ParseIndex(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// RelationTargets returns the distinct target collection ids of the relation fields
func (c *Collection) RelationTargets() []string {
	var targets []string
	for _, f := range c.Fields {
		if f.Type == FieldTypeRelation && !slices.Contains(targets, f.CollectionID) {
			targets = append(targets, f.CollectionID)
		}
	}
	return targets
}

// Validate checks the definition for internal consistency. It does not check
// anything that requires the catalog (name uniqueness, relation targets).
func (c *Collection) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if !identifierRe.MatchString(c.Name) {
		return fmt.Errorf("invalid collection name %q", c.Name)
	}

	switch c.Type {
	case CollectionTypeBase, CollectionTypeAuth, CollectionTypeView:
	default:
		return fmt.Errorf("collection %q: unknown type %q", c.Name, c.Type)
	}

	seen := make(map[string]struct{}, len(c.Fields))
	for _, f := range c.Fields {
		if f == nil {
			return fmt.Errorf("collection %q: nil field", c.Name)
		}
		if err := f.validate(); err != nil {
			return fmt.Errorf("collection %q: %w", c.Name, err)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("collection %q: duplicate field %q", c.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}

	indexNames := make(map[string]struct{}, len(c.Indexes))
	for _, raw := range c.Indexes {
		idx, err := ParseIndex(raw)
		if err != nil {
			return fmt.Errorf("collection %q: %w", c.Name, err)
		}
		if idx.Table != c.Name {
			return fmt.Errorf("collection %q: index %q targets table %q", c.Name, idx.Name, idx.Table)
		}
		if _, dup := indexNames[idx.Name]; dup {
			return fmt.Errorf("collection %q: duplicate index %q", c.Name, idx.Name)
		}
		indexNames[idx.Name] = struct{}{}
		for _, col := range idx.Columns {
			if _, ok := seen[col]; !ok && col != IDColumn {
				return fmt.Errorf("collection %q: index %q references unknown column %q", c.Name, idx.Name, col)
			}
		}
	}

	return nil
}

// Clone returns a deep copy of the collection
func (c *Collection) Clone() *Collection {
	cp := *c
	cp.Fields = c.Fields.clone()
	cp.Indexes = slices.Clone(c.Indexes)
	cp.ListRule = cloneRule(c.ListRule)
	cp.ViewRule = cloneRule(c.ViewRule)
	cp.CreateRule = cloneRule(c.CreateRule)
	cp.UpdateRule = cloneRule(c.UpdateRule)
	cp.DeleteRule = cloneRule(c.DeleteRule)
	return &cp
}

func cloneRule(r *string) *string {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

// Equal compares two definitions ignoring generated ids and timestamps.
// Relation targets are compared as stored, so both sides must point at the
// same catalog entries.
func Equal(a, b *Collection) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.Type != b.Type || a.System != b.System {
		return false
	}
	if !ruleEqual(a.ListRule, b.ListRule) ||
		!ruleEqual(a.ViewRule, b.ViewRule) ||
		!ruleEqual(a.CreateRule, b.CreateRule) ||
		!ruleEqual(a.UpdateRule, b.UpdateRule) ||
		!ruleEqual(a.DeleteRule, b.DeleteRule) {
		return false
	}
	if !slices.Equal(a.Indexes, b.Indexes) || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if !fieldEqual(a.Fields[i], b.Fields[i]) {
			return false
		}
	}
	return true
}

func fieldEqual(a, b *Field) bool {
	return a.Name == b.Name &&
		a.Type == b.Type &&
		a.Required == b.Required &&
		a.System == b.System &&
		a.Hidden == b.Hidden &&
		a.Min == b.Min &&
		a.Max == b.Max &&
		a.Pattern == b.Pattern &&
		a.MaxSelect == b.MaxSelect &&
		a.CollectionID == b.CollectionID &&
		a.CascadeDelete == b.CascadeDelete &&
		a.MaxSize == b.MaxSize &&
		slices.Equal(a.MimeTypes, b.MimeTypes) &&
		a.Protected == b.Protected
}

func ruleEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
