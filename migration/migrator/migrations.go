package migrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/stokaro/booksync/catalog"
	"github.com/stokaro/booksync/core/schema"
)

// MigrationFunc represents a migration function that operates on the schema catalog
type MigrationFunc func(context.Context, catalog.App) error

// NoopMigrationFunc is a no-op migration function
func NoopMigrationFunc(_ctx context.Context, _app catalog.App) error {
	return nil
}

// Migration represents a schema catalog migration
type Migration struct {
	Version     int
	Description string
	Up          MigrationFunc
	Down        MigrationFunc
}

// Operation is a declarative collection change as stored in migration files.
// Exactly one of Create and Delete is set.
//
//	{"create": {"name": "notes", "type": "base", "fields": [...]}}
//	{"delete": "notes"}
type Operation struct {
	Create *schema.Collection `json:"create,omitempty"`
	Delete string             `json:"delete,omitempty"`
}

// ParseOperation decodes and checks an operation document
func ParseOperation(data []byte) (*Operation, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var op Operation
	if err := dec.Decode(&op); err != nil {
		return nil, fmt.Errorf("failed to decode operation: %w", err)
	}

	switch {
	case op.Create != nil && op.Delete != "":
		return nil, fmt.Errorf("operation must either create or delete a collection, not both")
	case op.Create == nil && op.Delete == "":
		return nil, fmt.Errorf("operation must create or delete a collection")
	}
	return &op, nil
}

// Apply runs the operation against app. Relation targets of a created
// collection may be given by name; they are resolved to ids before saving.
func (op *Operation) Apply(ctx context.Context, app catalog.App) error {
	if op.Delete != "" {
		c, err := app.FindCollectionByNameOrId(ctx, op.Delete)
		if err != nil {
			return err
		}
		return app.Delete(ctx, c)
	}

	c := op.Create.Clone()
	c.ID = ""
	if c.Type == "" {
		c.Type = schema.CollectionTypeBase
	}
	if c.Fields == nil {
		c.Fields = schema.Fields{}
	}
	if c.Indexes == nil {
		c.Indexes = []string{}
	}

	for _, f := range c.Fields {
		if f.Type != schema.FieldTypeRelation {
			continue
		}
		target, err := app.FindCollectionByNameOrId(ctx, f.CollectionID)
		if err != nil {
			return fmt.Errorf("field %s.%s: %w", c.Name, f.Name, err)
		}
		f.CollectionID = target.ID
	}

	return app.Save(ctx, c)
}

// MigrationFuncFromJSONFilename returns a migration function that reads an
// operation document from a file in the provided filesystem and applies it
func MigrationFuncFromJSONFilename(filename string, fsys fs.FS) MigrationFunc {
	return func(ctx context.Context, app catalog.App) error {
		data, err := fs.ReadFile(fsys, filename)
		if err != nil {
			return fmt.Errorf("failed to read migration file: %w", err)
		}

		op, err := ParseOperation(data)
		if err != nil {
			return fmt.Errorf("invalid migration file %s: %w", filename, err)
		}

		return op.Apply(ctx, app)
	}
}

// CreateMigrationFromJSON creates a migration from operation documents.
// This is useful for programmatically creating migrations
func CreateMigrationFromJSON(version int, description, upJSON, downJSON string) (*Migration, error) {
	up, err := ParseOperation([]byte(upJSON))
	if err != nil {
		return nil, fmt.Errorf("invalid up operation: %w", err)
	}
	down, err := ParseOperation([]byte(downJSON))
	if err != nil {
		return nil, fmt.Errorf("invalid down operation: %w", err)
	}

	return &Migration{
		Version:     version,
		Description: description,
		Up:          up.Apply,
		Down:        down.Apply,
	}, nil
}
