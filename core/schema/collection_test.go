package schema_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/booksync/core/schema"
)

func validCollection() *schema.Collection {
	c := schema.NewBaseCollection("notes")
	c.Fields.Add(
		&schema.Field{Name: "owner", Type: schema.FieldTypeRelation, Required: true, MaxSelect: 1, CollectionID: "users_id"},
		&schema.Field{Name: "title", Type: schema.FieldTypeText, Required: true},
		&schema.Field{Name: "attachment", Type: schema.FieldTypeFile, MaxSize: 1024, MaxSelect: 1},
	)
	c.Indexes = []string{"CREATE UNIQUE INDEX idx_notes_owner_title ON notes (owner, title)"}
	c.ListRule = schema.Rule("@request.auth.id = owner")
	return c
}

func TestCollection_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *schema.Collection)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *schema.Collection) {},
		},
		{
			name:    "missing name",
			mutate:  func(c *schema.Collection) { c.Name = "" },
			wantErr: "collection name is required",
		},
		{
			name:    "invalid name",
			mutate:  func(c *schema.Collection) { c.Name = "my notes" },
			wantErr: `invalid collection name "my notes"`,
		},
		{
			name:    "unknown type",
			mutate:  func(c *schema.Collection) { c.Type = "table" },
			wantErr: `collection "notes": unknown type "table"`,
		},
		{
			name: "duplicate field",
			mutate: func(c *schema.Collection) {
				c.Fields = append(c.Fields, &schema.Field{Name: "title", Type: schema.FieldTypeText})
			},
			wantErr: `collection "notes": duplicate field "title"`,
		},
		{
			name:    "reserved field name",
			mutate:  func(c *schema.Collection) { c.Fields[1].Name = "id" },
			wantErr: `collection "notes": field name "id" is reserved`,
		},
		{
			name:    "unknown field type",
			mutate:  func(c *schema.Collection) { c.Fields[1].Type = "blob" },
			wantErr: `collection "notes": field "title": unknown type "blob"`,
		},
		{
			name:    "relation without target",
			mutate:  func(c *schema.Collection) { c.Fields[0].CollectionID = "" },
			wantErr: `collection "notes": field "owner": relation requires a target collection`,
		},
		{
			name:    "file without max size",
			mutate:  func(c *schema.Collection) { c.Fields[2].MaxSize = 0 },
			wantErr: `collection "notes": field "attachment": file fields require a positive maxSize`,
		},
		{
			name:    "index on another table",
			mutate:  func(c *schema.Collection) { c.Indexes = []string{"CREATE INDEX idx_x ON other (title)"} },
			wantErr: `collection "notes": index "idx_x" targets table "other"`,
		},
		{
			name:    "index on unknown column",
			mutate:  func(c *schema.Collection) { c.Indexes = []string{"CREATE INDEX idx_x ON notes (body)"} },
			wantErr: `collection "notes": index "idx_x" references unknown column "body"`,
		},
		{
			name:   "index on id column",
			mutate: func(c *schema.Collection) { c.Indexes = []string{"CREATE INDEX idx_x ON notes (id, title)"} },
		},
		{
			name: "duplicate index name",
			mutate: func(c *schema.Collection) {
				c.Indexes = []string{
					"CREATE INDEX idx_x ON notes (title)",
					"CREATE INDEX idx_x ON notes (owner)",
				}
			},
			wantErr: `collection "notes": duplicate index "idx_x"`,
		},
		{
			name:    "malformed index",
			mutate:  func(c *schema.Collection) { c.Indexes = []string{"DROP INDEX idx_x"} },
			wantErr: `collection "notes": invalid index definition: "DROP INDEX idx_x"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)

			col := validCollection()
			tt.mutate(col)

			err := col.Validate()
			if tt.wantErr == "" {
				c.Assert(err, qt.IsNil)
				return
			}
			c.Assert(err, qt.ErrorMatches, tt.wantErr)
		})
	}
}

func TestCollection_Clone(t *testing.T) {
	c := qt.New(t)

	orig := validCollection()
	cp := orig.Clone()

	c.Assert(schema.Equal(orig, cp), qt.IsTrue)

	cp.Fields[0].Required = false
	*cp.ListRule = "changed"
	cp.Indexes[0] = "CREATE INDEX idx_other ON notes (title)"

	c.Assert(orig.Fields[0].Required, qt.IsTrue)
	c.Assert(*orig.ListRule, qt.Equals, "@request.auth.id = owner")
	c.Assert(orig.Indexes[0], qt.Equals, "CREATE UNIQUE INDEX idx_notes_owner_title ON notes (owner, title)")
	c.Assert(schema.Equal(orig, cp), qt.IsFalse)
}

func TestEqual(t *testing.T) {
	c := qt.New(t)

	a := validCollection()
	b := validCollection()
	a.ID = "one"
	b.ID = "two"
	a.Fields[0].ID = "f1"

	c.Assert(schema.Equal(a, b), qt.IsTrue)

	b.CreateRule = schema.Rule("")
	c.Assert(schema.Equal(a, b), qt.IsFalse, qt.Commentf("nil rule and empty rule differ"))

	b = validCollection()
	b.Fields[0], b.Fields[1] = b.Fields[1], b.Fields[0]
	c.Assert(schema.Equal(a, b), qt.IsFalse, qt.Commentf("field order matters"))

	c.Assert(schema.Equal(nil, nil), qt.IsTrue)
	c.Assert(schema.Equal(a, nil), qt.IsFalse)
}

func TestFields_Add(t *testing.T) {
	c := qt.New(t)

	var fields schema.Fields
	fields.Add(
		&schema.Field{Name: "a", Type: schema.FieldTypeText},
		&schema.Field{Name: "b", Type: schema.FieldTypeText},
	)
	fields.Add(&schema.Field{Name: "a", Type: schema.FieldTypeNumber})

	c.Assert(fields.Names(), qt.DeepEquals, []string{"a", "b"})
	c.Assert(fields.GetByName("a").Type, qt.Equals, schema.FieldTypeNumber)
	c.Assert(fields.GetByName("missing"), qt.IsNil)
}

func TestNewAuthCollection(t *testing.T) {
	c := qt.New(t)

	users := schema.NewAuthCollection("users")

	c.Assert(users.Type, qt.Equals, schema.CollectionTypeAuth)
	c.Assert(users.Fields.Names(), qt.DeepEquals, []string{"email", "name"})
	c.Assert(users.Indexes, qt.DeepEquals, []string{"CREATE UNIQUE INDEX idx_users_email ON users (email)"})
	c.Assert(users.Validate(), qt.IsNil)
	c.Assert(users.IsNew(), qt.IsTrue)
}

func TestCollection_RelationTargets(t *testing.T) {
	c := qt.New(t)

	col := validCollection()
	col.Fields.Add(&schema.Field{Name: "editor", Type: schema.FieldTypeRelation, CollectionID: "users_id"})
	col.Fields.Add(&schema.Field{Name: "tags", Type: schema.FieldTypeRelation, CollectionID: "tags_id", MaxSelect: 5})

	c.Assert(col.RelationTargets(), qt.DeepEquals, []string{"users_id", "tags_id"})
}
