// Package renderer turns collection definitions into dialect-specific DDL.
package renderer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/lib/pq"

	"github.com/stokaro/booksync/core/platform"
	"github.com/stokaro/booksync/core/schema"
)

// QuoteIdent quotes an identifier for the given dialect
func QuoteIdent(dialect, name string) string {
	if platform.IsMySQLLike(dialect) {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return pq.QuoteIdentifier(name)
}

// CollectionStatements returns the CREATE TABLE statement for the collection
// followed by one CREATE INDEX statement per declared index.
//
// targets maps relation target collection ids to their table names.
func CollectionStatements(dialect string, c *schema.Collection, targets map[string]string) ([]string, error) {
	table, err := CreateTable(dialect, c, targets)
	if err != nil {
		return nil, err
	}

	indexes, err := c.ParsedIndexes()
	if err != nil {
		return nil, err
	}

	statements := []string{table}
	for _, idx := range indexes {
		statements = append(statements, CreateIndex(dialect, idx))
	}
	return statements, nil
}

// CreateTable renders the CREATE TABLE statement for a collection
func CreateTable(dialect string, c *schema.Collection, targets map[string]string) (string, error) {
	if platform.NormalizeDialect(dialect) == "" {
		return "", fmt.Errorf("unsupported dialect: %q", dialect)
	}

	indexed := indexedColumns(c)

	var lines []string
	var constraints []string

	lines = append(lines, fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", QuoteIdent(dialect, schema.IDColumn), keyType(dialect)))

	for _, f := range c.Fields {
		colType, err := columnType(dialect, f, slices.Contains(indexed, f.Name))
		if err != nil {
			return "", fmt.Errorf("collection %q: %w", c.Name, err)
		}

		line := QuoteIdent(dialect, f.Name) + " " + colType
		if f.Required {
			line += " NOT NULL"
		}
		lines = append(lines, line)

		if f.Type == schema.FieldTypeRelation && !f.IsMultiple() {
			target, ok := targets[f.CollectionID]
			if !ok {
				return "", fmt.Errorf("collection %q: field %q references unknown collection %q", c.Name, f.Name, f.CollectionID)
			}
			constraints = append(constraints, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
				QuoteIdent(dialect, "fk_"+c.Name+"_"+f.Name),
				QuoteIdent(dialect, f.Name),
				QuoteIdent(dialect, target),
				QuoteIdent(dialect, schema.IDColumn),
				onDeleteAction(f),
			))
		}
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(QuoteIdent(dialect, c.Name))
	sb.WriteString(" (\n  ")
	sb.WriteString(strings.Join(append(lines, constraints...), ",\n  "))
	sb.WriteString("\n)")
	if platform.IsMySQLLike(dialect) {
		sb.WriteString(" ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")
	}
	return sb.String(), nil
}

// CreateIndex renders a CREATE INDEX statement with quoted identifiers
func CreateIndex(dialect string, idx schema.Index) string {
	cols := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		cols[i] = QuoteIdent(dialect, col)
	}

	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique,
		QuoteIdent(dialect, idx.Name),
		QuoteIdent(dialect, idx.Table),
		strings.Join(cols, ", "),
	)
}

// DropTable renders a DROP TABLE statement
func DropTable(dialect, name string) string {
	return "DROP TABLE " + QuoteIdent(dialect, name)
}

func onDeleteAction(f *schema.Field) string {
	switch {
	case f.CascadeDelete:
		return "CASCADE"
	case f.Required:
		return "RESTRICT"
	default:
		return "SET NULL"
	}
}

func keyType(dialect string) string {
	if platform.IsMySQLLike(dialect) {
		return "VARCHAR(255)"
	}
	return "TEXT"
}

// columnType maps a field to a column type. MySQL cannot index TEXT columns
// without a prefix length, so indexed text columns become VARCHAR there.
func columnType(dialect string, f *schema.Field, indexed bool) (string, error) {
	mysql := platform.IsMySQLLike(dialect)

	switch f.Type {
	case schema.FieldTypeText, schema.FieldTypeEmail:
		if mysql && indexed {
			return "VARCHAR(255)", nil
		}
		return "TEXT", nil
	case schema.FieldTypeRelation, schema.FieldTypeFile:
		if f.IsMultiple() {
			return jsonType(mysql), nil
		}
		return keyType(dialect), nil
	case schema.FieldTypeNumber:
		if mysql {
			return "DOUBLE", nil
		}
		return "DOUBLE PRECISION", nil
	case schema.FieldTypeBool:
		return "BOOLEAN", nil
	case schema.FieldTypeJSON:
		return jsonType(mysql), nil
	case schema.FieldTypeDate:
		if mysql {
			return "DATETIME", nil
		}
		return "TIMESTAMP", nil
	}
	return "", fmt.Errorf("field %q: unsupported type %q", f.Name, f.Type)
}

func jsonType(mysql bool) string {
	if mysql {
		return "JSON"
	}
	return "JSONB"
}

func indexedColumns(c *schema.Collection) []string {
	var cols []string
	for _, raw := range c.Indexes {
		idx, err := schema.ParseIndex(raw)
		if err != nil {
			continue
		}
		cols = append(cols, idx.Columns...)
	}
	return cols
}
