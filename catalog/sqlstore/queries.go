package sqlstore

import (
	_ "embed"
	"strings"

	"github.com/stokaro/booksync/core/platform"
)

//go:embed base/postgres.sql
var postgresSchemaSQL string

//go:embed base/mysql.sql
var mysqlSchemaSQL string

// Queries are written with ? placeholders and rebound per dialect.
const (
	collectionColumns = "id, name, type, system, list_rule, view_rule, create_rule, update_rule, delete_rule, fields, indexes, created, updated"

	selectCollectionByIDSQL   = "SELECT " + collectionColumns + " FROM _collections WHERE id = ?"
	selectCollectionByNameSQL = "SELECT " + collectionColumns + " FROM _collections WHERE LOWER(name) = LOWER(?)"
	selectOtherCollectionsSQL = "SELECT " + collectionColumns + " FROM _collections WHERE id <> ? ORDER BY created, name"
	countNameCollisionSQL     = "SELECT COUNT(*) FROM _collections WHERE LOWER(name) = LOWER(?) AND id <> ?"
	insertCollectionSQL       = "INSERT INTO _collections (" + collectionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	updateCollectionRulesSQL  = "UPDATE _collections SET list_rule = ?, view_rule = ?, create_rule = ?, update_rule = ?, delete_rule = ?, updated = ? WHERE id = ?"
	deleteCollectionSQL       = "DELETE FROM _collections WHERE id = ?"

	getVersionSQL      = "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"
	appliedVersionsSQL = "SELECT version FROM schema_migrations ORDER BY version"
	recordMigrationSQL = "INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"
	deleteMigrationSQL = "DELETE FROM schema_migrations WHERE version = ?"
)

// rebind converts ? placeholders into the dialect's bind parameter syntax
func rebind(dialect, query string) string {
	if dialect != platform.Postgres {
		return query
	}

	var sb strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteString(platform.Placeholder(dialect, n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

// splitStatements splits a schema script on statement terminators
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func schemaSQL(dialect string) string {
	if platform.IsMySQLLike(dialect) {
		return mysqlSchemaSQL
	}
	return postgresSchemaSQL
}
