// Package sqlstore implements the collection catalog on a SQL database.
//
// Each collection is one row of the _collections table and one real table
// named after the collection, created with the collection's indexes. Applied
// migration versions are kept in schema_migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/stokaro/booksync/catalog"
	"github.com/stokaro/booksync/core/platform"
	"github.com/stokaro/booksync/core/renderer"
	"github.com/stokaro/booksync/core/schema"
	"github.com/stokaro/booksync/dbschema"
	"github.com/stokaro/booksync/filestore"
)

var (
	_ catalog.Store      = (*Store)(nil)
	_ catalog.Transactor = (*Store)(nil)
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQL-backed catalog
type Store struct {
	db      *sql.DB
	q       querier
	dialect string

	inTx    bool
	pending *[]string // file prefixes to delete after commit

	files  *filestore.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithFileStore sets the store holding uploaded record files
func WithFileStore(fs *filestore.Store) Option {
	return func(s *Store) {
		s.files = fs
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store on an open database handle
func New(db *sql.DB, dialect string, opts ...Option) (*Store, error) {
	d := platform.NormalizeDialect(dialect)
	if d == "" {
		return nil, fmt.Errorf("unsupported dialect: %q", dialect)
	}

	s := &Store{
		db:      db,
		q:       db,
		dialect: d,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewFromConnection creates a store on a dbschema connection
func NewFromConnection(conn *dbschema.DatabaseConnection, opts ...Option) (*Store, error) {
	return New(conn.DB(), conn.Info().Dialect, opts...)
}

// Dialect returns the normalized SQL dialect of the store
func (s *Store) Dialect() string {
	return s.dialect
}

// Initialize creates the catalog and migration tables if they don't exist
func (s *Store) Initialize(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaSQL(s.dialect)) {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create catalog tables: %w", err)
		}
	}
	return nil
}

// FindCollectionByNameOrId looks the collection up by id, then by name
func (s *Store) FindCollectionByNameOrId(ctx context.Context, nameOrID string) (*schema.Collection, error) {
	c, err := s.queryCollection(ctx, selectCollectionByIDSQL, nameOrID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to find collection %q: %w", nameOrID, err)
	}

	c, err = s.queryCollection(ctx, selectCollectionByNameSQL, nameOrID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.NotFound(nameOrID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find collection %q: %w", nameOrID, err)
	}
	return c, nil
}

// Save creates the collection table and catalog row for a new collection.
// For an existing collection only the rules can change.
func (s *Store) Save(ctx context.Context, c *schema.Collection) error {
	if err := c.Validate(); err != nil {
		return catalog.AsPersistenceFailure(err)
	}

	var existing *schema.Collection
	if c.ID != "" {
		found, err := s.queryCollection(ctx, selectCollectionByIDSQL, c.ID)
		switch {
		case err == nil:
			existing = found
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to load collection %q: %w", c.ID, err)
		}
	}

	var collisions int
	if err := s.q.QueryRowContext(ctx, s.rebind(countNameCollisionSQL), c.Name, c.ID).Scan(&collisions); err != nil {
		return fmt.Errorf("failed to check collection name %q: %w", c.Name, err)
	}
	if collisions > 0 {
		return catalog.PersistenceFailure("collection name %q already exists", c.Name)
	}

	if existing != nil {
		return s.updateRules(ctx, existing, c)
	}
	return s.create(ctx, c)
}

func (s *Store) create(ctx context.Context, c *schema.Collection) error {
	targets := map[string]string{}
	for _, id := range c.RelationTargets() {
		if id == c.ID {
			targets[id] = c.Name
			continue
		}
		target, err := s.queryCollection(ctx, selectCollectionByIDSQL, id)
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.PersistenceFailure("collection %q: relation references unknown collection %q", c.Name, id)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve relation target %q: %w", id, err)
		}
		targets[id] = target.Name
	}

	statements, err := renderer.CollectionStatements(s.dialect, c, targets)
	if err != nil {
		return catalog.AsPersistenceFailure(err)
	}

	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	indexes, err := json.Marshal(c.Indexes)
	if err != nil {
		return fmt.Errorf("failed to encode indexes: %w", err)
	}

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC()

	_, err = s.q.ExecContext(ctx, s.rebind(insertCollectionSQL),
		id, c.Name, string(c.Type), c.System,
		nullString(c.ListRule), nullString(c.ViewRule), nullString(c.CreateRule),
		nullString(c.UpdateRule), nullString(c.DeleteRule),
		string(fields), string(indexes), now, now,
	)
	if err != nil {
		return classifyError(fmt.Errorf("failed to insert collection %q: %w", c.Name, err))
	}

	for _, stmt := range statements {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return classifyError(fmt.Errorf("failed to create collection %q: %w\nSQL: %s", c.Name, err, stmt))
		}
	}

	c.ID = id
	c.Created = now
	c.Updated = now
	s.logger.Debug("Created collection", "id", c.ID, "name", c.Name, "statements", len(statements))
	return nil
}

func (s *Store) updateRules(ctx context.Context, existing, c *schema.Collection) error {
	a, b := existing.Clone(), c.Clone()
	for _, x := range []*schema.Collection{a, b} {
		x.ListRule, x.ViewRule, x.CreateRule, x.UpdateRule, x.DeleteRule = nil, nil, nil, nil, nil
	}
	if !schema.Equal(a, b) {
		return catalog.PersistenceFailure("collection %q: changing fields or indexes of an existing collection is not supported", existing.Name)
	}

	now := s.now().UTC()
	_, err := s.q.ExecContext(ctx, s.rebind(updateCollectionRulesSQL),
		nullString(c.ListRule), nullString(c.ViewRule), nullString(c.CreateRule),
		nullString(c.UpdateRule), nullString(c.DeleteRule),
		now, c.ID,
	)
	if err != nil {
		return classifyError(fmt.Errorf("failed to update collection %q: %w", c.Name, err))
	}

	c.Created = existing.Created
	c.Updated = now
	s.logger.Debug("Updated collection rules", "id", c.ID, "name", c.Name)
	return nil
}

// Delete drops the collection table, its catalog row and its stored files
func (s *Store) Delete(ctx context.Context, c *schema.Collection) error {
	query, key := selectCollectionByIDSQL, c.ID
	if c.ID == "" {
		query, key = selectCollectionByNameSQL, c.Name
	}

	existing, err := s.queryCollection(ctx, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.NotFound(c.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to load collection %q: %w", c.Name, err)
	}

	others, err := s.queryCollections(ctx, selectOtherCollectionsSQL, existing.ID)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, other := range others {
		for _, f := range other.Fields {
			if f.Type == schema.FieldTypeRelation && f.CollectionID == existing.ID {
				return catalog.PersistenceFailure("collection %q is still referenced by %s.%s", existing.Name, other.Name, f.Name)
			}
		}
	}

	if _, err := s.q.ExecContext(ctx, renderer.DropTable(s.dialect, existing.Name)); err != nil {
		return classifyError(fmt.Errorf("failed to drop table %q: %w", existing.Name, err))
	}
	if _, err := s.q.ExecContext(ctx, s.rebind(deleteCollectionSQL), existing.ID); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", existing.Name, err)
	}

	if err := s.deleteFiles(existing.ID); err != nil {
		return err
	}

	s.logger.Debug("Deleted collection", "id", existing.ID, "name", existing.Name)
	return nil
}

// RunInTransaction runs fn inside a database transaction. On MySQL DDL
// statements commit implicitly, so a failed step may leave created tables
// behind.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx catalog.App) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var pending []string
	txStore := *s
	txStore.q = tx
	txStore.inTx = true
	txStore.pending = &pending

	if err := fn(&txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, prefix := range pending {
		if err := s.deleteFiles(prefix); err != nil {
			s.logger.Warn("Failed to delete files", "prefix", prefix, "error", err)
		}
	}
	return nil
}

func (s *Store) deleteFiles(prefix string) error {
	if s.files == nil {
		return nil
	}
	if s.inTx {
		*s.pending = append(*s.pending, prefix)
		return nil
	}
	return s.files.DeletePrefix(prefix)
}

func (s *Store) rebind(query string) string {
	return rebind(s.dialect, query)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) queryCollection(ctx context.Context, query string, args ...any) (*schema.Collection, error) {
	return scanCollection(s.q.QueryRowContext(ctx, s.rebind(query), args...))
}

func (s *Store) queryCollections(ctx context.Context, query string, args ...any) ([]*schema.Collection, error) {
	rows, err := s.q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCollection(row rowScanner) (*schema.Collection, error) {
	var (
		c                                      schema.Collection
		typ                                    string
		list, view, create, update, deleteRule sql.NullString
		fields, indexes                        []byte
	)

	err := row.Scan(&c.ID, &c.Name, &typ, &c.System, &list, &view, &create, &update, &deleteRule, &fields, &indexes, &c.Created, &c.Updated)
	if err != nil {
		return nil, err
	}

	c.Type = schema.CollectionType(typ)
	c.ListRule = rulePtr(list)
	c.ViewRule = rulePtr(view)
	c.CreateRule = rulePtr(create)
	c.UpdateRule = rulePtr(update)
	c.DeleteRule = rulePtr(deleteRule)

	if err := json.Unmarshal(fields, &c.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields of %q: %w", c.Name, err)
	}
	if err := json.Unmarshal(indexes, &c.Indexes); err != nil {
		return nil, fmt.Errorf("failed to decode indexes of %q: %w", c.Name, err)
	}
	if c.Fields == nil {
		c.Fields = schema.Fields{}
	}
	if c.Indexes == nil {
		c.Indexes = []string{}
	}
	return &c, nil
}

func nullString(r *string) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *r, Valid: true}
}

func rulePtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// classifyError marks constraint violations and duplicate objects reported by
// the database as persistence failures
func classifyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "23") || pgErr.Code == "42P07") {
		return catalog.AsPersistenceFailure(err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code.Class() == "23" || pqErr.Code == "42P07") {
		return catalog.AsPersistenceFailure(err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1050, 1061, 1062, 1451, 1452:
			return catalog.AsPersistenceFailure(err)
		}
	}

	return err
}
