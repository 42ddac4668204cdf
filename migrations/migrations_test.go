package migrations_test

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	qt "github.com/frankban/quicktest"

	"github.com/stokaro/booksync/catalog"
	"github.com/stokaro/booksync/catalog/memory"
	"github.com/stokaro/booksync/catalog/sqlstore"
	"github.com/stokaro/booksync/core/platform"
	"github.com/stokaro/booksync/migration/migrator"
	"github.com/stokaro/booksync/migrations"
)

func TestProvider(t *testing.T) {
	c := qt.New(t)

	all := migrations.Provider().Migrations()
	c.Assert(all, qt.HasLen, 1)
	c.Assert(all[0].Version, qt.Equals, 1)
	c.Assert(all[0].Description, qt.Equals, "sync_items")
	c.Assert(all[0].Up, qt.IsNotNil)
	c.Assert(all[0].Down, qt.IsNotNil)
}

func TestMigrator_SyncItems(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	fx := setup(c)

	m := migrator.NewMigrator(fx.store, migrations.Provider()).WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	c.Assert(m.MigrateUp(ctx), qt.IsNil)
	fx.syncItems(c)

	version, err := m.GetCurrentVersion(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(version, qt.Equals, 1)

	c.Assert(m.MigrateDown(ctx), qt.IsNil)
	_, err = fx.store.FindCollectionByNameOrId(ctx, migrations.SyncItemsCollection)
	c.Assert(catalog.IsNotFound(err), qt.IsTrue)

	version, err = m.GetCurrentVersion(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(version, qt.Equals, 0)
}

func TestMigrator_SyncItemsWithoutUsers(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := memory.New()

	m := migrator.NewMigrator(store, migrations.Provider()).WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := m.MigrateUp(ctx)
	c.Assert(err, qt.ErrorIs, catalog.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `failed to apply migration 1: collection "users": not found`)
	c.Assert(store.Collections(ctx), qt.HasLen, 0)

	version, err := m.GetCurrentVersion(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(version, qt.Equals, 0)
}

var collectionColumns = []string{"id", "name", "type", "system", "list_rule", "view_rule", "create_rule", "update_rule", "delete_rule", "fields", "indexes", "created", "updated"}

func TestSyncItems_PostgresStatements(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	store, err := sqlstore.New(db, platform.Postgres)
	c.Assert(err, qt.IsNil)

	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	users := func() *sqlmock.Rows {
		return sqlmock.NewRows(collectionColumns).AddRow("u1", "users", "auth", false, nil, nil, nil, nil, nil,
			[]byte(`[{"name":"email","type":"email","required":true}]`), []byte(`[]`), now, now)
	}
	empty := func() *sqlmock.Rows { return sqlmock.NewRows(collectionColumns) }

	// forward
	mock.ExpectQuery(`FROM _collections WHERE id = \$1`).WithArgs("users").WillReturnRows(empty())
	mock.ExpectQuery(`FROM _collections WHERE LOWER\(name\) = LOWER\(\$1\)`).WithArgs("users").WillReturnRows(users())
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM _collections`).WithArgs("sync_items", "").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM _collections WHERE id = \$1`).WithArgs("u1").WillReturnRows(users())
	mock.ExpectExec(`INSERT INTO _collections`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "sync_items" (
  "id" TEXT NOT NULL PRIMARY KEY,
  "user" TEXT NOT NULL,
  "book_id" TEXT NOT NULL,
  "encrypted_data" TEXT,
  "checksum" TEXT,
  CONSTRAINT "fk_sync_items_user" FOREIGN KEY ("user") REFERENCES "users" ("id") ON DELETE CASCADE
)`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE UNIQUE INDEX "idx_sync_items_user_book" ON "sync_items" ("user", "book_id")`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	c.Assert(migrations.SyncItemsUp(ctx, store), qt.IsNil)

	// backward
	mock.ExpectQuery(`FROM _collections WHERE id = \$1`).WithArgs("sync_items").WillReturnRows(empty())
	mock.ExpectQuery(`FROM _collections WHERE LOWER\(name\) = LOWER\(\$1\)`).WithArgs("sync_items").
		WillReturnRows(empty().AddRow("s1", "sync_items", "base", false, nil, nil, nil, nil, nil, []byte(`[]`), []byte(`[]`), now, now))
	mock.ExpectQuery(`FROM _collections WHERE id = \$1`).WithArgs("s1").
		WillReturnRows(empty().AddRow("s1", "sync_items", "base", false, nil, nil, nil, nil, nil, []byte(`[]`), []byte(`[]`), now, now))
	mock.ExpectQuery(`FROM _collections WHERE id <> \$1`).WithArgs("s1").WillReturnRows(users())
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE "sync_items"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM _collections WHERE id = \$1`).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))

	c.Assert(migrations.SyncItemsDown(ctx, store), qt.IsNil)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}
