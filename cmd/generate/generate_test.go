package generate

import (
	"bytes"
	"context"
	"io/fs"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/spf13/afero"

	"github.com/stokaro/booksync/catalog/memory"
	"github.com/stokaro/booksync/migration/migrator"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestGenerateEmptyMigration(t *testing.T) {
	c := qt.New(t)
	fsys := afero.NewMemMapFs()

	files, err := GenerateEmptyMigration(fsys, "migrations", "Add Reading Progress", fixedNow)
	c.Assert(err, qt.IsNil)
	c.Assert(files.Version, qt.Equals, 20260304050607)
	c.Assert(files.UpFile, qt.Equals, "migrations/20260304050607_add_reading_progress.up.json")
	c.Assert(files.DownFile, qt.Equals, "migrations/20260304050607_add_reading_progress.down.json")

	up, err := afero.ReadFile(fsys, files.UpFile)
	c.Assert(err, qt.IsNil)
	op, err := migrator.ParseOperation(up)
	c.Assert(err, qt.IsNil)
	c.Assert(op.Create.Name, qt.Equals, "add_reading_progress")

	down, err := afero.ReadFile(fsys, files.DownFile)
	c.Assert(err, qt.IsNil)
	op, err = migrator.ParseOperation(down)
	c.Assert(err, qt.IsNil)
	c.Assert(op.Delete, qt.Equals, "add_reading_progress")
}

func TestGenerateEmptyMigration_LoadsAndApplies(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	_, err := GenerateEmptyMigration(fsys, "migrations", "shelves", fixedNow)
	c.Assert(err, qt.IsNil)

	dir, err := fs.Sub(afero.NewIOFS(fsys), "migrations")
	c.Assert(err, qt.IsNil)

	store := memory.New()
	m, err := migrator.NewFSMigrator(store, dir)
	c.Assert(err, qt.IsNil)

	c.Assert(m.MigrateUp(ctx), qt.IsNil)
	_, err = store.FindCollectionByNameOrId(ctx, "shelves")
	c.Assert(err, qt.IsNil)

	c.Assert(m.MigrateDown(ctx), qt.IsNil)
	c.Assert(store.Collections(ctx), qt.HasLen, 0)
}

func TestGenerateEmptyMigration_Exists(t *testing.T) {
	c := qt.New(t)
	fsys := afero.NewMemMapFs()

	_, err := GenerateEmptyMigration(fsys, "migrations", "shelves", fixedNow)
	c.Assert(err, qt.IsNil)

	_, err = GenerateEmptyMigration(fsys, "migrations", "shelves", fixedNow)
	c.Assert(err, qt.ErrorMatches, "migration file migrations/20260304050607_shelves.up.json already exists")
}

func TestMigrationCommand(t *testing.T) {
	c := qt.New(t)
	fsys := afero.NewMemMapFs()

	cmd := newMigrationCommand(fsys, func() time.Time { return fixedNow })
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--name", "shelves", "--output-dir", "db"})

	c.Assert(cmd.Execute(), qt.IsNil)
	c.Assert(out.String(), qt.Equals, `Generated migration files:
  UP:   db/20260304050607_shelves.up.json
  DOWN: db/20260304050607_shelves.down.json
  Version: 20260304050607
`)

	exists, err := afero.Exists(fsys, "db/20260304050607_shelves.down.json")
	c.Assert(err, qt.IsNil)
	c.Assert(exists, qt.IsTrue)
}

func TestMigrationCommand_NameRequired(t *testing.T) {
	c := qt.New(t)

	cmd := newMigrationCommand(afero.NewMemMapFs(), time.Now)
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	c.Assert(cmd.Execute(), qt.ErrorMatches, `migration name is required \(use --name flag\)`)
}
