package migrator

import (
	"cmp"
	"fmt"
	"io/fs"
	"maps"
	"slices"
)

// MigrationProvider provides a list of migrations
type MigrationProvider interface {
	// Migrations provides a list of migrations sorted by version in ascending order
	Migrations() []*Migration
}

// RegisteredMigrationProvider keeps migrations registered from code, typically
// from init functions of a migrations package.
type RegisteredMigrationProvider struct {
	migrations []*Migration
	sorted     bool
}

// NewRegisteredMigrationProvider returns a provider holding the given migrations
func NewRegisteredMigrationProvider(migrations ...*Migration) *RegisteredMigrationProvider {
	return &RegisteredMigrationProvider{migrations: migrations}
}

// Register adds a migration to the provider
func (p *RegisteredMigrationProvider) Register(migration *Migration) {
	p.migrations = append(p.migrations, migration)
	p.sorted = false
}

// Migrations returns the registered migrations ordered by version
func (p *RegisteredMigrationProvider) Migrations() []*Migration {
	if !p.sorted {
		sortMigrations(p.migrations)
		p.sorted = true
	}
	return p.migrations
}

// FSMigrationProvider loads collection operation migrations from a filesystem.
// Every NNNNNNNNNN_name.up.json file needs a matching .down.json file with the
// same version and name; files not following the convention are skipped.
type FSMigrationProvider struct {
	fsys       fs.FS
	migrations []*Migration
}

// NewFSMigrationProvider scans fsys and returns the migrations found in it
func NewFSMigrationProvider(fsys fs.FS) (*FSMigrationProvider, error) {
	files, err := scanMigrationFiles(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations directory: %w", err)
	}

	p := &FSMigrationProvider{fsys: fsys}
	if err := p.build(files); err != nil {
		return nil, err
	}
	return p, nil
}

// Migrations returns the loaded migrations ordered by version
func (p *FSMigrationProvider) Migrations() []*Migration {
	return p.migrations
}

// migrationPair holds the up and down file paths of one version
type migrationPair struct {
	name     string
	up, down string
}

func scanMigrationFiles(fsys fs.FS) (map[int]*migrationPair, error) {
	files := map[int]*migrationPair{}

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		mf, err := ParseMigrationFileName(d.Name())
		if err != nil {
			return nil
		}

		pair := files[mf.Version]
		if pair == nil {
			pair = &migrationPair{name: mf.Name}
			files[mf.Version] = pair
		}
		if pair.name != mf.Name {
			return fmt.Errorf("migration %d has conflicting names %q and %q", mf.Version, pair.name, mf.Name)
		}

		slot := &pair.up
		if mf.Direction == DirectionDown {
			slot = &pair.down
		}
		if *slot != "" {
			return fmt.Errorf("migration %d has more than one %s file: %s and %s", mf.Version, mf.Direction, *slot, path)
		}
		*slot = path
		return nil
	})
	return files, err
}

func (p *FSMigrationProvider) build(files map[int]*migrationPair) error {
	var incomplete []int
	for _, version := range slices.Sorted(maps.Keys(files)) {
		pair := files[version]
		if pair.up == "" || pair.down == "" {
			incomplete = append(incomplete, version)
			continue
		}
		p.migrations = append(p.migrations, &Migration{
			Version:     version,
			Description: pair.name,
			Up:          MigrationFuncFromJSONFilename(pair.up, p.fsys),
			Down:        MigrationFuncFromJSONFilename(pair.down, p.fsys),
		})
	}

	if len(incomplete) > 0 {
		return fmt.Errorf("incomplete migrations found (missing up or down files): %v", incomplete)
	}
	return nil
}

func sortMigrations(migrations []*Migration) {
	slices.SortStableFunc(migrations, func(a, b *Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})
}
