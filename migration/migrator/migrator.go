package migrator

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/stokaro/booksync/catalog"
)

// MigrationStatus represents the current state of migrations
type MigrationStatus struct {
	CurrentVersion    int   `json:"current_version"`
	PendingMigrations []int `json:"pending_migrations"`
	TotalMigrations   int   `json:"total_migrations"`
	HasPendingChanges bool  `json:"has_pending_changes"`
}

// initializer is implemented by stores that need their bookkeeping tables
// created before first use
type initializer interface {
	Initialize(ctx context.Context) error
}

// Migrator applies and reverts migrations against a catalog store
type Migrator struct {
	store             catalog.Store
	migrationProvider MigrationProvider
	initialized       bool
	logger            *slog.Logger
}

// NewFSMigrator creates a new migrator that loads migrations from a filesystem.
// It scans the provided filesystem for migration files following the naming convention
// NNNNNNNNNN_description.up.json and NNNNNNNNNN_description.down.json and automatically
// registers them with the migrator. Returns an error if the filesystem cannot be scanned
// or if any migrations are incomplete (missing up or down files).
func NewFSMigrator(store catalog.Store, fsys fs.FS) (*Migrator, error) {
	provider, err := NewFSMigrationProvider(fsys)
	if err != nil {
		return nil, err
	}
	return NewMigrator(store, provider), nil
}

// NewMigrator creates a new migrator for the given store
func NewMigrator(store catalog.Store, provider MigrationProvider) *Migrator {
	return &Migrator{
		store:             store,
		migrationProvider: provider,
		logger:            slog.Default(),
	}
}

// WithLogger sets the logger for the migrator
func (m *Migrator) WithLogger(l *slog.Logger) *Migrator {
	tmp := *m
	tmp.logger = l
	return &tmp
}

// Initialize prepares the store's migration history if it needs it
func (m *Migrator) Initialize(ctx context.Context) error {
	if m.initialized {
		return nil
	}

	if s, ok := m.store.(initializer); ok {
		if err := s.Initialize(ctx); err != nil {
			return err
		}
	}

	m.initialized = true
	return nil
}

// GetCurrentVersion returns the highest applied migration version
func (m *Migrator) GetCurrentVersion(ctx context.Context) (int, error) {
	if err := m.Initialize(ctx); err != nil {
		return 0, fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	version, err := m.store.CurrentVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// GetAppliedMigrations returns a list of applied migration versions
func (m *Migrator) GetAppliedMigrations(ctx context.Context) ([]int, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	return m.store.AppliedVersions(ctx)
}

// GetPendingMigrations returns a list of pending migration versions
func (m *Migrator) GetPendingMigrations(ctx context.Context) ([]int, error) {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	migrations := m.migrationProvider.Migrations()

	pending := []int{}
	for _, migration := range migrations {
		if migration.Version > currentVersion {
			pending = append(pending, migration.Version)
		}
	}

	sort.Ints(pending)
	return pending, nil
}

// GetPreviousMigrationVersion finds the previous migration version compared to the current one.
// Returns 0 when the current migration is the first one, and an error with -1 if nothing is applied.
func (m *Migrator) GetPreviousMigrationVersion(ctx context.Context) (int, error) {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return -1, err
	}

	if currentVersion == 0 {
		return -1, fmt.Errorf("no previous migrations exist")
	}

	previousVersion := 0
	for _, migration := range m.migrationProvider.Migrations() {
		if migration.Version >= currentVersion {
			break
		}
		previousVersion = migration.Version
	}

	return previousVersion, nil
}

// GetMigrationStatus returns information about the current migration status
func (m *Migrator) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	pendingMigrations, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending migrations: %w", err)
	}

	return &MigrationStatus{
		CurrentVersion:    currentVersion,
		PendingMigrations: pendingMigrations,
		TotalMigrations:   len(m.MigrationProvider().Migrations()),
		HasPendingChanges: len(pendingMigrations) > 0,
	}, nil
}

// MigrateUp applies every pending migration
func (m *Migrator) MigrateUp(ctx context.Context) error {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return err
	}

	migrations := m.migrationProvider.Migrations()

	m.logger.Info("Migrating up", "currentVersion", currentVersion, "totalMigrations", len(migrations))

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			m.logger.Debug("Skipping migration", "version", migration.Version, "description", migration.Description)
			continue
		}
		if err := m.apply(ctx, migration); err != nil {
			return err
		}
	}

	m.logger.Info("All migrations applied successfully")
	return nil
}

// MigrateDown reverts the most recently applied migration
func (m *Migrator) MigrateDown(ctx context.Context) error {
	targetVersion, err := m.GetPreviousMigrationVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get previous version: %w", err)
	}

	return m.MigrateDownTo(ctx, targetVersion)
}

// MigrateDownTo reverts migrations newer than the target version, newest first
func (m *Migrator) MigrateDownTo(ctx context.Context, targetVersion int) error {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return err
	}

	if targetVersion >= currentVersion {
		m.logger.Info("Already at or below target version", "targetVersion", targetVersion, "currentVersion", currentVersion)
		return nil
	}

	// the provider's slice is sorted ascending and must stay that way
	migrations := append([]*Migration(nil), m.migrationProvider.Migrations()...)

	m.logger.Info("Migrating down", "targetVersion", targetVersion, "currentVersion", currentVersion, "totalMigrations", len(migrations))

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version > migrations[j].Version
	})

	for _, migration := range migrations {
		if migration.Version <= targetVersion || migration.Version > currentVersion {
			continue
		}
		if err := m.revert(ctx, migration); err != nil {
			return err
		}
	}

	m.logger.Info("All migrations rolled back successfully")
	return nil
}

// MigrateTo migrates the catalog to a specific version (up or down)
func (m *Migrator) MigrateTo(ctx context.Context, targetVersion int) error {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return err
	}

	if targetVersion == currentVersion {
		m.logger.Info("Already at target version", "version", targetVersion)
		return nil
	}

	if targetVersion > currentVersion {
		return m.migrateUpTo(ctx, currentVersion, targetVersion)
	}

	return m.MigrateDownTo(ctx, targetVersion)
}

// MigrationProvider returns the migration provider
func (m *Migrator) MigrationProvider() MigrationProvider {
	return m.migrationProvider
}

func (m *Migrator) migrateUpTo(ctx context.Context, currentVersion, targetVersion int) error {
	migrations := m.migrationProvider.Migrations()

	m.logger.Info("Migrating up", "currentVersion", currentVersion, "targetVersion", targetVersion, "totalMigrations", len(migrations))

	for _, migration := range migrations {
		if migration.Version <= currentVersion || migration.Version > targetVersion {
			continue
		}
		if err := m.apply(ctx, migration); err != nil {
			return err
		}
	}

	m.logger.Info("Migrated successfully", "targetVersion", targetVersion)
	return nil
}

func (m *Migrator) apply(ctx context.Context, migration *Migration) error {
	m.logger.Info("Applying migration", "version", migration.Version, "description", migration.Description)

	err := m.inTransaction(ctx, func(app catalog.App, history catalog.History) error {
		if err := migration.Up(ctx, app); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		if err := history.RecordVersion(ctx, migration.Version, migration.Description); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("Applied migration", "version", migration.Version, "description", migration.Description)
	return nil
}

func (m *Migrator) revert(ctx context.Context, migration *Migration) error {
	m.logger.Info("Rolling back migration", "version", migration.Version, "description", migration.Description)

	err := m.inTransaction(ctx, func(app catalog.App, history catalog.History) error {
		if err := migration.Down(ctx, app); err != nil {
			return fmt.Errorf("failed to revert migration %d: %w", migration.Version, err)
		}
		if err := history.RemoveVersion(ctx, migration.Version); err != nil {
			return fmt.Errorf("failed to record migration reversion %d: %w", migration.Version, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("Rolled back migration", "version", migration.Version, "description", migration.Description)
	return nil
}

// inTransaction runs fn in a store transaction when the store supports them
func (m *Migrator) inTransaction(ctx context.Context, fn func(app catalog.App, history catalog.History) error) error {
	tx, ok := m.store.(catalog.Transactor)
	if !ok {
		return fn(m.store, m.store)
	}

	return tx.RunInTransaction(ctx, func(app catalog.App) error {
		history, ok := app.(catalog.History)
		if !ok {
			return fmt.Errorf("transaction handle %T does not keep migration history", app)
		}
		return fn(app, history)
	})
}
