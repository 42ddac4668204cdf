// Package migrations holds the schema migrations of the booksync catalog.
//
// Each migration registers itself from an init function; the migration
// runner reads them through Provider.
package migrations

import (
	"github.com/stokaro/booksync/migration/migrator"
)

var provider = migrator.NewRegisteredMigrationProvider()

// Provider returns the provider holding every registered migration
func Provider() *migrator.RegisteredMigrationProvider {
	return provider
}

func register(version int, description string, up, down migrator.MigrationFunc) {
	provider.Register(&migrator.Migration{
		Version:     version,
		Description: description,
		Up:          up,
		Down:        down,
	})
}
