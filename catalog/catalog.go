// Package catalog defines the application handle migrations run against: a
// schema catalog that can look up, persist and delete collection definitions.
//
// Implementations live in the memory and sqlstore subpackages.
package catalog

import (
	"context"

	"golang.org/x/text/cases"

	"github.com/stokaro/booksync/core/schema"
)

// App is the schema catalog handle passed to migration functions
type App interface {
	// FindCollectionByNameOrId returns the collection with the given id, or
	// failing that the one whose name matches case-insensitively.
	// Returns an ErrNotFound error when neither exists.
	FindCollectionByNameOrId(ctx context.Context, nameOrID string) (*schema.Collection, error)

	// Save validates and persists the collection. A new collection (empty ID)
	// is assigned an id; ErrPersistence is returned on a name collision or
	// an unknown relation target.
	Save(ctx context.Context, c *schema.Collection) error

	// Delete removes the collection together with its rows and stored files.
	Delete(ctx context.Context, c *schema.Collection) error
}

// History records which migration versions have been applied
type History interface {
	CurrentVersion(ctx context.Context) (int, error)
	AppliedVersions(ctx context.Context) ([]int, error)
	RecordVersion(ctx context.Context, version int, description string) error
	RemoveVersion(ctx context.Context, version int) error
}

// Transactor runs fn atomically: if fn returns an error every change made
// through the App passed to fn is discarded.
type Transactor interface {
	RunInTransaction(ctx context.Context, fn func(tx App) error) error
}

// Store is a catalog that also keeps migration history
type Store interface {
	App
	History
}

// FoldName returns the case-folded form of a collection name used for lookups
func FoldName(name string) string {
	// a Caser keeps state and must not be shared between goroutines
	return cases.Fold().String(name)
}

// SameName reports whether two collection names match case-insensitively
func SameName(a, b string) bool {
	return FoldName(a) == FoldName(b)
}

// EnsureAuthCollection returns the named collection, creating a minimal auth
// collection when it does not exist yet.
func EnsureAuthCollection(ctx context.Context, app App, name string) (*schema.Collection, error) {
	existing, err := app.FindCollectionByNameOrId(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	c := schema.NewAuthCollection(name)
	if err := app.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
