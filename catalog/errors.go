package catalog

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound marks lookups of a collection (or record) that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPersistence marks writes the catalog refused: name collisions,
	// dangling relation targets and constraint violations.
	ErrPersistence = errors.New("persistence failure")
)

// NotFound returns a lookup failure for the given collection name or id
func NotFound(nameOrID string) error {
	return errors.Wrapf(ErrNotFound, "collection %q", nameOrID)
}

// RecordNotFound returns a lookup failure for a record
func RecordNotFound(collection, id string) error {
	return errors.Wrapf(ErrNotFound, "record %q in %q", id, collection)
}

// PersistenceFailure returns a persistence failure with the given message
func PersistenceFailure(format string, args ...any) error {
	return errors.Wrapf(ErrPersistence, format, args...)
}

// AsPersistenceFailure marks err as a persistence failure, keeping its message
func AsPersistenceFailure(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrPersistence)
}

// IsNotFound reports whether err is a lookup failure
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPersistenceFailure reports whether err is a persistence failure
func IsPersistenceFailure(err error) bool {
	return errors.Is(err, ErrPersistence)
}
