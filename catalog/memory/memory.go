// Package memory provides an in-process catalog that keeps collection
// definitions, their records and uploaded files in memory.
//
// It enforces the constraints a collection declares: field constraints,
// relation targets, unique indexes, cascade deletes and file size limits.
package memory

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stokaro/booksync/catalog"
	"github.com/stokaro/booksync/core/schema"
	"github.com/stokaro/booksync/filestore"
)

var (
	_ catalog.Store      = (*Store)(nil)
	_ catalog.Transactor = (*Store)(nil)
)

// Store is an in-memory catalog
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	collections []*schema.Collection
	records     map[string][]*schema.Record // collection id -> rows in insertion order
	versions    map[int]string

	files        *filestore.Store
	inTx         bool
	pendingFiles []string // file prefixes to delete on commit

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithFileStore sets the store used for uploaded files
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

// WithClock overrides the time source used for created/updated timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty in-memory catalog
func New(opts ...Option) *Store {
	s := &Store{
		records:  map[string][]*schema.Record{},
		versions: map[int]string{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.files == nil {
		s.files = filestore.NewMemory()
	}
	return s
}

// Files returns the file store holding uploaded files
func (s *Store) Files() *filestore.Store {
	return s.files
}

// FindCollectionByNameOrId returns a copy of the matching collection
func (s *Store) FindCollectionByNameOrId(_ context.Context, nameOrID string) (*schema.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.findCollectionLocked(nameOrID)
	if c == nil {
		return nil, catalog.NotFound(nameOrID)
	}
	return c.Clone(), nil
}

// Collections returns copies of all collections in creation order
func (s *Store) Collections(_ context.Context) []*schema.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*schema.Collection, len(s.collections))
	for i, c := range s.collections {
		out[i] = c.Clone()
	}
	return out
}

// Save persists the collection, assigning an id and timestamps to c
func (s *Store) Save(_ context.Context, c *schema.Collection) error {
	if err := c.Validate(); err != nil {
		return catalog.AsPersistenceFailure(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range c.Fields {
		if f.Type != schema.FieldTypeRelation {
			continue
		}
		// a collection may relate to itself
		if f.CollectionID == c.ID && c.ID != "" {
			continue
		}
		if s.collectionByIDLocked(f.CollectionID) == nil {
			return catalog.PersistenceFailure("collection %q: field %q references unknown collection %q", c.Name, f.Name, f.CollectionID)
		}
	}

	for _, other := range s.collections {
		if other.ID != c.ID && catalog.SameName(other.Name, c.Name) {
			return catalog.PersistenceFailure("collection name %q already exists", c.Name)
		}
	}

	now := s.now().UTC()
	existing := s.collectionByIDLocked(c.ID)
	if existing == nil {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.Created = now
		c.Updated = now
		s.collections = append(s.collections, c.Clone())
		s.logger.Debug("Created collection", "id", c.ID, "name", c.Name)
		return nil
	}

	c.Created = existing.Created
	c.Updated = now
	i := slices.Index(s.collections, existing)
	s.collections[i] = c.Clone()
	s.logger.Debug("Updated collection", "id", c.ID, "name", c.Name)
	return nil
}

// Delete removes the collection, its records and its files
func (s *Store) Delete(_ context.Context, c *schema.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.collectionByIDLocked(c.ID)
	if existing == nil && c.ID == "" {
		existing = s.findCollectionLocked(c.Name)
	}
	if existing == nil {
		return catalog.NotFound(c.Name)
	}

	for _, other := range s.collections {
		if other.ID == existing.ID {
			continue
		}
		for _, f := range other.Fields {
			if f.Type == schema.FieldTypeRelation && f.CollectionID == existing.ID {
				return catalog.PersistenceFailure("collection %q is still referenced by %s.%s", existing.Name, other.Name, f.Name)
			}
		}
	}

	rows := len(s.records[existing.ID])
	s.collections = slices.DeleteFunc(s.collections, func(x *schema.Collection) bool { return x == existing })
	delete(s.records, existing.ID)
	if err := s.deleteFilesLocked(existing.ID); err != nil {
		return err
	}

	s.logger.Debug("Deleted collection", "id", existing.ID, "name", existing.Name, "records", rows)
	return nil
}

// RunInTransaction runs fn against the store and restores the previous state
// when fn fails. Transactions are serialized with each other; file deletions
// are applied only once fn succeeds. Calling RunInTransaction on the handle
// passed to fn joins the running transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx catalog.App) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.snapshotLocked()
	s.inTx = true
	s.mu.Unlock()

	err := fn(txStore{s})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inTx = false
	pending := s.pendingFiles
	s.pendingFiles = nil

	if err != nil {
		s.restoreLocked(snap)
		return err
	}

	for _, prefix := range pending {
		if err := s.files.DeletePrefix(prefix); err != nil {
			s.logger.Warn("Failed to delete files", "prefix", prefix, "error", err)
		}
	}
	return nil
}

// txStore is the handle passed to transaction functions
type txStore struct {
	*Store
}

// RunInTransaction runs fn within the transaction already in progress
func (t txStore) RunInTransaction(_ context.Context, fn func(tx catalog.App) error) error {
	return fn(t)
}

// CurrentVersion returns the highest applied migration version, or 0
func (s *Store) CurrentVersion(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current := 0
	for v := range s.versions {
		current = max(current, v)
	}
	return current, nil
}

// AppliedVersions returns the applied migration versions in ascending order
func (s *Store) AppliedVersions(_ context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.versions)), nil
}

// RecordVersion marks a migration version as applied
func (s *Store) RecordVersion(_ context.Context, version int, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.versions[version]; ok {
		return catalog.PersistenceFailure("migration %d already recorded", version)
	}
	s.versions[version] = description
	return nil
}

// RemoveVersion marks a migration version as not applied
func (s *Store) RemoveVersion(_ context.Context, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.versions, version)
	return nil
}

func (s *Store) findCollectionLocked(nameOrID string) *schema.Collection {
	if c := s.collectionByIDLocked(nameOrID); c != nil {
		return c
	}
	for _, c := range s.collections {
		if catalog.SameName(c.Name, nameOrID) {
			return c
		}
	}
	return nil
}

func (s *Store) collectionByIDLocked(id string) *schema.Collection {
	if id == "" {
		return nil
	}
	for _, c := range s.collections {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Store) deleteFilesLocked(prefix string) error {
	if s.inTx {
		s.pendingFiles = append(s.pendingFiles, prefix)
		return nil
	}
	return s.files.DeletePrefix(prefix)
}

type snapshot struct {
	collections []*schema.Collection
	records     map[string][]*schema.Record
	versions    map[int]string
}

func (s *Store) snapshotLocked() snapshot {
	snap := snapshot{
		collections: make([]*schema.Collection, len(s.collections)),
		records:     make(map[string][]*schema.Record, len(s.records)),
		versions:    maps.Clone(s.versions),
	}
	for i, c := range s.collections {
		snap.collections[i] = c.Clone()
	}
	for id, rows := range s.records {
		cp := make([]*schema.Record, len(rows))
		for i, r := range rows {
			cp[i] = copyRecord(r)
		}
		snap.records[id] = cp
	}
	return snap
}

func (s *Store) restoreLocked(snap snapshot) {
	s.collections = snap.collections
	s.records = snap.records
	s.versions = snap.versions
}
