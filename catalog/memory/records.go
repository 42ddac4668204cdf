package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/stokaro/booksync/catalog"
	"github.com/stokaro/booksync/core/schema"
	"github.com/stokaro/booksync/filestore"
)

// SaveRecord validates and stores a record. Uploaded files are written to the
// file store and their names replace r.Files in r.Data.
func (s *Store) SaveRecord(_ context.Context, r *schema.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collectionByIDLocked(r.CollectionID)
	if c == nil {
		return catalog.NotFound(r.CollectionID)
	}

	schema.NormalizeRecord(c, r)
	if err := schema.ValidateRecord(c, r); err != nil {
		return catalog.AsPersistenceFailure(err)
	}

	for _, f := range c.Fields {
		if f.Type != schema.FieldTypeRelation {
			continue
		}
		for _, id := range schema.RelationIDs(r.Data[f.Name]) {
			if s.recordLocked(f.CollectionID, id) == nil {
				return catalog.PersistenceFailure("%s.%s: related record %q not found", c.Name, f.Name, id)
			}
		}
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	if err := s.checkUniqueLocked(c, r); err != nil {
		return err
	}

	data, err := s.storeFilesLocked(c, r)
	if err != nil {
		return err
	}

	stored := &schema.Record{ID: r.ID, CollectionID: c.ID, Data: data}
	rows := s.records[c.ID]
	if i := slices.IndexFunc(rows, func(x *schema.Record) bool { return x.ID == r.ID }); i >= 0 {
		rows[i] = stored
	} else {
		s.records[c.ID] = append(rows, stored)
	}

	r.Data = copyRecord(stored).Data
	r.Files = nil
	return nil
}

// FindRecordById returns a copy of the record with the given id
func (s *Store) FindRecordById(_ context.Context, collectionNameOrID, id string) (*schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.findCollectionLocked(collectionNameOrID)
	if c == nil {
		return nil, catalog.NotFound(collectionNameOrID)
	}
	r := s.recordLocked(c.ID, id)
	if r == nil {
		return nil, catalog.RecordNotFound(c.Name, id)
	}
	return copyRecord(r), nil
}

// RecordsOf returns copies of every record of the collection in insertion order
func (s *Store) RecordsOf(_ context.Context, collectionNameOrID string) ([]*schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.findCollectionLocked(collectionNameOrID)
	if c == nil {
		return nil, catalog.NotFound(collectionNameOrID)
	}

	rows := s.records[c.ID]
	out := make([]*schema.Record, len(rows))
	for i, r := range rows {
		out[i] = copyRecord(r)
	}
	return out, nil
}

// DeleteRecord removes the record, following relation fields that point at it:
// cascading fields delete the referencing record, optional fields drop the
// reference, and required non-cascading fields block the delete.
func (s *Store) DeleteRecord(_ context.Context, r *schema.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	var prefixes []string
	if err := s.deleteRecordLocked(r.CollectionID, r.ID, map[string]bool{}, &prefixes); err != nil {
		s.restoreLocked(snap)
		return err
	}

	for _, prefix := range prefixes {
		if err := s.deleteFilesLocked(prefix); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteRecordLocked(collectionID, id string, visited map[string]bool, prefixes *[]string) error {
	key := collectionID + "/" + id
	if visited[key] {
		return nil
	}
	visited[key] = true

	c := s.collectionByIDLocked(collectionID)
	if c == nil {
		return catalog.NotFound(collectionID)
	}
	if s.recordLocked(collectionID, id) == nil {
		return catalog.RecordNotFound(c.Name, id)
	}

	for _, other := range s.collections {
		for _, f := range other.Fields {
			if f.Type != schema.FieldTypeRelation || f.CollectionID != collectionID {
				continue
			}
			for _, ref := range slices.Clone(s.records[other.ID]) {
				ids := schema.RelationIDs(ref.Data[f.Name])
				if !slices.Contains(ids, id) {
					continue
				}

				remaining := slices.DeleteFunc(ids, func(x string) bool { return x == id })
				switch {
				case f.CascadeDelete:
					if err := s.deleteRecordLocked(other.ID, ref.ID, visited, prefixes); err != nil {
						return err
					}
				case f.Required && len(remaining) == 0:
					return catalog.PersistenceFailure("%s %q is still referenced by %s.%s of record %q", c.Name, id, other.Name, f.Name, ref.ID)
				case f.IsMultiple():
					ref.Data[f.Name] = remaining
				default:
					ref.Data[f.Name] = ""
				}
			}
		}
	}

	s.records[collectionID] = slices.DeleteFunc(s.records[collectionID], func(x *schema.Record) bool { return x.ID == id })
	*prefixes = append(*prefixes, collectionID+"/"+id)
	return nil
}

func (s *Store) recordLocked(collectionID, id string) *schema.Record {
	for _, r := range s.records[collectionID] {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *Store) checkUniqueLocked(c *schema.Collection, r *schema.Record) error {
	indexes, err := c.ParsedIndexes()
	if err != nil {
		return catalog.AsPersistenceFailure(err)
	}

	for _, idx := range indexes {
		if !idx.Unique {
			continue
		}
		want := indexKey(idx, r)
		for _, other := range s.records[c.ID] {
			if other.ID == r.ID {
				continue
			}
			if slices.Equal(indexKey(idx, other), want) {
				return catalog.PersistenceFailure("%s: unique index %s violated by (%s)", c.Name, idx.Name, displayKey(idx, r))
			}
		}
	}
	return nil
}

// indexKey returns one JSON encoded value per index column
func indexKey(idx schema.Index, r *schema.Record) []string {
	key := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		var v any = r.ID
		if col != schema.IDColumn {
			v = r.Data[col]
		}
		b, err := json.Marshal(v)
		if err != nil {
			b = []byte(fmt.Sprintf("%#v", v))
		}
		key[i] = string(b)
	}
	return key
}

func displayKey(idx schema.Index, r *schema.Record) string {
	parts := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		if col == schema.IDColumn {
			parts[i] = r.ID
			continue
		}
		parts[i] = fmt.Sprint(r.Data[col])
	}
	return strings.Join(parts, ", ")
}

// storeFilesLocked writes the record uploads and returns the data map to store.
// Uploads are staged first and only moved over their keys once all of them
// were written, so a failed save keeps the files already stored.
func (s *Store) storeFilesLocked(c *schema.Collection, r *schema.Record) (map[string]any, error) {
	data := copyRecord(r).Data

	type staged struct{ tmp, key string }
	var pending []staged
	discard := func() {
		for _, p := range pending {
			_ = s.files.Delete(p.tmp)
		}
	}

	for name, uploads := range r.Files {
		if len(uploads) == 0 {
			continue
		}
		f := c.Fields.GetByName(name)

		var names []string
		if f.IsMultiple() {
			names = schema.FileNames(data[name])
		}

		for _, up := range uploads {
			var src io.Reader = up.Reader
			if src == nil {
				src = bytes.NewReader(nil)
			}
			key := filestore.Key(c.ID, r.ID, up.Name)
			tmp, _, err := s.files.Stage(key, src, f.MaxSize)
			if err != nil {
				discard()
				return nil, catalog.PersistenceFailure("%s.%s: %v", c.Name, name, err)
			}
			pending = append(pending, staged{tmp: tmp, key: key})
			names = append(names, up.Name)
		}

		if f.IsMultiple() {
			data[name] = names
		} else {
			data[name] = names[len(names)-1]
		}
	}

	for i, p := range pending {
		if err := s.files.Commit(p.tmp, p.key); err != nil {
			pending = pending[i+1:]
			discard()
			return nil, catalog.PersistenceFailure("%s: %v", c.Name, err)
		}
	}
	return data, nil
}

func copyRecord(r *schema.Record) *schema.Record {
	cp := &schema.Record{
		ID:           r.ID,
		CollectionID: r.CollectionID,
		Data:         make(map[string]any, len(r.Data)),
	}
	for k, v := range r.Data {
		if ids, ok := v.([]string); ok {
			v = slices.Clone(ids)
		}
		cp.Data[k] = v
	}
	return cp
}
