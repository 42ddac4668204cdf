// Package filestore keeps files uploaded to record file fields.
//
// Files are addressed by key: <collectionId>/<recordId>/<filename>.
package filestore

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Store is a key addressed blob store on top of an afero filesystem
type Store struct {
	fs afero.Fs
}

// New returns a store rooted at the given filesystem
func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOS returns a store rooted at dir on the local disk
func NewOS(dir string) *Store {
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// NewMemory returns an in-memory store
func NewMemory() *Store {
	return New(afero.NewMemMapFs())
}

// Key builds the storage key of a record file
func Key(collectionID, recordID, name string) string {
	return path.Join(collectionID, recordID, path.Base(name))
}

// Put writes the content of r under key. At most limit bytes are accepted;
// a longer reader fails the write and leaves any file already stored under key
// untouched. A limit of zero or less disables the check.
func (s *Store) Put(key string, r io.Reader, limit int64) (int64, error) {
	tmp, n, err := s.Stage(key, r, limit)
	if err != nil {
		return 0, err
	}
	if err := s.Commit(tmp, key); err != nil {
		return 0, err
	}
	return n, nil
}

// Stage writes the content of r to a temporary key in the directory of key and
// returns it. The temporary file becomes visible under key with Commit, or is
// dropped with Delete.
func (s *Store) Stage(key string, r io.Reader, limit int64) (string, int64, error) {
	if err := s.fs.MkdirAll(path.Dir(key), 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp := path.Join(path.Dir(key), ".upload-"+uuid.NewString())
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create %s: %w", key, err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	n, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && limit > 0 && n > limit {
		err = fmt.Errorf("file exceeds the %d bytes limit", limit)
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return "", 0, fmt.Errorf("failed to write %s: %w", key, err)
	}

	return tmp, n, nil
}

// Commit moves a staged file over key
func (s *Store) Commit(tmp, key string) error {
	if err := s.fs.Rename(tmp, key); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Open opens the file stored under key
func (s *Store) Open(key string) (afero.File, error) {
	return s.fs.Open(key)
}

// Exists reports whether a file is stored under key
func (s *Store) Exists(key string) (bool, error) {
	return afero.Exists(s.fs, key)
}

// Delete removes a single file. Missing files are not an error.
func (s *Store) Delete(key string) error {
	if err := s.fs.Remove(key); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every file under prefix, e.g. a whole record or collection
func (s *Store) DeletePrefix(prefix string) error {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Errorf("refusing to delete the storage root")
	}
	if err := s.fs.RemoveAll(prefix); err != nil {
		return fmt.Errorf("failed to delete %s: %w", prefix, err)
	}
	return nil
}
