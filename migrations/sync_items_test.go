package migrations_test

import (
	"context"
	"io"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/booksync/catalog"
	"github.com/stokaro/booksync/catalog/memory"
	"github.com/stokaro/booksync/core/schema"
	"github.com/stokaro/booksync/filestore"
	"github.com/stokaro/booksync/migrations"
)

type fixture struct {
	store *memory.Store
	users *schema.Collection
	alice *schema.Record
}

func setup(c *qt.C) *fixture {
	ctx := context.Background()
	fx := &fixture{store: memory.New()}

	var err error
	fx.users, err = catalog.EnsureAuthCollection(ctx, fx.store, migrations.UsersCollection)
	c.Assert(err, qt.IsNil)

	fx.alice = schema.NewRecord(fx.users)
	fx.alice.Set("email", "alice@example.com")
	c.Assert(fx.store.SaveRecord(ctx, fx.alice), qt.IsNil)

	return fx
}

func (fx *fixture) syncItems(c *qt.C) *schema.Collection {
	col, err := fx.store.FindCollectionByNameOrId(context.Background(), migrations.SyncItemsCollection)
	c.Assert(err, qt.IsNil)
	return col
}

func (fx *fixture) item(c *qt.C, bookID string) *schema.Record {
	r := schema.NewRecord(fx.syncItems(c))
	r.Set("user", fx.alice.ID)
	r.Set("book_id", bookID)
	return r
}

// zeros yields an endless stream of zero bytes
type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestSyncItemsUp_CreatesDeclaredSchema(t *testing.T) {
	c := qt.New(t)
	fx := setup(c)

	c.Assert(migrations.SyncItemsUp(context.Background(), fx.store), qt.IsNil)

	got := fx.syncItems(c)
	c.Assert(got.Type, qt.Equals, schema.CollectionTypeBase)
	c.Assert(*got.ListRule, qt.Equals, "@request.auth.id = user")
	c.Assert(*got.ViewRule, qt.Equals, "@request.auth.id = user")
	c.Assert(*got.CreateRule, qt.Equals, "@request.auth.id != ''")
	c.Assert(*got.UpdateRule, qt.Equals, "@request.auth.id = user")
	c.Assert(*got.DeleteRule, qt.Equals, "@request.auth.id = user")
	c.Assert(got.Indexes, qt.DeepEquals, []string{
		"CREATE UNIQUE INDEX idx_sync_items_user_book ON sync_items (user, book_id)",
	})

	c.Assert(got.Fields.Names(), qt.DeepEquals, []string{"user", "book_id", "encrypted_data", "checksum"})

	user := got.Fields.GetByName("user")
	c.Assert(user.Type, qt.Equals, schema.FieldTypeRelation)
	c.Assert(user.Required, qt.IsTrue)
	c.Assert(user.MaxSelect, qt.Equals, 1)
	c.Assert(user.CollectionID, qt.Equals, fx.users.ID)
	c.Assert(user.CascadeDelete, qt.IsTrue)

	bookID := got.Fields.GetByName("book_id")
	c.Assert(bookID.Type, qt.Equals, schema.FieldTypeText)
	c.Assert(bookID.Required, qt.IsTrue)

	data := got.Fields.GetByName("encrypted_data")
	c.Assert(data.Type, qt.Equals, schema.FieldTypeFile)
	c.Assert(data.Required, qt.IsFalse)
	c.Assert(data.MaxSize, qt.Equals, int64(52428800))
	c.Assert(data.MaxSelect, qt.Equals, 1)

	checksum := got.Fields.GetByName("checksum")
	c.Assert(checksum.Type, qt.Equals, schema.FieldTypeText)
	c.Assert(checksum.Required, qt.IsFalse)

	c.Assert(schema.Equal(got, migrations.SyncItems(fx.users.ID)), qt.IsTrue)
}

func TestSyncItemsUp_MissingUsers(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := memory.New()

	notes := schema.NewBaseCollection("notes")
	c.Assert(store.Save(ctx, notes), qt.IsNil)
	before := store.Collections(ctx)

	err := migrations.SyncItemsUp(ctx, store)
	c.Assert(err, qt.ErrorIs, catalog.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `collection "users": not found`)

	after := store.Collections(ctx)
	c.Assert(after, qt.HasLen, len(before))
	c.Assert(schema.Equal(after[0], before[0]), qt.IsTrue)
}

func TestSyncItemsUp_NoReapplyGuard(t *testing.T) {
	c := qt.New(t)
	fx := setup(c)
	ctx := context.Background()

	c.Assert(migrations.SyncItemsUp(ctx, fx.store), qt.IsNil)

	err := migrations.SyncItemsUp(ctx, fx.store)
	c.Assert(catalog.IsPersistenceFailure(err), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, `collection name "sync_items" already exists: persistence failure`)
}

func TestSyncItemsDown_RemovesCollectionRowsAndFiles(t *testing.T) {
	c := qt.New(t)
	fx := setup(c)
	ctx := context.Background()

	c.Assert(migrations.SyncItemsUp(ctx, fx.store), qt.IsNil)
	syncItems := fx.syncItems(c)

	item := fx.item(c, "book-1")
	item.Attach("encrypted_data", &schema.File{Name: "blob.bin", Size: 4, Reader: strings.NewReader("\x00\x01\x02\x03")})
	c.Assert(fx.store.SaveRecord(ctx, item), qt.IsNil)

	key := filestore.Key(syncItems.ID, item.ID, "blob.bin")
	exists, err := fx.store.Files().Exists(key)
	c.Assert(err, qt.IsNil)
	c.Assert(exists, qt.IsTrue)

	c.Assert(migrations.SyncItemsDown(ctx, fx.store), qt.IsNil)

	_, err = fx.store.FindCollectionByNameOrId(ctx, migrations.SyncItemsCollection)
	c.Assert(catalog.IsNotFound(err), qt.IsTrue)
	_, err = fx.store.RecordsOf(ctx, syncItems.ID)
	c.Assert(catalog.IsNotFound(err), qt.IsTrue)

	exists, err = fx.store.Files().Exists(key)
	c.Assert(err, qt.IsNil)
	c.Assert(exists, qt.IsFalse)

	// users are untouched
	_, err = fx.store.FindRecordById(ctx, migrations.UsersCollection, fx.alice.ID)
	c.Assert(err, qt.IsNil)

	err = migrations.SyncItemsDown(ctx, fx.store)
	c.Assert(err, qt.ErrorIs, catalog.ErrNotFound)
	c.Assert(err, qt.ErrorMatches, `collection "sync_items": not found`)
}

func TestSyncItems_UniqueUserBook(t *testing.T) {
	c := qt.New(t)
	fx := setup(c)
	ctx := context.Background()

	c.Assert(migrations.SyncItemsUp(ctx, fx.store), qt.IsNil)

	c.Assert(fx.store.SaveRecord(ctx, fx.item(c, "book-1")), qt.IsNil)
	c.Assert(fx.store.SaveRecord(ctx, fx.item(c, "book-2")), qt.IsNil)

	err := fx.store.SaveRecord(ctx, fx.item(c, "book-1"))
	c.Assert(catalog.IsPersistenceFailure(err), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, `sync_items: unique index idx_sync_items_user_book violated by .*`)

	// the same book for another user is fine
	bob := schema.NewRecord(fx.users)
	bob.Set("email", "bob@example.com")
	c.Assert(fx.store.SaveRecord(ctx, bob), qt.IsNil)

	other := fx.item(c, "book-1")
	other.Set("user", bob.ID)
	c.Assert(fx.store.SaveRecord(ctx, other), qt.IsNil)

	rows, err := fx.store.RecordsOf(ctx, migrations.SyncItemsCollection)
	c.Assert(err, qt.IsNil)
	c.Assert(rows, qt.HasLen, 3)
}

func TestSyncItems_UniqueUserBookAcrossRelationForms(t *testing.T) {
	c := qt.New(t)
	fx := setup(c)
	ctx := context.Background()

	c.Assert(migrations.SyncItemsUp(ctx, fx.store), qt.IsNil)
	c.Assert(fx.store.SaveRecord(ctx, fx.item(c, "book-1")), qt.IsNil)

	dup := fx.item(c, "book-1")
	dup.Set("user", []string{fx.alice.ID})
	err := fx.store.SaveRecord(ctx, dup)
	c.Assert(catalog.IsPersistenceFailure(err), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, `sync_items: unique index idx_sync_items_user_book violated by .*`)

	rows, err := fx.store.RecordsOf(ctx, migrations.SyncItemsCollection)
	c.Assert(err, qt.IsNil)
	c.Assert(rows, qt.HasLen, 1)
}

func TestSyncItems_UniqueUserBookDistinctTuples(t *testing.T) {
	c := qt.New(t)
	fx := setup(c)
	ctx := context.Background()

	c.Assert(migrations.SyncItemsUp(ctx, fx.store), qt.IsNil)

	for _, id := range []string{"a, b", "a"} {
		u := schema.NewRecord(fx.users)
		u.ID = id
		u.Set("email", strings.ReplaceAll(id, ", ", "")+"@example.com")
		c.Assert(fx.store.SaveRecord(ctx, u), qt.IsNil)
	}

	first := fx.item(c, "c")
	first.Set("user", "a, b")
	c.Assert(fx.store.SaveRecord(ctx, first), qt.IsNil)

	second := fx.item(c, "b, c")
	second.Set("user", "a")
	c.Assert(fx.store.SaveRecord(ctx, second), qt.IsNil)
}

func TestSyncItems_CascadeOnUserDelete(t *testing.T) {
	c := qt.New(t)
	fx := setup(c)
	ctx := context.Background()

	c.Assert(migrations.SyncItemsUp(ctx, fx.store), qt.IsNil)
	c.Assert(fx.store.SaveRecord(ctx, fx.item(c, "book-1")), qt.IsNil)

	c.Assert(fx.store.DeleteRecord(ctx, fx.alice), qt.IsNil)

	rows, err := fx.store.RecordsOf(ctx, migrations.SyncItemsCollection)
	c.Assert(err, qt.IsNil)
	c.Assert(rows, qt.HasLen, 0)
}

func TestSyncItems_EncryptedDataSizeLimit(t *testing.T) {
	c := qt.New(t)
	fx := setup(c)
	ctx := context.Background()

	c.Assert(migrations.SyncItemsUp(ctx, fx.store), qt.IsNil)

	item := fx.item(c, "book-1")
	item.Attach("encrypted_data", &schema.File{
		Name:   "blob.bin",
		Size:   migrations.MaxEncryptedDataSize + 1,
		Reader: io.LimitReader(zeros{}, migrations.MaxEncryptedDataSize+1),
	})

	err := fx.store.SaveRecord(ctx, item)
	c.Assert(catalog.IsPersistenceFailure(err), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, `sync_items.encrypted_data: file "blob.bin" is 52428801 bytes, max allowed is 52428800`)

	rows, err := fx.store.RecordsOf(ctx, migrations.SyncItemsCollection)
	c.Assert(err, qt.IsNil)
	c.Assert(rows, qt.HasLen, 0)
}

func TestSyncItems_EncryptedDataStreamLongerThanDeclared(t *testing.T) {
	if testing.Short() {
		t.Skip("writes more than 50 MiB")
	}
	c := qt.New(t)
	fx := setup(c)
	ctx := context.Background()

	c.Assert(migrations.SyncItemsUp(ctx, fx.store), qt.IsNil)

	item := fx.item(c, "book-1")
	item.Attach("encrypted_data", &schema.File{
		Name:   "blob.bin",
		Size:   16,
		Reader: io.LimitReader(zeros{}, migrations.MaxEncryptedDataSize+1),
	})

	err := fx.store.SaveRecord(ctx, item)
	c.Assert(catalog.IsPersistenceFailure(err), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, `sync_items.encrypted_data: .*file exceeds the 52428800 bytes limit.*`)

	exists, err := fx.store.Files().Exists(filestore.Key(fx.syncItems(c).ID, item.ID, "blob.bin"))
	c.Assert(err, qt.IsNil)
	c.Assert(exists, qt.IsFalse)
}

func TestSyncItems_FailedReuploadKeepsEncryptedData(t *testing.T) {
	if testing.Short() {
		t.Skip("writes more than 50 MiB")
	}
	c := qt.New(t)
	fx := setup(c)
	ctx := context.Background()

	c.Assert(migrations.SyncItemsUp(ctx, fx.store), qt.IsNil)

	item := fx.item(c, "book-1")
	item.Attach("encrypted_data", &schema.File{Name: "blob.bin", Size: 4, Reader: strings.NewReader("good")})
	c.Assert(fx.store.SaveRecord(ctx, item), qt.IsNil)

	item.Set("encrypted_data", "")
	item.Attach("encrypted_data", &schema.File{
		Name:   "blob.bin",
		Size:   16,
		Reader: io.LimitReader(zeros{}, migrations.MaxEncryptedDataSize+1),
	})
	err := fx.store.SaveRecord(ctx, item)
	c.Assert(err, qt.ErrorMatches, `sync_items.encrypted_data: .*file exceeds the 52428800 bytes limit.*`)

	stored, err := fx.store.FindRecordById(ctx, migrations.SyncItemsCollection, item.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Get("encrypted_data"), qt.Equals, "blob.bin")

	f, err := fx.store.Files().Open(filestore.Key(fx.syncItems(c).ID, item.ID, "blob.bin"))
	c.Assert(err, qt.IsNil)
	defer f.Close()
	data, err := io.ReadAll(f)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, "good")
}

func TestSyncItems_RoundTrip(t *testing.T) {
	c := qt.New(t)
	fx := setup(c)
	ctx := context.Background()

	c.Assert(migrations.SyncItemsUp(ctx, fx.store), qt.IsNil)
	first := fx.syncItems(c)

	c.Assert(migrations.SyncItemsDown(ctx, fx.store), qt.IsNil)
	c.Assert(migrations.SyncItemsUp(ctx, fx.store), qt.IsNil)
	second := fx.syncItems(c)

	c.Assert(schema.Equal(first, second), qt.IsTrue)
	c.Assert(second.Fields.Names(), qt.DeepEquals, first.Fields.Names())
	c.Assert(*second.CreateRule, qt.Equals, *first.CreateRule)
}
