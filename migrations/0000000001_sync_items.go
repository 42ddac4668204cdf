package migrations

import (
	"context"

	"github.com/stokaro/booksync/catalog"
	"github.com/stokaro/booksync/core/schema"
)

const (
	// UsersCollection is the auth collection sync items belong to
	UsersCollection = "users"
	// SyncItemsCollection holds one encrypted blob per user and book
	SyncItemsCollection = "sync_items"

	// MaxEncryptedDataSize is the largest accepted encrypted_data upload (50 MiB)
	MaxEncryptedDataSize = 52428800

	OwnerRule         = "@request.auth.id = user"
	AuthenticatedRule = "@request.auth.id != ''"

	SyncItemsUserBookIndex = "CREATE UNIQUE INDEX idx_sync_items_user_book ON sync_items (user, book_id)"
)

func init() {
	register(1, SyncItemsCollection, SyncItemsUp, SyncItemsDown)
}

// SyncItems returns the sync_items collection definition relating to the
// users collection with the given id
func SyncItems(usersID string) *schema.Collection {
	c := schema.NewBaseCollection(SyncItemsCollection)

	c.ListRule = schema.Rule(OwnerRule)
	c.ViewRule = schema.Rule(OwnerRule)
	c.CreateRule = schema.Rule(AuthenticatedRule)
	c.UpdateRule = schema.Rule(OwnerRule)
	c.DeleteRule = schema.Rule(OwnerRule)

	c.Fields.Add(
		&schema.Field{
			Name:          "user",
			Type:          schema.FieldTypeRelation,
			Required:      true,
			MaxSelect:     1,
			CollectionID:  usersID,
			CascadeDelete: true,
		},
		&schema.Field{
			Name:     "book_id",
			Type:     schema.FieldTypeText,
			Required: true,
		},
		&schema.Field{
			Name:      "encrypted_data",
			Type:      schema.FieldTypeFile,
			MaxSize:   MaxEncryptedDataSize,
			MaxSelect: 1,
		},
		&schema.Field{
			Name: "checksum",
			Type: schema.FieldTypeText,
		},
	)

	c.Indexes = []string{SyncItemsUserBookIndex}
	return c
}

// SyncItemsUp creates the sync_items collection. It fails when the users
// collection does not exist or sync_items already does.
func SyncItemsUp(ctx context.Context, app catalog.App) error {
	users, err := app.FindCollectionByNameOrId(ctx, UsersCollection)
	if err != nil {
		return err
	}

	return app.Save(ctx, SyncItems(users.ID))
}

// SyncItemsDown deletes the sync_items collection with its records and files
func SyncItemsDown(ctx context.Context, app catalog.App) error {
	c, err := app.FindCollectionByNameOrId(ctx, SyncItemsCollection)
	if err != nil {
		return err
	}

	return app.Delete(ctx, c)
}
