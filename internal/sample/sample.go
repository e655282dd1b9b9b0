// Package sample holds the migrations of the demo user store shared by the
// docschema binaries.
package sample

import (
	"context"
	"fmt"

	"github.com/docschema/docschema"
	"github.com/docschema/docschema/collection"
	"github.com/docschema/docschema/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserType is the document type of User.
const UserType docschema.DocumentType = "user"

// UsersCollection stores User documents.
const UsersCollection = "Users"

// FirstNameIndex is the unique index added by the first database migration.
const FirstNameIndex = "Users_FirstName"

// LegacyUserID identifies the pre-migration user written by the sample.
var LegacyUserID = uuid.MustParse("3bde2e44-4d7a-4432-bf2b-3993ee2c389b")

// User is the application view of a stored user.
type User struct {
	ID        string `bson:"_id"`
	FirstName string `bson:"FirstName"`
	LastName  string `bson:"LastName"`
	FullName  string `bson:"FullName"`
}

// UpdateFullName fills FullName from the first and last name of users
// stored before the field existed.
func UpdateFullName(doc *docschema.Document) error {
	if full, _ := doc.LookupString("FullName"); full != "" {
		return nil
	}
	first, _ := doc.LookupString("FirstName")
	last, _ := doc.LookupString("LastName")
	doc.Set("FullName", first+" "+last)
	return nil
}

// RemoveFullName reverts UpdateFullName.
func RemoveFullName(doc *docschema.Document) error {
	doc.Delete("FullName")
	return nil
}

// AddFirstNameIndex creates the unique first name index on the users
// collection.
func AddFirstNameIndex(ctx context.Context, store docschema.DocumentStore) error {
	logger.FromContext(ctx).Debug("Creating index", zap.String("index", FirstNameIndex))
	return store.CreateIndex(ctx, UsersCollection, docschema.IndexSpec{
		Name:   FirstNameIndex,
		Keys:   []docschema.IndexKey{{Field: "FirstName"}},
		Unique: true,
	})
}

// DropFirstNameIndex reverts AddFirstNameIndex.
func DropFirstNameIndex(ctx context.Context, store docschema.DocumentStore) error {
	logger.FromContext(ctx).Debug("Dropping index", zap.String("index", FirstNameIndex))
	return store.DropIndex(ctx, UsersCollection, FirstNameIndex)
}

// Registry returns the migrations of the sample.
func Registry() docschema.Registry {
	return docschema.Registry{
		Database: []docschema.DatabaseMigration{
			docschema.NewDatabaseMigration(1, AddFirstNameIndex, DropFirstNameIndex),
		},
		Documents: []docschema.DocumentMigration{
			docschema.NewDocumentMigration(UserType, 1, docschema.AtStart, UpdateFullName, RemoveFullName),
		},
	}
}

// Resolver returns the collection mappings of the sample.
func Resolver() *collection.Resolver {
	return collection.NewResolver().MustRegister(UserType, UsersCollection)
}

// SaveLegacyUser writes a user as it was stored before version 1.
func SaveLegacyUser(ctx context.Context, store docschema.DocumentStore) error {
	doc := docschema.NewDocument()
	doc.Set(docschema.IDField, LegacyUserID.String())
	doc.Set("FirstName", "Bob")
	doc.Set("LastName", "Smith")

	raw, err := doc.MarshalBSON()
	if err != nil {
		return err
	}
	if err := store.ReplaceByID(ctx, UsersCollection, LegacyUserID.String(), raw, true); err != nil {
		return fmt.Errorf("saving legacy user: %w", err)
	}
	return nil
}
