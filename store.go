package docschema

import (
	"context"
)

// DocumentStore is the document I/O surface the engine consumes. Documents
// cross this boundary as raw BSON.
type DocumentStore interface {
	// Find streams the documents of a collection matching filter. A
	// collection which does not exist yields an empty cursor.
	Find(ctx context.Context, collection string, filter Filter) (Cursor, error)
	// FindByID returns the raw document with the given identity, or
	// ErrDocumentNotFound.
	FindByID(ctx context.Context, collection string, id interface{}) ([]byte, error)
	// ReplaceByID replaces the whole document with the given identity.
	// When upsert is false and the document does not exist it returns
	// ErrDocumentNotFound.
	ReplaceByID(ctx context.Context, collection string, id interface{}, raw []byte, upsert bool) error
	// CreateIndex creates an index on a collection.
	CreateIndex(ctx context.Context, collection string, spec IndexSpec) error
	// DropIndex removes a named index from a collection.
	DropIndex(ctx context.Context, collection, name string) error
}

// Cursor is a forward-only stream of raw documents.
//
//	for cur.Next(ctx) {
//	    raw := cur.Current()
//	}
//	if err := cur.Err(); err != nil {
//	    ...
//	}
type Cursor interface {
	Next(ctx context.Context) bool
	// Current returns the raw document the cursor is positioned on. It is
	// only valid until the next call to Next.
	Current() []byte
	Err() error
	Close(ctx context.Context) error
}

// IndexKey is one field of an index definition.
type IndexKey struct {
	Field      string
	Descending bool
}

// IndexSpec describes an index on a collection.
type IndexSpec struct {
	Name   string
	Keys   []IndexKey
	Unique bool
}

// Validate returns an error if the spec cannot be created.
func (s IndexSpec) Validate() error {
	if s.Name == "" {
		return &InvalidArgumentError{Argument: "index name", Reason: "must not be empty"}
	}
	if len(s.Keys) == 0 {
		return &InvalidArgumentError{Argument: "index keys", Reason: "at least one key is required"}
	}
	for _, k := range s.Keys {
		if k.Field == "" {
			return &InvalidArgumentError{Argument: "index key", Reason: "field must not be empty"}
		}
	}
	return nil
}
