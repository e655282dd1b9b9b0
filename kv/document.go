package kv

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docschema/docschema"
	"github.com/docschema/docschema/kit/platform/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// CollectionBucketPrefix prefixes the bucket holding each collection.
var CollectionBucketPrefix = []byte("docs/")

// DefaultFindBatchSize is the number of keys a cursor scans per read
// transaction.
const DefaultFindBatchSize = 100

var _ docschema.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements docschema.DocumentStore on top of a kv.Store.
// Every collection is a bucket of raw BSON documents keyed by their
// encoded identity.
type DocumentStore struct {
	kv        Store
	log       *zap.Logger
	batchSize int
}

// DocumentStoreOption configures a DocumentStore.
type DocumentStoreOption func(*DocumentStore)

// WithFindBatchSize sets how many keys a Find cursor reads per transaction.
func WithFindBatchSize(n int) DocumentStoreOption {
	return func(s *DocumentStore) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewDocumentStore returns a document store over kv.
func NewDocumentStore(log *zap.Logger, kv Store, opts ...DocumentStoreOption) *DocumentStore {
	if log == nil {
		log = zap.NewNop()
	}
	s := &DocumentStore{
		kv:        kv,
		log:       log,
		batchSize: DefaultFindBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func collectionBucket(collection string) []byte {
	return append(append([]byte(nil), CollectionBucketPrefix...), collection...)
}

// EncodeID returns the key a document identity is stored under: the BSON
// type byte followed by the BSON encoding of the value.
func EncodeID(id interface{}) ([]byte, error) {
	t, data, err := bson.MarshalValue(id)
	if err != nil {
		return nil, &errors.Error{
			Code: errors.EInvalid,
			Msg:  fmt.Sprintf("unable to encode document id %v", id),
			Err:  err,
		}
	}
	return append([]byte{byte(t)}, data...), nil
}

// Find returns a cursor over the documents of collection matching filter.
// The cursor reads the bucket in batches, each in its own read transaction,
// so callers may write to the store while iterating.
func (s *DocumentStore) Find(ctx context.Context, collection string, filter docschema.Filter) (docschema.Cursor, error) {
	if filter == nil {
		filter = docschema.All()
	}
	return &documentCursor{
		store:  s,
		bucket: collectionBucket(collection),
		filter: filter,
	}, nil
}

// FindByID returns the raw document stored under id.
func (s *DocumentStore) FindByID(ctx context.Context, collection string, id interface{}) ([]byte, error) {
	key, err := EncodeID(id)
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = s.kv.View(ctx, func(tx Tx) error {
		b, err := tx.Bucket(collectionBucket(collection))
		if err != nil {
			return err
		}
		v, err := b.Get(key)
		if err != nil {
			return err
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if IsNotFound(err) {
		return nil, docschema.ErrDocumentNotFound
	}
	if err != nil {
		return nil, &errors.Error{Op: "kv.FindByID", Code: errors.EInternal, Err: err}
	}
	return raw, nil
}

// ReplaceByID replaces the document stored under id with raw. A raw document
// without an _id field receives id; one with a different _id is rejected.
func (s *DocumentStore) ReplaceByID(ctx context.Context, collection string, id interface{}, raw []byte, upsert bool) error {
	key, err := EncodeID(id)
	if err != nil {
		return err
	}

	doc, err := docschema.DecodeDocument(raw)
	if err != nil {
		return &errors.Error{Op: "kv.ReplaceByID", Code: errors.EInvalid, Msg: "invalid document", Err: err}
	}
	if existing, ok := doc.ID(); !ok {
		withID := docschema.NewDocument(bson.E{Key: docschema.IDField, Value: id})
		for _, e := range doc.Elements() {
			withID.Set(e.Key, e.Value)
		}
		doc = withID
		if raw, err = bson.Marshal(doc); err != nil {
			return err
		}
	} else if existingKey, err := EncodeID(existing); err != nil || !bytes.Equal(existingKey, key) {
		return &docschema.InvalidArgumentError{
			Argument: "document",
			Reason:   fmt.Sprintf("_id %v does not match replaced id %v", existing, id),
		}
	}

	return s.kv.Update(ctx, func(tx Tx) error {
		b, err := tx.Bucket(collectionBucket(collection))
		if err != nil {
			return err
		}

		old, err := b.Get(key)
		if IsNotFound(err) {
			if !upsert {
				return docschema.ErrDocumentNotFound
			}
			old = nil
		} else if err != nil {
			return err
		}

		if err := s.updateIndexes(tx, collection, key, old, doc); err != nil {
			return err
		}

		return b.Put(key, raw)
	})
}

type documentCursor struct {
	store  *DocumentStore
	bucket []byte
	filter docschema.Filter

	batch     [][]byte
	pos       int
	lastKey   []byte
	exhausted bool

	current []byte
	err     error
	closed  bool
}

func (c *documentCursor) Next(ctx context.Context) bool {
	for !c.closed {
		if c.pos < len(c.batch) {
			c.current = c.batch[c.pos]
			c.pos++
			return true
		}
		if c.exhausted || c.err != nil {
			return false
		}
		if err := c.fill(ctx); err != nil {
			c.err = err
			return false
		}
	}
	return false
}

// fill reads the next batch of matching documents after lastKey.
func (c *documentCursor) fill(ctx context.Context) error {
	c.batch = c.batch[:0]
	c.pos = 0

	return c.store.kv.View(ctx, func(tx Tx) error {
		b, err := tx.Bucket(c.bucket)
		if IsNotFound(err) {
			c.exhausted = true
			return nil
		}
		if err != nil {
			return err
		}

		cur, err := b.ForwardCursor(c.lastKey)
		if err != nil {
			return err
		}

		scanned := 0
		err = WalkCursor(ctx, cur, func(k, v []byte) (bool, error) {
			if c.lastKey != nil && bytes.Equal(k, c.lastKey) {
				return true, nil
			}
			c.lastKey = append([]byte(nil), k...)
			scanned++

			doc, err := docschema.DecodeDocument(v)
			if err != nil {
				return false, fmt.Errorf("decoding document %x: %w", k, err)
			}
			if c.filter.Match(doc) {
				c.batch = append(c.batch, append([]byte(nil), v...))
			}
			return scanned < c.store.batchSize, nil
		})
		if err != nil {
			return err
		}
		if scanned < c.store.batchSize {
			c.exhausted = true
		}
		return nil
	})
}

func (c *documentCursor) Current() []byte { return c.current }

func (c *documentCursor) Err() error { return c.err }

func (c *documentCursor) Close(ctx context.Context) error {
	c.closed = true
	c.batch = nil
	return nil
}
