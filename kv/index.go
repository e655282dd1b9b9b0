package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/docschema/docschema"
	"github.com/docschema/docschema/kit/platform/errors"
	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

var indexMetaBucket = []byte("indexes/meta")

// ErrIndexNotFound is returned when dropping an index which does not exist.
var ErrIndexNotFound = &errors.Error{
	Code: errors.ENotFound,
	Msg:  "index not found",
}

// UniqueIndexError is returned when a write would store two documents under
// the same key of a unique index.
func UniqueIndexError(collection, index string) *errors.Error {
	return &errors.Error{
		Code: errors.EConflict,
		Msg:  fmt.Sprintf("duplicate key in unique index %s on collection %s", index, collection),
		Op:   "kv/index",
	}
}

// UnexpectedIndexError is used when the error comes from an internal system.
func UnexpectedIndexError(err error) *errors.Error {
	return &errors.Error{
		Code: errors.EInternal,
		Msg:  fmt.Sprintf("unexpected error maintaining index; Err: %v", err),
		Op:   "kv/index",
	}
}

func indexMetaKey(collection, name string) []byte {
	return []byte(collection + "\x00" + name)
}

func indexBucket(collection, name string) []byte {
	return []byte("indexes/" + collection + "\x00" + name)
}

// indexKey joins the encoded field values of a document with its primary
// key. The foreign key is hex encoded so it never contains the separator.
func indexKey(foreignKey, primaryKey []byte) []byte {
	newKey := make([]byte, len(primaryKey)+len(foreignKey)+1)
	copy(newKey, foreignKey)
	newKey[len(foreignKey)] = '/'
	copy(newKey[len(foreignKey)+1:], primaryKey)
	return newKey
}

// foreignKey encodes the values doc holds for the fields of spec. Missing
// fields index as null and numbers are compared by value.
func foreignKey(spec docschema.IndexSpec, doc *docschema.Document) ([]byte, error) {
	var buf []byte
	for _, k := range spec.Keys {
		v, _ := doc.Lookup(k.Field)
		switch n := v.(type) {
		case int32:
			v = float64(n)
		case int64:
			v = float64(n)
		case int:
			v = float64(n)
		}

		t, data, err := bson.MarshalValue(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, byte(t))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}
	return []byte(hex.EncodeToString(buf)), nil
}

func (s *DocumentStore) indexes(tx Tx, collection string) ([]docschema.IndexSpec, error) {
	b, err := tx.Bucket(indexMetaBucket)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	prefix := indexMetaKey(collection, "")
	cur, err := b.ForwardCursor(prefix, WithCursorPrefix(prefix))
	if err != nil {
		return nil, err
	}

	var specs []docschema.IndexSpec
	err = WalkCursor(tx.Context(), cur, func(k, v []byte) (bool, error) {
		var spec docschema.IndexSpec
		if err := bson.Unmarshal(v, &spec); err != nil {
			return false, err
		}
		specs = append(specs, spec)
		return true, nil
	})
	return specs, err
}

type indexChange struct {
	bucket []byte
	remove []byte
	insert []byte
}

// updateIndexes moves the entries of primaryKey from the old document to doc
// in every index of collection. All unique constraints are checked before
// anything is written.
func (s *DocumentStore) updateIndexes(tx Tx, collection string, primaryKey, old []byte, doc *docschema.Document) error {
	specs, err := s.indexes(tx, collection)
	if err != nil {
		return UnexpectedIndexError(err)
	}
	if len(specs) == 0 {
		return nil
	}

	var oldDoc *docschema.Document
	if old != nil {
		if oldDoc, err = docschema.DecodeDocument(old); err != nil {
			return UnexpectedIndexError(err)
		}
	}

	changes := make([]indexChange, 0, len(specs))
	for _, spec := range specs {
		fk, err := foreignKey(spec, doc)
		if err != nil {
			return UnexpectedIndexError(err)
		}

		change := indexChange{
			bucket: indexBucket(collection, spec.Name),
			insert: indexKey(fk, primaryKey),
		}
		if oldDoc != nil {
			oldFK, err := foreignKey(spec, oldDoc)
			if err != nil {
				return UnexpectedIndexError(err)
			}
			if bytes.Equal(oldFK, fk) {
				continue
			}
			change.remove = indexKey(oldFK, primaryKey)
		}

		if spec.Unique {
			taken, err := s.indexTaken(tx, change.bucket, fk, primaryKey)
			if err != nil {
				return UnexpectedIndexError(err)
			}
			if taken {
				return UniqueIndexError(collection, spec.Name)
			}
		}
		changes = append(changes, change)
	}

	for _, change := range changes {
		b, err := tx.Bucket(change.bucket)
		if err != nil {
			return UnexpectedIndexError(err)
		}
		if change.remove != nil {
			if err := b.Delete(change.remove); err != nil {
				return UnexpectedIndexError(err)
			}
		}
		if err := b.Put(change.insert, primaryKey); err != nil {
			return UnexpectedIndexError(err)
		}
	}
	return nil
}

// indexTaken reports whether a document other than primaryKey is indexed
// under foreignKey.
func (s *DocumentStore) indexTaken(tx Tx, bucket, foreignKey, primaryKey []byte) (bool, error) {
	b, err := tx.Bucket(bucket)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	prefix := indexKey(foreignKey, nil)
	cur, err := b.ForwardCursor(prefix, WithCursorPrefix(prefix))
	if err != nil {
		return false, err
	}

	taken := false
	err = WalkCursor(tx.Context(), cur, func(k, v []byte) (bool, error) {
		if !bytes.Equal(v, primaryKey) {
			taken = true
			return false, nil
		}
		return true, nil
	})
	return taken, err
}

// CreateIndex builds an index over the existing documents of collection and
// maintains it on every later ReplaceByID. Creating an index which already
// exists with the same definition is a no-op.
func (s *DocumentStore) CreateIndex(ctx context.Context, collection string, spec docschema.IndexSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	return s.kv.Update(ctx, func(tx Tx) error {
		meta, err := tx.Bucket(indexMetaBucket)
		if err != nil {
			return UnexpectedIndexError(err)
		}

		metaKey := indexMetaKey(collection, spec.Name)
		v, err := meta.Get(metaKey)
		if err == nil {
			var existing docschema.IndexSpec
			if err := bson.Unmarshal(v, &existing); err != nil {
				return UnexpectedIndexError(err)
			}
			if cmp.Equal(existing, spec) {
				return nil
			}
			return &errors.Error{
				Code: errors.EConflict,
				Msg:  fmt.Sprintf("index %s already exists on collection %s with a different definition", spec.Name, collection),
			}
		}
		if !IsNotFound(err) {
			return UnexpectedIndexError(err)
		}

		src, err := tx.Bucket(collectionBucket(collection))
		if err != nil {
			return UnexpectedIndexError(err)
		}
		cur, err := src.ForwardCursor(nil)
		if err != nil {
			return UnexpectedIndexError(err)
		}

		var (
			entries []Pair
			seen    = map[string]struct{}{}
		)
		err = WalkCursor(ctx, cur, func(k, v []byte) (bool, error) {
			doc, err := docschema.DecodeDocument(v)
			if err != nil {
				return false, UnexpectedIndexError(err)
			}
			fk, err := foreignKey(spec, doc)
			if err != nil {
				return false, UnexpectedIndexError(err)
			}
			if spec.Unique {
				if _, dup := seen[string(fk)]; dup {
					return false, UniqueIndexError(collection, spec.Name)
				}
				seen[string(fk)] = struct{}{}
			}
			pk := append([]byte(nil), k...)
			entries = append(entries, Pair{Key: indexKey(fk, pk), Value: pk})
			return true, nil
		})
		if err != nil {
			return err
		}

		idx, err := tx.Bucket(indexBucket(collection, spec.Name))
		if err != nil {
			return UnexpectedIndexError(err)
		}
		for _, e := range entries {
			if err := idx.Put(e.Key, e.Value); err != nil {
				return UnexpectedIndexError(err)
			}
		}

		encoded, err := bson.Marshal(spec)
		if err != nil {
			return err
		}
		if err := meta.Put(metaKey, encoded); err != nil {
			return UnexpectedIndexError(err)
		}

		s.log.Debug("Index created",
			zap.String("collection", collection),
			zap.String("index", spec.Name),
			zap.Int("entries", len(entries)))
		return nil
	})
}

// DropIndex removes the named index and all of its entries.
func (s *DocumentStore) DropIndex(ctx context.Context, collection, name string) error {
	return s.kv.Update(ctx, func(tx Tx) error {
		meta, err := tx.Bucket(indexMetaBucket)
		if err != nil {
			return UnexpectedIndexError(err)
		}

		metaKey := indexMetaKey(collection, name)
		if _, err := meta.Get(metaKey); err != nil {
			if IsNotFound(err) {
				return ErrIndexNotFound
			}
			return UnexpectedIndexError(err)
		}

		idx, err := tx.Bucket(indexBucket(collection, name))
		if err != nil {
			return UnexpectedIndexError(err)
		}
		cur, err := idx.ForwardCursor(nil)
		if err != nil {
			return UnexpectedIndexError(err)
		}

		var keys [][]byte
		if err := WalkCursor(ctx, cur, func(k, _ []byte) (bool, error) {
			keys = append(keys, append([]byte(nil), k...))
			return true, nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := idx.Delete(k); err != nil {
				return UnexpectedIndexError(err)
			}
		}

		return meta.Delete(metaKey)
	})
}
