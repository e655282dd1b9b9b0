// Package bolt implements kv.Store on a single boltdb file.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docschema/docschema/kit/tracing"
	"github.com/docschema/docschema/kv"
	"github.com/opentracing/opentracing-go"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var _ kv.Store = (*KVStore)(nil)

// DefaultOpenTimeout bounds how long Open waits for the file lock.
const DefaultOpenTimeout = time.Second

// KVStore is a kv.Store backed by boltdb. Every collection and index lives
// in its own top level bucket.
type KVStore struct {
	path    string
	db      *bolt.DB
	log     *zap.Logger
	noSync  bool
	timeout time.Duration
}

// KVOption configures a KVStore.
type KVOption func(*KVStore)

// WithNoSync skips the fsync after every commit. Tests only: a crash loses
// committed data.
func WithNoSync(s *KVStore) {
	s.noSync = true
}

// WithOpenTimeout sets how long Open waits for another process to release
// the file.
func WithOpenTimeout(d time.Duration) KVOption {
	return func(s *KVStore) {
		s.timeout = d
	}
}

// NewKVStore returns a store for the file at path. Call Open before use.
func NewKVStore(log *zap.Logger, path string, opts ...KVOption) *KVStore {
	if log == nil {
		log = zap.NewNop()
	}
	s := &KVStore{
		path:    path,
		log:     log,
		timeout: DefaultOpenTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the location of the database file.
func (s *KVStore) Path() string {
	return s.path
}

// Open creates the database file and its directory when missing and opens
// it.
func (s *KVStore) Open(ctx context.Context) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "KVStore.Open")
	defer span.Finish()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return tracing.LogError(span, fmt.Errorf("unable to create directory for %s: %w", s.path, err))
	}

	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		return tracing.LogError(span, fmt.Errorf("unable to open boltdb file %s: %w", s.path, err))
	}
	db.NoSync = s.noSync
	s.db = db

	s.log.Info("Opened document database", zap.String("path", s.path))
	return nil
}

// Close closes the database file.
func (s *KVStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// View runs fn in a read-only transaction.
func (s *KVStore) View(ctx context.Context, fn func(kv.Tx) error) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "KVStore.View")
	defer span.Finish()

	err := s.db.View(func(btx *bolt.Tx) error {
		return fn(&tx{tx: btx, ctx: ctx})
	})
	return tracing.LogError(span, err)
}

// Update runs fn in a read-write transaction. The transaction is rolled back
// when fn returns an error.
func (s *KVStore) Update(ctx context.Context, fn func(kv.Tx) error) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "KVStore.Update")
	defer span.Finish()

	err := s.db.Update(func(btx *bolt.Tx) error {
		return fn(&tx{tx: btx, ctx: ctx})
	})
	return tracing.LogError(span, err)
}

type tx struct {
	tx  *bolt.Tx
	ctx context.Context
}

func (t *tx) Context() context.Context {
	return t.ctx
}

// Bucket returns the named bucket, creating it in writable transactions.
func (t *tx) Bucket(name []byte) (kv.Bucket, error) {
	if b := t.tx.Bucket(name); b != nil {
		return &bucket{b: b}, nil
	}
	if !t.tx.Writable() {
		return nil, kv.ErrBucketNotFound
	}

	b, err := t.tx.CreateBucket(name)
	if err != nil {
		return nil, err
	}
	return &bucket{b: b}, nil
}

type bucket struct {
	b *bolt.Bucket
}

func (b *bucket) Get(key []byte) ([]byte, error) {
	v := b.b.Get(key)
	if v == nil {
		return nil, kv.ErrKeyNotFound
	}
	return v, nil
}

func (b *bucket) Put(key, value []byte) error {
	return notWritable(b.b.Put(key, value))
}

func (b *bucket) Delete(key []byte) error {
	return notWritable(b.b.Delete(key))
}

func notWritable(err error) error {
	if errors.Is(err, bolt.ErrTxNotWritable) {
		return kv.ErrTxNotWritable
	}
	return err
}

// ForwardCursor positions a bolt cursor at seek. Keys and values are only
// valid for the life of the transaction.
func (b *bucket) ForwardCursor(seek []byte, opts ...kv.CursorOption) (kv.ForwardCursor, error) {
	c := b.b.Cursor()
	k, v := c.Seek(seek)
	return &cursor{
		c:      c,
		config: kv.NewCursorConfig(opts...),
		k:      k,
		v:      v,
		primed: true,
	}, nil
}

type cursor struct {
	c      *bolt.Cursor
	config kv.CursorConfig

	// the pair found by Seek, returned by the first Next
	k, v   []byte
	primed bool

	seen   int
	closed bool
}

func (c *cursor) Next() ([]byte, []byte) {
	if c.closed || (c.config.Limit != nil && c.seen >= *c.config.Limit) {
		return nil, nil
	}

	var k, v []byte
	if c.primed {
		k, v, c.primed = c.k, c.v, false
	} else {
		k, v = c.c.Next()
	}
	if k == nil {
		return nil, nil
	}
	if c.config.Prefix != nil && !bytes.HasPrefix(k, c.config.Prefix) {
		c.closed = true
		return nil, nil
	}

	c.seen++
	return k, v
}

func (c *cursor) Err() error { return nil }

func (c *cursor) Close() error {
	c.closed = true
	return nil
}
