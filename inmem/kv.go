// Package inmem implements kv.Store in memory on top of btrees.
package inmem

import (
	"bytes"
	"context"
	"sync"

	"github.com/docschema/docschema/kv"
	"github.com/google/btree"
)

var _ kv.Store = (*KVStore)(nil)

const degree = 32

// KVStore keeps every bucket in its own btree. Update holds an exclusive
// lock for the whole transaction; writes are applied immediately and are not
// rolled back when the transaction fails.
type KVStore struct {
	mu      sync.RWMutex
	buckets map[string]*btree.BTreeG[kv.Pair]
}

// NewKVStore returns an empty store.
func NewKVStore() *KVStore {
	return &KVStore{
		buckets: make(map[string]*btree.BTreeG[kv.Pair]),
	}
}

func lessPair(a, b kv.Pair) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// View runs fn under a shared lock.
func (s *KVStore) View(ctx context.Context, fn func(kv.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{store: s, ctx: ctx})
}

// Update runs fn under the exclusive lock.
func (s *KVStore) Update(ctx context.Context, fn func(kv.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{store: s, ctx: ctx, writable: true})
}

// Buckets returns the number of buckets created so far.
func (s *KVStore) Buckets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

type tx struct {
	store    *KVStore
	ctx      context.Context
	writable bool
}

func (t *tx) Context() context.Context {
	return t.ctx
}

func (t *tx) Bucket(name []byte) (kv.Bucket, error) {
	tree, ok := t.store.buckets[string(name)]
	if !ok {
		if !t.writable {
			return nil, kv.ErrBucketNotFound
		}
		tree = btree.NewG(degree, lessPair)
		t.store.buckets[string(name)] = tree
	}
	return &bucket{tree: tree, writable: t.writable}, nil
}

type bucket struct {
	tree     *btree.BTreeG[kv.Pair]
	writable bool
}

func (b *bucket) Get(key []byte) ([]byte, error) {
	p, ok := b.tree.Get(kv.Pair{Key: key})
	if !ok {
		return nil, kv.ErrKeyNotFound
	}
	return p.Value, nil
}

// Put stores copies of key and value.
func (b *bucket) Put(key, value []byte) error {
	if !b.writable {
		return kv.ErrTxNotWritable
	}
	b.tree.ReplaceOrInsert(kv.Pair{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})
	return nil
}

func (b *bucket) Delete(key []byte) error {
	if !b.writable {
		return kv.ErrTxNotWritable
	}
	b.tree.Delete(kv.Pair{Key: key})
	return nil
}

// ForwardCursor copies the matching pairs while the caller holds the store
// lock, so the cursor stays valid if the bucket changes afterwards.
func (b *bucket) ForwardCursor(seek []byte, opts ...kv.CursorOption) (kv.ForwardCursor, error) {
	conf := kv.NewCursorConfig(opts...)

	var pairs []kv.Pair
	b.tree.AscendGreaterOrEqual(kv.Pair{Key: seek}, func(p kv.Pair) bool {
		if conf.Prefix != nil && !bytes.HasPrefix(p.Key, conf.Prefix) {
			return false
		}
		pairs = append(pairs, p)
		return conf.Limit == nil || len(pairs) < *conf.Limit
	})
	return kv.NewStaticCursor(pairs), nil
}
