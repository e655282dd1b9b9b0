package kv

import (
	"context"
)

// CursorConfig is a type used to configure a new forward cursor.
type CursorConfig struct {
	Prefix []byte
	Limit  *int
}

// NewCursorConfig applies opts to an empty CursorConfig.
func NewCursorConfig(opts ...CursorOption) CursorConfig {
	conf := CursorConfig{}
	for _, opt := range opts {
		opt(&conf)
	}
	return conf
}

// CursorOption is a functional option for configuring a forward cursor
type CursorOption func(*CursorConfig)

// WithCursorPrefix stops the cursor at the first key without prefix. Seek
// should itself start with prefix.
func WithCursorPrefix(prefix []byte) CursorOption {
	return func(c *CursorConfig) {
		c.Prefix = prefix
	}
}

// WithCursorLimit stops the cursor after limit pairs.
func WithCursorLimit(limit int) CursorOption {
	return func(c *CursorConfig) {
		c.Limit = &limit
	}
}

// Pair is a struct for key value pairs.
type Pair struct {
	Key   []byte
	Value []byte
}

// StaticCursor implements the ForwardCursor interface over a slice of
// key value pairs which are already sorted and filtered.
type StaticCursor struct {
	idx   int
	pairs []Pair
}

// NewStaticCursor returns an instance of a StaticCursor over pairs.
func NewStaticCursor(pairs []Pair) *StaticCursor {
	return &StaticCursor{
		idx:   -1,
		pairs: pairs,
	}
}

// Next retrieves the next key in the bucket.
func (c *StaticCursor) Next() ([]byte, []byte) {
	if c.idx >= len(c.pairs)-1 {
		return nil, nil
	}
	c.idx++
	p := c.pairs[c.idx]
	return p.Key, p.Value
}

// Err always returns nil.
func (c *StaticCursor) Err() error { return nil }

// Close is a no-op.
func (c *StaticCursor) Close() error { return nil }

// VisitFunc is called by WalkCursor for every pair. Returning false stops
// the walk.
type VisitFunc func(k, v []byte) (bool, error)

// WalkCursor calls visit for every pair of cursor and closes it. The walk
// stops early when ctx is done.
func WalkCursor(ctx context.Context, cursor ForwardCursor, visit VisitFunc) (err error) {
	defer func() {
		if cerr := cursor.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for k, v := cursor.Next(); k != nil; k, v = cursor.Next() {
		if cont, err := visit(k, v); !cont || err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return cursor.Err()
}
