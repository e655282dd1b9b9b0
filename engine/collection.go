package engine

import (
	"context"
	"fmt"

	"github.com/docschema/docschema"
	kerrors "github.com/docschema/docschema/kit/platform/errors"
)

// Collection is a typed repository over the collection of one document type.
// Reads and writes go through the codec the engine resolves for the type, so
// stored documents are migrated on read and stamped on write.
type Collection[T any] struct {
	engine *Engine
	typ    docschema.DocumentType
	name   string
}

// NewCollection returns the repository of typ. It fails when typ has no
// collection mapping.
func NewCollection[T any](e *Engine, typ docschema.DocumentType) (*Collection[T], error) {
	name, err := e.resolver.Resolve(typ)
	if err != nil {
		return nil, err
	}
	return &Collection[T]{engine: e, typ: typ, name: name}, nil
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Get reads and decodes the document with the given identity.
func (c *Collection[T]) Get(ctx context.Context, id interface{}) (T, error) {
	var v T
	raw, err := c.engine.store.FindByID(ctx, c.name, id)
	if err != nil {
		return v, err
	}
	if err := c.decode(ctx, raw, &v); err != nil {
		return v, err
	}
	return v, nil
}

// Find decodes every document matching filter.
func (c *Collection[T]) Find(ctx context.Context, filter docschema.Filter) ([]T, error) {
	cur, err := c.engine.store.Find(ctx, c.name, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []T
	for cur.Next(ctx) {
		raw := append([]byte(nil), cur.Current()...)
		var v T
		if err := c.decode(ctx, raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, cur.Err()
}

// Put encodes v and replaces the stored document with the same identity,
// inserting it when missing.
func (c *Collection[T]) Put(ctx context.Context, v T) error {
	codec, err := c.engine.codecs.Resolve(c.typ)
	if err != nil {
		return err
	}
	raw, err := codec.Encode(v)
	if err != nil {
		return err
	}

	doc, err := docschema.DecodeDocument(raw)
	if err != nil {
		return err
	}
	id, ok := doc.ID()
	if !ok {
		return &kerrors.Error{
			Code: kerrors.EInvalid,
			Op:   "engine.Put",
			Msg:  fmt.Sprintf("%s document has no %s field", c.typ, docschema.IDField),
		}
	}
	return c.engine.store.ReplaceByID(ctx, c.name, id, raw, true)
}

// Raw returns the stored document without migrating it.
func (c *Collection[T]) Raw(ctx context.Context, id interface{}) (*docschema.Document, error) {
	raw, err := c.engine.store.FindByID(ctx, c.name, id)
	if err != nil {
		return nil, err
	}
	return docschema.DecodeDocument(raw)
}

func (c *Collection[T]) decode(ctx context.Context, raw []byte, v *T) error {
	codec, err := c.engine.codecs.Resolve(c.typ)
	if err != nil {
		return err
	}
	raw, err = c.engine.upgrade(ctx, c.typ, c.name, raw)
	if err != nil {
		return err
	}
	return codec.Decode(raw, v)
}
