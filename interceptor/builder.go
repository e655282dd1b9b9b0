// Package interceptor wraps the encode and decode path of versioned document
// types so that writes are stamped with the target schema version and reads
// are migrated before the application sees them.
package interceptor

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// FinalizeFunc appends synthetic fields to the outermost document just before
// it is closed.
type FinalizeFunc func(b *Builder) error

// Builder writes a BSON document element by element and tracks how deeply
// nested the current position is. Finalize hooks only run when the top
// level document ends, never for embedded documents or arrays.
type Builder struct {
	buf      []byte
	open     []frame
	finalize []FinalizeFunc
	done     bool
}

type frame struct {
	start int32
	array bool
}

// NewBuilder returns a builder positioned before the outermost document.
func NewBuilder() *Builder {
	return &Builder{}
}

// OnFinalize registers fn to run before the outermost document is closed.
func (b *Builder) OnFinalize(fn FinalizeFunc) {
	b.finalize = append(b.finalize, fn)
}

// Depth returns the number of documents and arrays currently open. The
// outermost document is depth 1.
func (b *Builder) Depth() int {
	return len(b.open)
}

func (b *Builder) writable() error {
	if b.done {
		return errors.New("document already finished")
	}
	if len(b.open) == 0 {
		return errors.New("no open document")
	}
	return nil
}

// StartDocument opens a document. The key is ignored for the outermost one.
func (b *Builder) StartDocument(key string) error {
	if len(b.open) > 0 {
		if err := b.writable(); err != nil {
			return err
		}
		b.buf = bsoncore.AppendHeader(b.buf, bsontype.EmbeddedDocument, key)
	} else if b.done {
		return errors.New("document already finished")
	}

	var start int32
	start, b.buf = bsoncore.AppendDocumentStart(b.buf)
	b.open = append(b.open, frame{start: start})
	return nil
}

// StartArray opens an array under key inside the current document.
func (b *Builder) StartArray(key string) error {
	if err := b.writable(); err != nil {
		return err
	}
	var start int32
	b.buf = bsoncore.AppendHeader(b.buf, bsontype.Array, key)
	start, b.buf = bsoncore.AppendArrayStart(b.buf)
	b.open = append(b.open, frame{start: start, array: true})
	return nil
}

// AppendValue writes a complete element.
func (b *Builder) AppendValue(key string, v bsoncore.Value) error {
	if err := b.writable(); err != nil {
		return err
	}
	b.buf = bsoncore.AppendValueElement(b.buf, key, v)
	return nil
}

// AppendInt32 writes an int32 element.
func (b *Builder) AppendInt32(key string, v int32) error {
	if err := b.writable(); err != nil {
		return err
	}
	b.buf = bsoncore.AppendInt32Element(b.buf, key, v)
	return nil
}

// EndDocument closes the current document, running the finalize hooks first
// when it is the outermost one.
func (b *Builder) EndDocument() error {
	if err := b.writable(); err != nil {
		return err
	}
	top := b.open[len(b.open)-1]
	if top.array {
		return errors.New("EndDocument called while an array is open")
	}

	if len(b.open) == 1 {
		for _, fn := range b.finalize {
			if err := fn(b); err != nil {
				return err
			}
		}
	}

	var err error
	b.buf, err = bsoncore.AppendDocumentEnd(b.buf, top.start)
	if err != nil {
		return err
	}
	b.open = b.open[:len(b.open)-1]
	if len(b.open) == 0 {
		b.done = true
	}
	return nil
}

// EndArray closes the current array.
func (b *Builder) EndArray() error {
	if err := b.writable(); err != nil {
		return err
	}
	top := b.open[len(b.open)-1]
	if !top.array {
		return errors.New("EndArray called while a document is open")
	}

	var err error
	b.buf, err = bsoncore.AppendArrayEnd(b.buf, top.start)
	if err != nil {
		return err
	}
	b.open = b.open[:len(b.open)-1]
	return nil
}

// Bytes returns the finished document.
func (b *Builder) Bytes() ([]byte, error) {
	if !b.done {
		return nil, fmt.Errorf("document not finished; %d levels still open", len(b.open))
	}
	return b.buf, nil
}

// CopyDocument writes raw as the outermost document. Top level elements for
// which skip returns true are left out.
func (b *Builder) CopyDocument(raw []byte, skip func(key string) bool) error {
	if err := b.StartDocument(""); err != nil {
		return err
	}
	if err := b.copyElements(bsoncore.Document(raw), skip); err != nil {
		return err
	}
	return b.EndDocument()
}

func (b *Builder) copyElements(doc bsoncore.Document, skip func(key string) bool) error {
	elems, err := doc.Elements()
	if err != nil {
		return err
	}

	for _, e := range elems {
		key, val := e.Key(), e.Value()
		if skip != nil && skip(key) {
			continue
		}

		switch val.Type {
		case bsontype.EmbeddedDocument:
			if err := b.StartDocument(key); err != nil {
				return err
			}
			if err := b.copyElements(bsoncore.Document(val.Data), nil); err != nil {
				return err
			}
			if err := b.EndDocument(); err != nil {
				return err
			}
		case bsontype.Array:
			if err := b.StartArray(key); err != nil {
				return err
			}
			if err := b.copyElements(bsoncore.Document(val.Data), nil); err != nil {
				return err
			}
			if err := b.EndArray(); err != nil {
				return err
			}
		default:
			if err := b.AppendValue(key, val); err != nil {
				return err
			}
		}
	}
	return nil
}
