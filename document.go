package docschema

import (
	"math"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the name of the identity field of every stored document.
const IDField = "_id"

// Document is one stored record: an ordered tree of fields. Values are
// scalars, nested documents (bson.D) or arrays (bson.A) of either.
//
// Document is the form migrations operate on. Its wire representation is
// BSON, so the same value round-trips through every DocumentStore.
type Document struct {
	elems bson.D
}

var (
	_ bson.Marshaler   = (*Document)(nil)
	_ bson.Unmarshaler = (*Document)(nil)
)

// NewDocument returns a document holding the given elements in order.
func NewDocument(elems ...bson.E) *Document {
	d := &Document{}
	for _, e := range elems {
		d.Set(e.Key, e.Value)
	}
	return d
}

// DecodeDocument decodes raw BSON into a Document.
func DecodeDocument(raw []byte) (*Document, error) {
	d := &Document{}
	if err := d.UnmarshalBSON(raw); err != nil {
		return nil, err
	}
	return d, nil
}

// Len returns the number of top level fields.
func (d *Document) Len() int {
	return len(d.elems)
}

// Keys returns the top level field names in order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.elems))
	for _, e := range d.elems {
		keys = append(keys, e.Key)
	}
	return keys
}

// Lookup returns the value of a top level field.
func (d *Document) Lookup(key string) (interface{}, bool) {
	for _, e := range d.elems {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Has reports whether the field exists.
func (d *Document) Has(key string) bool {
	_, ok := d.Lookup(key)
	return ok
}

// LookupString returns the value of key if it holds a string.
func (d *Document) LookupString(key string) (string, bool) {
	v, ok := d.Lookup(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// LookupDocument returns the nested document held by key.
// The returned document is a copy; use Set to store changes to it.
func (d *Document) LookupDocument(key string) (*Document, bool) {
	v, ok := d.Lookup(key)
	if !ok {
		return nil, false
	}
	nested, ok := v.(bson.D)
	if !ok {
		return nil, false
	}
	return &Document{elems: cloneD(nested)}, true
}

// Int returns the value of key as an int. Any integral BSON number is
// accepted.
func (d *Document) Int(key string) (int, bool) {
	v, ok := d.Lookup(key)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// ID returns the identity of the document.
func (d *Document) ID() (interface{}, bool) {
	return d.Lookup(IDField)
}

// Set replaces the value of an existing field in place, or appends the field
// when it does not exist yet. A *Document value is stored as nested bson.D.
func (d *Document) Set(key string, value interface{}) {
	if nested, ok := value.(*Document); ok {
		value = cloneD(nested.elems)
	}
	for i := range d.elems {
		if d.elems[i].Key == key {
			d.elems[i].Value = value
			return
		}
	}
	d.elems = append(d.elems, bson.E{Key: key, Value: value})
}

// Delete removes a field and reports whether it existed.
func (d *Document) Delete(key string) bool {
	for i, e := range d.elems {
		if e.Key == key {
			d.elems = append(d.elems[:i], d.elems[i+1:]...)
			return true
		}
	}
	return false
}

// Elements returns a deep copy of the document's elements.
func (d *Document) Elements() bson.D {
	return cloneD(d.elems)
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	return &Document{elems: cloneD(d.elems)}
}

// MarshalBSON implements bson.Marshaler.
func (d *Document) MarshalBSON() ([]byte, error) {
	if d.elems == nil {
		return bson.Marshal(bson.D{})
	}
	return bson.Marshal(d.elems)
}

// UnmarshalBSON implements bson.Unmarshaler.
func (d *Document) UnmarshalBSON(data []byte) error {
	var elems bson.D
	if err := bson.Unmarshal(data, &elems); err != nil {
		return err
	}
	d.elems = elems
	return nil
}

func cloneD(in bson.D) bson.D {
	if in == nil {
		return nil
	}
	out := make(bson.D, len(in))
	for i, e := range in {
		out[i] = bson.E{Key: e.Key, Value: cloneValue(e.Value)}
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.D:
		return cloneD(t)
	case bson.A:
		out := make(bson.A, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	case primitive.Binary:
		return primitive.Binary{Subtype: t.Subtype, Data: append([]byte(nil), t.Data...)}
	default:
		return v
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
