package docschema

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

// Filter selects documents. Stores either evaluate Match per document or
// push the BSON form down to the server.
type Filter interface {
	Match(doc *Document) bool
	BSON() bson.D
}

// All matches every document.
func All() Filter { return allFilter{} }

type allFilter struct{}

func (allFilter) Match(*Document) bool { return true }
func (allFilter) BSON() bson.D         { return bson.D{} }

// Eq matches documents whose field equals value. Numbers compare by value
// regardless of their BSON width.
func Eq(field string, value interface{}) Filter {
	return eqFilter{field: field, value: value}
}

type eqFilter struct {
	field string
	value interface{}
}

func (f eqFilter) Match(doc *Document) bool {
	v, ok := doc.Lookup(f.field)
	if !ok {
		return false
	}
	return valuesEqual(v, f.value)
}

func (f eqFilter) BSON() bson.D {
	return bson.D{{Key: f.field, Value: bson.D{{Key: "$eq", Value: f.value}}}}
}

// Ne matches documents whose field differs from value, including documents
// which lack the field entirely.
func Ne(field string, value interface{}) Filter {
	return neFilter{field: field, value: value}
}

type neFilter struct {
	field string
	value interface{}
}

func (f neFilter) Match(doc *Document) bool {
	return !eqFilter(f).Match(doc)
}

func (f neFilter) BSON() bson.D {
	return bson.D{{Key: f.field, Value: bson.D{{Key: "$ne", Value: f.value}}}}
}

func valuesEqual(a, b interface{}) bool {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
