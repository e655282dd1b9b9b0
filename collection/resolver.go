// Package collection maps document types to the collections they are stored in.
package collection

import (
	"sort"
	"sync"

	"github.com/docschema/docschema"
)

var _ docschema.CollectionResolver = (*Resolver)(nil)

// Resolver is a write-once mapping of document type to collection name.
// It is safe for concurrent use.
type Resolver struct {
	mu    sync.RWMutex
	names map[docschema.DocumentType]string
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		names: map[docschema.DocumentType]string{},
	}
}

// Register maps typ to the collection name. A type can only be registered
// once.
func (r *Resolver) Register(typ docschema.DocumentType, name string) error {
	if name == "" {
		return &docschema.InvalidArgumentError{
			Argument: "collection name",
			Reason:   "must not be empty",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.names[typ]; ok {
		return &docschema.DuplicateMappingError{Type: typ, Collection: existing}
	}
	r.names[typ] = name
	return nil
}

// MustRegister is like Register but panics on error. It returns the resolver
// so registrations can be chained during host setup.
func (r *Resolver) MustRegister(typ docschema.DocumentType, name string) *Resolver {
	if err := r.Register(typ, name); err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the collection typ is stored in.
func (r *Resolver) Resolve(typ docschema.DocumentType) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.names[typ]
	if !ok {
		return "", &docschema.MissingMappingError{Type: typ}
	}
	return name, nil
}

// Types returns every registered type, sorted.
func (r *Resolver) Types() []docschema.DocumentType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]docschema.DocumentType, 0, len(r.names))
	for t := range r.names {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
