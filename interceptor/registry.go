package interceptor

import (
	"sync"

	"github.com/docschema/docschema"
)

// Registry binds document types to codecs. Unversioned types resolve to the
// base codec; a versioned type without a bound codec is a wiring defect.
type Registry struct {
	mu      sync.RWMutex
	locator docschema.VersionLocator
	base    Codec
	codecs  map[docschema.DocumentType]Codec
}

// NewRegistry returns an empty registry. A nil base selects BaseCodec.
func NewRegistry(locator docschema.VersionLocator, base Codec) *Registry {
	if base == nil {
		base = BaseCodec{}
	}
	return &Registry{
		locator: locator,
		base:    base,
		codecs:  make(map[docschema.DocumentType]Codec),
	}
}

// Base returns the codec used for unversioned types.
func (r *Registry) Base() Codec {
	return r.base
}

// Install binds c to typ, replacing an earlier binding.
func (r *Registry) Install(typ docschema.DocumentType, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[typ] = c
}

// InstallVersioned binds an interceptor to every type in types which the
// locator reports as versioned. It returns the number of interceptors
// installed.
func (r *Registry) InstallVersioned(types []docschema.DocumentType, migrator docschema.DocumentMigrator) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, typ := range types {
		if !r.locator.IsVersioned(typ) {
			continue
		}
		r.codecs[typ] = New(typ, r.locator, migrator, r.base)
		n++
	}
	return n
}

// Resolve returns the codec for typ.
func (r *Registry) Resolve(typ docschema.DocumentType) (Codec, error) {
	if !r.locator.IsVersioned(typ) {
		return r.base, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[typ]
	if !ok {
		return nil, &docschema.InterceptorResolutionError{Type: typ}
	}
	return c, nil
}

// Interceptor returns the interceptor bound to typ, if any.
func (r *Registry) Interceptor(typ docschema.DocumentType) (*Interceptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.codecs[typ].(*Interceptor)
	return i, ok
}

// Reset removes every binding.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs = make(map[docschema.DocumentType]Codec)
}
