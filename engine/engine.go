// Package engine is the host facing entry point of docschema. It wires the
// version locator, the migration runners and the interceptor registry over
// one document store and runs them in the order start-up requires.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/docschema/docschema"
	"github.com/docschema/docschema/interceptor"
	"github.com/docschema/docschema/migration"
	"github.com/docschema/docschema/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Engine runs database and document migrations and serves the codecs of
// versioned document types.
type Engine struct {
	log       *zap.Logger
	store     docschema.DocumentStore
	resolver  docschema.CollectionResolver
	registry  docschema.Registry
	writeBack bool

	locator   *version.Locator
	database  *migration.DatabaseRunner
	documents *migration.DocumentRunner
	codecs    *interceptor.Registry
	metrics   *migration.Metrics
}

type options struct {
	log              *zap.Logger
	versionField     string
	schemaCollection string
	writeBack        bool
	base             interceptor.Codec
	metrics          *migration.Metrics
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithVersionField sets the name of the per-document version field.
func WithVersionField(name string) Option {
	return func(o *options) {
		o.versionField = name
	}
}

// WithSchemaCollection sets the collection holding the database schema
// version record.
func WithSchemaCollection(name string) Option {
	return func(o *options) {
		o.schemaCollection = name
	}
}

// WithWriteBack makes typed reads persist documents they migrated lazily.
// The replace is unconditional; concurrent writers of the same document
// overwrite each other.
func WithWriteBack() Option {
	return func(o *options) {
		o.writeBack = true
	}
}

// WithBaseCodec sets the codec wrapped by interceptors and used as is for
// unversioned types.
func WithBaseCodec(c interceptor.Codec) Option {
	return func(o *options) {
		o.base = c
	}
}

// WithMetrics records runner activity in m instead of a private set.
func WithMetrics(m *migration.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New constructs an engine. It fails when the registry holds two migrations
// of the same scope with one version.
func New(store docschema.DocumentStore, registry docschema.Registry, resolver docschema.CollectionResolver, opts ...Option) (*Engine, error) {
	o := options{
		log:              zap.NewNop(),
		versionField:     version.DefaultVersionField,
		schemaCollection: migration.DefaultSchemaCollection,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = migration.NewMetrics()
	}

	locator, err := version.NewLocator(registry.Documents,
		version.WithVersionField(o.versionField),
		version.WithLogger(o.log))
	if err != nil {
		return nil, err
	}

	database, err := migration.NewDatabaseRunner(o.log.With(zap.String("service", "database_migrations")), store, registry.Database,
		migration.WithSchemaCollection(o.schemaCollection),
		migration.WithDatabaseMetrics(o.metrics))
	if err != nil {
		return nil, err
	}

	documents := migration.NewDocumentRunner(o.log.With(zap.String("service", "document_migrations")), store, resolver, locator, registry.Documents,
		migration.WithDocumentMetrics(o.metrics))

	return &Engine{
		log:       o.log,
		store:     store,
		resolver:  resolver,
		registry:  registry,
		writeBack: o.writeBack,
		locator:   locator,
		database:  database,
		documents: documents,
		codecs:    interceptor.NewRegistry(locator, o.base),
		metrics:   o.metrics,
	}, nil
}

// Start installs the interceptors, brings the database to the latest schema
// version and runs the eager document pass, in that order. Database
// migrations failing aborts start-up. Document types failing in the eager
// pass are logged and returned in the result without failing Start.
func (e *Engine) Start(ctx context.Context) (migration.BulkResult, error) {
	e.InstallInterceptors()

	if err := e.RunDatabaseMigrations(ctx, migration.Latest); err != nil {
		return migration.BulkResult{}, err
	}
	return e.MigrateAllDocumentTypes(ctx, docschema.AtStart), nil
}

// InstallInterceptors binds an interceptor to every versioned document type
// and returns how many were bound.
func (e *Engine) InstallInterceptors() int {
	n := e.codecs.InstallVersioned(e.registry.DocumentTypes(), e.documents)
	e.log.Debug("Installed migration interceptors", zap.Int("count", n))
	return n
}

// RunDatabaseMigrations moves the database schema to target, or to the
// latest version when target is migration.Latest.
func (e *Engine) RunDatabaseMigrations(ctx context.Context, target int) error {
	return e.database.Run(ctx, target)
}

// MigrateAllDocumentTypes runs the bulk pass for every type eligible at
// timing.
func (e *Engine) MigrateAllDocumentTypes(ctx context.Context, timing docschema.Timing) migration.BulkResult {
	return e.documents.MigrateAllTypes(ctx, timing)
}

// MigrateDocument migrates one in-memory document.
func (e *Engine) MigrateDocument(doc *docschema.Document, typ docschema.DocumentType, timing docschema.Timing) (int, error) {
	return e.documents.MigrateDocument(doc, typ, timing)
}

// SetTargetVersion overrides the target version of typ.
func (e *Engine) SetTargetVersion(typ docschema.DocumentType, v int) error {
	return e.locator.SetTargetVersion(typ, v)
}

// TargetVersion returns the target version of typ.
func (e *Engine) TargetVersion(typ docschema.DocumentType) int {
	return e.locator.TargetVersion(typ)
}

// Codecs returns the registry the store's serialization layer resolves
// codecs from.
func (e *Engine) Codecs() *interceptor.Registry {
	return e.codecs
}

// Store returns the underlying document store.
func (e *Engine) Store() docschema.DocumentStore {
	return e.store
}

// PrometheusCollectors returns the metrics of the migration runners.
func (e *Engine) PrometheusCollectors() []prometheus.Collector {
	return e.metrics.PrometheusCollectors()
}

// TypeStatus describes how far the stored documents of a type are from its
// target version.
type TypeStatus struct {
	Type       docschema.DocumentType
	Collection string
	Target     int
	Stale      int
}

// Status is a snapshot of the schema state of the store.
type Status struct {
	DatabaseVersion int
	LatestVersion   int
	Types           []TypeStatus
}

// Status reads the database schema version and counts the stored documents
// of every versioned type which are not at the target version.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	current, err := e.database.CurrentVersion(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		DatabaseVersion: current,
		LatestVersion:   e.database.LatestVersion(),
	}

	for _, typ := range e.registry.DocumentTypes() {
		ts, err := e.typeStatus(ctx, typ)
		if err != nil {
			return Status{}, err
		}
		st.Types = append(st.Types, ts)
	}
	return st, nil
}

func (e *Engine) typeStatus(ctx context.Context, typ docschema.DocumentType) (TypeStatus, error) {
	coll, err := e.resolver.Resolve(typ)
	if err != nil {
		return TypeStatus{}, err
	}
	target := e.locator.TargetVersion(typ)
	ts := TypeStatus{Type: typ, Collection: coll, Target: target}

	cur, err := e.store.Find(ctx, coll, docschema.Ne(e.locator.VersionField(), int32(target)))
	if err != nil {
		return TypeStatus{}, fmt.Errorf("counting stale %s documents: %w", typ, err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		ts.Stale++
	}
	return ts, cur.Err()
}

// upgrade migrates a stored document of typ through its interceptor and
// writes it back when write-back is enabled. It returns the bytes to decode.
func (e *Engine) upgrade(ctx context.Context, typ docschema.DocumentType, coll string, raw []byte) ([]byte, error) {
	if !e.writeBack {
		return raw, nil
	}
	i, ok := e.codecs.Interceptor(typ)
	if !ok {
		return raw, nil
	}

	out, changed, err := i.Upgrade(raw)
	if err != nil || !changed {
		return raw, err
	}

	doc, err := docschema.DecodeDocument(out)
	if err != nil {
		return nil, err
	}
	id, ok := doc.ID()
	if !ok {
		return out, nil
	}
	if err := e.store.ReplaceByID(ctx, coll, id, out, false); err != nil {
		if errors.Is(err, docschema.ErrDocumentNotFound) {
			return out, nil
		}
		return nil, fmt.Errorf("writing back %s document: %w", typ, err)
	}
	e.log.Debug("Wrote back lazily migrated document",
		zap.String("document_type", string(typ)),
		zap.Any("id", id))
	return out, nil
}
