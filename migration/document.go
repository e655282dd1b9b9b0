package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/docschema/docschema"
	kerrors "github.com/docschema/docschema/kit/platform/errors"
	"github.com/docschema/docschema/kit/tracing"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var _ docschema.DocumentMigrator = (*DocumentRunner)(nil)

// DocumentRunner brings documents to the target version of their type,
// either one at a time in memory or in bulk over a whole collection.
type DocumentRunner struct {
	log      *zap.Logger
	store    docschema.DocumentStore
	resolver docschema.CollectionResolver
	locator  docschema.VersionLocator
	metrics  *Metrics

	types  []docschema.DocumentType
	byType map[docschema.DocumentType][]docschema.DocumentMigration
}

// DocumentOption configures a DocumentRunner.
type DocumentOption func(*DocumentRunner)

// WithDocumentMetrics records visited documents in m.
func WithDocumentMetrics(m *Metrics) DocumentOption {
	return func(r *DocumentRunner) {
		r.metrics = m
	}
}

// NewDocumentRunner returns a runner over migrations. Version uniqueness is
// enforced by the locator.
func NewDocumentRunner(
	log *zap.Logger,
	store docschema.DocumentStore,
	resolver docschema.CollectionResolver,
	locator docschema.VersionLocator,
	migrations []docschema.DocumentMigration,
	opts ...DocumentOption,
) *DocumentRunner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &DocumentRunner{
		log:      log,
		store:    store,
		resolver: resolver,
		locator:  locator,
		byType:   map[docschema.DocumentType][]docschema.DocumentMigration{},
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, m := range migrations {
		typ := m.DocumentType()
		if _, ok := r.byType[typ]; !ok {
			r.types = append(r.types, typ)
		}
		r.byType[typ] = append(r.byType[typ], m)
	}
	for _, ms := range r.byType {
		sort.Slice(ms, func(i, j int) bool { return ms[i].Version() < ms[j].Version() })
	}
	return r
}

// Types returns the document types eligible for a bulk pass at timing: every
// type with migrations for OnAccess, only types with an AtStart migration
// for AtStart.
func (r *DocumentRunner) Types(timing docschema.Timing) []docschema.DocumentType {
	var types []docschema.DocumentType
	for _, typ := range r.types {
		if timing == docschema.AtStart && maxAtStart(r.byType[typ]) == 0 {
			continue
		}
		types = append(types, typ)
	}
	return types
}

func maxAtStart(ms []docschema.DocumentMigration) int {
	highest := 0
	for _, m := range ms {
		if m.Timing() == docschema.AtStart && m.Version() > highest {
			highest = m.Version()
		}
	}
	return highest
}

// target returns the version a document of typ stored at stored is brought
// to at timing and the migrations eligible to get there. At start an upward
// move is capped at the highest AtStart migration and every migration up to
// it is eligible. Downward moves use every migration.
func (r *DocumentRunner) target(typ docschema.DocumentType, timing docschema.Timing, stored int) (int, []docschema.DocumentMigration) {
	target := r.locator.TargetVersion(typ)
	all := r.byType[typ]
	if timing != docschema.AtStart || stored > target {
		return target, all
	}

	limit := maxAtStart(all)
	if limit < target {
		target = limit
	}
	var candidates []docschema.DocumentMigration
	for _, m := range all {
		if m.Version() <= limit {
			candidates = append(candidates, m)
		}
	}
	return target, candidates
}

func (r *DocumentRunner) versionField() (string, error) {
	field := r.locator.VersionField()
	if field == "" {
		return "", &docschema.ConfigurationError{
			Setting: "version field",
			Reason:  "version field name cannot be empty",
		}
	}
	return field, nil
}

func storedVersion(doc *docschema.Document, field string) (int, error) {
	if !doc.Has(field) {
		return 0, nil
	}
	v, ok := doc.Int(field)
	if !ok {
		return 0, &kerrors.Error{
			Code: kerrors.EInvalid,
			Msg:  fmt.Sprintf("document field %s does not hold an integer version", field),
		}
	}
	return v, nil
}

// MigrateDocument applies the migrations that bring doc to the target version
// of typ at timing. The version field of doc is updated after every step. It
// returns the number of migrations applied; zero means doc was left as is.
func (r *DocumentRunner) MigrateDocument(doc *docschema.Document, typ docschema.DocumentType, timing docschema.Timing) (int, error) {
	field, err := r.versionField()
	if err != nil {
		return 0, err
	}
	stored, err := storedVersion(doc, field)
	if err != nil {
		return 0, err
	}

	target, candidates := r.target(typ, timing, stored)
	plan := SelectMigrations(stored, target, candidates)

	for i, m := range plan.Steps {
		if plan.Direction == Up {
			if err := m.Up(doc); err != nil {
				return i, fmt.Errorf("up: %s migration %d: %w", typ, m.Version(), err)
			}
			doc.Set(field, int32(m.Version()))
		} else {
			if err := m.Down(doc); err != nil {
				return i, fmt.Errorf("down: %s migration %d: %w", typ, m.Version(), err)
			}
			doc.Set(field, int32(m.Version()-1))
		}
	}

	if !plan.Empty() {
		current, _ := doc.Int(field)
		r.log.Debug("Migrated document",
			zap.String("document_type", string(typ)),
			zap.Int("version_from", stored),
			zap.Int("version_to", current))
	}
	return len(plan.Steps), nil
}

// MigrateType migrates every stored document of typ which is not at the
// target version and writes each changed document back by identity. The
// stale documents are selected by the store, so current ones are never read.
// A failing transform aborts the rest of the pass; documents already written
// stay migrated. It returns the number of documents written.
func (r *DocumentRunner) MigrateType(ctx context.Context, typ docschema.DocumentType, timing docschema.Timing) (int, error) {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()
	span.SetTag("document_type", string(typ))

	n, err := r.migrateType(ctx, typ, timing)
	return n, tracing.LogError(span, err)
}

func (r *DocumentRunner) migrateType(ctx context.Context, typ docschema.DocumentType, timing docschema.Timing) (int, error) {
	coll, err := r.resolver.Resolve(typ)
	if err != nil {
		return 0, err
	}
	field, err := r.versionField()
	if err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.BulkDuration.WithLabelValues(string(typ)).Observe(time.Since(start).Seconds())
		}
	}()

	target := r.locator.TargetVersion(typ)
	cur, err := r.store.Find(ctx, coll, docschema.Ne(field, int32(target)))
	if err != nil {
		return 0, fmt.Errorf("finding %s documents: %w", typ, err)
	}
	defer cur.Close(ctx)

	log := r.log.With(zap.String("document_type", string(typ)), zap.String("collection", coll))

	var (
		seen     int
		migrated int
	)
	for cur.Next(ctx) {
		doc, err := docschema.DecodeDocument(cur.Current())
		if err != nil {
			r.count(typ, timing, labelFailed)
			return migrated, fmt.Errorf("decoding %s document: %w", typ, err)
		}

		if seen == 0 {
			from, _ := storedVersion(doc, field)
			effective, _ := r.target(typ, timing, from)
			log.Info("Starting document migration for type",
				zap.Int("version_from", from),
				zap.Int("version_to", effective))
		}
		seen++

		n, err := r.MigrateDocument(doc, typ, timing)
		if err != nil {
			r.count(typ, timing, labelFailed)
			return migrated, err
		}
		if n == 0 {
			r.count(typ, timing, labelSkipped)
			continue
		}

		id, ok := doc.ID()
		if !ok {
			r.count(typ, timing, labelFailed)
			return migrated, &kerrors.Error{
				Code: kerrors.EInvalid,
				Msg:  fmt.Sprintf("%s document has no %s field", typ, docschema.IDField),
			}
		}
		raw, err := bson.Marshal(doc)
		if err != nil {
			r.count(typ, timing, labelFailed)
			return migrated, err
		}

		if err := r.store.ReplaceByID(ctx, coll, id, raw, false); err != nil {
			if errors.Is(err, docschema.ErrDocumentNotFound) {
				log.Debug("Document removed during migration", zap.Any("id", id))
				r.count(typ, timing, labelVanished)
				continue
			}
			r.count(typ, timing, labelFailed)
			return migrated, fmt.Errorf("replacing %s document: %w", typ, err)
		}
		migrated++
		r.count(typ, timing, labelMigrated)
	}
	if err := cur.Err(); err != nil {
		return migrated, fmt.Errorf("reading %s documents: %w", typ, err)
	}

	if migrated > 0 {
		log.Info("Migrated documents", zap.Int("count", migrated))
	}
	return migrated, nil
}

func (r *DocumentRunner) count(typ docschema.DocumentType, timing docschema.Timing, result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.Documents.WithLabelValues(string(typ), timing.String(), result).Inc()
}

// TypeResult is the outcome of the bulk pass over one document type.
type TypeResult struct {
	Type     docschema.DocumentType
	Migrated int
	Err      error
}

// BulkResult is the outcome of MigrateAllTypes.
type BulkResult struct {
	Types []TypeResult
}

// Migrated returns the number of documents written across all types.
func (b BulkResult) Migrated() int {
	n := 0
	for _, t := range b.Types {
		n += t.Migrated
	}
	return n
}

// Err combines the failures of all types, or returns nil.
func (b BulkResult) Err() error {
	var err error
	for _, t := range b.Types {
		if t.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", t.Type, t.Err))
		}
	}
	return err
}

// MigrateAllTypes runs MigrateType for every eligible type. A failing type is
// logged and recorded in the result; the remaining types still run.
func (r *DocumentRunner) MigrateAllTypes(ctx context.Context, timing docschema.Timing) BulkResult {
	var result BulkResult
	for _, typ := range r.Types(timing) {
		if err := ctx.Err(); err != nil {
			result.Types = append(result.Types, TypeResult{Type: typ, Err: err})
			break
		}

		n, err := r.MigrateType(ctx, typ, timing)
		if err != nil {
			r.log.Warn("Failed to run document migration for type",
				zap.String("document_type", string(typ)),
				zap.Error(err))
		}
		result.Types = append(result.Types, TypeResult{Type: typ, Migrated: n, Err: err})
	}
	return result
}
