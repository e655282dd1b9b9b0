package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/docschema/docschema"
	kerrors "github.com/docschema/docschema/kit/platform/errors"
	"github.com/docschema/docschema/kit/tracing"
	"github.com/docschema/docschema/logger"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultSchemaCollection is the collection holding the schema version record.
const DefaultSchemaCollection = "SchemaVersion"

// SchemaVersionID is the fixed identity of the schema version record.
var SchemaVersionID = uuid.MustParse("5d6d0977-eb1e-4d15-84f4-6535a411f306")

const binarySubtypeUUID = 0x04

func schemaVersionID() primitive.Binary {
	return primitive.Binary{Subtype: binarySubtypeUUID, Data: SchemaVersionID[:]}
}

// DatabaseRunner applies database migrations one after another and records
// the version reached after each step.
type DatabaseRunner struct {
	log        *zap.Logger
	store      docschema.DocumentStore
	collection string
	metrics    *Metrics

	migrations []docschema.DatabaseMigration
}

// DatabaseOption configures a DatabaseRunner.
type DatabaseOption func(*DatabaseRunner)

// WithSchemaCollection sets the collection of the schema version record.
func WithSchemaCollection(name string) DatabaseOption {
	return func(r *DatabaseRunner) {
		r.collection = name
	}
}

// WithDatabaseMetrics records applied steps in m.
func WithDatabaseMetrics(m *Metrics) DatabaseOption {
	return func(r *DatabaseRunner) {
		r.metrics = m
	}
}

// NewDatabaseRunner constructs a runner over migrations. It fails with a
// *docschema.DuplicateMigrationVersionError when two migrations share a
// version.
func NewDatabaseRunner(log *zap.Logger, store docschema.DocumentStore, migrations []docschema.DatabaseMigration, opts ...DatabaseOption) (*DatabaseRunner, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &DatabaseRunner{
		log:        log,
		store:      store,
		collection: DefaultSchemaCollection,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.collection == "" {
		return nil, &docschema.ConfigurationError{Setting: "schema collection", Reason: "must not be empty"}
	}

	seen := map[int]bool{}
	for _, m := range migrations {
		v := m.Version()
		if v < 1 || v > docschema.MaxVersion {
			return nil, &docschema.InvalidArgumentError{
				Argument: "migration version",
				Reason:   fmt.Sprintf("database migration has version %d; versions range from 1 to %d", v, docschema.MaxVersion),
			}
		}
		if seen[v] {
			r.log.Warn("Multiple database migrations defined with the same version number", zap.Int("version", v))
			return nil, &docschema.DuplicateMigrationVersionError{Scope: docschema.DatabaseScope, Version: v}
		}
		seen[v] = true
	}

	r.migrations = append([]docschema.DatabaseMigration(nil), migrations...)
	sort.Slice(r.migrations, func(i, j int) bool {
		return r.migrations[i].Version() < r.migrations[j].Version()
	})
	return r, nil
}

// LatestVersion returns the highest registered version, or 0.
func (r *DatabaseRunner) LatestVersion() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version()
}

// CurrentVersion reads the persisted schema version. A missing record means
// version 0.
func (r *DatabaseRunner) CurrentVersion(ctx context.Context) (int, error) {
	raw, err := r.store.FindByID(ctx, r.collection, schemaVersionID())
	if errors.Is(err, docschema.ErrDocumentNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}

	doc, err := docschema.DecodeDocument(raw)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	v, ok := doc.Int("version")
	if !ok {
		return 0, &kerrors.Error{
			Code: kerrors.EInternal,
			Op:   "migration.CurrentVersion",
			Msg:  "schema version record has no integer version",
		}
	}
	return v, nil
}

func (r *DatabaseRunner) putVersion(ctx context.Context, v int) error {
	id := schemaVersionID()
	raw, err := bson.Marshal(bson.D{
		{Key: docschema.IDField, Value: id},
		{Key: "version", Value: int32(v)},
	})
	if err != nil {
		return err
	}
	if err := r.store.ReplaceByID(ctx, r.collection, id, raw, true); err != nil {
		return fmt.Errorf("saving schema version %d: %w", v, err)
	}
	return nil
}

// Run moves the database from its persisted version to target, which may be
// Latest. Every step is persisted as soon as it succeeds; a failing step
// leaves the version of the last completed step in place.
//
// For example, given a database at version 1 and:
// 0001 add index on users   | (applied)
// 0002 drop legacy index    |
// 0003 add index on orders  |
//
// Run(ctx, Latest) calls Up on 0002 then 0003, and a following
// Run(ctx, 1) calls Down on 0003 then 0002.
func (r *DatabaseRunner) Run(ctx context.Context, target int) error {
	span, ctx := tracing.StartSpanFromContext(ctx)
	defer span.Finish()

	return tracing.LogError(span, r.run(ctx, target))
}

func (r *DatabaseRunner) run(ctx context.Context, target int) error {
	if target < 0 {
		return &docschema.InvalidArgumentError{Argument: "target version", Reason: "must not be negative"}
	}

	current, err := r.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	steps, dir := selectSteps(current, target, r.migrations)
	if len(steps) == 0 {
		r.log.Info("Database schema already up to date. No migrations.", zap.Int("version", current))
		return nil
	}

	if dir == Up {
		r.log.Info("Bringing up database migrations", zap.Int("migration_count", len(steps)))
	} else {
		r.log.Info("Tearing down database migrations", zap.Int("migration_count", len(steps)))
	}

	for _, m := range steps {
		next := m.Version()
		ctx := logger.NewContextWithLogger(ctx, r.log.With(zap.Int("migration_version", m.Version())))
		if dir == Up {
			r.log.Info("Upgrading database schema",
				zap.Int("version_from", current),
				zap.Int("version_to", next))
			if err := m.Up(ctx, r.store); err != nil {
				return fmt.Errorf("up: database migration %d: %w", m.Version(), err)
			}
		} else {
			next = m.Version() - 1
			r.log.Info("Downgrading database schema",
				zap.Int("version_from", current),
				zap.Int("version_to", next))
			if err := m.Down(ctx, r.store); err != nil {
				return fmt.Errorf("down: database migration %d: %w", m.Version(), err)
			}
		}

		if err := r.putVersion(ctx, next); err != nil {
			return err
		}
		current = next

		if r.metrics != nil {
			r.metrics.DatabaseSteps.WithLabelValues(dir.String()).Inc()
		}
	}

	r.log.Info("Completed database migrations", zap.Int("version", current))
	return nil
}
