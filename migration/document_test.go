package migration_test

import (
	"context"
	"errors"
	"testing"

	"github.com/docschema/docschema"
	"github.com/docschema/docschema/collection"
	"github.com/docschema/docschema/migration"
	"github.com/docschema/docschema/version"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap/zaptest"
)

// appendStep records the applied transforms in the "steps" field.
func appendStep(step string) docschema.DocumentMigrationFunc {
	return func(doc *docschema.Document) error {
		s, _ := doc.LookupString("steps")
		doc.Set("steps", s+step)
		return nil
	}
}

func userMigration(v int, timing docschema.Timing) docschema.DocumentMigration {
	name := string(rune('0' + v))
	return docschema.NewDocumentMigration("user", v, timing, appendStep("+"+name), appendStep("-"+name))
}

type fixture struct {
	store   docschema.DocumentStore
	locator *version.Locator
	runner  *migration.DocumentRunner
	metrics *migration.Metrics
}

func newFixture(t *testing.T, store docschema.DocumentStore, ms ...docschema.DocumentMigration) *fixture {
	t.Helper()

	locator, err := version.NewLocator(ms)
	require.NoError(t, err)

	resolver := collection.NewResolver().MustRegister("user", "Users")
	metrics := migration.NewMetrics()
	return &fixture{
		store:   store,
		locator: locator,
		metrics: metrics,
		runner: migration.NewDocumentRunner(zaptest.NewLogger(t), store, resolver, locator, ms,
			migration.WithDocumentMetrics(metrics)),
	}
}

func (f *fixture) put(t *testing.T, elems ...bson.E) {
	t.Helper()
	doc := docschema.NewDocument(elems...)
	id, ok := doc.ID()
	require.True(t, ok)
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, f.store.ReplaceByID(context.Background(), "Users", id, raw, true))
}

func (f *fixture) get(t *testing.T, id interface{}) *docschema.Document {
	t.Helper()
	raw, err := f.store.FindByID(context.Background(), "Users", id)
	require.NoError(t, err)
	doc, err := docschema.DecodeDocument(raw)
	require.NoError(t, err)
	return doc
}

func versionOf(doc *docschema.Document) int {
	v, _ := doc.Int(version.DefaultVersionField)
	return v
}

func stepsOf(doc *docschema.Document) string {
	s, _ := doc.LookupString("steps")
	return s
}

func TestMigrateDocument_UpAndIdempotent(t *testing.T) {
	f := newFixture(t, newStore(t), userMigration(2, docschema.OnAccess), userMigration(1, docschema.OnAccess))

	doc := docschema.NewDocument(bson.E{Key: "_id", Value: int32(1)})
	n, err := f.runner.MigrateDocument(doc, "user", docschema.OnAccess)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "+1+2", stepsOf(doc))
	assert.Equal(t, 2, versionOf(doc))

	n, err = f.runner.MigrateDocument(doc, "user", docschema.OnAccess)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "+1+2", stepsOf(doc))
	assert.Equal(t, 2, versionOf(doc))
}

func TestMigrateDocument_Down(t *testing.T) {
	f := newFixture(t, newStore(t),
		userMigration(1, docschema.OnAccess),
		userMigration(2, docschema.OnAccess),
		userMigration(3, docschema.OnAccess))
	require.NoError(t, f.locator.SetTargetVersion("user", 1))

	doc := docschema.NewDocument(
		bson.E{Key: "_id", Value: int32(1)},
		bson.E{Key: version.DefaultVersionField, Value: int32(3)},
	)
	n, err := f.runner.MigrateDocument(doc, "user", docschema.OnAccess)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "-3-2", stepsOf(doc))
	assert.Equal(t, 1, versionOf(doc))
}

func TestMigrateDocument_AtStartIsCapped(t *testing.T) {
	f := newFixture(t, newStore(t),
		userMigration(1, docschema.OnAccess),
		userMigration(2, docschema.AtStart),
		userMigration(3, docschema.OnAccess))

	doc := docschema.NewDocument(bson.E{Key: "_id", Value: int32(1)})
	n, err := f.runner.MigrateDocument(doc, "user", docschema.AtStart)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "+1+2", stepsOf(doc))
	assert.Equal(t, 2, versionOf(doc))

	n, err = f.runner.MigrateDocument(doc, "user", docschema.OnAccess)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "+1+2+3", stepsOf(doc))
	assert.Equal(t, 3, versionOf(doc))
}

func TestMigrateDocument_AtStartDownRevertsOnAccessSteps(t *testing.T) {
	f := newFixture(t, newStore(t),
		userMigration(1, docschema.OnAccess),
		userMigration(2, docschema.AtStart),
		userMigration(3, docschema.OnAccess))
	require.NoError(t, f.locator.SetTargetVersion("user", 1))

	doc := docschema.NewDocument(
		bson.E{Key: "_id", Value: int32(1)},
		bson.E{Key: version.DefaultVersionField, Value: int32(3)},
		bson.E{Key: "steps", Value: "+2+3"})
	n, err := f.runner.MigrateDocument(doc, "user", docschema.AtStart)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "+2+3-3-2", stepsOf(doc))
	assert.Equal(t, 1, versionOf(doc))

	n, err = f.runner.MigrateDocument(doc, "user", docschema.OnAccess)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrateDocument_AtStartLeavesNewerDocuments(t *testing.T) {
	f := newFixture(t, newStore(t),
		userMigration(1, docschema.AtStart),
		userMigration(2, docschema.OnAccess))

	doc := docschema.NewDocument(
		bson.E{Key: "_id", Value: int32(1)},
		bson.E{Key: version.DefaultVersionField, Value: int32(2)})
	n, err := f.runner.MigrateDocument(doc, "user", docschema.AtStart)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, versionOf(doc))
}

func TestMigrateDocument_NoAtStartMigrations(t *testing.T) {
	f := newFixture(t, newStore(t), userMigration(1, docschema.OnAccess))

	doc := docschema.NewDocument(bson.E{Key: "_id", Value: int32(1)})
	n, err := f.runner.MigrateDocument(doc, "user", docschema.AtStart)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, doc.Has(version.DefaultVersionField))
	assert.Empty(t, f.runner.Types(docschema.AtStart))
	assert.Equal(t, []docschema.DocumentType{"user"}, f.runner.Types(docschema.OnAccess))
}

func TestMigrateDocument_InvalidVersionField(t *testing.T) {
	f := newFixture(t, newStore(t), userMigration(1, docschema.OnAccess))

	doc := docschema.NewDocument(bson.E{Key: version.DefaultVersionField, Value: "one"})
	_, err := f.runner.MigrateDocument(doc, "user", docschema.OnAccess)
	assert.Error(t, err)

	ms := []docschema.DocumentMigration{userMigration(1, docschema.OnAccess)}
	locator, err := version.NewLocator(ms, version.WithVersionField(""))
	require.NoError(t, err)
	runner := migration.NewDocumentRunner(zaptest.NewLogger(t), newStore(t), collection.NewResolver(), locator, ms)
	_, err = runner.MigrateDocument(docschema.NewDocument(), "user", docschema.OnAccess)
	var conf *docschema.ConfigurationError
	assert.True(t, errors.As(err, &conf))
}

func TestMigrateType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newStore(t), userMigration(1, docschema.AtStart), userMigration(2, docschema.AtStart))

	f.put(t, bson.E{Key: "_id", Value: int32(1)})
	f.put(t, bson.E{Key: "_id", Value: int32(2)}, bson.E{Key: version.DefaultVersionField, Value: int32(1)})
	f.put(t, bson.E{Key: "_id", Value: int32(3)}, bson.E{Key: version.DefaultVersionField, Value: int32(2)})

	n, err := f.runner.MigrateType(ctx, "user", docschema.AtStart)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "+1+2", stepsOf(f.get(t, int32(1))))
	assert.Equal(t, "+2", stepsOf(f.get(t, int32(2))))
	assert.Equal(t, "", stepsOf(f.get(t, int32(3))))
	for _, id := range []int32{1, 2, 3} {
		assert.Equal(t, 2, versionOf(f.get(t, id)))
	}

	n, err = f.runner.MigrateType(ctx, "user", docschema.AtStart)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Documents.WithLabelValues("user", "at-start", "migrated")))
}

func TestMigrateType_AtStartLeavesOnAccessForLater(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newStore(t), userMigration(2, docschema.AtStart), userMigration(3, docschema.OnAccess))

	f.put(t, bson.E{Key: "_id", Value: int32(1)})

	n, err := f.runner.MigrateType(ctx, "user", docschema.AtStart)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, versionOf(f.get(t, int32(1))))

	// still below the target so it is matched again, but left unchanged
	n, err = f.runner.MigrateType(ctx, "user", docschema.AtStart)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Documents.WithLabelValues("user", "at-start", "skipped")))
}

func TestMigrateType_TransformErrorAbortsType(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("cannot split name")
	failing := docschema.UpOnlyDocumentMigration("user", 1, docschema.AtStart, func(doc *docschema.Document) error {
		if doc.Has("bad") {
			return boom
		}
		doc.Set("ok", true)
		return nil
	})
	f := newFixture(t, newStore(t), failing)

	f.put(t, bson.E{Key: "_id", Value: int32(1)})
	f.put(t, bson.E{Key: "_id", Value: int32(2)}, bson.E{Key: "bad", Value: true})
	f.put(t, bson.E{Key: "_id", Value: int32(3)})

	n, err := f.runner.MigrateType(ctx, "user", docschema.AtStart)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)

	assert.Equal(t, 1, versionOf(f.get(t, int32(1))))
	assert.False(t, f.get(t, int32(2)).Has(version.DefaultVersionField))
	assert.False(t, f.get(t, int32(3)).Has(version.DefaultVersionField))
}

// vanishingStore reports every replace of one id as a missing document.
type vanishingStore struct {
	docschema.DocumentStore
	id int32
}

func (s *vanishingStore) ReplaceByID(ctx context.Context, collection string, id interface{}, raw []byte, upsert bool) error {
	if v, ok := id.(int32); ok && v == s.id && !upsert {
		return docschema.ErrDocumentNotFound
	}
	return s.DocumentStore.ReplaceByID(ctx, collection, id, raw, upsert)
}

func TestMigrateType_SkipsVanishedDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &vanishingStore{DocumentStore: newStore(t), id: 2}, userMigration(1, docschema.AtStart))

	for _, id := range []int32{1, 2, 3} {
		f.put(t, bson.E{Key: "_id", Value: id})
	}

	n, err := f.runner.MigrateType(ctx, "user", docschema.AtStart)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Documents.WithLabelValues("user", "at-start", "vanished")))
}

func TestMigrateAllTypes_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	ms := []docschema.DocumentMigration{
		docschema.UpOnlyDocumentMigration("order", 1, docschema.AtStart, nil),
		userMigration(1, docschema.AtStart),
		docschema.UpOnlyDocumentMigration("invoice", 1, docschema.OnAccess, nil),
	}
	f := newFixture(t, store, ms...)
	f.put(t, bson.E{Key: "_id", Value: int32(1)})

	result := f.runner.MigrateAllTypes(ctx, docschema.AtStart)
	require.Len(t, result.Types, 2)
	assert.Equal(t, docschema.DocumentType("order"), result.Types[0].Type)
	assert.Error(t, result.Types[0].Err)
	assert.Equal(t, docschema.DocumentType("user"), result.Types[1].Type)
	assert.NoError(t, result.Types[1].Err)
	assert.Equal(t, 1, result.Migrated())

	var missing *docschema.MissingMappingError
	assert.True(t, errors.As(result.Err(), &missing))
	assert.Equal(t, 1, versionOf(f.get(t, int32(1))))
}

func TestMigrateAllTypes_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newFixture(t, newStore(t), userMigration(1, docschema.AtStart))
	result := f.runner.MigrateAllTypes(ctx, docschema.AtStart)
	assert.ErrorIs(t, result.Err(), context.Canceled)
}
