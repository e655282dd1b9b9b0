//go:build integration

package mongo_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/docschema/docschema"
	"github.com/docschema/docschema/kit/platform/errors"
	"github.com/docschema/docschema/mongo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *mongo.Store {
	t.Helper()
	ctx := context.Background()

	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:6",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to initialize mongo testcontainer: %v", err)
	}
	t.Cleanup(func() { _ = mongoC.Terminate(ctx) })

	host, err := mongoC.Host(ctx)
	require.NoError(t, err)
	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	s, err := mongo.Open(ctx, zaptest.NewLogger(t), fmt.Sprintf("mongodb://%s:%s", host, port.Port()), "docschema_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	return s
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	raw, err := bson.Marshal(bson.D{{Key: "_id", Value: int32(1)}, {Key: "FirstName", Value: "Ada"}})
	require.NoError(t, err)

	assert.ErrorIs(t, s.ReplaceByID(ctx, "Users", int32(1), raw, false), docschema.ErrDocumentNotFound)
	require.NoError(t, s.ReplaceByID(ctx, "Users", int32(1), raw, true))

	got, err := s.FindByID(ctx, "Users", int32(1))
	require.NoError(t, err)
	doc, err := docschema.DecodeDocument(got)
	require.NoError(t, err)
	name, _ := doc.LookupString("FirstName")
	assert.Equal(t, "Ada", name)

	_, err = s.FindByID(ctx, "Users", int32(2))
	assert.ErrorIs(t, err, docschema.ErrDocumentNotFound)

	cur, err := s.Find(ctx, "Users", docschema.Ne("_schemaVersion", int32(1)))
	require.NoError(t, err)
	n := 0
	for cur.Next(ctx) {
		n++
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close(ctx))
	assert.Equal(t, 1, n)

	spec := docschema.IndexSpec{
		Name:   "FirstName_1",
		Keys:   []docschema.IndexKey{{Field: "FirstName"}},
		Unique: true,
	}
	require.NoError(t, s.CreateIndex(ctx, "Users", spec))

	dup, err := bson.Marshal(bson.D{{Key: "_id", Value: int32(2)}, {Key: "FirstName", Value: "Ada"}})
	require.NoError(t, err)
	assert.Equal(t, errors.EConflict, errors.ErrorCode(s.ReplaceByID(ctx, "Users", int32(2), dup, true)))

	require.NoError(t, s.DropIndex(ctx, "Users", "FirstName_1"))
	assert.Equal(t, errors.ENotFound, errors.ErrorCode(s.DropIndex(ctx, "Users", "FirstName_1")))
}
