// Package mongo implements docschema.DocumentStore on a MongoDB database.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docschema/docschema"
	kerrors "github.com/docschema/docschema/kit/platform/errors"
	"github.com/opentracing/opentracing-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var _ docschema.DocumentStore = (*Store)(nil)

// Store is a docschema.DocumentStore backed by one MongoDB database.
type Store struct {
	db     *mongo.Database
	client *mongo.Client
	log    *zap.Logger
}

// NewStore wraps an already connected database.
func NewStore(log *zap.Logger, db *mongo.Database) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

// Open connects to uri and returns a store for database. The returned store
// owns the client; Close disconnects it.
func Open(ctx context.Context, log *zap.Logger, uri, database string) (*Store, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mongo.Open")
	defer span.Finish()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &kerrors.Error{Code: kerrors.EUnavailable, Msg: "unable to connect to mongodb", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &kerrors.Error{Code: kerrors.EUnavailable, Msg: "unable to reach mongodb", Err: err}
	}

	s := NewStore(log, client.Database(database))
	s.client = client
	s.log.Info("Connected to mongodb", zap.String("database", database))
	return s, nil
}

// Close disconnects the client when the store owns it.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Database returns the underlying database.
func (s *Store) Database() *mongo.Database {
	return s.db
}

// Find pushes filter down to the server.
func (s *Store) Find(ctx context.Context, collection string, filter docschema.Filter) (docschema.Cursor, error) {
	if filter == nil {
		filter = docschema.All()
	}
	cur, err := s.db.Collection(collection).Find(ctx, filter.BSON())
	if err != nil {
		return nil, wrap("mongo.Find", err)
	}
	return &cursor{cur: cur}, nil
}

// FindByID returns the document with the given _id.
func (s *Store) FindByID(ctx context.Context, collection string, id interface{}) ([]byte, error) {
	raw, err := s.db.Collection(collection).FindOne(ctx, bson.D{{Key: docschema.IDField, Value: id}}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docschema.ErrDocumentNotFound
	}
	if err != nil {
		return nil, wrap("mongo.FindByID", err)
	}
	return append([]byte(nil), raw...), nil
}

// ReplaceByID replaces the document with the given _id.
func (s *Store) ReplaceByID(ctx context.Context, collection string, id interface{}, raw []byte, upsert bool) error {
	res, err := s.db.Collection(collection).ReplaceOne(ctx,
		bson.D{{Key: docschema.IDField, Value: id}},
		bson.Raw(raw),
		options.Replace().SetUpsert(upsert),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &kerrors.Error{Code: kerrors.EConflict, Op: "mongo.ReplaceByID", Msg: "duplicate key", Err: err}
		}
		return wrap("mongo.ReplaceByID", err)
	}
	if !upsert && res.MatchedCount == 0 {
		return docschema.ErrDocumentNotFound
	}
	return nil
}

// CreateIndex creates an index through the collection's index view.
func (s *Store) CreateIndex(ctx context.Context, collection string, spec docschema.IndexSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	keys := make(bson.D, 0, len(spec.Keys))
	for _, k := range spec.Keys {
		order := 1
		if k.Descending {
			order = -1
		}
		keys = append(keys, bson.E{Key: k.Field, Value: order})
	}

	name, err := s.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName(spec.Name).SetUnique(spec.Unique),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &kerrors.Error{Code: kerrors.EConflict, Op: "mongo.CreateIndex", Msg: "duplicate key", Err: err}
		}
		return wrap("mongo.CreateIndex", err)
	}

	s.log.Debug("Index created", zap.String("collection", collection), zap.String("index", name))
	return nil
}

// DropIndex drops the named index.
func (s *Store) DropIndex(ctx context.Context, collection, name string) error {
	if _, err := s.db.Collection(collection).Indexes().DropOne(ctx, name); err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Name == "IndexNotFound" {
			return &kerrors.Error{Code: kerrors.ENotFound, Op: "mongo.DropIndex", Msg: fmt.Sprintf("index %s not found", name), Err: err}
		}
		return wrap("mongo.DropIndex", err)
	}
	return nil
}

func wrap(op string, err error) error {
	return &kerrors.Error{Code: kerrors.EInternal, Op: op, Err: err}
}

type cursor struct {
	cur *mongo.Cursor
}

func (c *cursor) Next(ctx context.Context) bool { return c.cur.Next(ctx) }

func (c *cursor) Current() []byte { return c.cur.Current }

func (c *cursor) Err() error {
	if err := c.cur.Err(); err != nil {
		return wrap("mongo.Cursor", err)
	}
	return nil
}

func (c *cursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
