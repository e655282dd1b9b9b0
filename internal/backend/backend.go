// Package backend opens the document store selected on the command line.
package backend

import (
	"context"

	"github.com/docschema/docschema"
	"github.com/docschema/docschema/bolt"
	"github.com/docschema/docschema/inmem"
	kerrors "github.com/docschema/docschema/kit/platform/errors"
	"github.com/docschema/docschema/kv"
	"github.com/docschema/docschema/mongo"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config selects a backend. A Mongo URI wins over a bolt path; with neither
// set the store lives in memory.
type Config struct {
	BoltPath string
	MongoURI string
	Database string
}

// Store is an open document store.
type Store struct {
	docschema.DocumentStore
	// Collectors are the metrics of the backend, if it has any.
	Collectors []prometheus.Collector

	close func(ctx context.Context) error
}

// Close releases the backend.
func (s *Store) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// Open opens the backend described by c.
func Open(ctx context.Context, log *zap.Logger, c Config) (*Store, error) {
	switch {
	case c.MongoURI != "":
		log.Info("Using mongo backend", zap.String("database", c.Database))
		s, err := mongo.Open(ctx, log.With(zap.String("service", "mongo")), c.MongoURI, c.Database)
		if err != nil {
			return nil, kerrors.Wrap(err, "backend.Open")
		}
		return &Store{DocumentStore: s, close: s.Close}, nil

	case c.BoltPath != "":
		log.Info("Using bolt backend", zap.String("path", c.BoltPath))
		kvs := bolt.NewKVStore(log.With(zap.String("service", "bolt")), c.BoltPath)
		if err := kvs.Open(ctx); err != nil {
			return nil, kerrors.Wrap(err, "backend.Open")
		}
		return &Store{
			DocumentStore: kv.NewDocumentStore(log.With(zap.String("service", "documents")), kvs),
			Collectors:    []prometheus.Collector{kvs},
			close:         func(context.Context) error { return kvs.Close() },
		}, nil

	default:
		log.Info("Using in-memory backend")
		return &Store{
			DocumentStore: kv.NewDocumentStore(log.With(zap.String("service", "documents")), inmem.NewKVStore()),
		}, nil
	}
}
