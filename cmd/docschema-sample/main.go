// Command docschema-sample runs the start-up migrations of the sample user
// store, saves a user in its pre-migration shape and reads it back through
// the migration interceptor.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/docschema/docschema/engine"
	"github.com/docschema/docschema/internal/backend"
	"github.com/docschema/docschema/internal/sample"
	"github.com/docschema/docschema/kit/cli"
	"github.com/docschema/docschema/logger"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	var (
		config    backend.Config
		logLevel  zapcore.Level
		writeBack bool
	)

	cmd, err := cli.NewCommand(viper.New(), &cli.Program{
		Name:      "docschema-sample",
		Short:     "Demonstrate eager and lazy document migrations",
		EnvPrefix: "docschema",
		Opts: []cli.Opt{
			{DestP: &config.BoltPath, Flag: "bolt-path", Desc: "path to a bolt database file"},
			{DestP: &config.MongoURI, Flag: "mongo-uri", Desc: "MongoDB connection string"},
			{DestP: &config.Database, Flag: "database", Default: "docschema-sample", Desc: "MongoDB database name"},
			{DestP: &logLevel, Flag: "log-level", Default: zapcore.InfoLevel, Desc: "supported log levels are debug, info, warn and error"},
			{DestP: &writeBack, Flag: "write-back", Desc: "persist documents migrated on read"},
		},
		Run: func() error {
			log, err := logger.Config{Format: "console", Level: logLevel}.New(os.Stdout)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return run(context.Background(), log, config, writeBack)
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, log *zap.Logger, config backend.Config, writeBack bool) error {
	store, err := backend.Open(ctx, log, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(ctx); err != nil {
			log.Warn("Failed to close store", zap.Error(err))
		}
	}()

	opts := []engine.Option{engine.WithLogger(log)}
	if writeBack {
		opts = append(opts, engine.WithWriteBack())
	}
	e, err := engine.New(store, sample.Registry(), sample.Resolver(), opts...)
	if err != nil {
		return err
	}

	res, err := e.Start(ctx)
	if err != nil {
		return err
	}
	log.Info("Started application", zap.Int("migrated_documents", res.Migrated()))

	if err := sample.SaveLegacyUser(ctx, store); err != nil {
		return err
	}

	users, err := engine.NewCollection[sample.User](e, sample.UserType)
	if err != nil {
		return err
	}
	u, err := users.Get(ctx, sample.LegacyUserID.String())
	if err != nil {
		return fmt.Errorf("could not find user with expected id: %w", err)
	}
	log.Info("User's full name", zap.String("full_name", u.FullName))
	return nil
}
