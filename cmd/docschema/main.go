package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/docschema/docschema"
	"github.com/docschema/docschema/engine"
	"github.com/docschema/docschema/internal/backend"
	"github.com/docschema/docschema/internal/sample"
	"github.com/docschema/docschema/kit/cli"
	"github.com/docschema/docschema/logger"
	"github.com/docschema/docschema/migration"
	"github.com/docschema/docschema/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cmd, err := newRootCommand(os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every sub-command.
type globalFlags struct {
	backend          backend.Config
	logLevel         zapcore.Level
	logFormat        string
	versionField     string
	schemaCollection string
}

func (f *globalFlags) opts() []cli.Opt {
	return []cli.Opt{
		{DestP: &f.backend.BoltPath, Flag: "bolt-path", Desc: "path to a bolt database file"},
		{DestP: &f.backend.MongoURI, Flag: "mongo-uri", Desc: "MongoDB connection string; takes precedence over --bolt-path"},
		{DestP: &f.backend.Database, Flag: "database", Default: "docschema", Desc: "MongoDB database name"},
		{DestP: &f.logLevel, Flag: "log-level", Default: zapcore.InfoLevel, Desc: "supported log levels are debug, info, warn and error"},
		{DestP: &f.logFormat, Flag: "log-format", Default: "console", Desc: "log format, console or json"},
		{DestP: &f.versionField, Flag: "version-field", Default: version.DefaultVersionField, Desc: "document field holding the schema version"},
		{DestP: &f.schemaCollection, Flag: "schema-collection", Default: migration.DefaultSchemaCollection, Desc: "collection holding the database schema version"},
	}
}

func newRootCommand(w io.Writer) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:          "docschema",
		Short:        "Manage document schema migrations",
		SilenceUsage: true,
	}

	status, err := newStatusCommand(w)
	if err != nil {
		return nil, err
	}
	migrate, err := newMigrateCommand(w)
	if err != nil {
		return nil, err
	}
	root.AddCommand(status, migrate)
	return root, nil
}

// session is an open store with an engine over it.
type session struct {
	log    *zap.Logger
	store  *backend.Store
	engine *engine.Engine
}

func (f *globalFlags) open(ctx context.Context) (*session, error) {
	log, err := logger.Config{Format: f.logFormat, Level: f.logLevel}.New(os.Stderr)
	if err != nil {
		return nil, err
	}

	store, err := backend.Open(ctx, log, f.backend)
	if err != nil {
		return nil, err
	}

	e, err := engine.New(store, sample.Registry(), sample.Resolver(),
		engine.WithLogger(log),
		engine.WithVersionField(f.versionField),
		engine.WithSchemaCollection(f.schemaCollection))
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return &session{log: log, store: store, engine: e}, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.store.Close(ctx); err != nil {
		s.log.Warn("Failed to close store", zap.Error(err))
	}
	_ = s.log.Sync()
}

func newStatusCommand(w io.Writer) (*cobra.Command, error) {
	var flags globalFlags
	return cli.NewCommand(viper.New(), &cli.Program{
		Name:      "status",
		Short:     "Print the schema version of the database and the stale documents per type",
		EnvPrefix: "docschema",
		Opts:      flags.opts(),
		Run: func() error {
			ctx := context.Background()
			s, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			st, err := s.engine.Status(ctx)
			if err != nil {
				return err
			}
			writeStatus(w, st)
			return nil
		},
	})
}

func writeStatus(w io.Writer, st engine.Status) {
	fmt.Fprintf(w, "Database schema version: %d (latest %d)\n", st.DatabaseVersion, st.LatestVersion)
	if len(st.Types) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tCOLLECTION\tTARGET\tSTALE")
	for _, t := range st.Types {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", t.Type, t.Collection, t.Target, t.Stale)
	}
	_ = tw.Flush()
}

func newMigrateCommand(w io.Writer) (*cobra.Command, error) {
	var (
		flags         globalFlags
		target        int
		skipDocuments bool
		allDocuments  bool
		printMetrics  bool
	)
	opts := append(flags.opts(),
		cli.Opt{DestP: &target, Flag: "target", Default: -1, Desc: "database schema version to migrate to; negative means latest"},
		cli.Opt{DestP: &skipDocuments, Flag: "skip-documents", Desc: "only run database migrations"},
		cli.Opt{DestP: &allDocuments, Flag: "all-documents", Desc: "also run on-access document migrations in the bulk pass"},
		cli.Opt{DestP: &printMetrics, Flag: "print-metrics", Desc: "print the migration counters when done"},
	)

	return cli.NewCommand(viper.New(), &cli.Program{
		Name:      "migrate",
		Short:     "Run database migrations and the bulk document pass",
		EnvPrefix: "docschema",
		Opts:      opts,
		Run: func() error {
			ctx := context.Background()
			s, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			s.engine.InstallInterceptors()

			to := target
			if to < 0 {
				to = migration.Latest
			}
			if err := s.engine.RunDatabaseMigrations(ctx, to); err != nil {
				return err
			}

			if !skipDocuments {
				timing := docschema.AtStart
				if allDocuments {
					timing = docschema.OnAccess
				}
				res := s.engine.MigrateAllDocumentTypes(ctx, timing)
				for _, t := range res.Types {
					if t.Err != nil {
						fmt.Fprintf(w, "%s: failed after %d documents: %v\n", t.Type, t.Migrated, t.Err)
						continue
					}
					fmt.Fprintf(w, "%s: migrated %d documents\n", t.Type, t.Migrated)
				}
				if err := res.Err(); err != nil {
					return err
				}
			}

			if printMetrics {
				reg := prometheus.NewRegistry()
				reg.MustRegister(s.engine.PrometheusCollectors()...)
				reg.MustRegister(s.store.Collectors...)
				return writeMetrics(w, reg)
			}
			return nil
		},
	})
}

// writeMetrics encodes every gathered family in the prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
