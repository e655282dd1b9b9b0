package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	cmd, err := newRootCommand(&out)
	require.NoError(t, err)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestMigrateAndStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docschema.db")

	out := execute(t, "status", "--bolt-path", path, "--log-level", "error")
	assert.Contains(t, out, "Database schema version: 0 (latest 1)")

	out = execute(t, "migrate", "--bolt-path", path, "--log-level", "error", "--print-metrics")
	assert.Contains(t, out, "user: migrated 0 documents")
	assert.Contains(t, out, "# TYPE docschema_migration_database_steps_total counter\n")
	assert.Contains(t, out, `docschema_migration_database_steps_total{direction="up"} 1`)
	assert.Contains(t, out, "# HELP docschema_migration_bulk_duration_seconds Histogram of times spent migrating a whole document type\n")
	assert.Contains(t, out, `docschema_migration_bulk_duration_seconds_bucket{document_type="user",le="+Inf"} 1`)
	assert.Contains(t, out, `docschema_migration_bulk_duration_seconds_count{document_type="user"} 1`)

	out = execute(t, "status", "--bolt-path", path, "--log-level", "error")
	assert.Contains(t, out, "Database schema version: 1 (latest 1)")
	assert.Regexp(t, `user\s+Users\s+1\s+0`, out)

	out = execute(t, "migrate", "--bolt-path", path, "--log-level", "error", "--target", "0", "--skip-documents")
	assert.Empty(t, out)

	out = execute(t, "status", "--bolt-path", path, "--log-level", "error")
	assert.Contains(t, out, "Database schema version: 0 (latest 1)")
}

func TestStatus_EnvConfiguration(t *testing.T) {
	t.Setenv("DOCSCHEMA_BOLT_PATH", filepath.Join(t.TempDir(), "env.db"))
	t.Setenv("DOCSCHEMA_LOG_LEVEL", "error")

	out := execute(t, "status")
	assert.Contains(t, out, "Database schema version: 0 (latest 1)")
}
