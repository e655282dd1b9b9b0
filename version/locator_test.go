package version_test

import (
	"errors"
	"testing"

	"github.com/docschema/docschema"
	"github.com/docschema/docschema/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func migrations(typ docschema.DocumentType, versions ...int) []docschema.DocumentMigration {
	var ms []docschema.DocumentMigration
	for _, v := range versions {
		ms = append(ms, docschema.NewDocumentMigration(typ, v, docschema.AtStart, nil, nil))
	}
	return ms
}

func TestLocator_TargetVersion(t *testing.T) {
	tests := []struct {
		name       string
		migrations []docschema.DocumentMigration
		typ        docschema.DocumentType
		expected   int
		versioned  bool
	}{
		{
			name:     "no migrations",
			typ:      "user",
			expected: 0,
		},
		{
			name:       "max of registered versions",
			migrations: migrations("user", 2, 3, 1),
			typ:        "user",
			expected:   3,
			versioned:  true,
		},
		{
			name:       "other type only",
			migrations: migrations("order", 1),
			typ:        "user",
			expected:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := version.NewLocator(tt.migrations, version.WithLogger(zaptest.NewLogger(t)))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, l.TargetVersion(tt.typ))
			assert.Equal(t, tt.versioned, l.IsVersioned(tt.typ))
		})
	}
}

func TestLocator_ByType(t *testing.T) {
	ms := append(migrations("user", 1), migrations("order", 2)...)
	l, err := version.NewLocator(ms)
	require.NoError(t, err)

	assert.Equal(t, 1, l.TargetVersion("user"))
	assert.Equal(t, 2, l.TargetVersion("order"))
}

func TestLocator_Override(t *testing.T) {
	l, err := version.NewLocator(migrations("user", 1, 2, 3))
	require.NoError(t, err)

	require.NoError(t, l.SetTargetVersion("user", 2))
	assert.Equal(t, 2, l.TargetVersion("user"))

	require.NoError(t, l.SetTargetVersion("user", 0))
	assert.False(t, l.IsVersioned("user"))
}

func TestLocator_VersionRange(t *testing.T) {
	l, err := version.NewLocator(migrations("user", 1))
	require.NoError(t, err)

	for _, v := range []int{-1, docschema.MaxVersion + 1} {
		err := l.SetTargetVersion("user", v)
		var invalid *docschema.InvalidArgumentError
		require.True(t, errors.As(err, &invalid), "target %d", v)
		assert.Equal(t, 1, l.TargetVersion("user"))
	}
	require.NoError(t, l.SetTargetVersion("user", docschema.MaxVersion))

	_, err = version.NewLocator(migrations("user", docschema.MaxVersion+1))
	var invalid *docschema.InvalidArgumentError
	assert.True(t, errors.As(err, &invalid))
}

func TestLocator_DuplicateVersions(t *testing.T) {
	orders := [][]int{{1, 2, 1}, {1, 1}, {2, 1, 1}}
	for _, versions := range orders {
		_, err := version.NewLocator(migrations("user", versions...), version.WithLogger(zaptest.NewLogger(t)))

		var dup *docschema.DuplicateMigrationVersionError
		require.True(t, errors.As(err, &dup), "versions %v", versions)
		assert.Equal(t, "user", dup.Scope)
		assert.Equal(t, 1, dup.Version)
	}

	// the same version for different types is fine
	_, err := version.NewLocator(append(migrations("user", 1), migrations("order", 1)...))
	assert.NoError(t, err)
}

func TestLocator_InvalidVersion(t *testing.T) {
	_, err := version.NewLocator(migrations("user", 0))
	var invalid *docschema.InvalidArgumentError
	assert.True(t, errors.As(err, &invalid))
}

func TestLocator_VersionField(t *testing.T) {
	l, err := version.NewLocator(nil)
	require.NoError(t, err)
	assert.Equal(t, "_schemaVersion", l.VersionField())

	l, err = version.NewLocator(nil, version.WithVersionField("_v"))
	require.NoError(t, err)
	assert.Equal(t, "_v", l.VersionField())
}
