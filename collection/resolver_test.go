package collection_test

import (
	"errors"
	"testing"

	"github.com/docschema/docschema"
	"github.com/docschema/docschema/collection"
	kerrors "github.com/docschema/docschema/kit/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver(t *testing.T) {
	r := collection.NewResolver()
	require.NoError(t, r.Register("user", "Users"))

	name, err := r.Resolve("user")
	require.NoError(t, err)
	assert.Equal(t, "Users", name)

	_, err = r.Resolve("order")
	var missing *docschema.MissingMappingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, docschema.DocumentType("order"), missing.Type)
	assert.Equal(t, "order does not have a mapping to a collection name configured", err.Error())
	assert.Equal(t, kerrors.ENotFound, kerrors.ErrorCode(err))
}

func TestResolver_RegisterErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *collection.Resolver)
		typ   docschema.DocumentType
		coll  string
		code  string
	}{
		{
			name: "empty collection name",
			typ:  "user",
			code: kerrors.EInvalid,
		},
		{
			name: "duplicate type",
			setup: func(r *collection.Resolver) {
				r.MustRegister("user", "Users")
			},
			typ:  "user",
			coll: "People",
			code: kerrors.EConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := collection.NewResolver()
			if tt.setup != nil {
				tt.setup(r)
			}
			err := r.Register(tt.typ, tt.coll)
			require.Error(t, err)
			assert.Equal(t, tt.code, kerrors.ErrorCode(err))
		})
	}
}

func TestResolver_MustRegisterPanics(t *testing.T) {
	r := collection.NewResolver().MustRegister("user", "Users")
	assert.Panics(t, func() { r.MustRegister("user", "Users") })
	assert.Equal(t, []docschema.DocumentType{"user"}, r.Types())
}
