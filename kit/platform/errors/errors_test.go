package errors_test

import (
	"errors"
	"fmt"
	"testing"

	kerrors "github.com/docschema/docschema/kit/platform/errors"
	"github.com/stretchr/testify/assert"
)

type codedError struct{}

func (codedError) Error() string { return "coded" }
func (codedError) Code() string  { return kerrors.EConflict }

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain error", err: errors.New("boom"), want: kerrors.EInternal},
		{name: "coded", err: &kerrors.Error{Code: kerrors.ENotFound}, want: kerrors.ENotFound},
		{
			name: "code from cause",
			err:  &kerrors.Error{Op: "outer", Err: &kerrors.Error{Code: kerrors.EInvalid}},
			want: kerrors.EInvalid,
		},
		{name: "typed error", err: codedError{}, want: kerrors.EConflict},
		{name: "wrapped typed error", err: fmt.Errorf("context: %w", codedError{}), want: kerrors.EConflict},
		{name: "empty", err: &kerrors.Error{}, want: kerrors.EInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kerrors.ErrorCode(tt.err))
		})
	}
}

func TestError_Error(t *testing.T) {
	cause := errors.New("connection refused")
	tests := []struct {
		err  *kerrors.Error
		want string
	}{
		{err: &kerrors.Error{Msg: "unable to reach mongodb", Err: cause}, want: "unable to reach mongodb: connection refused"},
		{err: &kerrors.Error{Msg: "bad request"}, want: "bad request"},
		{err: &kerrors.Error{Err: cause}, want: "connection refused"},
		{err: &kerrors.Error{Code: kerrors.ENotFound}, want: "<not found>"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestWrap(t *testing.T) {
	assert.NoError(t, kerrors.Wrap(nil, "op"))

	err := kerrors.Wrap(codedError{}, "backend.Open")
	assert.Equal(t, kerrors.EConflict, kerrors.ErrorCode(err))
	assert.Equal(t, "backend.Open", kerrors.ErrorOp(err))
	assert.Equal(t, "coded", kerrors.ErrorMessage(err))

	var target codedError
	assert.True(t, errors.As(err, &target))
}

func TestErrorOpAndMessage(t *testing.T) {
	err := &kerrors.Error{Err: &kerrors.Error{Op: "kv.FindByID", Msg: "document not found"}}
	assert.Equal(t, "kv.FindByID", kerrors.ErrorOp(err))
	assert.Equal(t, "document not found", kerrors.ErrorMessage(err))

	assert.Equal(t, "", kerrors.ErrorOp(errors.New("x")))
	assert.Equal(t, "x", kerrors.ErrorMessage(errors.New("x")))
	assert.Equal(t, "An internal error has occurred.", kerrors.ErrorMessage(&kerrors.Error{}))
}

func TestAccessorsThroughWrappers(t *testing.T) {
	inner := &kerrors.Error{Code: kerrors.ENotFound, Op: "kv.FindByID", Msg: "document not found"}
	err := fmt.Errorf("reading schema version: %w", inner)

	assert.Equal(t, kerrors.ENotFound, kerrors.ErrorCode(err))
	assert.Equal(t, "kv.FindByID", kerrors.ErrorOp(err))
	assert.Equal(t, "document not found", kerrors.ErrorMessage(err))

	outer := kerrors.Wrap(fmt.Errorf("migrate: %w", inner), "engine.Start")
	assert.Equal(t, kerrors.ENotFound, kerrors.ErrorCode(outer))
	assert.Equal(t, "engine.Start", kerrors.ErrorOp(outer))

	nested := &kerrors.Error{Op: "outer", Err: fmt.Errorf("step: %w", &kerrors.Error{Op: "inner", Code: kerrors.EInvalid})}
	assert.Equal(t, kerrors.EInvalid, kerrors.ErrorCode(nested))
}
