package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		message      string
		wantCategory ErrorCategory
	}{
		{"timeout", ErrCodeTimeout, "operation timed out", CategoryTransient},
		{"unavailable", ErrCodeUnavailable, "draining", CategoryTransient},
		{"invalid_input", ErrCodeInvalidInput, "bad port", CategoryPermanent},
		{"internal", ErrCodeInternal, "internal error", CategoryInternal},
		{"panic", ErrCodePanic, "boom", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)
			assert.Equal(t, tt.code, err.Code())
			assert.Equal(t, tt.wantCategory, err.Category())
			assert.Equal(t, tt.message, err.Error())
			assert.False(t, err.Timestamp().IsZero())
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		wantRetry bool
	}{
		{ErrCodeTimeout, true},
		{ErrCodeUnavailable, true},
		{ErrCodeNetworkErr, true},
		{ErrCodeInvalidInput, false},
		{ErrCodeCanceled, false},
		{ErrCodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.wantRetry, New(tt.code, "test").Retryable())
		})
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(ErrCodeInvalidInput, "bad", WithMetadata("field", "server.port"))
	md := err.Metadata()
	md["field"] = "mutated"
	assert.Equal(t, "server.port", err.Metadata()["field"], "Metadata() must return a copy")
}

func TestWrap(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, "ignored"))
	})

	t.Run("deadline", func(t *testing.T) {
		err := Wrap(context.DeadlineExceeded, "draining http server")
		assert.Equal(t, ErrCodeTimeout, err.Code())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("canceled", func(t *testing.T) {
		err := Wrap(context.Canceled, "stopping")
		assert.Equal(t, ErrCodeCanceled, err.Code())
	})

	t.Run("structured", func(t *testing.T) {
		inner := InvalidInput("bad port", WithMetadata("field", "server.port"))
		err := Wrap(inner, "loading config")
		assert.Equal(t, ErrCodeInvalidInput, err.Code())
		assert.Equal(t, "server.port", err.Metadata()["field"])
		assert.Equal(t, "loading config: bad port", err.Error())
	})

	t.Run("plain", func(t *testing.T) {
		err := Wrap(fmt.Errorf("disk"), "open podwork.toml")
		assert.Equal(t, ErrCodeInternal, err.Code())
	})
}

func TestWrapWithCode(t *testing.T) {
	assert.Nil(t, WrapWithCode(nil, ErrCodeNetworkErr, "x"))

	err := WrapWithCode(fmt.Errorf("connection refused"), ErrCodeNetworkErr, "nats connect")
	require.NotNil(t, err)
	assert.True(t, Is(err, ErrCodeNetworkErr))
	assert.True(t, err.Retryable(), "network errors should be retryable")
	assert.Equal(t, "nats connect: connection refused", err.Error())
}

func TestHelpersOnPlainErrors(t *testing.T) {
	plain := fmt.Errorf("plain")
	assert.Equal(t, ErrorCode(""), Code(plain))
	assert.False(t, Is(plain, ErrCodeInternal))
}

func TestIsThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("outer: %w", Unavailable("application is shutting down"))
	assert.True(t, Is(err, ErrCodeUnavailable))
	assert.Equal(t, ErrCodeUnavailable, Code(err))
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	tests := []struct {
		value interface{}
		want  string
	}{
		{"boom", "boom"},
		{fmt.Errorf("bad"), "bad"},
		{42, "42"},
	}
	for _, tt := range tests {
		err := RecoverPanic(tt.value)
		require.NotNil(t, err)
		assert.Equal(t, ErrCodePanic, err.Code())
		assert.Equal(t, tt.want, err.Error())
	}
}

func TestDefaultCategoryUnknown(t *testing.T) {
	assert.Equal(t, CategoryInternal, ErrorCode("NOPE").DefaultCategory())
}
