package backend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAmbiguousRoute, KindOf(NewError(KindAmbiguousRoute, "no winner")))
	assert.Equal(t, KindExecutionError, KindOf(errors.New("driver said no")))

	wrapped := fmt.Errorf("dispatch failed: %w", NewError(KindUnavailable, "connection refused"))
	assert.Equal(t, KindUnavailable, KindOf(wrapped))
}

func TestIsKind(t *testing.T) {
	err := WrapError(KindCancelled, StoreA, errors.New("context canceled"))
	assert.True(t, IsKind(err, KindCancelled))
	assert.False(t, IsKind(err, KindUnavailable))
	assert.False(t, IsKind(errors.New("plain"), KindCancelled))
}

func TestWrapErrorPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(KindUnavailable, StoreC, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "store_c")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestOnlyUnavailableIsRetryable(t *testing.T) {
	assert.True(t, KindUnavailable.Retryable())
	for _, kind := range []ErrorKind{
		KindAmbiguousRoute, KindAwaitingConfirmation, KindTokenExpired,
		KindTokenInvalid, KindPolicyViolation, KindExecutionError,
		KindResultTooLarge, KindCancelled, KindValidation,
	} {
		assert.False(t, kind.Retryable(), string(kind))
	}
}
