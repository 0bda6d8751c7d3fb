package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asgl-platform/docchat/internal/shared"
)

func serializationErr() error {
	return fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40001", Message: "could not serialize access"})
}

func TestRetrySerializableRecoversFromAbort(t *testing.T) {
	calls := 0
	err := retrySerializable(3, func() error {
		calls++
		if calls < 3 {
			return serializationErr()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrySerializableGivesUpAfterBound(t *testing.T) {
	calls := 0
	err := retrySerializable(3, func() error {
		calls++
		return serializationErr()
	})
	require.Error(t, err)
	assert.True(t, IsSerializationFailure(err))
	assert.Equal(t, 3, calls)
}

func TestRetrySerializableDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := retrySerializable(3, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestIsSerializationFailure(t *testing.T) {
	assert.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsSerializationFailure(serializationErr()))
	assert.False(t, IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsSerializationFailure(errors.New("boom")))
	assert.False(t, IsSerializationFailure(nil))
}

func TestClassifyTaxonomy(t *testing.T) {
	assert.NoError(t, Classify(nil))

	err := Classify(fmt.Errorf("query: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, shared.ErrStoreTimeout)

	domain := errors.New("rbac: not found")
	assert.Equal(t, domain, Classify(domain))
}
