package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})

	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsCheckViolation(err))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestIsCheckViolation(t *testing.T) {
	assert.True(t, IsCheckViolation(&pq.Error{Code: "23514"}))
}

func TestOffset(t *testing.T) {
	assert.Equal(t, uint(0), Offset(0, 20))
	assert.Equal(t, uint(0), Offset(1, 20))
	assert.Equal(t, uint(40), Offset(3, 20))
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db := OpenTestDB(t)

	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, Migrate(context.Background(), db))
}
