package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestReleaseOnError_OnlyWhenFailing(t *testing.T) {
	var released int
	release := func() error {
		released++
		return nil
	}

	var ok error
	releaseOnError(&ok, release)
	assert.NoError(t, ok)
	assert.Zero(t, released)

	failed := errors.New("dial tcp: connection refused")
	err := failed
	releaseOnError(&err, release)
	assert.Equal(t, 1, released)
	assert.ErrorIs(t, err, failed)
}

func TestReleaseOnError_JoinsReleaseFailure(t *testing.T) {
	failed := errors.New("ping database")
	flush := errors.New("flush spans")

	err := failed
	releaseOnError(&err, func() error { return flush })

	assert.ErrorIs(t, err, failed)
	assert.ErrorIs(t, err, flush)
}

func TestNewApp_ShutsDownTelemetryWhenDatabaseUnreachable(t *testing.T) {
	t.Setenv("LIBRARY_DATABASE_URL", "postgres://library@127.0.0.1:1/library?sslmode=disable&connect_timeout=1")
	t.Setenv("LIBRARY_AUTH_JWT_SECRET", "app-test-secret")
	configPath = ""

	_, err := newApp(context.Background())
	require.ErrorContains(t, err, "failed to connect to database")

	// A shut down tracer provider hands out non-recording spans.
	_, span := otel.Tracer("app-test").Start(context.Background(), "after-failed-start")
	defer span.End()
	assert.False(t, span.IsRecording())
}
