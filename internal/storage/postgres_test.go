package storage_test

import (
	"context"
	"testing"
	"time"

	"matchgogo/backend/internal/storage"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupPostgres(t *testing.T) *storage.Service {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("matchgogo"),
		postgres.WithUsername("matchgogo"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = container.Terminate(ctx)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := storage.OpenPostgres(dsn)
	require.NoError(t, err)

	s := storage.NewStorageService(db, nil)
	require.NoError(t, s.Migrate())
	return s
}

func TestService_Postgres(t *testing.T) {
	s := setupPostgres(t)
	runMatchAndCallSuite(t, s)
}

func TestService_PostgresListMatchesReturnsQueryError(t *testing.T) {
	s := setupPostgres(t)
	sqlDB, err := s.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	matches, err := s.ListMatches(context.Background(), "amy")
	require.Error(t, err)
	require.Nil(t, matches)
}
