package testing

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/2beens/trifecta/internal/db"
)

// GetDBPool connects to the postgres given by POSTGRES_HOST / POSTGRES_PORT / POSTGRES_DB
// (localhost:5432/trifecta by default) and applies the schema.
func GetDBPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	host := getEnv("POSTGRES_HOST", "localhost")
	t.Logf("using postgres host: %s", host)

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         host,
		DBPort:         getEnv("POSTGRES_PORT", "5432"),
		DBName:         getEnv("POSTGRES_DB", "trifecta"),
		TracingEnabled: false,
	})
	require.NoError(t, err)
	t.Cleanup(dbPool.Close)

	require.NoError(t, dbPool.Ping(ctx))
	require.NoError(t, db.ApplySchema(ctx, dbPool))

	return dbPool
}
