// Package integration runs the catalog sync stack against real PostgreSQL
// and Redis containers started with testcontainers.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/erp/catalogsync/internal/infrastructure/migration"
)

var (
	// Shared containers for all tests in the package
	sharedMu       sync.Mutex
	sharedPostgres testcontainers.Container
	sharedDSN      string
	sharedRedis    testcontainers.Container
	sharedRedisURL string
)

// TestDB represents a test database connection
type TestDB struct {
	DB    *gorm.DB
	SqlDB *sql.DB
	DSN   string
	t     *testing.T
}

// NewTestDB returns a connection to the shared PostgreSQL container with all
// embedded migrations applied. Tables are truncated on cleanup.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	sharedMu.Lock()
	defer sharedMu.Unlock()

	ctx := context.Background()

	if sharedPostgres == nil {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("catalogsync_test"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		require.NoError(t, err, "Failed to start PostgreSQL container")

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err, "Failed to get connection string")

		sharedPostgres = container
		sharedDSN = dsn

		_, sqlDB := connectToDatabase(t, dsn)
		runMigrations(t, sqlDB)
		_ = sqlDB.Close()
	}

	db, sqlDB := connectToDatabase(t, sharedDSN)
	testDB := &TestDB{
		DB:    db,
		SqlDB: sqlDB,
		DSN:   sharedDSN,
		t:     t,
	}

	t.Cleanup(func() {
		testDB.CleanTables()
		_ = testDB.SqlDB.Close()
	})

	return testDB
}

// CleanTables truncates all tables except the migration bookkeeping
func (tdb *TestDB) CleanTables() {
	tdb.t.Helper()

	var tables []string
	err := tdb.DB.Raw(`
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		AND tablename != 'schema_migrations'
	`).Scan(&tables).Error
	require.NoError(tdb.t, err, "Failed to get table names")

	for _, table := range tables {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %q CASCADE", table)).Error; err != nil {
			tdb.t.Logf("Warning: Failed to truncate table %s: %v", table, err)
		}
	}
}

// NewTestRedis returns a client for the shared Redis container.
// The selected database is flushed on cleanup.
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	sharedMu.Lock()
	defer sharedMu.Unlock()

	ctx := context.Background()

	if sharedRedis == nil {
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor: wait.ForLog("Ready to accept connections").
					WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		require.NoError(t, err, "Failed to start Redis container")

		host, err := container.Host(ctx)
		require.NoError(t, err)
		port, err := container.MappedPort(ctx, "6379/tcp")
		require.NoError(t, err)

		sharedRedis = container
		sharedRedisURL = fmt.Sprintf("redis://%s:%s/0", host, port.Port())
	}

	opts, err := redis.ParseURL(sharedRedisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(ctx).Err(), "Failed to ping Redis")

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

// connectToDatabase establishes a GORM connection to the database
func connectToDatabase(t *testing.T, dsn string) (*gorm.DB, *sql.DB) {
	t.Helper()

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig)
	require.NoError(t, err, "Failed to connect to database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "Failed to get underlying SQL DB")

	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, sqlDB
}

// runMigrations applies the migrations embedded in the binary
func runMigrations(t *testing.T, sqlDB *sql.DB) {
	t.Helper()

	m, err := migration.New(sqlDB, "", nil)
	require.NoError(t, err, "Failed to create migrator")
	require.NoError(t, m.Up(), "Failed to run migrations")
}

// CleanupSharedContainers terminates the shared containers.
// Called from TestMain.
func CleanupSharedContainers() {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, c := range []testcontainers.Container{sharedPostgres, sharedRedis} {
		if c != nil {
			_ = c.Terminate(ctx)
		}
	}
	sharedPostgres, sharedDSN = nil, ""
	sharedRedis, sharedRedisURL = nil, ""
}
