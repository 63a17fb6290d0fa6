package testhelpers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/config"
	"github.com/new-bakery/nga/pkg/database"
)

const (
	PostgresImage = "postgres:16-alpine"
	RedisImage    = "redis:7-alpine"
	MongoImage    = "mongo:7"
	MinIOImage    = "minio/minio:latest"
)

// MinIO credentials used by GetTestMinIO.
const (
	MinIOAccessKey = "minioadmin"
	MinIOSecretKey = "minioadmin"
)

// TestDB holds the shared PostgreSQL container with migrations applied.
type TestDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

// TestRedis holds the shared Redis container.
type TestRedis struct {
	Container testcontainers.Container
	Client    *redis.Client
}

// TestMongo holds the shared MongoDB container.
type TestMongo struct {
	Container testcontainers.Container
	Client    *mongo.Client
}

// TestMinIO holds the shared S3-compatible object store container.
type TestMinIO struct {
	Container testcontainers.Container
	Endpoint  string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error

	sharedRedis     *TestRedis
	sharedRedisOnce sync.Once
	sharedRedisErr  error

	sharedMongo     *TestMongo
	sharedMongoOnce sync.Once
	sharedMongoErr  error

	sharedMinIO     *TestMinIO
	sharedMinIOOnce sync.Once
	sharedMinIOErr  error
)

func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
}

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once, migrated, and reused across all tests in
// the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()
	skipShort(t)

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "nga_test",
			"POSTGRES_USER":     "nga",
			"POSTGRES_PASSWORD": "test_password",
		},
		// The server restarts once after init scripts, so the message appears twice.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "5432", "")
	if err != nil {
		return nil, fmt.Errorf("failed to get container endpoint: %w", err)
	}

	connStr := fmt.Sprintf("postgres://nga:test_password@%s/nga_test?sslmode=disable", endpoint)

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	migrations, err := MigrationsPath()
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(migrations, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// GetTestRedis returns a shared Redis container.
func GetTestRedis(t *testing.T) *TestRedis {
	t.Helper()
	skipShort(t)

	sharedRedisOnce.Do(func() {
		sharedRedis, sharedRedisErr = setupRedis()
	})

	if sharedRedisErr != nil {
		t.Fatalf("Failed to setup redis: %v", sharedRedisErr)
	}

	return sharedRedis
}

func setupRedis() (*TestRedis, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        RedisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	client, err := database.NewRedisClient(ctx, &config.RedisConfig{Host: host, Port: port.Int()})
	if err != nil {
		return nil, err
	}

	return &TestRedis{Container: container, Client: client}, nil
}

// GetTestMongo returns a shared MongoDB container.
func GetTestMongo(t *testing.T) *TestMongo {
	t.Helper()
	skipShort(t)

	sharedMongoOnce.Do(func() {
		sharedMongo, sharedMongoErr = setupMongo()
	})

	if sharedMongoErr != nil {
		t.Fatalf("Failed to setup mongo: %v", sharedMongoErr)
	}

	return sharedMongo
}

func setupMongo() (*TestMongo, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        MongoImage,
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start mongo container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "27017", "mongodb")
	if err != nil {
		return nil, fmt.Errorf("failed to get container endpoint: %w", err)
	}

	client, err := database.NewMongoClient(ctx, &config.MongoConfig{URI: endpoint})
	if err != nil {
		return nil, err
	}

	return &TestMongo{Container: container, Client: client}, nil
}

// Collection returns a collection unique to the calling test.
func (m *TestMongo) Collection(t *testing.T) *mongo.Collection {
	t.Helper()
	name := fmt.Sprintf("%s_%d", filepath.Base(t.Name()), time.Now().UnixNano())
	coll := m.Client.Database("nga_test").Collection(name)
	t.Cleanup(func() {
		_ = coll.Drop(context.Background())
	})
	return coll
}

// GetTestMinIO returns a shared S3-compatible object store.
func GetTestMinIO(t *testing.T) *TestMinIO {
	t.Helper()
	skipShort(t)

	sharedMinIOOnce.Do(func() {
		sharedMinIO, sharedMinIOErr = setupMinIO()
	})

	if sharedMinIOErr != nil {
		t.Fatalf("Failed to setup minio: %v", sharedMinIOErr)
	}

	return sharedMinIO
}

func setupMinIO() (*TestMinIO, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        MinIOImage,
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     MinIOAccessKey,
				"MINIO_ROOT_PASSWORD": MinIOSecretKey,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start minio container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "9000", "http")
	if err != nil {
		return nil, fmt.Errorf("failed to get container endpoint: %w", err)
	}

	return &TestMinIO{Container: container, Endpoint: endpoint}, nil
}

// MigrationsPath locates the migrations directory by walking up from the
// working directory to the module root.
func MigrationsPath() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations"), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("module root not found")
		}
		dir = parent
	}
}
