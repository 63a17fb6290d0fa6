package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/adapters/datasource"
	"github.com/new-bakery/nga/pkg/adapters/datasource/mssql"
	"github.com/new-bakery/nga/pkg/adapters/datasource/mysql"
	"github.com/new-bakery/nga/pkg/adapters/datasource/postgres"
	"github.com/new-bakery/nga/pkg/adapters/datasource/sqlite"
	"github.com/new-bakery/nga/pkg/adapters/datasource/tabularfile"
	"github.com/new-bakery/nga/pkg/config"
	"github.com/new-bakery/nga/pkg/crypto"
	"github.com/new-bakery/nga/pkg/database"
	"github.com/new-bakery/nga/pkg/handlers"
	"github.com/new-bakery/nga/pkg/logging"
	"github.com/new-bakery/nga/pkg/middleware"
	"github.com/new-bakery/nga/pkg/repositories"
	"github.com/new-bakery/nga/pkg/services"
	"github.com/new-bakery/nga/pkg/services/workqueue"
	"github.com/new-bakery/nga/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.String("error", logging.SanitizeError(err)))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", cfg.Database.User+"@"+cfg.Database.Host+"/"+cfg.Database.Database),
		zap.String("mongo_database", cfg.Mongo.Database),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.Bool("s3", cfg.S3.IsConfigured()))

	// Record store
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(cfg.MigrationsPath, logger); err != nil {
		return err
	}

	// Document store
	mongoClient, err := database.NewMongoClient(ctx, &cfg.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("Failed to disconnect from MongoDB", zap.Error(err))
		}
	}()
	collection := mongoClient.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)

	// Status lock
	var locker services.Locker = services.NewLocalLocker()
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		locker = database.NewRedisLocker(redisClient)
	} else {
		logger.Info("Redis not configured, status locks are in-process only")
	}

	// Tabular file storage
	var files storage.ObjectStore = storage.NewMemoryStore()
	if cfg.S3.IsConfigured() {
		s3Store, err := storage.NewS3Store(ctx, &cfg.S3, logger)
		if err != nil {
			return err
		}
		if err := s3Store.EnsureBucket(ctx); err != nil {
			return err
		}
		files = s3Store
	} else {
		logger.Warn("S3 not configured, tabular files are held in memory")
	}

	var credentials *crypto.CredentialEncryptor
	if cfg.CredentialsKey != "" {
		credentials, err = crypto.NewCredentialEncryptor(cfg.CredentialsKey)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("CREDENTIALS_KEY not set, connection secrets are stored unencrypted")
	}

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledStrategy(cfg.Jobs.SourceWorkers, cfg.Jobs.InternalWorkers)),
		workqueue.WithHistory(cfg.Jobs.History))

	connections := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:     cfg.Datasource.ConnectionTTLMinutes,
		MaxConnections: cfg.Datasource.MaxConnections,
	}, logger)
	defer func() { _ = connections.Close() }()

	sourceRepo := repositories.NewSourceRepository(db)
	documentRepo := repositories.NewSchemaDocumentRepository(collection)

	status := services.NewStatusService(sourceRepo, locker, services.LockPolicy{
		Retries: cfg.Jobs.StatusLockRetries,
		Backoff: cfg.Jobs.StatusLockBackoff,
		TTL:     cfg.Jobs.StatusLockTTL,
	}, logger)
	settings := services.DetectionSettingsFromConfig(cfg.Detection)
	matcher := services.NewRelationshipMatcher(logger)
	connector := services.NewSourceConnector(connections, credentials)
	statistics := services.NewStatisticsService(queue, sourceRepo, documentRepo, status,
		services.NewTokenCounter(services.DefaultTokenEncoding, logger), logger)
	sources := services.NewSourceService(sourceRepo, documentRepo, connector, statistics, logger)
	relationships := services.NewRelationshipOrchestrator(queue, sourceRepo, documentRepo, status,
		matcher, connector, settings, logger)

	deps := services.AdapterDeps{
		Sources:       sources,
		Relationships: relationships,
		Statistics:    statistics,
		Connector:     connector,
		Matcher:       matcher,
		Settings:      settings,
		Logger:        logger,
	}

	registry := datasource.NewRegistry(logger)
	accepted := registry.Discover(map[string]any{
		"postgres":    services.NewSourceTypeAdapter(postgres.NewBackend(logger), deps),
		"sqlserver":   services.NewSourceTypeAdapter(mssql.NewBackend(logger), deps),
		"mysql":       services.NewSourceTypeAdapter(mysql.NewBackend(logger), deps),
		"sqlite":      services.NewSourceTypeAdapter(sqlite.NewBackend(logger), deps),
		"tabularfile": services.NewSourceTypeAdapter(tabularfile.NewBackend(files, settings.NumPerm, logger), deps),
	})
	if accepted == 0 {
		return errors.New("no source types registered")
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, queue, connections, logger).RegisterRoutes(mux)
	handlers.NewSourceTypesHandler(registry, logger).RegisterRoutes(mux)
	handlers.NewSourcesHandler(registry, sources, status, logger).RegisterRoutes(mux)
	handlers.NewJobsHandler(queue, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting nga",
			zap.String("addr", server.Addr),
			zap.Int("source_types", accepted))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Background jobs still running at shutdown", zap.Error(err))
	}
	return nil
}
