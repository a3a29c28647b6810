package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/csv-export-service/internal/api/handler"
	"github.com/cuongbtq/csv-export-service/internal/api/router"
	"github.com/cuongbtq/csv-export-service/internal/config"
	"github.com/cuongbtq/csv-export-service/internal/export/domain"
	"github.com/cuongbtq/csv-export-service/internal/export/download"
	"github.com/cuongbtq/csv-export-service/internal/export/registry"
	"github.com/cuongbtq/csv-export-service/internal/export/storage"
	"github.com/cuongbtq/csv-export-service/internal/export/worker"
	"github.com/cuongbtq/csv-export-service/shared/database"
	"github.com/cuongbtq/csv-export-service/shared/logger"
	"github.com/cuongbtq/csv-export-service/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const seedBatchSize = 1000

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("EXPORT_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/export-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	seedUsers := flag.Int("seed-users", 0, "Insert N synthetic users before serving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger = appLogger.WithAttrs(
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
	)
	appLogger.Info("Starting export service",
		slog.String("environment", cfg.App.Environment),
		slog.String("transport", cfg.Scheduler.Transport),
	)

	dbClient, err := initDatabase(&cfg.Database, appLogger.Component("database"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	ctx := context.Background()
	if cfg.Database.AutoMigrate {
		if err := storage.EnsureSchema(ctx, dbClient.GetDB()); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
		appLogger.Info("Database schema ensured")
	}

	storageLogger := appLogger.Component("storage")
	jobStore := storage.NewJobStore(dbClient.GetDB(), storageLogger)
	userSource := storage.NewUserSource(dbClient.GetDB(), storageLogger)

	if *seedUsers > 0 {
		if err := seed(ctx, userSource, *seedUsers, appLogger.Logger); err != nil {
			return fmt.Errorf("failed to seed users: %w", err)
		}
	}

	workerLogger := appLogger.Component("worker")
	reg := registry.New()
	exporter := worker.NewExporter(&worker.ExporterConfig{
		Logger:           workerLogger,
		Store:            jobStore,
		Source:           userSource,
		Registry:         reg,
		ExportDir:        cfg.Export.Dir,
		ProgressInterval: cfg.Export.ProgressInterval,
		ColumnPolicy:     domain.ColumnPolicy(cfg.Export.UnknownColumns),
	})
	pool := worker.NewPool(&worker.PoolConfig{
		Logger:      workerLogger,
		Runner:      exporter,
		Concurrency: cfg.Worker.Concurrency,
		QueueSize:   cfg.Worker.QueueSize,
		WorkerID:    fmt.Sprintf("export-worker-%s", uuid.New().String()[:8]),
	})

	// before any claim, so jobs of this run are never mistaken for stale ones
	if err := worker.FailStaleJobs(ctx, jobStore, cfg.Export.Dir, workerLogger); err != nil {
		return fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	poolCtx, cancelPool := context.WithCancel(ctx)
	defer cancelPool()
	pool.Start(poolCtx)

	var scheduler handler.Scheduler = pool
	recoverSchedule := worker.ScheduleFunc(pool.SubmitWait)

	var rabbitClient *rabbitmq.Client
	if cfg.Scheduler.Transport == config.TransportRabbitMQ {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			pool.Stop()
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		queueScheduler := worker.NewQueueScheduler(rabbitClient, workerLogger)
		scheduler = queueScheduler
		recoverSchedule = queueScheduler.Schedule

		consumer := worker.NewConsumer(&worker.ConsumerConfig{
			Logger:        workerLogger,
			Source:        rabbitClient,
			Pool:          pool,
			ConsumerTag:   cfg.RabbitMQ.Consumer.Tag,
			PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		})
		go func() {
			if err := consumer.Run(poolCtx); err != nil {
				appLogger.Error("RabbitMQ consumer stopped", slog.Any("error", err))
			}
		}()
	}

	go func() {
		if err := worker.ReschedulePending(poolCtx, jobStore, recoverSchedule, workerLogger); err != nil {
			appLogger.Error("Failed to reschedule pending exports", slog.Any("error", err))
		}
	}()

	r := initRouter(cfg, appLogger.Component("http"), &handler.Dependencies{
		ServiceName:  cfg.App.Name,
		Jobs:         jobStore,
		Scheduler:    scheduler,
		Registry:     reg,
		Streamer:     download.NewStreamer(jobStore, cfg.Export.ChunkSize, appLogger.Component("download")),
		Health:       dbClient,
		Pool:         pool,
		ExportDir:    cfg.Export.Dir,
		CancelPolicy: cfg.Export.CancelPolicy,
		ColumnPolicy: domain.ColumnPolicy(cfg.Export.UnknownColumns),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("Export service is running",
		slog.String("address", addr),
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.String("export_dir", cfg.Export.Dir),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		cancelPool()
		pool.Stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	stopPool(pool, cfg.Worker.ShutdownTimeout, appLogger.Logger)

	appLogger.Info("Export service shutdown complete")
	return nil
}

// stopPool stops the workers, giving up after timeout. Running jobs are
// failed as interrupted by the exporter.
func stopPool(pool *worker.Pool, timeout time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("Worker pool did not stop in time",
			slog.Duration("timeout", timeout),
			slog.Int("active", pool.Stats().Active),
		)
	}
}

func seed(ctx context.Context, source *storage.UserSource, n int, logger *slog.Logger) error {
	existing, err := source.CountUsers(ctx, domain.Filters{})
	if err != nil {
		return err
	}

	since := time.Now().UTC().AddDate(-2, 0, 0)
	for inserted := 0; inserted < n; inserted += seedBatchSize {
		batch := min(seedBatchSize, n-inserted)
		users := storage.GenerateUsers(int(existing)+inserted, batch, since)
		if err := source.InsertUsers(ctx, users); err != nil {
			return err
		}
	}

	logger.Info("Seeded users",
		slog.Int("inserted", n),
		slog.Int64("previously", existing),
	)
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   time.RFC3339,
	})
}

// initDatabase initializes the database client
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	client, err := database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Database connection established",
		slog.String("driver", cfg.Driver),
		slog.String("pool", client.Stats()),
	)
	return client, nil
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps.Logger = logger
	return router.SetupRouter(deps)
}
