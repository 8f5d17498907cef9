// main package for the openvoice-api service
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/openvoice-api/internal/api"
	"github.com/book-expert/openvoice-api/internal/artifact"
	"github.com/book-expert/openvoice-api/internal/config"
	"github.com/book-expert/openvoice-api/internal/core"
	"github.com/book-expert/openvoice-api/internal/engine"
	"github.com/book-expert/openvoice-api/internal/metrics"
	"github.com/book-expert/openvoice-api/internal/objectstore"
	"github.com/book-expert/openvoice-api/internal/registry"
	"github.com/book-expert/openvoice-api/internal/text"
	"github.com/book-expert/openvoice-api/internal/voice"
	"github.com/book-expert/openvoice-api/internal/worker"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	serviceName  = "openvoice-api"
	idleTimeout  = 120 * time.Second
	natsClientID = "openvoice-api"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

// natsDeps are the optional NATS collaborators. All fields are nil when NATS is disabled.
type natsDeps struct {
	conn  *nats.Conn
	store *objectstore.NatsObjectStore
}

func connectNATS(ctx context.Context, cfg *config.Config, log *logger.Logger) (*natsDeps, error) {
	if cfg.NATS.URL == "" {
		log.Info("NATS is not configured, job intake and artifact mirroring are disabled.")

		return &natsDeps{}, nil
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(natsClientID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	js, err := jetstream.New(natsConnection)
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	var ttl time.Duration
	if cfg.Artifacts.MirrorToNATS {
		ttl = cfg.Retention()
	}

	store, err := objectstore.New(ctx, js, cfg.NATS.AudioObjectStoreBucket, ttl)
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	log.Info("Connected to NATS at %s, bucket %s.", cfg.NATS.URL, cfg.NATS.AudioObjectStoreBucket)

	return &natsDeps{conn: natsConnection, store: store}, nil
}

func newMetrics() *metrics.Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return metrics.NewCollector(reg)
}

func serve(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, log *logger.Logger) error {
	serveErr := make(chan error, 1)

	go func() {
		log.System("%s listening on %s", serviceName, server.Addr)

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}

		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited.")

	return nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), serviceName+"-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		bootstrapLog.Warn("Failed to load .env file: %v", envErr)
	}

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceName+".log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Load the models into the engine
	engineClient := engine.NewHTTPClient(cfg.Engine.URL, cfg.EngineTimeout())

	reg, err := registry.Load(ctx, cfg, engineClient, log)
	if err != nil {
		log.Error("Failed to load models: %v", err)

		return fmt.Errorf("failed to load models: %w", err)
	}

	// 5. Optional NATS intake and artifact mirror
	natsClient, err := connectNATS(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to set up NATS: %v", err)

		return err
	}

	if natsClient.conn != nil {
		defer natsClient.conn.Close()
	}

	var mirror core.ObjectStore
	if cfg.Artifacts.MirrorToNATS && natsClient.store != nil {
		mirror = natsClient.store
	}

	store, err := artifact.NewStore(cfg.Paths.AudioFilesDir, mirror, log)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}

	collector := newMetrics()

	opts := voice.Options{Metrics: collector}
	if cfg.Models.NormalizeText {
		opts.Normalizer = text.NewNormalizer()
	}

	service := voice.NewService(engineClient, reg, store, log, opts)

	go store.RunJanitor(ctx, cfg.SweepInterval(), cfg.Retention(), collector.ObserveSweep)

	if natsClient.conn != nil {
		natsWorker, workerErr := worker.NewNatsWorker(
			natsClient.conn, cfg.NATS.TextProcessedSubject, natsClient.store, service, log,
			worker.Options{
				Version:    cfg.NATS.DefaultVersion,
				Model:      cfg.NATS.DefaultModel,
				JobTimeout: cfg.EngineTimeout(),
				Metrics:    collector,
			},
		)
		if workerErr != nil {
			return fmt.Errorf("failed to create worker: %w", workerErr)
		}

		go func() {
			runErr := natsWorker.Run(ctx)
			if runErr != nil {
				log.Error("Worker stopped: %v", runErr)
			}
		}()
	}

	// 6. Serve HTTP until a signal arrives
	server := &http.Server{
		Addr: cfg.ListenAddr(),
		Handler: api.NewRouter(service, log, api.Options{
			MaxBodyBytes: cfg.Server.MaxBodyBytes,
			Metrics:      collector,
		}),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  idleTimeout,
	}

	return serve(ctx, server, time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second, log)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
