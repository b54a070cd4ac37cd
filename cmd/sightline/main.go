package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"sightline/internal/api"
	"sightline/internal/auth"
	"sightline/internal/config"
	"sightline/internal/database"
	"sightline/internal/detection"
	"sightline/internal/media"
	"sightline/internal/metrics"
	"sightline/internal/pipeline"
	"sightline/internal/pipeline/detectors"
	"sightline/internal/pipeline/strategies"
	"sightline/internal/storage"
	"sightline/internal/ws"
)

func main() {
	// Define command line flags. Flags override the configuration file and
	// environment.
	var (
		configF   = flag.String("config", "", "Path to YAML configuration file")
		hostF     = flag.String("host", "", "Server host (overrides server.host)")
		httpPortF = flag.String("http-port", "", "HTTP port (overrides server.port)")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[sightline] ", log.Ltime)

	cfg, err := config.Load(*configF)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	if *hostF != "" {
		cfg.Server.Host = *hostF
	}
	if *httpPortF != "" {
		port, err := strconv.Atoi(*httpPortF)
		if err != nil {
			logger.Fatalf("invalid http port %q: %v", *httpPortF, err)
		}
		cfg.Server.Port = port
	}
	if *dbgF {
		cfg.Server.Debug = true
	}

	// Initialize persistence
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		logger.Fatalf("failed to create upload dir: %v", err)
	}

	var store storage.Store
	switch cfg.Storage.Backend {
	case "s3":
		s3Store, err := storage.NewS3Store(context.Background(), db, storage.S3Options{
			Bucket:   cfg.Storage.S3.Bucket,
			Prefix:   cfg.Storage.S3.Prefix,
			Region:   cfg.Storage.S3.Region,
			Endpoint: cfg.Storage.S3.Endpoint,
		})
		if err != nil {
			logger.Fatalf("failed to create S3 store: %v", err)
		}
		store = s3Store
	default:
		store = storage.NewDatabaseStore(db)
	}
	logger.Printf("storing video bytes in %s", store.Name())

	m := metrics.New()
	hub := ws.NewBroadcaster(cfg.Pipeline.SubscriberQueue, m)

	// Initialize the detection backend
	detector, err := detectors.NewBackend(detectors.BackendConfig{
		Backend:       cfg.Detector.Backend,
		Endpoint:      cfg.Detector.Endpoint,
		Timeout:       cfg.DetectorTimeout(),
		ConfThreshold: cfg.Detector.ConfThreshold,
	})
	if err != nil {
		logger.Fatalf("failed to create detector: %v", err)
	}
	checkDetector(logger, detector)

	sampling, err := strategies.NewStrategyFactory(strategies.Config{
		Mode:     cfg.Pipeline.Sampling,
		EveryN:   cfg.Pipeline.SampleEvery,
		Interval: cfg.Pipeline.SampleIntervalS,
	})
	if err != nil {
		logger.Fatalf("invalid sampling configuration: %v", err)
	}

	status := pipeline.NewStatusTracker(db)
	orchestrator := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Sources:     media.NewOpener(cfg.Media.FFmpegPath, cfg.Media.FFprobePath),
		NewStrategy: sampling.New,
		Adapter: detectors.NewPersonAdapter(detector, detectors.PersonAdapterConfig{
			ClassID:           cfg.Detector.TargetClassID,
			ConfThreshold:     cfg.Detector.ConfThreshold,
			MaxInputDimension: cfg.Detector.MaxInputDimension,
			Timeout:           cfg.DetectorTimeout(),
			Faults:            m,
		}),
		Writer:   db,
		Status:   status,
		Notifier: hub,
		Observer: m,
	})
	dispatcher := pipeline.NewDispatcher(orchestrator, int64(cfg.Pipeline.MaxConcurrentRuns))

	authenticator, err := newAuthenticator(cfg.Auth)
	if err != nil {
		logger.Fatalf("failed to initialize authentication: %v", err)
	}

	server := api.New(api.Options{
		Catalog:        db,
		Store:          store,
		Jobs:           dispatcher,
		Status:         status,
		Auth:           authenticator,
		Metrics:        m,
		Subscriptions:  ws.NewHandler(hub, cfg.Server.CORSOrigins),
		UploadDir:      cfg.Storage.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logger,
	})

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. SIGINT and SIGTERM stop the service gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	handleHTTPServer(ctx, cfg, server, authenticator, &wg, errc, logger)

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Stop accepting requests first, then drain runs, subscribers and the database.
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Printf("runs did not stop in time: %v", err)
	}
	hub.Close()
	if err := detector.Close(); err != nil {
		logger.Printf("failed to close detector: %v", err)
	}
	if err := db.Close(); err != nil {
		logger.Printf("failed to close database: %v", err)
	}
	logger.Println("exited")
}

func newAuthenticator(cfg config.AuthConfig) (*auth.Authenticator, error) {
	var expiry time.Duration
	if cfg.JWTExpiry != "" {
		d, err := time.ParseDuration(cfg.JWTExpiry)
		if err != nil {
			return nil, fmt.Errorf("invalid jwt expiry: %w", err)
		}
		expiry = d
	}
	return auth.NewAuthenticator(auth.Options{
		Enabled:   cfg.Enabled,
		Username:  cfg.Username,
		Password:  cfg.Password,
		JWTSecret: cfg.JWTSecret,
		JWTExpiry: expiry,
	})
}

// checkDetector logs whether the detector answers; runs still start if it does not
func checkDetector(logger *log.Logger, detector detection.ObjectDetector) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if detector.IsHealthy(ctx) {
		logger.Printf("detector is healthy")
		return
	}
	logger.Printf("detector is not reachable yet; frames will yield no detections until it is")
}
