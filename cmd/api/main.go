package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/bimzik/backend/internal/auth"
	"github.com/bimzik/backend/internal/config"
	"github.com/bimzik/backend/internal/database"
	"github.com/bimzik/backend/internal/execution"
	"github.com/bimzik/backend/internal/flutterwave"
	"github.com/bimzik/backend/internal/jobs"
	"github.com/bimzik/backend/internal/ledger"
	"github.com/bimzik/backend/internal/models"
	"github.com/bimzik/backend/internal/notify"
	"github.com/bimzik/backend/internal/payments"
	"github.com/bimzik/backend/internal/storage"
	"github.com/bimzik/backend/internal/suno"
	"github.com/bimzik/backend/internal/validation"
)

const (
	staleReportInterval = 15 * time.Minute
	workerStopGrace     = 2 * time.Minute
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := database.Migrate(ctx, pool, logger); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Ledger
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), logger)

	// Providers
	sunoClient := suno.NewClient(suno.Config{
		APIKey:      cfg.SunoAPIKey,
		BaseURL:     cfg.SunoBaseURL,
		CallbackURL: cfg.SunoCallbackURL,
		Timeout:     cfg.ProviderTimeout,
	}, logger)
	flwClient := flutterwave.NewClient(flutterwave.Config{
		SecretKey:   cfg.FlutterwaveSecretKey,
		WebhookHash: cfg.FlutterwaveWebhookHash,
		BaseURL:     cfg.FlutterwaveBaseURL,
		AppName:     "Bimzik",
		Timeout:     cfg.ProviderTimeout,
	}, logger)

	validator, err := validation.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	// Notifications
	notifyRepo := notify.NewRepository(pool)
	senders := map[string]notify.Sender{}
	if cfg.SMTPEnabled() {
		senders[models.ChannelEmail] = notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	if cfg.PushEnabled() {
		senders[models.ChannelPush] = notify.NewPushSender(notify.VAPIDConfig{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subject:    cfg.VAPIDSubject,
		}, &http.Client{Timeout: cfg.ProviderTimeout})
	}
	notifySvc := notify.NewService(notifyRepo, senders, cfg.FrontendURL, logger)

	var mirror jobs.Mirror
	if cfg.S3Enabled() {
		up, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			slog.Error("S3 mirror init failed", "error", err)
			os.Exit(1)
		}
		mirror = up
		slog.Info("Artifact mirror enabled", "bucket", cfg.S3Bucket)
	}

	// Queue inserts are set after the River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error
	insert := func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}
	enqueueMusic := func(ctx context.Context, tx pgx.Tx, args execution.GenerateMusicArgs) error {
		return insert(ctx, tx, args)
	}
	enqueueVideo := func(ctx context.Context, tx pgx.Tx, args execution.GenerateVideoArgs) error {
		return insert(ctx, tx, args)
	}

	poll := jobs.PollPolicy{
		Initial:     cfg.PollInitial,
		Multiplier:  cfg.PollMultiplier,
		Max:         cfg.PollMax,
		MaxAttempts: cfg.PollMaxAttempts,
	}
	videoPoll := poll
	videoPoll.MaxAttempts = cfg.VideoMaxAttempts

	jobsRepo := jobs.NewRepository(pool)
	orchestrator := jobs.NewOrchestrator(jobs.OrchestratorDeps{
		DB:           jobsRepo,
		Store:        jobsRepo,
		Ledger:       ledgerSvc,
		Provider:     sunoClient,
		Notifier:     notifySvc,
		Mirror:       mirror,
		EnqueueVideo: enqueueVideo,
		Poll:         poll,
		Video: jobs.VideoConfig{
			Author: cfg.VideoAuthor,
			Domain: cfg.VideoDomain,
			Cost:   cfg.VideoCreditsCost,
			Poll:   videoPoll,
		},
		Logger: logger,
	})
	jobsSvc := jobs.NewService(jobs.ServiceDeps{
		DB:           jobsRepo,
		Store:        jobsRepo,
		Ledger:       ledgerSvc,
		Provider:     sunoClient,
		EnqueueMusic: enqueueMusic,
		EnqueueVideo: enqueueVideo,
		VideoCost:    cfg.VideoCreditsCost,
		Logger:       logger,
	})

	// Workers
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewGenerateMusicWorker(orchestrator, runBudget(poll, cfg.ProviderTimeout)))
	river.AddWorker(workers, execution.NewGenerateVideoWorker(orchestrator, runBudget(videoPoll, cfg.ProviderTimeout)))
	river.AddWorker(workers, execution.NewStaleJobsWorker(jobsRepo, cfg.StaleJobAfter, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault:        {MaxWorkers: 2},
			execution.QueueGeneration: {MaxWorkers: cfg.WorkerConcurrency},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(staleReportInterval),
				func() (river.JobArgs, *river.InsertOpts) { return execution.StaleJobsArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
		Logger: logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Payments
	paymentsSvc := payments.NewService(payments.ServiceDeps{
		Packages:       payments.NewRepository(pool),
		Ledger:         ledgerSvc,
		Reconciler:     payments.NewReconciler(pool, ledgerSvc, logger),
		Gateway:        flwClient,
		Validator:      validator,
		WebhookSchema:  validation.SchemaWebhook,
		RedirectURL:    cfg.PaymentRedirectURL,
		DefaultCountry: cfg.PaymentCountry,
		Logger:         logger,
	})

	authSvc := auth.NewService(cfg.JWTSecret, cfg.JWTAudience)

	apiRouter := buildRouter(routeDeps{
		pool:          pool,
		auth:          authSvc,
		validator:     validator,
		jobs:          jobsSvc,
		projects:      jobsSvc,
		payments:      paymentsSvc,
		notifications: notifySvc,
		ledger:        ledgerSvc,
		logger:        logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "verif-hash"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	// River gets its own context: a signal must not cancel running jobs,
	// stopWorkers decides when they are cancelled.
	riverCtx, cancelRiver := context.WithCancel(context.Background())
	defer cancelRiver()
	if err := riverClient.Start(riverCtx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := stopWorkers(riverClient, workerStopGrace, 30*time.Second, logger); err != nil {
		slog.Error("River stop failed", "error", err)
	}
}

// runBudget is the worker timeout for a polling run: every sleep, every
// provider call at its HTTP timeout, plus slack for the settlement and the
// artifact mirror.
func runBudget(p jobs.PollPolicy, perCall time.Duration) time.Duration {
	var total time.Duration
	for _, d := range p.Intervals() {
		total += d
	}
	return total + time.Duration(p.MaxAttempts+1)*perCall + 3*time.Minute
}
