package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cinepipe/cinepipe/internal/cleanup"
	"github.com/cinepipe/cinepipe/internal/config"
	"github.com/cinepipe/cinepipe/internal/daemon/transmission"
	"github.com/cinepipe/cinepipe/internal/hls"
	"github.com/cinepipe/cinepipe/internal/http/rest"
	"github.com/cinepipe/cinepipe/internal/logctx"
	"github.com/cinepipe/cinepipe/internal/metadata/omdb"
	"github.com/cinepipe/cinepipe/internal/notifier"
	"github.com/cinepipe/cinepipe/internal/reconcile"
	"github.com/cinepipe/cinepipe/internal/resolver/yts"
	"github.com/cinepipe/cinepipe/internal/storage/sqlite"
	"github.com/cinepipe/cinepipe/internal/telemetry"
	"github.com/cinepipe/cinepipe/internal/watch"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("cinepipe starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "cinepipe",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	downloads := sqlite.NewInstrumentedDownloadRepository(database, tel)
	history := sqlite.NewWatchHistoryRepository(database)

	// =========================================================================
	// Start Download Daemon Client
	daemonClient := transmission.NewClient(
		cfg.Transmission.URL,
		cfg.Transmission.Username,
		cfg.Transmission.Password,
		cfg.Transmission.Timeout,
	)

	// =========================================================================
	// Start Reconciler
	reconciler := reconcile.NewReconciler(
		ctx,
		downloads,
		daemonClient,
		tel,
		cfg.DownloadsDir,
		cfg.PollInterval,
		cfg.PollBackoffInterval,
		cfg.ReconcileMaxFailures,
	)

	if err := reconciler.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume tracked downloads: %w", err)
	}

	// =========================================================================
	// Start HLS Converter
	converter := hls.NewConverter(
		ctx,
		downloads,
		hls.NewFFmpegRunner(cfg.FFmpegPath, cfg.ConvertTimeout),
		cfg.HLSDir,
		tel,
	)

	// =========================================================================
	// Start Watch Service
	watchSvc := watch.NewService(
		omdb.NewClient(cfg.OMDBBaseURL, cfg.OMDBAPIKey),
		yts.NewClient(cfg.YTSBaseURL),
		daemonClient,
		downloads,
		history,
		reconciler,
		cfg.DownloadsDir,
	)

	// =========================================================================
	// Start Notification
	setupCompletionEvents(ctx, reconciler, converter, cfg)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, cleanup.NewSweeper(downloads, daemonClient, cfg.HLSDir, cfg.KeepUnwatchedFor), cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, tel, watchSvc, downloads, history, converter)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for watch requests...",
		"downloads_dir", cfg.DownloadsDir,
		"hls_dir", cfg.HLSDir,
		"poll_interval", cfg.PollInterval.String(),
		"retention", cfg.KeepUnwatchedFor.String(),
	)

	// =========================================================================
	// Start Main Loop
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// setupCompletionEvents reacts to finished downloads: kick off the HLS
// rendition right away and let the webhook know.
func setupCompletionEvents(ctx context.Context, reconciler *reconcile.Reconciler, converter *hls.Converter, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	go func() {
		for record := range reconciler.OnDownloadCompleted {
			logger.Info("download completed", "imdb_id", record.IMDBID, "title", record.MovieTitle)

			converter.MaybeStart(ctx, record)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(ctx,
				notifier.ReadyToStream(record.MovieTitle, record.IMDBID),
			); notifyErr != nil {
				logger.Error("failed to send notification", "imdb_id", record.IMDBID, "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	tel *telemetry.Telemetry,
	watchSvc *watch.Service,
	downloads *sqlite.InstrumentedDownloadRepository,
	history *sqlite.WatchHistoryRepository,
	converter *hls.Converter,
) *http.Server {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/watch", rest.NewWatchHandler(watchSvc).Routes())
	r.Mount("/stream", rest.NewStreamHandler(downloads, history, converter, watchSvc).Routes())

	r.Handle("/metrics", tel.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "cinepipe"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, sweeper *cleanup.Sweeper, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				if err := sweeper.Sweep(ctx); err != nil {
					logger.Error("failed to sweep expired downloads", "err", err)
				}
			}
		}
	}()
}
