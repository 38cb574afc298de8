// Package server builds the notice bot's dependency graph and runs its HTTP
// server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/api"
	"github.com/JakeFAU/notice-notifier/internal/clock/system"
	"github.com/JakeFAU/notice-notifier/internal/config"
	"github.com/JakeFAU/notice-notifier/internal/dispatcher"
	"github.com/JakeFAU/notice-notifier/internal/extractor"
	"github.com/JakeFAU/notice-notifier/internal/fetcher"
	"github.com/JakeFAU/notice-notifier/internal/logging"
	"github.com/JakeFAU/notice-notifier/internal/metrics"
	"github.com/JakeFAU/notice-notifier/internal/notice"
	"github.com/JakeFAU/notice-notifier/internal/notifier/line"
	"github.com/JakeFAU/notice-notifier/internal/notifier/telegram"
	"github.com/JakeFAU/notice-notifier/internal/pipeline"
	"github.com/JakeFAU/notice-notifier/internal/policy/ratelimit"
	"github.com/JakeFAU/notice-notifier/internal/snapshot"
	gcsstorage "github.com/JakeFAU/notice-notifier/internal/storage/gcs"
	localstorage "github.com/JakeFAU/notice-notifier/internal/storage/local"
	memoryStorage "github.com/JakeFAU/notice-notifier/internal/storage/memory"
	pgstore "github.com/JakeFAU/notice-notifier/internal/storage/postgres"
	"github.com/JakeFAU/notice-notifier/internal/webhook"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	pipeline  *pipeline.Pipeline
	ledger    notice.AdminLedger
	pgLedger  *pgstore.Ledger
	storage   *storage.Client
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("transport", cfg.Notifier.Transport),
		zap.String("snapshot_backend", cfg.Snapshot.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close releases the ledger and storage clients.
func (a *App) Close(_ context.Context) error {
	if a.pgLedger != nil {
		a.pgLedger.Close()
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()

	app.logger.Info("building application dependencies")
	clock := system.New()

	app.ledger, err = setupLedger(ctx, app, clock)
	if err != nil {
		return nil, err
	}

	archiver, err := setupSnapshots(ctx, app, clock)
	if err != nil {
		app.closeOnError()
		return nil, err
	}

	sender, lineClient, err := setupSender(app)
	if err != nil {
		app.closeOnError()
		return nil, err
	}

	app.pipeline, err = setupPipeline(app, sender, archiver)
	if err != nil {
		app.closeOnError()
		return nil, err
	}

	opts := api.Options{
		Platform:       cfg.Notifier.Transport,
		TriggerToken:   cfg.Trigger.Token,
		AdminToken:     cfg.Admin.Token,
		RequestTimeout: cfg.RequestTimeout(),
	}
	if hook := setupWebhook(app, lineClient); hook != nil {
		opts.Webhook = hook
	}
	if cfg.Trigger.Token == "" {
		app.logger.Warn("trigger token not set; /crawl-and-notify is open")
	}
	app.apiServer = api.NewServer(app.pipeline, app.ledger, opts, logger.Named("api"))

	return app, nil
}

func (a *App) closeOnError() {
	if a.pgLedger != nil {
		a.pgLedger.Close()
	}
	if a.storage != nil {
		_ = a.storage.Close()
	}
}

func setupLedger(ctx context.Context, app *App, clock notice.Clock) (notice.AdminLedger, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("No DSN specified for database, using in-memory ledger; delivery history will not survive restarts")
		return memoryStorage.NewLedger(clock), nil
	}
	ledger, err := pgstore.NewLedger(ctx, pgstore.Config{
		DSN:             app.cfg.DB.DSN,
		RequireSSL:      app.cfg.DB.RequireSSL,
		Migrate:         app.cfg.DB.Migrate,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
	}, app.logger.Named("ledger"))
	if err != nil {
		return nil, fmt.Errorf("ledger init failed: %w", err)
	}
	app.pgLedger = ledger
	app.logger.Info("postgres ledger initialized", zap.Bool("migrate", app.cfg.DB.Migrate))
	return ledger, nil
}

func setupSnapshots(ctx context.Context, app *App, clock notice.Clock) (notice.Archiver, error) {
	var store snapshot.BlobStore
	switch app.cfg.Snapshot.Backend {
	case "none":
		app.logger.Info("listing snapshots disabled")
		return nil, nil
	case "gcs":
		app.logger.Info("using GCS snapshot backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err = gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Snapshot.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS snapshot backend", zap.String("bucket", app.cfg.Snapshot.GCSBucket))
	case "local":
		app.logger.Info("using local snapshot backend")
		local, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Snapshot.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		store = local
		app.logger.Debug("local snapshot backend", zap.String("path", app.cfg.Snapshot.LocalDir))
	default:
		app.logger.Info("using in-memory snapshot backend")
		store = memoryStorage.NewBlobStore()
	}
	return snapshot.New(store, app.cfg.Snapshot.Prefix, clock), nil
}

// setupSender returns the configured transport. The LINE client is also
// returned whenever LINE credentials exist so the webhook can reply.
func setupSender(app *App) (notice.Sender, *line.Client, error) {
	lineCfg := app.cfg.Notifier.Line
	var lineClient *line.Client
	if app.cfg.Notifier.Transport == "line" || lineCfg.ChannelAccessToken != "" {
		lineClient = line.New(line.Config{
			APIBase:            lineCfg.APIBase,
			ChannelAccessToken: lineCfg.ChannelAccessToken,
			Timeout:            time.Duration(lineCfg.TimeoutSeconds) * time.Second,
		}, nil, app.logger.Named("line"))
	}

	switch app.cfg.Notifier.Transport {
	case "telegram":
		tg, err := telegram.New(telegram.Config{
			BotToken: app.cfg.Notifier.Telegram.BotToken,
			APIBase:  app.cfg.Notifier.Telegram.APIBase,
		}, app.logger.Named("telegram"))
		if err != nil {
			return nil, nil, fmt.Errorf("telegram sender init failed: %w", err)
		}
		app.logger.Info("using telegram transport")
		return tg, lineClient, nil
	default:
		app.logger.Info("using LINE transport")
		return lineClient, lineClient, nil
	}
}

func setupPipeline(app *App, sender notice.Sender, archiver notice.Archiver) (*pipeline.Pipeline, error) {
	cfg := app.cfg
	fetch := fetcher.New(fetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		Retry: fetcher.RetryPolicy{
			MaxAttempts:   cfg.Fetch.MaxAttempts,
			BaseDelay:     time.Duration(cfg.Fetch.BaseDelayMs) * time.Millisecond,
			MaxDelay:      time.Duration(cfg.Fetch.MaxDelayMs) * time.Millisecond,
			InitialJitter: time.Duration(cfg.Fetch.InitialJitterMs) * time.Millisecond,
		},
	}, fetcher.WithLogger(app.logger.Named("fetcher")))
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Fetch.UserAgent),
		zap.Int("max_attempts", cfg.Fetch.MaxAttempts),
	)

	extract, err := extractor.New(extractor.Config{
		RowSelector:   cfg.Board.RowSelector,
		TitleSelector: cfg.Board.TitleSelector,
		IDPattern:     cfg.Board.IDPattern,
		ViewBaseURL:   cfg.Board.ViewBaseURL,
		BoardActionID: cfg.Board.BoardActionID,
	}, app.logger.Named("extractor"))
	if err != nil {
		return nil, fmt.Errorf("extractor init failed: %w", err)
	}

	var pacer dispatcher.Pacer
	if cfg.Notifier.RatePerSec > 0 {
		pacer = ratelimit.New(ratelimit.Config{
			RatePerSec: cfg.Notifier.RatePerSec,
			Burst:      cfg.Notifier.Burst,
		})
		app.logger.Info("send rate limiter enabled",
			zap.Float64("rate_per_sec", cfg.Notifier.RatePerSec),
			zap.Int("burst", cfg.Notifier.Burst),
		)
	}

	dispatch := dispatcher.New(dispatcher.Config{
		Recipients:  cfg.Notifier.Recipients,
		Concurrency: cfg.Notifier.Concurrency,
		Transport:   cfg.Notifier.Transport,
	}, sender, app.ledger, pacer, app.logger.Named("dispatcher"))
	if len(cfg.Notifier.Recipients) > 0 {
		app.logger.Info("fixed recipient list overrides subscribers",
			zap.Int("recipients", len(cfg.Notifier.Recipients)))
	}

	return pipeline.New(pipeline.Config{
		ListURL: cfg.Board.ListURL,
		Window:  cfg.Board.Window,
	}, fetch, extract, app.ledger, dispatch, archiver, app.logger.Named("pipeline")), nil
}

func setupWebhook(app *App, lineClient *line.Client) http.Handler {
	if !app.cfg.Webhook.Enabled {
		app.logger.Info("LINE webhook disabled")
		return nil
	}
	if lineClient == nil {
		app.logger.Warn("LINE webhook enabled but no LINE channel is configured; not mounting it")
		return nil
	}
	return webhook.New(
		app.cfg.Notifier.Line.ChannelSecret,
		app.ledger,
		lineClient,
		app.pipeline,
		app.logger.Named("webhook"),
	)
}
