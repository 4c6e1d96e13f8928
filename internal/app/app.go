package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/lukasbauer/versecast/internal/detect"
	"github.com/lukasbauer/versecast/internal/eventlog"
	"github.com/lukasbauer/versecast/internal/httpapi"
	"github.com/lukasbauer/versecast/internal/llm"
	"github.com/lukasbauer/versecast/internal/observe"
	"github.com/lukasbauer/versecast/internal/projection"
	"github.com/lukasbauer/versecast/internal/relay"
	"github.com/lukasbauer/versecast/internal/store"
	"github.com/lukasbauer/versecast/internal/stt"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	store    *store.Store
	eventLog *eventlog.Logger

	verses         detect.VerseStore
	sqliteVerses   *store.SQLiteVerses
	meterProvider  *sdkmetric.MeterProvider
	metricsHandler http.Handler
	metrics        *observe.Metrics

	relay   *relay.Relay
	channel projection.Channel
	hub     *projection.Hub
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// Migrations are applied externally (migrations/*.sql via psql).
	// No automatic migration runner at startup.

	a := &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    store.New(db),
		eventLog: eventlog.New(db),
	}

	if err := a.initMetrics(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var verses detect.VerseStore = a.store
	if cfg.VersesSQLitePath != "" {
		sv, err := store.OpenSQLiteVerses(cfg.VersesSQLitePath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open verse database: %w", err)
		}
		a.sqliteVerses = sv
		verses = sv
		logger.Printf("verses: serving lookups from %s", cfg.VersesSQLitePath)
	}

	if cfg.OpenAIAPIKey == "" {
		logger.Printf("warning: OPENAI_API_KEY is not set; transcription will fail and detection will run degraded")
	}

	transcriber := stt.NewWhisperClient(stt.WhisperConfig{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    cfg.TranscriptionModel,
		Language: cfg.TranscriptionLanguage,
	}, logger)

	metrics := a.metrics
	detector := llm.NewOpenAIDetector(llm.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.DetectionModel,
		OnUsage: func(prompt, completion int64) {
			metrics.RecordTokens(context.Background(), prompt, completion)
		},
	}, logger)

	pipeline := detect.NewPipeline(transcriber, detector, detect.NewMerger(verses, cfg.SubstringFallbackBelow), metrics, logger)

	a.relay = relay.New(pipeline, relay.NewSessionRegistry(), a.eventLog, metrics, logger, relay.Config{
		IdleTimeout:  cfg.SessionIdleTimeout,
		ReapInterval: cfg.SessionReapInterval,
		QueueSize:    cfg.SessionQueueSize,
	})

	if cfg.NATSURL != "" {
		ch, err := projection.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect projection channel: %w", err)
		}
		a.channel = ch
		logger.Printf("projection: fan-out over NATS at %s", cfg.NATSURL)
	} else {
		a.channel = projection.NewLocalChannel()
	}

	a.hub = projection.NewHub(projection.HubConfig{
		Channel:  a.channel,
		Defaults: a.roomDefaults,
		Metrics:  metrics,
		Logger:   logger,
	})

	a.verses = verses
	return a, nil
}

func (a *App) initMetrics(ctx context.Context) error {
	mp, handler, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "versecast",
		Environment: a.cfg.Environment,
	})
	if err != nil {
		return fmt.Errorf("init metrics provider: %w", err)
	}
	m, err := observe.NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return fmt.Errorf("init metrics: %w", err)
	}
	a.meterProvider = mp
	a.metricsHandler = handler
	a.metrics = m
	return nil
}

// roomDefaults starts a projection room from the operator's saved settings.
// Rooms are keyed by user ID.
func (a *App) roomDefaults(ctx context.Context, userID string) projection.Settings {
	us, err := a.store.GetUserSettings(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Printf("projection: load settings for %s failed: %v", userID, err)
		}
		return projection.DefaultSettings()
	}
	s, err := projection.DecodeSettings(us.Projection)
	if err != nil {
		a.logger.Printf("projection: %s: %v", userID, err)
	}
	return s
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicBaseURL:              a.cfg.PublicBaseURL,
		JWTSecret:                  a.cfg.JWTSecret,
		JWTExpiry:                  a.cfg.JWTExpiry,
		DefaultConfidenceThreshold: a.cfg.DefaultConfidenceThreshold,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, httpapi.Services{
		Verses:         a.verses,
		Relay:          a.relay,
		Projection:     a.hub,
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHandler,
	})
}

// Relay returns the realtime session relay.
func (a *App) Relay() *relay.Relay {
	return a.relay
}

// Projection returns the projection hub.
func (a *App) Projection() *projection.Hub {
	return a.hub
}

// Shutdown stops accepting realtime sessions and waits for in-flight
// detection cycles, then stops the projection hub.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.relay != nil {
		if err := a.relay.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("relay shutdown: %w", err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("projection hub: %w", err))
		}
	}
	if a.meterProvider != nil {
		if err := a.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) Close() error {
	// The hub closes its channel on Shutdown.
	if a.hub == nil && a.channel != nil {
		_ = a.channel.Close()
	}
	if a.sqliteVerses != nil {
		_ = a.sqliteVerses.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
