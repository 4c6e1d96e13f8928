package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/lukasbauer/versecast/internal/detect"
	"github.com/lukasbauer/versecast/internal/observe"
	"github.com/lukasbauer/versecast/internal/projection"
	"github.com/lukasbauer/versecast/internal/relay"
	"github.com/lukasbauer/versecast/internal/store"
)

type RouterConfig struct {
	PublicBaseURL string

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// DefaultConfidenceThreshold is reported for users without saved settings.
	DefaultConfidenceThreshold int
}

// Store is the account and history storage the API needs. *store.Store
// implements it.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	CreateUser(ctx context.Context, email, name, passwordHash string) (*store.User, error)
	TouchUserLogin(ctx context.Context, userID string) error

	CreateSession(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	RevokeSession(ctx context.Context, tokenHash string) error
	IsSessionValid(ctx context.Context, tokenHash string) (bool, error)

	GetUserSettings(ctx context.Context, userID string) (*store.UserSettings, error)
	UpsertUserSettings(ctx context.Context, userID string, us store.UserSettings) error

	InsertDetectionHistory(ctx context.Context, h store.DetectionHistory) (*store.DetectionHistory, error)
	ListDetectionHistory(ctx context.Context, userID string, limit int) ([]store.DetectionHistory, error)
}

// Services are the long-lived components the router exposes.
type Services struct {
	Verses         detect.VerseStore
	Relay          *relay.Relay
	Projection     *projection.Hub
	Metrics        *observe.Metrics
	MetricsHandler http.Handler
}

type Router struct {
	cfg     RouterConfig
	logger  *log.Logger
	store   Store
	verses  detect.VerseStore
	relay   *relay.Relay
	hub     *projection.Hub
	metrics *observe.Metrics
	mux     *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, s Store, svc Services) http.Handler {
	if cfg.DefaultConfidenceThreshold == 0 {
		cfg.DefaultConfidenceThreshold = 50
	}
	r := &Router{
		cfg:     cfg,
		logger:  logger,
		store:   s,
		verses:  svc.Verses,
		relay:   svc.Relay,
		hub:     svc.Projection,
		metrics: svc.Metrics,
		mux:     http.NewServeMux(),
	}

	r.routes(svc.MetricsHandler)
	return withSentryRecovery(withCORS(observe.Middleware(svc.Metrics)(r.mux)))
}

func (r *Router) routes(metricsHandler http.Handler) {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)
	if metricsHandler != nil {
		r.mux.Handle("GET /metrics", metricsHandler)
	}

	// Auth endpoints
	r.mux.HandleFunc("POST /auth/register", r.handleRegister)
	r.mux.HandleFunc("POST /auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /auth/logout", r.withAuth(r.handleLogout))

	// Protected API endpoints
	r.mux.HandleFunc("GET /api/me", r.withAuth(r.handleGetMe))
	r.mux.HandleFunc("GET /api/verses/search", r.withAuth(r.handleSearchVerses))
	r.mux.HandleFunc("GET /api/verses/{reference}", r.withAuth(r.handleGetVerse))
	r.mux.HandleFunc("POST /api/detection-history", r.withAuth(r.handleCreateHistory))
	r.mux.HandleFunc("GET /api/detection-history", r.withAuth(r.handleListHistory))
	r.mux.HandleFunc("GET /api/settings", r.withAuth(r.handleGetSettings))
	r.mux.HandleFunc("PUT /api/settings", r.withAuth(r.handlePutSettings))
	r.mux.HandleFunc("GET /api/projection", r.withAuth(r.handleGetProjection))
	r.mux.HandleFunc("POST /api/projection", r.withAuth(r.handleProjectionCommand))

	// WebSockets (token may be passed as ?token= since browsers cannot set headers)
	r.mux.HandleFunc("GET /realtime", r.withAuth(r.handleRealtimeWS))
	r.mux.HandleFunc("GET /projection/ws", r.withAuth(r.handleProjectionWS))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz fails once shutdown has started so the load balancer stops
// routing new sockets here.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.relay != nil && r.relay.Registry().IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
