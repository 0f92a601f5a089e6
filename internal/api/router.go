package api

import (
	"net/http"
	"time"

	"lighttrail/internal/config"
	"lighttrail/internal/game"
	"lighttrail/internal/protocol"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Arena is the read-only view of the game used by the HTTP routes.
// *game.Store satisfies it; tests can supply a stub instead.
type Arena interface {
	// Snapshot returns the GameState a client would receive right now
	Snapshot() protocol.GameState
	// Lobby returns the current lobby phase
	Lobby() protocol.LobbyState
	PlayerCount() int
	AliveCount() int
	// Events returns the lobby and round event log
	Events() *game.EventLog
}

// SessionCounter reports open websocket sessions.
type SessionCounter interface {
	ActiveSessions() int
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    Arena: store,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Arena is the game state (required)
	Arena Arena

	// Sessions is optional; when set /api/lobby also reports open sessions.
	Sessions SessionCounter

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, the server config defaults apply.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, any localhost port is allowed.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

type routerHandlers struct {
	arena    Arena
	sessions SessionCounter
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// It has no side effects beyond the rate limiter's cleanup goroutine, so it
// is safe to use in tests with httptest.NewServer. The websocket endpoint
// is added by Server because it needs the session hub.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := RateLimitConfigFromServer(config.DefaultServer())
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	h := &routerHandlers{arena: cfg.Arena, sessions: cfg.Sessions}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleGetState)
		r.Get("/lobby", h.handleGetLobby)
		r.Get("/events", h.handleGetEvents)
	})
	r.Get("/health", h.handleHealth)

	return r
}

// requestMetrics records latency and status per route pattern, never per raw
// path, so label cardinality stays bounded.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}
