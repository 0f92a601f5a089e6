package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"lighttrail/internal/config"
	"lighttrail/internal/game"

	"github.com/go-chi/chi/v5"
)

// Server is the HTTP API server with WebSocket game sessions.
type Server struct {
	engine      *game.Engine
	router      *chi.Mux
	sessions    *SessionHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
}

// NewServer creates the API server for engine.
//
// IMPORTANT: No listener is opened until Start() is called, so tests can
// construct the server and use Router() with httptest.
func NewServer(engine *game.Engine, cfg config.ServerConfig) *Server {
	s := &Server{
		engine:      engine,
		sessions:    NewSessionHub(engine, SessionConfigFromServer(cfg)),
		rateLimiter: NewIPRateLimiter(RateLimitConfigFromServer(cfg)),
	}

	var corsOrigins []string
	if !cfg.AllowAnyOrigin {
		for _, origin := range cfg.AllowedOrigins {
			corsOrigins = append(corsOrigins, origin, origin+":*")
		}
	} else {
		corsOrigins = []string{"*"}
	}

	s.router = NewRouter(RouterConfig{
		Arena:       engine.Store(),
		Sessions:    s.sessions,
		RateLimiter: s.rateLimiter,
		CORSOrigins: corsOrigins,
	})

	// The session endpoint needs the hub, so it is not part of NewRouter.
	s.router.Get("/ws", s.sessions.HandleWebSocket)

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves HTTP on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("🔌 WebSocket endpoint: ws://localhost%s/ws", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
//
// Example:
//
//	server := api.NewServer(engine, cfg.Server)
//	ts := httptest.NewServer(server.Router())
//	defer ts.Close()
//	resp, _ := http.Get(ts.URL + "/api/state")
func (s *Server) Router() http.Handler {
	return s.router
}

// Stop stops accepting connections and waits for handlers up to ctx.
// Hijacked websocket connections are not tracked by net/http; they end
// when the process exits or the client disconnects.
func (s *Server) Stop(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
