package api

import (
	"errors"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"lighttrail/internal/config"
	"lighttrail/internal/game"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality (no per-player labels to prevent DoS)
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lighttrail_tick_duration_seconds",
		Help:    "Time spent in a simulation tick, including broadcast",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
	})

	playerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lighttrail_players_connected",
		Help: "Currently registered players",
	})

	aliveCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lighttrail_players_alive",
		Help: "Players alive in the current round",
	})

	roundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lighttrail_rounds_finished_total",
		Help: "Rounds that reached Finished",
	})

	deathsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lighttrail_deaths_total",
		Help: "Players eliminated by collisions",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, origin check or capacity",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "lobby_full", "ws_ip_limit"

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})

	wsMessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_messages_dropped_total",
		Help: "WebSocket frames dropped",
	}, []string{"reason"}) // Bounded: "queue_full", "inbound_rate", "protocol"
)

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // Loopback only unless AllowExternal
	AllowExternal bool
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060", // Localhost only - NEVER expose externally
	}
}

// ObservabilityFromConfig maps the app configuration onto the debug server.
func ObservabilityFromConfig(cfg config.ObservabilityConfig) ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:       cfg.DebugServer,
		ListenAddr:    cfg.DebugAddr,
		AllowExternal: cfg.DebugExternal,
		BasicAuthUser: cfg.DebugUser,
		BasicAuthPass: cfg.DebugPass,
	}
}

// isLoopback reports whether addr binds to a loopback host.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// NewDebugHandler returns the pprof, metrics and health mux served by the
// debug server.
func NewDebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser != "" {
		return basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return mux
}

// StartDebugServer starts the internal observability server.
// CRITICAL: This MUST bind to localhost only to prevent pprof-based DoS
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if !isLoopback(cfg.ListenAddr) && !cfg.AllowExternal {
		log.Printf("⚠️ Debug server address %s is not loopback, forcing 127.0.0.1:6060", cfg.ListenAddr)
		cfg.ListenAddr = "127.0.0.1:6060"
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	handler := NewDebugHandler(cfg)

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := http.Serve(ln, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordTick records one scheduler tick. Wire it to game.Engine.OnTick.
func RecordTick(report game.TickReport, took time.Duration) {
	tickDuration.Observe(took.Seconds())
	playerCount.Set(float64(report.Players))
	aliveCount.Set(float64(report.Alive))
	if len(report.Deaths) > 0 {
		deathsTotal.Add(float64(len(report.Deaths)))
	}
	if report.Finished {
		roundsTotal.Inc()
	}
}

// RegisterEventLogMetrics exposes the event log counters. Call once per log.
func RegisterEventLogMetrics(el *game.EventLog) error {
	total := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "event_log_total",
		Help: "Total events logged",
	}, func() float64 { return float64(el.TotalCount()) })

	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "event_log_dropped_total",
		Help: "Events dropped due to rate limiting or buffer full",
	}, func() float64 { return float64(el.DroppedCount()) })

	if err := prometheus.Register(total); err != nil {
		return err
	}
	return prometheus.Register(dropped)
}

// RecordConnectionRejected increments the rejection counter
// reason must be one of: "rate_limit", "origin", "lobby_full", "ws_ip_limit"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}

// RecordMessageDropped counts a dropped frame.
// reason must be one of: "queue_full", "inbound_rate", "protocol"
func RecordMessageDropped(reason string) {
	wsMessagesDropped.WithLabelValues(reason).Inc()
}
