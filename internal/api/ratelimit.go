package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"lighttrail/internal/config"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-address HTTP request limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	IdleTimeout       time.Duration // Addresses unseen this long lose their limiter
	TrustProxy        bool          // Client address comes from proxy headers
}

// RateLimitConfigFromServer maps the server configuration onto the HTTP limiter.
func RateLimitConfigFromServer(cfg config.ServerConfig) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: cfg.HTTPRate,
		Burst:             cfg.HTTPBurst,
		IdleTimeout:       cfg.HTTPIdle.Std(),
		TrustProxy:        cfg.TrustProxy,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter holds one token bucket per client address. Buckets for
// addresses that go quiet are swept in the background.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	cfg      RateLimitConfig
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter creates the limiter and starts its sweeper. Call Stop
// to end the sweeper.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	rl := &IPRateLimiter{
		visitors: make(map[string]*visitor),
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop ends the sweeper.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

// Allow spends one token from ip's bucket.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

func (rl *IPRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

func (rl *IPRateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.cfg.IdleTimeout {
			delete(rl.visitors, ip)
		}
	}
}

// Middleware rejects requests over the per-address budget with 429.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r, rl.cfg.TrustProxy)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the address a request is accounted to. Proxy headers
// are spoofable, so they are read only when the deployment sits behind a
// trusted proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sessionSlots caps open game sessions per client address. A slot is taken
// before the upgrade and given back when the session deregisters.
type sessionSlots struct {
	mu    sync.Mutex
	perIP map[string]int
	max   int // 0 means no cap
}

func newSessionSlots(max int) *sessionSlots {
	return &sessionSlots{perIP: make(map[string]int), max: max}
}

func (s *sessionSlots) acquire(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max > 0 && s.perIP[ip] >= s.max {
		return false
	}
	s.perIP[ip]++
	return true
}

func (s *sessionSlots) release(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.perIP[ip]; n > 1 {
		s.perIP[ip] = n - 1
	} else {
		delete(s.perIP, ip)
	}
}

// OriginPolicy decides which browser origins may open a websocket.
type OriginPolicy struct {
	Allowed  []string // Exact origins; "scheme://host" also matches any port
	AllowAny bool
}

// Allows reports whether origin may connect. Native clients send no
// Origin header and are always allowed.
func (p OriginPolicy) Allows(origin string) bool {
	if p.AllowAny || origin == "" {
		return true
	}
	for _, allowed := range p.Allowed {
		if origin == allowed || strings.HasPrefix(origin, allowed+":") {
			return true
		}
	}
	return false
}
