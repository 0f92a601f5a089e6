package api

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"lighttrail/internal/config"
	"lighttrail/internal/game"
	"lighttrail/internal/protocol"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

var (
	errSinkClosed = errors.New("connection closed")
	errSinkFull   = errors.New("outbound queue full")
)

// SessionConfig holds the per-connection limits.
type SessionConfig struct {
	MaxPlayers    int // Total websocket sessions; 0 means no cap
	MaxConnsPerIP int
	InboundRate   float64 // Client frames per second
	InboundBurst  int
	OutboundQueue int
	Origins       OriginPolicy
	TrustProxy    bool
}

// SessionConfigFromServer maps the server configuration onto session limits.
func SessionConfigFromServer(cfg config.ServerConfig) SessionConfig {
	return SessionConfig{
		MaxPlayers:    cfg.MaxPlayers,
		MaxConnsPerIP: cfg.MaxConnsPerIP,
		InboundRate:   cfg.InboundRate,
		InboundBurst:  cfg.InboundBurst,
		OutboundQueue: cfg.OutboundQueue,
		Origins: OriginPolicy{
			Allowed:  cfg.AllowedOrigins,
			AllowAny: cfg.AllowAnyOrigin,
		},
		TrustProxy: cfg.TrustProxy,
	}
}

// wsSink is the game.Sink for one websocket. Frames are queued and written
// by a dedicated pump so a slow socket never stalls the broadcaster; when
// the queue is full the frame is rejected for this recipient only.
type wsSink struct {
	conn      *websocket.Conn
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSSink(conn *websocket.Conn, size int) *wsSink {
	if size <= 0 {
		size = 1
	}
	return &wsSink{
		conn:  conn,
		queue: make(chan []byte, size),
		done:  make(chan struct{}),
	}
}

// Send queues frame for the write pump.
func (s *wsSink) Send(frame []byte) error {
	select {
	case <-s.done:
		return errSinkClosed
	default:
	}

	select {
	case s.queue <- frame:
		return nil
	default:
		RecordMessageDropped("queue_full")
		return errSinkFull
	}
}

func (s *wsSink) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// writePump owns all data writes on the connection.
func (s *wsSink) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.queue:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			IncrementWSMessages()

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// SessionHub accepts websocket connections and runs one session per
// connection against the engine's store.
type SessionHub struct {
	engine    *game.Engine
	store     *game.Store
	cfg       SessionConfig
	upgrader  websocket.Upgrader
	slots     *sessionSlots
	active    atomic.Int64
}

// NewSessionHub creates a hub. No goroutines run until a client connects.
func NewSessionHub(engine *game.Engine, cfg SessionConfig) *SessionHub {
	h := &SessionHub{
		engine:    engine,
		store:     engine.Store(),
		cfg:       cfg,
		slots:     newSessionSlots(cfg.MaxConnsPerIP),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if h.cfg.Origins.Allows(origin) {
				return true
			}
			log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// ActiveSessions returns the number of open websocket sessions.
func (h *SessionHub) ActiveSessions() int {
	return int(h.active.Load())
}

// HandleWebSocket upgrades the request and runs the session until the
// client goes away.
func (h *SessionHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, h.cfg.TrustProxy)

	// Early reject while we can still answer with a status code; the
	// authoritative check happens at registration.
	if h.cfg.MaxPlayers > 0 && h.store.PlayerCount() >= h.cfg.MaxPlayers {
		log.Printf("⚠️ WebSocket connection rejected: lobby full (%d)", h.cfg.MaxPlayers)
		RecordConnectionRejected("lobby_full")
		http.Error(w, game.ErrLobbyFull.Error(), http.StatusServiceUnavailable)
		return
	}

	if !h.slots.acquire(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.slots.release(ip)
		return
	}

	h.serve(conn, ip)
}

// serve owns the per-IP slot taken by HandleWebSocket and gives it back
// when the player leaves the store.
func (h *SessionHub) serve(conn *websocket.Conn, ip string) {
	sink := newWSSink(conn, h.cfg.OutboundQueue)

	id, err := h.store.TryRegisterPlayer(sink, h.cfg.MaxPlayers)
	if err != nil {
		h.slots.release(ip)
		log.Printf("⚠️ WebSocket session from %s refused: %v", ip, err)
		RecordConnectionRejected("lobby_full")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	go sink.writePump()
	defer sink.close()

	UpdateWSConnections(int(h.active.Add(1)))
	defer func() { UpdateWSConnections(int(h.active.Add(-1))) }()

	log.Printf("📱 Client %s connected from %s", id, ip)
	h.store.NotifyRosterChange()

	defer func() {
		if err := h.store.DeregisterPlayer(id); err != nil {
			log.Printf("⚠️ Deregister %s: %v", id, err)
		}
		h.slots.release(ip)
		h.store.NotifyRosterChange()
		log.Printf("📱 Client %s disconnected", id)
	}()

	h.readLoop(conn, id)
}

// readLoop handles client frames until the connection fails or closes.
// Bad frames are logged and skipped; they never end the session.
func (h *SessionHub) readLoop(conn *websocket.Conn, id string) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(h.cfg.InboundRate), h.cfg.InboundBurst)
	if h.cfg.InboundRate <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("⚠️ Read from %s: %v", id, err)
			}
			return
		}
		// Any traffic proves the peer is alive.
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if kind != websocket.TextMessage {
			continue
		}
		if !limiter.Allow() {
			log.Printf("⚠️ Dropping frame from %s: inbound rate exceeded", id)
			RecordMessageDropped("inbound_rate")
			continue
		}

		msg, err := protocol.DecodeClient(data)
		if err != nil {
			log.Printf("⚠️ Protocol error from %s: %v", id, err)
			RecordMessageDropped("protocol")
			continue
		}
		h.dispatch(id, msg)
	}
}

func (h *SessionHub) dispatch(id string, msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case protocol.RequestStart:
		if err := h.engine.RequestStart(); err != nil {
			log.Printf("⏳ Start request from %s ignored: %v", id, err)
		}
	case protocol.PlayerUpdate:
		if err := h.store.ApplySteering(id, m.CurrentDirection); err != nil && !errors.Is(err, game.ErrPlayerNotFound) {
			log.Printf("⚠️ Steering from %s: %v", id, err)
		}
	}
}
