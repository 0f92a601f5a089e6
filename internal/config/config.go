// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for arena, physics and server settings.
//
// Precedence: built-in defaults < optional TOML file (CONFIG_FILE) < environment.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Port           int      `toml:"port"`
	TickRate       int      `toml:"tick_rate"`        // Simulation ticks per second
	MaxPlayers     int      `toml:"max_players"`      // Hard cap on connected players
	MaxConnsPerIP  int      `toml:"max_conns_per_ip"` // Concurrent websockets per IP
	InboundRate    float64  `toml:"inbound_rate"`     // Client frames per second per connection
	InboundBurst   int      `toml:"inbound_burst"`
	OutboundQueue  int      `toml:"outbound_queue"` // Buffered frames per connection
	AllowedOrigins []string `toml:"allowed_origins"`
	AllowAnyOrigin bool     `toml:"allow_any_origin"`
	HTTPRate       float64  `toml:"http_rate"` // HTTP requests per second per client address
	HTTPBurst      int      `toml:"http_burst"`
	HTTPIdle       Duration `toml:"http_idle"`   // Per-address limiters are forgotten after this
	TrustProxy     bool     `toml:"trust_proxy"` // Read client address from X-Forwarded-For / X-Real-IP
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:          9001,
		TickRate:      30,
		MaxPlayers:    32,
		MaxConnsPerIP: 8,
		InboundRate:   60,
		InboundBurst:  120,
		OutboundQueue: 64,
		AllowedOrigins: []string{
			"http://localhost",
			"http://127.0.0.1",
		},
		HTTPRate:  10,
		HTTPBurst: 20,
		HTTPIdle:  Duration(10 * time.Minute),
	}
}

func (c *ServerConfig) applyEnv() {
	if p := getEnvInt("PORT", 0); p > 0 {
		c.Port = p
	}
	if tr := getEnvInt("TICK_RATE", 0); tr > 0 {
		c.TickRate = tr
	}
	if mp := getEnvInt("MAX_PLAYERS", 0); mp > 0 {
		c.MaxPlayers = mp
	}
	if os.Getenv("ALLOW_ANY_ORIGIN") == "true" {
		c.AllowAnyOrigin = true
	}
	if r := getEnvFloat("HTTP_RATE", 0); r > 0 {
		c.HTTPRate = r
	}
	if b := getEnvInt("HTTP_BURST", 0); b > 0 {
		c.HTTPBurst = b
	}
	if os.Getenv("TRUST_PROXY") == "true" {
		c.TrustProxy = true
	}
}

// =============================================================================
// ARENA CONFIGURATION
// =============================================================================

// ArenaConfig describes the rectangular play field, centered on the origin.
type ArenaConfig struct {
	Width       float64 `toml:"width"`
	Height      float64 `toml:"height"`
	SpawnMargin float64 `toml:"spawn_margin"` // Fraction of each side kept clear at spawn
}

// DefaultArena returns the default arena: 1000x1000, spawns kept 10% off every edge.
func DefaultArena() ArenaConfig {
	return ArenaConfig{
		Width:       1000,
		Height:      1000,
		SpawnMargin: 0.1,
	}
}

// Bounds returns the arena rectangle as min/max corners.
func (a ArenaConfig) Bounds() (minX, minY, maxX, maxY float64) {
	return -a.Width / 2, -a.Height / 2, a.Width / 2, a.Height / 2
}

// SpawnBounds returns the sub-rectangle random spawns are drawn from.
func (a ArenaConfig) SpawnBounds() (minX, minY, maxX, maxY float64) {
	mx := a.Width * a.SpawnMargin
	my := a.Height * a.SpawnMargin
	return -a.Width/2 + mx, -a.Height/2 + my, a.Width/2 - mx, a.Height/2 - my
}

func (a *ArenaConfig) applyEnv() {
	if w := getEnvFloat("ARENA_WIDTH", 0); w > 0 {
		a.Width = w
	}
	if h := getEnvFloat("ARENA_HEIGHT", 0); h > 0 {
		a.Height = h
	}
}

// =============================================================================
// PHYSICS CONFIGURATION
// =============================================================================

// PhysicsConfig holds movement and collision tuning, in units per second.
type PhysicsConfig struct {
	MoveSpeed       float64 `toml:"move_speed"`       // Units per second
	RotationSpeed   float64 `toml:"rotation_speed"`   // Radians per second
	CollisionRadius float64 `toml:"collision_radius"` // Head-to-trail kill distance (strict <)
}

// DefaultPhysics returns the default physics tuning.
func DefaultPhysics() PhysicsConfig {
	return PhysicsConfig{
		MoveSpeed:       200,
		RotationSpeed:   2.5,
		CollisionRadius: 20,
	}
}

// StepPerTick is the distance a head advances in one tick.
func (p PhysicsConfig) StepPerTick(tickRate int) float64 {
	return p.MoveSpeed / float64(tickRate)
}

// TurnPerTick is the heading change applied in one tick while steering.
func (p PhysicsConfig) TurnPerTick(tickRate int) float64 {
	return p.RotationSpeed / float64(tickRate)
}

// SelfSkip is the number of most recent own trail points ignored by the
// self-collision test. Those points sit within the collision radius of the
// head by construction.
func (p PhysicsConfig) SelfSkip(tickRate int) int {
	step := p.StepPerTick(tickRate)
	return int(math.Ceil(p.CollisionRadius/step)) + 1
}

func (p *PhysicsConfig) applyEnv() {
	if v := getEnvFloat("MOVE_SPEED", 0); v > 0 {
		p.MoveSpeed = v
	}
	if v := getEnvFloat("ROTATION_SPEED", 0); v > 0 {
		p.RotationSpeed = v
	}
	if v := getEnvFloat("COLLISION_RADIUS", 0); v > 0 {
		p.CollisionRadius = v
	}
}

// =============================================================================
// LOBBY CONFIGURATION
// =============================================================================

// LobbyConfig controls round pacing.
type LobbyConfig struct {
	CountdownFrom int      `toml:"countdown_from"` // First countdown value shown
	CountdownStep Duration `toml:"countdown_step"` // Time between countdown values
	ResetDelay    Duration `toml:"reset_delay"`    // Finished -> Waiting; 0 disables
}

// DefaultLobby returns the default lobby pacing.
func DefaultLobby() LobbyConfig {
	return LobbyConfig{
		CountdownFrom: 5,
		CountdownStep: Duration(time.Second),
		ResetDelay:    Duration(5 * time.Second),
	}
}

func (l *LobbyConfig) applyEnv() {
	if d := getEnvDuration("LOBBY_RESET_DELAY", -1); d >= 0 {
		l.ResetDelay = Duration(d)
	}
}

// =============================================================================
// OBSERVABILITY CONFIGURATION
// =============================================================================

// ObservabilityConfig configures the debug server and event log.
type ObservabilityConfig struct {
	DebugServer   bool   `toml:"debug_server"`
	DebugAddr     string `toml:"debug_addr"` // Localhost only unless DebugExternal
	DebugExternal bool   `toml:"debug_external"`
	DebugUser     string `toml:"debug_user"` // Optional basic auth
	DebugPass     string `toml:"debug_pass"`
	EventLogPath  string `toml:"event_log_path"`
}

// DefaultObservability returns safe defaults.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		DebugServer: true,
		DebugAddr:   "127.0.0.1:6060",
	}
}

func (o *ObservabilityConfig) applyEnv() {
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		o.DebugServer = false
	}
	if addr := os.Getenv("DEBUG_ADDR"); addr != "" {
		o.DebugAddr = addr
	}
	if os.Getenv("ALLOW_DEBUG_EXTERNAL") == "true" {
		o.DebugExternal = true
	}
	if user := os.Getenv("DEBUG_USER"); user != "" {
		o.DebugUser = user
		o.DebugPass = os.Getenv("DEBUG_PASS")
	}
	if path, ok := os.LookupEnv("EVENT_LOG_PATH"); ok {
		o.EventLogPath = path
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server        ServerConfig        `toml:"server"`
	Arena         ArenaConfig         `toml:"arena"`
	Physics       PhysicsConfig       `toml:"physics"`
	Lobby         LobbyConfig         `toml:"lobby"`
	Observability ObservabilityConfig `toml:"observability"`
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Server:        DefaultServer(),
		Arena:         DefaultArena(),
		Physics:       DefaultPhysics(),
		Lobby:         DefaultLobby(),
		Observability: DefaultObservability(),
	}
}

// Load returns the complete configuration: defaults, then the TOML file named
// by CONFIG_FILE (if any), then environment overrides.
func Load() (AppConfig, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// LoadFile decodes a TOML file over cfg. Keys missing from the file keep
// their current values.
func LoadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	c.Server.applyEnv()
	c.Arena.applyEnv()
	c.Physics.applyEnv()
	c.Lobby.applyEnv()
	c.Observability.applyEnv()
}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Validate rejects settings the simulation cannot run with.
func (c AppConfig) Validate() error {
	switch {
	case c.Server.TickRate <= 0:
		return fmt.Errorf("%w: tick rate must be positive", ErrInvalid)
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Server.Port)
	case c.Server.HTTPRate <= 0 || c.Server.HTTPBurst <= 0:
		return fmt.Errorf("%w: HTTP rate limit must be positive", ErrInvalid)
	case c.Server.HTTPIdle <= 0:
		return fmt.Errorf("%w: HTTP limiter idle timeout must be positive", ErrInvalid)
	case c.Arena.Width <= 0 || c.Arena.Height <= 0:
		return fmt.Errorf("%w: arena must have positive size", ErrInvalid)
	case c.Arena.SpawnMargin < 0 || c.Arena.SpawnMargin >= 0.5:
		return fmt.Errorf("%w: spawn margin %.2f leaves no spawn area", ErrInvalid, c.Arena.SpawnMargin)
	case c.Physics.MoveSpeed <= 0:
		return fmt.Errorf("%w: move speed must be positive", ErrInvalid)
	case c.Physics.RotationSpeed <= 0:
		return fmt.Errorf("%w: rotation speed must be positive", ErrInvalid)
	case c.Physics.CollisionRadius <= 0:
		return fmt.Errorf("%w: collision radius must be positive", ErrInvalid)
	case c.Lobby.CountdownFrom < 0:
		return fmt.Errorf("%w: countdown must not be negative", ErrInvalid)
	case c.Lobby.CountdownStep <= 0:
		return fmt.Errorf("%w: countdown step must be positive", ErrInvalid)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Duration is a time.Duration that reads "1s" / "500ms" strings from TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
