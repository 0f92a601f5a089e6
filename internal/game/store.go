package game

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"lighttrail/internal/config"
	"lighttrail/internal/protocol"

	"github.com/google/uuid"
)

var (
	// ErrPlayerNotFound is returned for ids that are not (or no longer) registered.
	// Callers treat it as a benign race with a disconnect.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrLobbyFull is returned by TryRegisterPlayer when the player cap is reached.
	ErrLobbyFull = errors.New("lobby is full")
)

// Sink receives serialized frames for one connection. Send must not block
// for long; a slow or closed connection reports an error instead.
type Sink interface {
	Send(frame []byte) error
}

// Rules are the fixed per-process simulation parameters.
type Rules struct {
	Arena         Bounds
	Spawn         Bounds
	Step          float64 // Distance per tick
	Turn          float64 // Radians per tick
	Radius        float64
	SelfSkip      int
	CountdownFrom int
}

// RulesFromConfig derives tick-based rules from the app configuration.
func RulesFromConfig(cfg config.AppConfig) Rules {
	tr := cfg.Server.TickRate
	minX, minY, maxX, maxY := cfg.Arena.Bounds()
	sMinX, sMinY, sMaxX, sMaxY := cfg.Arena.SpawnBounds()
	return Rules{
		Arena:         Bounds{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY},
		Spawn:         Bounds{MinX: sMinX, MinY: sMinY, MaxX: sMaxX, MaxY: sMaxY},
		Step:          cfg.Physics.StepPerTick(tr),
		Turn:          cfg.Physics.TurnPerTick(tr),
		Radius:        cfg.Physics.CollisionRadius,
		SelfSkip:      cfg.Physics.SelfSkip(tr),
		CountdownFrom: cfg.Lobby.CountdownFrom,
	}
}

// TickReport summarizes one scheduler tick.
type TickReport struct {
	Tick     uint64
	Lobby    protocol.LobbyState
	Advanced bool     // Physics ran this tick
	Deaths   []string // Players killed this tick, in sweep order
	Alive    int
	Players  int
	Finished bool   // Round ended this tick
	Winner   string // Sole survivor when Finished, empty if none
	Reset    bool   // Lobby returned to Waiting this tick
}

type recipient struct {
	id   string
	sink Sink
}

// Store is the shared game state: players in join order, their outbound
// sinks, and the lobby. Every method takes the store lock for its whole
// critical section and never performs network I/O while holding it.
type Store struct {
	mu      sync.Mutex
	notify  sync.Mutex // Serializes NotifyRosterChange; taken before mu
	rules   Rules
	players map[string]*Player
	order   []string
	sinks   map[string]Sink
	lobby   *Lobby

	tick         uint64
	finishedTick uint64
	scratch      []*Player

	rng    *rand.Rand
	newID  func() string
	events *EventLog
}

// NewStore creates an empty store in the Waiting phase.
func NewStore(rules Rules) *Store {
	return &Store{
		rules:   rules,
		players: make(map[string]*Player),
		sinks:   make(map[string]Sink),
		lobby:   NewLobby(rules.CountdownFrom),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		newID:   uuid.NewString,
		events:  NewEventLog(),
	}
}

// Events returns the store's event log.
func (s *Store) Events() *EventLog {
	return s.events
}

// RegisterPlayer adds a default player bound to sink and returns its fresh id.
func (s *Store) RegisterPlayer(sink Sink) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(sink)
}

// TryRegisterPlayer is RegisterPlayer with a cap on connected players.
// A limit of zero or less means no cap.
func (s *Store) TryRegisterPlayer(sink Sink, limit int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit > 0 && len(s.players) >= limit {
		return "", ErrLobbyFull
	}
	return s.registerLocked(sink), nil
}

func (s *Store) registerLocked(sink Sink) string {
	id := s.newID()
	s.players[id] = NewPlayer(id)
	s.sinks[id] = sink
	s.order = append(s.order, id)

	s.events.EmitSimple(EventTypePlayerJoin, s.tick, id, PlayerPayload{PlayerID: id, Players: len(s.players)})
	log.Printf("👤 Player joined: %s (%d connected)", id, len(s.players))
	return id
}

// DeregisterPlayer removes the player and its sink.
func (s *Store) DeregisterPlayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[id]; !ok {
		log.Printf("⚠️ Deregister of unknown player %s", id)
		return fmt.Errorf("deregister %s: %w", id, ErrPlayerNotFound)
	}
	delete(s.players, id)
	delete(s.sinks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.events.EmitSimple(EventTypePlayerLeave, s.tick, id, PlayerPayload{PlayerID: id, Players: len(s.players)})
	log.Printf("👋 Player left: %s (%d connected)", id, len(s.players))
	return nil
}

// ApplySteering sets the player's steering intent.
func (s *Store) ApplySteering(id string, dir protocol.Direction) error {
	if !dir.Valid() {
		return fmt.Errorf("steer %s: %w", id, protocol.ErrMalformed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return fmt.Errorf("steer %s: %w", id, ErrPlayerNotFound)
	}
	p.Steering = dir
	return nil
}

// InitializeRound scatters every registered player inside the spawn area
// with a random heading, clearing trails and reviving the dead.
func (s *Store) InitializeRound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initializeRoundLocked()
}

func (s *Store) initializeRoundLocked() {
	sp := s.rules.Spawn
	for _, id := range s.order {
		p, ok := s.players[id]
		if !ok {
			continue
		}
		x := sp.MinX + s.rng.Float64()*(sp.MaxX-sp.MinX)
		y := sp.MinY + s.rng.Float64()*(sp.MaxY-sp.MinY)
		p.Reset(x, y, s.rng.Float64()*twoPi)
	}
	s.events.EmitSimple(EventTypeRoundInit, s.tick, "", RoundPayload{Players: len(s.players)})
}

// AdvanceTick runs one physics step if the round is running.
// It must be called at most once per tick.
func (s *Store) AdvanceTick() TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	report := TickReport{Tick: s.tick}
	if s.lobby.State().Phase == protocol.PhaseRunning {
		s.advanceLocked(&report)
	}
	s.fillCounts(&report)
	return report
}

func (s *Store) advanceLocked(report *TickReport) {
	report.Advanced = true
	players := s.orderedLocked()

	for _, p := range players {
		if !p.Alive {
			continue
		}
		p.Steer(s.rules.Turn)
		p.Move(s.rules.Step)
	}

	killed := DetectCollisions(players, CollisionRules{
		Arena:    s.rules.Arena,
		Radius:   s.rules.Radius,
		SelfSkip: s.rules.SelfSkip,
	})
	for _, i := range killed {
		p := players[i]
		p.Kill()
		report.Deaths = append(report.Deaths, p.ID)
		s.events.EmitSimple(EventTypeDeath, s.tick, p.ID, DeathPayload{PlayerID: p.ID, X: p.X, Y: p.Y, TrailLength: len(p.Trail)})
		log.Printf("💀 Player %s crashed at (%.0f, %.0f)", p.ID, p.X, p.Y)
	}

	alive := 0
	winner := ""
	for _, p := range players {
		if p.Alive {
			alive++
			winner = p.ID
		}
	}
	if alive <= 1 {
		if alive == 0 {
			winner = ""
		}
		if err := s.lobby.Finish(); err != nil {
			log.Printf("⚠️ %v", err)
			return
		}
		s.finishedTick = s.tick
		report.Finished = true
		report.Winner = winner
		s.events.EmitSimple(EventTypeRoundEnd, s.tick, winner, RoundPayload{Players: len(players), Winner: winner})
		if winner != "" {
			log.Printf("🏆 Round over, winner: %s", winner)
		} else {
			log.Println("🏁 Round over, no survivors")
		}
	}
}

// orderedLocked returns the players in join order. A missing map entry is
// logged and skipped rather than treated as fatal.
func (s *Store) orderedLocked() []*Player {
	s.scratch = s.scratch[:0]
	for _, id := range s.order {
		p, ok := s.players[id]
		if !ok {
			log.Printf("⚠️ Player %s in order list but not in store", id)
			continue
		}
		s.scratch = append(s.scratch, p)
	}
	return s.scratch
}

func (s *Store) fillCounts(report *TickReport) {
	report.Lobby = s.lobby.State()
	report.Players = len(s.players)
	for _, p := range s.players {
		if p.Alive {
			report.Alive++
		}
	}
}

// tickAndSnapshot is the scheduler's critical section: advance, optionally
// reset a finished lobby, and capture a snapshot plus its recipients in one
// consistent view. publish is false while the lobby idles in Waiting or Finished.
func (s *Store) tickAndSnapshot(resetAfter uint64) (report TickReport, snap protocol.GameState, to []recipient, publish bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	report.Tick = s.tick
	before := s.lobby.State()

	switch before.Phase {
	case protocol.PhaseRunning:
		s.advanceLocked(&report)
	case protocol.PhaseFinished:
		if resetAfter > 0 && s.tick-s.finishedTick >= resetAfter {
			s.resetLocked()
			report.Reset = true
		}
	}
	s.fillCounts(&report)

	publish = before.Active() || report.Reset
	if publish {
		snap = s.snapshotLocked()
		to = s.recipientsLocked()
	}
	return report, snap, to, publish
}

func (s *Store) resetLocked() {
	if err := s.lobby.Reset(); err != nil {
		log.Printf("⚠️ %v", err)
		return
	}
	s.events.EmitSimple(EventTypeLobbyReset, s.tick, "", RoundPayload{Players: len(s.players)})
	log.Println("🔄 Lobby back to waiting")
}

// Snapshot returns a deep copy of the lobby state and all players.
func (s *Store) Snapshot() protocol.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() protocol.GameState {
	states := make([]protocol.PlayerState, 0, len(s.order))
	for _, p := range s.orderedLocked() {
		states = append(states, p.ToState())
	}
	return protocol.GameState{
		LobbyState:   s.lobby.State(),
		PlayerStates: states,
		Tick:         s.tick,
	}
}

// Player returns a copy of one player's state.
func (s *Store) Player(id string) (protocol.PlayerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return protocol.PlayerState{}, false
	}
	return p.ToState(), true
}

// Lobby returns the current lobby state.
func (s *Store) Lobby() protocol.LobbyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lobby.State()
}

// PlayerCount returns the number of registered players.
func (s *Store) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// AliveCount returns the number of players currently alive.
func (s *Store) AliveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.players {
		if p.Alive {
			n++
		}
	}
	return n
}

// BeginCountdown starts a round: Waiting -> Countdown(n) plus round
// initialization, atomically. A Finished lobby is first returned to Waiting.
// Concurrent callers race on the lock; all but one get ErrLobbyBusy.
func (s *Store) BeginCountdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lobby.State().Phase == protocol.PhaseFinished {
		s.resetLocked()
	}
	if err := s.lobby.BeginCountdown(); err != nil {
		return err
	}
	s.initializeRoundLocked()
	s.events.EmitSimple(EventTypeCountdown, s.tick, "", CountdownPayload{Remaining: s.lobby.State().Countdown})
	log.Printf("⏳ Countdown started (%d players)", len(s.players))
	return nil
}

// AdvanceCountdown performs one countdown second. Reaching Countdown(0)
// continues straight on to Running. An empty lobby aborts to Waiting.
func (s *Store) AdvanceCountdown() (protocol.LobbyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lobby.State().Phase == protocol.PhaseCountdown && len(s.players) == 0 {
		if err := s.lobby.Abort(); err != nil {
			return s.lobby.State(), err
		}
		log.Println("⏹️ Countdown aborted, lobby empty")
		return s.lobby.State(), nil
	}

	if err := s.lobby.Advance(); err != nil {
		return s.lobby.State(), err
	}
	state := s.lobby.State()
	if state.Phase == protocol.PhaseCountdown && state.Countdown == 0 {
		if err := s.lobby.Advance(); err != nil {
			return s.lobby.State(), err
		}
		state = s.lobby.State()
	}

	if state.Phase == protocol.PhaseRunning {
		s.events.EmitSimple(EventTypeRoundStart, s.tick, "", RoundPayload{Players: len(s.players)})
		log.Printf("🚦 Round started with %d players", len(s.players))
	} else {
		s.events.EmitSimple(EventTypeCountdown, s.tick, "", CountdownPayload{Remaining: state.Countdown})
	}
	return state, nil
}

func (s *Store) recipientsLocked() []recipient {
	to := make([]recipient, 0, len(s.order))
	for _, id := range s.order {
		if sink, ok := s.sinks[id]; ok {
			to = append(to, recipient{id: id, sink: sink})
		}
	}
	return to
}

// Broadcast sends frame to every registered sink and returns how many
// accepted it. A failing recipient is logged and skipped.
func (s *Store) Broadcast(frame []byte) int {
	s.mu.Lock()
	to := s.recipientsLocked()
	s.mu.Unlock()
	return deliver(to, frame)
}

// NotifyRosterChange sends every connection a ConnectionInfo carrying its
// own id and the current roster size. Concurrent calls are delivered in the
// order they read the roster, so a client's last ConnectionInfo is current.
func (s *Store) NotifyRosterChange() {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	to := s.recipientsLocked()
	count := len(s.players)
	s.mu.Unlock()

	for _, r := range to {
		frame, err := protocol.Encode(protocol.ConnectionInfo{PlayerID: r.id, PlayersConnected: count})
		if err != nil {
			log.Printf("❌ Encode connection info: %v", err)
			return
		}
		deliver([]recipient{r}, frame)
	}
}

func deliver(to []recipient, frame []byte) int {
	sent := 0
	for _, r := range to {
		if err := r.sink.Send(frame); err != nil {
			log.Printf("⚠️ Send to %s failed: %v", r.id, err)
			continue
		}
		sent++
	}
	return sent
}
