package game

import (
	"log"
	"sync"
	"time"

	"lighttrail/internal/protocol"
)

// EngineConfig configures the tick scheduler.
type EngineConfig struct {
	TickRate      int           // Ticks per second
	CountdownStep time.Duration // Time between countdown values
	ResetDelay    time.Duration // Finished -> Waiting after this long; 0 disables
}

// Engine drives a Store at a fixed tick rate and fans each snapshot out to
// every connection. It also paces round countdowns.
type Engine struct {
	mu       sync.Mutex
	store    *Store
	cfg      EngineConfig
	running  bool
	stopped  bool
	ticker   *time.Ticker
	stopChan chan struct{}

	resetAfter uint64 // ticks

	// OnTick is called after every tick with the time the tick took.
	// Set it before Start.
	OnTick func(report TickReport, took time.Duration)
}

// NewEngine creates a scheduler for store. Nothing runs until Start.
func NewEngine(store *Store, cfg EngineConfig) *Engine {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 30
	}
	if cfg.CountdownStep <= 0 {
		cfg.CountdownStep = time.Second
	}
	var resetAfter uint64
	if cfg.ResetDelay > 0 {
		resetAfter = uint64(cfg.ResetDelay * time.Duration(cfg.TickRate) / time.Second)
		if resetAfter == 0 {
			resetAfter = 1
		}
	}
	return &Engine{
		store:      store,
		cfg:        cfg,
		stopChan:   make(chan struct{}),
		resetAfter: resetAfter,
	}
}

// Store returns the state the engine drives.
func (e *Engine) Store() *Store {
	return e.store
}

// Start begins the tick loop. An engine is single-use: once stopped it
// cannot be started again.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		log.Println("⚠️ Tick loop already stopped, not restarting")
		return
	}
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.ticker = time.NewTicker(time.Second / time.Duration(e.cfg.TickRate))
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-e.ticker.C:
				e.tick()
			case <-e.stopChan:
				return
			}
		}
	}()

	log.Printf("🎮 Tick loop started at %d TPS", e.cfg.TickRate)
}

// Stop halts the tick loop and any countdown in progress.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.stopChan:
		return
	default:
	}
	if e.ticker != nil {
		e.ticker.Stop()
	}
	e.running = false
	e.stopped = true
	close(e.stopChan)
	log.Println("🛑 Tick loop stopped")
}

// tick is one scheduler step. The store lock is held only inside
// tickAndSnapshot; encoding and sending happen after it is released.
// A slow tick delays the next one; missed ticks are not replayed.
func (e *Engine) tick() {
	start := time.Now()

	report, snap, to, publish := e.store.tickAndSnapshot(e.resetAfter)
	if publish {
		frame, err := protocol.Encode(snap)
		if err != nil {
			log.Printf("❌ Encode game state: %v", err)
		} else {
			deliver(to, frame)
		}
	}

	if e.OnTick != nil {
		e.OnTick(report, time.Since(start))
	}
}

// RequestStart begins a round countdown if the lobby is Waiting (or
// Finished) and paces it in the background, one step per CountdownStep.
// While a round is pending or running it returns ErrLobbyBusy.
func (e *Engine) RequestStart() error {
	if err := e.store.BeginCountdown(); err != nil {
		return err
	}
	go e.runCountdown()
	return nil
}

func (e *Engine) runCountdown() {
	ticker := time.NewTicker(e.cfg.CountdownStep)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			state, err := e.store.AdvanceCountdown()
			if err != nil {
				log.Printf("⚠️ Countdown stopped: %v", err)
				return
			}
			if state.Phase != protocol.PhaseCountdown {
				return
			}
		}
	}
}
