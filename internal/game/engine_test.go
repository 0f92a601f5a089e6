package game

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"lighttrail/internal/protocol"
)

func fastEngine(s *Store) *Engine {
	return NewEngine(s, EngineConfig{
		TickRate:      200,
		CountdownStep: 5 * time.Millisecond,
		ResetDelay:    0,
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// TestEngineStartStop verifies engine can start and stop without panics
func TestEngineStartStop(t *testing.T) {
	engine := fastEngine(newTestStore())

	engine.Start()
	engine.Start() // second start is a no-op
	time.Sleep(20 * time.Millisecond)

	engine.Stop()
	// Should not panic on double stop
	engine.Stop()
}

func TestNewEngineResetTicks(t *testing.T) {
	tests := []struct {
		name  string
		cfg   EngineConfig
		ticks uint64
	}{
		{"disabled", EngineConfig{TickRate: 30}, 0},
		{"five seconds at 30 TPS", EngineConfig{TickRate: 30, ResetDelay: 5 * time.Second}, 150},
		{"shorter than a tick", EngineConfig{TickRate: 30, ResetDelay: time.Millisecond}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(newTestStore(), tt.cfg)
			if e.resetAfter != tt.ticks {
				t.Errorf("Expected %d ticks, got %d", tt.ticks, e.resetAfter)
			}
		})
	}
}

func TestRequestStartRunsCountdown(t *testing.T) {
	s := newTestStore()
	sink := &recordingSink{}
	s.RegisterPlayer(sink)
	s.RegisterPlayer(&recordingSink{})

	engine := fastEngine(s)
	engine.Start()
	defer engine.Stop()

	if err := engine.RequestStart(); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if err := engine.RequestStart(); !errors.Is(err, ErrLobbyBusy) {
		t.Errorf("second start should be rejected, got %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return s.Lobby().Phase != protocol.PhaseCountdown })

	// Countdown values reach clients through the tick broadcast, in order.
	var seen []int
	var lastTick uint64
	for _, gs := range sink.gameStates() {
		if gs.Tick <= lastTick {
			t.Fatalf("snapshot ticks not increasing: %d after %d", gs.Tick, lastTick)
		}
		lastTick = gs.Tick
		if gs.LobbyState.Phase == protocol.PhaseCountdown {
			if n := len(seen); n == 0 || seen[n-1] != gs.LobbyState.Countdown {
				seen = append(seen, gs.LobbyState.Countdown)
			}
		}
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] >= seen[i-1] {
			t.Errorf("countdown should only go down: %v", seen)
		}
	}
	for _, n := range seen {
		if n < 0 {
			t.Errorf("countdown went negative: %v", seen)
		}
	}
}

func TestOnTickCallback(t *testing.T) {
	engine := fastEngine(newTestStore())
	ticks := make(chan TickReport, 64)
	engine.OnTick = func(r TickReport, took time.Duration) {
		select {
		case ticks <- r:
		default:
		}
	}

	engine.Start()
	defer engine.Stop()

	select {
	case r := <-ticks:
		if r.Tick == 0 {
			t.Error("Expected a non-zero tick number")
		}
	case <-time.After(time.Second):
		t.Fatal("OnTick never called")
	}
}

// TestEngineRoundEndToEnd drives a full round through the scheduler
func TestEngineRoundEndToEnd(t *testing.T) {
	s := newTestStore()
	sinkA := &recordingSink{}
	a := s.RegisterPlayer(sinkA)
	b := s.RegisterPlayer(&recordingSink{})

	engine := NewEngine(s, EngineConfig{TickRate: 100, CountdownStep: 5 * time.Millisecond, ResetDelay: 50 * time.Millisecond})
	if err := engine.RequestStart(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.Lobby() == protocol.Running })

	// Aim both riders at each other on the x axis before ticking.
	place(s, a, -100, 0, 0)
	place(s, b, 100, 0, 3.14159265)

	engine.Start()
	defer engine.Stop()

	waitFor(t, 3*time.Second, func() bool { return s.Lobby() != protocol.Running })
	waitFor(t, 3*time.Second, func() bool { return s.Lobby() == protocol.Waiting })

	var finished bool
	for _, gs := range sinkA.gameStates() {
		if gs.LobbyState == protocol.Finished {
			finished = true
		}
	}
	if !finished {
		t.Error("clients should receive the Finished snapshot")
	}
}

func TestEngineNotRestartedAfterStop(t *testing.T) {
	engine := fastEngine(newTestStore())
	var ticks atomic.Int64
	engine.OnTick = func(TickReport, time.Duration) { ticks.Add(1) }

	engine.Start()
	waitFor(t, time.Second, func() bool { return ticks.Load() > 0 })
	engine.Stop()

	time.Sleep(20 * time.Millisecond)
	before := ticks.Load()
	engine.Start()
	time.Sleep(30 * time.Millisecond)

	if after := ticks.Load(); after != before {
		t.Errorf("Expected no ticks after restart attempt, got %d more", after-before)
	}
	engine.mu.Lock()
	running := engine.running
	engine.mu.Unlock()
	if running {
		t.Error("stopped engine should not report running")
	}
}
