package game

import (
	"errors"
	"sync"

	"lighttrail/internal/config"
	"lighttrail/internal/protocol"
)

// recordingSink captures frames; failing sinks reject every send.
type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

var errSinkClosed = errors.New("sink closed")

func (s *recordingSink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSinkClosed
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) messages() []protocol.ServerMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.ServerMessage, 0, len(s.frames))
	for _, f := range s.frames {
		if msg, err := protocol.DecodeServer(f); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (s *recordingSink) gameStates() []protocol.GameState {
	var out []protocol.GameState
	for _, m := range s.messages() {
		if gs, ok := m.(protocol.GameState); ok {
			out = append(out, gs)
		}
	}
	return out
}

func testRules() Rules {
	return RulesFromConfig(config.Default())
}

func newTestStore() *Store {
	return NewStore(testRules())
}

// forceRunning puts the lobby straight into Running for physics tests.
func forceRunning(s *Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lobby.state = protocol.Running
}

// place positions a registered player for a scenario.
func place(s *Store, id string, x, y, heading float64, trail ...protocol.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.players[id]
	p.X, p.Y = x, y
	p.Heading = NormalizeAngle(heading)
	p.Alive = true
	p.Steering = protocol.Straight
	p.Trail = append(p.Trail[:0], trail...)
}

// gatedSink blocks its first Send until release is closed.
type gatedSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSink() *gatedSink {
	return &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSink) Send(frame []byte) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.recordingSink.Send(frame)
}
