package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lighttrail/internal/api"
	"lighttrail/internal/config"
	"lighttrail/internal/game"
	"lighttrail/internal/protocol"

	"github.com/gorilla/websocket"
)

// createTestServer builds a running engine behind an httptest server.
func createTestServer(t *testing.T, tweak func(*config.AppConfig)) (*httptest.Server, *game.Engine) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.TickRate = 100
	if tweak != nil {
		tweak(&cfg)
	}

	store := game.NewStore(game.RulesFromConfig(cfg))
	engine := game.NewEngine(store, game.EngineConfig{
		TickRate:      cfg.Server.TickRate,
		CountdownStep: 20 * time.Millisecond,
	})
	engine.Start()

	server := api.NewServer(engine, cfg.Server)
	ts := httptest.NewServer(server.Router())

	t.Cleanup(func() {
		ts.Close()
		engine.Stop()
	})
	return ts, engine
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads server messages until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(protocol.ServerMessage) bool) protocol.ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func connectionInfoWith(players int) func(protocol.ServerMessage) bool {
	return func(m protocol.ServerMessage) bool {
		info, ok := m.(protocol.ConnectionInfo)
		return ok && info.PlayersConnected == players
	}
}

// TestHealth tests /health endpoint
func TestHealth(t *testing.T) {
	ts, _ := createTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

// TestGetLobby tests /api/lobby endpoint
func TestGetLobby(t *testing.T) {
	ts, _ := createTestServer(t, nil)
	dial(t, ts)

	var body struct {
		LobbyState       protocol.LobbyState `json:"lobby_state"`
		PlayersConnected int                 `json:"players_connected"`
		Sessions         int                 `json:"sessions"`
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/lobby")
		if err != nil {
			t.Fatal(err)
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if body.PlayersConnected == 1 && body.Sessions == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if body.PlayersConnected != 1 {
		t.Errorf("Expected 1 player, got %d", body.PlayersConnected)
	}
	if body.Sessions != 1 {
		t.Errorf("Expected 1 open session, got %d", body.Sessions)
	}
	if body.LobbyState != protocol.Waiting {
		t.Errorf("Expected Waiting, got %s", body.LobbyState)
	}
}

// TestGetState tests /api/state returns the websocket GameState encoding
func TestGetState(t *testing.T) {
	ts, _ := createTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["type"]) != `"GameState"` {
		t.Errorf(`Expected type "GameState", got %s`, raw["type"])
	}
	if string(raw["lobby_state"]) != `"Waiting"` {
		t.Errorf(`Expected lobby_state "Waiting", got %s`, raw["lobby_state"])
	}
}

func TestGetEventsLimit(t *testing.T) {
	ts, _ := createTestServer(t, nil)

	tests := []struct {
		query  string
		status int
	}{
		{"", http.StatusOK},
		{"?limit=5", http.StatusOK},
		{"?limit=0", http.StatusBadRequest},
		{"?limit=abc", http.StatusBadRequest},
	}

	for _, tt := range tests {
		resp, err := http.Get(ts.URL + "/api/events" + tt.query)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("%q: expected status %d, got %d", tt.query, tt.status, resp.StatusCode)
		}
	}
}

func TestConnectionInfoOnJoinAndLeave(t *testing.T) {
	ts, _ := createTestServer(t, nil)

	a := dial(t, ts)
	infoA := readUntil(t, a, connectionInfoWith(1)).(protocol.ConnectionInfo)
	if infoA.PlayerID == "" {
		t.Fatal("Expected a player id")
	}

	b := dial(t, ts)
	infoB := readUntil(t, b, connectionInfoWith(2)).(protocol.ConnectionInfo)
	if infoB.PlayerID == infoA.PlayerID {
		t.Error("players should get distinct ids")
	}

	// A hears about B and keeps its own id.
	again := readUntil(t, a, connectionInfoWith(2)).(protocol.ConnectionInfo)
	if again.PlayerID != infoA.PlayerID {
		t.Errorf("Expected own id %s, got %s", infoA.PlayerID, again.PlayerID)
	}

	b.Close()
	readUntil(t, a, connectionInfoWith(1))
}

func TestRoundStartsAndSteeringApplies(t *testing.T) {
	ts, engine := createTestServer(t, nil)

	a := dial(t, ts)
	info := readUntil(t, a, connectionInfoWith(1)).(protocol.ConnectionInfo)
	b := dial(t, ts)
	readUntil(t, b, connectionInfoWith(2))

	send(t, a, `{"type":"RequestStart"}`)

	// Both players see the countdown and then the running round.
	for _, conn := range []*websocket.Conn{a, b} {
		readUntil(t, conn, func(m protocol.ServerMessage) bool {
			gs, ok := m.(protocol.GameState)
			return ok && gs.LobbyState.Phase == protocol.PhaseCountdown
		})
		running := readUntil(t, conn, func(m protocol.ServerMessage) bool {
			gs, ok := m.(protocol.GameState)
			return ok && gs.LobbyState == protocol.Running
		}).(protocol.GameState)
		if len(running.PlayerStates) != 2 {
			t.Errorf("Expected 2 player states, got %d", len(running.PlayerStates))
		}
	}

	send(t, a, `{"type":"PlayerUpdate","current_direction":"Left"}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := engine.Store().Player(info.PlayerID); ok && p.CurrentDirection == protocol.Left {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("steering update was not applied")
}

func TestBadFramesKeepSessionOpen(t *testing.T) {
	ts, _ := createTestServer(t, nil)

	a := dial(t, ts)
	readUntil(t, a, connectionInfoWith(1))

	send(t, a, `not json`)
	send(t, a, `{"type":"Teleport"}`)
	send(t, a, `{"type":"PlayerUpdate","current_direction":"Up"}`)

	// Still registered: a second client sees two players.
	b := dial(t, ts)
	readUntil(t, b, connectionInfoWith(2))
}

func TestLobbyFullRejected(t *testing.T) {
	ts, _ := createTestServer(t, func(c *config.AppConfig) { c.Server.MaxPlayers = 1 })

	a := dial(t, ts)
	readUntil(t, a, connectionInfoWith(1))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Expected dial to fail when lobby is full")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %v", resp)
	}
}

func TestOriginRejected(t *testing.T) {
	ts, _ := createTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("Expected dial to fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %v", resp)
	}
}

func TestDisconnectMidRoundFinishesForSurvivor(t *testing.T) {
	// Slow riders so the round cannot end on its own during the test.
	ts, _ := createTestServer(t, func(c *config.AppConfig) { c.Physics.MoveSpeed = 10 })

	a := dial(t, ts)
	info := readUntil(t, a, connectionInfoWith(1)).(protocol.ConnectionInfo)
	b := dial(t, ts)
	readUntil(t, b, connectionInfoWith(2))

	send(t, a, `{"type":"RequestStart"}`)
	readUntil(t, a, func(m protocol.ServerMessage) bool {
		gs, ok := m.(protocol.GameState)
		return ok && gs.LobbyState == protocol.Running
	})

	b.Close()

	finished := readUntil(t, a, func(m protocol.ServerMessage) bool {
		gs, ok := m.(protocol.GameState)
		return ok && gs.LobbyState == protocol.Finished
	}).(protocol.GameState)

	if len(finished.PlayerStates) != 1 {
		t.Fatalf("Expected only the survivor in the final snapshot, got %d players", len(finished.PlayerStates))
	}
	survivor := finished.PlayerStates[0]
	if survivor.ID != info.PlayerID || !survivor.IsAlive {
		t.Errorf("Expected %s alive, got %+v", info.PlayerID, survivor)
	}
}
