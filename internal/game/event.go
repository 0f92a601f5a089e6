package game

import (
	"encoding/json"
	"time"
)

// EventType classifies entries in the event log.
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypePlayerJoin
	EventTypePlayerLeave
	EventTypeRoundInit
	EventTypeCountdown
	EventTypeRoundStart
	EventTypeDeath
	EventTypeRoundEnd
	EventTypeLobbyReset
)

// EventVersion for backwards compatibility of the log format
const EventVersion uint8 = 1

// Event is one line of the event log.
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`
	Tick      uint64          `json:"tick"`
	PlayerID  string          `json:"playerId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (t EventType) String() string {
	switch t {
	case EventTypePlayerJoin:
		return "player_join"
	case EventTypePlayerLeave:
		return "player_leave"
	case EventTypeRoundInit:
		return "round_init"
	case EventTypeCountdown:
		return "countdown"
	case EventTypeRoundStart:
		return "round_start"
	case EventTypeDeath:
		return "player_death"
	case EventTypeRoundEnd:
		return "round_end"
	case EventTypeLobbyReset:
		return "lobby_reset"
	default:
		return "unknown"
	}
}

// MarshalText writes the event type by name so the log stays readable.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// PlayerPayload accompanies join and leave events.
type PlayerPayload struct {
	PlayerID string `json:"playerId"`
	Players  int    `json:"players"`
}

// RoundPayload accompanies round lifecycle events.
type RoundPayload struct {
	Players int    `json:"players"`
	Winner  string `json:"winner,omitempty"`
}

// CountdownPayload carries the seconds left before the round starts.
type CountdownPayload struct {
	Remaining int `json:"remaining"`
}

// DeathPayload records where and how long a player had been riding.
type DeathPayload struct {
	PlayerID    string  `json:"playerId"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	TrailLength int     `json:"trailLength"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType, tick uint64, playerID string, payload any) Event {
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		Tick:      tick,
		PlayerID:  playerID,
		Payload:   raw,
	}
}
