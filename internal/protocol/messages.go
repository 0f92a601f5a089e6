// Package protocol defines the JSON messages exchanged between the arena
// server and its clients.
//
// Every frame is an object whose "type" field names the message kind; the
// remaining fields of the message sit next to it in the same object.
package protocol

import (
	"encoding/json"
	"errors"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownMessage = errors.New("unknown message type")
)

// Message type tags.
const (
	TypeConnectionInfo = "ConnectionInfo"
	TypeGameState      = "GameState"
	TypeRequestStart   = "RequestStart"
	TypePlayerUpdate   = "PlayerUpdate"
)

// Point is a position in arena coordinates, encoded as [x, y].
type Point struct {
	X, Y float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var xy [2]float64
	if err := json.Unmarshal(data, &xy); err != nil {
		return err
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// PlayerState is the per-player part of a GameState broadcast.
type PlayerState struct {
	ID               string    `json:"id"`
	PositionX        float64   `json:"position_x"`
	PositionY        float64   `json:"position_y"`
	Direction        float64   `json:"direction"`
	IsAlive          bool      `json:"is_alive"`
	Trail            []Point   `json:"trail"`
	CurrentDirection Direction `json:"current_direction"`
}

// ServerMessage is implemented by every server-to-client message.
type ServerMessage interface {
	messageType() string
}

// ClientMessage is implemented by every client-to-server message.
type ClientMessage interface {
	clientMessage()
}

// ConnectionInfo tells a client its own id and the current roster size.
type ConnectionInfo struct {
	PlayerID         string `json:"player_id"`
	PlayersConnected int    `json:"players_connected"`
}

// GameState is the per-tick snapshot of the lobby.
type GameState struct {
	LobbyState   LobbyState    `json:"lobby_state"`
	PlayerStates []PlayerState `json:"player_states"`
	Tick         uint64        `json:"tick"`
}

// RequestStart asks the server to begin the countdown.
type RequestStart struct{}

// PlayerUpdate carries the sender's new steering intent.
type PlayerUpdate struct {
	CurrentDirection Direction `json:"current_direction"`
}

func (ConnectionInfo) messageType() string { return TypeConnectionInfo }
func (GameState) messageType() string      { return TypeGameState }

func (RequestStart) clientMessage() {}
func (PlayerUpdate) clientMessage() {}
