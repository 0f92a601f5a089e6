package game

import (
	"errors"
	"fmt"

	"lighttrail/internal/protocol"
)

var (
	// ErrLobbyBusy is returned when a start request arrives while a round
	// is already counting down or running.
	ErrLobbyBusy = errors.New("round already in progress")
	// ErrIllegalTransition indicates a lobby step that the state machine
	// does not define.
	ErrIllegalTransition = errors.New("illegal lobby transition")
)

// Lobby is the round state machine:
//
//	Waiting -> Countdown(n) -> ... -> Countdown(0) -> Running -> Finished -> Waiting
//
// It is not safe for concurrent use; the Store guards it with its lock.
type Lobby struct {
	state         protocol.LobbyState
	countdownFrom int
}

// NewLobby creates a lobby in Waiting whose countdown starts at countdownFrom.
func NewLobby(countdownFrom int) *Lobby {
	return &Lobby{state: protocol.Waiting, countdownFrom: countdownFrom}
}

// State returns the current lobby state.
func (l *Lobby) State() protocol.LobbyState {
	return l.state
}

// BeginCountdown moves Waiting to Countdown(n). Any other phase yields ErrLobbyBusy.
func (l *Lobby) BeginCountdown() error {
	if l.state.Phase != protocol.PhaseWaiting {
		return fmt.Errorf("%w: lobby is %s", ErrLobbyBusy, l.state)
	}
	l.state = protocol.Countdown(l.countdownFrom)
	return nil
}

// Advance performs one countdown step: Countdown(k) -> Countdown(k-1) for
// k > 0, and Countdown(0) -> Running.
func (l *Lobby) Advance() error {
	if l.state.Phase != protocol.PhaseCountdown {
		return fmt.Errorf("%w: advance from %s", ErrIllegalTransition, l.state)
	}
	if l.state.Countdown > 0 {
		l.state = protocol.Countdown(l.state.Countdown - 1)
		return nil
	}
	l.state = protocol.Running
	return nil
}

// Finish moves Running to Finished.
func (l *Lobby) Finish() error {
	if l.state.Phase != protocol.PhaseRunning {
		return fmt.Errorf("%w: finish from %s", ErrIllegalTransition, l.state)
	}
	l.state = protocol.Finished
	return nil
}

// Reset returns a Finished lobby to Waiting.
func (l *Lobby) Reset() error {
	if l.state.Phase != protocol.PhaseFinished {
		return fmt.Errorf("%w: reset from %s", ErrIllegalTransition, l.state)
	}
	l.state = protocol.Waiting
	return nil
}

// Abort drops a pending countdown back to Waiting.
func (l *Lobby) Abort() error {
	if l.state.Phase != protocol.PhaseCountdown {
		return fmt.Errorf("%w: abort from %s", ErrIllegalTransition, l.state)
	}
	l.state = protocol.Waiting
	return nil
}
