package protocol

import (
	"encoding/json"
	"fmt"
)

// Phase identifies where the round is in its lifecycle.
type Phase uint8

const (
	PhaseWaiting Phase = iota
	PhaseCountdown
	PhaseRunning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "Waiting"
	case PhaseCountdown:
		return "Countdown"
	case PhaseRunning:
		return "Running"
	case PhaseFinished:
		return "Finished"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// LobbyState is the phase plus, while counting down, the seconds remaining.
//
// On the wire it is "Waiting", {"Countdown":n}, "Running" or "Finished".
type LobbyState struct {
	Phase     Phase
	Countdown int
}

// Convenience constructors.
var (
	Waiting  = LobbyState{Phase: PhaseWaiting}
	Running  = LobbyState{Phase: PhaseRunning}
	Finished = LobbyState{Phase: PhaseFinished}
)

// Countdown returns the countdown state with n seconds remaining.
func Countdown(n int) LobbyState {
	return LobbyState{Phase: PhaseCountdown, Countdown: n}
}

func (s LobbyState) String() string {
	if s.Phase == PhaseCountdown {
		return fmt.Sprintf("Countdown(%d)", s.Countdown)
	}
	return s.Phase.String()
}

// Active reports whether a round is pending or in progress.
func (s LobbyState) Active() bool {
	return s.Phase == PhaseCountdown || s.Phase == PhaseRunning
}

func (s LobbyState) MarshalJSON() ([]byte, error) {
	switch s.Phase {
	case PhaseCountdown:
		return json.Marshal(map[string]int{"Countdown": s.Countdown})
	case PhaseWaiting, PhaseRunning, PhaseFinished:
		return json.Marshal(s.Phase.String())
	default:
		return nil, fmt.Errorf("%w: lobby phase %d", ErrMalformed, uint8(s.Phase))
	}
}

func (s *LobbyState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch name {
		case "Waiting":
			*s = Waiting
		case "Running":
			*s = Running
		case "Finished":
			*s = Finished
		default:
			return fmt.Errorf("%w: lobby state %q", ErrMalformed, name)
		}
		return nil
	}

	var tagged struct {
		Countdown *int `json:"Countdown"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil || tagged.Countdown == nil {
		return fmt.Errorf("%w: lobby state %s", ErrMalformed, data)
	}
	*s = Countdown(*tagged.Countdown)
	return nil
}
