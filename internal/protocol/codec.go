package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type string `json:"type"`
}

// Encode serializes a server message with its "type" tag inlined.
func Encode(msg ServerMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.messageType(), err)
	}
	tag, err := json.Marshal(envelope{Type: msg.messageType()})
	if err != nil {
		return nil, err
	}

	// Splice {"type":"X"} and {...fields} into one object.
	out := make([]byte, 0, len(tag)+len(body))
	out = append(out, tag[:len(tag)-1]...)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		out = append(out, ',')
		out = append(out, inner...)
	}
	out = append(out, '}')
	return out, nil
}

// DecodeClient parses one inbound frame.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeRequestStart:
		return RequestStart{}, nil
	case TypePlayerUpdate:
		var raw struct {
			CurrentDirection *Direction `json:"current_direction"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if raw.CurrentDirection == nil {
			return nil, fmt.Errorf("%w: PlayerUpdate without current_direction", ErrMalformed)
		}
		return PlayerUpdate{CurrentDirection: *raw.CurrentDirection}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

// DecodeServer parses a server message. Clients and tests use it.
func DecodeServer(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeConnectionInfo:
		var m ConnectionInfo
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return m, nil
	case TypeGameState:
		var m GameState
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}
