package protocol

import "fmt"

// Direction is a player's steering intent.
type Direction uint8

const (
	Left Direction = iota
	Right
	Straight
)

// String returns the wire name of the direction.
func (d Direction) String() string {
	switch d {
	case Left:
		return "Left"
	case Right:
		return "Right"
	case Straight:
		return "Straight"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Valid reports whether d is one of the three legal intents.
func (d Direction) Valid() bool {
	return d <= Straight
}

// MarshalText encodes the direction as "Left", "Right" or "Straight".
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: direction %d", ErrMalformed, uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText rejects anything outside the three legal names.
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Left":
		*d = Left
	case "Right":
		*d = Right
	case "Straight":
		*d = Straight
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrMalformed, text)
	}
	return nil
}
