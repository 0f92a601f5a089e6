package game

import (
	"math"

	"lighttrail/internal/protocol"
)

const twoPi = 2 * math.Pi

// Player is one light-cycle: a head moving at constant speed and the trail
// it has left behind during the current round.
type Player struct {
	ID       string
	X, Y     float64
	Heading  float64 // Radians, always in [0, 2π)
	Alive    bool
	Trail    []protocol.Point
	Steering protocol.Direction
}

// NewPlayer creates a player at the origin, alive, facing +x, with an empty trail.
func NewPlayer(id string) *Player {
	return &Player{
		ID:       id,
		Alive:    true,
		Trail:    make([]protocol.Point, 0, 256),
		Steering: protocol.Straight,
	}
}

// Head returns the current head position.
func (p *Player) Head() protocol.Point {
	return protocol.Point{X: p.X, Y: p.Y}
}

// Reset places the player for a new round.
func (p *Player) Reset(x, y, heading float64) {
	p.X, p.Y = x, y
	p.Heading = NormalizeAngle(heading)
	p.Alive = true
	p.Trail = p.Trail[:0]
	p.Steering = protocol.Straight
}

// Steer rotates the heading by turn radians in the current steering direction.
// Left is counter-clockwise.
func (p *Player) Steer(turn float64) {
	switch p.Steering {
	case protocol.Left:
		p.Heading = NormalizeAngle(p.Heading + turn)
	case protocol.Right:
		p.Heading = NormalizeAngle(p.Heading - turn)
	}
}

// Move advances the head by step along the heading and records the new
// position in the trail.
func (p *Player) Move(step float64) {
	p.X += math.Cos(p.Heading) * step
	p.Y += math.Sin(p.Heading) * step
	p.Trail = append(p.Trail, p.Head())
}

// Kill marks the player dead for the rest of the round.
func (p *Player) Kill() {
	p.Alive = false
}

// ToState returns a deep copy suitable for serialization.
func (p *Player) ToState() protocol.PlayerState {
	trail := make([]protocol.Point, len(p.Trail))
	copy(trail, p.Trail)
	return protocol.PlayerState{
		ID:               p.ID,
		PositionX:        p.X,
		PositionY:        p.Y,
		Direction:        p.Heading,
		IsAlive:          p.Alive,
		Trail:            trail,
		CurrentDirection: p.Steering,
	}
}

// NormalizeAngle maps any angle into [0, 2π).
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, twoPi)
	if a < 0 {
		a += twoPi
	}
	if a >= twoPi {
		// math.Mod of a tiny negative value can round up to exactly 2π.
		a = 0
	}
	return a
}
