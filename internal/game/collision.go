package game

import "lighttrail/internal/protocol"

// Bounds is an axis-aligned rectangle. Points on the edge are inside.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Contains reports whether (x, y) lies within the rectangle.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// CollisionRules parameterize one collision sweep.
type CollisionRules struct {
	Arena    Bounds
	Radius   float64 // Head-to-point distance that kills, compared strictly
	SelfSkip int     // Most recent own trail points ignored by the self test
}

// DetectCollisions runs the per-tick sweep over players in their stable
// order and returns the indices of the players that die this tick, ascending.
//
// The sweep never mutates players: deaths are gathered in a side table and
// applied by the caller afterwards, so every test sees the positions of the
// completed movement step. Only players alive at the start of the sweep are
// tested; trails of dead players remain obstacles.
func DetectCollisions(players []*Player, rules CollisionRules) []int {
	dead := make([]bool, len(players))
	r2 := rules.Radius * rules.Radius

	for i, p := range players {
		if !p.Alive {
			continue
		}
		if !rules.Arena.Contains(p.X, p.Y) {
			dead[i] = true
			continue
		}
		own := p.Trail
		if cut := len(own) - rules.SelfSkip; cut > 0 {
			own = own[:cut]
		} else {
			own = nil
		}
		if hitsTrail(p.Head(), own, r2) {
			dead[i] = true
		}
	}

	// Each unordered pair once: the later player's head against the earlier
	// player's trail and vice versa.
	for i := 0; i < len(players); i++ {
		a := players[i]
		for j := i + 1; j < len(players); j++ {
			b := players[j]
			if b.Alive && !dead[j] && hitsTrail(b.Head(), a.Trail, r2) {
				dead[j] = true
			}
			if a.Alive && !dead[i] && hitsTrail(a.Head(), b.Trail, r2) {
				dead[i] = true
			}
		}
	}

	var killed []int
	for i, d := range dead {
		if d {
			killed = append(killed, i)
		}
	}
	return killed
}

func hitsTrail(head protocol.Point, trail []protocol.Point, r2 float64) bool {
	for _, pt := range trail {
		dx := pt.X - head.X
		dy := pt.Y - head.Y
		if dx*dx+dy*dy < r2 {
			return true
		}
	}
	return false
}
