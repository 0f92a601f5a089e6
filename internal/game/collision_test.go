package game

import (
	"reflect"
	"testing"

	"lighttrail/internal/protocol"
)

func rulesForTest() CollisionRules {
	return CollisionRules{
		Arena:    Bounds{MinX: -500, MinY: -500, MaxX: 500, MaxY: 500},
		Radius:   20,
		SelfSkip: 5,
	}
}

func playerAt(id string, x, y float64, trail ...protocol.Point) *Player {
	p := NewPlayer(id)
	p.X, p.Y = x, y
	p.Trail = append(p.Trail, trail...)
	return p
}

// line returns n points from (x0,y0) stepping by (dx,dy).
func line(x0, y0, dx, dy float64, n int) []protocol.Point {
	pts := make([]protocol.Point, n)
	for i := range pts {
		pts[i] = protocol.Point{X: x0 + float64(i)*dx, Y: y0 + float64(i)*dy}
	}
	return pts
}

func TestDetectCollisions(t *testing.T) {
	tests := []struct {
		name    string
		players func() []*Player
		want    []int
	}{
		{
			name: "open field",
			players: func() []*Player {
				return []*Player{
					playerAt("a", -100, 0, line(-200, 0, 10, 0, 10)...),
					playerAt("b", 100, 200, line(100, 100, 0, 10, 10)...),
				}
			},
			want: nil,
		},
		{
			name: "out of bounds",
			players: func() []*Player {
				return []*Player{playerAt("a", 500.1, 0), playerAt("b", 0, -499)}
			},
			want: []int{0},
		},
		{
			name: "edge counts as inside",
			players: func() []*Player {
				return []*Player{playerAt("a", 500, -500)}
			},
			want: nil,
		},
		{
			name: "recent own points ignored",
			players: func() []*Player {
				// Straight run ending at the head: the last 5 points are within 20.
				trail := line(-40, 0, 5, 0, 9) // ... (0,0)
				return []*Player{playerAt("a", 0, 0, trail...)}
			},
			want: nil,
		},
		{
			name: "old own point kills",
			players: func() []*Player {
				trail := append([]protocol.Point{{X: 5, Y: 5}}, line(-300, 300, 10, 0, 6)...)
				return []*Player{playerAt("a", 0, 0, trail...)}
			},
			want: []int{0},
		},
		{
			name: "later head into earlier trail",
			players: func() []*Player {
				return []*Player{
					playerAt("a", -200, -200, line(0, -100, 0, 10, 20)...),
					playerAt("b", 10, 0),
				}
			},
			want: []int{1},
		},
		{
			name: "earlier head into later trail",
			players: func() []*Player {
				return []*Player{
					playerAt("a", 10, 0),
					playerAt("b", -200, -200, line(0, -100, 0, 10, 20)...),
				}
			},
			want: []int{0},
		},
		{
			name: "head on both die",
			players: func() []*Player {
				return []*Player{
					playerAt("a", 0, 0, protocol.Point{X: 0, Y: 0}),
					playerAt("b", 10, 0, protocol.Point{X: 10, Y: 0}),
				}
			},
			want: []int{0, 1},
		},
		{
			name: "distance equal to radius is safe",
			players: func() []*Player {
				return []*Player{
					playerAt("a", 0, 0),
					playerAt("b", 300, 300, protocol.Point{X: 20, Y: 0}),
				}
			},
			want: nil,
		},
		{
			name: "dead trail is still an obstacle",
			players: func() []*Player {
				dead := playerAt("a", -300, -300, line(0, -50, 0, 10, 10)...)
				dead.Kill()
				return []*Player{dead, playerAt("b", 5, 0)}
			},
			want: []int{1},
		},
		{
			name: "dead head is never tested",
			players: func() []*Player {
				dead := playerAt("a", 1000, 1000)
				dead.Kill()
				return []*Player{dead, playerAt("b", 0, 0)}
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectCollisions(tt.players(), rulesForTest())
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected deaths %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDetectCollisionsDoesNotMutate(t *testing.T) {
	players := []*Player{playerAt("a", 999, 0), playerAt("b", 0, 0, protocol.Point{X: 1000, Y: 1000})}

	DetectCollisions(players, rulesForTest())

	for _, p := range players {
		if !p.Alive {
			t.Errorf("sweep must only report deaths, %s was mutated", p.ID)
		}
	}
}
