package engine

import (
	"fmt"
	"math"
	"strings"
)

// Direction is one of the eight compass rays a connection can follow.
type Direction int

const (
	North Direction = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

// AllDirections lists the compass directions clockwise from north
var AllDirections = []Direction{North, NorthEast, East, SouthEast, South, SouthWest, West, NorthWest}

var directionNames = [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// Grid y grows southwards.
var directionDeltas = [...]struct{ dx, dy int }{
	{0, -1},  // North
	{1, -1},  // North-East
	{1, 0},   // East
	{1, 1},   // South-East
	{0, 1},   // South
	{-1, 1},  // South-West
	{-1, 0},  // West
	{-1, -1}, // North-West
}

// String returns the short compass name
func (d Direction) String() string {
	if d < North || d > NorthWest {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// Opposite returns the direction pointing the other way
func (d Direction) Opposite() Direction {
	return (d + 4) % 8
}

// Delta returns the unit step for the direction
func (d Direction) Delta() (dx, dy int) {
	v := directionDeltas[d]
	return v.dx, v.dy
}

// MarshalText encodes the direction by compass name, so connection maps
// serialise as {"E": 4}.
func (d Direction) MarshalText() ([]byte, error) {
	if d < North || d > NorthWest {
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
	return []byte(directionNames[d]), nil
}

// UnmarshalText parses a compass name
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection parses a compass name such as "NE" (case-insensitive)
func ParseDirection(s string) (Direction, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range directionNames {
		if name == s {
			return Direction(i), nil
		}
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// DirectionOfDelta maps a step delta to a compass direction. Only deltas that
// lie exactly on one of the eight rays map; anything else returns false.
func DirectionOfDelta(dx, dy int) (Direction, bool) {
	if dx == 0 && dy == 0 {
		return 0, false
	}
	if dx != 0 && dy != 0 && abs(dx) != abs(dy) {
		return 0, false
	}
	sx, sy := sign(dx), sign(dy)
	for i, v := range directionDeltas {
		if v.dx == sx && v.dy == sy {
			return Direction(i), true
		}
	}
	return 0, false
}

// DirectionBetween returns the compass ray from one position to another.
func DirectionBetween(from, to Position) (Direction, bool) {
	return DirectionOfDelta(to.X-from.X, to.Y-from.Y)
}

// distance is the Euclidean distance between two grid points
func distance(a, b Position) float64 {
	return math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
}

// abs returns the absolute value of x
func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
