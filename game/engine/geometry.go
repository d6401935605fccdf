package engine

import "math"

// diagonalFractions are tried in order; the first valid candidate is used.
var diagonalFractions = []float64{1.0 / 2.0, 1.0 / 3.0, 2.0 / 3.0}

const lengthEpsilon = 1e-9

// FindOptimalBendPoint chooses the bend of a tunnel between two stations.
//
// Candidates are the two orthogonal corners and the first diagonal point,
// interpolated along the straight displacement, whose angle start-bend-end is
// at least 90 degrees. The candidate with the shortest total Euclidean length
// wins; the diagonal wins ties, and the first corner beats the second.
func FindOptimalBendPoint(start, end Position) (Position, BendKind) {
	corner1 := Position{X: start.X, Y: end.Y}
	corner2 := Position{X: end.X, Y: start.Y}

	best, bestLen := corner1, distance(start, corner1)+distance(corner1, end)
	if l := distance(start, corner2) + distance(corner2, end); l < bestLen-lengthEpsilon {
		best, bestLen = corner2, l
	}

	if diag, ok := diagonalCandidate(start, end); ok {
		if l := distance(start, diag) + distance(diag, end); l <= bestLen+lengthEpsilon {
			return diag, BendDiagonal
		}
	}
	return best, BendCorner
}

func diagonalCandidate(start, end Position) (Position, bool) {
	dx := float64(end.X - start.X)
	dy := float64(end.Y - start.Y)
	for _, f := range diagonalFractions {
		c := Position{
			X: start.X + int(math.Round(dx*f)),
			Y: start.Y + int(math.Round(dy*f)),
		}
		if bendDot(start, c, end) <= 0 {
			return c, true
		}
	}
	return Position{}, false
}

// bendDot is the dot product of (start-bend) and (end-bend). A value <= 0
// means the angle at the bend is at least 90 degrees.
func bendDot(start, bend, end Position) int {
	ax, ay := start.X-bend.X, start.Y-bend.Y
	bx, by := end.X-bend.X, end.Y-bend.Y
	return ax*bx + ay*by
}

// CalculatePath rasterises the path from start to end through the bend. A
// nil control point means the bend is chosen by FindOptimalBendPoint.
// The result depends only on its inputs.
func CalculatePath(start, end Position, control *Position) ([]Position, Position, BendKind) {
	bend, kind := Position{}, BendManual
	if control != nil {
		bend = *control
	} else {
		bend, kind = FindOptimalBendPoint(start, end)
	}

	first := Bresenham(start, bend)
	second := Bresenham(bend, end)
	path := make([]Position, 0, len(first)+len(second)-1)
	path = append(path, first...)
	path = append(path, second[1:]...)
	return path, bend, kind
}

// Bresenham returns every grid cell on the line from a to b inclusive.
func Bresenham(a, b Position) []Position {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := sign(b.X-a.X), sign(b.Y-a.Y)
	err := dx + dy

	points := make([]Position, 0, max(dx, -dy)+1)
	x, y := a.X, a.Y
	for {
		points = append(points, Position{X: x, Y: y})
		if x == b.X && y == b.Y {
			return points
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// PathLength is the segment count of a path, used for cost purposes
func PathLength(path []Position) int {
	if len(path) == 0 {
		return 0
	}
	return len(path) - 1
}

// EuclideanLength sums the Euclidean segment lengths of a path
func EuclideanLength(path []Position) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += distance(path[i-1], path[i])
	}
	return total
}

// PositionAlong maps a progress fraction onto a path. It returns the
// interpolated point and the compass direction of the segment containing it.
// Paths with fewer than two points or zero length report false.
func PositionAlong(path []Position, progress float64) (float64, float64, Direction, bool) {
	if len(path) == 0 {
		return 0, 0, North, false
	}
	total := EuclideanLength(path)
	if len(path) < 2 || total <= 0 {
		return float64(path[0].X), float64(path[0].Y), North, false
	}

	target := clamp01(progress) * total
	walked := 0.0
	lastDir := North
	for i := 1; i < len(path); i++ {
		a, b := path[i-1], path[i]
		seg := distance(a, b)
		if seg == 0 {
			continue
		}
		dir, _ := DirectionBetween(a, b)
		lastDir = dir
		if walked+seg >= target {
			t := (target - walked) / seg
			x := float64(a.X) + t*float64(b.X-a.X)
			y := float64(a.Y) + t*float64(b.Y-a.Y)
			return x, y, dir, true
		}
		walked += seg
	}
	last := path[len(path)-1]
	return float64(last.X), float64(last.Y), lastDir, true
}
