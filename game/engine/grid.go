package engine

import "fmt"

// OccupantKind tags what sits in a grid cell.
type OccupantKind int

const (
	OccupantEmpty OccupantKind = iota
	OccupantStation
	OccupantTunnelPath
	OccupantLabel
	OccupantRiverPoint
	OccupantUnit
)

func (k OccupantKind) String() string {
	switch k {
	case OccupantEmpty:
		return "empty"
	case OccupantStation:
		return "station"
	case OccupantTunnelPath:
		return "tunnel_path"
	case OccupantLabel:
		return "label"
	case OccupantRiverPoint:
		return "river_point"
	case OccupantUnit:
		return "unit"
	}
	return fmt.Sprintf("OccupantKind(%d)", int(k))
}

// Occupant is the content of one grid cell. ID refers to the arena entity of
// the matching kind: a StationID for stations and labels, a TunnelID for path
// markers. River points and units are owned by collaborators and carry their
// own IDs.
type Occupant struct {
	Kind OccupantKind `json:"kind"`
	ID   int          `json:"id"`
}

// StationOccupant builds the occupant for a station cell
func StationOccupant(id StationID) Occupant {
	return Occupant{Kind: OccupantStation, ID: int(id)}
}

// TunnelOccupant builds the occupant for a tunnel path marker
func TunnelOccupant(id TunnelID) Occupant {
	return Occupant{Kind: OccupantTunnelPath, ID: int(id)}
}

// LabelOccupant builds the occupant for a station's label cell
func LabelOccupant(id StationID) Occupant {
	return Occupant{Kind: OccupantLabel, ID: int(id)}
}

// Grid addresses integer world coordinates to at most one occupant.
type Grid interface {
	OccupantAt(x, y int) (Occupant, bool)
	Place(o Occupant, x, y int) bool
	Clear(x, y int)
	Bounds() (width, height int)
}

// MapGrid is a sparse in-memory Grid
type MapGrid struct {
	width, height int
	cells         map[Position]Occupant
}

// NewMapGrid creates an empty grid of the given size
func NewMapGrid(width, height int) *MapGrid {
	return &MapGrid{
		width:  width,
		height: height,
		cells:  make(map[Position]Occupant),
	}
}

// InBounds reports whether (x, y) lies on the grid
func (g *MapGrid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.width && y < g.height
}

// OccupantAt returns the occupant of a cell; false for empty or out-of-bounds cells.
func (g *MapGrid) OccupantAt(x, y int) (Occupant, bool) {
	o, ok := g.cells[Position{X: x, Y: y}]
	if !ok || o.Kind == OccupantEmpty {
		return Occupant{}, false
	}
	return o, true
}

// Place puts o on a free in-bounds cell
func (g *MapGrid) Place(o Occupant, x, y int) bool {
	if !g.InBounds(x, y) {
		return false
	}
	if _, taken := g.OccupantAt(x, y); taken {
		return false
	}
	if o.Kind == OccupantEmpty {
		return true
	}
	g.cells[Position{X: x, Y: y}] = o
	return true
}

// Clear empties a cell
func (g *MapGrid) Clear(x, y int) {
	delete(g.cells, Position{X: x, Y: y})
}

// Bounds returns the grid dimensions
func (g *MapGrid) Bounds() (int, int) {
	return g.width, g.height
}

func inBounds(g Grid, x, y int) bool {
	w, h := g.Bounds()
	return x >= 0 && y >= 0 && x < w && y < h
}
