package engine

// Terrain answers tile questions for the economy.
type Terrain interface {
	IsWater(x, y int) bool
	Perm(x, y int) float64
}

// TileMap is a Terrain read from a config layout.
type TileMap struct {
	width, height int
	water         [][]bool
	perm          [][]float64
}

// DefaultLegend maps the layout characters every config understands.
func DefaultLegend() map[string]TileSpec {
	return map[string]TileSpec{
		".": {Name: "ground", Perm: 1.0},
		"W": {Name: "water", Water: true, Perm: 0.6},
		"S": {Name: "sand", Perm: 1.4},
		"R": {Name: "rock", Perm: 0.5},
		"C": {Name: "clay", Perm: 0.8},
	}
}

// NewTileMap builds a width x height tile map. Missing rows, columns or legend
// entries fall back to plain ground with permeability 1.
func NewTileMap(width, height int, layout []string, legend map[string]TileSpec) *TileMap {
	if legend == nil {
		legend = DefaultLegend()
	}
	tm := &TileMap{
		width:  width,
		height: height,
		water:  make([][]bool, height),
		perm:   make([][]float64, height),
	}
	for y := 0; y < height; y++ {
		tm.water[y] = make([]bool, width)
		tm.perm[y] = make([]float64, width)
		for x := 0; x < width; x++ {
			tm.perm[y][x] = 1.0
			if y >= len(layout) || x >= len(layout[y]) {
				continue
			}
			spec, ok := legend[string(layout[y][x])]
			if !ok {
				continue
			}
			tm.water[y][x] = spec.Water
			if spec.Perm > 0 {
				tm.perm[y][x] = spec.Perm
			}
		}
	}
	return tm
}

// IsWater reports whether the tile is water; out-of-bounds tiles are dry
func (tm *TileMap) IsWater(x, y int) bool {
	if x < 0 || y < 0 || x >= tm.width || y >= tm.height {
		return false
	}
	return tm.water[y][x]
}

// Perm returns the permeability of a tile; out-of-bounds tiles report 1
func (tm *TileMap) Perm(x, y int) float64 {
	if x < 0 || y < 0 || x >= tm.width || y >= tm.height {
		return 1.0
	}
	return tm.perm[y][x]
}

// nearWater reports whether the tile or any of its 8 neighbours is water.
func nearWater(t Terrain, p Position) bool {
	if t.IsWater(p.X, p.Y) {
		return true
	}
	for _, d := range AllDirections {
		dx, dy := d.Delta()
		if t.IsWater(p.X+dx, p.Y+dy) {
			return true
		}
	}
	return false
}
