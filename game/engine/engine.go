package engine

import (
	"context"
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/wricardo/metro-sim/internal/logging"
)

// World is the arena holding every station, tunnel and train of one game.
// Cross references are IDs resolved through the arena.
//
// World is not safe for concurrent use; callers serialise commands and ticks.
type World struct {
	config  *WorldConfig
	grid    Grid
	terrain Terrain
	clock   Clock
	rng     *rand.Rand
	log     logging.Logger

	stations map[StationID]*Station
	tunnels  map[TunnelID]*Tunnel
	trains   map[TrainID]*Train
	labels   map[StationID]*Label

	nextStationID StationID
	nextTunnelID  TunnelID
	nextTrainID   TrainID

	balance      float64
	totalRevenue float64
	totalUpkeep  float64
	lastUpkeepAt int64

	skipTypeUpdate bool
}

// Option customises World construction.
type Option func(*World)

// WithClock sets the game clock
func WithClock(c Clock) Option {
	return func(w *World) { w.clock = c }
}

// WithGrid sets the grid collaborator
func WithGrid(g Grid) Option {
	return func(w *World) { w.grid = g }
}

// WithTerrain sets the tile collaborator
func WithTerrain(t Terrain) Option {
	return func(w *World) { w.terrain = t }
}

// WithRand sets the random source used for route choice
func WithRand(r *rand.Rand) Option {
	return func(w *World) { w.rng = r }
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(w *World) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWorld creates an empty world for the configuration.
func NewWorld(config *WorldConfig, opts ...Option) (*World, error) {
	if err := ValidateWorldConfig(config); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	w := &World{
		config:        config,
		log:           logging.Noop(),
		stations:      make(map[StationID]*Station),
		tunnels:       make(map[TunnelID]*Tunnel),
		trains:        make(map[TrainID]*Train),
		labels:        make(map[StationID]*Label),
		nextStationID: 1,
		nextTunnelID:  1,
		nextTrainID:   1,
		balance:       config.StartingBalance,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.grid == nil {
		w.grid = NewMapGrid(config.Width, config.Height)
	}
	if w.terrain == nil {
		w.terrain = NewTileMap(config.Width, config.Height, config.Layout, config.Legend)
	}
	if w.clock == nil {
		w.clock = NewGameClock(0)
	}
	if w.rng == nil {
		seed := uint64(config.Seed)
		w.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	w.lastUpkeepAt = w.clock.NowMillis()
	return w, nil
}

// Config returns the world configuration
func (w *World) Config() *WorldConfig { return w.config }

// Clock returns the game clock
func (w *World) Clock() Clock { return w.clock }

// Grid returns the grid collaborator
func (w *World) Grid() Grid { return w.grid }

// Terrain returns the tile collaborator
func (w *World) Terrain() Terrain { return w.terrain }

// Balance returns the world's money
func (w *World) Balance() float64 { return w.balance }

// Station returns a station by id, or nil
func (w *World) Station(id StationID) *Station { return w.stations[id] }

// Tunnel returns a tunnel by id, or nil
func (w *World) Tunnel(id TunnelID) *Tunnel { return w.tunnels[id] }

// Train returns a train by id, or nil
func (w *World) Train(id TrainID) *Train { return w.trains[id] }

// Label returns a station's label, or nil
func (w *World) Label(id StationID) *Label { return w.labels[id] }

// Stations returns all stations ordered by id
func (w *World) Stations() []*Station {
	out := make([]*Station, 0, len(w.stations))
	for _, id := range slices.Sorted(maps.Keys(w.stations)) {
		out = append(out, w.stations[id])
	}
	return out
}

// Tunnels returns all tunnels ordered by id
func (w *World) Tunnels() []*Tunnel {
	out := make([]*Tunnel, 0, len(w.tunnels))
	for _, id := range slices.Sorted(maps.Keys(w.tunnels)) {
		out = append(out, w.tunnels[id])
	}
	return out
}

// Trains returns all trains ordered by id
func (w *World) Trains() []*Train {
	out := make([]*Train, 0, len(w.trains))
	for _, id := range slices.Sorted(maps.Keys(w.trains)) {
		out = append(out, w.trains[id])
	}
	return out
}

// StationAt returns the station occupying a cell.
func (w *World) StationAt(x, y int) *Station {
	o, ok := w.grid.OccupantAt(x, y)
	if !ok || o.Kind != OccupantStation {
		return nil
	}
	return w.stations[StationID(o.ID)]
}

// PlaceStation creates a station on a free cell. New stations start planned
// in construction mode and regular in sandbox mode.
func (w *World) PlaceStation(x, y int, color LineColor, name string) (StationID, bool) {
	if !inBounds(w.grid, x, y) || !color.Valid() || !w.config.HasLine(color) {
		return 0, false
	}
	if o, taken := w.grid.OccupantAt(x, y); taken {
		// Label and path markers give way to stations.
		switch o.Kind {
		case OccupantLabel:
			w.unplaceLabel(StationID(o.ID))
		case OccupantTunnelPath:
			w.grid.Clear(x, y)
		default:
			return 0, false
		}
	}

	id := w.nextStationID
	if name == "" {
		name = fmt.Sprintf("Station %d", id)
	}
	st := &Station{
		ID:               id,
		Name:             name,
		Pos:              Position{X: x, Y: y},
		Color:            color,
		Type:             StationRegular,
		Connections:      make(map[Direction]StationID),
		ConstructionDate: w.clock.NowMillis(),
	}
	if w.config.Mode == ModeConstruction {
		st.Type = StationPlanned
	}
	if !w.grid.Place(StationOccupant(id), x, y) {
		return 0, false
	}
	w.nextStationID++
	w.stations[id] = st
	w.balance -= w.config.Rules.StationCost

	w.placeLabel(st)
	if st.Type.inferable() {
		w.UpdateType(id)
		w.refreshNeighbours(st.Pos)
	}
	w.log.Debug(context.Background(), "station placed",
		logging.Int("station_id", int(id)), logging.Int("x", x), logging.Int("y", y),
		logging.String("color", string(color)), logging.String("type", string(st.Type)))
	return id, true
}

// RemoveStation deletes a station, its tunnels and label. Trains on the
// removed tunnels or parked at the station are moved to the nearest valid
// station, or removed when none is left.
func (w *World) RemoveStation(id StationID) bool {
	st := w.stations[id]
	if st == nil {
		return false
	}

	for _, t := range w.Tunnels() {
		if t.Touches(id) {
			w.removeTunnel(t.ID, id)
		}
	}
	// Connections without a tunnel.
	for _, partner := range st.Connections {
		w.Disconnect(id, partner)
	}

	for _, tr := range w.Trains() {
		if tr.StationID == id {
			w.relocateTrain(tr, st.Pos, nil, id)
		}
	}

	w.unplaceLabel(id)
	delete(w.labels, id)
	if o, ok := w.grid.OccupantAt(st.Pos.X, st.Pos.Y); ok && o == StationOccupant(id) {
		w.grid.Clear(st.Pos.X, st.Pos.Y)
	}
	delete(w.stations, id)
	w.refreshNeighbours(st.Pos)

	w.log.Debug(context.Background(), "station removed", logging.Int("station_id", int(id)))
	return true
}

// MoveStation relocates a station to a free cell. Every connection must still
// lie on a compass ray afterwards; touching tunnel paths are recomputed.
func (w *World) MoveStation(id StationID, x, y int) bool {
	st := w.stations[id]
	if st == nil || !inBounds(w.grid, x, y) {
		return false
	}
	to := Position{X: x, Y: y}
	if to == st.Pos {
		return false
	}
	if o, taken := w.grid.OccupantAt(x, y); taken && o.Kind != OccupantTunnelPath {
		return false
	}

	// Re-key connections by their new direction before committing anything.
	rekeyed := make(map[Direction]StationID, len(st.Connections))
	for _, partnerID := range st.Connections {
		partner := w.stations[partnerID]
		if partner == nil {
			continue
		}
		dir, ok := DirectionBetween(to, partner.Pos)
		if !ok {
			return false
		}
		if _, clash := rekeyed[dir]; clash {
			return false
		}
		if other, used := partner.Connections[dir.Opposite()]; used && other != id {
			return false
		}
		rekeyed[dir] = partnerID
	}

	from := st.Pos
	w.grid.Clear(from.X, from.Y)
	w.grid.Clear(x, y)
	w.grid.Place(StationOccupant(id), x, y)
	st.Pos = to

	for _, partnerID := range st.Connections {
		if partner := w.stations[partnerID]; partner != nil {
			if dir, ok := partner.DirectionTo(id); ok {
				delete(partner.Connections, dir)
			}
		}
	}
	st.Connections = rekeyed
	for dir, partnerID := range rekeyed {
		w.stations[partnerID].Connections[dir.Opposite()] = id
	}

	w.unplaceLabel(id)
	w.placeLabel(st)

	for _, t := range w.Tunnels() {
		if t.Touches(id) {
			w.recomputePath(t)
		}
	}

	w.UpdateType(id)
	w.refreshNeighbours(from)
	w.refreshNeighbours(to)
	return true
}

// refreshNeighbours re-runs inference on stations around p, whose transfer
// status may depend on what sits at p.
func (w *World) refreshNeighbours(p Position) {
	for _, d := range AllDirections {
		dx, dy := d.Delta()
		if n := w.StationAt(p.X+dx, p.Y+dy); n != nil {
			w.UpdateType(n.ID)
		}
	}
}

// placeLabel puts the station's label in the cell above it when that cell is free.
func (w *World) placeLabel(st *Station) {
	lbl := w.labels[st.ID]
	if lbl == nil {
		lbl = &Label{StationID: st.ID}
		w.labels[st.ID] = lbl
	}
	lbl.Pos = st.Pos.Add(0, -1)
	lbl.Placed = w.grid.Place(LabelOccupant(st.ID), lbl.Pos.X, lbl.Pos.Y)
	w.syncLabel(st)
}

func (w *World) unplaceLabel(id StationID) {
	lbl := w.labels[id]
	if lbl == nil || !lbl.Placed {
		return
	}
	if o, ok := w.grid.OccupantAt(lbl.Pos.X, lbl.Pos.Y); ok && o == LabelOccupant(id) {
		w.grid.Clear(lbl.Pos.X, lbl.Pos.Y)
	}
	lbl.Placed = false
}

// syncLabel refreshes a label's text and style from its station
func (w *World) syncLabel(st *Station) {
	lbl := w.labels[st.ID]
	if lbl == nil {
		return
	}
	lbl.Text = fmt.Sprintf("%s (%s)", st.Name, st.Type)
	lbl.Style = st.Type
}

// RenameStation changes a station's display name.
func (w *World) RenameStation(id StationID, name string) bool {
	st := w.stations[id]
	if st == nil || name == "" {
		return false
	}
	st.Name = name
	w.syncLabel(st)
	return true
}

// nearestStation returns the closest station to p satisfying accept, ties
// broken by lowest id.
func (w *World) nearestStation(x, y float64, accept func(*Station) bool) *Station {
	var best *Station
	bestDist := math.Inf(1)
	for _, st := range w.Stations() {
		if !accept(st) {
			continue
		}
		d := math.Hypot(float64(st.Pos.X)-x, float64(st.Pos.Y)-y)
		if d < bestDist {
			best, bestDist = st, d
		}
	}
	return best
}

// Tick advances the world by one step of real time: lifecycle first, then
// trains. Nothing happens while the clock is paused.
func (w *World) Tick(real time.Duration) {
	if w.clock.IsPaused() {
		return
	}
	w.UpdateLifecycle()
	w.UpdateTrains(real)
}

// advancer is implemented by clocks the world may move itself.
type advancer interface {
	Advance(real time.Duration)
}

// Step advances the clock when it is advanceable, then ticks.
func (w *World) Step(real time.Duration) {
	if c, ok := w.clock.(advancer); ok {
		c.Advance(real)
	}
	w.Tick(real)
}

// Stats summarises the world
func (w *World) Stats() WorldStats {
	stats := WorldStats{
		Stations:     len(w.stations),
		Tunnels:      len(w.tunnels),
		Trains:       len(w.trains),
		ByType:       make(map[StationType]int),
		Balance:      w.balance,
		TotalRevenue: w.totalRevenue,
		TotalUpkeep:  w.totalUpkeep,
	}
	for _, st := range w.stations {
		stats.ByType[st.Type]++
	}
	return stats
}

// State builds a read-only view of the world. The view holds copies, so it
// stays valid after the world moves on.
func (w *World) State() *WorldState {
	state := &WorldState{
		ConfigName: w.config.Name,
		Width:      w.config.Width,
		Height:     w.config.Height,
		NowMillis:  w.clock.NowMillis(),
		TimeScale:  w.clock.TimeScale(),
		Paused:     w.clock.IsPaused(),
		Stations:   []StationView{},
		Tunnels:    []*Tunnel{},
		Trains:     []TrainView{},
		Stats:      w.Stats(),
	}
	for _, st := range w.Stations() {
		cp := *st
		cp.Connections = maps.Clone(st.Connections)
		view := StationView{
			Station:      &cp,
			Upkeep:       w.CalculateUpkeepCost(st.ID),
			CanRepair:    w.CanRepair(st.ID),
			Construction: w.ConstructionProgress(st.ID),
			Demolition:   w.DemolitionProgress(st.ID),
		}
		if lbl := w.labels[st.ID]; lbl != nil {
			view.Label = lbl.Text
		}
		state.Stations = append(state.Stations, view)
	}
	for _, tn := range w.Tunnels() {
		cp := *tn
		state.Tunnels = append(state.Tunnels, &cp)
	}
	for _, tr := range w.Trains() {
		cp := *tr
		view := TrainView{Train: &cp, State: tr.State()}
		if x, y, heading, ok := w.TrainPosition(tr.ID); ok {
			view.X, view.Y, view.Heading = x, y, heading.String()
		}
		state.Trains = append(state.Trains, view)
	}
	return state
}
