package engine

import (
	"context"

	"github.com/wricardo/metro-sim/internal/logging"
)

// CreateTunnel connects two stations and lays a tunnel between them. An empty
// type is derived from the endpoints: active when both are open, planned when
// either is planned and building otherwise.
func (w *World) CreateTunnel(start, end StationID, tunnelType TunnelType) (TunnelID, bool) {
	if tunnelType != "" && !tunnelType.Valid() {
		return 0, false
	}
	if !w.Connect(start, end) {
		return 0, false
	}
	a, b := w.stations[start], w.stations[end]
	if tunnelType == "" {
		tunnelType = derivedTunnelType(a.Type, b.Type)
	}

	t := &Tunnel{
		ID:    w.nextTunnelID,
		Start: start,
		End:   end,
		Type:  tunnelType,
	}
	w.nextTunnelID++
	w.tunnels[t.ID] = t
	w.recomputePath(t)
	w.balance -= w.tunnelCost(t)

	w.log.Debug(context.Background(), "tunnel created",
		logging.Int("tunnel_id", int(t.ID)),
		logging.Int("start", int(start)), logging.Int("end", int(end)),
		logging.String("type", string(t.Type)), logging.Int("length", t.Length()))
	return t.ID, true
}

func derivedTunnelType(a, b StationType) TunnelType {
	switch {
	case a == StationPlanned || b == StationPlanned:
		return TunnelPlanned
	case a == StationBuilding || b == StationBuilding:
		return TunnelBuilding
	default:
		return TunnelActive
	}
}

// tunnelCost prices every path cell by the permeability of its tile.
func (w *World) tunnelCost(t *Tunnel) float64 {
	cost := 0.0
	for _, p := range t.Path[1:] {
		perm := w.terrain.Perm(p.X, p.Y)
		if perm <= 0 {
			perm = 1
		}
		cost += w.config.Rules.TunnelCellCost / perm
	}
	return cost
}

// TunnelCost quotes what a tunnel between two stations would cost, without
// building it.
func (w *World) TunnelCost(start, end StationID) (float64, bool) {
	a, b := w.stations[start], w.stations[end]
	if a == nil || b == nil {
		return 0, false
	}
	path, _, _ := CalculatePath(a.Pos, b.Pos, nil)
	return w.tunnelCost(&Tunnel{Path: path}), true
}

// recomputePath re-derives the tunnel's path from its endpoints and control
// point and refreshes the path markers on the grid.
func (w *World) recomputePath(t *Tunnel) {
	a, b := w.stations[t.Start], w.stations[t.End]
	if a == nil || b == nil {
		return
	}
	w.clearPathMarkers(t)
	t.Path, t.Bend, t.BendKind = CalculatePath(a.Pos, b.Pos, t.Control)
	w.placePathMarkers(t)
}

func (w *World) placePathMarkers(t *Tunnel) {
	if len(t.Path) < 3 {
		return
	}
	for _, p := range t.Path[1 : len(t.Path)-1] {
		w.grid.Place(TunnelOccupant(t.ID), p.X, p.Y)
	}
}

func (w *World) clearPathMarkers(t *Tunnel) {
	for _, p := range t.Path {
		if o, ok := w.grid.OccupantAt(p.X, p.Y); ok && o == TunnelOccupant(t.ID) {
			w.grid.Clear(p.X, p.Y)
		}
	}
}

// MoveTunnelControlPoint sets a manual bend point. The path is only
// recomputed when the bend actually changes.
func (w *World) MoveTunnelControlPoint(id TunnelID, x, y int) bool {
	t := w.tunnels[id]
	if t == nil || !inBounds(w.grid, x, y) {
		return false
	}
	p := Position{X: x, Y: y}
	current := t.Bend
	if t.Control != nil {
		current = *t.Control
	}
	// Dropping the point where the bend already is changes nothing, and an
	// automatic bend stays automatic.
	if current == p {
		return true
	}
	t.Control = &p
	w.recomputePath(t)
	return true
}

// ClearTunnelControlPoint returns the tunnel to automatic bend placement
func (w *World) ClearTunnelControlPoint(id TunnelID) bool {
	t := w.tunnels[id]
	if t == nil {
		return false
	}
	if t.Control == nil {
		return true
	}
	t.Control = nil
	w.recomputePath(t)
	return true
}

// RemoveTunnel deletes a tunnel and disconnects its stations. Trains on the
// tunnel are parked at the endpoint they are closest to.
func (w *World) RemoveTunnel(id TunnelID) bool {
	return w.removeTunnel(id, 0)
}

// removeTunnel deletes a tunnel; exclude names a station that must not
// receive relocated trains because it is being removed too.
func (w *World) removeTunnel(id TunnelID, exclude StationID) bool {
	t := w.tunnels[id]
	if t == nil {
		return false
	}

	for _, tr := range w.Trains() {
		if tr.PrevTunnel == id {
			tr.PrevTunnel = 0
		}
		if tr.TunnelID != id {
			continue
		}
		near, far := t.Start, t.End
		if tr.Progress >= 0.5 {
			near, far = far, near
		}
		at := Position{}
		if x, y, _, ok := PositionAlong(t.Path, tr.Progress); ok {
			at = Position{X: int(x + 0.5), Y: int(y + 0.5)}
		} else if st := w.stations[near]; st != nil {
			at = st.Pos
		}
		w.relocateTrain(tr, at, []StationID{near, far}, exclude)
	}

	w.clearPathMarkers(t)
	delete(w.tunnels, id)
	w.Disconnect(t.Start, t.End)

	w.log.Debug(context.Background(), "tunnel removed", logging.Int("tunnel_id", int(id)))
	return true
}

// relocateTrain parks a train whose location is going away. The preferred
// stations are tried in order, then the nearest operational station. A train
// with nowhere to go is removed.
func (w *World) relocateTrain(tr *Train, near Position, preferred []StationID, exclude StationID) {
	usable := func(st *Station) bool {
		return st != nil && st.ID != exclude && st.Type.IsOperational()
	}

	var target *Station
	for _, id := range preferred {
		if st := w.stations[id]; usable(st) {
			target = st
			break
		}
	}
	if target == nil {
		target = w.nearestStation(float64(near.X), float64(near.Y), usable)
	}
	if target == nil {
		delete(w.trains, tr.ID)
		w.log.Info(context.Background(), "train removed with nowhere to park", logging.Int("train_id", int(tr.ID)))
		return
	}

	tr.parkAt(target.ID, w.config.Rules.DwellMillis)
	// A relocated train does not earn at its emergency stop.
	tr.HasPaid = true
}
