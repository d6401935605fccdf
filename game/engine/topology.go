package engine

import (
	"context"

	"github.com/wricardo/metro-sim/internal/logging"
)

// Connect links two stations with reciprocal directional entries.
//
// It fails without side effects when the stations are missing or equal, either
// already has two connections, they are already connected, their colours
// differ, they do not lie on one of the eight compass rays, or the matching
// direction slot is taken.
func (w *World) Connect(a, b StationID) bool {
	sa, sb := w.stations[a], w.stations[b]
	if sa == nil || sb == nil || a == b {
		return false
	}
	if sa.ConnectionCount() >= 2 || sb.ConnectionCount() >= 2 {
		return false
	}
	if _, linked := sa.DirectionTo(b); linked {
		return false
	}
	if _, linked := sb.DirectionTo(a); linked {
		return false
	}
	if sa.Color != sb.Color {
		return false
	}
	dir, ok := DirectionBetween(sa.Pos, sb.Pos)
	if !ok {
		return false
	}
	if _, taken := sa.Connections[dir]; taken {
		return false
	}
	if _, taken := sb.Connections[dir.Opposite()]; taken {
		return false
	}

	sa.Connections[dir] = b
	sb.Connections[dir.Opposite()] = a

	// Inference is deferred for stations under construction.
	w.UpdateType(a)
	w.UpdateType(b)
	return true
}

// Disconnect removes the link between two stations if present, then re-runs
// type inference on both.
func (w *World) Disconnect(a, b StationID) bool {
	sa, sb := w.stations[a], w.stations[b]
	removed := false
	if sa != nil {
		if dir, ok := sa.DirectionTo(b); ok {
			delete(sa.Connections, dir)
			removed = true
		}
	}
	if sb != nil {
		if dir, ok := sb.DirectionTo(a); ok {
			delete(sb.Connections, dir)
			removed = true
		}
	}
	w.UpdateType(a)
	w.UpdateType(b)
	return removed
}

// hasForeignNeighbour reports whether any of the eight surrounding cells holds
// an open station of another colour. Planned and building stations count once
// construction completes, which refreshes their neighbours.
func (w *World) hasForeignNeighbour(st *Station) bool {
	for _, d := range AllDirections {
		dx, dy := d.Delta()
		n := w.StationAt(st.Pos.X+dx, st.Pos.Y+dy)
		if n != nil && n.Color != st.Color && !n.Type.underConstruction() {
			return true
		}
	}
	return false
}

// inferType derives the operational type from the neighbourhood: adjacency to
// another line wins, then the connection count decides.
func (w *World) inferType(st *Station) StationType {
	if w.hasForeignNeighbour(st) {
		return StationTransfer
	}
	live := 0
	for _, partner := range st.Connections {
		if w.stations[partner] != nil {
			live++
		}
	}
	switch live {
	case 0:
		return StationRegular
	case 1:
		return StationTerminal
	default:
		return StationTransit
	}
}

// UpdateType re-runs type inference on a station. Stations that are planned,
// under construction, closed, end-of-life or depots keep their type.
func (w *World) UpdateType(id StationID) {
	st := w.stations[id]
	if st == nil || w.skipTypeUpdate || !st.Type.inferable() {
		return
	}
	next := w.inferType(st)
	if next == st.Type {
		return
	}
	st.Type = next
	w.syncLabel(st)
	w.recheckTunnels(id)
}

// SuspendTypeInference runs fn with automatic inference switched off, for
// bulk edits whose types are set explicitly.
func (w *World) SuspendTypeInference(fn func()) {
	prev := w.skipTypeUpdate
	w.skipTypeUpdate = true
	defer func() { w.skipTypeUpdate = prev }()
	fn()
}

// SetStationType performs a guarded explicit type change. Planned stations
// may only move to building, nothing returns to planned, stations under
// construction cannot be closed, and transfer requires a neighbour of another
// colour.
func (w *World) SetStationType(id StationID, next StationType) bool {
	st := w.stations[id]
	if st == nil || !next.Valid() || next == st.Type {
		return false
	}
	switch {
	case st.Type == StationPlanned && next != StationBuilding:
		return false
	case next == StationPlanned:
		return false
	case next == StationClosed && st.Type.underConstruction():
		return false
	case next == StationTransfer && !w.hasForeignNeighbour(st):
		return false
	}

	prev := st.Type
	st.Type = next
	if next == StationBuilding && st.BuildStartedAt == 0 {
		st.BuildStartedAt = w.clock.NowMillis()
	}
	w.syncLabel(st)
	w.recheckTunnels(id)

	w.log.Debug(context.Background(), "station type changed",
		logging.Int("station_id", int(id)),
		logging.String("from", string(prev)), logging.String("to", string(next)))
	return true
}

// forceType applies a lifecycle-driven transition that bypasses the guards.
func (w *World) forceType(st *Station, next StationType) {
	if st.Type == next {
		return
	}
	st.Type = next
	w.syncLabel(st)
	w.recheckTunnels(st.ID)
}

// recheckTunnels promotes tunnels touching a station once their endpoints
// have progressed: active when neither end is planned or building, building
// when neither end is planned.
func (w *World) recheckTunnels(id StationID) {
	for _, t := range w.tunnels {
		if !t.Touches(id) || t.Type == TunnelActive || t.Type == TunnelDestroyed {
			continue
		}
		a, b := w.stations[t.Start], w.stations[t.End]
		if a == nil || b == nil {
			continue
		}
		switch {
		case !a.Type.underConstruction() && !b.Type.underConstruction():
			t.Type = TunnelActive
		case a.Type != StationPlanned && b.Type != StationPlanned && t.Type == TunnelPlanned:
			t.Type = TunnelBuilding
		}
	}
}
