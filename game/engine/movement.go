package engine

import (
	"context"
	"time"

	"github.com/wricardo/metro-sim/internal/logging"
)

// AddTrain puts a new train of the named rolling stock at an operational
// station. An empty stock name selects the first configured class.
func (w *World) AddTrain(station StationID, stock string) (TrainID, bool) {
	st := w.stations[station]
	if st == nil || !st.Type.IsOperational() {
		return 0, false
	}
	var rs RollingStock
	if stock == "" && len(w.config.RollingStock) > 0 {
		rs = w.config.RollingStock[0]
	} else {
		found, ok := w.config.Stock(stock)
		if !ok {
			return 0, false
		}
		rs = found
	}

	tr := &Train{
		ID:    w.nextTrainID,
		Stock: rs.Name,
		Speed: rs.Speed,
	}
	tr.parkAt(station, w.config.Rules.DwellMillis)
	// Trains do not earn at the station they are delivered to.
	tr.HasPaid = true

	w.nextTrainID++
	w.trains[tr.ID] = tr
	return tr.ID, true
}

// RemoveTrain takes a train out of service
func (w *World) RemoveTrain(id TrainID) bool {
	if w.trains[id] == nil {
		return false
	}
	delete(w.trains, id)
	return true
}

// parkedTrain is one entry of the per-tick occupancy snapshot.
type parkedTrain struct {
	train   TrainID
	station StationID
}

// occupied scans the snapshot for another train parked at station.
func occupied(parked []parkedTrain, station StationID, self TrainID) bool {
	for _, p := range parked {
		if p.station == station && p.train != self {
			return true
		}
	}
	return false
}

// UpdateTrains advances every train by real elapsed time scaled by the clock.
// Occupancy is read from a snapshot taken before any train moves, so every
// departure decision in a tick sees the same state.
func (w *World) UpdateTrains(real time.Duration) {
	if w.clock.IsPaused() {
		return
	}
	dt := real.Seconds() * 1000 * w.clock.TimeScale()
	if dt <= 0 {
		return
	}

	trains := w.Trains()
	parked := make([]parkedTrain, 0, len(trains))
	for _, tr := range trains {
		if tr.State() == TrainAtStation {
			parked = append(parked, parkedTrain{train: tr.ID, station: tr.StationID})
		}
	}

	for _, tr := range trains {
		if w.trains[tr.ID] == nil {
			continue
		}
		switch tr.State() {
		case TrainOnTunnel:
			w.advanceOnTunnel(tr, dt)
		case TrainAtStation:
			w.dwell(tr, dt, parked)
		}
	}
}

// advanceOnTunnel moves a train along its tunnel and parks it on arrival.
// Progress is measured along the drawn path, so a diagonal segment takes
// longer than an orthogonal one. Degenerate tunnels cannot be traversed and
// leave the train where it is.
func (w *World) advanceOnTunnel(tr *Train, dt float64) {
	t := w.tunnels[tr.TunnelID]
	if t == nil {
		w.relocateTrain(tr, Position{}, nil, 0)
		return
	}
	total := EuclideanLength(t.Path)
	if len(t.Path) < 2 || total <= 0 {
		return
	}

	step := tr.Speed * dt / 1000 / total
	if tr.Forward {
		tr.Progress += step
		if tr.Progress >= 1 {
			w.arrive(tr, t, t.End)
		}
		return
	}
	tr.Progress -= step
	if tr.Progress <= 0 {
		w.arrive(tr, t, t.Start)
	}
}

func (w *World) arrive(tr *Train, t *Tunnel, station StationID) {
	tr.PrevTunnel = t.ID
	tr.parkAt(station, w.config.Rules.DwellMillis)
}

// dwell runs a parked train: pay once per stop, count the dwell down, and
// depart when it expires and the next station is free. A blocked or
// stranded train retries after a short interval.
func (w *World) dwell(tr *Train, dt float64, parked []parkedTrain) {
	st := w.stations[tr.StationID]
	if st == nil {
		w.relocateTrain(tr, Position{}, nil, 0)
		return
	}

	if !tr.HasPaid {
		w.creditRevenue(tr, st)
		tr.HasPaid = true
	}

	tr.DwellRemaining -= dt
	if tr.DwellRemaining > 0 {
		return
	}

	next := w.FindNextTunnel(tr.ID)
	if next == 0 {
		tr.DwellRemaining = w.config.Rules.DwellRetryMillis
		return
	}
	t := w.tunnels[next]
	if occupied(parked, t.Other(st.ID), tr.ID) {
		tr.DwellRemaining = w.config.Rules.DwellRetryMillis
		return
	}

	tr.StationID = 0
	tr.TunnelID = t.ID
	tr.DwellRemaining = 0
	tr.Forward = t.Start == st.ID
	if tr.Forward {
		tr.Progress = 0
	} else {
		tr.Progress = 1
	}
}

// Revenue returns what a train earns on arrival at a station of type t.
func (w *World) Revenue(t StationType) float64 {
	rules := w.config.Rules
	revenue := rules.RevenueBase
	switch t {
	case StationTransfer:
		revenue += rules.TransferBonus
	case StationTerminal:
		revenue += rules.TerminalBonus
	}
	return revenue
}

func (w *World) creditRevenue(tr *Train, st *Station) {
	if !st.Type.IsOperational() {
		return
	}
	revenue := w.Revenue(st.Type)
	tr.Earned += revenue
	w.balance += revenue
	w.totalRevenue += revenue
	w.log.Debug(context.Background(), "fare collected",
		logging.Int("train_id", int(tr.ID)), logging.Int("station_id", int(st.ID)),
		logging.Float("revenue", revenue))
}

// FindNextTunnel picks the tunnel a parked train leaves on, or 0 when there
// is none. Terminals send trains back the way they came; transfer and transit
// stations avoid the tunnel just used. Either filter falls back to every
// candidate when it would leave none.
func (w *World) FindNextTunnel(id TrainID) TunnelID {
	tr := w.trains[id]
	if tr == nil || tr.State() != TrainAtStation {
		return 0
	}
	st := w.stations[tr.StationID]
	if st == nil {
		return 0
	}

	var all []*Tunnel
	for _, t := range w.Tunnels() {
		if t.Type == TunnelActive && t.Touches(st.ID) && len(t.Path) >= 2 && EuclideanLength(t.Path) > 0 {
			all = append(all, t)
		}
	}
	if len(all) == 0 {
		return 0
	}

	candidates := all
	switch st.Type {
	case StationTerminal:
		candidates = filterTunnels(all, func(t *Tunnel) bool { return t.ID == tr.PrevTunnel })
	case StationTransfer, StationTransit:
		candidates = filterTunnels(all, func(t *Tunnel) bool { return t.ID != tr.PrevTunnel })
	}
	if len(candidates) == 0 {
		candidates = all
	}
	return candidates[w.rng.IntN(len(candidates))].ID
}

func filterTunnels(tunnels []*Tunnel, keep func(*Tunnel) bool) []*Tunnel {
	var out []*Tunnel
	for _, t := range tunnels {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// TrainPosition maps a train onto world coordinates. Parked trains sit on
// their station; travelling trains are interpolated along the path and face
// their direction of travel.
func (w *World) TrainPosition(id TrainID) (float64, float64, Direction, bool) {
	tr := w.trains[id]
	if tr == nil {
		return 0, 0, North, false
	}
	if tr.State() == TrainAtStation {
		st := w.stations[tr.StationID]
		if st == nil {
			return 0, 0, North, false
		}
		return float64(st.Pos.X), float64(st.Pos.Y), North, true
	}

	t := w.tunnels[tr.TunnelID]
	if t == nil {
		return 0, 0, North, false
	}
	x, y, dir, ok := PositionAlong(t.Path, tr.Progress)
	if !ok {
		return x, y, dir, false
	}
	if !tr.Forward {
		dir = dir.Opposite()
	}
	return x, y, dir, true
}
