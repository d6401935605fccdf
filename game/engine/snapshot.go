package engine

import (
	"fmt"
	"slices"
)

// Edge is one directional connection of a station.
type Edge struct {
	Dir     Direction `json:"dir"`
	Partner StationID `json:"partner"`
}

// StationRecord is the persisted form of a station. Types are stored
// explicitly, so restoring does not re-run inference.
type StationRecord struct {
	ID                StationID   `json:"id"`
	Name              string      `json:"name"`
	Pos               Position    `json:"pos"`
	Color             LineColor   `json:"color"`
	Type              StationType `json:"type"`
	ConstructionDate  int64       `json:"construction_date"`
	Wear              float64     `json:"wear"`
	WasRepaired       bool        `json:"was_repaired,omitempty"`
	BuildStartedAt    int64       `json:"build_started_at,omitempty"`
	DemolishStartedAt int64       `json:"demolish_started_at,omitempty"`
	Edges             []Edge      `json:"edges,omitempty"`
}

// TunnelRecord is the persisted form of a tunnel. The path is not stored.
type TunnelRecord struct {
	ID      TunnelID   `json:"id"`
	Start   StationID  `json:"start"`
	End     StationID  `json:"end"`
	Type    TunnelType `json:"type"`
	Control *Position  `json:"control,omitempty"`
}

// Snapshot holds the minimal state needed to rebuild a world.
type Snapshot struct {
	Config       *WorldConfig    `json:"config"`
	NowMillis    int64           `json:"now_millis"`
	TimeScale    float64         `json:"time_scale"`
	Paused       bool            `json:"paused"`
	Balance      float64         `json:"balance"`
	TotalRevenue float64         `json:"total_revenue"`
	TotalUpkeep  float64         `json:"total_upkeep"`
	LastUpkeepAt int64           `json:"last_upkeep_at"`
	NextStation  StationID       `json:"next_station_id"`
	NextTunnel   TunnelID        `json:"next_tunnel_id"`
	NextTrain    TrainID         `json:"next_train_id"`
	Stations     []StationRecord `json:"stations"`
	Tunnels      []TunnelRecord  `json:"tunnels"`
	Trains       []Train         `json:"trains"`
}

// Snapshot captures the world for persistence
func (w *World) Snapshot() *Snapshot {
	s := &Snapshot{
		Config:       w.config,
		NowMillis:    w.clock.NowMillis(),
		TimeScale:    w.clock.TimeScale(),
		Paused:       w.clock.IsPaused(),
		Balance:      w.balance,
		TotalRevenue: w.totalRevenue,
		TotalUpkeep:  w.totalUpkeep,
		LastUpkeepAt: w.lastUpkeepAt,
		NextStation:  w.nextStationID,
		NextTunnel:   w.nextTunnelID,
		NextTrain:    w.nextTrainID,
	}
	for _, st := range w.Stations() {
		rec := StationRecord{
			ID:                st.ID,
			Name:              st.Name,
			Pos:               st.Pos,
			Color:             st.Color,
			Type:              st.Type,
			ConstructionDate:  st.ConstructionDate,
			Wear:              st.Wear,
			WasRepaired:       st.WasRepaired,
			BuildStartedAt:    st.BuildStartedAt,
			DemolishStartedAt: st.DemolishStartedAt,
		}
		for _, dir := range AllDirections {
			if partner, ok := st.Connections[dir]; ok {
				rec.Edges = append(rec.Edges, Edge{Dir: dir, Partner: partner})
			}
		}
		s.Stations = append(s.Stations, rec)
	}
	for _, t := range w.Tunnels() {
		rec := TunnelRecord{ID: t.ID, Start: t.Start, End: t.End, Type: t.Type}
		if t.Control != nil {
			c := *t.Control
			rec.Control = &c
		}
		s.Tunnels = append(s.Tunnels, rec)
	}
	for _, tr := range w.Trains() {
		s.Trains = append(s.Trains, *tr)
	}
	return s
}

// RestoreWorld rebuilds a world from a snapshot. Connections are restored
// before anything derived, and inference stays off for the whole load since
// types are stored explicitly. Edges to missing partners are dropped; trains
// referencing missing stations or tunnels are relocated.
func RestoreWorld(s *Snapshot, opts ...Option) (*World, error) {
	if s == nil || s.Config == nil {
		return nil, fmt.Errorf("restore world: snapshot has no config")
	}
	clock := NewGameClock(s.NowMillis)
	clock.SetTimeScale(s.TimeScale)
	if s.Paused {
		clock.Pause()
	}

	w, err := NewWorld(s.Config, append([]Option{WithClock(clock)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("restore world: %w", err)
	}
	w.skipTypeUpdate = true
	defer func() { w.skipTypeUpdate = false }()

	for _, rec := range s.Stations {
		if _, dup := w.stations[rec.ID]; dup || rec.ID <= 0 {
			return nil, fmt.Errorf("restore world: invalid station id %d", rec.ID)
		}
		if !w.grid.Place(StationOccupant(rec.ID), rec.Pos.X, rec.Pos.Y) {
			return nil, fmt.Errorf("restore world: station %d cannot be placed at (%d,%d)", rec.ID, rec.Pos.X, rec.Pos.Y)
		}
		w.stations[rec.ID] = &Station{
			ID:                rec.ID,
			Name:              rec.Name,
			Pos:               rec.Pos,
			Color:             rec.Color,
			Type:              rec.Type,
			Connections:       make(map[Direction]StationID),
			ConstructionDate:  rec.ConstructionDate,
			Wear:              rec.Wear,
			WasRepaired:       rec.WasRepaired,
			BuildStartedAt:    rec.BuildStartedAt,
			DemolishStartedAt: rec.DemolishStartedAt,
		}
	}

	for _, rec := range s.Stations {
		st := w.stations[rec.ID]
		for _, e := range rec.Edges {
			partner := w.stations[e.Partner]
			if partner == nil || len(st.Connections) >= 2 {
				continue
			}
			st.Connections[e.Dir] = e.Partner
			partner.Connections[e.Dir.Opposite()] = rec.ID
		}
	}

	// Labels claim their cells before path markers, as they do in a live world
	// where stations exist before the tunnels between them.
	for _, st := range w.Stations() {
		w.placeLabel(st)
	}

	for _, rec := range s.Tunnels {
		if w.stations[rec.Start] == nil || w.stations[rec.End] == nil {
			continue
		}
		t := &Tunnel{ID: rec.ID, Start: rec.Start, End: rec.End, Type: rec.Type, Control: rec.Control}
		w.tunnels[t.ID] = t
		w.recomputePath(t)
	}

	for i := range s.Trains {
		tr := s.Trains[i]
		w.trains[tr.ID] = &tr
		switch {
		case tr.TunnelID != 0 && w.tunnels[tr.TunnelID] == nil,
			tr.TunnelID == 0 && w.stations[tr.StationID] == nil:
			w.relocateTrain(&tr, Position{}, nil, 0)
		}
		if live := w.trains[tr.ID]; live != nil && live.PrevTunnel != 0 && w.tunnels[live.PrevTunnel] == nil {
			live.PrevTunnel = 0
		}
	}

	w.balance = s.Balance
	w.totalRevenue = s.TotalRevenue
	w.totalUpkeep = s.TotalUpkeep
	w.lastUpkeepAt = s.LastUpkeepAt
	w.nextStationID = max(s.NextStation, nextID(w.stations))
	w.nextTunnelID = max(s.NextTunnel, nextID(w.tunnels))
	w.nextTrainID = max(s.NextTrain, nextID(w.trains))
	return w, nil
}

// nextID returns one past the highest key of an arena map
func nextID[K ~int, V any](m map[K]V) K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return 1
	}
	return slices.Max(keys) + 1
}
