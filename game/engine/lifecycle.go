package engine

import (
	"context"
	"math"

	"github.com/wricardo/metro-sim/internal/logging"
)

// Upkeep multipliers
const (
	wearUpkeepFactor     = 2.5
	transferUpkeepFactor = 1.35
	waterUpkeepFactor    = 1.25
)

// age returns the game millis since the station was built or last repaired
func (w *World) age(st *Station) int64 {
	return w.clock.NowMillis() - st.ConstructionDate
}

// UpdateWear ages a station. Closed stations decay towards abandonment on the
// shorter abandonment threshold; open ones decay towards ruin over the
// station lifetime.
func (w *World) UpdateWear(id StationID) {
	st := w.stations[id]
	if st == nil {
		return
	}
	rules := w.config.Rules
	age := float64(w.age(st))

	switch st.Type {
	case StationClosed:
		st.Wear = wearFraction(age, rules.AbandonedThresholdMillis)
		if st.Wear >= 1 {
			w.forceType(st, StationAbandoned)
			w.log.Info(context.Background(), "station abandoned", logging.Int("station_id", int(id)))
		}
	case StationAbandoned, StationDestroyed, StationBuilding, StationPlanned:
	default:
		st.Wear = wearFraction(age, rules.MaxLifetimeMillis)
		if st.Wear >= 1 && st.Type != StationRuined {
			w.forceType(st, StationRuined)
			w.log.Info(context.Background(), "station ruined", logging.Int("station_id", int(id)))
		}
	}
}

func wearFraction(age float64, threshold int64) float64 {
	if threshold <= 0 {
		return 1
	}
	return math.Min(1, math.Max(0, age/float64(threshold)))
}

// CanRepair reports whether a station is old enough and not beyond saving.
func (w *World) CanRepair(id StationID) bool {
	st := w.stations[id]
	if st == nil {
		return false
	}
	switch st.Type {
	case StationAbandoned, StationRuined, StationDestroyed:
		return false
	}
	return w.age(st) >= w.config.Rules.RepairThresholdMillis && st.Wear < 1
}

// RepairStation restores a station to the repaired wear level and restarts
// its ageing. It is a no-op unless CanRepair holds.
func (w *World) RepairStation(id StationID) bool {
	if !w.CanRepair(id) {
		return false
	}
	st := w.stations[id]
	st.Wear = w.config.Rules.RepairWear
	st.ConstructionDate = w.clock.NowMillis()
	st.WasRepaired = true
	w.balance -= w.config.Rules.RepairCost
	return true
}

// CalculateUpkeepCost returns a station's upkeep for one interval.
// Low-income types cost nothing.
func (w *World) CalculateUpkeepCost(id StationID) float64 {
	st := w.stations[id]
	if st == nil || st.Type.IsLowIncome() {
		return 0
	}
	base := w.config.Rules.BaseUpkeep * w.terrain.Perm(st.Pos.X, st.Pos.Y)
	if base <= 0 {
		return 0
	}

	cost := 1 / base
	cost *= 1 + st.Wear*wearUpkeepFactor
	if st.Type == StationTransfer {
		cost *= transferUpkeepFactor
	}
	if nearWater(w.terrain, st.Pos) {
		cost *= waterUpkeepFactor
	}
	return cost
}

// StartConstruction moves a planned station into building
func (w *World) StartConstruction(id StationID) bool {
	return w.SetStationType(id, StationBuilding)
}

// ConstructionProgress is 0 for planned stations, the elapsed build fraction
// while building, and 1 once open.
func (w *World) ConstructionProgress(id StationID) float64 {
	st := w.stations[id]
	if st == nil {
		return 0
	}
	switch st.Type {
	case StationPlanned:
		return 0
	case StationBuilding:
		return elapsedFraction(w.clock.NowMillis()-st.BuildStartedAt, w.config.Rules.BuildDurationMillis)
	}
	return 1
}

// DemolitionProgress is the elapsed demolition fraction of a destroyed station
func (w *World) DemolitionProgress(id StationID) float64 {
	st := w.stations[id]
	if st == nil || st.Type != StationDestroyed || st.DemolishStartedAt == 0 {
		return 0
	}
	return elapsedFraction(w.clock.NowMillis()-st.DemolishStartedAt, w.config.Rules.DemolitionDurationMillis)
}

func elapsedFraction(elapsed, duration int64) float64 {
	if duration <= 0 {
		return 1
	}
	return clamp01(float64(elapsed) / float64(duration))
}

// completeConstruction opens a built station with its inferred type and
// restarts its age.
func (w *World) completeConstruction(st *Station) {
	st.ConstructionDate = w.clock.NowMillis()
	st.BuildStartedAt = 0
	st.Wear = 0
	w.forceType(st, w.inferType(st))
	w.refreshNeighbours(st.Pos)
	w.log.Info(context.Background(), "station opened",
		logging.Int("station_id", int(st.ID)), logging.String("type", string(st.Type)))
}

// DemolishStation marks a station destroyed and schedules its removal. Its
// tunnels are closed to traffic at once. Planned stations have nothing to tear
// down and are removed immediately.
func (w *World) DemolishStation(id StationID) bool {
	st := w.stations[id]
	if st == nil || st.Type == StationDestroyed {
		return false
	}
	if st.Type == StationPlanned {
		return w.RemoveStation(id)
	}
	w.forceType(st, StationDestroyed)
	st.DemolishStartedAt = w.clock.NowMillis()
	if st.DemolishStartedAt == 0 {
		// Zero means idle.
		st.DemolishStartedAt = 1
	}
	for _, t := range w.tunnels {
		if t.Touches(id) {
			t.Type = TunnelDestroyed
		}
	}
	return true
}

// UpdateLifecycle runs one pass of the lifecycle checker: construction,
// demolition, wear, then upkeep when an interval has elapsed.
func (w *World) UpdateLifecycle() {
	now := w.clock.NowMillis()
	rules := w.config.Rules

	for _, st := range w.Stations() {
		switch {
		case st.Type == StationBuilding && now-st.BuildStartedAt >= rules.BuildDurationMillis:
			w.completeConstruction(st)
		case st.Type == StationDestroyed && st.DemolishStartedAt != 0 &&
			now-st.DemolishStartedAt >= rules.DemolitionDurationMillis:
			w.RemoveStation(st.ID)
			continue
		}
		w.UpdateWear(st.ID)
	}

	if rules.UpkeepIntervalMillis <= 0 || now-w.lastUpkeepAt < rules.UpkeepIntervalMillis {
		return
	}
	periods := (now - w.lastUpkeepAt) / rules.UpkeepIntervalMillis
	w.lastUpkeepAt += periods * rules.UpkeepIntervalMillis

	total := 0.0
	for _, st := range w.Stations() {
		total += w.CalculateUpkeepCost(st.ID)
	}
	total *= float64(periods)
	w.balance -= total
	w.totalUpkeep += total
}
