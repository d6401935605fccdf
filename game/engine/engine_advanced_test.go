package engine

import (
	"testing"
)

// Topology and removal scenarios.

func TestConnectionReciprocity(t *testing.T) {
	for _, dir := range AllDirections {
		t.Run(dir.String(), func(t *testing.T) {
			w, _ := newTestWorld(t, createTestConfig())
			dx, dy := dir.Delta()
			a := mustPlace(t, w, 5, 5, Blue)
			b := mustPlace(t, w, 5+2*dx, 5+2*dy, Blue)

			if !w.Connect(a, b) {
				t.Fatal("Expected connect to succeed")
			}
			sa, sb := w.Station(a), w.Station(b)
			if sa.Connections[dir] != b {
				t.Errorf("Expected A.connections[%s] == B", dir)
			}
			if sb.Connections[dir.Opposite()] != a {
				t.Errorf("Expected B.connections[%s] == A", dir.Opposite())
			}
			if sa.ConnectionCount() > 2 || sb.ConnectionCount() > 2 {
				t.Error("Expected at most two connections")
			}
		})
	}
}

func TestConnectPreconditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, w *World) (StationID, StationID)
	}{
		{
			name: "same station",
			setup: func(t *testing.T, w *World) (StationID, StationID) {
				a := mustPlace(t, w, 1, 1, Red)
				return a, a
			},
		},
		{
			name: "missing station",
			setup: func(t *testing.T, w *World) (StationID, StationID) {
				return mustPlace(t, w, 1, 1, Red), 99
			},
		},
		{
			name: "different colours",
			setup: func(t *testing.T, w *World) (StationID, StationID) {
				return mustPlace(t, w, 0, 1, Red), mustPlace(t, w, 3, 1, Blue)
			},
		},
		{
			name: "misaligned",
			setup: func(t *testing.T, w *World) (StationID, StationID) {
				return mustPlace(t, w, 0, 1, Red), mustPlace(t, w, 2, 2, Red)
			},
		},
		{
			name: "already connected",
			setup: func(t *testing.T, w *World) (StationID, StationID) {
				a, b := mustPlace(t, w, 0, 1, Red), mustPlace(t, w, 3, 1, Red)
				if !w.Connect(a, b) {
					t.Fatal("Expected first connect to succeed")
				}
				return b, a
			},
		},
		{
			name: "third connection",
			setup: func(t *testing.T, w *World) (StationID, StationID) {
				hub := mustPlace(t, w, 4, 4, Red)
				w.Connect(hub, mustPlace(t, w, 4, 1, Red))
				w.Connect(hub, mustPlace(t, w, 4, 7, Red))
				return hub, mustPlace(t, w, 8, 4, Red)
			},
		},
		{
			name: "direction slot taken",
			setup: func(t *testing.T, w *World) (StationID, StationID) {
				a := mustPlace(t, w, 0, 1, Red)
				w.Connect(a, mustPlace(t, w, 3, 1, Red))
				return a, mustPlace(t, w, 6, 1, Red)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := newTestWorld(t, createTestConfig())
			a, b := tt.setup(t, w)

			before := map[StationID]int{}
			for _, st := range w.Stations() {
				before[st.ID] = st.ConnectionCount()
			}
			if w.Connect(a, b) {
				t.Fatal("Expected connect to be rejected")
			}
			for _, st := range w.Stations() {
				if st.ConnectionCount() != before[st.ID] {
					t.Errorf("Expected no side effects on station %d", st.ID)
				}
			}
		})
	}
}

func TestStraightTunnelScenario(t *testing.T) {
	w, _ := newTestWorld(t, createTestConfig())
	a := mustPlace(t, w, 0, 0, Red)
	b := mustPlace(t, w, 5, 0, Red)

	tid, ok := w.CreateTunnel(a, b, "")
	if !ok {
		t.Fatal("Expected tunnel to be created")
	}
	if _, ok := w.Station(a).Connections[East]; !ok {
		t.Error("Expected A connected towards EAST")
	}
	if _, ok := w.Station(b).Connections[West]; !ok {
		t.Error("Expected B connected towards WEST")
	}

	tunnel := w.Tunnel(tid)
	expected := []Position{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}, {5, 0}}
	if len(tunnel.Path) != len(expected) {
		t.Fatalf("Expected path %v, got %v", expected, tunnel.Path)
	}
	for i := range expected {
		if tunnel.Path[i] != expected[i] {
			t.Errorf("Path[%d]: expected %v, got %v", i, expected[i], tunnel.Path[i])
		}
	}
	if tunnel.Length() != 5 {
		t.Errorf("Expected length 5, got %d", tunnel.Length())
	}
	if tunnel.Type != TunnelActive {
		t.Errorf("Expected active tunnel between open stations, got %s", tunnel.Type)
	}
	if o, ok := w.Grid().OccupantAt(2, 0); !ok || o != TunnelOccupant(tid) {
		t.Errorf("Expected tunnel marker on interior cell, got %+v", o)
	}

	expectedCost := 5 * DefaultRules().TunnelCellCost
	if got := 1000 - 2*DefaultRules().StationCost - w.Balance(); got != expectedCost {
		t.Errorf("Expected tunnel cost %v, got %v", expectedCost, got)
	}
}

func TestTypeInference(t *testing.T) {
	w, _ := newTestWorld(t, createTestConfig())
	a := mustPlace(t, w, 1, 4, Green)
	b := mustPlace(t, w, 4, 4, Green)
	c := mustPlace(t, w, 7, 4, Green)

	if w.Station(b).Type != StationRegular {
		t.Errorf("Expected regular with no connections, got %s", w.Station(b).Type)
	}
	w.CreateTunnel(a, b, "")
	if w.Station(b).Type != StationTerminal {
		t.Errorf("Expected terminal with one connection, got %s", w.Station(b).Type)
	}
	w.CreateTunnel(b, c, "")
	if w.Station(b).Type != StationTransit {
		t.Errorf("Expected transit with two connections, got %s", w.Station(b).Type)
	}

	// Idempotence
	first := w.Station(b).Type
	w.UpdateType(b)
	w.UpdateType(b)
	if w.Station(b).Type != first {
		t.Errorf("Expected repeated inference to be stable, got %s then %s", first, w.Station(b).Type)
	}

	w.Disconnect(b, c)
	if w.Station(b).Type != StationTerminal || w.Station(c).Type != StationRegular {
		t.Errorf("Expected terminal/regular after disconnect, got %s/%s", w.Station(b).Type, w.Station(c).Type)
	}
}

func TestTransferDetection(t *testing.T) {
	w, _ := newTestWorld(t, createTestConfig())
	a := mustPlace(t, w, 2, 2, Red)
	mustPlace(t, w, 2, 3, Blue)

	w.UpdateType(a)
	if w.Station(a).Type != StationTransfer {
		t.Errorf("Expected transfer next to another line, got %s", w.Station(a).Type)
	}
	if w.Station(a).ConnectionCount() != 0 {
		t.Error("Expected transfer without any connection")
	}

	same := mustPlace(t, w, 8, 8, Red)
	mustPlace(t, w, 9, 8, Red)
	if w.Station(same).Type != StationRegular {
		t.Errorf("Expected same-colour neighbours to stay regular, got %s", w.Station(same).Type)
	}
}

func TestTransferWaitsForNeighbourConstruction(t *testing.T) {
	config := createTestConfig()
	config.Mode = ModeConstruction
	config.Rules.BuildDurationMillis = 1000
	w, clock := newTestWorld(t, config)

	a := mustPlace(t, w, 2, 2, Red)
	w.StartConstruction(a)
	clock.Set(1000)
	w.UpdateLifecycle()
	if w.Station(a).Type != StationRegular {
		t.Fatalf("Expected opened station to be regular, got %s", w.Station(a).Type)
	}

	b := mustPlace(t, w, 2, 3, Blue)
	tests := []struct {
		name     string
		advance  func()
		expected StationType
	}{
		{"planned neighbour", func() {}, StationRegular},
		{"building neighbour", func() { w.StartConstruction(b) }, StationRegular},
		{"opened neighbour", func() {
			clock.Set(2000)
			w.UpdateLifecycle()
		}, StationTransfer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.advance()
			if got := w.Station(a).Type; got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
			// A fresh inference must agree with the stored type.
			w.UpdateType(a)
			if got := w.Station(a).Type; got != tt.expected {
				t.Errorf("Expected re-inference to keep %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestInferenceFrozenWhilePlanned(t *testing.T) {
	config := createTestConfig()
	config.Mode = ModeConstruction
	w, _ := newTestWorld(t, config)

	a := mustPlace(t, w, 2, 2, Red)
	mustPlace(t, w, 2, 3, Blue)
	w.UpdateType(a)
	if w.Station(a).Type != StationPlanned {
		t.Errorf("Expected planned type to be frozen, got %s", w.Station(a).Type)
	}
}

func TestSetStationTypeGuards(t *testing.T) {
	config := createTestConfig()
	config.Mode = ModeConstruction
	w, _ := newTestWorld(t, config)

	planned := mustPlace(t, w, 1, 1, Red)
	if w.SetStationType(planned, StationRegular) {
		t.Error("Expected planned -> regular to be rejected")
	}
	if w.SetStationType(planned, StationClosed) {
		t.Error("Expected planned -> closed to be rejected")
	}
	if !w.SetStationType(planned, StationBuilding) {
		t.Fatal("Expected planned -> building to succeed")
	}
	if w.SetStationType(planned, StationPlanned) {
		t.Error("Expected building -> planned to be rejected")
	}
	if w.SetStationType(planned, StationClosed) {
		t.Error("Expected building -> closed to be rejected")
	}
	if w.Label(planned).Text != "Station 1 (building)" {
		t.Errorf("Expected label synced to building, got %q", w.Label(planned).Text)
	}

	open := mustPlace(t, w, 6, 6, Red)
	w.SetStationType(open, StationBuilding)
	if !w.SetStationType(open, StationRegular) {
		t.Fatal("Expected building -> regular to succeed")
	}
	if w.SetStationType(open, StationTransfer) {
		t.Error("Expected transfer without a foreign neighbour to be rejected")
	}
	if !w.SetStationType(open, StationClosed) {
		t.Fatal("Expected regular -> closed to succeed")
	}

	blue := mustPlace(t, w, 7, 6, Blue)
	if w.SetStationType(open, StationTransfer) {
		t.Error("Expected a planned neighbour not to allow transfer")
	}
	w.SetStationType(blue, StationBuilding)
	w.SetStationType(blue, StationRegular)
	if !w.SetStationType(open, StationTransfer) {
		t.Error("Expected transfer with a foreign neighbour to succeed")
	}
	if w.SetStationType(open, StationType("bogus")) {
		t.Error("Expected unknown type to be rejected")
	}
}

func TestTunnelPromotion(t *testing.T) {
	config := createTestConfig()
	config.Mode = ModeConstruction
	w, clock := newTestWorld(t, config)

	a := mustPlace(t, w, 1, 1, Red)
	b := mustPlace(t, w, 6, 1, Red)
	tid, ok := w.CreateTunnel(a, b, "")
	if !ok {
		t.Fatal("Expected tunnel between planned stations")
	}
	if w.Tunnel(tid).Type != TunnelPlanned {
		t.Fatalf("Expected planned tunnel, got %s", w.Tunnel(tid).Type)
	}

	w.StartConstruction(a)
	if w.Tunnel(tid).Type != TunnelPlanned {
		t.Errorf("Expected tunnel to wait for both ends, got %s", w.Tunnel(tid).Type)
	}
	w.StartConstruction(b)
	if w.Tunnel(tid).Type != TunnelBuilding {
		t.Errorf("Expected building tunnel, got %s", w.Tunnel(tid).Type)
	}

	clock.Set(config.Rules.BuildDurationMillis)
	w.UpdateLifecycle()
	if w.Tunnel(tid).Type != TunnelActive {
		t.Errorf("Expected active tunnel once both ends open, got %s", w.Tunnel(tid).Type)
	}
	if w.Station(a).Type != StationTerminal || w.Station(b).Type != StationTerminal {
		t.Errorf("Expected both ends to open as terminals, got %s/%s", w.Station(a).Type, w.Station(b).Type)
	}
}

func TestMoveTunnelControlPoint(t *testing.T) {
	w, _ := newTestWorld(t, createTestConfig())
	a := mustPlace(t, w, 1, 1, Red)
	b := mustPlace(t, w, 5, 5, Red)
	tid, _ := w.CreateTunnel(a, b, "")

	if !w.MoveTunnelControlPoint(tid, 1, 5) {
		t.Fatal("Expected control point move to succeed")
	}
	tunnel := w.Tunnel(tid)
	if tunnel.Bend != (Position{X: 1, Y: 5}) || tunnel.BendKind != BendManual {
		t.Errorf("Expected manual bend at (1,5), got %v %s", tunnel.Bend, tunnel.BendKind)
	}
	first := append([]Position(nil), tunnel.Path...)

	w.MoveTunnelControlPoint(tid, 1, 5)
	if len(first) != len(tunnel.Path) {
		t.Fatal("Expected identical path after repeating the move")
	}
	for i := range first {
		if first[i] != tunnel.Path[i] {
			t.Errorf("Path[%d] changed: %v -> %v", i, first[i], tunnel.Path[i])
		}
	}

	if !w.ClearTunnelControlPoint(tid) || tunnel.Control != nil || tunnel.BendKind == BendManual {
		t.Error("Expected automatic bend after clearing the control point")
	}
	if w.MoveTunnelControlPoint(99, 1, 1) {
		t.Error("Expected unknown tunnel to be rejected")
	}
}

func TestMoveTunnelControlPointOntoBend(t *testing.T) {
	w, _ := newTestWorld(t, createTestConfig())
	a := mustPlace(t, w, 1, 1, Red)
	b := mustPlace(t, w, 5, 5, Red)
	tid, ok := w.CreateTunnel(a, b, "")
	if !ok {
		t.Fatal("Expected tunnel to be created")
	}
	tunnel := w.Tunnel(tid)
	bend, kind := tunnel.Bend, tunnel.BendKind
	if kind == BendManual {
		t.Fatalf("Expected an automatic bend on a new tunnel, got %s", kind)
	}

	if !w.MoveTunnelControlPoint(tid, bend.X, bend.Y) {
		t.Fatal("Expected move onto the current bend to succeed")
	}
	if tunnel.Control != nil {
		t.Errorf("Expected no control point, got %v", *tunnel.Control)
	}
	if tunnel.BendKind != kind || tunnel.Bend != bend {
		t.Errorf("Expected bend %v %s, got %v %s", bend, kind, tunnel.Bend, tunnel.BendKind)
	}
}

func TestRemoveTunnelSnapsTrains(t *testing.T) {
	w, _ := newTestWorld(t, createTestConfig())
	a := mustPlace(t, w, 0, 2, Red)
	b := mustPlace(t, w, 8, 2, Red)
	tid, _ := w.CreateTunnel(a, b, "")

	near, _ := w.AddTrain(a, "")
	far, _ := w.AddTrain(a, "")
	for id, progress := range map[TrainID]float64{near: 0.2, far: 0.8} {
		tr := w.Train(id)
		tr.StationID, tr.TunnelID, tr.Progress, tr.Forward = 0, tid, progress, true
	}
	w.Train(far).PrevTunnel = tid

	if !w.RemoveTunnel(tid) {
		t.Fatal("Expected tunnel removal to succeed")
	}
	if w.Train(near).StationID != a {
		t.Errorf("Expected train at 0.2 to snap to start, got station %d", w.Train(near).StationID)
	}
	if w.Train(far).StationID != b {
		t.Errorf("Expected train at 0.8 to snap to end, got station %d", w.Train(far).StationID)
	}
	for _, tr := range w.Trains() {
		if tr.State() != TrainAtStation || tr.TunnelID != 0 {
			t.Errorf("Expected train %d parked, got %+v", tr.ID, tr)
		}
		if !tr.HasPaid || tr.PrevTunnel != 0 {
			t.Errorf("Expected train %d paid with no previous tunnel", tr.ID)
		}
	}
}

func TestRemoveStationRelocatesTrains(t *testing.T) {
	w, _ := newTestWorld(t, createTestConfig())
	a := mustPlace(t, w, 0, 2, Red)
	b := mustPlace(t, w, 4, 2, Red)
	c := mustPlace(t, w, 10, 9, Blue)
	tid, _ := w.CreateTunnel(a, b, "")

	parked, _ := w.AddTrain(b, "")
	moving, _ := w.AddTrain(a, "")
	tr := w.Train(moving)
	tr.StationID, tr.TunnelID, tr.Progress, tr.Forward = 0, tid, 0.9, true

	w.RemoveStation(b)

	if got := w.Train(moving).StationID; got != a {
		t.Errorf("Expected train heading to the removed station to snap back to %d, got %d", a, got)
	}
	if got := w.Train(parked).StationID; got != a {
		t.Errorf("Expected parked train to move to nearest station %d, got %d", a, got)
	}

	w.RemoveStation(a)
	for _, tr := range w.Trains() {
		if tr.StationID != c {
			t.Errorf("Expected train %d relocated to the last station, got %d", tr.ID, tr.StationID)
		}
	}

	w.RemoveStation(c)
	if len(w.Trains()) != 0 {
		t.Errorf("Expected trains removed with nowhere to go, got %d", len(w.Trains()))
	}
}
