package engine

// StationID identifies a station within a world. IDs start at 1 and are never reused.
type StationID int

// TunnelID identifies a tunnel within a world.
type TunnelID int

// TrainID identifies a train within a world.
type TrainID int

// StationType is the operational category of a station
type StationType string

const (
	StationRegular   StationType = "regular"
	StationTransfer  StationType = "transfer"
	StationTerminal  StationType = "terminal"
	StationTransit   StationType = "transit"
	StationPlanned   StationType = "planned"
	StationBuilding  StationType = "building"
	StationClosed    StationType = "closed"
	StationAbandoned StationType = "abandoned"
	StationRuined    StationType = "ruined"
	StationDestroyed StationType = "destroyed"
	StationBurned    StationType = "burned"
	StationDrowned   StationType = "drowned"
	StationDepot     StationType = "depot"
)

var stationTypes = map[StationType]bool{
	StationRegular: true, StationTransfer: true, StationTerminal: true, StationTransit: true,
	StationPlanned: true, StationBuilding: true, StationClosed: true, StationAbandoned: true,
	StationRuined: true, StationDestroyed: true, StationBurned: true, StationDrowned: true,
	StationDepot: true,
}

// Valid reports whether t is a known station type
func (t StationType) Valid() bool {
	return stationTypes[t]
}

// IsLowIncome reports whether stations of this type pay no upkeep.
func (t StationType) IsLowIncome() bool {
	switch t {
	case StationDrowned, StationAbandoned, StationBurned, StationRuined,
		StationBuilding, StationClosed, StationDestroyed, StationPlanned:
		return true
	}
	return false
}

// IsOperational reports whether trains may stop at and depart from the station.
func (t StationType) IsOperational() bool {
	switch t {
	case StationRegular, StationTransfer, StationTerminal, StationTransit, StationDepot:
		return true
	}
	return false
}

// underConstruction covers the two pre-opening states.
func (t StationType) underConstruction() bool {
	return t == StationPlanned || t == StationBuilding
}

// inferable reports whether automatic type inference may overwrite this type.
func (t StationType) inferable() bool {
	switch t {
	case StationRegular, StationTransfer, StationTerminal, StationTransit:
		return true
	}
	return false
}

// TunnelType is the operational state of a tunnel
type TunnelType string

const (
	TunnelPlanned   TunnelType = "planned"
	TunnelBuilding  TunnelType = "building"
	TunnelActive    TunnelType = "active"
	TunnelDestroyed TunnelType = "destroyed"
)

// Valid reports whether t is a known tunnel type
func (t TunnelType) Valid() bool {
	switch t {
	case TunnelPlanned, TunnelBuilding, TunnelActive, TunnelDestroyed:
		return true
	}
	return false
}

// LineColor is the line membership of a station. Only stations of the same
// colour can be connected.
type LineColor string

const (
	Red    LineColor = "red"
	Blue   LineColor = "blue"
	Green  LineColor = "green"
	Yellow LineColor = "yellow"
	Purple LineColor = "purple"
	Orange LineColor = "orange"
	Brown  LineColor = "brown"
	Grey   LineColor = "grey"
)

// AllLineColors lists the colours in display order.
var AllLineColors = []LineColor{Red, Blue, Green, Yellow, Purple, Orange, Brown, Grey}

// Valid reports whether c is a known line colour
func (c LineColor) Valid() bool {
	for _, known := range AllLineColors {
		if c == known {
			return true
		}
	}
	return false
}

// Position represents x,y grid coordinates. It doubles as the path point of
// a tunnel's rasterised path.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns p shifted by (dx, dy)
func (p Position) Add(dx, dy int) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// Station is a stop on a metro line
type Station struct {
	ID               StationID               `json:"id"`
	Name             string                  `json:"name"`
	Pos              Position                `json:"pos"`
	Color            LineColor               `json:"color"`
	Type             StationType             `json:"type"`
	Connections      map[Direction]StationID `json:"connections"`
	ConstructionDate int64                   `json:"construction_date"`
	Wear             float64                 `json:"wear"`
	WasRepaired      bool                    `json:"was_repaired"`

	// BuildStartedAt and DemolishStartedAt are game-clock millis, zero when idle.
	BuildStartedAt    int64 `json:"build_started_at,omitempty"`
	DemolishStartedAt int64 `json:"demolish_started_at,omitempty"`
}

// ConnectionCount returns the number of connected neighbours
func (s *Station) ConnectionCount() int {
	return len(s.Connections)
}

// DirectionTo returns the direction under which partner is connected.
func (s *Station) DirectionTo(partner StationID) (Direction, bool) {
	for dir, id := range s.Connections {
		if id == partner {
			return dir, true
		}
	}
	return 0, false
}

// BendKind records how a tunnel's bend point was chosen
type BendKind string

const (
	BendCorner   BendKind = "corner"
	BendDiagonal BendKind = "diagonal"
	BendManual   BendKind = "manual"
)

// Tunnel connects two stations along a rasterised path with at most one bend.
type Tunnel struct {
	ID    TunnelID   `json:"id"`
	Start StationID  `json:"start"`
	End   StationID  `json:"end"`
	Type  TunnelType `json:"type"`

	// Control is the user-placed bend point; nil means the bend is chosen automatically.
	Control *Position `json:"control,omitempty"`

	// Bend, BendKind and Path are derived from (start, end, Control) and are a cache.
	Bend     Position   `json:"bend"`
	BendKind BendKind   `json:"bend_kind"`
	Path     []Position `json:"path"`
}

// Length is the number of path segments
func (t *Tunnel) Length() int {
	return PathLength(t.Path)
}

// Touches reports whether id is one of the tunnel's endpoints
func (t *Tunnel) Touches(id StationID) bool {
	return t.Start == id || t.End == id
}

// Other returns the endpoint opposite id.
func (t *Tunnel) Other(id StationID) StationID {
	if t.Start == id {
		return t.End
	}
	return t.Start
}

// TrainState names the two mutually exclusive train locations
type TrainState string

const (
	TrainAtStation TrainState = "at_station"
	TrainOnTunnel  TrainState = "on_tunnel"
)

// Train is a vehicle that is either parked at a station or travelling a tunnel.
// Exactly one of StationID and TunnelID is non-zero.
type Train struct {
	ID    TrainID `json:"id"`
	Stock string  `json:"stock"`
	Speed float64 `json:"speed"` // cells per game second

	StationID StationID `json:"station_id,omitempty"`
	TunnelID  TunnelID  `json:"tunnel_id,omitempty"`
	Progress  float64   `json:"progress"`
	Forward   bool      `json:"forward"`

	PrevTunnel     TunnelID `json:"prev_tunnel,omitempty"`
	DwellRemaining float64  `json:"dwell_remaining"` // game millis
	HasPaid        bool     `json:"has_paid"`
	Earned         float64  `json:"earned"`
}

// State reports where the train currently is
func (t *Train) State() TrainState {
	if t.TunnelID != 0 {
		return TrainOnTunnel
	}
	return TrainAtStation
}

// parkAt moves the train into the AtStation state.
func (t *Train) parkAt(id StationID, dwell float64) {
	t.StationID = id
	t.TunnelID = 0
	t.Progress = 0
	t.DwellRemaining = dwell
	t.HasPaid = false
}

// Label is the text label shown next to a station.
type Label struct {
	StationID StationID   `json:"station_id"`
	Text      string      `json:"text"`
	Style     StationType `json:"style"`
	Pos       Position    `json:"pos"`
	Placed    bool        `json:"placed"`
}

// RollingStock is a class of train defining its speed
type RollingStock struct {
	Name  string  `json:"name" yaml:"name"`
	Speed float64 `json:"speed" yaml:"speed"`
}

// TileSpec describes one legend entry of a terrain layout
type TileSpec struct {
	Name  string  `json:"name" yaml:"name"`
	Water bool    `json:"water,omitempty" yaml:"water,omitempty"`
	Perm  float64 `json:"perm" yaml:"perm"`
}

// TrainView is a train plus its interpolated render position
type TrainView struct {
	*Train
	State   TrainState `json:"state"`
	X       float64    `json:"x"`
	Y       float64    `json:"y"`
	Heading string     `json:"heading"`
}

// StationView is a station plus derived lifecycle figures
type StationView struct {
	*Station
	Upkeep       float64 `json:"upkeep"`
	CanRepair    bool    `json:"can_repair"`
	Construction float64 `json:"construction_progress"`
	Demolition   float64 `json:"demolition_progress"`
	Label        string  `json:"label"`
}

// WorldStats summarises a world for dashboards and metrics
type WorldStats struct {
	Stations     int                 `json:"stations"`
	Tunnels      int                 `json:"tunnels"`
	Trains       int                 `json:"trains"`
	ByType       map[StationType]int `json:"by_type"`
	Balance      float64             `json:"balance"`
	TotalRevenue float64             `json:"total_revenue"`
	TotalUpkeep  float64             `json:"total_upkeep"`
}

// WorldState is the read-only view handed to the API and render layers.
type WorldState struct {
	ConfigName string        `json:"config_name"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	NowMillis  int64         `json:"now_millis"`
	TimeScale  float64       `json:"time_scale"`
	Paused     bool          `json:"paused"`
	Stations   []StationView `json:"stations"`
	Tunnels    []*Tunnel     `json:"tunnels"`
	Trains     []TrainView   `json:"trains"`
	Stats      WorldStats    `json:"stats"`
}
