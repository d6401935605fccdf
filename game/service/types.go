package service

import (
	"time"

	"github.com/wricardo/metro-sim/game/engine"
)

// SessionInfo provides information about a game session
type SessionInfo struct {
	ID             string              `json:"id"`
	ConfigName     string              `json:"config_name"`
	CreatedAt      time.Time           `json:"created_at"`
	LastAccessedAt time.Time           `json:"last_accessed_at"`
	State          *engine.WorldState  `json:"state"`
	Config         *engine.WorldConfig `json:"config"`
}

// CommandResult is returned by every world-mutating command
type CommandResult struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	ID      int                `json:"id,omitempty"` // id of the created entity, if any
	State   *engine.WorldState `json:"state"`
	Events  []GameEvent        `json:"events,omitempty"`
}

// GameEvent represents something that happened as the result of a command
type GameEvent struct {
	Type      string    `json:"type"` // "station_placed", "tunnel_created", "train_added", ...
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PlaceStationRequest describes a new station
type PlaceStationRequest struct {
	X     int              `json:"x"`
	Y     int              `json:"y"`
	Color engine.LineColor `json:"color"`
	Name  string           `json:"name,omitempty"`
}

// CreateTunnelRequest describes a new tunnel between two stations. An empty
// type is derived from the endpoint stations.
type CreateTunnelRequest struct {
	Start engine.StationID  `json:"start"`
	End   engine.StationID  `json:"end"`
	Type  engine.TunnelType `json:"type,omitempty"`
}

// ClockRequest changes a session clock. Nil fields are left alone.
type ClockRequest struct {
	Paused    *bool    `json:"paused,omitempty"`
	TimeScale *float64 `json:"time_scale,omitempty"`
}

// ConfigInfo provides information about a world configuration
type ConfigInfo struct {
	Filename    string          `json:"filename"`
	ConfigID    string          `json:"config_id"` // The identifier to use for session creation
	Name        string          `json:"name"`      // Display name
	Description string          `json:"description"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Mode        engine.GameMode `json:"mode"`
}
