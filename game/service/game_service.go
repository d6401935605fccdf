package service

import (
	"context"
	"errors"
	"time"

	"github.com/wricardo/metro-sim/game/engine"
)

var (
	// ErrCommandRejected is returned when the world refuses a command because
	// one of its preconditions does not hold.
	ErrCommandRejected = errors.New("command rejected")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrConfigNotFound is returned by a ConfigManager for unknown config names.
	ErrConfigNotFound = errors.New("configuration not found")
	// ErrInvalidRequest is returned for malformed command arguments.
	ErrInvalidRequest = errors.New("invalid request")
)

// GameService defines all game-related operations
type GameService interface {
	// Session Management
	CreateSession(ctx context.Context, configName string) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Stations
	PlaceStation(ctx context.Context, sessionID string, req PlaceStationRequest) (*CommandResult, error)
	RemoveStation(ctx context.Context, sessionID string, id engine.StationID) (*CommandResult, error)
	MoveStation(ctx context.Context, sessionID string, id engine.StationID, x, y int) (*CommandResult, error)
	RenameStation(ctx context.Context, sessionID string, id engine.StationID, name string) (*CommandResult, error)
	SetStationType(ctx context.Context, sessionID string, id engine.StationID, t engine.StationType) (*CommandResult, error)
	RepairStation(ctx context.Context, sessionID string, id engine.StationID) (*CommandResult, error)
	StartConstruction(ctx context.Context, sessionID string, id engine.StationID) (*CommandResult, error)
	DemolishStation(ctx context.Context, sessionID string, id engine.StationID) (*CommandResult, error)

	// Tunnels
	CreateTunnel(ctx context.Context, sessionID string, req CreateTunnelRequest) (*CommandResult, error)
	RemoveTunnel(ctx context.Context, sessionID string, id engine.TunnelID) (*CommandResult, error)
	MoveTunnelControlPoint(ctx context.Context, sessionID string, id engine.TunnelID, x, y int) (*CommandResult, error)
	ClearTunnelControlPoint(ctx context.Context, sessionID string, id engine.TunnelID) (*CommandResult, error)

	// Trains
	AddTrain(ctx context.Context, sessionID string, stationID engine.StationID, stock string) (*CommandResult, error)
	RemoveTrain(ctx context.Context, sessionID string, id engine.TrainID) (*CommandResult, error)

	// Simulation
	GetWorldState(ctx context.Context, sessionID string) (*engine.WorldState, error)
	Advance(ctx context.Context, sessionID string, real time.Duration) (*engine.WorldState, error)
	SetClock(ctx context.Context, sessionID string, req ClockRequest) (*engine.WorldState, error)
	TickAll(ctx context.Context, real time.Duration)

	// Configuration
	ListConfigs(ctx context.Context) ([]*ConfigInfo, error)
	LoadConfig(ctx context.Context, configName string) (*engine.WorldConfig, error)
	SaveConfig(ctx context.Context, configName string, config *engine.WorldConfig) error
}

// SessionManager defines session storage operations
type SessionManager interface {
	Create(id string, configID string, config *engine.WorldConfig) (*Session, error)
	Get(id string) (*Session, error)
	List() []*Session
	Delete(id string) error
	UpdateLastAccessed(id string) error
	Save(id string) error
}

// ConfigManager handles world configuration loading
type ConfigManager interface {
	LoadConfig(name string) (*engine.WorldConfig, error)
	ListConfigs() ([]*ConfigInfo, error)
	GetDefault() *engine.WorldConfig
	SaveConfig(name string, config *engine.WorldConfig) error
}

// Session represents an active game session. World is not safe for
// concurrent use; the service serialises every access to it.
type Session struct {
	ID             string
	ConfigID       string
	World          *engine.World
	Clock          *engine.GameClock
	Config         *engine.WorldConfig
	CreatedAt      time.Time
	LastAccessedAt time.Time
}
