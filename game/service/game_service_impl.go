package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wricardo/metro-sim/game/engine"
	"github.com/wricardo/metro-sim/internal/logging"
	"github.com/wricardo/metro-sim/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

// StateListener receives world states pushed after commands and ticks.
type StateListener interface {
	HasSubscribers(sessionID string) bool
	PublishState(sessionID string, state *engine.WorldState)
}

// Option configures the game service
type Option func(*gameServiceImpl)

// WithLogger sets the service logger
func WithLogger(l logging.Logger) Option {
	return func(s *gameServiceImpl) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records command and tick metrics on c
func WithMetrics(c *observability.SimCollector) Option {
	return func(s *gameServiceImpl) { s.metrics = c }
}

// WithStateListener pushes world states to l
func WithStateListener(l StateListener) Option {
	return func(s *gameServiceImpl) { s.listener = l }
}

// gameServiceImpl implements the GameService interface. One mutex orders
// every command and tick, so each world sees a single writer.
type gameServiceImpl struct {
	sessions SessionManager
	configs  ConfigManager
	log      logging.Logger
	metrics  *observability.SimCollector
	listener StateListener
	mu       sync.Mutex
}

// NewGameService creates a new game service instance
func NewGameService(sessions SessionManager, configs ConfigManager, opts ...Option) GameService {
	s := &gameServiceImpl{
		sessions: sessions,
		configs:  configs,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// getConfigID returns the config_id for a given config name, used for consistent API responses
func (s *gameServiceImpl) getConfigID(configName string) string {
	availableConfigs, err := s.configs.ListConfigs()
	if err == nil {
		for _, cfg := range availableConfigs {
			if cfg.Name == configName {
				return cfg.ConfigID
			}
		}
	}
	if configName == "" {
		return "default"
	}
	return configName
}

func (s *gameServiceImpl) info(sess *Session) *SessionInfo {
	configID := sess.ConfigID
	if configID == "" {
		configID = s.getConfigID(sess.Config.Name)
	}
	return &SessionInfo{
		ID:             sess.ID,
		ConfigName:     configID,
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessedAt,
		State:          sess.World.State(),
		Config:         sess.Config,
	}
}

// lookup resolves a session and marks it accessed. Callers hold s.mu.
func (s *gameServiceImpl) lookup(sessionID string) (*Session, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("session %q: %w", sessionID, err)
	}
	s.sessions.UpdateLastAccessed(sess.ID)
	return sess, nil
}

// CreateSession creates a new game session
func (s *gameServiceImpl) CreateSession(ctx context.Context, configName string) (info *SessionInfo, err error) {
	ctx, span := observability.StartSpan(ctx, "service.CreateSession", attribute.String("config", configName))
	defer func() { observability.EndSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	var config *engine.WorldConfig
	configID := configName
	if configName != "" {
		config, err = s.configs.LoadConfig(configName)
		if err != nil {
			if errors.Is(err, ErrConfigNotFound) {
				availableConfigs, listErr := s.configs.ListConfigs()
				if listErr == nil && len(availableConfigs) > 0 {
					var configIDs []string
					for _, cfg := range availableConfigs {
						configIDs = append(configIDs, cfg.ConfigID)
					}
					return nil, fmt.Errorf("config '%s' not found. Available configs: %v: %w", configName, configIDs, ErrInvalidRequest)
				}
				return nil, fmt.Errorf("config '%s' not found. Use /api/configs to list available configurations: %w", configName, ErrInvalidRequest)
			}
			return nil, fmt.Errorf("failed to load config %s: %w", configName, err)
		}
	} else {
		config = s.configs.GetDefault()
		configID = s.getConfigID(config.Name)
	}

	sess, err := s.sessions.Create("", configID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logging.FromContext(ctx, s.log).Info(ctx, "session created",
		logging.String("session", sess.ID),
		logging.String("config", configID),
	)
	s.publishTotals()
	return s.info(sess), nil
}

// GetSession retrieves session information
func (s *gameServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.info(sess), nil
}

// ListSessions returns all active sessions ordered by creation time
func (s *gameServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.sessions.List()
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, s.info(sess))
	}
	return result, nil
}

// DeleteSession removes a session
func (s *gameServiceImpl) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sessions.Delete(sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
		}
		return err
	}
	s.publishTotals()
	return nil
}

// command runs one world mutation under the service lock. fn reports the id
// of any created entity and whether the world accepted the command.
func (s *gameServiceImpl) command(ctx context.Context, name, sessionID, desc string, fn func(w *engine.World) (int, bool)) (result *CommandResult, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "service."+name,
		attribute.String("session", sessionID),
		attribute.String("command", desc),
	)
	defer func() {
		s.metrics.ObserveCommand(name, err, ErrCommandRejected, time.Since(start))
		observability.EndSpan(span, err)
	}()

	log := logging.FromContext(ctx, s.log).With(logging.String("session", sessionID))

	s.mu.Lock()
	sess, err := s.lookup(sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	id, ok := fn(sess.World)
	if !ok {
		s.mu.Unlock()
		log.Debug(ctx, "command rejected", logging.String("command", desc))
		return nil, fmt.Errorf("%s: %w", desc, ErrCommandRejected)
	}

	state := sess.World.State()
	if err := s.sessions.Save(sess.ID); err != nil {
		log.Warn(ctx, "failed to persist session", logging.Err(err))
	}
	s.publishTotals()
	s.mu.Unlock()

	log.Debug(ctx, "command applied", logging.String("command", desc), logging.Int("id", id))
	s.publish(sess.ID, state)

	return &CommandResult{
		Success: true,
		Message: desc,
		ID:      id,
		State:   state,
		Events: []GameEvent{{
			Type:      name,
			Message:   desc,
			Timestamp: time.Now(),
		}},
	}, nil
}

// PlaceStation puts a new station on the grid
func (s *gameServiceImpl) PlaceStation(ctx context.Context, sessionID string, req PlaceStationRequest) (*CommandResult, error) {
	if !req.Color.Valid() {
		return nil, fmt.Errorf("unknown line colour %q: %w", req.Color, ErrInvalidRequest)
	}
	desc := fmt.Sprintf("place %s station at (%d,%d)", req.Color, req.X, req.Y)
	return s.command(ctx, "place_station", sessionID, desc, func(w *engine.World) (int, bool) {
		id, ok := w.PlaceStation(req.X, req.Y, req.Color, req.Name)
		return int(id), ok
	})
}

// RemoveStation deletes a station, its tunnels and relocates its trains
func (s *gameServiceImpl) RemoveStation(ctx context.Context, sessionID string, id engine.StationID) (*CommandResult, error) {
	return s.command(ctx, "remove_station", sessionID, fmt.Sprintf("remove station %d", id), func(w *engine.World) (int, bool) {
		return 0, w.RemoveStation(id)
	})
}

// MoveStation moves a station and recomputes its tunnels
func (s *gameServiceImpl) MoveStation(ctx context.Context, sessionID string, id engine.StationID, x, y int) (*CommandResult, error) {
	desc := fmt.Sprintf("move station %d to (%d,%d)", id, x, y)
	return s.command(ctx, "move_station", sessionID, desc, func(w *engine.World) (int, bool) {
		return 0, w.MoveStation(id, x, y)
	})
}

// RenameStation changes a station name and its label
func (s *gameServiceImpl) RenameStation(ctx context.Context, sessionID string, id engine.StationID, name string) (*CommandResult, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("station name is required: %w", ErrInvalidRequest)
	}
	return s.command(ctx, "rename_station", sessionID, fmt.Sprintf("rename station %d to %q", id, name), func(w *engine.World) (int, bool) {
		return 0, w.RenameStation(id, name)
	})
}

// SetStationType requests a guarded station type change
func (s *gameServiceImpl) SetStationType(ctx context.Context, sessionID string, id engine.StationID, t engine.StationType) (*CommandResult, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown station type %q: %w", t, ErrInvalidRequest)
	}
	return s.command(ctx, "set_station_type", sessionID, fmt.Sprintf("set station %d type to %s", id, t), func(w *engine.World) (int, bool) {
		return 0, w.SetStationType(id, t)
	})
}

// RepairStation repairs a worn station
func (s *gameServiceImpl) RepairStation(ctx context.Context, sessionID string, id engine.StationID) (*CommandResult, error) {
	return s.command(ctx, "repair_station", sessionID, fmt.Sprintf("repair station %d", id), func(w *engine.World) (int, bool) {
		return 0, w.RepairStation(id)
	})
}

// StartConstruction moves a planned station into building
func (s *gameServiceImpl) StartConstruction(ctx context.Context, sessionID string, id engine.StationID) (*CommandResult, error) {
	return s.command(ctx, "start_construction", sessionID, fmt.Sprintf("start construction of station %d", id), func(w *engine.World) (int, bool) {
		return 0, w.StartConstruction(id)
	})
}

// DemolishStation starts demolishing a station
func (s *gameServiceImpl) DemolishStation(ctx context.Context, sessionID string, id engine.StationID) (*CommandResult, error) {
	return s.command(ctx, "demolish_station", sessionID, fmt.Sprintf("demolish station %d", id), func(w *engine.World) (int, bool) {
		return 0, w.DemolishStation(id)
	})
}

// CreateTunnel connects two stations with a tunnel
func (s *gameServiceImpl) CreateTunnel(ctx context.Context, sessionID string, req CreateTunnelRequest) (*CommandResult, error) {
	if req.Type != "" && !req.Type.Valid() {
		return nil, fmt.Errorf("unknown tunnel type %q: %w", req.Type, ErrInvalidRequest)
	}
	desc := fmt.Sprintf("create tunnel from station %d to station %d", req.Start, req.End)
	return s.command(ctx, "create_tunnel", sessionID, desc, func(w *engine.World) (int, bool) {
		id, ok := w.CreateTunnel(req.Start, req.End, req.Type)
		return int(id), ok
	})
}

// RemoveTunnel deletes a tunnel and snaps its trains to a station
func (s *gameServiceImpl) RemoveTunnel(ctx context.Context, sessionID string, id engine.TunnelID) (*CommandResult, error) {
	return s.command(ctx, "remove_tunnel", sessionID, fmt.Sprintf("remove tunnel %d", id), func(w *engine.World) (int, bool) {
		return 0, w.RemoveTunnel(id)
	})
}

// MoveTunnelControlPoint places the tunnel bend at (x, y)
func (s *gameServiceImpl) MoveTunnelControlPoint(ctx context.Context, sessionID string, id engine.TunnelID, x, y int) (*CommandResult, error) {
	desc := fmt.Sprintf("move control point of tunnel %d to (%d,%d)", id, x, y)
	return s.command(ctx, "move_control_point", sessionID, desc, func(w *engine.World) (int, bool) {
		return 0, w.MoveTunnelControlPoint(id, x, y)
	})
}

// ClearTunnelControlPoint returns a tunnel to its automatic bend
func (s *gameServiceImpl) ClearTunnelControlPoint(ctx context.Context, sessionID string, id engine.TunnelID) (*CommandResult, error) {
	return s.command(ctx, "clear_control_point", sessionID, fmt.Sprintf("clear control point of tunnel %d", id), func(w *engine.World) (int, bool) {
		return 0, w.ClearTunnelControlPoint(id)
	})
}

// AddTrain parks a new train at a station
func (s *gameServiceImpl) AddTrain(ctx context.Context, sessionID string, stationID engine.StationID, stock string) (*CommandResult, error) {
	desc := fmt.Sprintf("add train at station %d", stationID)
	if stock != "" {
		desc = fmt.Sprintf("add %s train at station %d", stock, stationID)
	}
	return s.command(ctx, "add_train", sessionID, desc, func(w *engine.World) (int, bool) {
		id, ok := w.AddTrain(stationID, stock)
		return int(id), ok
	})
}

// RemoveTrain deletes a train
func (s *gameServiceImpl) RemoveTrain(ctx context.Context, sessionID string, id engine.TrainID) (*CommandResult, error) {
	return s.command(ctx, "remove_train", sessionID, fmt.Sprintf("remove train %d", id), func(w *engine.World) (int, bool) {
		return 0, w.RemoveTrain(id)
	})
}

// GetWorldState returns the current state of a session's world
func (s *gameServiceImpl) GetWorldState(ctx context.Context, sessionID string) (*engine.WorldState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.World.State(), nil
}

// Advance steps one session by real, regardless of the simulation loop
func (s *gameServiceImpl) Advance(ctx context.Context, sessionID string, real time.Duration) (state *engine.WorldState, err error) {
	ctx, span := observability.StartSpan(ctx, "service.Advance",
		attribute.String("session", sessionID),
		attribute.Int64("real_ms", real.Milliseconds()),
	)
	defer func() { observability.EndSpan(span, err) }()

	if real <= 0 {
		return nil, fmt.Errorf("advance duration must be positive: %w", ErrInvalidRequest)
	}

	s.mu.Lock()
	sess, err := s.lookup(sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	sess.World.Step(real)
	state = sess.World.State()
	if err := s.sessions.Save(sess.ID); err != nil {
		logging.FromContext(ctx, s.log).Warn(ctx, "failed to persist session", logging.String("session", sess.ID), logging.Err(err))
	}
	s.publishTotals()
	s.mu.Unlock()

	s.publish(sess.ID, state)
	return state, nil
}

// SetClock pauses, resumes or rescales a session clock
func (s *gameServiceImpl) SetClock(ctx context.Context, sessionID string, req ClockRequest) (*engine.WorldState, error) {
	if req.TimeScale != nil && *req.TimeScale <= 0 {
		return nil, fmt.Errorf("time scale must be positive: %w", ErrInvalidRequest)
	}

	s.mu.Lock()
	sess, err := s.lookup(sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if req.Paused != nil {
		if *req.Paused {
			sess.Clock.Pause()
		} else {
			sess.Clock.Resume()
		}
	}
	if req.TimeScale != nil {
		sess.Clock.SetTimeScale(*req.TimeScale)
	}
	state := sess.World.State()
	s.mu.Unlock()

	s.publish(sess.ID, state)
	return state, nil
}

// TickAll advances every live session by real. Paused sessions are skipped.
func (s *gameServiceImpl) TickAll(ctx context.Context, real time.Duration) {
	start := time.Now()
	type pending struct {
		id    string
		state *engine.WorldState
	}
	var updates []pending
	paused := 0

	s.mu.Lock()
	for _, sess := range s.sessions.List() {
		if sess.Clock.IsPaused() {
			paused++
			continue
		}
		sess.World.Step(real)
		if s.listener != nil && s.listener.HasSubscribers(sess.ID) {
			updates = append(updates, pending{id: sess.ID, state: sess.World.State()})
		}
	}
	s.publishTotals()
	s.mu.Unlock()

	s.metrics.ObserveTick(time.Since(start), paused)
	for _, u := range updates {
		s.publish(u.id, u.state)
	}
}

// publishTotals refreshes aggregate gauges. Callers hold s.mu.
func (s *gameServiceImpl) publishTotals() {
	if s.metrics == nil {
		return
	}
	var totals observability.WorldTotals
	for _, sess := range s.sessions.List() {
		stats := sess.World.Stats()
		totals.Sessions++
		totals.Stations += stats.Stations
		totals.Tunnels += stats.Tunnels
		totals.Trains += stats.Trains
		totals.Revenue += stats.TotalRevenue
		totals.Upkeep += stats.TotalUpkeep
	}
	s.metrics.SetWorldTotals(totals)
}

func (s *gameServiceImpl) publish(sessionID string, state *engine.WorldState) {
	if s.listener == nil || state == nil {
		return
	}
	s.listener.PublishState(sessionID, state)
}

// ListConfigs returns available world configurations
func (s *gameServiceImpl) ListConfigs(ctx context.Context) ([]*ConfigInfo, error) {
	return s.configs.ListConfigs()
}

// LoadConfig loads a specific world configuration
func (s *gameServiceImpl) LoadConfig(ctx context.Context, configName string) (*engine.WorldConfig, error) {
	return s.configs.LoadConfig(configName)
}

// SaveConfig saves a world configuration to disk
func (s *gameServiceImpl) SaveConfig(ctx context.Context, configName string, config *engine.WorldConfig) error {
	return s.configs.SaveConfig(configName, config)
}
