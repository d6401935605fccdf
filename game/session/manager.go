package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wricardo/metro-sim/game/engine"
	"github.com/wricardo/metro-sim/game/service"
	"github.com/wricardo/metro-sim/internal/logging"
)

var (
	ErrSessionNotFound      = service.ErrSessionNotFound
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrInvalidSessionID     = errors.New("invalid session ID")
)

// maxIDAttempts bounds retries when a generated id collides.
const maxIDAttempts = 16

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger; worlds get a child logger per session
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// Manager keeps the live worlds, keyed by lowercased session id.
type Manager struct {
	mu          sync.RWMutex
	worlds      map[string]*service.Session
	persistence SessionPersistence
	log         logging.Logger
}

// NewManager creates a manager without persistence
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		worlds: make(map[string]*service.Session),
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewManagerWithPersistence creates a manager that writes every new session
// through p and falls back to it on lookups.
func NewManagerWithPersistence(p SessionPersistence, opts ...Option) *Manager {
	m := NewManager(opts...)
	m.persistence = p
	return m
}

func key(id string) string { return strings.ToLower(id) }

// Create starts a world for config under id, generating an id when empty.
// The session owns a private copy of config, so later edits to the config
// file never reach a running world.
func (m *Manager) Create(id string, configID string, config *engine.WorldConfig) (*service.Session, error) {
	if config == nil {
		return nil, fmt.Errorf("failed to create world: config is nil")
	}
	if strings.ContainsAny(id, `/\. `) {
		return nil, ErrInvalidSessionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		generated, err := m.freshID()
		if err != nil {
			return nil, err
		}
		id = generated
	} else if _, taken := m.worlds[key(id)]; taken {
		return nil, ErrSessionAlreadyExists
	}

	sess, err := m.startWorld(id, configID, config.Clone())
	if err != nil {
		return nil, err
	}
	m.worlds[key(id)] = sess

	if m.persistence != nil {
		if err := m.persistence.Save(sess); err != nil {
			// The session stays usable in memory.
			m.log.Warn(context.Background(), "failed to persist session",
				logging.String("session", id), logging.Err(err))
		}
	}
	m.log.Info(context.Background(), "session created",
		logging.String("session", id), logging.String("config", configID),
		logging.String("mode", string(config.Mode)))
	return sess, nil
}

// startWorld builds a world on a fresh game clock starting at zero.
func (m *Manager) startWorld(id, configID string, cfg *engine.WorldConfig) (*service.Session, error) {
	clock := engine.NewGameClock(0)
	world, err := engine.NewWorld(cfg,
		engine.WithClock(clock),
		engine.WithLogger(m.log.With(logging.String("session", id))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create world: %w", err)
	}

	now := time.Now()
	return &service.Session{
		ID:             id,
		ConfigID:       configID,
		World:          world,
		Clock:          clock,
		Config:         cfg,
		CreatedAt:      now,
		LastAccessedAt: now,
	}, nil
}

// freshID draws 4 hex characters until one is free. Caller holds mu.
func (m *Manager) freshID() (string, error) {
	buf := make([]byte, 2)
	for range maxIDAttempts {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate session id: %w", err)
		}
		id := hex.EncodeToString(buf)
		if _, taken := m.worlds[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate session id: %d collisions in a row", maxIDAttempts)
}

// Get returns the session for id, ignoring case. Sessions evicted from
// memory are restored from persistence on first access.
func (m *Manager) Get(id string) (*service.Session, error) {
	m.mu.RLock()
	sess, ok := m.worlds[key(id)]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	if m.persistence == nil || !m.persistence.Exists(id) {
		return nil, ErrSessionNotFound
	}
	restored, err := m.persistence.Load(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have restored it while the file was read.
	if existing, ok := m.worlds[key(id)]; ok {
		return existing, nil
	}
	m.worlds[key(id)] = restored
	m.log.Debug(context.Background(), "session restored", logging.String("session", restored.ID))
	return restored, nil
}

// List returns the live sessions, oldest first
func (m *Manager) List() []*service.Session {
	m.mu.RLock()
	out := make([]*service.Session, 0, len(m.worlds))
	for _, sess := range m.worlds {
		out = append(out, sess)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return key(out[i].ID) < key(out[j].ID)
	})
	return out
}

// Delete removes a session from memory and from persistence. A session that
// only exists on disk counts as found.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, live := m.worlds[key(id)]
	delete(m.worlds, key(id))

	onDisk := m.persistence != nil && m.persistence.Exists(id)
	if onDisk {
		if err := m.persistence.Delete(id); err != nil {
			return fmt.Errorf("failed to delete persisted session: %w", err)
		}
	}
	if !live && !onDisk {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteFromMemory evicts a session but keeps its file
func (m *Manager) DeleteFromMemory(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.worlds[key(id)]; !ok {
		return ErrSessionNotFound
	}
	delete(m.worlds, key(id))
	return nil
}

// UpdateLastAccessed marks a session as used now
func (m *Manager) UpdateLastAccessed(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.worlds[key(id)]
	if !ok {
		return ErrSessionNotFound
	}
	sess.LastAccessedAt = time.Now()
	return nil
}

// Save writes one session through persistence. It is a no-op without one.
func (m *Manager) Save(id string) error {
	if m.persistence == nil {
		return nil
	}

	m.mu.RLock()
	sess, ok := m.worlds[key(id)]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	return m.persistence.Save(sess)
}

// CleanupExpiredSessions evicts sessions idle for longer than maxAge.
// Persisted copies are kept and reload on the next access.
func (m *Manager) CleanupExpiredSessions(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, sess := range m.worlds {
		if sess.LastAccessedAt.Before(cutoff) {
			delete(m.worlds, k)
			removed++
		}
	}
	if removed > 0 {
		m.log.Info(context.Background(), "expired sessions removed", logging.Int("count", removed))
	}
	return removed
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.worlds)
}

// LoadPersistedSessions restores every saved session not already live. A
// file that fails to restore is logged and skipped.
func (m *Manager) LoadPersistedSessions() error {
	if m.persistence == nil {
		return nil
	}

	ids, err := m.persistence.ListAll()
	if err != nil {
		return fmt.Errorf("failed to list persisted sessions: %w", err)
	}

	ctx := context.Background()
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := 0
	for _, id := range ids {
		if _, live := m.worlds[key(id)]; live {
			continue
		}
		sess, err := m.persistence.Load(id)
		if err != nil {
			m.log.Warn(ctx, "failed to load persisted session", logging.String("session", id), logging.Err(err))
			continue
		}
		m.worlds[key(id)] = sess
		loaded++
	}

	if loaded > 0 {
		m.log.Info(ctx, "loaded persisted sessions", logging.Int("count", loaded), logging.Int("files", len(ids)))
	}
	return nil
}

// SaveAllSessions snapshots every live session. Callers must make sure no
// world is ticking or being commanded meanwhile.
func (m *Manager) SaveAllSessions() error {
	if m.persistence == nil {
		return nil
	}

	var failed []string
	for _, sess := range m.List() {
		if err := m.persistence.Save(sess); err != nil {
			m.log.Warn(context.Background(), "failed to save session", logging.String("session", sess.ID), logging.Err(err))
			failed = append(failed, sess.ID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to save %d sessions: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}
