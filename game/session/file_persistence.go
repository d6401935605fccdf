package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wricardo/metro-sim/game/engine"
	"github.com/wricardo/metro-sim/game/service"
	"github.com/wricardo/metro-sim/internal/logging"
)

const sessionExt = ".json"

// FilePersistence stores one JSON snapshot per session in a directory
type FilePersistence struct {
	dir     string
	configs service.ConfigManager
	log     logging.Logger
}

// NewFilePersistence creates dir if needed. configs resolves config ids for
// new files and fills in the config of files saved without one; it may be nil.
func NewFilePersistence(dir string, configs service.ConfigManager, log logging.Logger) (*FilePersistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	if log == nil {
		log = logging.Noop()
	}
	return &FilePersistence{dir: dir, configs: configs, log: log}, nil
}

// path maps a session id to its file; ids are stored lowercase
func (fp *FilePersistence) path(id string) string {
	return filepath.Join(fp.dir, strings.ToLower(id)+sessionExt)
}

// Save snapshots the session world and replaces its file atomically
func (fp *FilePersistence) Save(sess *service.Session) error {
	if sess == nil {
		return fmt.Errorf("session cannot be nil")
	}

	configID := sess.ConfigID
	if configID == "" {
		configID = fp.configIDFor(sess.Config.Name)
	}

	data, err := json.MarshalIndent(PersistedSessionData{
		ID:             sess.ID,
		ConfigName:     configID,
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessedAt,
		World:          sess.World.Snapshot(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}
	return writeAtomic(fp.path(sess.ID), data)
}

// writeAtomic writes next to target and renames over it, so a crash never
// leaves a half-written snapshot behind.
func writeAtomic(target string, data []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Load reads a session file and restores its world with the clock where it
// was saved.
func (fp *FilePersistence) Load(id string) (*service.Session, error) {
	raw, err := os.ReadFile(fp.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var saved PersistedSessionData
	if err := json.Unmarshal(raw, &saved); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	snap := saved.World
	if snap == nil {
		return nil, fmt.Errorf("session %s: file has no world snapshot", id)
	}
	if snap.Config == nil {
		// Written before configs were embedded: use the named config.
		if snap.Config, err = fp.namedConfig(saved.ConfigName); err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
	}

	world, err := engine.RestoreWorld(snap, engine.WithLogger(fp.log.With(logging.String("session", saved.ID))))
	if err != nil {
		return nil, fmt.Errorf("failed to restore world: %w", err)
	}
	clock, ok := world.Clock().(*engine.GameClock)
	if !ok {
		return nil, fmt.Errorf("restored world has no game clock")
	}

	return &service.Session{
		ID:             saved.ID,
		ConfigID:       saved.ConfigName,
		World:          world,
		Clock:          clock,
		Config:         world.Config(),
		CreatedAt:      saved.CreatedAt,
		LastAccessedAt: saved.LastAccessedAt,
	}, nil
}

func (fp *FilePersistence) namedConfig(name string) (*engine.WorldConfig, error) {
	if fp.configs == nil {
		return nil, fmt.Errorf("file has no config and no config manager is set")
	}
	cfg, err := fp.configs.LoadConfig(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load config '%s': %w", name, err)
	}
	return cfg.Clone(), nil
}

// Delete removes a session file
func (fp *FilePersistence) Delete(id string) error {
	err := os.Remove(fp.path(id))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrSessionNotFound
	case err != nil:
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// ListAll returns the ids of every session file; leftover .tmp files are ignored
func (fp *FilePersistence) ListAll() ([]string, error) {
	entries, err := os.ReadDir(fp.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if id, ok := strings.CutSuffix(e.Name(), sessionExt); ok && !e.IsDir() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Exists reports whether a file is stored for id
func (fp *FilePersistence) Exists(id string) bool {
	_, err := os.Stat(fp.path(id))
	return err == nil
}

// configIDFor maps a config display name back to its file id. Unknown names
// are assumed to be ids already.
func (fp *FilePersistence) configIDFor(displayName string) string {
	if fp.configs == nil {
		return displayName
	}
	infos, err := fp.configs.ListConfigs()
	if err != nil {
		fp.log.Warn(context.Background(), "failed to list configs", logging.Err(err))
		return displayName
	}
	for _, info := range infos {
		if info.Name == displayName {
			return info.ConfigID
		}
	}
	return displayName
}
