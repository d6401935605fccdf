package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wricardo/metro-sim/game/engine"
	"github.com/wricardo/metro-sim/game/service"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigNotFound = service.ErrConfigNotFound
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrInvalidName    = errors.New("invalid configuration name")
)

// extensions lists the accepted config file types in lookup order.
var extensions = []string{".json", ".yaml", ".yml"}

// DefaultConfigName is loaded as the default when present
const DefaultConfigName = "classic"

// Manager handles world configuration loading and caching
type Manager struct {
	configDir     string
	defaultConfig *engine.WorldConfig
	configs       map[string]*engine.WorldConfig
	mu            sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configDir string) (*Manager, error) {
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("config directory does not exist: %s", configDir)
	}

	m := &Manager{
		configDir: configDir,
		configs:   make(map[string]*engine.WorldConfig),
	}

	if err := m.loadDefaultConfig(); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	return m, nil
}

// splitName strips a known extension and rejects names that would escape
// the config directory.
func splitName(name string) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	base := name
	known := false
	for _, e := range extensions {
		if ext == e {
			known = true
			base = strings.TrimSuffix(name, filepath.Ext(name))
		}
	}
	if !known {
		ext = ""
	}
	if base == "" || strings.ContainsAny(base, `/\`) || strings.Contains(base, "..") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, ext, nil
}

// LoadConfig loads a configuration by name. The name may carry a .json,
// .yaml or .yml extension; without one each is tried in that order.
func (m *Manager) LoadConfig(name string) (*engine.WorldConfig, error) {
	base, ext, err := splitName(name)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	if config, exists := m.configs[base]; exists {
		m.mu.RUnlock()
		return config, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if config, exists := m.configs[base]; exists {
		return config, nil
	}

	candidates := extensions
	if ext != "" {
		candidates = []string{ext}
	}

	var data []byte
	found := ""
	for _, e := range candidates {
		data, err = os.ReadFile(filepath.Join(m.configDir, base+e))
		if err == nil {
			found = e
			break
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if found == "" {
		return nil, ErrConfigNotFound
	}

	config, err := engine.DecodeWorldConfig(data, found)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := engine.ValidateWorldConfig(config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	config.ApplyDefaults()

	m.configs[base] = config
	return config, nil
}

// ListConfigs returns information about all available configurations.
// Invalid files are skipped.
func (m *Manager) ListConfigs() ([]*service.ConfigInfo, error) {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}

	configs := []*service.ConfigInfo{}
	seen := make(map[string]bool)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base, ext, err := splitName(entry.Name())
		if err != nil || ext == "" || seen[base] {
			continue
		}

		config, err := m.LoadConfig(base)
		if err != nil {
			continue
		}
		seen[base] = true

		configs = append(configs, &service.ConfigInfo{
			Filename:    entry.Name(),
			ConfigID:    base, // This is the identifier to use for session creation
			Name:        config.Name,
			Description: config.Description,
			Width:       config.Width,
			Height:      config.Height,
			Mode:        config.Mode,
		})
	}

	return configs, nil
}

// GetDefault returns the default configuration
func (m *Manager) GetDefault() *engine.WorldConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultConfig
}

// SetDefault sets the default configuration by name
func (m *Manager) SetDefault(name string) error {
	config, err := m.LoadConfig(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultConfig = config
	return nil
}

// RefreshCache drops every cached configuration and reloads the default
func (m *Manager) RefreshCache() error {
	m.mu.Lock()
	m.configs = make(map[string]*engine.WorldConfig)
	m.mu.Unlock()

	return m.loadDefaultConfig()
}

// ReloadConfig forces a configuration to be read from disk again
func (m *Manager) ReloadConfig(name string) error {
	base, _, err := splitName(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.configs, base)
	m.mu.Unlock()

	_, err = m.LoadConfig(name)
	return err
}

// ValidateConfig validates a configuration without saving it
func (m *Manager) ValidateConfig(config *engine.WorldConfig) error {
	if err := engine.ValidateWorldConfig(config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Count returns the number of cached configurations
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.configs)
}

// loadDefaultConfig picks classic, else the first valid file, else a
// built-in world.
func (m *Manager) loadDefaultConfig() error {
	config, err := m.LoadConfig(DefaultConfigName)
	if err != nil {
		configs, listErr := m.ListConfigs()
		if listErr != nil || len(configs) == 0 {
			config = engine.DefaultWorldConfig()
		} else if config, err = m.LoadConfig(configs[0].ConfigID); err != nil {
			config = engine.DefaultWorldConfig()
		}
	}

	m.mu.Lock()
	m.defaultConfig = config
	m.mu.Unlock()
	return nil
}

// SaveConfig validates and writes a configuration. A .yaml or .yml name is
// written as YAML, anything else as JSON.
func (m *Manager) SaveConfig(name string, config *engine.WorldConfig) error {
	base, ext, err := splitName(name)
	if err != nil {
		return err
	}
	if err := engine.ValidateWorldConfig(config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	config.ApplyDefaults()

	var data []byte
	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		ext = ".json"
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Drop files of the other formats so the name stays unambiguous.
	for _, e := range extensions {
		if e != ext {
			os.Remove(filepath.Join(m.configDir, base+e))
		}
	}

	if err := os.WriteFile(filepath.Join(m.configDir, base+ext), data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.mu.Lock()
	m.configs[base] = config
	m.mu.Unlock()

	return nil
}
