package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// GameMode decides how newly placed stations start out.
type GameMode string

const (
	// ModeSandbox places stations as regular, immediately operational.
	ModeSandbox GameMode = "sandbox"
	// ModeConstruction places stations as planned; they must be built first.
	ModeConstruction GameMode = "construction"
)

// Validation bounds
const (
	MinGridSize = 5
	MaxGridSize = 200
)

// Rules holds every world-tunable constant of the simulation. Durations are
// game-clock milliseconds.
//
// Rules read from a JSON or YAML document start from DefaultRules, so an
// omitted key takes its default and an explicit 0 is kept. Rules built in
// code have no such marker and ApplyDefaults treats their zero fields as
// unset.
type Rules struct {
	MaxLifetimeMillis        int64   `json:"max_lifetime_ms" yaml:"max_lifetime_ms"`
	AbandonedThresholdMillis int64   `json:"abandoned_threshold_ms" yaml:"abandoned_threshold_ms"`
	RepairThresholdMillis    int64   `json:"repair_threshold_ms" yaml:"repair_threshold_ms"`
	RepairWear               float64 `json:"repair_wear" yaml:"repair_wear"`
	BaseUpkeep               float64 `json:"base_upkeep" yaml:"base_upkeep"`
	UpkeepIntervalMillis     int64   `json:"upkeep_interval_ms" yaml:"upkeep_interval_ms"`
	DwellMillis              float64 `json:"dwell_ms" yaml:"dwell_ms"`
	DwellRetryMillis         float64 `json:"dwell_retry_ms" yaml:"dwell_retry_ms"`
	RevenueBase              float64 `json:"revenue_base" yaml:"revenue_base"`
	TransferBonus            float64 `json:"transfer_bonus" yaml:"transfer_bonus"`
	TerminalBonus            float64 `json:"terminal_bonus" yaml:"terminal_bonus"`
	BuildDurationMillis      int64   `json:"build_duration_ms" yaml:"build_duration_ms"`
	DemolitionDurationMillis int64   `json:"demolition_duration_ms" yaml:"demolition_duration_ms"`
	StationCost              float64 `json:"station_cost" yaml:"station_cost"`
	TunnelCellCost           float64 `json:"tunnel_cell_cost" yaml:"tunnel_cell_cost"`
	RepairCost               float64 `json:"repair_cost" yaml:"repair_cost"`

	decoded bool // read from a document; zeros are explicit
}

// UnmarshalJSON decodes rules over the defaults
func (r *Rules) UnmarshalJSON(data []byte) error {
	type plain Rules
	p := plain(DefaultRules())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Rules(p)
	r.decoded = true
	return nil
}

// DefaultRules returns the stock tuning
func DefaultRules() Rules {
	return Rules{
		MaxLifetimeMillis:        1_200_000,
		AbandonedThresholdMillis: 300_000,
		RepairThresholdMillis:    120_000,
		RepairWear:               0.2,
		BaseUpkeep:               10,
		UpkeepIntervalMillis:     10_000,
		DwellMillis:              3_000,
		DwellRetryMillis:         500,
		RevenueBase:              10,
		TransferBonus:            5,
		TerminalBonus:            3,
		BuildDurationMillis:      15_000,
		DemolitionDurationMillis: 5_000,
		StationCost:              50,
		TunnelCellCost:           5,
		RepairCost:               20,
	}
}

// WorldConfig describes a world: its size, terrain, lines, rolling stock and rules.
type WorldConfig struct {
	Name            string              `json:"name" yaml:"name"`
	Description     string              `json:"description" yaml:"description"`
	Width           int                 `json:"width" yaml:"width"`
	Height          int                 `json:"height" yaml:"height"`
	Mode            GameMode            `json:"mode" yaml:"mode"`
	Layout          []string            `json:"layout,omitempty" yaml:"layout,omitempty"`
	Legend          map[string]TileSpec `json:"legend,omitempty" yaml:"legend,omitempty"`
	Lines           []LineColor         `json:"lines,omitempty" yaml:"lines,omitempty"`
	RollingStock    []RollingStock      `json:"rolling_stock,omitempty" yaml:"rolling_stock,omitempty"`
	StartingBalance float64             `json:"starting_balance" yaml:"starting_balance"`
	Seed            int64               `json:"seed,omitempty" yaml:"seed,omitempty"`
	Rules           Rules               `json:"rules" yaml:"rules"`
}

// ApplyDefaults fills zero-valued fields with their defaults. Zero rules are
// only filled for Rules built in code; see Rules.
func (c *WorldConfig) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeSandbox
	}
	if len(c.Lines) == 0 {
		c.Lines = append([]LineColor(nil), AllLineColors...)
	}
	if len(c.RollingStock) == 0 {
		c.RollingStock = []RollingStock{{Name: "standard", Speed: 2}, {Name: "express", Speed: 4}}
	}
	merged := DefaultLegend()
	for k, v := range c.Legend {
		merged[k] = v
	}
	c.Legend = merged

	r := &c.Rules
	if r.decoded {
		return
	}
	def := DefaultRules()
	if r.MaxLifetimeMillis == 0 {
		r.MaxLifetimeMillis = def.MaxLifetimeMillis
	}
	if r.AbandonedThresholdMillis == 0 {
		r.AbandonedThresholdMillis = def.AbandonedThresholdMillis
	}
	if r.RepairThresholdMillis == 0 {
		r.RepairThresholdMillis = def.RepairThresholdMillis
	}
	if r.RepairWear == 0 {
		r.RepairWear = def.RepairWear
	}
	if r.BaseUpkeep == 0 {
		r.BaseUpkeep = def.BaseUpkeep
	}
	if r.UpkeepIntervalMillis == 0 {
		r.UpkeepIntervalMillis = def.UpkeepIntervalMillis
	}
	if r.DwellMillis == 0 {
		r.DwellMillis = def.DwellMillis
	}
	if r.DwellRetryMillis == 0 {
		r.DwellRetryMillis = def.DwellRetryMillis
	}
	if r.RevenueBase == 0 {
		r.RevenueBase = def.RevenueBase
	}
	if r.TransferBonus == 0 {
		r.TransferBonus = def.TransferBonus
	}
	if r.TerminalBonus == 0 {
		r.TerminalBonus = def.TerminalBonus
	}
	if r.BuildDurationMillis == 0 {
		r.BuildDurationMillis = def.BuildDurationMillis
	}
	if r.DemolitionDurationMillis == 0 {
		r.DemolitionDurationMillis = def.DemolitionDurationMillis
	}
	if r.StationCost == 0 {
		r.StationCost = def.StationCost
	}
	if r.TunnelCellCost == 0 {
		r.TunnelCellCost = def.TunnelCellCost
	}
	if r.RepairCost == 0 {
		r.RepairCost = def.RepairCost
	}
}

// Clone returns a deep copy of the configuration.
func (c *WorldConfig) Clone() *WorldConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Layout = slices.Clone(c.Layout)
	cp.Legend = maps.Clone(c.Legend)
	cp.Lines = slices.Clone(c.Lines)
	cp.RollingStock = slices.Clone(c.RollingStock)
	return &cp
}

// Stock looks up a rolling-stock class by name
func (c *WorldConfig) Stock(name string) (RollingStock, bool) {
	for _, rs := range c.RollingStock {
		if strings.EqualFold(rs.Name, name) {
			return rs, true
		}
	}
	return RollingStock{}, false
}

// HasLine reports whether the colour is enabled in this world
func (c *WorldConfig) HasLine(color LineColor) bool {
	for _, l := range c.Lines {
		if l == color {
			return true
		}
	}
	return false
}

// ValidateWorldConfig validates a world configuration for correctness
func ValidateWorldConfig(config *WorldConfig) error {
	if config == nil {
		return fmt.Errorf("config validation: config is nil")
	}
	if config.Name == "" {
		return fmt.Errorf("config validation: name is required")
	}
	if config.Description == "" {
		return fmt.Errorf("config validation: description is required")
	}

	if config.Width < MinGridSize || config.Width > MaxGridSize {
		return fmt.Errorf("config validation: width must be between %d and %d, got %d", MinGridSize, MaxGridSize, config.Width)
	}
	if config.Height < MinGridSize || config.Height > MaxGridSize {
		return fmt.Errorf("config validation: height must be between %d and %d, got %d", MinGridSize, MaxGridSize, config.Height)
	}

	switch config.Mode {
	case "", ModeSandbox, ModeConstruction:
	default:
		return fmt.Errorf("config validation: mode must be %q or %q, got %q", ModeSandbox, ModeConstruction, config.Mode)
	}

	if len(config.Layout) > 0 {
		if len(config.Layout) != config.Height {
			return fmt.Errorf("config validation: layout must have %d rows to match height, got %d",
				config.Height, len(config.Layout))
		}
		legend := DefaultLegend()
		for k, v := range config.Legend {
			legend[k] = v
		}
		for i, row := range config.Layout {
			if len(row) != config.Width {
				return fmt.Errorf("config validation: row %d must have %d characters to match width, got %d",
					i+1, config.Width, len(row))
			}
			for j, char := range row {
				if _, ok := legend[string(char)]; !ok {
					return fmt.Errorf("config validation: invalid character '%c' at row %d, col %d", char, i+1, j+1)
				}
			}
		}
	}

	for key, spec := range config.Legend {
		if len(key) != 1 {
			return fmt.Errorf("config validation: legend key %q must be a single character", key)
		}
		if spec.Perm < 0 {
			return fmt.Errorf("config validation: legend[%q].perm must not be negative", key)
		}
	}

	for _, line := range config.Lines {
		if !line.Valid() {
			return fmt.Errorf("config validation: unknown line colour %q", line)
		}
	}

	seen := make(map[string]bool)
	for _, rs := range config.RollingStock {
		if rs.Name == "" {
			return fmt.Errorf("config validation: rolling stock name is required")
		}
		key := strings.ToLower(rs.Name)
		if seen[key] {
			return fmt.Errorf("config validation: duplicate rolling stock %q", rs.Name)
		}
		seen[key] = true
		if rs.Speed <= 0 {
			return fmt.Errorf("config validation: rolling stock %q must have a positive speed", rs.Name)
		}
	}

	r := config.Rules
	if r.RepairWear < 0 || r.RepairWear >= 1 {
		return fmt.Errorf("config validation: rules.repair_wear must be in [0,1), got %v", r.RepairWear)
	}
	if r.BaseUpkeep < 0 {
		return fmt.Errorf("config validation: rules.base_upkeep must not be negative")
	}
	for name, v := range map[string]int64{
		"max_lifetime_ms":        r.MaxLifetimeMillis,
		"abandoned_threshold_ms": r.AbandonedThresholdMillis,
		"repair_threshold_ms":    r.RepairThresholdMillis,
		"upkeep_interval_ms":     r.UpkeepIntervalMillis,
		"build_duration_ms":      r.BuildDurationMillis,
		"demolition_duration_ms": r.DemolitionDurationMillis,
	} {
		if v < 0 {
			return fmt.Errorf("config validation: rules.%s must not be negative, got %d", name, v)
		}
	}
	if r.DwellMillis < 0 || r.DwellRetryMillis < 0 {
		return fmt.Errorf("config validation: rules.dwell_ms and rules.dwell_retry_ms must not be negative")
	}

	return nil
}

// DecodeWorldConfig parses a config document. ext selects the format: ".yaml"
// and ".yml" are YAML, anything else is JSON.
func DecodeWorldConfig(data []byte, ext string) (*WorldConfig, error) {
	var config WorldConfig
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		// Decoding over the defaults keeps an explicit 0 apart from an omitted key.
		config.Rules = DefaultRules()
		config.Rules.decoded = true
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}
	return &config, nil
}

// LoadWorldConfig loads, validates and defaults a world configuration file
func LoadWorldConfig(filename string) (*WorldConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	config, err := DecodeWorldConfig(data, filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", filename, err)
	}

	if err := ValidateWorldConfig(config); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	return config, nil
}

// DefaultWorldConfig returns a small sandbox world with a river across it.
func DefaultWorldConfig() *WorldConfig {
	config := &WorldConfig{
		Name:            "default",
		Description:     "Default sandbox world",
		Width:           20,
		Height:          12,
		Mode:            ModeSandbox,
		StartingBalance: 1000,
		Layout: []string{
			"....................",
			"....................",
			"......SSS...........",
			"....................",
			"..........WW........",
			"...........WW.......",
			"............WW......",
			".............WW.....",
			"....RR........WW....",
			"....RR.........W....",
			"....................",
			"....................",
		},
	}
	config.ApplyDefaults()
	return config
}
