package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wricardo/metro-sim/game/engine"
)

// ValidationResult captures the outcome of validating a single file. Warnings
// never make a config invalid.
type ValidationResult struct {
	File     string
	Valid    bool
	Errors   []string
	Warnings []string
	Config   *engine.WorldConfig
}

// configFiles lists the JSON and YAML files of dir in name order
func configFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no config files in %s", dir)
	}
	return files, nil
}

// validateConfig loads a config through the engine loader and adds
// playability warnings on top of its structural checks.
func validateConfig(path string) ValidationResult {
	result := ValidationResult{File: filepath.Base(path), Valid: true}

	cfg, err := engine.LoadWorldConfig(path)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Config = cfg

	stats := terrainStats(cfg)
	total := cfg.Width * cfg.Height
	if stats.land == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "no buildable land cells")
		return result
	}
	if water := float64(stats.water) / float64(total); water > 0.6 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%.0f%% of the map is water", water*100))
	}

	rules := cfg.Rules
	if cfg.StartingBalance < 2*rules.StationCost {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("starting balance %.0f does not cover two stations at %.0f", cfg.StartingBalance, rules.StationCost))
	}
	if rules.RepairThresholdMillis >= rules.MaxLifetimeMillis {
		result.Warnings = append(result.Warnings, "repair threshold is not below the station lifetime, repairs are impossible")
	}
	if cfg.Mode == engine.ModeConstruction && rules.BuildDurationMillis >= rules.MaxLifetimeMillis {
		result.Warnings = append(result.Warnings, "build duration exceeds the station lifetime")
	}
	return result
}

type layoutStats struct {
	land, water int
}

// terrainStats counts cells through the same tile map the engine builds
func terrainStats(cfg *engine.WorldConfig) layoutStats {
	var s layoutStats
	tiles := engine.NewTileMap(cfg.Width, cfg.Height, cfg.Layout, cfg.Legend)
	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			if tiles.IsWater(x, y) {
				s.water++
			} else {
				s.land++
			}
		}
	}
	return s
}

// runValidate prints one block per file and fails when any file is invalid
func runValidate(w io.Writer, files []string) error {
	invalid := 0
	for _, f := range files {
		r := validateConfig(f)
		if r.Valid {
			fmt.Fprintf(w, "✅ %s: %s (%dx%d, %s, %d lines)\n",
				r.File, r.Config.Name, r.Config.Width, r.Config.Height, r.Config.Mode, len(r.Config.Lines))
		} else {
			invalid++
			fmt.Fprintf(w, "❌ %s\n", r.File)
			for _, e := range r.Errors {
				fmt.Fprintf(w, "   error: %s\n", e)
			}
		}
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "   warning: %s\n", warn)
		}
	}

	fmt.Fprintf(w, "\n%d of %d configs valid\n", len(files)-invalid, len(files))
	if invalid > 0 {
		return fmt.Errorf("%d invalid config(s)", invalid)
	}
	return nil
}
