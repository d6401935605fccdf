package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `name: Test Town
description: A small test world
width: 6
height: 5
starting_balance: 500
layout:
  - "......"
  - "..WW.."
  - "......"
  - "SS..RR"
  - "......"
`

const soggyYAML = `name: Lagoon
description: Mostly water
width: 5
height: 5
starting_balance: 60
layout:
  - "WWWWW"
  - "WWWWW"
  - "WW.WW"
  - "WWWWW"
  - "WWWWW"
`

const floodedYAML = `name: Sunk
description: Nothing to build on
width: 5
height: 5
layout:
  - "WWWWW"
  - "WWWWW"
  - "WWWWW"
  - "WWWWW"
  - "WWWWW"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestValidateConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name         string
		file         string
		content      string
		wantValid    bool
		wantWarnings []string
		wantError    string
	}{
		{name: "valid", file: "town.yaml", content: validYAML, wantValid: true},
		{
			name:         "warnings keep config valid",
			file:         "lagoon.yaml",
			content:      soggyYAML,
			wantValid:    true,
			wantWarnings: []string{"of the map is water", "does not cover two stations"},
		},
		{name: "no land", file: "sunk.yaml", content: floodedYAML, wantError: "no buildable land"},
		{name: "missing name", file: "bad.json", content: `{"description":"x","width":5,"height":5}`, wantError: "name is required"},
		{name: "unknown layout character", file: "odd.yaml", content: strings.Replace(validYAML, "SS..RR", "SS..QQ", 1), wantError: "invalid character"},
		{name: "malformed", file: "broken.json", content: `{"name":`, wantError: "parse json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			r := validateConfig(path)

			if r.Valid != tt.wantValid {
				t.Fatalf("Expected valid=%v, got %v (errors %v)", tt.wantValid, r.Valid, r.Errors)
			}
			if tt.wantError != "" && (len(r.Errors) == 0 || !strings.Contains(r.Errors[0], tt.wantError)) {
				t.Errorf("Expected error containing %q, got %v", tt.wantError, r.Errors)
			}
			for _, want := range tt.wantWarnings {
				found := false
				for _, w := range r.Warnings {
					if strings.Contains(w, want) {
						found = true
					}
				}
				if !found {
					t.Errorf("Expected warning containing %q, got %v", want, r.Warnings)
				}
			}
			if tt.wantValid && len(tt.wantWarnings) == 0 && len(r.Warnings) != 0 {
				t.Errorf("Expected no warnings, got %v", r.Warnings)
			}
		})
	}
}

func TestTerrainStats(t *testing.T) {
	path := writeFile(t, t.TempDir(), "town.yaml", validYAML)
	r := validateConfig(path)
	if !r.Valid {
		t.Fatalf("Expected valid config, got %v", r.Errors)
	}
	stats := terrainStats(r.Config)
	if stats.water != 2 || stats.land != 28 {
		t.Errorf("Expected 2 water and 28 land cells, got %d and %d", stats.water, stats.land)
	}
}

func TestConfigFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.yaml", validYAML)
	writeFile(t, dir, "a.json", "{}")
	writeFile(t, dir, "notes.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "nested.json"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := configFiles(dir)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "a.json" || filepath.Base(files[1]) != "b.yaml" {
		t.Errorf("Expected [a.json b.yaml], got %v", files)
	}

	if _, err := configFiles(t.TempDir()); err == nil {
		t.Error("Expected error for empty directory")
	}
	if _, err := configFiles(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "town.yaml", validYAML)

	t.Run("directory scan", func(t *testing.T) {
		var out bytes.Buffer
		app := newApp()
		app.Writer = &out
		if err := app.Run(context.Background(), []string{"metroctl", "validate", "--dir", dir}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !strings.Contains(out.String(), "✅ town.yaml: Test Town (6x5, sandbox") {
			t.Errorf("Expected success line, got %s", out.String())
		}
		if !strings.Contains(out.String(), "1 of 1 configs valid") {
			t.Errorf("Expected summary, got %s", out.String())
		}
	})

	t.Run("invalid file fails", func(t *testing.T) {
		bad := writeFile(t, t.TempDir(), "sunk.yaml", floodedYAML)
		var out bytes.Buffer
		app := newApp()
		app.Writer = &out
		err := app.Run(context.Background(), []string{"metroctl", "validate", good, bad})
		if err == nil || !strings.Contains(err.Error(), "1 invalid") {
			t.Errorf("Expected invalid config error, got %v", err)
		}
		if !strings.Contains(out.String(), "❌ sunk.yaml") || !strings.Contains(out.String(), "1 of 2 configs valid") {
			t.Errorf("Unexpected output: %s", out.String())
		}
	})

	t.Run("environment directory", func(t *testing.T) {
		t.Setenv("CONFIG_DIR", dir)
		var out bytes.Buffer
		app := newApp()
		app.Writer = &out
		if err := app.Run(context.Background(), []string{"metroctl", "validate"}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !strings.Contains(out.String(), "town.yaml") {
			t.Errorf("Expected CONFIG_DIR to be scanned, got %s", out.String())
		}
	})
}
