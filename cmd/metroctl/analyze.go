package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wricardo/metro-sim/game/engine"
	"github.com/wricardo/metro-sim/game/session"
)

// SessionReport summarises one saved session.
type SessionReport struct {
	ID          string                     `json:"id"`
	Config      string                     `json:"config"`
	GameMillis  int64                      `json:"game_millis"`
	Balance     float64                    `json:"balance"`
	Revenue     float64                    `json:"revenue"`
	Upkeep      float64                    `json:"upkeep"`
	Stations    int                        `json:"stations"`
	ByType      map[engine.StationType]int `json:"by_type"`
	ByLine      map[engine.LineColor]int   `json:"by_line"`
	Tunnels     int                        `json:"tunnels"`
	Trains      int                        `json:"trains"`
	Networks    int                        `json:"networks"`
	Isolated    int                        `json:"isolated"`
	LongestPath int                        `json:"longest_tunnel"`
}

// sessionFiles returns the snapshot files in dir, restricted to ids when given
func sessionFiles(dir string, ids []string) ([]string, error) {
	if len(ids) > 0 {
		files := make([]string, 0, len(ids))
		for _, id := range ids {
			files = append(files, filepath.Join(dir, strings.ToLower(id)+".json"))
		}
		return files, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// analyzeSession restores the world from a snapshot file and measures it
func analyzeSession(path string) (*SessionReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var saved session.PersistedSessionData
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	world, err := engine.RestoreWorld(saved.World)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", saved.ID, err)
	}

	stats := world.Stats()
	report := &SessionReport{
		ID:         saved.ID,
		Config:     saved.ConfigName,
		GameMillis: world.Clock().NowMillis(),
		Balance:    stats.Balance,
		Revenue:    stats.TotalRevenue,
		Upkeep:     stats.TotalUpkeep,
		Stations:   stats.Stations,
		ByType:     stats.ByType,
		ByLine:     make(map[engine.LineColor]int),
		Tunnels:    stats.Tunnels,
		Trains:     stats.Trains,
	}
	for _, st := range world.Stations() {
		report.ByLine[st.Color]++
		if st.ConnectionCount() == 0 {
			report.Isolated++
		}
	}
	for _, t := range world.Tunnels() {
		if l := t.Length(); l > report.LongestPath {
			report.LongestPath = l
		}
	}
	report.Networks = countNetworks(world.Stations())
	return report, nil
}

// countNetworks counts connected groups of two or more stations
func countNetworks(stations []*engine.Station) int {
	seen := make(map[engine.StationID]bool, len(stations))
	byID := make(map[engine.StationID]*engine.Station, len(stations))
	for _, st := range stations {
		byID[st.ID] = st
	}

	networks := 0
	for _, st := range stations {
		if seen[st.ID] || st.ConnectionCount() == 0 {
			continue
		}
		networks++
		stack := []engine.StationID{st.ID}
		seen[st.ID] = true
		for len(stack) > 0 {
			cur := byID[stack[len(stack)-1]]
			stack = stack[:len(stack)-1]
			if cur == nil {
				continue
			}
			for _, next := range cur.Connections {
				if !seen[next] {
					seen[next] = true
					stack = append(stack, next)
				}
			}
		}
	}
	return networks
}

// runAnalyze prints a report per saved session, as text or JSON
func runAnalyze(w io.Writer, dir string, ids []string, jsonOut bool) error {
	files, err := sessionFiles(dir, ids)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no sessions in %s", dir)
	}

	reports := make([]*SessionReport, 0, len(files))
	for _, f := range files {
		r, err := analyzeSession(f)
		if err != nil {
			return err
		}
		reports = append(reports, r)
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	for _, r := range reports {
		fmt.Fprintf(w, "=== Session %s (%s) ===\n", r.ID, r.Config)
		fmt.Fprintf(w, "Game time: %.1fs\n", float64(r.GameMillis)/1000)
		fmt.Fprintf(w, "Balance: %.0f (revenue %.0f, upkeep %.0f)\n", r.Balance, r.Revenue, r.Upkeep)
		fmt.Fprintf(w, "Stations: %d, tunnels: %d, trains: %d\n", r.Stations, r.Tunnels, r.Trains)
		fmt.Fprintf(w, "Networks: %d, isolated stations: %d, longest tunnel: %d cells\n", r.Networks, r.Isolated, r.LongestPath)
		for _, color := range engine.AllLineColors {
			if n := r.ByLine[color]; n > 0 {
				fmt.Fprintf(w, "  line %s: %d\n", color, n)
			}
		}
		types := make([]string, 0, len(r.ByType))
		for t := range r.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(w, "  %s: %d\n", t, r.ByType[engine.StationType(t)])
		}
		fmt.Fprintln(w)
	}
	return nil
}
