// Package engine provides the core simulation of the metro network.
//
// The engine package implements:
//   - Station topology: up to two directional connections per station and
//     automatic type inference from the neighbourhood
//   - Tunnel path geometry: bend point selection and Bresenham rasterisation
//   - Train movement: path traversal, station dwell, next-tunnel selection,
//     occupancy avoidance and revenue
//   - Station lifecycle: construction, wear, repair, abandonment, demolition
//     and upkeep
//   - World configuration loading and validation
//   - Snapshots for persistence
//
// Core Types:
//
// World is an arena holding stations, tunnels and trains in id-indexed maps;
// every cross reference is an id resolved through it. The grid, the terrain
// and the game clock are collaborators behind the Grid, Terrain and Clock
// interfaces, so the simulation runs headless. WorldConfig carries the size,
// terrain layout and every tunable constant, loaded from JSON or YAML.
//
// Usage:
//
//	config, err := engine.LoadWorldConfig("configs/river.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	world, err := engine.NewWorld(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	a, _ := world.PlaceStation(2, 2, engine.Red, "Harbour")
//	b, _ := world.PlaceStation(8, 2, engine.Red, "Market")
//	world.CreateTunnel(a, b, "")
//	world.AddTrain(a, "standard")
//
//	world.Step(100 * time.Millisecond)
//	state := world.State()
//
// Commands report failure through their boolean result and never panic; a
// rejected command leaves the world unchanged.
//
// World is not safe for concurrent use. Callers run commands and ticks from
// one goroutine or behind a lock, never interleaved within a tick.
package engine
