// Package config loads and caches world configurations for the metro server.
//
// A world configuration is a JSON or YAML file in the config directory.
// Each one describes:
//   - The grid size and game mode (sandbox or construction)
//   - A terrain layout using legend characters ('.' land, 'W' water)
//   - The line colours and rolling-stock classes available to players
//   - Starting balance and the tunable economy and lifecycle rules
//
// Names are looked up without an extension first as .json, then .yaml,
// then .yml. "classic" is the default when it exists.
//
// Usage:
//
//	manager, err := config.NewManager("configs")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	world, err := manager.LoadConfig("delta")
//	configs, err := manager.ListConfigs()
//	err = manager.SaveConfig("island.yaml", world)
//
// Every file is checked with engine.ValidateWorldConfig before it is cached.
package config
