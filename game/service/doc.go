// Package service provides the business logic layer for the metro server.
//
// GameService is the single entry point for every command a client can
// issue: placing, moving and retiring stations, building tunnels, running
// trains, and controlling each session's clock. SessionManager and
// ConfigManager are the storage seams it is built on.
//
// Every command and every simulation tick runs under one service mutex, so
// a world only ever sees one writer and a tick never interleaves with a
// command. A command the world refuses comes back as ErrCommandRejected;
// unknown sessions as ErrSessionNotFound; malformed arguments as
// ErrInvalidRequest.
//
// Usage:
//
//	sessionMgr := session.NewManager()
//	configMgr, _ := config.NewManager("configs")
//	gameService := service.NewGameService(sessionMgr, configMgr,
//		service.WithLogger(log),
//		service.WithMetrics(metrics),
//		service.WithStateListener(hub),
//	)
//
//	info, err := gameService.CreateSession(ctx, "classic")
//	result, err := gameService.PlaceStation(ctx, info.ID, service.PlaceStationRequest{
//		X: 3, Y: 4, Color: engine.Red,
//	})
//
// The simulation loop calls TickAll on a timer. Sessions whose clock is
// paused are skipped.
package service
