// Package mcp exposes the metro simulation to AI agents over the Model
// Context Protocol.
//
// The Client is a thin proxy: every tool call becomes one or two REST calls
// against a running server, so agents and browsers share the same sessions.
// Results are rendered as plain text, including an ASCII map of the world.
//
// Tools:
//   - create_session, list_sessions, get_session
//   - world_state, advance, set_clock
//   - place_station, remove_station, move_station, rename_station, set_station_type
//   - station_action (repair, construct, demolish)
//   - create_tunnel, remove_tunnel, set_control_point
//   - add_train, remove_train
//   - list_configs, describe_cell, game_instructions
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080", mcp.WithLogger(log))
//	server.ServeStdio(client.GetMCPServer())
//
// Command rejections come back from the API as 409 and surface as tool
// errors carrying the API message.
package mcp
