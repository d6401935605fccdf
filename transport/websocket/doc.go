// Package websocket pushes live world state to browser and tool clients.
//
// A Hub keeps the connected clients grouped by session. Clients subscribe
// with the session query parameter (/ws?session=ab12) and then only
// receive; commands go through the REST API.
//
// Message Protocol:
//
// Every frame is one JSON document:
//
//	{"session_id": "ab12", "event": "connected"}
//	{"session_id": "ab12", "event": "state_update", "state": {...}}
//
// state_update carries the full engine.WorldState after a command or a
// simulation tick. The Hub satisfies service.StateListener, so the game
// service only builds states for sessions somebody is watching.
//
// Usage:
//
//	hub := websocket.NewHub(websocket.WithLogger(log))
//	go hub.Run(ctx)
//
//	svc := service.NewGameService(sessions, configs, service.WithStateListener(hub))
//
// Publishing never blocks the simulation loop. A client that cannot keep up
// with its queue is disconnected.
package websocket
