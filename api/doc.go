// Package api provides the HTTP REST API for the metro simulation.
//
// Endpoints:
//
// Session Management:
//   - POST /api/sessions - Create new session ({"config_id": "delta"})
//   - GET /api/sessions - List sessions (sort=created|accessed, order=asc|desc, limit=N)
//   - GET /api/sessions/{id} - Get specific session
//   - DELETE /api/sessions/{id} - Delete session
//   - GET /api/sessions/{id}/state - Current world state
//
// Clock:
//   - POST /api/sessions/{id}/advance - Run the simulation for {"ms": N} of real time
//   - POST /api/sessions/{id}/clock - {"paused": true, "time_scale": 2}
//
// Stations:
//   - POST /api/sessions/{id}/stations - {"x": 3, "y": 4, "color": "red", "name": "Central"}
//   - DELETE /api/sessions/{id}/stations/{sid}
//   - POST /api/sessions/{id}/stations/{sid}/move - {"x": 5, "y": 4}
//   - POST /api/sessions/{id}/stations/{sid}/rename - {"name": "Harbour"}
//   - POST /api/sessions/{id}/stations/{sid}/type - {"type": "depot"}
//   - POST /api/sessions/{id}/stations/{sid}/repair
//   - POST /api/sessions/{id}/stations/{sid}/construct
//   - POST /api/sessions/{id}/stations/{sid}/demolish
//
// Tunnels and Trains:
//   - POST /api/sessions/{id}/tunnels - {"start": 1, "end": 2, "type": "..."}
//   - DELETE /api/sessions/{id}/tunnels/{tid}
//   - POST /api/sessions/{id}/tunnels/{tid}/control-point - {"x": 5, "y": 1}
//   - DELETE /api/sessions/{id}/tunnels/{tid}/control-point
//   - POST /api/sessions/{id}/trains - {"station_id": 1, "stock": "express"}
//   - DELETE /api/sessions/{id}/trains/{trid}
//
// Configuration:
//   - GET /api/configs - List available configurations
//   - GET /api/configs/{name} - Get a configuration
//   - POST /api/configs - Save a configuration (config_id=..., format=yaml)
//
// Other:
//   - GET /ws?session={id} - WebSocket state updates
//   - GET /healthz - Liveness
//   - GET /metrics - Prometheus metrics, when a handler is configured
//
// Commands answer with a service.CommandResult carrying the new world state.
// Every response echoes an X-Request-ID header.
//
// Usage:
//
//	srv := api.NewServer(gameService, hub,
//		api.WithLogger(log),
//		api.WithMetricsHandler(metrics.Handler()),
//	)
//	http.ListenAndServe(":8080", srv)
//
// Error Handling:
//
// Errors are returned as JSON:
//
//	{
//	  "error": "error message",
//	  "code": 409
//	}
//
// Unknown sessions and configs map to 404, rejected commands to 409 and
// malformed input to 400.
package api
