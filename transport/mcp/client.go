package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/metro-sim/game/engine"
	"github.com/wricardo/metro-sim/game/service"
	"github.com/wricardo/metro-sim/internal/logging"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
	log        logging.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.initMCPServer()
	return c
}

func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Metro Simulation",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Metro Simulation - MCP Interface

This is a thin client that proxies all requests to the REST API server.

OBJECTIVE:
Build a metro network on a grid map. Place stations, connect them with
tunnels and run trains between them. Trains earn fares at operational
stations; stations and tunnels cost upkeep. Keep the balance positive.

AVAILABLE TOOLS:
- create_session / list_sessions / get_session: manage sessions
- world_state: map, stations, tunnels, trains and economy
- advance: run the simulation for some milliseconds
- set_clock: pause, resume or change the time scale
- place_station, remove_station, move_station, rename_station, set_station_type
- station_action: repair, construct or demolish a station
- create_tunnel, remove_tunnel, set_control_point
- add_train, remove_train
- list_configs: available maps
- describe_cell: terrain and occupant of one cell
- game_instructions: the full rules

Tunnels can only join two stations that lie on a straight or diagonal line.`),
	)

	c.registerTools()
}

func sessionProp() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Session ID",
	}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": desc,
	}
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": desc,
	}
}

func (c *Client) registerTools() {
	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create a new simulation session with optional config selection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"config_id": stringProp("Config to use, e.g. classic or delta (optional)"),
			},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all active sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get details of a specific session",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"session_id": sessionProp()},
			Required:   []string{"session_id"},
		},
	}, c.handleGetSession)

	// World
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "world_state",
		Description: "Get the current world: map, stations, tunnels, trains and economy",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"session_id": sessionProp()},
			Required:   []string{"session_id"},
		},
	}, c.handleWorldState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "advance",
		Description: "Run the simulation for the given real milliseconds (scaled by the session time scale)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"ms":         intProp("Real milliseconds to simulate (1-600000)"),
			},
			Required: []string{"session_id", "ms"},
		},
	}, c.handleAdvance)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_clock",
		Description: "Pause or resume the session clock, or change its time scale",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"paused": map[string]interface{}{
					"type":        "boolean",
					"description": "Pause (true) or resume (false)",
				},
				"time_scale": map[string]interface{}{
					"type":        "number",
					"description": "Game milliseconds per real millisecond",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleSetClock)

	// Stations
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "place_station",
		Description: "Place a station on an empty land cell",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"x":          intProp("Column (0-based)"),
				"y":          intProp("Row (0-based)"),
				"color":      stringProp("Line colour: red, blue, green, yellow, purple, orange, brown or grey"),
				"name":       stringProp("Station name (optional)"),
			},
			Required: []string{"session_id", "x", "y", "color"},
		},
	}, c.handlePlaceStation)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "remove_station",
		Description: "Remove a station together with its tunnels",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"station_id": intProp("Station ID"),
			},
			Required: []string{"session_id", "station_id"},
		},
	}, c.handleRemoveStation)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "move_station",
		Description: "Move a station; its tunnels are rerouted and must stay on straight or diagonal lines",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"station_id": intProp("Station ID"),
				"x":          intProp("New column"),
				"y":          intProp("New row"),
			},
			Required: []string{"session_id", "station_id", "x", "y"},
		},
	}, c.handleMoveStation)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "rename_station",
		Description: "Rename a station",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"station_id": intProp("Station ID"),
				"name":       stringProp("New name"),
			},
			Required: []string{"session_id", "station_id", "name"},
		},
	}, c.handleRenameStation)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_station_type",
		Description: "Set a station type explicitly; explicit types are kept when the network changes",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"station_id": intProp("Station ID"),
				"type":       stringProp("Station type, e.g. regular, terminal, transit, transfer, depot, closed"),
			},
			Required: []string{"session_id", "station_id", "type"},
		},
	}, c.handleSetStationType)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "station_action",
		Description: "Repair a worn station, start construction of a planned one, or demolish one",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"station_id": intProp("Station ID"),
				"action": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"repair", "construct", "demolish"},
					"description": "Lifecycle action",
				},
			},
			Required: []string{"session_id", "station_id", "action"},
		},
	}, c.handleStationAction)

	// Tunnels
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_tunnel",
		Description: "Connect two stations with a tunnel. They must lie on a straight or diagonal line",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"start":      intProp("Start station ID"),
				"end":        intProp("End station ID"),
				"type":       stringProp("Tunnel type (optional, derived from the stations)"),
			},
			Required: []string{"session_id", "start", "end"},
		},
	}, c.handleCreateTunnel)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "remove_tunnel",
		Description: "Remove a tunnel; trains inside are moved to a station",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"tunnel_id":  intProp("Tunnel ID"),
			},
			Required: []string{"session_id", "tunnel_id"},
		},
	}, c.handleRemoveTunnel)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "set_control_point",
		Description: "Place the bend point of a tunnel, or clear it to let the bend be chosen automatically",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"tunnel_id":  intProp("Tunnel ID"),
				"x":          intProp("Bend column"),
				"y":          intProp("Bend row"),
				"clear": map[string]interface{}{
					"type":        "boolean",
					"description": "Clear the control point instead of setting it",
				},
			},
			Required: []string{"session_id", "tunnel_id"},
		},
	}, c.handleSetControlPoint)

	// Trains
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "add_train",
		Description: "Add a train parked at an operational station",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"station_id": intProp("Station ID"),
				"stock":      stringProp("Rolling stock name (optional)"),
			},
			Required: []string{"session_id", "station_id"},
		},
	}, c.handleAddTrain)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "remove_train",
		Description: "Remove a train",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"train_id":   intProp("Train ID"),
			},
			Required: []string{"session_id", "train_id"},
		},
	}, c.handleRemoveTrain)

	// Info
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_configs",
		Description: "List available world configurations",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListConfigs)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "describe_cell",
		Description: "Describe the terrain and occupant of a single grid cell",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProp(),
				"x":          intProp("Column (0-based)"),
				"y":          intProp("Row (0-based)"),
			},
			Required: []string{"session_id", "x", "y"},
		},
	}, c.handleDescribeCell)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_instructions",
		Description: "Get the rules of the simulation",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleGameInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	ctx, requestID := logging.EnsureRequestID(ctx)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn(ctx, "api call failed", logging.String("method", method), logging.String("path", path), logging.Err(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// intArg reads a whole number argument. JSON numbers arrive as float64.
func intArg(args map[string]interface{}, key string) (int, error) {
	switch v := args[key].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%s must be a whole number", key)
		}
		return int(v), nil
	case int:
		return v, nil
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return 0, fmt.Errorf("%s must be a number", key)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("%s is required", key)
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

func sessionPath(sessionID string, parts ...interface{}) string {
	p := "/api/sessions/" + url.PathEscape(sessionID)
	for _, part := range parts {
		p += fmt.Sprintf("/%v", part)
	}
	return p
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	configID, _ := args["config_id"].(string)

	body := map[string]string{}
	if configID != "" {
		body["config_id"] = configID
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "POST", "/api/sessions", body, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Created session: %s\nConfig: %s\n", session.ID, session.ConfigName)
	if session.State != nil {
		result += "\n" + formatWorldState(session.State, session.Config)
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count    int                   `json:"count"`
		Sessions []service.SessionInfo `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", "/api/sessions", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active Sessions (%d):\n\n", response.Count)
	for _, s := range response.Sessions {
		fmt.Fprintf(&b, "- %s (Config: %s, Created: %s)\n", s.ID, s.ConfigName, s.CreatedAt.Format("15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	var session service.SessionInfo
	if err := c.apiCall(ctx, "GET", sessionPath(sessionID), nil, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatSessionInfo(&session)), nil
}

func (c *Client) handleWorldState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, _ := arguments(request)["session_id"].(string)

	// The session carries the config, which holds the terrain layout.
	var session service.SessionInfo
	if err := c.apiCall(ctx, "GET", sessionPath(sessionID), nil, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if session.State == nil {
		return mcp.NewToolResultError("session has no world state"), nil
	}
	return mcp.NewToolResultText(formatWorldState(session.State, session.Config)), nil
}

func (c *Client) handleAdvance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	ms, err := intArg(args, "ms")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var state engine.WorldState
	if err := c.apiCall(ctx, "POST", sessionPath(sessionID, "advance"), map[string]int{"ms": ms}, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Advanced %dms.\n\n%s", ms, formatSummary(&state))), nil
}

func (c *Client) handleSetClock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)

	var req service.ClockRequest
	if paused, ok := args["paused"].(bool); ok {
		req.Paused = &paused
	}
	if scale, ok := args["time_scale"].(float64); ok {
		req.TimeScale = &scale
	}
	if req.Paused == nil && req.TimeScale == nil {
		return mcp.NewToolResultError("set paused or time_scale"), nil
	}

	var state engine.WorldState
	if err := c.apiCall(ctx, "POST", sessionPath(sessionID, "clock"), req, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatSummary(&state)), nil
}

// command posts body to path and renders the CommandResult
func (c *Client) command(ctx context.Context, method, path string, body interface{}) (*mcp.CallToolResult, error) {
	var result service.CommandResult
	if err := c.apiCall(ctx, method, path, body, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatCommandResult(&result)), nil
}

func (c *Client) handlePlaceStation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	x, err := intArg(args, "x")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	y, err := intArg(args, "y")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	color, _ := args["color"].(string)
	name, _ := args["name"].(string)

	return c.command(ctx, "POST", sessionPath(sessionID, "stations"), service.PlaceStationRequest{
		X:     x,
		Y:     y,
		Color: engine.LineColor(strings.ToLower(color)),
		Name:  name,
	})
}

func (c *Client) handleRemoveStation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	id, err := intArg(args, "station_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.command(ctx, "DELETE", sessionPath(sessionID, "stations", id), nil)
}

func (c *Client) handleMoveStation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	id, err := intArg(args, "station_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	x, err := intArg(args, "x")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	y, err := intArg(args, "y")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.command(ctx, "POST", sessionPath(sessionID, "stations", id, "move"), map[string]int{"x": x, "y": y})
}

func (c *Client) handleRenameStation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	id, err := intArg(args, "station_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, _ := args["name"].(string)
	return c.command(ctx, "POST", sessionPath(sessionID, "stations", id, "rename"), map[string]string{"name": name})
}

func (c *Client) handleSetStationType(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	id, err := intArg(args, "station_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, _ := args["type"].(string)
	return c.command(ctx, "POST", sessionPath(sessionID, "stations", id, "type"), map[string]string{"type": typ})
}

func (c *Client) handleStationAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	id, err := intArg(args, "station_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, _ := args["action"].(string)
	switch action {
	case "repair", "construct", "demolish":
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q (use repair, construct or demolish)", action)), nil
	}
	return c.command(ctx, "POST", sessionPath(sessionID, "stations", id, action), nil)
}

func (c *Client) handleCreateTunnel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	start, err := intArg(args, "start")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	end, err := intArg(args, "end")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, _ := args["type"].(string)

	return c.command(ctx, "POST", sessionPath(sessionID, "tunnels"), service.CreateTunnelRequest{
		Start: engine.StationID(start),
		End:   engine.StationID(end),
		Type:  engine.TunnelType(typ),
	})
}

func (c *Client) handleRemoveTunnel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	id, err := intArg(args, "tunnel_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.command(ctx, "DELETE", sessionPath(sessionID, "tunnels", id), nil)
}

func (c *Client) handleSetControlPoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	id, err := intArg(args, "tunnel_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path := sessionPath(sessionID, "tunnels", id, "control-point")

	if clear, _ := args["clear"].(bool); clear {
		return c.command(ctx, "DELETE", path, nil)
	}
	x, err := intArg(args, "x")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	y, err := intArg(args, "y")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.command(ctx, "POST", path, map[string]int{"x": x, "y": y})
}

func (c *Client) handleAddTrain(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	id, err := intArg(args, "station_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stock, _ := args["stock"].(string)
	body := map[string]interface{}{"station_id": id}
	if stock != "" {
		body["stock"] = stock
	}
	return c.command(ctx, "POST", sessionPath(sessionID, "trains"), body)
}

func (c *Client) handleRemoveTrain(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	id, err := intArg(args, "train_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.command(ctx, "DELETE", sessionPath(sessionID, "trains", id), nil)
}

func (c *Client) handleListConfigs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var configs []service.ConfigInfo
	if err := c.apiCall(ctx, "GET", "/api/configs", nil, &configs); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Available Configurations (%d):\n\n", len(configs))
	for _, cfg := range configs {
		fmt.Fprintf(&b, "- %s: %s (%dx%d, %s)\n  %s\n", cfg.ConfigID, cfg.Name, cfg.Width, cfg.Height, cfg.Mode, cfg.Description)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleDescribeCell(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	sessionID, _ := args["session_id"].(string)
	x, err := intArg(args, "x")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	y, err := intArg(args, "y")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "GET", sessionPath(sessionID), nil, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if session.State == nil {
		return mcp.NewToolResultError("session has no world state"), nil
	}
	return mcp.NewToolResultText(describeCell(session.State, session.Config, x, y)), nil
}

func (c *Client) handleGameInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(instructions), nil
}

const instructions = `METRO SIMULATION RULES

MAP
- The world is a grid. Legend: '.' ground, 'W' water, 'S' sand, 'R' rock, 'C' clay.
- Stations cannot be placed on water. Soft soil (sand, clay) wears stations faster.

STATIONS
- Every station belongs to a line colour and occupies one cell.
- A station connects to at most one neighbour per compass direction (8 directions).
- Its type follows from its neighbourhood unless set explicitly: next to another
  line it is a transfer, otherwise 0 connections: regular, 1: terminal, more: transit.
- In construction worlds new stations start as planned. Use station_action construct,
  then advance the clock until the build finishes. Trains cannot stop at planned stations.
- Stations wear over time. Worn stations can be repaired once; demolished stations close
  their tunnels.

TUNNELS
- A tunnel joins two stations that lie on a horizontal, vertical or diagonal line.
- The path bends at most once. Move the bend with set_control_point.
- Tunnels cannot cross stations or other tunnels.

TRAINS
- Trains are added at an operational station and dwell there before departing.
- At each station a train picks the next tunnel, preferring to continue straight ahead,
  and reverses at terminals.
- A train earns a fare when it stops at an operational station.

ECONOMY
- Building costs money; stations and tunnels cost upkeep every game minute.
- The balance may go negative.

CLOCK
- Nothing moves until you call advance (or the server ticks the session).
- set_clock pauses the world or changes its time scale.`

// Formatting helpers

func formatSessionInfo(session *service.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nConfig: %s\nCreated: %s\nLast Accessed: %s\n",
		session.ID, session.ConfigName,
		session.CreatedAt.Format(time.RFC3339), session.LastAccessedAt.Format(time.RFC3339))
	if session.State != nil {
		b.WriteString("\n")
		b.WriteString(formatSummary(session.State))
	}
	return b.String()
}

func formatSummary(state *engine.WorldState) string {
	var b strings.Builder
	status := "running"
	if state.Paused {
		status = "paused"
	}
	fmt.Fprintf(&b, "Clock: %.1fs (%s, x%g)\n", float64(state.NowMillis)/1000, status, state.TimeScale)
	fmt.Fprintf(&b, "Balance: %.2f (revenue %.2f, upkeep %.2f)\n",
		state.Stats.Balance, state.Stats.TotalRevenue, state.Stats.TotalUpkeep)
	fmt.Fprintf(&b, "Stations: %d  Tunnels: %d  Trains: %d\n",
		state.Stats.Stations, state.Stats.Tunnels, state.Stats.Trains)
	return b.String()
}

func formatCommandResult(result *service.CommandResult) string {
	var b strings.Builder
	if result.Message != "" {
		b.WriteString(result.Message)
		b.WriteString("\n")
	}
	if result.ID != 0 {
		fmt.Fprintf(&b, "ID: %d\n", result.ID)
	}
	for _, ev := range result.Events {
		fmt.Fprintf(&b, "- [%s] %s\n", ev.Type, ev.Message)
	}
	if result.State != nil {
		b.WriteString("\n")
		b.WriteString(formatSummary(result.State))
	}
	return b.String()
}

// renderMap draws the terrain with stations ('@'), tunnels ('#') and trains
// ('*') on top. Trains inside tunnels are drawn at their rounded position.
func renderMap(state *engine.WorldState, cfg *engine.WorldConfig) []string {
	rows := make([][]byte, state.Height)
	for y := range rows {
		row := bytes.Repeat([]byte{'.'}, state.Width)
		if cfg != nil && y < len(cfg.Layout) {
			copy(row, cfg.Layout[y])
		}
		rows[y] = row
	}
	set := func(x, y int, ch byte) {
		if y >= 0 && y < len(rows) && x >= 0 && x < len(rows[y]) {
			rows[y][x] = ch
		}
	}
	for _, t := range state.Tunnels {
		for _, p := range t.Path {
			set(p.X, p.Y, '#')
		}
	}
	for _, s := range state.Stations {
		set(s.Pos.X, s.Pos.Y, '@')
	}
	for _, tr := range state.Trains {
		set(int(tr.X+0.5), int(tr.Y+0.5), '*')
	}

	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = string(r)
	}
	return out
}

func formatWorldState(state *engine.WorldState, cfg *engine.WorldConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "World: %s (%dx%d)\n", state.ConfigName, state.Width, state.Height)
	b.WriteString(formatSummary(state))

	b.WriteString("\nMap (@ station, # tunnel, * train):\n")
	for _, row := range renderMap(state, cfg) {
		b.WriteString(row)
		b.WriteString("\n")
	}

	if len(state.Stations) > 0 {
		b.WriteString("\nStations:\n")
		for _, s := range state.Stations {
			fmt.Fprintf(&b, "- #%d %s (%d,%d) %s %s, %d connections, wear %.0f%%",
				s.ID, s.Name, s.Pos.X, s.Pos.Y, s.Color, s.Type, s.ConnectionCount(), s.Wear*100)
			if s.Construction > 0 && s.Construction < 1 {
				fmt.Fprintf(&b, ", building %.0f%%", s.Construction*100)
			}
			if s.Demolition > 0 {
				fmt.Fprintf(&b, ", demolishing %.0f%%", s.Demolition*100)
			}
			if s.CanRepair {
				b.WriteString(", repairable")
			}
			b.WriteString("\n")
		}
	}

	if len(state.Tunnels) > 0 {
		b.WriteString("\nTunnels:\n")
		for _, t := range state.Tunnels {
			fmt.Fprintf(&b, "- #%d %d -> %d %s, length %d, bend (%d,%d) %s\n",
				t.ID, t.Start, t.End, t.Type, t.Length(), t.Bend.X, t.Bend.Y, t.BendKind)
		}
	}

	if len(state.Trains) > 0 {
		b.WriteString("\nTrains:\n")
		for _, tr := range state.Trains {
			where := fmt.Sprintf("at station %d", tr.StationID)
			if tr.TunnelID != 0 {
				where = fmt.Sprintf("in tunnel %d (%.0f%%)", tr.TunnelID, tr.Progress*100)
			}
			fmt.Fprintf(&b, "- #%d %s %s %s, heading %s, earned %.2f\n",
				tr.ID, tr.Stock, tr.State, where, tr.Heading, tr.Earned)
		}
	}
	return b.String()
}

func describeCell(state *engine.WorldState, cfg *engine.WorldConfig, x, y int) string {
	if x < 0 || y < 0 || x >= state.Width || y >= state.Height {
		return fmt.Sprintf("Cell (%d,%d) is outside the %dx%d map", x, y, state.Width, state.Height)
	}

	char := "."
	if cfg != nil && y < len(cfg.Layout) && x < len(cfg.Layout[y]) {
		char = string(cfg.Layout[y][x])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Cell (%d,%d)\nTerrain: '%s'", x, y, char)
	if cfg != nil {
		if spec, ok := cfg.Legend[char]; ok {
			fmt.Fprintf(&b, " %s", spec.Name)
			if spec.Water {
				b.WriteString(" (water, no stations)")
			}
		}
	}
	b.WriteString("\n")

	for _, s := range state.Stations {
		if s.Pos.X == x && s.Pos.Y == y {
			fmt.Fprintf(&b, "Station: #%d %s (%s, %s)\n", s.ID, s.Name, s.Color, s.Type)
			dirs := make([]string, 0, len(s.Connections))
			for dir, other := range s.Connections {
				dirs = append(dirs, fmt.Sprintf("%s->%d", dir, other))
			}
			sort.Strings(dirs)
			if len(dirs) > 0 {
				fmt.Fprintf(&b, "Connections: %s\n", strings.Join(dirs, ", "))
			}
			return b.String()
		}
	}
	for _, t := range state.Tunnels {
		for _, p := range t.Path {
			if p.X == x && p.Y == y {
				fmt.Fprintf(&b, "Tunnel: #%d between stations %d and %d\n", t.ID, t.Start, t.End)
				return b.String()
			}
		}
	}
	b.WriteString("Empty\n")
	return b.String()
}
