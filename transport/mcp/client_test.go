package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wricardo/metro-sim/game/engine"
	"github.com/wricardo/metro-sim/game/service"
)

type recordedRequest struct {
	Method    string
	Path      string
	Body      map[string]interface{}
	RequestID string
}

// fakeAPI records requests and answers with canned JSON per "METHOD path"
type fakeAPI struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string]interface{}
	status    map[string]int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{
		responses: map[string]interface{}{},
		status:    map[string]int{},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, RequestID: r.Header.Get("X-Request-ID")}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			json.Unmarshal(data, &rec.Body)
		}

		f.mu.Lock()
		f.requests = append(f.requests, rec)
		key := r.Method + " " + r.URL.Path
		resp, status := f.responses[key], f.status[key]
		f.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if resp == nil {
			resp = map[string]interface{}{"success": true}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeAPI) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("Expected a request to the API")
	}
	return f.requests[len(f.requests)-1]
}

func callTool(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("Expected tool result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func sampleState() *engine.WorldState {
	return &engine.WorldState{
		ConfigName: "Classic",
		Width:      8,
		Height:     4,
		NowMillis:  4500,
		TimeScale:  1,
		Stations: []engine.StationView{
			{Station: &engine.Station{ID: 1, Name: "West", Pos: engine.Position{X: 1, Y: 1}, Color: engine.Blue, Type: engine.StationTerminal}},
			{Station: &engine.Station{ID: 2, Name: "East", Pos: engine.Position{X: 5, Y: 1}, Color: engine.Blue, Type: engine.StationTerminal}},
		},
		Tunnels: []*engine.Tunnel{{
			ID: 1, Start: 1, End: 2,
			Path: []engine.Position{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 3, Y: 1}, {X: 4, Y: 1}, {X: 5, Y: 1}},
		}},
		Trains: []engine.TrainView{{
			Train: &engine.Train{ID: 1, Stock: "standard", TunnelID: 1, Progress: 0.5},
			State: engine.TrainOnTunnel, X: 3, Y: 1,
		}},
		Stats: engine.WorldStats{Stations: 2, Tunnels: 1, Trains: 1, Balance: 812.5},
	}
}

func sampleConfig() *engine.WorldConfig {
	cfg := &engine.WorldConfig{
		Name:   "Classic",
		Width:  8,
		Height: 4,
		Layout: []string{
			"........",
			"........",
			"...WW...",
			"........",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080/"
	client := NewClient(baseURL)

	if client.baseURL != "http://localhost:8080" {
		t.Errorf("Expected trailing slash trimmed, got %s", client.baseURL)
	}
	if client.httpClient == nil {
		t.Error("Expected HTTP client to be initialized")
	}
	if client.GetMCPServer() == nil {
		t.Error("Expected MCP server to be initialized")
	}
}

func TestClient_apiCall(t *testing.T) {
	api, server := newFakeAPI(t)
	api.responses["GET /api/sessions/ab12"] = map[string]interface{}{"id": "ab12"}
	client := NewClient(server.URL)

	var response map[string]interface{}
	if err := client.apiCall(context.Background(), "GET", "/api/sessions/ab12", nil, &response); err != nil {
		t.Fatalf("apiCall failed: %v", err)
	}
	if response["id"] != "ab12" {
		t.Errorf("Expected id ab12, got %v", response["id"])
	}
	if api.last(t).RequestID == "" {
		t.Error("Expected a request id header")
	}
}

func TestClient_apiCall_Errors(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		client := NewClient("http://127.0.0.1:1")
		if err := client.apiCall(context.Background(), "GET", "/api", nil, nil); err == nil {
			t.Error("Expected error for unreachable server")
		}
	})

	t.Run("error body", func(t *testing.T) {
		api, server := newFakeAPI(t)
		api.responses["POST /api/sessions/ab12/stations"] = map[string]interface{}{"error": "cell occupied", "code": 409}
		api.status["POST /api/sessions/ab12/stations"] = http.StatusConflict
		client := NewClient(server.URL)

		err := client.apiCall(context.Background(), "POST", "/api/sessions/ab12/stations", map[string]int{"x": 1}, nil)
		if err == nil || err.Error() != "cell occupied" {
			t.Errorf("Expected 'cell occupied', got %v", err)
		}
	})

	t.Run("bare status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("Internal Server Error"))
		}))
		defer server.Close()

		err := NewClient(server.URL).apiCall(context.Background(), "GET", "/api", nil, nil)
		if err == nil || !strings.Contains(err.Error(), "500") {
			t.Errorf("Expected API error 500, got %v", err)
		}
	})
}

func TestIntArg(t *testing.T) {
	args := map[string]interface{}{"a": float64(3), "b": 2.5, "c": "7", "d": true}

	if n, err := intArg(args, "a"); err != nil || n != 3 {
		t.Errorf("Expected 3, got %d (%v)", n, err)
	}
	if _, err := intArg(args, "b"); err == nil {
		t.Error("Expected error for fractional number")
	}
	if n, err := intArg(args, "c"); err != nil || n != 7 {
		t.Errorf("Expected 7, got %d (%v)", n, err)
	}
	if _, err := intArg(args, "d"); err == nil {
		t.Error("Expected error for bool")
	}
	if _, err := intArg(args, "missing"); err == nil || !strings.Contains(err.Error(), "required") {
		t.Errorf("Expected required error, got %v", err)
	}
}

func TestToolRequests(t *testing.T) {
	tests := []struct {
		name       string
		handler    func(c *Client) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args       map[string]interface{}
		wantMethod string
		wantPath   string
		wantBody   map[string]interface{}
	}{
		{
			name:       "create session",
			handler:    func(c *Client) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return c.handleCreateSession },
			args:       map[string]interface{}{"config_id": "delta"},
			wantMethod: "POST", wantPath: "/api/sessions",
			wantBody: map[string]interface{}{"config_id": "delta"},
		},
		{
			name:       "place station",
			handler:    func(c *Client) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return c.handlePlaceStation },
			args:       map[string]interface{}{"session_id": "ab12", "x": float64(3), "y": float64(4), "color": "Red"},
			wantMethod: "POST", wantPath: "/api/sessions/ab12/stations",
			wantBody: map[string]interface{}{"x": float64(3), "y": float64(4), "color": "red"},
		},
		{
			name:       "remove station",
			handler:    func(c *Client) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return c.handleRemoveStation },
			args:       map[string]interface{}{"session_id": "ab12", "station_id": float64(2)},
			wantMethod: "DELETE", wantPath: "/api/sessions/ab12/stations/2",
		},
		{
			name:       "move station",
			handler:    func(c *Client) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return c.handleMoveStation },
			args:       map[string]interface{}{"session_id": "ab12", "station_id": float64(2), "x": float64(6), "y": float64(1)},
			wantMethod: "POST", wantPath: "/api/sessions/ab12/stations/2/move",
			wantBody: map[string]interface{}{"x": float64(6), "y": float64(1)},
		},
		{
			name:       "demolish",
			handler:    func(c *Client) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return c.handleStationAction },
			args:       map[string]interface{}{"session_id": "ab12", "station_id": float64(5), "action": "demolish"},
			wantMethod: "POST", wantPath: "/api/sessions/ab12/stations/5/demolish",
		},
		{
			name:       "create tunnel",
			handler:    func(c *Client) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return c.handleCreateTunnel },
			args:       map[string]interface{}{"session_id": "ab12", "start": float64(1), "end": float64(2)},
			wantMethod: "POST", wantPath: "/api/sessions/ab12/tunnels",
			wantBody: map[string]interface{}{"start": float64(1), "end": float64(2)},
		},
		{
			name:       "clear control point",
			handler:    func(c *Client) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return c.handleSetControlPoint },
			args:       map[string]interface{}{"session_id": "ab12", "tunnel_id": float64(1), "clear": true},
			wantMethod: "DELETE", wantPath: "/api/sessions/ab12/tunnels/1/control-point",
		},
		{
			name:       "add train",
			handler:    func(c *Client) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return c.handleAddTrain },
			args:       map[string]interface{}{"session_id": "ab12", "station_id": float64(1), "stock": "express"},
			wantMethod: "POST", wantPath: "/api/sessions/ab12/trains",
			wantBody: map[string]interface{}{"station_id": float64(1), "stock": "express"},
		},
		{
			name:       "advance",
			handler:    func(c *Client) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return c.handleAdvance },
			args:       map[string]interface{}{"session_id": "ab12", "ms": float64(1500)},
			wantMethod: "POST", wantPath: "/api/sessions/ab12/advance",
			wantBody: map[string]interface{}{"ms": float64(1500)},
		},
		{
			name:       "pause clock",
			handler:    func(c *Client) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) { return c.handleSetClock },
			args:       map[string]interface{}{"session_id": "ab12", "paused": true},
			wantMethod: "POST", wantPath: "/api/sessions/ab12/clock",
			wantBody: map[string]interface{}{"paused": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, server := newFakeAPI(t)
			client := NewClient(server.URL)

			result, err := tt.handler(client)(context.Background(), callTool(tt.args))
			if err != nil {
				t.Fatalf("Handler returned error: %v", err)
			}
			if result.IsError {
				t.Fatalf("Unexpected tool error: %s", resultText(t, result))
			}

			req := api.last(t)
			if req.Method != tt.wantMethod || req.Path != tt.wantPath {
				t.Errorf("Expected %s %s, got %s %s", tt.wantMethod, tt.wantPath, req.Method, req.Path)
			}
			for k, v := range tt.wantBody {
				if req.Body[k] != v {
					t.Errorf("Expected body %s=%v, got %v", k, v, req.Body[k])
				}
			}
		})
	}
}

func TestToolArgumentErrors(t *testing.T) {
	api, server := newFakeAPI(t)
	client := NewClient(server.URL)

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]interface{}
	}{
		{"missing x", client.handlePlaceStation, map[string]interface{}{"session_id": "ab12", "y": float64(1), "color": "red"}},
		{"bad action", client.handleStationAction, map[string]interface{}{"session_id": "ab12", "station_id": float64(1), "action": "paint"}},
		{"empty clock", client.handleSetClock, map[string]interface{}{"session_id": "ab12"}},
		{"fractional id", client.handleRemoveTrain, map[string]interface{}{"session_id": "ab12", "train_id": 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.handler(context.Background(), callTool(tt.args))
			if err != nil {
				t.Fatalf("Handler returned error: %v", err)
			}
			if !result.IsError {
				t.Error("Expected a tool error result")
			}
		})
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.requests) != 0 {
		t.Errorf("Expected no API calls for invalid arguments, got %d", len(api.requests))
	}
}

func TestHandleWorldState(t *testing.T) {
	api, server := newFakeAPI(t)
	api.responses["GET /api/sessions/ab12"] = &service.SessionInfo{
		ID:         "ab12",
		ConfigName: "classic",
		State:      sampleState(),
		Config:     sampleConfig(),
	}
	client := NewClient(server.URL)

	result, _ := client.handleWorldState(context.Background(), callTool(map[string]interface{}{"session_id": "ab12"}))
	text := resultText(t, result)

	for _, want := range []string{
		"World: Classic (8x4)",
		"Balance: 812.50",
		".@#*#@..",
		"...WW...",
		"#1 West (1,1) blue terminal",
		"in tunnel 1 (50%)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q\n%s", want, text)
		}
	}
}

func TestDescribeCell(t *testing.T) {
	state := sampleState()
	state.Stations[0].Connections = map[engine.Direction]engine.StationID{engine.East: 2}
	cfg := sampleConfig()

	tests := []struct {
		x, y int
		want []string
	}{
		{1, 1, []string{"Station: #1 West", "Connections: E->2"}},
		{3, 1, []string{"Tunnel: #1 between stations 1 and 2"}},
		{3, 2, []string{"Terrain: 'W' water", "no stations", "Empty"}},
		{9, 9, []string{"outside the 8x4 map"}},
	}
	for _, tt := range tests {
		text := describeCell(state, cfg, tt.x, tt.y)
		for _, want := range tt.want {
			if !strings.Contains(text, want) {
				t.Errorf("Cell (%d,%d): expected %q in\n%s", tt.x, tt.y, want, text)
			}
		}
	}
}

func TestHandleListConfigs(t *testing.T) {
	api, server := newFakeAPI(t)
	api.responses["GET /api/configs"] = []service.ConfigInfo{
		{ConfigID: "classic", Name: "Classic", Width: 20, Height: 12, Mode: engine.ModeSandbox, Description: "River city"},
		{ConfigID: "delta", Name: "Delta", Width: 24, Height: 14, Mode: engine.ModeConstruction},
	}
	client := NewClient(server.URL)

	result, _ := client.handleListConfigs(context.Background(), callTool(nil))
	text := resultText(t, result)
	if !strings.Contains(text, "Available Configurations (2)") || !strings.Contains(text, "- delta: Delta (24x14, construction)") {
		t.Errorf("Unexpected config listing:\n%s", text)
	}
}

func TestHandleCommandError(t *testing.T) {
	api, server := newFakeAPI(t)
	api.responses["POST /api/sessions/ab12/tunnels"] = map[string]interface{}{"error": "stations are not aligned"}
	api.status["POST /api/sessions/ab12/tunnels"] = http.StatusConflict
	client := NewClient(server.URL)

	result, err := client.handleCreateTunnel(context.Background(), callTool(map[string]interface{}{
		"session_id": "ab12", "start": float64(1), "end": float64(2),
	}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), "not aligned") {
		t.Errorf("Expected tool error with API message, got %+v", result)
	}
}
