package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wricardo/metro-sim/api"
	"github.com/wricardo/metro-sim/game/service"
	"github.com/wricardo/metro-sim/internal/logging"
	"github.com/wricardo/metro-sim/transport/mcp"
)

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	expectedAppName := "Metro Simulation Server"
	if AppName != expectedAppName {
		t.Errorf("Expected app name %s, got %s", expectedAppName, AppName)
	}
}

func TestFlagDefaults(t *testing.T) {
	if *port <= 0 || *port > 65535 {
		t.Errorf("Invalid default port: %d", *port)
	}
	if *host == "" {
		t.Error("Host should have a default value")
	}
	if *configDir == "" {
		t.Error("Config directory should have a default value")
	}
	if *tick <= 0 {
		t.Errorf("Expected a positive default tick, got %v", *tick)
	}
}

func TestGetConfigDirDefault(t *testing.T) {
	t.Setenv("CONFIG_DIR", "")
	if got := getConfigDirDefault(); got != "configs" {
		t.Errorf("Expected configs, got %s", got)
	}
	t.Setenv("CONFIG_DIR", "/etc/metro")
	if got := getConfigDirDefault(); got != "/etc/metro" {
		t.Errorf("Expected /etc/metro, got %s", got)
	}
}

// withFlags points the directory flags at a temporary layout for one test
func withFlags(t *testing.T, configs, sessions string) {
	t.Helper()
	origConfig, origSessions := *configDir, *sessionsDir
	*configDir, *sessionsDir = configs, sessions
	t.Cleanup(func() { *configDir, *sessionsDir = origConfig, origSessions })
}

func TestInitializeServices(t *testing.T) {
	if _, err := os.Stat("configs"); os.IsNotExist(err) {
		t.Skip("Skipping test - configs directory not found")
	}
	withFlags(t, "configs", filepath.Join(t.TempDir(), "sessions"))

	svc, err := initializeServices(logging.Noop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}
	if svc.game == nil || svc.sessions == nil || svc.persist == nil {
		t.Fatal("Expected game service, session manager and persistence")
	}

	info, err := svc.game.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if !svc.persist.Exists(info.ID) {
		t.Error("Expected new session to be persisted")
	}
}

func TestInitializeServices_NoPersistence(t *testing.T) {
	if _, err := os.Stat("configs"); os.IsNotExist(err) {
		t.Skip("Skipping test - configs directory not found")
	}
	withFlags(t, "configs", "")

	svc, err := initializeServices(logging.Noop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}
	if svc.persist != nil {
		t.Error("Expected persistence disabled")
	}
}

func TestInitializeServices_InvalidConfigDir(t *testing.T) {
	withFlags(t, "/non/existent/path", "")

	if _, err := initializeServices(logging.Noop(), prometheus.NewRegistry()); err == nil {
		t.Error("Expected error for non-existent config directory")
	}
}

func TestRunUnknownMode(t *testing.T) {
	err := run(context.Background(), logging.Noop(), []string{"teleport"})
	if err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Errorf("Expected unknown mode error, got %v", err)
	}
}

type tickCounter struct {
	service.GameService
	ticks atomic.Int32
}

func (c *tickCounter) TickAll(ctx context.Context, real time.Duration) {
	if real > 0 {
		c.ticks.Add(1)
	}
}

func TestRunSimulation(t *testing.T) {
	t.Run("ticks until cancelled", func(t *testing.T) {
		counter := &tickCounter{}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			runSimulation(ctx, counter, 5*time.Millisecond)
			close(done)
		}()

		deadline := time.Now().Add(time.Second)
		for counter.ticks.Load() < 3 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("runSimulation did not stop after cancel")
		}
		if counter.ticks.Load() < 3 {
			t.Errorf("Expected at least 3 ticks, got %d", counter.ticks.Load())
		}
	})

	t.Run("disabled", func(t *testing.T) {
		counter := &tickCounter{}
		runSimulation(context.Background(), counter, 0)
		if counter.ticks.Load() != 0 {
			t.Error("Expected no ticks with a zero interval")
		}
	})
}

func TestBuildHandler(t *testing.T) {
	if _, err := os.Stat("configs"); os.IsNotExist(err) {
		t.Skip("Skipping test - configs directory not found")
	}
	withFlags(t, "configs", "")
	svc, err := initializeServices(logging.Noop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}

	apiServer := api.NewServer(svc.game, nil, api.WithMetricsHandler(svc.metrics.Handler()))
	handler := buildHandler(apiServer, mcp.NewClient("http://127.0.0.1:1"))

	t.Run("api mounted", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/configs", nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("metrics mounted", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "metro_sessions") {
			t.Errorf("Expected metro metrics, got %d", w.Code)
		}
	})

	t.Run("mcp rejects GET", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/mcp", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected status 405, got %d", w.Code)
		}
	})

	t.Run("mcp lists tools", func(t *testing.T) {
		body := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("POST", "/mcp", bytes.NewReader(body)))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		var resp struct {
			Result struct {
				Tools []struct {
					Name string `json:"name"`
				} `json:"tools"`
			} `json:"result"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse MCP response: %v", err)
		}
		found := false
		for _, tool := range resp.Result.Tools {
			if tool.Name == "place_station" {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected place_station tool, got %s", w.Body.String())
		}
	})
}

func TestNgrokSettings(t *testing.T) {
	origEnabled, origAuth := *ngrokEnabled, *ngrokAuth
	defer func() { *ngrokEnabled, *ngrokAuth = origEnabled, origAuth }()

	*ngrokEnabled = false
	t.Setenv("NGROK_ENABLED", "")
	if ngrokShouldRun() {
		t.Error("Expected ngrok disabled by default")
	}
	t.Setenv("NGROK_ENABLED", "1")
	if !ngrokShouldRun() {
		t.Error("Expected NGROK_ENABLED=1 to enable ngrok")
	}

	*ngrokAuth = ""
	t.Setenv("NGROK_AUTHTOKEN", "")
	t.Setenv("NGROK_AUTH_TOKEN", "underscore")
	if got := ngrokAuthToken(); got != "underscore" {
		t.Errorf("Expected underscore token, got %q", got)
	}
	*ngrokAuth = "flag"
	if got := ngrokAuthToken(); got != "flag" {
		t.Errorf("Expected flag token to win, got %q", got)
	}
}
