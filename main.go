// Command metro-sim starts the metro network simulation server.
//
// It supports two modes:
//  1. "server" (default) – runs the HTTP server exposing REST API, WebSocket, metrics and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//
// Flags control host/port, config and sessions directories, the simulation
// tick, debug logging, version output, and optional ngrok tunneling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wricardo/metro-sim/api"
	"github.com/wricardo/metro-sim/game/config"
	"github.com/wricardo/metro-sim/game/service"
	"github.com/wricardo/metro-sim/game/session"
	"github.com/wricardo/metro-sim/internal/logging"
	"github.com/wricardo/metro-sim/internal/observability"
	"github.com/wricardo/metro-sim/transport/mcp"
	"github.com/wricardo/metro-sim/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Metro Simulation Server"
)

// Configuration flags control how the server starts and which services are enabled.
var (
	port         = flag.Int("port", 8080, "HTTP server port")
	host         = flag.String("host", "localhost", "HTTP server host")
	configDir    = flag.String("config-dir", getConfigDirDefault(), "Directory containing world configurations")
	sessionsDir  = flag.String("sessions-dir", "sessions", "Directory for persisted sessions (empty disables persistence)")
	tick         = flag.Duration("tick", 100*time.Millisecond, "Simulation tick interval (0 disables the loop)")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	version      = flag.Bool("version", false, "Show version information")
	ngrokEnabled = flag.Bool("ngrok", false, "Enable ngrok tunnel")
	ngrokAuth    = flag.String("ngrok-auth", "", "Ngrok auth token (or use NGROK_AUTHTOKEN env var)")
	ngrokDomain  = flag.String("ngrok-domain", "", "Custom ngrok domain (optional)")
)

// getConfigDirDefault returns the default configuration directory.
// It first honors the CONFIG_DIR environment variable, then falls back to "configs".
func getConfigDirDefault() string {
	if configDir := os.Getenv("CONFIG_DIR"); configDir != "" {
		return configDir
	}
	return "configs"
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [MODE]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s v%s\n\n", AppName, Version)
		fmt.Fprintf(os.Stderr, "Available modes:\n")
		fmt.Fprintf(os.Stderr, "  server, http     Run HTTP server with API, WebSocket, metrics and MCP endpoint (default)\n")
		fmt.Fprintf(os.Stderr, "  stdio-mcp        Run MCP stdio server with internal HTTP server\n")
		fmt.Fprintf(os.Stderr, "  mcp-stdio        Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "  mcp              Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                    # Run HTTP server on default port 8080\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -tick 50ms         # Tick the simulation every 50ms\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s stdio-mcp          # Run MCP stdio server\n", os.Args[0])
	}
}

// services bundles everything the run modes need
type services struct {
	game     service.GameService
	configs  *config.Manager
	sessions *session.Manager
	persist  session.SessionPersistence
	metrics  *observability.SimCollector
	log      logging.Logger
}

// newLogger builds the process logger from the environment, forcing debug
// level when -debug is set. Stdio MCP mode must keep stdout clean, which
// logging.New guarantees by writing to stderr.
func newLogger() logging.Logger {
	if *debug {
		return logging.New(logging.Config{
			Level:     "debug",
			Format:    os.Getenv("LOG_FORMAT"),
			AddSource: true,
		})
	}
	return logging.NewFromEnv()
}

// main parses flags, initializes services, and starts the selected mode.
func main() {
	envErr := godotenv.Load()

	flag.Parse()

	// Show version if requested
	if *version {
		fmt.Printf("%s v%s\n", AppName, Version)
		os.Exit(0)
	}

	log := newLogger()
	ctx := context.Background()
	if envErr == nil {
		log.Info(ctx, "loaded environment variables from .env file")
	} else if !os.IsNotExist(envErr) {
		log.Warn(ctx, "error loading .env file", logging.Err(envErr))
	}

	if err := run(ctx, log, flag.Args()); err != nil {
		log.Error(ctx, "fatal", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log logging.Logger, args []string) error {
	mode := "server" // default
	if len(args) > 0 {
		mode = args[0]
	}
	switch mode {
	case "stdio-mcp", "mcp-stdio", "mcp", "server", "http":
	default:
		return fmt.Errorf("unknown mode %q, use 'server' (default) or 'stdio-mcp'", mode)
	}

	log.Info(ctx, "starting", logging.String("app", AppName), logging.String("version", Version), logging.String("mode", mode))

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	svc, err := initializeServices(log, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	if mode == "server" || mode == "http" {
		return runHTTPServer(svc)
	}
	return runStdioMCPWithInternalServer(svc)
}

// initializeServices wires config and session managers, persistence, metrics
// and the game service.
func initializeServices(log logging.Logger, reg prometheus.Registerer) (*services, error) {
	configManager, err := config.NewManager(*configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create config manager: %w", err)
	}

	metrics, err := observability.NewSimCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	svc := &services{configs: configManager, metrics: metrics, log: log}
	if *sessionsDir != "" {
		persistence, err := session.NewFilePersistence(*sessionsDir, configManager, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create session persistence: %w", err)
		}
		svc.persist = persistence
		svc.sessions = session.NewManagerWithPersistence(persistence, session.WithLogger(log))

		if err := svc.sessions.LoadPersistedSessions(); err != nil {
			log.Warn(context.Background(), "failed to load persisted sessions", logging.Err(err))
		}
	} else {
		svc.sessions = session.NewManager(session.WithLogger(log))
	}

	svc.game = service.NewGameService(svc.sessions, configManager,
		service.WithLogger(log),
		service.WithMetrics(metrics),
	)
	return svc, nil
}

// withHub rebuilds the game service so state updates flow to hub
func (s *services) withHub(hub *websocket.Hub) {
	s.game = service.NewGameService(s.sessions, s.configs,
		service.WithLogger(s.log),
		service.WithMetrics(s.metrics),
		service.WithStateListener(hub),
	)
}

// runSimulation ticks every session until ctx is done
func runSimulation(ctx context.Context, game service.GameService, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			game.TickAll(ctx, now.Sub(last))
			last = now
		}
	}
}

// sessionCleanupRoutine periodically removes sessions that have not been
// accessed within the retention window.
func sessionCleanupRoutine(ctx context.Context, manager *session.Manager, log logging.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := manager.CleanupExpiredSessions(24 * time.Hour); removed > 0 {
				log.Info(ctx, "cleaned up expired sessions", logging.Int("removed", removed))
			}
		}
	}
}

// filesystemSyncRoutine removes sessions from memory when their files are
// deleted on disk.
func filesystemSyncRoutine(ctx context.Context, manager *session.Manager, persistence session.SessionPersistence, log logging.Logger) {
	if persistence == nil {
		return
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned := 0
			for _, sess := range manager.List() {
				if persistence.Exists(sess.ID) {
					continue
				}
				if err := manager.DeleteFromMemory(sess.ID); err == nil {
					pruned++
					log.Info(ctx, "pruned session from memory (file deleted)", logging.String("session", sess.ID))
				}
			}
			if pruned > 0 {
				log.Info(ctx, "filesystem sync pruned orphaned sessions", logging.Int("pruned", pruned))
			}
		}
	}
}

// buildHandler mounts the API server and the /mcp JSON-RPC endpoint
func buildHandler(apiServer http.Handler, mcpClient *mcp.Client) http.Handler {
	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)

	mainRouter.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
	return mainRouter
}

// runHTTPServer starts the HTTP server with REST API, WebSocket hub, metrics
// and an /mcp proxy endpoint. It also runs the simulation loop and, when
// enabled, an ngrok tunnel.
func runHTTPServer(svc *services) error {
	log := svc.log

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub(websocket.WithLogger(log))
	go hub.Run(ctx)

	svc.withHub(hub)

	apiServer := api.NewServer(svc.game, hub,
		api.WithLogger(log),
		api.WithMetricsHandler(svc.metrics.Handler()),
	)

	addr := fmt.Sprintf("%s:%d", *host, *port)
	mcpClient := mcp.NewClient(fmt.Sprintf("http://%s", addr), mcp.WithLogger(log))
	mainRouter := buildHandler(apiServer, mcpClient)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mainRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		runSimulation(ctx, svc.game, *tick)
	}()
	go func() {
		defer wg.Done()
		sessionCleanupRoutine(ctx, svc.sessions, log)
	}()
	go func() {
		defer wg.Done()
		filesystemSyncRoutine(ctx, svc.sessions, svc.persist, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Info(ctx, "HTTP server listening", logging.String("addr", addr))
		log.Info(ctx, "endpoints",
			logging.String("api", fmt.Sprintf("http://%s/api", addr)),
			logging.String("ws", fmt.Sprintf("ws://%s/ws?session=<session_id>", addr)),
			logging.String("metrics", fmt.Sprintf("http://%s/metrics", addr)),
			logging.String("mcp", fmt.Sprintf("http://%s/mcp", addr)),
		)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logging.Err(err))
			stop <- syscall.SIGTERM
		}
	}()

	if ngrokShouldRun() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, mainRouter, log)
		}()
	}

	sig := <-stop
	log.Info(ctx, "shutting down", logging.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "HTTP server shutdown error", logging.Err(err))
	}

	wg.Wait()

	// The simulation loop has stopped, so worlds are no longer mutated.
	if err := svc.sessions.SaveAllSessions(); err != nil {
		log.Error(ctx, "failed to save sessions", logging.Err(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// ngrokShouldRun checks the flag, then NGROK_ENABLED
func ngrokShouldRun() bool {
	if *ngrokEnabled {
		return true
	}
	env := os.Getenv("NGROK_ENABLED")
	return env == "true" || env == "1"
}

// ngrokAuthToken returns the token from the flag or either env spelling
func ngrokAuthToken() string {
	if *ngrokAuth != "" {
		return *ngrokAuth
	}
	if token := os.Getenv("NGROK_AUTHTOKEN"); token != "" {
		return token
	}
	return os.Getenv("NGROK_AUTH_TOKEN")
}

// runNgrok serves handler through an ngrok tunnel until ctx is done
func runNgrok(ctx context.Context, handler http.Handler, log logging.Logger) {
	authToken := ngrokAuthToken()
	if authToken == "" {
		log.Warn(ctx, "ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	log.Info(ctx, "starting ngrok tunnel")

	domain := *ngrokDomain
	if domain == "" {
		domain = os.Getenv("NGROK_DOMAIN")
	}

	var tunnel ngrokConfig.Tunnel
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		log.Info(ctx, "using custom ngrok domain", logging.String("domain", domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		log.Error(ctx, "failed to start ngrok tunnel", logging.Err(err))
		return
	}

	ngrokURL := tun.URL()
	log.Info(ctx, "ngrok tunnel established",
		logging.String("url", ngrokURL),
		logging.String("api", ngrokURL+"/api"),
		logging.String("mcp", ngrokURL+"/mcp"),
	)

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Warn(context.Background(), "failed to close ngrok tunnel", logging.Err(err))
		}
	}()

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.Error(ctx, "ngrok server error", logging.Err(err))
	}
	log.Info(context.Background(), "ngrok tunnel closed")
}

// runStdioMCPWithInternalServer runs an MCP stdio server.
// It tries to reuse an external API on -port; if unavailable, it starts an
// internal HTTP API with its own simulation loop on a random loopback port.
func runStdioMCPWithInternalServer(svc *services) error {
	log := svc.log
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	externalURL := fmt.Sprintf("http://localhost:%d", *port)
	log.Info(ctx, "checking for external API server", logging.String("url", externalURL))

	baseURL := externalURL
	simDone := make(chan struct{})
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(externalURL + "/healthz")
	if err == nil && resp.StatusCode < 500 {
		resp.Body.Close()
		close(simDone)
		log.Info(ctx, "external API server found, using it for MCP")
	} else {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		internalAddr := listener.Addr().String()
		log.Info(ctx, "starting internal HTTP server for MCP stdio", logging.String("addr", internalAddr))

		httpServer := &http.Server{
			Handler: api.NewServer(svc.game, nil, api.WithLogger(log)),
		}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "internal HTTP server error", logging.Err(err))
			}
		}()
		defer httpServer.Close()

		go func() {
			defer close(simDone)
			runSimulation(ctx, svc.game, *tick)
		}()

		baseURL = fmt.Sprintf("http://%s", internalAddr)
	}

	mcpClient := mcp.NewClient(baseURL, mcp.WithLogger(log))
	log.Info(ctx, "MCP stdio server ready", logging.String("api", baseURL))

	serveErr := server.ServeStdio(mcpClient.GetMCPServer())

	cancel()
	<-simDone
	if err := svc.sessions.SaveAllSessions(); err != nil {
		log.Error(context.Background(), "failed to save sessions", logging.Err(err))
	}
	if serveErr != nil {
		return fmt.Errorf("MCP stdio server error: %w", serveErr)
	}
	return nil
}
