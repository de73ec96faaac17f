// ABOUTME: Gateway orchestrator that coordinates the bridge and HTTP API servers
// ABOUTME: Manages agent sessions, dispatcher, store, and health endpoints lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/waitronhq/print-bridge/internal/agent"
	"github.com/waitronhq/print-bridge/internal/auth"
	"github.com/waitronhq/print-bridge/internal/config"
	"github.com/waitronhq/print-bridge/internal/events"
	"github.com/waitronhq/print-bridge/internal/metrics"
	"github.com/waitronhq/print-bridge/internal/store"
)

// Gateway orchestrates the print-bridge server components.
// It manages the websocket bridge server for agent connections and the HTTP
// server for the print API and health checks.
type Gateway struct {
	config     *config.Config
	registry   *agent.Registry
	dispatcher *agent.Dispatcher
	store      store.Store
	publisher  events.Publisher
	metrics    metrics.Metrics

	// verifier is nil when no jwt_secret is configured (auth disabled)
	verifier auth.TokenVerifier

	bridgeServer *http.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	upgrader     websocket.Upgrader

	// registrationWindow bounds how long a session may stay unregistered
	registrationWindow time.Duration

	logger *slog.Logger

	// serverID identifies this bridge instance
	serverID string
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PRINT_BRIDGE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initPublisher creates an event publisher based on config. Without a broker
// URL events are discarded.
func initPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	if cfg.Events.NATSURL == "" {
		logger.Info("event publishing disabled - no nats_url configured")
		return events.NoopPublisher{}, nil
	}
	p, err := events.NewNATSPublisher(cfg.Events.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("initializing event publisher: %w", err)
	}
	logger.Info("event publishing enabled", "nats_url", cfg.Events.NATSURL)
	return p, nil
}

// registerHTTPAPIRoutes registers API routes on the mux with or without auth middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) {
	if g.verifier != nil {
		authMiddleware := auth.HTTPAuthMiddleware(g.verifier)
		mux.Handle("/api/print", authMiddleware(http.HandlerFunc(g.handlePrint)))
		mux.Handle("/api/agents", authMiddleware(http.HandlerFunc(g.handleListAgents)))
		mux.Handle("/api/jobs", authMiddleware(http.HandlerFunc(g.handleListJobs)))
		mux.Handle("/api/events", authMiddleware(http.HandlerFunc(g.handleListAgentEvents)))
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		mux.HandleFunc("/api/print", g.handlePrint)
		mux.HandleFunc("/api/agents", g.handleListAgents)
		mux.HandleFunc("/api/jobs", g.handleListJobs)
		mux.HandleFunc("/api/events", g.handleListAgentEvents)
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	publisher, err := initPublisher(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	var m metrics.Metrics = metrics.Noop{}
	if cfg.Metrics.Enabled {
		m = metrics.NewProm("print_bridge")
	}

	registry := agent.NewRegistry(logger.With("component", "registry"))
	dispatcher := agent.NewDispatcher(registry, agent.DispatcherOptions{
		DefaultTimeout: cfg.Agents.DispatchTimeout,
		SweepInterval:  cfg.Agents.SweepInterval,
		Journal:        s,
		Events:         publisher,
		Metrics:        m,
		Logger:         logger,
	})

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		logger.Info("bridge auth enabled (JWT)")
	} else {
		logger.Warn("auth disabled - no jwt_secret configured")
	}

	registrationWindow := cfg.Agents.RegistrationWindow
	if registrationWindow <= 0 {
		registrationWindow = agent.DefaultRegistrationWindow
	}

	gw := &Gateway{
		config:             cfg,
		registry:           registry,
		dispatcher:         dispatcher,
		store:              s,
		publisher:          publisher,
		metrics:            m,
		verifier:           verifier,
		registrationWindow: registrationWindow,
		logger:             logger.With("component", "gateway"),
		serverID:           generateServerID(),
	}

	// Bridge server: the websocket endpoint agents dial
	bridgeMux := http.NewServeMux()
	bridgeMux.HandleFunc("/bridge", gw.handleBridge)
	gw.bridgeServer = &http.Server{
		Addr:              cfg.Server.BridgeAddr,
		Handler:           bridgeMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// HTTP server for the print API and health checks
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	if cfg.Metrics.Enabled {
		metricsPath := cfg.Metrics.Path
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		mux.Handle(metricsPath, metrics.Handler())
	}

	// API endpoints - auth required if JWT secret is configured
	gw.registerHTTPAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// setupTCPListeners creates standard TCP listeners for the bridge and HTTP API.
func (g *Gateway) setupTCPListeners() (bridgeLn, httpLn net.Listener, err error) {
	g.logger.Info("starting bridge",
		"bridge_addr", g.config.Server.BridgeAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	bridgeLn, err = net.Listen("tcp", g.config.Server.BridgeAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on bridge address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = bridgeLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return bridgeLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.BridgeAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.bridge_addr and server.http_addr are ignored when tailscale is enabled",
			"bridge_addr", g.config.Server.BridgeAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (bridgeLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the bridge and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(bridgeLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("bridge server listening", "addr", bridgeLn.Addr().String())
		if err := g.bridgeServer.Serve(bridgeLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("bridge server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the bridge servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("print bridge starting", "server_id", g.serverID)

	bridgeListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServers(bridgeListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "print-bridge", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for the
// bridge and HTTP API. The bridge listens on the fixed tailnet port 9000; the
// HTTP listener depends on the funnel/https settings.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (bridgeLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	bridgeLn, err = g.tsnetServer.Listen("tcp", ":9000")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale bridge port: %w", err)
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg, bridgeLn)
	if err != nil {
		return nil, nil, err
	}
	return bridgeLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig, bridgeLn net.Listener) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = bridgeLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener(bridgeLn)
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = bridgeLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener(bridgeLn net.Listener) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = bridgeLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = bridgeLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "bridge shutdown", g.bridgeServer.Shutdown(ctx))

	// Shutdown does not wait for hijacked websocket connections; close the
	// live sessions so their pumps wind down and disconnects are recorded.
	for _, status := range g.registry.Snapshot() {
		if sess, ok := g.registry.Lookup(status.TenantID); ok {
			_ = sess.Close()
		}
	}

	g.dispatcher.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "events close", g.publisher.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the server has at least one agent connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	stats := g.registry.Stats()
	if stats.RegisteredCount == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", stats.RegisteredCount)
}

// generateServerID creates a unique identifier for this bridge instance.
func generateServerID() string {
	return fmt.Sprintf("print-bridge-%d", time.Now().UnixNano()%1000000)
}
