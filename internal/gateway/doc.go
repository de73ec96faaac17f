// Package gateway orchestrates the print-bridge server components.
//
// # Overview
//
// The gateway package is the central coordinator of the print-bridge server.
// It owns and manages all major components: the websocket bridge server that
// agents dial, the HTTP API server, the agent registry, the job dispatcher,
// and the SQLite job journal.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config       *config.Config
//	    registry     *agent.Registry
//	    dispatcher   *agent.Dispatcher
//	    store        store.Store
//	    publisher    events.Publisher
//	    metrics      metrics.Metrics
//	    bridgeServer *http.Server
//	    httpServer   *http.Server
//	    // ... and more
//	}
//
// # Bridge Protocol
//
// Agents connect to GET /bridge and upgrade to a websocket. Every frame is a
// JSON envelope {"event": "...", "data": {...}}. The conversation:
//
//  1. Agent sends register {"tenantId": "..."} within the registration window
//  2. Bridge replies connected, or error + close on invalid registration
//  3. Bridge pushes job events {"jobId", "payload", "format": "base64"}
//  4. Agent answers with result {"jobId", "success", "message"}
//  5. Agent reports health {"status", "timestamp"} periodically
//
// A session that never registers is closed when the registration window
// expires. A second agent registering the same tenant displaces the first.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/print - Dispatch a print job and wait for the agent's result
//   - GET /api/agents - List registered agents
//   - GET /api/jobs - Recent job journal entries
//   - GET /api/events - Recent agent connect/disconnect trail
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (503 until an agent registers)
//
// API routes require a bearer token when auth.jwt_secret is configured;
// health endpoints never do.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	err = gw.Run(ctx)
//
// Run blocks until the context is canceled, then shuts both servers down,
// closes live agent sessions, and releases the store.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown, listeners
//   - bridge.go: websocket upgrade, registration, frame routing
//   - api.go: HTTP handlers for print dispatch and listings
package gateway
