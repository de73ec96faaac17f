// ABOUTME: HTTP API handlers for submitting print jobs and inspecting bridge state.
// ABOUTME: Provides POST /api/print plus read-only agents, jobs, and events listings.

package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/waitronhq/print-bridge/internal/agent"
)

// Maximum dispatch timeout a client may request, in milliseconds. Anything
// longer would pin the HTTP handler for the duration.
const maxTimeoutMs = 300_000

// PrintRequest is the JSON request body for POST /api/print.
// Payload is the raw print data; set encoding to "base64" when it is binary.
type PrintRequest struct {
	TenantID  string `json:"tenantId"`
	Payload   string `json:"payload"`
	Encoding  string `json:"encoding,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
}

// PrintResponse is the JSON response for POST /api/print. Success and Message
// echo the agent's result; a success=false result is still HTTP 200.
type PrintResponse struct {
	JobID   string `json:"jobId"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AgentResponse is one entry in the GET /api/agents listing.
type AgentResponse struct {
	TenantID     string `json:"tenantId"`
	SessionID    string `json:"sessionId"`
	State        string `json:"state"`
	ConnectedAt  string `json:"connected_at"`
	LastHealthAt string `json:"last_health_at,omitempty"`
}

// JobResponse is one entry in the GET /api/jobs listing.
type JobResponse struct {
	JobID      string `json:"jobId"`
	TenantID   string `json:"tenantId"`
	State      string `json:"state"`
	Message    string `json:"message,omitempty"`
	CreatedAt  string `json:"created_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

// AgentEventResponse is one entry in the GET /api/events listing.
type AgentEventResponse struct {
	SessionID string `json:"sessionId"`
	TenantID  string `json:"tenantId"`
	Event     string `json:"event"`
	CreatedAt string `json:"created_at"`
}

// handlePrint handles POST /api/print requests.
// It dispatches the payload to the tenant's connected agent and blocks until
// the agent answers or the dispatch deadline passes.
//
// Status codes:
//   - 200: agent answered (success or failure, see the success field)
//   - 400: invalid request body
//   - 502: the agent connection rejected the send
//   - 503: no agent connected for the tenant
//   - 504: no result before the dispatch deadline
func (g *Gateway) handlePrint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parsePrintRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload := []byte(req.Payload)
	if req.Encoding == "base64" {
		payload, err = base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "payload is not valid base64")
			return
		}
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	jobID, resultCh, err := g.dispatcher.Dispatch(r.Context(), req.TenantID, payload, timeout)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrNoAgentConnected):
			g.sendJSONError(w, http.StatusServiceUnavailable, "no agent connected for tenant")
		case errors.Is(err, agent.ErrDispatchFailed):
			g.sendJSONError(w, http.StatusBadGateway, err.Error())
		default:
			g.logger.Error("dispatch failed", "tenant_id", req.TenantID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	select {
	case <-r.Context().Done():
		// Client gave up. The job keeps its deadline; the sweep reclaims it.
		g.logger.Debug("client disconnected while awaiting result", "job_id", jobID)
		return
	case res := <-resultCh:
		if res.Err != nil {
			g.sendJSON(w, http.StatusGatewayTimeout, PrintResponse{
				JobID:   jobID,
				Success: false,
				Message: "timed out waiting for agent result",
			})
			return
		}
		g.sendJSON(w, http.StatusOK, PrintResponse{
			JobID:   jobID,
			Success: res.Success,
			Message: res.Message,
		})
	}
}

// handleListAgents handles GET /api/agents requests.
// It returns a JSON array of all registered agents sorted by tenant.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snapshot := g.registry.Snapshot()
	response := make([]AgentResponse, 0, len(snapshot))
	for _, a := range snapshot {
		entry := AgentResponse{
			TenantID:    a.TenantID,
			SessionID:   a.SessionID,
			State:       a.State,
			ConnectedAt: a.ConnectedAt.Format(time.RFC3339),
		}
		if !a.LastHealthAt.IsZero() {
			entry.LastHealthAt = a.LastHealthAt.Format(time.RFC3339)
		}
		response = append(response, entry)
	}

	g.sendJSON(w, http.StatusOK, response)
}

// handleListJobs handles GET /api/jobs requests.
// Returns recent jobs from the journal, newest first, limited by ?limit=N.
func (g *Gateway) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit, err := parseLimit(r, 50, 500)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := g.store.RecentJobs(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list jobs", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		entry := JobResponse{
			JobID:     job.JobID,
			TenantID:  job.TenantID,
			State:     job.State,
			Message:   job.Message,
			CreatedAt: job.CreatedAt.Format(time.RFC3339),
		}
		if job.ResolvedAt != nil {
			entry.ResolvedAt = job.ResolvedAt.Format(time.RFC3339)
		}
		response = append(response, entry)
	}

	g.sendJSON(w, http.StatusOK, response)
}

// handleListAgentEvents handles GET /api/events requests.
// Returns the recent agent connection trail, newest first, limited by ?limit=N.
func (g *Gateway) handleListAgentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit, err := parseLimit(r, 50, 500)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	trail, err := g.store.RecentAgentEvents(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list agent events", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]AgentEventResponse, 0, len(trail))
	for _, evt := range trail {
		response = append(response, AgentEventResponse{
			SessionID: evt.SessionID,
			TenantID:  evt.TenantID,
			Event:     evt.Event,
			CreatedAt: evt.CreatedAt.Format(time.RFC3339),
		})
	}

	g.sendJSON(w, http.StatusOK, response)
}

// sendJSON writes a JSON response with the given status code.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parsePrintRequest parses and validates a PrintRequest from the given reader.
// Returns an error if the JSON is invalid or required fields are missing.
func parsePrintRequest(r io.Reader) (*PrintRequest, error) {
	var req PrintRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if req.TenantID == "" {
		return nil, errors.New("tenantId is required")
	}
	if req.Payload == "" {
		return nil, errors.New("payload is required")
	}
	if req.Encoding != "" && req.Encoding != "text" && req.Encoding != "base64" {
		return nil, errors.New(`encoding must be "text" or "base64"`)
	}
	if req.TimeoutMs < 0 {
		return nil, errors.New("timeoutMs must be non-negative")
	}
	if req.TimeoutMs > maxTimeoutMs {
		return nil, errors.New("timeoutMs must be at most 300000")
	}

	return &req, nil
}

// parseLimit reads the optional ?limit=N query parameter.
func parseLimit(r *http.Request, def, max int) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if parsed > max {
		parsed = max
	}
	return parsed, nil
}
