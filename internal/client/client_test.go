package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrint_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/print", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req PrintRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tenant-1", req.TenantID)
		assert.Equal(t, "receipt #42", req.Payload)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(PrintResult{JobID: "job-1", Success: true, Message: "printed"})
	}))
	defer srv.Close()

	result, err := New(srv.URL).Print(context.Background(), PrintRequest{
		TenantID: "tenant-1",
		Payload:  "receipt #42",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", result.JobID)
	assert.True(t, result.Success)
	assert.Equal(t, "printed", result.Message)
}

func TestPrint_AgentFailureIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(PrintResult{JobID: "job-2", Success: false, Message: "printer offline"})
	}))
	defer srv.Close()

	result, err := New(srv.URL).Print(context.Background(), PrintRequest{TenantID: "t", Payload: "p"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "printer offline", result.Message)
}

func TestPrint_NoAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"no agent connected for tenant"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Print(context.Background(), PrintRequest{TenantID: "t", Payload: "p"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "no agent connected for tenant", apiErr.Message)
}

func TestPrint_TimeoutCarriesJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte(`{"jobId":"job-9","success":false,"message":"timed out waiting for agent result"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Print(context.Background(), PrintRequest{TenantID: "t", Payload: "p"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.Status)
	assert.Equal(t, "job-9", apiErr.JobID)
	assert.Equal(t, "timed out waiting for agent result", apiErr.Message)
}

func TestPrintBytes(t *testing.T) {
	raw := []byte{0x1B, 0x40, 0x0A}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req PrintRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "base64", req.Encoding)
		assert.Equal(t, int64(5000), req.TimeoutMs)

		decoded, err := base64.StdEncoding.DecodeString(req.Payload)
		require.NoError(t, err)
		assert.Equal(t, raw, decoded)

		_ = json.NewEncoder(w).Encode(PrintResult{JobID: "job-3", Success: true, Message: "printed"})
	}))
	defer srv.Close()

	result, err := New(srv.URL).PrintBytes(context.Background(), "tenant-1", raw, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestAgents_SendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agents", r.URL.Path)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode([]Agent{{
			TenantID:    "tenant-1",
			SessionID:   "ses-abc",
			State:       "registered",
			ConnectedAt: "2026-08-25T12:00:00Z",
		}})
	}))
	defer srv.Close()

	agents, err := New(srv.URL, WithToken("sekrit")).Agents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "tenant-1", agents[0].TenantID)
	assert.Equal(t, "ses-abc", agents[0].SessionID)
	assert.Equal(t, "registered", agents[0].State)
}

func TestJobs_Limit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs", r.URL.Path)
		assert.Equal(t, "limit=10", r.URL.RawQuery)

		_ = json.NewEncoder(w).Encode([]Job{
			{JobID: "job-2", TenantID: "tenant-1", State: "dispatched", CreatedAt: "2026-08-25T12:00:01Z"},
			{JobID: "job-1", TenantID: "tenant-1", State: "completed", Message: "printed", CreatedAt: "2026-08-25T12:00:00Z", ResolvedAt: "2026-08-25T12:00:02Z"},
		})
	}))
	defer srv.Close()

	jobs, err := New(srv.URL).Jobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-2", jobs[0].JobID)
	assert.Equal(t, "completed", jobs[1].State)
	assert.Equal(t, "2026-08-25T12:00:02Z", jobs[1].ResolvedAt)
}

func TestAgentEvents_NoLimitOmitsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/events", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)

		_ = json.NewEncoder(w).Encode([]AgentEvent{
			{SessionID: "ses-abc", TenantID: "tenant-1", Event: "registered", CreatedAt: "2026-08-25T12:00:00Z"},
		})
	}))
	defer srv.Close()

	events, err := New(srv.URL).AgentEvents(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "registered", events[0].Event)
}

func TestListings_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"limit must be a positive integer"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Jobs(context.Background(), 10)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "limit must be a positive integer", apiErr.Message)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	assert.NoError(t, New(srv.URL).Health(context.Background()))
}

func TestReady_NotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents connected"))
	}))
	defer srv.Close()

	status, err := New(srv.URL).Ready(context.Background())
	assert.Equal(t, "no agents connected", status)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}

func TestReady_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ready (2 agents)"))
	}))
	defer srv.Close()

	status, err := New(srv.URL).Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready (2 agents)", status)
}
