// ABOUTME: Wire protocol spoken between the bridge and print agents
// ABOUTME: One JSON envelope {event, data} per websocket text message

// Package protocol defines the event envelope and payload shapes exchanged
// with print agents over the bridge connection.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names carried in the envelope.
const (
	EventRegister  = "register"  // agent → bridge: claim a tenant
	EventConnected = "connected" // bridge → agent: registration accepted
	EventError     = "error"     // bridge → agent: sent before a forced close
	EventJob       = "job"       // bridge → agent: one print job
	EventResult    = "result"    // agent → bridge: job outcome, correlated by jobId
	EventHealth    = "health"    // agent → bridge: advisory status report
)

// FormatBase64 is the only payload format currently spoken.
const FormatBase64 = "base64"

// Envelope wraps every message on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Register is the payload of a "register" event.
type Register struct {
	TenantID string `json:"tenantId"`
}

// Connected is the payload of a "connected" event.
type Connected struct {
	Message string `json:"message"`
}

// Error is the payload of an "error" event.
type Error struct {
	Message string `json:"message"`
}

// Job is the payload of a "job" event. Payload is base64-encoded so that
// arbitrary printer bytes survive the JSON envelope.
type Job struct {
	JobID   string `json:"jobId"`
	Payload string `json:"payload"`
	Format  string `json:"format"`
}

// Result is the payload of a "result" event.
type Result struct {
	JobID   string `json:"jobId"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Health is the payload of a "health" event.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Encode builds the wire bytes for one event.
func Encode(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s data: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses one wire message into its envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("envelope has no event")
	}
	return &env, nil
}
