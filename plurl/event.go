package plurl

import (
	"encoding/json"
	"fmt"
)

// Event types recorded during a session.
const (
	EventBrowser       = "browser"
	EventAPI           = "api"
	EventError         = "error"
	EventSuccess       = "success"
	EventWarning       = "warning"
	EventPhase         = "phase"
	EventBatch         = "api_test_batch"
	EventBatchComplete = "api_test_batch_complete"
	EventRetry         = "api_retry"
	EventSummary       = "api_summary"
	EventSessionStart  = "session_start"
)

// EventData is one structured payload attached to an Event. Each shape
// knows how to render itself as a single console line.
type EventData interface {
	EventMessage() string
}

// Event is one timestamped record of something that happened during a
// session. Events are append-only; they are never mutated after being
// recorded.
type Event struct {
	Timestamp string    `json:"timestamp"`
	Type      string    `json:"type"`
	Data      EventData `json:"data"`
}

// SessionDocument is the serialized session artifact written at
// finalization.
type SessionDocument struct {
	SessionID    string   `json:"session_id"`
	SessionStart string   `json:"session_start"`
	SessionEnd   string   `json:"session_end"`
	Events       []*Event `json:"events"`
}

// APIEvent records one HTTP attempt, successful or not.
type APIEvent struct {
	Method         string   `json:"method"`
	URL            string   `json:"url"`
	StatusCode     *int     `json:"status_code"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
	Error          string   `json:"error,omitempty"`
}

func (e *APIEvent) EventMessage() string {
	if e.Error != "" {
		return fmt.Sprintf("%s %s -> %s", e.Method, e.URL, e.Error)
	}
	status := "-"
	if e.StatusCode != nil {
		status = fmt.Sprintf("%d", *e.StatusCode)
	}
	elapsed := "-"
	if e.ResponseTimeMS != nil {
		elapsed = fmt.Sprintf("%.2fms", *e.ResponseTimeMS)
	}
	return fmt.Sprintf("%s %s -> %s (%s)", e.Method, e.URL, status, elapsed)
}

// BrowserEvent records one browser action. Details stays an open map
// since browser actions carry wildly different attributes.
type BrowserEvent struct {
	Action  string                 `json:"action"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *BrowserEvent) EventMessage() string { return e.Message }

// PhaseEvent marks the start of a named session phase.
type PhaseEvent struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *PhaseEvent) EventMessage() string { return e.Message }

// MessageEvent backs the error/success/warning classifications.
type MessageEvent struct {
	Message      string `json:"message"`
	Level        string `json:"level"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

func (e *MessageEvent) EventMessage() string { return e.Message }

// BatchEvent is emitted before a batch of endpoints is dispatched.
type BatchEvent struct {
	EndpointCount int    `json:"endpoint_count"`
	Method        string `json:"method"`
	Message       string `json:"message"`
}

func (e *BatchEvent) EventMessage() string { return e.Message }

// BatchSummaryEvent is emitted after all batch results are gathered.
type BatchSummaryEvent struct {
	Total       int    `json:"total_endpoints"`
	Successful  int    `json:"successful"`
	Failed      int    `json:"failed"`
	SuccessRate string `json:"success_rate"`
	Message     string `json:"message"`
}

func (e *BatchSummaryEvent) EventMessage() string { return e.Message }

// RetryEvent is emitted before each re-attempt of a request.
type RetryEvent struct {
	URL        string `json:"url"`
	Attempt    int    `json:"attempt"`
	MaxRetries int    `json:"max_retries"`
	Message    string `json:"message"`
}

func (e *RetryEvent) EventMessage() string { return e.Message }

// SummaryEvent carries the final per-session API results.
type SummaryEvent struct {
	Total      int              `json:"total_endpoints"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Results    []*RequestResult `json:"results"`
	Message    string           `json:"message"`
}

func (e *SummaryEvent) EventMessage() string { return e.Message }

// GenericEvent is the open string-keyed fallback for unstructured data.
type GenericEvent map[string]interface{}

func (e GenericEvent) EventMessage() string {
	if m, ok := e["message"].(string); ok {
		return m
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("%v", map[string]interface{}(e))
	}
	return string(b)
}
