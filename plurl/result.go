package plurl

// RequestResult is the normalized outcome of one HTTP request attempt.
// Success implies StatusCode is set and Error is empty; on timeout or
// connection failure StatusCode stays nil and Error describes what
// happened.
type RequestResult struct {
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Success        bool              `json:"success"`
	StatusCode     *int              `json:"status_code"`
	ResponseTimeMS *float64          `json:"response_time_ms"`
	SizeBytes      *int              `json:"response_size_bytes"`
	Error          string            `json:"error,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Preview        string            `json:"response_preview,omitempty"`
	RetryAttempts  int               `json:"retry_attempts,omitempty"`
}

// StatusBelow reports whether the attempt reached the network layer
// and came back with a status code under limit. The batch dispatcher
// counts successes with limit 400, the retry controller accepts
// results with limit 500.
func (r *RequestResult) StatusBelow(limit int) bool {
	return r.Success && r.StatusCode != nil && *r.StatusCode < limit
}
