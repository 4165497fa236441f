package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/plurl/plurl"
	"gitlab.com/plurl/session"
)

const previewLimit = 500

// ErrNotOpen when Do is called outside an Open/Close pair. The HTTP
// client is a scoped resource: acquired when the testing session
// starts, released unconditionally when it ends.
var ErrNotOpen = errors.New("executor is not open")

// Request describes one endpoint test. JSON takes precedence over Form
// when both are set.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Form    url.Values
	JSON    interface{}
}

// Executor performs single HTTP attempts and records api plus
// classification events for each one. Network-layer failures come back
// as data in the RequestResult, never as a Go error; only an invalid
// method surfaces as an error, before any I/O.
type Executor struct {
	logger  *session.Logger
	timeout time.Duration
	client  *http.Client
}

// NewExecutor with the given per-request timeout.
func NewExecutor(logger *session.Logger, timeout time.Duration) *Executor {
	return &Executor{logger: logger, timeout: timeout}
}

// Open acquires the HTTP client for this testing session.
func (e *Executor) Open() {
	e.client = &http.Client{Timeout: e.timeout}
}

// Close releases the client. Safe to call on every exit path.
func (e *Executor) Close() {
	if e.client != nil {
		e.client.CloseIdleConnections()
		e.client = nil
	}
}

// Do performs one HTTP request attempt end-to-end.
func (e *Executor) Do(ctx context.Context, req Request) (*plurl.RequestResult, error) {
	method, err := plurl.NormalizeMethod(req.Method)
	if err != nil {
		return nil, err
	}
	if e.client == nil {
		return nil, ErrNotOpen
	}

	result := &plurl.RequestResult{
		URL:     req.URL,
		Method:  method,
		Headers: map[string]string{},
	}
	start := time.Now()

	body, contentType, err := encodeBody(req)
	if err != nil {
		e.fail(result, start, "Unexpected error: "+err.Error(), "Unexpected error", nil)
		return result, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		e.fail(result, start, "Unexpected error: "+err.Error(), "Unexpected error", nil)
		return result, nil
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		msg, reason := e.classify(err)
		e.fail(result, start, msg, reason, err)
		return result, nil
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		msg, reason := e.classify(err)
		e.fail(result, start, msg, reason, err)
		return result, nil
	}

	elapsed := elapsedMS(start)
	code := resp.StatusCode
	size := len(raw)
	result.Success = true
	result.StatusCode = &code
	result.ResponseTimeMS = &elapsed
	result.SizeBytes = &size
	result.Headers = flattenHeaders(resp.Header)
	result.Preview = preview(resp.Header.Get("Content-Type"), raw)

	e.logger.API(method, req.URL, &code, &elapsed, "")
	e.classifyStatus(method, req.URL, code, elapsed)
	return result, nil
}

// classifyStatus emits one classification event by status range. 1xx
// and 3xx are not separately classified.
func (e *Executor) classifyStatus(method, url string, code int, elapsedMS float64) {
	elapsed := plurl.FormatDuration(time.Duration(elapsedMS * float64(time.Millisecond)))
	switch {
	case code >= 200 && code < 300:
		e.logger.Success(fmt.Sprintf("%s %s -> %d (%s)", method, url, code, elapsed))
	case code >= 400 && code < 500:
		e.logger.Warning(fmt.Sprintf("%s %s -> %d Client Error (%s)", method, url, code, elapsed))
	case code >= 500:
		e.logger.Error(fmt.Sprintf("%s %s -> %d Server Error (%s)", method, url, code, elapsed), nil)
	}
}

// fail fills the failure fields and emits the api + error events. The
// elapsed time still covers everything up to the failure.
func (e *Executor) fail(result *plurl.RequestResult, start time.Time, errMsg, reason string, cause error) {
	elapsed := elapsedMS(start)
	result.ResponseTimeMS = &elapsed
	result.Error = errMsg
	e.logger.API(result.Method, result.URL, nil, &elapsed, errMsg)
	e.logger.Error(fmt.Sprintf("%s %s -> %s", result.Method, result.URL, reason), cause)
}

// classify maps a transport error onto the failure taxonomy: timeout,
// connection failure, or the unexpected catch-all.
func (e *Executor) classify(err error) (string, string) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Request timeout after %ds", int(e.timeout/time.Second)), "Timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("Request timeout after %ds", int(e.timeout/time.Second)), "Timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "Connection error: " + err.Error(), "Connection failed"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "Connection error: " + err.Error(), "Connection failed"
	}
	return "Unexpected error: " + err.Error(), "Unexpected error"
}

func encodeBody(req Request) (io.Reader, string, error) {
	if req.JSON != nil {
		buf, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(buf), "application/json", nil
	}
	if req.Form != nil {
		return strings.NewReader(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	}
	return nil, "", nil
}

// elapsedMS since start, rounded to two decimal places.
func elapsedMS(start time.Time) float64 {
	return math.Round(float64(time.Since(start).Microseconds())/10) / 100
}

func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for k := range h {
		flat[k] = h.Get(k)
	}
	return flat
}

// preview renders the first 500 characters of the response body. JSON
// bodies are pretty-printed first, so the limit applies to the
// formatted string, not the raw bytes.
func preview(contentType string, raw []byte) string {
	if strings.HasPrefix(contentType, "application/json") {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err == nil {
			if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
				return truncate(string(pretty))
			}
		}
	}
	return truncate(string(raw))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > previewLimit {
		return string(r[:previewLimit])
	}
	return s
}
