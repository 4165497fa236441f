package tester_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"gitlab.com/plurl/plurl"
	"gitlab.com/plurl/session"
	"gitlab.com/plurl/tester"
)

func TestRunAPIPhase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("ok"))
		case "/missing":
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	cfg := &plurl.Config{
		URL:       srv.URL,
		Endpoints: []string{srv.URL + "/ok", srv.URL + "/missing"},
		Method:    "GET",
	}
	logger := session.New("", false)

	results, err := tester.RunAPIPhase(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("error running api phase: %s\n", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results got %d\n", len(results))
	}

	events := logger.Events()
	last := events[len(events)-1]
	if last.Type != plurl.EventSummary {
		t.Fatalf("last event was %s\n", last.Type)
	}
	summary := last.Data.(*plurl.SummaryEvent)
	if summary.Total != 2 || summary.Successful != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v\n", summary)
	}
	if len(summary.Results) != 2 {
		t.Fatalf("summary must carry the results\n")
	}
}

func TestRunAPIPhaseRetries(t *testing.T) {
	attempts := make(map[string]int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts[r.URL.Path]++
		w.WriteHeader(503)
	}))
	defer srv.Close()

	cfg := &plurl.Config{
		URL:           srv.URL,
		Endpoints:     []string{srv.URL + "/a"},
		Method:        "GET",
		Retries:       1,
		RetryDelaySec: 0.01,
	}
	logger := session.New("", false)

	results, err := tester.RunAPIPhase(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("error running api phase: %s\n", err)
	}
	if attempts["/a"] != 2 {
		t.Fatalf("expected 2 attempts got %d\n", attempts["/a"])
	}
	if results[0].RetryAttempts != 2 {
		t.Fatalf("retry_attempts was %d\n", results[0].RetryAttempts)
	}
}

func TestRunAPIPhaseInvalidMethod(t *testing.T) {
	cfg := &plurl.Config{
		Endpoints: []string{"https://example.com"},
		Method:    "FETCH",
	}
	logger := session.New("", false)

	_, err := tester.RunAPIPhase(context.Background(), cfg, logger)
	if err == nil {
		t.Fatalf("expected error for invalid method\n")
	}
	if errors.Cause(err) != plurl.ErrInvalidMethod {
		t.Fatalf("expected ErrInvalidMethod cause got %v\n", err)
	}
}
