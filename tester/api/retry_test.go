package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/plurl/plurl"
	"gitlab.com/plurl/session"
	"gitlab.com/plurl/tester/api"
)

func TestDoRetryExhausted(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(503)
	}))
	defer srv.Close()

	logger := session.New("", false)
	e := api.NewExecutor(logger, 5*time.Second)
	e.Open()
	defer e.Close()

	result, err := e.DoRetry(context.Background(), srv.URL, "GET", 2, time.Millisecond)
	if err != nil {
		t.Fatalf("error on retry: %s\n", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts got %d\n", got)
	}
	if result.RetryAttempts != 3 {
		t.Fatalf("retry_attempts was %d\n", result.RetryAttempts)
	}

	retries := 0
	for _, evt := range logger.Events() {
		if evt.Type == plurl.EventRetry {
			retries++
			data := evt.Data.(*plurl.RetryEvent)
			if data.MaxRetries != 2 {
				t.Fatalf("max retries was %d\n", data.MaxRetries)
			}
		}
	}
	if retries != 2 {
		t.Fatalf("expected 2 retry events got %d\n", retries)
	}
	last := logger.Events()[len(logger.Events())-1]
	if last.Type != plurl.EventError {
		t.Fatalf("expected final error event got %s\n", last.Type)
	}
}

func TestDoRetryEventualSuccess(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(503)
			return
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	logger := session.New("", false)
	e := api.NewExecutor(logger, 5*time.Second)
	e.Open()
	defer e.Close()

	result, err := e.DoRetry(context.Background(), srv.URL, "GET", 5, time.Millisecond)
	if err != nil {
		t.Fatalf("error on retry: %s\n", err)
	}
	if !result.Success || *result.StatusCode != 200 {
		t.Fatalf("unexpected result: %+v\n", result)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts got %d\n", got)
	}
	if result.RetryAttempts != 0 {
		t.Fatalf("accepted result must not be stamped exhausted: %d\n", result.RetryAttempts)
	}
}

func TestDoRetryClientErrorIsTerminal(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(404)
	}))
	defer srv.Close()

	logger := session.New("", false)
	e := api.NewExecutor(logger, 5*time.Second)
	e.Open()
	defer e.Close()

	result, err := e.DoRetry(context.Background(), srv.URL, "GET", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("error on retry: %s\n", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts\n", got)
	}
	if !result.Success || *result.StatusCode != 404 {
		t.Fatalf("unexpected result: %+v\n", result)
	}
}

func TestDoRetryZeroIsSingleAttempt(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(500)
	}))
	defer srv.Close()

	logger := session.New("", false)
	e := api.NewExecutor(logger, 5*time.Second)
	e.Open()
	defer e.Close()

	result, err := e.DoRetry(context.Background(), srv.URL, "GET", 0, time.Millisecond)
	if err != nil {
		t.Fatalf("error on retry: %s\n", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected 1 attempt got %d\n", got)
	}
	if result.RetryAttempts != 1 {
		t.Fatalf("retry_attempts was %d\n", result.RetryAttempts)
	}
}
