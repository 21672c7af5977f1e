package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

func TestNotifierSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var payload models.AssignPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		if payload.TripID != 42 {
			t.Errorf("expected trip 42, got %d", payload.TripID)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(time.Second, 3, time.Millisecond, time.Millisecond)
	err := n.Send(context.Background(), srv.URL, models.AssignPayload{TripID: 42, StartX: 1, StartY: 1, EndX: 2, EndY: 2})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestNotifierExhaustsAttempts(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(time.Second, 3, time.Millisecond, time.Millisecond)
	err := n.Send(context.Background(), srv.URL, models.AssignPayload{TripID: 1})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestNotifierLinearBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	base := 20 * time.Millisecond
	step := 10 * time.Millisecond
	n := NewHTTPNotifier(time.Second, 3, base, step)
	start := time.Now()
	_ = n.Send(context.Background(), srv.URL, models.AssignPayload{TripID: 1})
	// waits between attempts: base, then base+step
	if elapsed := time.Since(start); elapsed < 2*base+step {
		t.Fatalf("backoff too short: %s", elapsed)
	}
}

func TestNotifierHonorsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := NewHTTPNotifier(time.Second, 5, time.Second, time.Second)
	start := time.Now()
	err := n.Send(ctx, srv.URL, models.AssignPayload{TripID: 1})
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("cancelled send should return promptly")
	}
}
