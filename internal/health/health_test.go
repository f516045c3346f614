package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/health"
)

func ok(context.Context) error { return nil }

func get(t *testing.T, h *health.Handler, path string) (int, health.Result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body health.Result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "database", Check: func(context.Context) error { return errors.New("down") }})
	code, body := get(t, h, "/healthz")
	if code != http.StatusOK || body.Status != health.StatusOK {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	errDown := errors.New("connection refused")
	tests := []struct {
		name     string
		checkers []health.Checker
		wantCode int
		want     string
		checks   map[string]string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			want:     health.StatusOK,
		},
		{
			name: "all pass",
			checkers: []health.Checker{
				{Name: "database", Check: ok},
				{Name: "vad", Check: ok},
			},
			wantCode: http.StatusOK,
			want:     health.StatusOK,
			checks:   map[string]string{"database": "ok", "vad": "ok"},
		},
		{
			name: "required fails",
			checkers: []health.Checker{
				{Name: "database", Check: func(context.Context) error { return errDown }},
				{Name: "vad", Check: ok},
			},
			wantCode: http.StatusServiceUnavailable,
			want:     health.StatusFail,
			checks:   map[string]string{"database": "fail: connection refused", "vad": "ok"},
		},
		{
			name: "optional fails",
			checkers: []health.Checker{
				{Name: "database", Check: ok},
				{Name: "cache", Check: func(context.Context) error { return errDown }, Optional: true},
			},
			wantCode: http.StatusOK,
			want:     health.StatusDegraded,
			checks:   map[string]string{"database": "ok", "cache": "degraded: connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, body := get(t, health.New(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body.Status != tt.want {
				t.Errorf("status = %q, want %q", body.Status, tt.want)
			}
			for name, want := range tt.checks {
				if got := body.Checks[name]; got != want {
					t.Errorf("checks[%q] = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	slow := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := health.New(health.Checker{Name: "a", Check: slow}, health.Checker{Name: "b", Check: slow})

	done := make(chan health.Result, 1)
	go func() { done <- h.Check(context.Background()) }()

	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("checks did not start concurrently")
		}
	}
	close(release)
	if res := <-done; res.Status != health.StatusOK {
		t.Errorf("status = %q, want ok", res.Status)
	}
}

func TestReadyz_Drain(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "database", Check: ok})
	h.Drain()
	code, body := get(t, h, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
	if body.Checks["shutdown"] != "draining" {
		t.Errorf("checks = %v, want shutdown=draining", body.Checks)
	}
}
