package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxwire/voxwire/internal/health"
)

func get(t *testing.T, h *health.Handler, path string) (*http.Response, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return resp, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()
	resp, body := get(t, health.New(), "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("body status = %v, want ok", body["status"])
	}
}

func TestReadyz_AllChecksPass(t *testing.T) {
	t.Parallel()
	h := health.New(
		health.Check{Name: "memory", Probe: func(context.Context) error { return nil }},
		health.Check{Name: "manager", Probe: func(context.Context) error { return nil }},
	)
	resp, body := get(t, h, "/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	checks := body["checks"].(map[string]any)
	if checks["memory"] != "ok" || checks["manager"] != "ok" {
		t.Fatalf("checks = %v, want all ok", checks)
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	t.Parallel()
	h := health.New(
		health.Check{Name: "memory", Probe: func(context.Context) error {
			return errors.New("connection refused")
		}},
	)
	resp, body := get(t, h, "/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if body["status"] != "fail" {
		t.Fatalf("body status = %v, want fail", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if checks["memory"] != "fail: connection refused" {
		t.Fatalf("memory check = %v", checks["memory"])
	}
}

func TestReadyz_NoChecks(t *testing.T) {
	t.Parallel()
	resp, _ := get(t, health.New(), "/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
