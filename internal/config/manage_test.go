package config_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/config"
)

func TestManagerClient_FetchOverrides(t *testing.T) {
	t.Parallel()

	var payload atomic.Value
	payload.Store(`{"prompt":"custom","providers":{"tts":{"name":"openai","model":"tts-1"}}}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/config/device-1":
			w.Write([]byte(payload.Load().(string)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := config.NewManagerClient(srv.URL, "s3cret")
	ctx := context.Background()

	o, changed, err := c.FetchOverrides(ctx, "device-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("first fetch should report changed")
	}
	if o == nil || o.Prompt != "custom" {
		t.Fatalf("overrides = %+v, want prompt custom", o)
	}
	if o.Providers["tts"].Name != "openai" {
		t.Errorf("tts override = %+v, want openai", o.Providers["tts"])
	}

	// Same content again: not changed.
	_, changed, err = c.FetchOverrides(ctx, "device-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Error("identical content should not report changed")
	}

	// New content: changed again.
	payload.Store(`{"prompt":"other"}`)
	o, changed, err = c.FetchOverrides(ctx, "device-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("new content should report changed")
	}
	if o.Prompt != "other" {
		t.Errorf("prompt = %q, want other", o.Prompt)
	}
}

func TestManagerClient_FetchOverridesNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := config.NewManagerClient(srv.URL, "")
	o, _, err := c.FetchOverrides(context.Background(), "unknown-device")
	if err != nil {
		t.Fatalf("404 should not be an error, got: %v", err)
	}
	if o != nil {
		t.Errorf("overrides = %+v, want nil for 404", o)
	}
}

func TestManagerClient_Report(t *testing.T) {
	t.Parallel()

	var got config.UsageReport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/report" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := config.NewManagerClient(srv.URL, "")
	report := config.UsageReport{
		DeviceID:  "device-1",
		SessionID: "sess-1",
		Role:      "user",
		Content:   "what time is it",
		Timestamp: time.Now(),
	}
	if err := c.Report(context.Background(), report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DeviceID != "device-1" || got.Content != "what time is it" {
		t.Errorf("server received %+v", got)
	}
}
