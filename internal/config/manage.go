package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DeviceOverrides is the per-device configuration block served by the
// management API. Every field is optional; unset fields fall through to the
// base config.
type DeviceOverrides struct {
	// Prompt replaces the assistant persona for this device.
	Prompt string `json:"prompt,omitempty"`

	// Providers overrides provider entries, keyed by kind ("vad", "asr",
	// "llm", "tts", "memory").
	Providers map[string]ProviderOverride `json:"providers,omitempty"`
}

// ProviderOverride mirrors [ProviderEntry] with JSON tags for the
// management API wire format.
type ProviderOverride struct {
	Name    string         `json:"name"`
	APIKey  string         `json:"api_key,omitempty"`
	BaseURL string         `json:"base_url,omitempty"`
	Model   string         `json:"model,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Entry converts the override to a [ProviderEntry].
func (o ProviderOverride) Entry() ProviderEntry {
	return ProviderEntry{
		Name:    o.Name,
		APIKey:  o.APIKey,
		BaseURL: o.BaseURL,
		Model:   o.Model,
		Options: o.Options,
	}
}

// Apply returns a copy of base with the overrides applied. The base config
// is never mutated; each connection works from its own effective config.
func (d *DeviceOverrides) Apply(base *Config) *Config {
	cfg := *base
	if d == nil {
		return &cfg
	}
	if d.Prompt != "" {
		cfg.Prompt = d.Prompt
	}
	for kind, o := range d.Providers {
		if o.Name == "" {
			continue
		}
		switch ProviderKind(kind) {
		case KindVAD:
			cfg.Providers.VAD = o.Entry()
		case KindASR:
			cfg.Providers.ASR = o.Entry()
		case KindLLM:
			cfg.Providers.LLM = o.Entry()
		case KindTTS:
			cfg.Providers.TTS = o.Entry()
		case KindMemory:
			cfg.Providers.Memory = o.Entry()
		}
	}
	return &cfg
}

// UsageReport is a single dialogue record posted back to the management API.
type UsageReport struct {
	DeviceID  string    `json:"device_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ManagerClient talks to the management API for per-device configuration
// overrides and usage reporting. Responses are cached per device with a
// content hash so callers can tell whether anything actually changed since
// the last fetch.
type ManagerClient struct {
	baseURL string
	secret  string
	httpc   *http.Client

	mu       sync.Mutex
	lastHash map[string][sha256.Size]byte
}

// NewManagerClient creates a client for the management API at baseURL.
func NewManagerClient(baseURL, secret string) *ManagerClient {
	return &ManagerClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		secret:   secret,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		lastHash: make(map[string][sha256.Size]byte),
	}
}

// FetchOverrides retrieves the override block for deviceID. The second return
// value reports whether the content differs from the previous fetch for the
// same device; a caller holding already-built providers can skip rebuilding
// when it is false. A 404 means the device has no overrides and returns
// (nil, changed, nil).
func (c *ManagerClient) FetchOverrides(ctx context.Context, deviceID string) (*DeviceOverrides, bool, error) {
	url := fmt.Sprintf("%s/config/%s", c.baseURL, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("config: build manager request: %w", err)
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("config: fetch device overrides: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		changed := c.updateHash(deviceID, nil)
		return nil, changed, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("config: manager returned status %d for device %s", resp.StatusCode, deviceID)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false, fmt.Errorf("config: read manager response: %w", err)
	}

	var overrides DeviceOverrides
	if err := json.Unmarshal(body, &overrides); err != nil {
		return nil, false, fmt.Errorf("config: decode device overrides: %w", err)
	}

	changed := c.updateHash(deviceID, body)
	return &overrides, changed, nil
}

// Report posts a usage record. Errors are returned for the caller to log;
// reporting is best-effort and must never break the dialogue.
func (c *ManagerClient) Report(ctx context.Context, r UsageReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("config: encode usage report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/report", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("config: build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("config: post usage report: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("config: manager rejected usage report with status %d", resp.StatusCode)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// updateHash records the latest response body hash for deviceID and reports
// whether it differs from the previous one. A first fetch always counts as
// changed.
func (c *ManagerClient) updateHash(deviceID string, body []byte) bool {
	h := sha256.Sum256(body)
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, seen := c.lastHash[deviceID]
	c.lastHash[deviceID] = h
	return !seen || prev != h
}
