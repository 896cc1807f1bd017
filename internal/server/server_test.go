package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/gateway"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/server"
	asrmock "github.com/voxwire/voxwire/pkg/provider/asr/mock"
	llmmock "github.com/voxwire/voxwire/pkg/provider/llm/mock"
	ttsmock "github.com/voxwire/voxwire/pkg/provider/tts/mock"
	vadmock "github.com/voxwire/voxwire/pkg/provider/vad/mock"
)

func testDeps(cfg *config.Config) gateway.Deps {
	return gateway.Deps{
		Config:  cfg,
		VAD:     &vadmock.Engine{},
		ASR:     &asrmock.Transcriber{},
		LLM:     &llmmock.Provider{},
		TTS:     &ttsmock.Synthesizer{},
		Metrics: observe.DefaultMetrics(),
	}
}

func testServerConfig() *config.Config {
	off := false
	return &config.Config{
		Server: config.ServerConfig{
			WebsocketPath: "/xiaozhi/v1/",
		},
		Prompt:                     "You are a helpful assistant.",
		SilenceThresholdMs:         700,
		CloseConnectionNoVoiceTime: 120,
		EndPrompt:                  config.EndPromptConfig{Enable: &off},
	}
}

func startServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(server.New(testDeps(cfg)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, wsURL(srv, "/xiaozhi/v1/"), &websocket.DialOptions{
		HTTPHeader: header,
	})
}

func TestServer_HelloExchange(t *testing.T) {
	t.Parallel()

	srv := startServer(t, testServerConfig())
	conn, _, err := dial(t, srv, http.Header{"device-id": []string{"aa:bb:cc:dd:ee:ff"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hello := map[string]any{
		"type": "hello",
		"audio_params": map[string]any{
			"format": "opus", "sample_rate": 16000, "channels": 1, "frame_duration": 60,
		},
	}
	raw, _ := json.Marshal(hello)
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read server hello: %v", err)
	}
	var reply struct {
		Type      string `json:"type"`
		Transport string `json:"transport"`
		SessionID string `json:"session_id"`
		AudioParams struct {
			SampleRate int `json:"sample_rate"`
		} `json:"audio_params"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reply.Type != "hello" || reply.Transport != "websocket" {
		t.Errorf("reply = %+v", reply)
	}
	if reply.SessionID == "" {
		t.Error("missing session id")
	}
	if reply.AudioParams.SampleRate != 16000 {
		t.Errorf("sample rate = %d", reply.AudioParams.SampleRate)
	}
}

func TestServer_RejectsMissingDeviceID(t *testing.T) {
	t.Parallel()

	srv := startServer(t, testServerConfig())
	_, resp, err := dial(t, srv, nil)
	if err == nil {
		t.Fatal("dial succeeded without device id")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("response = %+v", resp)
	}
}

func TestServer_AuthRejectsUnknownDevice(t *testing.T) {
	t.Parallel()

	cfg := testServerConfig()
	cfg.Server.Auth = config.AuthConfig{
		Enable:         true,
		AllowedDevices: []string{"11:22:33:44:55:66"},
	}
	srv := startServer(t, cfg)

	_, resp, err := dial(t, srv, http.Header{"device-id": []string{"aa:bb:cc:dd:ee:ff"}})
	if err == nil {
		t.Fatal("dial succeeded for unlisted device")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %+v", resp)
	}
}

func TestServer_AuthWhitelistedDeviceConnects(t *testing.T) {
	t.Parallel()

	cfg := testServerConfig()
	cfg.Server.Auth = config.AuthConfig{
		Enable:         true,
		AllowedDevices: []string{"aa:bb:cc:dd:ee:ff"},
	}
	srv := startServer(t, cfg)

	conn, _, err := dial(t, srv, http.Header{"device-id": []string{"aa:bb:cc:dd:ee:ff"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

func TestServer_AuthTokenConnects(t *testing.T) {
	t.Parallel()

	cfg := testServerConfig()
	cfg.Server.Auth = config.AuthConfig{
		Enable: true,
		Tokens: []config.TokenEntry{{Token: "secret-token", Name: "bench device"}},
	}
	srv := startServer(t, cfg)

	conn, _, err := dial(t, srv, http.Header{
		"device-id":     []string{"aa:bb:cc:dd:ee:ff"},
		"Authorization": []string{"Bearer secret-token"},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	srv := startServer(t, testServerConfig())

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	rresp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	defer rresp.Body.Close()
	if rresp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d", rresp.StatusCode)
	}

	mresp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer mresp.Body.Close()
	if mresp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", mresp.StatusCode)
	}
}
