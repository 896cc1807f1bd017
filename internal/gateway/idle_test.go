package gateway_test

import (
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/gateway"
)

func idleTestConfig() *config.Config {
	on := true
	cfg := testConfig()
	cfg.CloseConnectionNoVoiceTime = 0
	cfg.EndPrompt = config.EndPromptConfig{Enable: &on, Prompt: "Say a short goodbye."}
	return cfg
}

// farewellSpoken reports whether the end-prompt line (the mock Complete
// response) has been spoken.
func farewellSpoken(h *harness) bool {
	for _, s := range h.transport.sentences() {
		if s == "likes greetings" {
			return true
		}
	}
	return false
}

// Idle silence with the end prompt enabled speaks a farewell but keeps the
// socket open; the next exchange completes and only then the connection
// closes.
func TestConnection_IdleFarewellAllowsOneMoreTurn(t *testing.T) {
	restore := gateway.SetTimingForTest(20*time.Millisecond, 10*time.Second, 100*time.Millisecond)
	defer restore()

	h := newHarness(t, idleTestConfig())
	h.handshake(t)

	waitFor(t, func() bool { return farewellSpoken(h) }, "idle farewell")

	h.transport.pushJSON(t, map[string]any{
		"type": "listen", "state": "detect", "text": "wait, one more thing",
	})
	waitFor(t, func() bool { return len(h.transport.sentences()) >= 2 }, "reply after farewell")

	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("connection stayed open after the post-farewell turn")
	}
}

// With no exchange after the farewell, the grace period runs out and the
// connection closes on its own.
func TestConnection_IdleFarewellTimesOut(t *testing.T) {
	restore := gateway.SetTimingForTest(20*time.Millisecond, 300*time.Millisecond, 100*time.Millisecond)
	defer restore()

	h := newHarness(t, idleTestConfig())
	h.handshake(t)

	waitFor(t, func() bool { return farewellSpoken(h) }, "idle farewell")

	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not close after the idle grace period")
	}
}
