package wakeword_test

import (
	"context"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/wakeword"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/provider/tts/mock"
)

func TestDetector_Match(t *testing.T) {
	t.Parallel()

	d := wakeword.NewDetector([]string{"hey robot", "你好小智"})

	tests := []struct {
		text string
		want bool
	}{
		{"hey robot", true},
		{"Hey, Robot!", true},     // punctuation and case ignored
		{"hey robo", true},        // one character off
		{"hey rowbot", true},      // one insertion
		{"hey roobott", false},    // two edits away
		{"你好小智", true},
		{"你好小智。", true},
		{"turn on the lights", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := d.Match(tc.text); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestDetector_EmptyList(t *testing.T) {
	t.Parallel()
	d := wakeword.NewDetector(nil)
	if d.Match("hey robot") {
		t.Error("empty detector matched")
	}
}

func TestResponder_Disabled(t *testing.T) {
	t.Parallel()

	synth := &mock.Synthesizer{PCM: make([]byte, audio.FrameBytes)}
	r := wakeword.NewResponder(synth, false, nil)

	if _, _, ok := r.Respond(context.Background()); ok {
		t.Error("disabled responder reported a cache hit")
	}
	if synth.CallCount() != 0 {
		t.Error("disabled responder synthesized")
	}
}

func TestResponder_WarmThenRespond(t *testing.T) {
	t.Parallel()

	synth := &mock.Synthesizer{PCM: make([]byte, audio.FrameBytes*2)}
	r := wakeword.NewResponder(synth, true, nil)

	if err := r.Warm(context.Background()); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	text, frames, ok := r.Respond(context.Background())
	if !ok {
		t.Fatal("expected cache hit after Warm")
	}
	if text == "" {
		t.Error("cached greeting has no text")
	}
	if len(frames) == 0 {
		t.Error("cached greeting has no audio")
	}

	// The hit schedules a background refresh.
	deadline := time.Now().Add(2 * time.Second)
	for synth.CallCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("background refresh never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResponder_FirstRespondMissesButPrimes(t *testing.T) {
	t.Parallel()

	synth := &mock.Synthesizer{PCM: make([]byte, audio.FrameBytes)}
	r := wakeword.NewResponder(synth, true, nil)

	if _, _, ok := r.Respond(context.Background()); ok {
		t.Error("cold cache reported a hit")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, ok := r.Respond(context.Background()); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("cache never primed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
