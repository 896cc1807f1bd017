// Package vadgate turns per-frame voice activity decisions into clean
// speech-edge events. A short majority window debounces the start edge and a
// configurable silence run closes the turn.
package vadgate

import (
	"fmt"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/provider/vad"
)

// Event is a speech edge produced by the gate.
type Event int

const (
	EventNone Event = iota
	EventVoiceStart
	EventVoiceStop
)

func (e Event) String() string {
	switch e {
	case EventVoiceStart:
		return "voice_start"
	case EventVoiceStop:
		return "voice_stop"
	}
	return "none"
}

const (
	// windowSize is how many recent frame decisions vote on the start edge.
	windowSize = 5

	// startVotes is how many voiced frames within the window open a turn.
	startVotes = 2
)

// Gate debounces a VAD session's frame decisions into voice_start and
// voice_stop events. It is not safe for concurrent use; each connection owns
// one gate driven from its audio goroutine.
type Gate struct {
	session vad.SessionHandle

	silenceStopMs int
	window        []bool
	inVoice       bool
	silenceMs     int
	suppressMs    int
}

// New creates a gate over an existing VAD session. silenceStopMs is how much
// trailing silence ends a turn.
func New(session vad.SessionHandle, silenceStopMs int) *Gate {
	return &Gate{
		session:       session,
		silenceStopMs: silenceStopMs,
		window:        make([]bool, 0, windowSize),
	}
}

// ProcessFrame classifies one PCM frame and returns the edge event it
// triggered, if any.
func (g *Gate) ProcessFrame(pcm []int16) (Event, error) {
	voiced, err := g.session.ProcessFrame(pcm)
	if err != nil {
		return EventNone, fmt.Errorf("vadgate: classify frame: %w", err)
	}

	if g.suppressMs > 0 {
		g.suppressMs -= audio.FrameSizeMs
		return EventNone, nil
	}

	if len(g.window) == windowSize {
		g.window = g.window[1:]
	}
	g.window = append(g.window, voiced)

	if !g.inVoice {
		votes := 0
		for _, v := range g.window {
			if v {
				votes++
			}
		}
		if votes >= startVotes {
			g.inVoice = true
			g.silenceMs = 0
			return EventVoiceStart, nil
		}
		return EventNone, nil
	}

	if voiced {
		g.silenceMs = 0
		return EventNone, nil
	}
	g.silenceMs += audio.FrameSizeMs
	if g.silenceMs >= g.silenceStopMs {
		g.inVoice = false
		g.silenceMs = 0
		g.window = g.window[:0]
		return EventVoiceStop, nil
	}
	return EventNone, nil
}

// InVoice reports whether the gate currently considers the user speaking.
func (g *Gate) InVoice() bool { return g.inVoice }

// Suppress ignores incoming frames for the given number of milliseconds.
// Used right after a wake word so the tail of the wake phrase does not open
// a phantom turn.
func (g *Gate) Suppress(ms int) { g.suppressMs = ms }

// Reset clears all edge state and the underlying session.
func (g *Gate) Reset() {
	g.window = g.window[:0]
	g.inVoice = false
	g.silenceMs = 0
	g.suppressMs = 0
	g.session.Reset()
}
