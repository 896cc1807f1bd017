// Package wakeword recognizes configured wake phrases in transcripts and
// serves a pre-synthesized greeting so the device hears a response without a
// full LLM round trip.
package wakeword

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/provider/tts"
)

// maxEditDistance is how far a transcript may stray from a configured wake
// word and still count. ASR tends to mangle short phrases by a character or
// two.
const maxEditDistance = 1

// greetings are the responses spoken when a wake word is heard. One is picked
// at random per refresh so repeated wakes do not sound canned.
var greetings = []string{
	"Hi there! What can I do for you?",
	"Hello! I'm listening.",
	"Hey! How can I help?",
}

// Detector matches transcripts against a configured wake-word list.
type Detector struct {
	words []string
}

// NewDetector normalizes and stores the configured wake words.
func NewDetector(words []string) *Detector {
	d := &Detector{words: make([]string, 0, len(words))}
	for _, w := range words {
		if n := normalize(w); n != "" {
			d.words = append(d.words, n)
		}
	}
	return d
}

// Match reports whether text is a wake phrase. Punctuation and case are
// ignored; a Levenshtein distance of up to maxEditDistance is tolerated.
func (d *Detector) Match(text string) bool {
	n := normalize(text)
	if n == "" {
		return false
	}
	for _, w := range d.words {
		if n == w {
			return true
		}
		if matchr.Levenshtein(n, w) <= maxEditDistance {
			return true
		}
	}
	return false
}

// normalize lowercases and strips everything except letters and digits, so
// "Hey, Robot!" and "hey robot" compare equal.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Responder keeps a pre-synthesized greeting ready. When the cache is
// enabled, a wake word is answered from memory and the cache refreshes in the
// background for the next wake.
type Responder struct {
	synth   tts.Synthesizer
	enabled bool
	log     *slog.Logger

	mu         sync.Mutex
	text       string
	frames     [][]byte
	refreshing bool
}

// NewResponder builds a responder. When enabled is false, Respond always
// reports a miss and the caller falls back to a normal dialogue turn.
func NewResponder(synth tts.Synthesizer, enabled bool, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{
		synth:   synth,
		enabled: enabled,
		log:     log.With("component", "wakeword"),
	}
}

// Warm synthesizes the first greeting synchronously so the very first wake is
// already served from cache. Optional; Respond triggers refreshes on its own.
func (r *Responder) Warm(ctx context.Context) error {
	if !r.enabled {
		return nil
	}
	return r.refresh(ctx)
}

// Respond returns the cached greeting text and audio frames. ok is false when
// the cache is disabled or still empty; the caller should then greet through
// the regular pipeline. A hit schedules a background refresh so the next wake
// gets a fresh greeting.
func (r *Responder) Respond(ctx context.Context) (text string, frames [][]byte, ok bool) {
	if !r.enabled {
		return "", nil, false
	}
	r.mu.Lock()
	text = r.text
	frames = r.frames
	hasCache := len(frames) > 0
	startRefresh := !r.refreshing
	if startRefresh {
		r.refreshing = true
	}
	r.mu.Unlock()

	if startRefresh {
		go func() {
			if err := r.refresh(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn("greeting refresh failed", "error", err)
			}
		}()
	}
	return text, frames, hasCache
}

// refresh picks a greeting, synthesizes and encodes it, and swaps the cache.
func (r *Responder) refresh(ctx context.Context) error {
	defer func() {
		r.mu.Lock()
		r.refreshing = false
		r.mu.Unlock()
	}()

	text := greetings[rand.Intn(len(greetings))]
	pcm, err := r.synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("wakeword: synthesize greeting: %w", err)
	}
	enc, err := audio.NewEncoder()
	if err != nil {
		return fmt.Errorf("wakeword: init encoder: %w", err)
	}
	var frames [][]byte
	err = enc.Encode(pcm, true, func(frame []byte) error {
		frames = append(frames, append([]byte(nil), frame...))
		return nil
	})
	if err != nil {
		return fmt.Errorf("wakeword: encode greeting: %w", err)
	}

	r.mu.Lock()
	r.text = text
	r.frames = frames
	r.mu.Unlock()
	return nil
}
