// Package asrsession accumulates one turn of PCM between speech edges and
// produces exactly one final transcript for it.
package asrsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/provider/asr"
	"github.com/voxwire/voxwire/pkg/types"
)

// ErrNoAudio is returned by Finalize when nothing was captured for the turn.
var ErrNoAudio = errors.New("asrsession: no audio captured")

// maxTurnSeconds caps how much audio one turn may accumulate. Anything
// longer is almost certainly a VAD failure, not speech.
const maxTurnSeconds = 60

// Session buffers decoded PCM for the current turn. Backends that also
// implement [asr.Streamer] get a per-turn stream fed frame by frame; the
// buffer is kept alongside so a dead stream degrades to the blocking path.
// It is driven from the connection's audio goroutine and is not safe for
// concurrent use.
type Session struct {
	transcriber asr.Transcriber
	streamer    asr.Streamer // non-nil when the backend streams

	stream    asr.StreamHandle
	pcm       []byte
	capturing bool
}

// New creates a session backed by the given transcriber.
func New(transcriber asr.Transcriber) *Session {
	s := &Session{transcriber: transcriber}
	if st, ok := transcriber.(asr.Streamer); ok {
		s.streamer = st
	}
	return s
}

// Begin starts capturing a new turn, discarding any leftover audio. For a
// streaming backend a per-turn stream is opened; an open failure is returned
// but the turn still captures into the buffer.
func (s *Session) Begin(ctx context.Context) error {
	s.pcm = s.pcm[:0]
	s.capturing = true
	s.discardStream()
	if s.streamer == nil {
		return nil
	}
	h, err := s.streamer.OpenStream(ctx)
	if err != nil {
		return fmt.Errorf("asrsession: open stream: %w", err)
	}
	s.stream = h
	return nil
}

// Capturing reports whether a turn is open.
func (s *Session) Capturing() bool { return s.capturing }

// Push appends one decoded PCM frame to the open turn. Frames pushed while
// no turn is open are dropped.
func (s *Session) Push(pcm []int16) {
	if !s.capturing {
		return
	}
	if len(s.pcm) >= maxTurnSeconds*audio.SampleRate*2 {
		return
	}
	raw := audio.Int16sToBytes(pcm)
	if s.stream != nil {
		if err := s.stream.SendAudio(raw); err != nil {
			// Degrade to the buffered path; frames so far are in the buffer.
			s.discardStream()
		}
	}
	s.pcm = append(s.pcm, raw...)
}

// Finalize closes the turn and transcribes its audio. It returns exactly one
// final transcript per turn; calling it with no open turn or no captured
// audio returns [ErrNoAudio]. A streaming backend's finals are flushed and
// joined; when the stream yields nothing, the buffered audio goes through
// the blocking path instead.
func (s *Session) Finalize(ctx context.Context) (types.Transcript, error) {
	if !s.capturing {
		return types.Transcript{}, ErrNoAudio
	}
	s.capturing = false
	if len(s.pcm) == 0 {
		s.discardStream()
		return types.Transcript{}, ErrNoAudio
	}
	pcm := s.pcm
	s.pcm = nil

	if tr, ok := s.flushStream(); ok {
		return Normalize(tr), nil
	}

	tr, err := s.transcriber.Transcribe(ctx, pcm)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("asrsession: transcribe turn: %w", err)
	}
	return Normalize(tr), nil
}

// Abort closes the turn and discards its audio without transcribing.
func (s *Session) Abort() {
	s.capturing = false
	s.pcm = s.pcm[:0]
	s.discardStream()
}

// flushStream closes the open stream and joins its final transcripts.
func (s *Session) flushStream() (types.Transcript, bool) {
	if s.stream == nil {
		return types.Transcript{}, false
	}
	h := s.stream
	s.stream = nil
	h.Close()
	var parts []string
	var speaker string
	for tr := range h.Finals() {
		if t := strings.TrimSpace(tr.Text); t != "" {
			parts = append(parts, t)
		}
		if tr.Speaker != "" {
			speaker = tr.Speaker
		}
	}
	if len(parts) == 0 {
		return types.Transcript{}, false
	}
	return types.Transcript{Text: strings.Join(parts, " "), Speaker: speaker}, true
}

// discardStream closes the open stream and drops whatever it produced.
func (s *Session) discardStream() {
	if s.stream == nil {
		return
	}
	h := s.stream
	s.stream = nil
	h.Close()
	for range h.Finals() {
	}
}

// Normalize unwraps transcripts that speaker-aware backends return as a
// JSON object of the form {"speaker": ..., "content": ...}. Plain text
// passes through trimmed.
func Normalize(tr types.Transcript) types.Transcript {
	text := strings.TrimSpace(tr.Text)
	tr.Text = text
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return tr
	}
	var wrapped struct {
		Speaker string `json:"speaker"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err != nil || wrapped.Content == "" {
		return tr
	}
	return types.Transcript{Text: wrapped.Content, Speaker: wrapped.Speaker}
}
