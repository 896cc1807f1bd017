// Package mock provides test doubles for the asr package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/voxwire/voxwire/pkg/provider/asr"
	"github.com/voxwire/voxwire/pkg/types"
)

// Transcriber is a mock implementation of asr.Transcriber.
//
// Each Transcribe call pops the next value from Script; when Script is
// exhausted, Result is returned.
type Transcriber struct {
	mu sync.Mutex

	// Script holds transcripts consumed in order by successive calls.
	Script []types.Transcript

	// Result is returned once Script is exhausted.
	Result types.Transcript

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// Calls records a copy of the PCM passed to each Transcribe call.
	Calls [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Transcribe records the call and returns the next scripted transcript.
func (t *Transcriber) Transcribe(_ context.Context, pcm []byte) (types.Transcript, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	t.Calls = append(t.Calls, cp)
	if t.TranscribeErr != nil {
		return types.Transcript{}, t.TranscribeErr
	}
	if len(t.Script) > 0 {
		tr := t.Script[0]
		t.Script = t.Script[1:]
		return tr, nil
	}
	return t.Result, nil
}

// Close records the call.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCallCount++
	return nil
}

// Ensure Transcriber implements asr.Transcriber at compile time.
var _ asr.Transcriber = (*Transcriber)(nil)

// Streamer is a mock implementation of asr.Streamer.
type Streamer struct {
	mu sync.Mutex

	// Stream is returned by OpenStream. If nil, a new default Stream is returned.
	Stream *Stream

	// OpenErr, if non-nil, is returned by OpenStream.
	OpenErr error

	// OpenCount is the number of OpenStream calls.
	OpenCount int
}

// OpenStream records the call and returns Stream, OpenErr.
func (s *Streamer) OpenStream(context.Context) (asr.StreamHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCount++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Stream == nil {
		s.Stream = NewStream()
	}
	return s.Stream, nil
}

// Ensure Streamer implements asr.Streamer at compile time.
var _ asr.Streamer = (*Streamer)(nil)

// Stream is a mock implementation of asr.StreamHandle. Tests push transcripts
// with Emit and the consumer reads them from Finals.
type Stream struct {
	mu sync.Mutex

	finals chan types.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// Sent records a copy of the PCM passed to each SendAudio call.
	Sent [][]byte

	closed bool
}

// NewStream creates a Stream with a buffered Finals channel.
func NewStream() *Stream {
	return &Stream{finals: make(chan types.Transcript, 16)}
}

// Emit delivers a final transcript to the Finals channel.
func (s *Stream) Emit(tr types.Transcript) {
	s.finals <- tr
}

// SendAudio records the call.
func (s *Stream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.Sent = append(s.Sent, cp)
	return nil
}

// Finals returns the transcript channel.
func (s *Stream) Finals() <-chan types.Transcript { return s.finals }

// Close closes the Finals channel. Calling Close more than once is safe.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.finals)
	}
	return nil
}

// Ensure Stream implements asr.StreamHandle at compile time.
var _ asr.StreamHandle = (*Stream)(nil)
