// Package mock provides test doubles for the tts package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/voxwire/voxwire/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// PCM is returned by every successful Synthesize call. If PCMFunc is set
	// it takes precedence.
	PCM []byte

	// PCMFunc, when set, computes the result per call from the text.
	PCMFunc func(text string) []byte

	// Errs holds errors consumed in order by successive calls; a nil entry
	// means success. Once exhausted, calls succeed.
	Errs []error

	// Calls records the text of every Synthesize call in order.
	Calls []string
}

// Synthesize records the call and returns the configured PCM or the next
// scripted error.
func (s *Synthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, text)
	if len(s.Errs) > 0 {
		err := s.Errs[0]
		s.Errs = s.Errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if s.PCMFunc != nil {
		return s.PCMFunc(text), nil
	}
	return s.PCM, nil
}

// CallCount returns the number of Synthesize calls so far.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// StreamSynthesizer is a mock implementation of tts.StreamSynthesizer.
type StreamSynthesizer struct {
	mu sync.Mutex

	// Chunks is emitted on the stream for every call.
	Chunks [][]byte

	// StreamErr, if non-nil, is returned by SynthesizeStream.
	StreamErr error

	// Calls records the text of every call in order.
	Calls []string
}

// SynthesizeStream records the call and plays back Chunks.
func (s *StreamSynthesizer) SynthesizeStream(_ context.Context, text string) (<-chan []byte, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, text)
	if s.StreamErr != nil {
		err := s.StreamErr
		s.mu.Unlock()
		return nil, err
	}
	chunks := s.Chunks
	s.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// Ensure StreamSynthesizer implements tts.StreamSynthesizer at compile time.
var _ tts.StreamSynthesizer = (*StreamSynthesizer)(nil)
