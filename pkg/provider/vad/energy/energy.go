// Package energy provides an RMS-energy-based VAD engine with an adaptive
// noise floor. It needs no model files, which makes it the default engine for
// installations that do not ship a neural VAD.
//
// Each session tracks a slow-moving estimate of the background noise level;
// a frame counts as voice when its normalized RMS exceeds the configured
// threshold above that floor.
package energy

import (
	"errors"
	"math"
	"sync"

	"github.com/voxwire/voxwire/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

const (
	defaultThreshold = 0.02

	// noiseAdapt controls how quickly the noise floor follows quiet frames.
	noiseAdapt = 0.05
)

// Engine implements vad.Engine using frame energy.
type Engine struct{}

// New creates a new energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("energy: sample rate must be positive")
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, errors.New("energy: threshold out of range [0,1]")
	}
	return &session{threshold: threshold}, nil
}

// session holds the adaptive noise floor for one stream.
type session struct {
	mu         sync.Mutex
	threshold  float64
	noiseFloor float64
	closed     bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(pcm []int16) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errors.New("energy: session is closed")
	}
	if len(pcm) == 0 {
		return false, nil
	}

	rms := frameRMS(pcm)

	voiced := rms > s.noiseFloor+s.threshold
	if !voiced {
		// Only quiet frames feed the noise estimate; otherwise sustained
		// speech would raise the floor until it masks itself.
		s.noiseFloor = s.noiseFloor*(1-noiseAdapt) + rms*noiseAdapt
	}
	return voiced, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noiseFloor = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// frameRMS returns the root-mean-square of the frame normalized to [0,1].
func frameRMS(pcm []int16) float64 {
	var sum float64
	for _, sample := range pcm {
		f := float64(sample) / math.MaxInt16
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
