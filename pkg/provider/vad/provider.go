// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own smoothing history so
// that concurrent device connections are processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// voice/silence classification, making it suitable for gating the ASR input in
// the low-latency inbound audio path.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the PCM frames passed to
	// ProcessFrame. Devices send 16000.
	SampleRate int

	// Threshold is the score above which a frame is classified as voice.
	// Range [0.0, 1.0]; zero selects the engine default.
	Threshold float64
}

// SessionHandle is an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame classifies one PCM frame (little-endian int16 samples) as
	// voice or silence. It must not block.
	ProcessFrame(pcm []int16) (bool, error)

	// Reset clears accumulated detection state without closing the session.
	// Used when the stream is interrupted (barge-in, wake-word suppression) so
	// stale state from the previous segment cannot leak into the next.
	Reset()

	// Close releases session resources. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
// Multiple goroutines may call NewSession simultaneously.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
