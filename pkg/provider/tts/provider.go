// Package tts defines the provider interfaces for Text-to-Speech backends.
//
// Three interface variants exist, matching the shapes real synthesis services
// come in. The pipeline feeds all three into the same per-connection audio
// queue:
//
//   - Synthesizer: one blocking call per sentence, full PCM back.
//   - StreamSynthesizer: one call per sentence, PCM chunks back on a channel.
//   - SessionSynthesizer: a session is opened per turn, text is pushed
//     incrementally and PCM arrives interleaved until Finish.
//
// All PCM is 16 kHz mono 16-bit little-endian. The voice is fixed at provider
// construction; per-device voice selection happens at connection init by
// building the provider from the device's configuration.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer is the blocking one-shot variant.
type Synthesizer interface {
	// Synthesize converts one sentence into PCM. An empty result without
	// error means the backend produced no audio for the text.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// StreamSynthesizer is the per-sentence streaming variant.
type StreamSynthesizer interface {
	// SynthesizeStream converts one sentence into a stream of PCM chunks.
	// The returned channel is closed when synthesis completes or ctx is
	// cancelled; the caller must drain it.
	SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error)
}

// SessionSynthesizer is the session-scoped variant: open once per turn, push
// text fragments as they stream out of the LLM, read audio interleaved.
type SessionSynthesizer interface {
	// OpenSession starts a synthesis session. The session ends when Finish is
	// called or ctx is cancelled.
	OpenSession(ctx context.Context) (Session, error)
}

// Session is one live dual-stream synthesis session.
type Session interface {
	// PushText submits a text fragment for synthesis.
	PushText(text string) error

	// Audio returns the channel of PCM chunks. It is closed after Finish once
	// all pushed text has been synthesized.
	Audio() <-chan []byte

	// Finish signals end of input and releases the session. Calling Finish
	// more than once is safe.
	Finish() error
}
