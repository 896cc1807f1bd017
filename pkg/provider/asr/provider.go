// Package asr defines the provider interfaces for Automatic Speech Recognition
// backends.
//
// Two interface variants exist, mirroring the two deployment shapes:
//
//   - Transcriber: a blocking transcribe of one PCM utterance. Local engines
//     (whisper.cpp) implement it as a process-wide singleton shared across
//     connections; remote batch APIs implement it per request.
//
//   - Streamer: a per-connection stream. The caller pushes audio frames as
//     they arrive and receives final transcripts on a channel.
//
// The connection orchestrator accepts either; the Transcriber path buffers
// audio between voice-start and voice-stop itself.
package asr

import (
	"context"

	"github.com/voxwire/voxwire/pkg/types"
)

// Transcriber is the blocking variant. Implementations must be safe for
// concurrent use from multiple connections.
type Transcriber interface {
	// Transcribe converts one utterance of 16 kHz mono little-endian PCM into
	// a transcript. The returned text may be empty when no speech was
	// recognized.
	Transcribe(ctx context.Context, pcm []byte) (types.Transcript, error)

	// Close releases engine resources (model handles, HTTP pools).
	Close() error
}

// Streamer is the per-connection streaming variant.
type Streamer interface {
	// OpenStream starts a new transcription stream. The stream is closed by
	// calling StreamHandle.Close or by cancelling ctx.
	OpenStream(ctx context.Context) (StreamHandle, error)
}

// StreamHandle is one live transcription stream.
type StreamHandle interface {
	// SendAudio pushes a chunk of 16 kHz mono little-endian PCM.
	SendAudio(pcm []byte) error

	// Finals returns the channel of final transcripts. It is closed when the
	// stream ends.
	Finals() <-chan types.Transcript

	// Close ends the stream, flushing any pending audio first.
	Close() error
}
