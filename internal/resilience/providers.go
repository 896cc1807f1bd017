package resilience

import (
	"context"
	"errors"

	"github.com/voxwire/voxwire/pkg/provider/asr"
	"github.com/voxwire/voxwire/pkg/provider/llm"
	"github.com/voxwire/voxwire/pkg/provider/tts"
	"github.com/voxwire/voxwire/pkg/types"
)

// LLM implements [llm.Provider] with failover across multiple chat backends.
type LLM struct {
	chain *Chain[llm.Provider]
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM creates an [LLM] with primary as the preferred backend.
func NewLLM(primaryName string, primary llm.Provider, cfg BreakerConfig) *LLM {
	return &LLM{chain: NewChain("llm", primaryName, primary, cfg)}
}

// AddFallback registers an additional chat backend.
func (f *LLM) AddFallback(name string, p llm.Provider) {
	f.chain.Add(name, p)
}

// StreamCompletion opens a completion stream on the first healthy backend.
// Failover covers only stream setup; once a stream is established, in-band
// error chunks are the caller's to handle.
func (f *LLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return RunResult(f.chain, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Complete runs the request on the first healthy backend.
func (f *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return RunResult(f.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// TTS implements [tts.Synthesizer] with failover across multiple synthesis
// backends. Voices differ between backends, so a failover mid-conversation is
// audible; that beats silence.
type TTS struct {
	chain *Chain[tts.Synthesizer]
}

var _ tts.Synthesizer = (*TTS)(nil)

// NewTTS creates a [TTS] with primary as the preferred backend.
func NewTTS(primaryName string, primary tts.Synthesizer, cfg BreakerConfig) *TTS {
	return &TTS{chain: NewChain("tts", primaryName, primary, cfg)}
}

// AddFallback registers an additional synthesis backend.
func (f *TTS) AddFallback(name string, s tts.Synthesizer) {
	f.chain.Add(name, s)
}

// Synthesize renders text on the first healthy backend.
func (f *TTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return RunResult(f.chain, func(s tts.Synthesizer) ([]byte, error) {
		return s.Synthesize(ctx, text)
	})
}

// ASR implements [asr.Transcriber] with failover across multiple recognition
// backends.
type ASR struct {
	chain *Chain[asr.Transcriber]
}

var _ asr.Transcriber = (*ASR)(nil)

// NewASR creates an [ASR] with primary as the preferred backend.
func NewASR(primaryName string, primary asr.Transcriber, cfg BreakerConfig) *ASR {
	return &ASR{chain: NewChain("asr", primaryName, primary, cfg)}
}

// AddFallback registers an additional recognition backend.
func (f *ASR) AddFallback(name string, t asr.Transcriber) {
	f.chain.Add(name, t)
}

// Transcribe runs the utterance through the first healthy backend.
func (f *ASR) Transcribe(ctx context.Context, pcm []byte) (types.Transcript, error) {
	return RunResult(f.chain, func(t asr.Transcriber) (types.Transcript, error) {
		return t.Transcribe(ctx, pcm)
	})
}

// Close closes every backend in the chain, joining their errors.
func (f *ASR) Close() error {
	var errs []error
	f.chain.Each(func(t asr.Transcriber) {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
