package ttspipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/protocol"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/provider/tts"
)

// maxSynthAttempts bounds synthesis retries per sentence.
const maxSynthAttempts = 5

// sendPollInterval is how long the audio sender waits between queue checks
// when idle.
const sendPollInterval = 100 * time.Millisecond

// Device is the outbound half of a connection as seen by the pipeline.
type Device interface {
	// SendAudio sends one Opus frame to the device.
	SendAudio(ctx context.Context, frame []byte) error

	// SendTTS sends a speaking-state control message.
	SendTTS(ctx context.Context, state, text string) error
}

type sentenceItem struct {
	turn   int64
	typ    SentenceType
	text   string
	queued time.Time
	end    bool // turn end marker, text is empty
}

type audioItem struct {
	turn   int64
	typ    SentenceType
	text   string
	queued time.Time
	frames [][]byte
	end    bool
}

// Pipeline synthesizes queued sentences and streams the audio to a device in
// order. Sentences carry the turn they belong to; [Pipeline.Abort] advances
// the current turn so queued and in-flight work for older turns is dropped.
//
// Backends that also implement [tts.StreamSynthesizer] or
// [tts.SessionSynthesizer] are detected at construction and their streaming
// variants used; all three shapes feed the same audio queue.
type Pipeline struct {
	synth   tts.Synthesizer
	stream  tts.StreamSynthesizer  // non-nil when the backend streams chunks
	session tts.SessionSynthesizer // non-nil when the backend is dual-stream
	dev     Device
	log     *slog.Logger
	metrics *observe.Metrics

	turn     atomic.Int64
	speaking atomic.Bool
	textCh   chan sentenceItem
	audioCh  chan audioItem

	stop   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records synthesis latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline and starts its synthesis and sender workers. Call
// [Pipeline.Close] to stop them.
func New(synth tts.Synthesizer, dev Device, log *slog.Logger, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		synth:   synth,
		dev:     dev,
		log:     log,
		textCh:  make(chan sentenceItem, 64),
		audioCh: make(chan audioItem, 16),
		stop:    ctx,
		cancel:  cancel,
	}
	if s, ok := synth.(tts.StreamSynthesizer); ok {
		p.stream = s
	}
	if s, ok := synth.(tts.SessionSynthesizer); ok {
		p.session = s
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(2)
	go p.synthWorker(ctx)
	go p.sendWorker(ctx)
	return p
}

// BeginTurn opens a new speaking turn, invalidating all older turns, and
// announces it to the device. It returns the turn handle to pass to
// [Pipeline.Speak] and [Pipeline.Finish].
func (p *Pipeline) BeginTurn(ctx context.Context) int64 {
	turn := p.turn.Add(1)
	p.speaking.Store(true)
	if err := p.dev.SendTTS(ctx, protocol.TTSStateStart, ""); err != nil {
		p.log.Warn("tts start message failed", "err", err)
	}
	return turn
}

// Speak queues one sentence for synthesis, blocking for queue space so no
// sentence is lost to backpressure. Sentences queued under a stale turn are
// dropped silently.
func (p *Pipeline) Speak(turn int64, typ SentenceType, text string) {
	if text == "" || p.stale(turn) {
		return
	}
	select {
	case p.textCh <- sentenceItem{turn: turn, typ: typ, text: text, queued: time.Now()}:
	case <-p.stop.Done():
	}
}

// Finish marks the end of a turn. Once all audio queued before it has been
// sent, the device receives the stop message.
func (p *Pipeline) Finish(turn int64) {
	if p.stale(turn) {
		return
	}
	select {
	case p.textCh <- sentenceItem{turn: turn, end: true}:
	case <-p.stop.Done():
	}
}

// SpeakOne speaks a standalone utterance as its own turn: wake replies,
// idle prompts, farewells.
func (p *Pipeline) SpeakOne(ctx context.Context, text string) {
	turn := p.BeginTurn(ctx)
	p.Speak(turn, SentenceFirst, text)
	p.Finish(turn)
}

// Abort cancels the current turn: all queued sentences and audio are
// dropped and the device is told to stop playback immediately.
func (p *Pipeline) Abort(ctx context.Context) {
	p.turn.Add(1)
	p.speaking.Store(false)
	p.drain()
	if err := p.dev.SendTTS(ctx, protocol.TTSStateStop, ""); err != nil {
		p.log.Warn("tts stop message failed", "err", err)
	}
}

// Close stops the workers. Queued audio is discarded.
func (p *Pipeline) Close() {
	p.turn.Add(1)
	p.speaking.Store(false)
	p.cancel()
	p.drain()
	p.wg.Wait()
}

// CurrentTurn returns the latest turn handle.
func (p *Pipeline) CurrentTurn() int64 { return p.turn.Load() }

// Speaking reports whether a turn is between its start and stop messages,
// i.e. the device is (or is about to be) playing audio.
func (p *Pipeline) Speaking() bool { return p.speaking.Load() }

func (p *Pipeline) stale(turn int64) bool { return turn != p.turn.Load() }

// drain empties both queues without blocking.
func (p *Pipeline) drain() {
	for {
		select {
		case <-p.textCh:
		case <-p.audioCh:
		default:
			return
		}
	}
}

// synthWorker synthesizes sentences in queue order and hands the encoded
// frames to the sender.
func (p *Pipeline) synthWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.textCh:
			if p.stale(item.turn) {
				continue
			}
			out := audioItem{turn: item.turn, typ: item.typ, text: item.text, queued: item.queued, end: item.end}
			if !item.end {
				pcm, err := p.synthesize(ctx, item.text)
				if err != nil {
					p.log.Error("tts synthesis failed, skipping sentence", "text", item.text, "err", err)
					continue
				}
				frames, err := encodeFrames(pcm)
				if err != nil {
					p.log.Error("opus encode failed, skipping sentence", "err", err)
					continue
				}
				out.frames = frames
			}
			if p.stale(item.turn) {
				continue
			}
			select {
			case p.audioCh <- out:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sendWorker streams audio items to the device at playback pace.
func (p *Pipeline) sendWorker(ctx context.Context) {
	defer p.wg.Done()
	poll := time.NewTicker(sendPollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.audioCh:
			p.sendItem(ctx, item)
		case <-poll.C:
		}
	}
}

func (p *Pipeline) sendItem(ctx context.Context, item audioItem) {
	if p.stale(item.turn) {
		return
	}
	if item.end {
		p.speaking.Store(false)
		if err := p.dev.SendTTS(ctx, protocol.TTSStateStop, ""); err != nil {
			p.log.Warn("tts stop message failed", "err", err)
		}
		return
	}

	if err := p.dev.SendTTS(ctx, protocol.TTSStateSentenceStart, item.text); err != nil {
		p.log.Warn("sentence_start message failed", "err", err)
	}

	pace := time.NewTicker(audio.FrameSizeMs * time.Millisecond)
	defer pace.Stop()
	for i, frame := range item.frames {
		if p.stale(item.turn) {
			return
		}
		if i == 0 && p.metrics != nil && !item.queued.IsZero() {
			p.metrics.TTSFirstAudio.Record(ctx, time.Since(item.queued).Seconds())
		}
		if err := p.dev.SendAudio(ctx, frame); err != nil {
			p.log.Warn("audio frame send failed", "err", err)
			return
		}
		select {
		case <-pace.C:
		case <-ctx.Done():
			return
		}
	}

	if p.stale(item.turn) {
		return
	}
	if err := p.dev.SendTTS(ctx, protocol.TTSStateSentenceEnd, item.text); err != nil {
		p.log.Warn("sentence_end message failed", "err", err)
	}
}

// synthesize runs one sentence through the richest variant the backend
// offers: dual-stream session, chunked stream, or the blocking call. A
// streaming failure falls back to the blocking path with retries.
func (p *Pipeline) synthesize(ctx context.Context, text string) ([]byte, error) {
	if p.session != nil {
		pcm, err := p.synthesizeSession(ctx, text)
		if err == nil {
			return pcm, nil
		}
		p.log.Warn("session synthesis failed, falling back", "err", err)
	}
	if p.stream != nil {
		ch, err := p.stream.SynthesizeStream(ctx, text)
		if err == nil {
			var pcm []byte
			for chunk := range ch {
				pcm = append(pcm, chunk...)
			}
			return pcm, nil
		}
		p.log.Warn("streaming synthesis failed, falling back", "err", err)
	}
	return p.synthesizeWithRetry(ctx, text)
}

// synthesizeSession drives one sentence through a dual-stream session.
func (p *Pipeline) synthesizeSession(ctx context.Context, text string) ([]byte, error) {
	sess, err := p.session.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.PushText(text); err != nil {
		sess.Finish()
		return nil, err
	}
	if err := sess.Finish(); err != nil {
		return nil, err
	}
	var pcm []byte
	for chunk := range sess.Audio() {
		pcm = append(pcm, chunk...)
	}
	return pcm, nil
}

// synthesizeWithRetry calls the synthesizer up to maxSynthAttempts times
// with a short growing backoff.
func (p *Pipeline) synthesizeWithRetry(ctx context.Context, text string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSynthAttempts; attempt++ {
		pcm, err := p.synth.Synthesize(ctx, text)
		if err == nil {
			return pcm, nil
		}
		lastErr = err
		p.log.Warn("tts synthesis attempt failed", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("ttspipe: synthesis failed after %d attempts: %w", maxSynthAttempts, lastErr)
}

// encodeFrames converts 16 kHz mono PCM into whole Opus frames.
func encodeFrames(pcm []byte) ([][]byte, error) {
	enc, err := audio.NewEncoder()
	if err != nil {
		return nil, err
	}
	var frames [][]byte
	err = enc.Encode(pcm, true, func(frame []byte) error {
		f := make([]byte, len(frame))
		copy(f, frame)
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frames, nil
}
