// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements both the per-sentence
// tts.StreamSynthesizer and the session-scoped tts.SessionSynthesizer
// interfaces.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/pkg/provider/tts"
)

// Compile-time interface assertions.
var (
	_ tts.StreamSynthesizer  = (*Provider)(nil)
	_ tts.SessionSynthesizer = (*Provider)(nil)
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
// The pipeline expects pcm_16000; other rates are the caller's problem.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// Provider implements streaming TTS backed by the ElevenLabs WebSocket API.
type Provider struct {
	apiKey       string
	voiceID      string
	model        string
	outputFormat string
}

// New creates a new ElevenLabs Provider. apiKey and voiceID must be non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		voiceID:      voiceID,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// audioResponse is the JSON message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// OpenSession implements tts.SessionSynthesizer. It dials the streaming
// endpoint, performs the BOI handshake, and returns a session that accepts
// incremental text pushes.
func (p *Provider) OpenSession(ctx context.Context) (tts.Session, error) {
	wsURL := fmt.Sprintf(wsEndpointFmt, p.voiceID, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	boi := boiMessage{
		Text: " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		XiAPIKey:     p.apiKey,
		OutputFormat: p.outputFormat,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	s := &session{
		ctx:     ctx,
		conn:    conn,
		audioCh: make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// SynthesizeStream implements tts.StreamSynthesizer by opening a short-lived
// session for a single sentence.
func (p *Provider) SynthesizeStream(ctx context.Context, text string) (<-chan []byte, error) {
	sess, err := p.OpenSession(ctx)
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
	return sess.Audio(), nil
}

// ---- session ----

// session is one live dual-stream synthesis session.
type session struct {
	ctx  context.Context
	conn *websocket.Conn

	audioCh chan []byte
	done    chan struct{}

	mu       sync.Mutex
	sentAny  bool
	finished bool
}

// readLoop drains audio messages from the socket into audioCh. It owns the
// audio channel and closes it when the server ends the stream.
func (s *session) readLoop() {
	defer close(s.audioCh)
	defer close(s.done)
	for {
		_, msg, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil {
				select {
				case s.audioCh <- pcm:
				case <-s.ctx.Done():
					return
				}
			}
		}
		if resp.IsFinal {
			return
		}
	}
}

// PushText implements tts.Session.
func (s *session) PushText(text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return errors.New("elevenlabs: session already finished")
	}

	payload := textMessage{Text: text}
	if !s.sentAny {
		// Voice settings only need to accompany the first fragment.
		payload.VoiceSettings = &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
		s.sentAny = true
	}
	msgBytes, _ := json.Marshal(payload)
	if err := s.conn.Write(s.ctx, websocket.MessageText, msgBytes); err != nil {
		return fmt.Errorf("elevenlabs: send text: %w", err)
	}
	return nil
}

// Audio implements tts.Session.
func (s *session) Audio() <-chan []byte { return s.audioCh }

// Finish implements tts.Session. It sends the end-of-input flush message and
// waits for the reader to drain the remaining audio.
func (s *session) Finish() error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	s.finished = true
	s.mu.Unlock()

	flush := textMessage{Text: ""}
	flushBytes, _ := json.Marshal(flush)
	_ = s.conn.Write(s.ctx, websocket.MessageText, flushBytes)

	select {
	case <-s.done:
	case <-s.ctx.Done():
	}
	return s.conn.Close(websocket.StatusNormalClosure, "done")
}
