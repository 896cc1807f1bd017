// Package openai provides a remote ASR transcriber for OpenAI-compatible
// /v1/audio/transcriptions endpoints (OpenAI Whisper API, Groq, local
// faster-whisper servers). Utterance PCM is wrapped in a WAV container and
// posted as multipart form data.
package openai

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxwire/voxwire/pkg/provider/asr"
	"github.com/voxwire/voxwire/pkg/types"
)

// Compile-time interface assertion.
var _ asr.Transcriber = (*Provider)(nil)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"
	defaultTimeout = 10 * time.Second

	transcriptionsEndpoint = "/audio/transcriptions"

	wavSampleRate = 16000
	wavChannels   = 1
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (e.g., "http://localhost:8000/v1").
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithModel sets the transcription model name. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the transcription language hint (e.g., "en", "zh").
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements asr.Transcriber against an OpenAI-compatible endpoint.
// It is stateless between calls and safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new remote transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// transcriptionResponse is the JSON body of a successful transcription call.
type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe implements asr.Transcriber.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) (types.Transcript, error) {
	if len(pcm) == 0 {
		return types.Transcript{}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return types.Transcript{}, fmt.Errorf("openai: create form file: %w", err)
	}
	if _, err := fw.Write(wrapWAV(pcm)); err != nil {
		return types.Transcript{}, fmt.Errorf("openai: write form file: %w", err)
	}
	if err := mw.WriteField("model", p.model); err != nil {
		return types.Transcript{}, fmt.Errorf("openai: write model field: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return types.Transcript{}, fmt.Errorf("openai: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return types.Transcript{}, fmt.Errorf("openai: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+transcriptionsEndpoint, &body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("openai: POST %s: %w", transcriptionsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.Transcript{}, fmt.Errorf("openai: POST %s returned status %d: %s",
			transcriptionsEndpoint, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return types.Transcript{}, fmt.Errorf("openai: decode response: %w", err)
	}

	return types.Transcript{Text: strings.TrimSpace(tr.Text)}, nil
}

// Close implements asr.Transcriber.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// wrapWAV prepends a 44-byte RIFF/WAVE header for 16 kHz mono 16-bit PCM.
func wrapWAV(pcm []byte) []byte {
	const headerLen = 44
	byteRate := wavSampleRate * wavChannels * 2

	out := make([]byte, headerLen+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(out[22:24], wavChannels)
	binary.LittleEndian.PutUint32(out[24:28], wavSampleRate)
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], wavChannels*2) // block align
	binary.LittleEndian.PutUint16(out[34:36], 16)            // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[headerLen:], pcm)
	return out
}
