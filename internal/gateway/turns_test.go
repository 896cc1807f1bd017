package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/gateway"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/pkg/audio"
	asrmock "github.com/voxwire/voxwire/pkg/provider/asr/mock"
	"github.com/voxwire/voxwire/pkg/provider/llm"
	llmmock "github.com/voxwire/voxwire/pkg/provider/llm/mock"
	memmock "github.com/voxwire/voxwire/pkg/provider/memory/mock"
	"github.com/voxwire/voxwire/pkg/provider/tts"
	ttsmock "github.com/voxwire/voxwire/pkg/provider/tts/mock"
	vadmock "github.com/voxwire/voxwire/pkg/provider/vad/mock"
	"github.com/voxwire/voxwire/pkg/types"
)

// newHarnessWithDeps builds the standard harness but lets the test adjust the
// dependency set before the connection starts.
func newHarnessWithDeps(t *testing.T, cfg *config.Config, mutate func(*gateway.Deps)) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		vadSess:   &vadmock.Session{},
		asr:       &asrmock.Transcriber{Result: types.Transcript{Text: "hello world"}},
		llm: &llmmock.Provider{
			Streams: [][]llm.Chunk{{
				{Text: "Hi there! "},
				{Text: "Nice to meet you.", FinishReason: "stop"},
			}},
			CompleteResponse: &llm.CompletionResponse{Content: "likes greetings"},
		},
		tts:  &ttsmock.Synthesizer{PCM: make([]byte, audio.FrameBytes)},
		mem:  &memmock.Store{},
		done: make(chan error, 1),
	}
	deps := gateway.Deps{
		Config:  cfg,
		VAD:     &vadmock.Engine{Session: h.vadSess},
		ASR:     h.asr,
		LLM:     h.llm,
		TTS:     h.tts,
		Memory:  h.mem,
		Metrics: observe.DefaultMetrics(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.conn = gateway.New(deps, h.transport, "aa:bb:cc:dd:ee:ff", false)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.done <- h.conn.Run(ctx) }()
	return h
}

func (f *fakeTransport) sentences() []string {
	var out []string
	for _, m := range f.messages("tts") {
		if m["state"] == "sentence_start" {
			out = append(out, m["text"].(string))
		}
	}
	return out
}

func (f *fakeTransport) hasStop() bool {
	for _, m := range f.messages("tts") {
		if m["state"] == "stop" {
			return true
		}
	}
	return false
}

// stallLLM emits one chunk on its first stream, then holds the rest back
// until release is closed. Later streams complete immediately.
type stallLLM struct {
	release chan struct{}

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

func (b *stallLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	first := len(b.requests) == 1
	b.mu.Unlock()

	ch := make(chan llm.Chunk, 2)
	if !first {
		ch <- llm.Chunk{Text: "Second answer.", FinishReason: "stop"}
		close(ch)
		return ch, nil
	}
	ch <- llm.Chunk{Text: "I was about to say something long. "}
	go func() {
		defer close(ch)
		select {
		case <-b.release:
		case <-ctx.Done():
			return
		}
		ch <- llm.Chunk{Text: "But the rest was never heard.", FinishReason: "stop"}
	}()
	return ch, nil
}

func (b *stallLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}

func (b *stallLLM) snapshot() []llm.CompletionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	reqs := make([]llm.CompletionRequest, len(b.requests))
	copy(reqs, b.requests)
	return reqs
}

var _ llm.Provider = (*stallLLM)(nil)

// An abort mid-stream must be serviced while the model is still producing,
// and the partial reply must not survive into the next turn's history.
func TestConnection_AbortDiscardsPartialReply(t *testing.T) {
	model := &stallLLM{release: make(chan struct{})}
	h := newHarnessWithDeps(t, testConfig(), func(d *gateway.Deps) { d.LLM = model })
	h.handshake(t)

	h.transport.pushJSON(t, map[string]any{
		"type": "listen", "state": "detect", "text": "tell me everything",
	})
	waitFor(t, func() bool {
		return len(h.transport.sentences()) >= 1
	}, "first partial sentence")

	// The model is still mid-stream; the abort must get through anyway.
	h.transport.pushJSON(t, map[string]any{"type": "abort"})
	waitFor(t, func() bool { return h.transport.hasStop() }, "tts stop after abort")
	close(model.release)

	h.transport.pushJSON(t, map[string]any{
		"type": "listen", "state": "detect", "text": "never mind, keep it short",
	})
	waitFor(t, func() bool { return len(model.snapshot()) == 2 }, "second model request")
	waitFor(t, func() bool {
		for _, s := range h.transport.sentences() {
			if s == "Second answer." {
				return true
			}
		}
		return false
	}, "second reply spoken")

	for _, msg := range model.snapshot()[1].Messages {
		if msg.Role == "assistant" && strings.Contains(msg.Content, "I was about to say") {
			t.Fatalf("aborted partial reply leaked into history: %q", msg.Content)
		}
	}
}

// Voice starting while the assistant is speaking aborts the reply; the device
// receives the stop before the queued audio finishes.
func TestConnection_BargeInCutsReplyShort(t *testing.T) {
	h := newHarness(t, testConfig())
	// 50 frames of audio per sentence: several seconds of playback to talk over.
	h.tts.PCM = make([]byte, 50*audio.FrameBytes)
	h.handshake(t)

	h.transport.pushJSON(t, map[string]any{
		"type": "listen", "state": "detect", "text": "tell me a story",
	})
	waitFor(t, func() bool { return len(h.transport.sentences()) >= 1 }, "reply starts")

	h.vadSess.Script = []bool{true, true, true, true, true}
	for _, fr := range opusFrames(t, 5) {
		h.transport.pushBinary(fr)
	}

	waitFor(t, func() bool { return h.transport.hasStop() }, "stop after barge-in")
	if n := h.transport.binaryCount(); n >= 100 {
		t.Errorf("reply kept playing after barge-in: %d frames", n)
	}
}

// Voice frames while nothing is playing must not abort anything: the device
// would otherwise receive a spurious stop for a turn that never started.
func TestConnection_VoiceWhileIdleSendsNoStop(t *testing.T) {
	h := newHarness(t, testConfig())
	h.asr.Result = types.Transcript{}
	h.handshake(t)

	h.vadSess.Script = []bool{true, true, true}
	for _, fr := range opusFrames(t, 3) {
		h.transport.pushBinary(fr)
	}
	time.Sleep(300 * time.Millisecond)

	if msgs := h.transport.messages("tts"); len(msgs) != 0 {
		t.Errorf("unexpected tts messages while idle: %v", msgs)
	}
}

// Overrides served by the management API swap in per-device providers; the
// shared instances stay untouched.
func TestConnection_DeviceOverridesRebuildTTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"providers": map[string]any{"tts": map[string]any{"name": "scripted"}},
		})
	}))
	t.Cleanup(srv.Close)

	override := &ttsmock.Synthesizer{PCM: make([]byte, audio.FrameBytes)}
	reg := config.NewRegistry()
	reg.RegisterTTS("scripted", func(config.ProviderEntry) (tts.Synthesizer, error) {
		return override, nil
	})

	cfg := testConfig()
	cfg.ReadConfigFromAPI = true
	cfg.Providers.TTS = config.ProviderEntry{Name: "base"}
	h := newHarnessWithDeps(t, cfg, func(d *gateway.Deps) {
		d.Manager = config.NewManagerClient(srv.URL, "")
		d.Registry = reg
	})
	h.handshake(t)

	h.transport.pushJSON(t, map[string]any{
		"type": "listen", "state": "detect", "text": "say something",
	})
	waitFor(t, func() bool { return h.transport.hasStop() }, "reply finishes")

	if override.CallCount() == 0 {
		t.Error("overridden tts provider was never used")
	}
	if h.tts.CallCount() != 0 {
		t.Errorf("shared tts provider used %d times despite override", h.tts.CallCount())
	}
}

// A result_for_context verdict answers from time, date, and history alone:
// the chat model is prompted with the current time and no tool runs.
func TestConnection_ContextAnswerTurn(t *testing.T) {
	cfg := testConfig()
	cfg.Intent.Mode = config.IntentLLM
	classifier := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"function_call": {"name": "result_for_context"}}`,
	}}
	h := newHarnessWithDeps(t, cfg, func(d *gateway.Deps) { d.IntentLLM = classifier })
	h.handshake(t)

	h.transport.pushJSON(t, map[string]any{
		"type": "listen", "state": "detect", "text": "what day is it",
	})
	waitFor(t, func() bool { return h.transport.hasStop() }, "spoken answer")
	h.transport.Close("test over")
	<-h.done

	reqs := h.llm.StreamRequests
	if len(reqs) != 1 {
		t.Fatalf("chat requests = %d, want 1", len(reqs))
	}
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	if last.Role != "user" {
		t.Fatalf("last message role = %q", last.Role)
	}
	if !strings.Contains(last.Content, "Current time:") || !strings.Contains(last.Content, "what day is it") {
		t.Errorf("context prompt missing time or question: %q", last.Content)
	}
}

// When the classifier names a tool that does not exist, the turn falls back
// to plain chat with the utterance appended exactly once.
func TestConnection_ClassifierMissFallsBackToChat(t *testing.T) {
	cfg := testConfig()
	cfg.Intent.Mode = config.IntentLLM
	classifier := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"function_call": {"name": "no_such_tool", "arguments": {}}}`,
	}}
	h := newHarnessWithDeps(t, cfg, func(d *gateway.Deps) { d.IntentLLM = classifier })
	h.handshake(t)

	h.transport.pushJSON(t, map[string]any{
		"type": "listen", "state": "detect", "text": "play some jazz",
	})
	waitFor(t, func() bool { return h.transport.hasStop() }, "fallback chat reply")
	h.transport.Close("test over")
	<-h.done

	reqs := h.llm.StreamRequests
	if len(reqs) != 1 {
		t.Fatalf("chat requests = %d, want 1", len(reqs))
	}
	count := 0
	for _, msg := range reqs[0].Messages {
		if msg.Role == "user" && msg.Content == "play some jazz" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("utterance appears %d times in history, want 1", count)
	}
}

// A native tool call to an unregistered tool is spoken as an error; the model
// gets no follow-up turn to elaborate on it.
func TestConnection_UnknownToolCallSpoken(t *testing.T) {
	cfg := testConfig()
	cfg.Intent.Mode = config.IntentFunctionCall
	h := newHarness(t, cfg)
	h.llm.Streams = [][]llm.Chunk{{
		{ToolCalls: []types.ToolCall{{ID: "1", Name: "no_such_tool", Arguments: "{}"}}, FinishReason: "tool_calls"},
	}}
	h.handshake(t)

	h.transport.pushJSON(t, map[string]any{
		"type": "listen", "state": "detect", "text": "do the thing",
	})
	waitFor(t, func() bool {
		for _, s := range h.transport.sentences() {
			if strings.Contains(s, `tool "no_such_tool" does not exist`) {
				return true
			}
		}
		return false
	}, "spoken tool error")

	time.Sleep(200 * time.Millisecond)
	h.transport.Close("test over")
	<-h.done
	if got := len(h.llm.StreamRequests); got != 1 {
		t.Errorf("model requests = %d, want 1 (no follow-up on a missing tool)", got)
	}
}

// Device-side detect text arrives in the same envelope speaker-aware ASR
// emits; the JSON wrapper must be unwrapped before the turn runs.
func TestConnection_DetectUnwrapsSpeakerJSON(t *testing.T) {
	h := newHarness(t, testConfig())
	h.handshake(t)

	h.transport.pushJSON(t, map[string]any{
		"type": "listen", "state": "detect",
		"text": `{"speaker": "alice", "content": "turn on the light"}`,
	})
	waitFor(t, func() bool { return h.transport.hasStop() }, "spoken reply")
	h.transport.Close("test over")
	<-h.done

	reqs := h.llm.StreamRequests
	if len(reqs) != 1 {
		t.Fatalf("chat requests = %d, want 1", len(reqs))
	}
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	if last.Content != "turn on the light" {
		t.Errorf("user message = %q, want the unwrapped content", last.Content)
	}
}
