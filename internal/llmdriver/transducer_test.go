package llmdriver

import (
	"context"
	"strings"
	"testing"

	"github.com/voxwire/voxwire/pkg/provider/llm"
	"github.com/voxwire/voxwire/pkg/provider/llm/mock"
	"github.com/voxwire/voxwire/pkg/types"
)

// feedAll pushes each delta through tr and concatenates the released text
// and tool calls.
func feedAll(tr *Transducer, deltas ...string) (string, []types.ToolCall) {
	var (
		out   strings.Builder
		calls []types.ToolCall
	)
	for _, d := range deltas {
		text, c := tr.Feed(d)
		out.WriteString(text)
		calls = append(calls, c...)
	}
	out.WriteString(tr.Flush())
	return out.String(), calls
}

func TestTransducer_PlainTextPassesThrough(t *testing.T) {
	t.Parallel()
	var tr Transducer
	got, calls := feedAll(&tr, "Hello, ", "world!")
	if got != "Hello, world!" {
		t.Errorf("got %q", got)
	}
	if len(calls) != 0 {
		t.Errorf("unexpected tool calls: %+v", calls)
	}
}

func TestTransducer_ThinkElided(t *testing.T) {
	t.Parallel()

	t.Run("single chunk", func(t *testing.T) {
		t.Parallel()
		var tr Transducer
		got, _ := feedAll(&tr, "Sure. <think>internal reasoning</think>The answer is 4.")
		if got != "Sure. The answer is 4." {
			t.Errorf("got %q", got)
		}
	})

	t.Run("tag split across chunks", func(t *testing.T) {
		t.Parallel()
		var tr Transducer
		got, _ := feedAll(&tr, "Sure. <th", "ink>reasoning spanning ", "chunks</thi", "nk>Done.")
		if got != "Sure. Done." {
			t.Errorf("got %q", got)
		}
	})

	t.Run("unterminated think discarded at flush", func(t *testing.T) {
		t.Parallel()
		var tr Transducer
		got, _ := feedAll(&tr, "Before.<think>never closed")
		if got != "Before." {
			t.Errorf("got %q", got)
		}
	})

	t.Run("angle bracket that is not a tag", func(t *testing.T) {
		t.Parallel()
		var tr Transducer
		got, _ := feedAll(&tr, "a < b and b <t", "hough> c")
		if got != "a < b and b <though> c" {
			t.Errorf("got %q", got)
		}
	})
}

func TestTransducer_InlineToolCall(t *testing.T) {
	t.Parallel()

	t.Run("well formed", func(t *testing.T) {
		t.Parallel()
		var tr Transducer
		got, calls := feedAll(&tr, `Let me check.<tool_call>{"id":"c1","name":"get_weather","arguments":{"city":"Berlin"}}</tool_call>`)
		if got != "Let me check." {
			t.Errorf("text = %q", got)
		}
		if len(calls) != 1 {
			t.Fatalf("calls = %+v, want 1", calls)
		}
		if calls[0].ID != "c1" || calls[0].Name != "get_weather" {
			t.Errorf("call = %+v", calls[0])
		}
		if !strings.Contains(calls[0].Arguments, "Berlin") {
			t.Errorf("arguments = %q", calls[0].Arguments)
		}
	})

	t.Run("split across chunks with missing id", func(t *testing.T) {
		t.Parallel()
		var tr Transducer
		_, calls := feedAll(&tr, `<tool_`, `call>{"name":"get_time",`, `"arguments":{}}</tool_call>`)
		if len(calls) != 1 {
			t.Fatalf("calls = %+v, want 1", calls)
		}
		if calls[0].Name != "get_time" {
			t.Errorf("name = %q", calls[0].Name)
		}
		if calls[0].ID == "" {
			t.Error("missing id should be generated")
		}
	})

	t.Run("malformed json repaired", func(t *testing.T) {
		t.Parallel()
		var tr Transducer
		// Single quotes and trailing comma, typical small-model output.
		_, calls := feedAll(&tr, `<tool_call>{'name': 'get_time', 'arguments': {},}</tool_call>`)
		if len(calls) != 1 {
			t.Fatalf("calls = %+v, want 1 after repair", calls)
		}
		if calls[0].Name != "get_time" {
			t.Errorf("name = %q", calls[0].Name)
		}
	})

	t.Run("nameless call dropped", func(t *testing.T) {
		t.Parallel()
		var tr Transducer
		got, calls := feedAll(&tr, `a<tool_call>{"arguments":{}}</tool_call>b`)
		if len(calls) != 0 {
			t.Errorf("calls = %+v, want none", calls)
		}
		if got != "ab" {
			t.Errorf("text = %q", got)
		}
	})
}

func TestDetectEmotion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text  string
		emoji string
		label string
	}{
		{"😂 That is hilarious!", "😂", "laughing"},
		{"I am sorry to hear that 😔", "😔", "sad"},
		{"Plain text with no emoji", "🙂", "happy"},
		{"🤔 Let me think... 😂", "🤔", "thinking"}, // earliest wins
	}
	for _, tc := range tests {
		emoji, label := DetectEmotion(tc.text)
		if emoji != tc.emoji || label != tc.label {
			t.Errorf("DetectEmotion(%q) = %q/%q, want %q/%q", tc.text, emoji, label, tc.emoji, tc.label)
		}
	}
}

func TestStripEmojis(t *testing.T) {
	t.Parallel()
	got := StripEmojis("😂 Funny! 😂")
	if got != " Funny! " {
		t.Errorf("got %q", got)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("text and native tool calls", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{Streams: [][]llm.Chunk{{
			{Text: "Hello "},
			{Text: "there."},
			{ToolCalls: []types.ToolCall{{ID: "1", Name: "get_time", Arguments: "{}"}}, FinishReason: "tool_calls"},
		}}}

		events, err := Run(context.Background(), p, llm.CompletionRequest{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		var text strings.Builder
		var calls []types.ToolCall
		for ev := range events {
			if ev.Err != nil {
				t.Fatalf("unexpected error event: %v", ev.Err)
			}
			text.WriteString(ev.Text)
			calls = append(calls, ev.ToolCalls...)
		}
		if text.String() != "Hello there." {
			t.Errorf("text = %q", text.String())
		}
		if len(calls) != 1 || calls[0].Name != "get_time" {
			t.Errorf("calls = %+v", calls)
		}
	})

	t.Run("in-band error surfaces as event", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{Streams: [][]llm.Chunk{{
			{Text: "partial"},
			{Text: "rate limited", FinishReason: llm.FinishError},
		}}}

		events, err := Run(context.Background(), p, llm.CompletionRequest{})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		var last Event
		for ev := range events {
			last = ev
		}
		if last.Err == nil || !strings.Contains(last.Err.Error(), "rate limited") {
			t.Errorf("last event = %+v, want error", last)
		}
	})
}
