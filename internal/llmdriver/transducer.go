// Package llmdriver turns a raw LLM chunk stream into clean dialogue events:
// display text with reasoning markup elided, native and inline tool calls,
// and in-band errors.
package llmdriver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/voxwire/voxwire/pkg/types"
)

const (
	thinkOpen     = "<think>"
	thinkClose    = "</think>"
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

type parseState int

const (
	stateNormal parseState = iota
	stateThink
	stateToolCall
)

// Transducer filters an incremental text stream. Reasoning wrapped in
// <think>...</think> is dropped, inline <tool_call>{...}</tool_call> blocks
// are parsed into [types.ToolCall] values, and everything else passes through.
// Tags may be split across arbitrary chunk boundaries.
type Transducer struct {
	state parseState
	buf   strings.Builder
}

// Feed consumes the next text delta and returns the display text it released
// plus any tool calls completed within it.
func (t *Transducer) Feed(delta string) (string, []types.ToolCall) {
	t.buf.WriteString(delta)
	var (
		out   strings.Builder
		calls []types.ToolCall
	)
	for {
		s := t.buf.String()
		switch t.state {
		case stateNormal:
			idxThink := strings.Index(s, thinkOpen)
			idxTool := strings.Index(s, toolCallOpen)
			idx, tag := idxThink, thinkOpen
			next := stateThink
			if idxTool != -1 && (idxThink == -1 || idxTool < idxThink) {
				idx, tag, next = idxTool, toolCallOpen, stateToolCall
			}
			if idx == -1 {
				// Hold back any suffix that could still grow into a tag.
				keep := longestPossibleTagPrefix(s)
				out.WriteString(s[:len(s)-keep])
				t.buf.Reset()
				t.buf.WriteString(s[len(s)-keep:])
				return out.String(), calls
			}
			out.WriteString(s[:idx])
			t.buf.Reset()
			t.buf.WriteString(s[idx+len(tag):])
			t.state = next

		case stateThink:
			idx := strings.Index(s, thinkClose)
			if idx == -1 {
				// Reasoning content is never shown; keep only a possible
				// partial closing tag.
				keep := longestSuffixPrefix(s, thinkClose)
				t.buf.Reset()
				t.buf.WriteString(s[len(s)-keep:])
				return out.String(), calls
			}
			t.buf.Reset()
			t.buf.WriteString(s[idx+len(thinkClose):])
			t.state = stateNormal

		case stateToolCall:
			idx := strings.Index(s, toolCallClose)
			if idx == -1 {
				return out.String(), calls
			}
			if call, err := parseInlineToolCall(s[:idx]); err == nil {
				calls = append(calls, call)
			}
			t.buf.Reset()
			t.buf.WriteString(s[idx+len(toolCallClose):])
			t.state = stateNormal
		}
	}
}

// Flush releases whatever the transducer was still holding back. An
// unterminated think or tool_call block is discarded; a held tag prefix in
// normal state turns out to be plain text and is returned.
func (t *Transducer) Flush() string {
	s := t.buf.String()
	t.buf.Reset()
	if t.state != stateNormal {
		t.state = stateNormal
		return ""
	}
	return s
}

// parseInlineToolCall decodes the JSON body of an inline tool call, repairing
// malformed output the smaller models tend to produce. A missing id gets a
// generated one so round-trip bookkeeping still works.
func parseInlineToolCall(body string) (types.ToolCall, error) {
	body = strings.TrimSpace(body)
	var raw struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(body)
		if rerr != nil {
			return types.ToolCall{}, fmt.Errorf("llmdriver: unparseable tool call: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
			return types.ToolCall{}, fmt.Errorf("llmdriver: repaired tool call still invalid: %w", err)
		}
	}
	if raw.Name == "" {
		return types.ToolCall{}, fmt.Errorf("llmdriver: tool call without name")
	}
	if raw.ID == "" {
		raw.ID = uuid.NewString()
	}
	args := "{}"
	if len(raw.Arguments) > 0 {
		args = string(raw.Arguments)
	}
	return types.ToolCall{ID: raw.ID, Name: raw.Name, Arguments: args}, nil
}

// longestPossibleTagPrefix returns the length of the longest suffix of s that
// is a proper prefix of either opening tag.
func longestPossibleTagPrefix(s string) int {
	a := longestSuffixPrefix(s, thinkOpen)
	b := longestSuffixPrefix(s, toolCallOpen)
	if b > a {
		return b
	}
	return a
}

// longestSuffixPrefix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func longestSuffixPrefix(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
