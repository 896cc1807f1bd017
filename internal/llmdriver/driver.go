package llmdriver

import (
	"context"
	"errors"

	"github.com/voxwire/voxwire/pkg/provider/llm"
	"github.com/voxwire/voxwire/pkg/types"
)

// Event is one step of a filtered completion stream. Exactly one of the
// fields is meaningful per event.
type Event struct {
	// Text is a display-ready text delta with reasoning markup removed.
	Text string

	// ToolCalls carries completed tool invocations, either native from the
	// provider or parsed from inline <tool_call> markup.
	ToolCalls []types.ToolCall

	// Err reports a mid-stream provider failure. The channel closes after
	// an error event.
	Err error
}

// Run starts a streaming completion and returns a channel of filtered
// events. The channel is closed when the stream ends, errors, or ctx is
// cancelled. The caller owns draining it.
func Run(ctx context.Context, p llm.Provider, req llm.CompletionRequest) (<-chan Event, error) {
	chunks, err := p.StreamCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		var tr Transducer
		for chunk := range chunks {
			if chunk.FinishReason == llm.FinishError {
				msg := chunk.Text
				if msg == "" {
					msg = "completion stream failed"
				}
				emit(ctx, events, Event{Err: errors.New(msg)})
				return
			}
			if chunk.Text != "" {
				text, calls := tr.Feed(chunk.Text)
				if text != "" {
					if !emit(ctx, events, Event{Text: text}) {
						return
					}
				}
				if len(calls) > 0 {
					if !emit(ctx, events, Event{ToolCalls: calls}) {
						return
					}
				}
			}
			if len(chunk.ToolCalls) > 0 {
				if !emit(ctx, events, Event{ToolCalls: chunk.ToolCalls}) {
					return
				}
			}
		}
		if rest := tr.Flush(); rest != "" {
			emit(ctx, events, Event{Text: rest})
		}
	}()
	return events, nil
}

func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
