// Package dialogue maintains the per-connection conversation history handed
// to the LLM. The system message always sits at index 0; user, assistant, and
// tool messages follow in order.
package dialogue

import (
	"fmt"
	"strings"
	"sync"

	"github.com/voxwire/voxwire/pkg/types"
)

// Dialogue is the ordered message history for one connection. Turns are
// appended by the single dialogue goroutine, but the idle watchdog and the
// close path read concurrently, so access is serialised internally.
type Dialogue struct {
	mu       sync.Mutex
	system   types.Message
	messages []types.Message
}

// New creates a dialogue seeded with the given system prompt.
func New(systemPrompt string) *Dialogue {
	return &Dialogue{
		system: types.Message{Role: "system", Content: systemPrompt},
	}
}

// Put appends a message to the history.
func (d *Dialogue) Put(msg types.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
}

// UpdateSystemMessage replaces the system prompt without touching the rest
// of the history. Used when per-device overrides or memory change mid-session.
func (d *Dialogue) UpdateSystemMessage(prompt string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.system.Content = prompt
}

// SystemMessage returns the current system prompt text.
func (d *Dialogue) SystemMessage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.system.Content
}

// Len returns the number of non-system messages.
func (d *Dialogue) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}

// LLMDialogue returns the full message list for an LLM call: the system
// message followed by a copy of the history. The returned slice is safe to
// retain and mutate.
func (d *Dialogue) LLMDialogue() []types.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.Message, 0, len(d.messages)+1)
	out = append(out, d.system)
	out = append(out, d.messages...)
	return out
}

// LLMDialogueWithMemory is like [Dialogue.LLMDialogue] but augments the
// system message with a long-term memory summary when one exists.
func (d *Dialogue) LLMDialogueWithMemory(memorySummary string) []types.Message {
	if strings.TrimSpace(memorySummary) == "" {
		return d.LLMDialogue()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	sys := d.system
	sys.Content = fmt.Sprintf("%s\n\nWhat you remember about this user from earlier conversations:\n%s", sys.Content, memorySummary)
	out := make([]types.Message, 0, len(d.messages)+1)
	out = append(out, sys)
	out = append(out, d.messages...)
	return out
}

// Recent returns up to n of the most recent non-system messages.
func (d *Dialogue) Recent(n int) []types.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 || len(d.messages) == 0 {
		return nil
	}
	start := len(d.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]types.Message, len(d.messages)-start)
	copy(out, d.messages[start:])
	return out
}

// PurgeToolMessages drops assistant tool-call messages and tool results from
// the history, keeping only plain user/assistant text turns. Run before
// re-dispatching a turn so stale tool plumbing does not confuse the model.
func (d *Dialogue) PurgeToolMessages() {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.messages[:0]
	for _, m := range d.messages {
		if m.Role == "tool" {
			continue
		}
		if m.Role == "assistant" && len(m.ToolCalls) > 0 && m.Content == "" {
			continue
		}
		kept = append(kept, m)
	}
	d.messages = kept
}
