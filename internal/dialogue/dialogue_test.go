package dialogue_test

import (
	"strings"
	"testing"

	"github.com/voxwire/voxwire/internal/dialogue"
	"github.com/voxwire/voxwire/pkg/types"
)

func TestLLMDialogue(t *testing.T) {
	t.Parallel()

	d := dialogue.New("You are a helpful assistant.")
	d.Put(types.Message{Role: "user", Content: "hello"})
	d.Put(types.Message{Role: "assistant", Content: "hi there"})

	msgs := d.LLMDialogue()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "You are a helpful assistant." {
		t.Errorf("system message = %+v", msgs[0])
	}
	if msgs[1].Content != "hello" || msgs[2].Content != "hi there" {
		t.Errorf("history out of order: %+v", msgs[1:])
	}

	// The returned slice must be a copy.
	msgs[1].Content = "mutated"
	if d.LLMDialogue()[1].Content != "hello" {
		t.Error("LLMDialogue leaked internal state")
	}
}

func TestLLMDialogueWithMemory(t *testing.T) {
	t.Parallel()

	d := dialogue.New("Persona.")
	d.Put(types.Message{Role: "user", Content: "hi"})

	t.Run("empty summary leaves system untouched", func(t *testing.T) {
		t.Parallel()
		msgs := d.LLMDialogueWithMemory("   ")
		if msgs[0].Content != "Persona." {
			t.Errorf("system = %q, want unchanged", msgs[0].Content)
		}
	})

	t.Run("summary appended to system message", func(t *testing.T) {
		t.Parallel()
		msgs := d.LLMDialogueWithMemory("Likes jazz.")
		if !strings.Contains(msgs[0].Content, "Persona.") || !strings.Contains(msgs[0].Content, "Likes jazz.") {
			t.Errorf("system = %q, want persona plus memory", msgs[0].Content)
		}
		// The stored system message must not be permanently modified.
		if d.SystemMessage() != "Persona." {
			t.Errorf("stored system = %q, want Persona.", d.SystemMessage())
		}
	})
}

func TestUpdateSystemMessage(t *testing.T) {
	t.Parallel()

	d := dialogue.New("old")
	d.Put(types.Message{Role: "user", Content: "hi"})
	d.UpdateSystemMessage("new")

	if d.SystemMessage() != "new" {
		t.Errorf("system = %q, want new", d.SystemMessage())
	}
	if d.Len() != 1 {
		t.Errorf("history length changed: %d", d.Len())
	}
}

func TestRecent(t *testing.T) {
	t.Parallel()

	d := dialogue.New("sys")
	for _, c := range []string{"a", "b", "c", "d"} {
		d.Put(types.Message{Role: "user", Content: c})
	}

	got := d.Recent(2)
	if len(got) != 2 || got[0].Content != "c" || got[1].Content != "d" {
		t.Errorf("Recent(2) = %+v, want c, d", got)
	}
	if got := d.Recent(10); len(got) != 4 {
		t.Errorf("Recent(10) = %d messages, want all 4", len(got))
	}
	if got := d.Recent(0); got != nil {
		t.Errorf("Recent(0) = %+v, want nil", got)
	}
}

func TestPurgeToolMessages(t *testing.T) {
	t.Parallel()

	d := dialogue.New("sys")
	d.Put(types.Message{Role: "user", Content: "what time is it"})
	d.Put(types.Message{Role: "assistant", ToolCalls: []types.ToolCall{{ID: "1", Name: "get_time"}}})
	d.Put(types.Message{Role: "tool", ToolCallID: "1", Content: "12:30"})
	d.Put(types.Message{Role: "assistant", Content: "It is half past twelve."})

	d.PurgeToolMessages()

	msgs := d.LLMDialogue()
	if len(msgs) != 3 {
		t.Fatalf("len = %d after purge, want 3 (system + user + assistant)", len(msgs))
	}
	for _, m := range msgs {
		if m.Role == "tool" || len(m.ToolCalls) > 0 {
			t.Errorf("tool plumbing survived purge: %+v", m)
		}
	}
	if msgs[2].Content != "It is half past twelve." {
		t.Errorf("final assistant text lost: %+v", msgs[2])
	}
}
