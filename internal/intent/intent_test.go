package intent_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voxwire/voxwire/internal/intent"
	"github.com/voxwire/voxwire/pkg/provider/llm"
	"github.com/voxwire/voxwire/pkg/provider/llm/mock"
	"github.com/voxwire/voxwire/pkg/types"
)

var testTools = []types.ToolDefinition{
	{Name: "get_time", Description: "Get the current time."},
	{Name: "handle_exit_intent", Description: "End the conversation."},
}

func TestClassify_FunctionCall(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"function_call": {"name": "get_time", "arguments": {}}}`,
	}}
	c := intent.NewClassifier(p, nil)

	res := c.Classify(context.Background(), "dev-1", "what time is it", nil, testTools)
	if res.Kind != intent.KindFunctionCall {
		t.Fatalf("kind = %v, want function call", res.Kind)
	}
	if res.Call.Name != "get_time" {
		t.Errorf("call name = %q", res.Call.Name)
	}
}

func TestClassify_ContinueChat(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"function_call": {"name": "continue_chat"}}`,
	}}
	c := intent.NewClassifier(p, nil)

	res := c.Classify(context.Background(), "dev-1", "tell me a story", nil, testTools)
	if res.Kind != intent.KindContinueChat {
		t.Errorf("kind = %v, want continue chat", res.Kind)
	}
}

func TestClassify_ContextAnswer(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"function_call": {"name": "result_for_context"}}`,
	}}
	c := intent.NewClassifier(p, nil)

	res := c.Classify(context.Background(), "dev-1", "what day is it", nil, testTools)
	if res.Kind != intent.KindContextAnswer {
		t.Errorf("kind = %v, want context answer", res.Kind)
	}
}

func TestClassify_ExtractsObjectFromProse(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Sure, here is the result:\n```json\n{\"function_call\": {\"name\": \"handle_exit_intent\", \"arguments\": {\"say_goodbye\": \"Bye!\"}}}\n```",
	}}
	c := intent.NewClassifier(p, nil)

	res := c.Classify(context.Background(), "dev-1", "goodbye", nil, testTools)
	if res.Kind != intent.KindFunctionCall || res.Call.Name != "handle_exit_intent" {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Call.Arguments, "Bye!") {
		t.Errorf("arguments = %q", res.Call.Arguments)
	}
}

func TestClassify_ErrorDegradesToChat(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: errors.New("upstream down")}
	c := intent.NewClassifier(p, nil)

	res := c.Classify(context.Background(), "dev-1", "what time is it", nil, testTools)
	if res.Kind != intent.KindContinueChat {
		t.Errorf("kind = %v, want continue chat on error", res.Kind)
	}
}

func TestClassify_GarbageDegradesToChat(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "I cannot decide."}}
	c := intent.NewClassifier(p, nil)

	res := c.Classify(context.Background(), "dev-1", "hmm", nil, testTools)
	if res.Kind != intent.KindContinueChat {
		t.Errorf("kind = %v, want continue chat on unparseable reply", res.Kind)
	}
}

func TestClassify_CachesPerDevice(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"function_call": {"name": "get_time"}}`,
	}}
	c := intent.NewClassifier(p, nil)

	ctx := context.Background()
	c.Classify(ctx, "dev-1", "what time is it", nil, testTools)
	c.Classify(ctx, "dev-1", "what time is it", nil, testTools)
	if n := len(p.CompleteRequests); n != 1 {
		t.Errorf("provider called %d times, want 1 (cache hit)", n)
	}

	// Same text from another device misses.
	c.Classify(ctx, "dev-2", "what time is it", nil, testTools)
	if n := len(p.CompleteRequests); n != 2 {
		t.Errorf("provider called %d times, want 2", n)
	}
}

func TestClassify_PromptCarriesToolsAndHistory(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"function_call": {"name": "continue_chat"}}`,
	}}
	c := intent.NewClassifier(p, nil)

	recent := []types.Message{
		{Role: "user", Content: "old question"},
		{Role: "assistant", Content: "old answer"},
	}
	c.Classify(context.Background(), "dev-1", "and now?", recent, testTools)

	if len(p.CompleteRequests) != 1 {
		t.Fatalf("provider called %d times", len(p.CompleteRequests))
	}
	msgs := p.CompleteRequests[0].Messages
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "get_time") {
		t.Errorf("system prompt missing tool list: %q", msgs[0].Content)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want system + 2 history + user", len(msgs))
	}
	if msgs[3].Role != "user" || msgs[3].Content != "and now?" {
		t.Errorf("last message = %+v", msgs[3])
	}
}
