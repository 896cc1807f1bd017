// Package intent classifies user utterances before the main dialogue turn
// runs. In "intent_llm" mode a secondary (usually cheaper) model decides
// whether the utterance is plain chat or maps onto one of the registered
// tools; "function_call" mode skips classification and lets the main model
// pick tools natively.
package intent

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/voxwire/voxwire/internal/cache"
	"github.com/voxwire/voxwire/pkg/provider/llm"
	"github.com/voxwire/voxwire/pkg/types"
)

// Kind is the classifier's verdict for one utterance.
type Kind int

const (
	// KindContinueChat means no tool applies; run a normal dialogue turn.
	KindContinueChat Kind = iota

	// KindFunctionCall means the utterance maps onto a registered tool.
	KindFunctionCall

	// KindContextAnswer means the utterance can be answered from context
	// alone (time, date, what was already said) without calling a tool.
	KindContextAnswer
)

// Result is the outcome of classifying one utterance.
type Result struct {
	Kind Kind

	// Call is set when Kind is KindFunctionCall.
	Call types.ToolCall
}

const (
	cacheTTL        = 10 * time.Minute
	cacheMaxEntries = 1000

	// historyWindow is how many trailing dialogue messages the classifier
	// sees for context.
	historyWindow = 4
)

// jsonObject pulls the first JSON object out of a model reply that may be
// wrapped in prose or a markdown fence.
var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// Classifier runs intent_llm classification with a per-device result cache.
type Classifier struct {
	provider llm.Provider
	cache    *cache.TTLLRUCache
	log      *slog.Logger
}

// NewClassifier builds a classifier around the configured intent model.
func NewClassifier(provider llm.Provider, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{
		provider: provider,
		cache:    cache.NewTTLLRU(cacheTTL, cacheMaxEntries),
		log:      log.With("component", "intent"),
	}
}

// Classify decides whether text is plain chat or a tool invocation. recent is
// the tail of the dialogue for context; tools are the currently registered
// definitions. Classification failures degrade to KindContinueChat so a flaky
// intent model never blocks the conversation.
func (c *Classifier) Classify(ctx context.Context, deviceID, text string, recent []types.Message, tools []types.ToolDefinition) Result {
	key := cacheKey(deviceID, text)
	if v, ok := c.cache.Get(key); ok {
		if res, ok := v.(Result); ok {
			return res
		}
	}

	raw, err := c.complete(ctx, text, recent, tools)
	if err != nil {
		c.log.Warn("intent classification failed, continuing as chat", "error", err)
		return Result{Kind: KindContinueChat}
	}

	res := parseVerdict(raw)
	c.cache.Set(key, res)
	return res
}

func (c *Classifier) complete(ctx context.Context, text string, recent []types.Message, tools []types.ToolDefinition) (string, error) {
	msgs := make([]types.Message, 0, historyWindow+2)
	msgs = append(msgs, types.Message{Role: "system", Content: buildPrompt(tools)})
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	for _, m := range recent {
		if m.Role == "user" || (m.Role == "assistant" && m.Content != "") {
			msgs = append(msgs, types.Message{Role: m.Role, Content: m.Content})
		}
	}
	msgs = append(msgs, types.Message{Role: "user", Content: text})

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("intent: classify: %w", err)
	}
	return resp.Content, nil
}

// buildPrompt renders the classification instructions with the current tool
// catalogue inlined.
func buildPrompt(tools []types.ToolDefinition) string {
	var b strings.Builder
	b.WriteString(`You are an intent router for a voice assistant. Decide whether the user's last utterance should invoke one of the available functions or is ordinary conversation.

Available functions:
`)
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString(`
Respond with exactly one JSON object and nothing else.
For ordinary conversation: {"function_call": {"name": "continue_chat"}}
For a question answerable from the current time, date, or the conversation itself: {"function_call": {"name": "result_for_context"}}
For a function: {"function_call": {"name": "<function name>", "arguments": {<arguments>}}}`)
	return b.String()
}

// parseVerdict decodes the classifier reply. Anything unparseable counts as
// ordinary chat.
func parseVerdict(raw string) Result {
	match := jsonObject.FindString(raw)
	if match == "" {
		return Result{Kind: KindContinueChat}
	}
	var parsed struct {
		FunctionCall struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function_call"`
	}
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return Result{Kind: KindContinueChat}
	}
	name := strings.TrimSpace(parsed.FunctionCall.Name)
	if name == "" || name == "continue_chat" {
		return Result{Kind: KindContinueChat}
	}
	if name == "result_for_context" {
		return Result{Kind: KindContextAnswer}
	}
	args := "{}"
	if len(parsed.FunctionCall.Arguments) > 0 {
		args = string(parsed.FunctionCall.Arguments)
	}
	return Result{
		Kind: KindFunctionCall,
		Call: types.ToolCall{Name: name, Arguments: args},
	}
}

func cacheKey(deviceID, text string) string {
	sum := md5.Sum([]byte(deviceID + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
