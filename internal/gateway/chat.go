package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/voxwire/voxwire/internal/asrsession"
	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/intent"
	"github.com/voxwire/voxwire/internal/llmdriver"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/protocol"
	"github.com/voxwire/voxwire/internal/ttspipe"
	"github.com/voxwire/voxwire/pkg/provider/llm"
	"github.com/voxwire/voxwire/pkg/types"
)

// maxToolDepth bounds how many tool round trips one utterance may trigger
// before the reply is forced to plain text.
const maxToolDepth = 5

// fallbackReply is spoken when the model fails mid-turn.
const fallbackReply = "Sorry, something went wrong. Please try again."

func llmRequest(msgs []types.Message) llm.CompletionRequest {
	return llm.CompletionRequest{Messages: msgs}
}

// routeTranscript hands one final transcript to the chat worker. The turn
// runs on its own goroutine so the receive loop keeps serving abort, listen,
// and MCP messages while the model streams; turns are serialized by chatMu.
func (c *Connection) routeTranscript(ctx context.Context, text string) {
	tr := asrsession.Normalize(types.Transcript{Text: text})
	if tr.Text == "" {
		return
	}
	c.turnWG.Add(1)
	go func() {
		defer c.turnWG.Done()
		c.chatMu.Lock()
		defer c.chatMu.Unlock()
		c.handleTranscript(ctx, tr.Text)
		if c.closeAfterChat.Load() {
			c.scheduleClose("conversation ended")
		}
	}()
}

// handleTranscript decides what one transcript means: a wake phrase, an exit
// command, or dialogue for the configured intent mode.
func (c *Connection) handleTranscript(ctx context.Context, text string) {
	if c.detector.Match(text) {
		c.respondWake(ctx, text)
		return
	}
	if c.isExitCommand(text) {
		c.log.Info("exit command", "text", text)
		c.exit(ctx)
		return
	}

	switch c.cfg.Intent.Mode {
	case config.IntentLLM:
		c.chatWithClassifier(ctx, text)
	case config.IntentFunctionCall:
		c.chat(ctx, text, c.registry.Definitions())
	default:
		c.chat(ctx, text, nil)
	}
}

// respondWake answers a wake phrase. A cached greeting plays straight from
// memory; otherwise the phrase goes through a normal dialogue turn. Either
// way the VAD gate is muted briefly so the device does not hear itself.
func (c *Connection) respondWake(ctx context.Context, text string) {
	c.gate.Suppress(wakeSuppressMs)
	greeting, frames, ok := c.responder.Respond(ctx)
	if !ok {
		c.chat(ctx, text, nil)
		return
	}
	c.log.Info("wake word, cached greeting", "greeting", greeting)
	c.pipe.Abort(ctx)
	c.SendTTS(ctx, protocol.TTSStateStart, "")
	c.SendTTS(ctx, protocol.TTSStateSentenceStart, greeting)
	for _, frame := range frames {
		if err := c.SendAudio(ctx, frame); err != nil {
			c.log.Warn("sending cached greeting failed", "error", err)
			break
		}
	}
	c.SendTTS(ctx, protocol.TTSStateSentenceEnd, "")
	c.SendTTS(ctx, protocol.TTSStateStop, "")
	c.dialog.Put(types.Message{Role: "user", Content: text})
	c.dialog.Put(types.Message{Role: "assistant", Content: greeting})
}

func (c *Connection) isExitCommand(text string) bool {
	t := strings.TrimSpace(text)
	for _, cmd := range c.cfg.ExitCommands {
		if strings.EqualFold(t, strings.TrimSpace(cmd)) {
			return true
		}
	}
	return false
}

// exit says goodbye and closes. With the end prompt enabled the goodbye comes
// from the model; otherwise a fixed farewell is spoken.
func (c *Connection) exit(ctx context.Context) {
	if c.cfg.EndPrompt.Enabled() {
		c.chatFarewell(ctx)
		return
	}
	c.requestFarewell("Goodbye!")
}

// chatFarewell asks the model for a goodbye line, speaks it, and schedules
// the close.
func (c *Connection) chatFarewell(ctx context.Context) {
	c.requestFarewell(c.farewellLine(ctx))
}

// farewellLine generates the goodbye from the end prompt, falling back to a
// fixed line when the model fails.
func (c *Connection) farewellLine(ctx context.Context) string {
	msgs := append(c.dialog.LLMDialogueWithMemory(c.memorySummary),
		types.Message{Role: "user", Content: c.cfg.EndPrompt.Prompt})
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if resp, err := c.llm.Complete(cctx, llmRequest(msgs)); err != nil {
		c.deps.Metrics.RecordProviderError(ctx, "llm", "complete")
		c.log.Warn("farewell generation failed", "error", err)
	} else if s := strings.TrimSpace(llmdriver.StripEmojis(resp.Content)); s != "" {
		return s
	}
	return "Goodbye!"
}

// chatWithClassifier runs intent_llm mode: a secondary model decides whether
// the utterance is a tool invocation before the chat model is engaged.
func (c *Connection) chatWithClassifier(ctx context.Context, text string) {
	res := c.classifier.Classify(ctx, c.deviceID, text, c.dialog.Recent(4), c.registry.Definitions())
	switch res.Kind {
	case intent.KindContinueChat:
		c.dialog.PurgeToolMessages()
		c.chat(ctx, text, nil)
		return
	case intent.KindContextAnswer:
		// Time, date, and the history already in the dialogue are enough;
		// no tool runs.
		c.report(ctx, "user", text)
		c.dialog.Put(types.Message{Role: "user", Content: contextAnswerPrompt(text)})
		c.runTurn(ctx, nil, 0)
		return
	}

	result := c.execute(ctx, res.Call)
	switch result.Action {
	case types.ActionResponse:
		c.dialog.Put(types.Message{Role: "user", Content: text})
		c.report(ctx, "user", text)
		c.dialog.Put(types.Message{Role: "assistant", Content: result.Response})
		c.pipe.SpeakOne(ctx, result.Response)
		c.report(ctx, "assistant", result.Response)
	case types.ActionReqLLM:
		// Feed the tool output back as context and let the chat model word
		// the answer.
		c.dialog.Put(types.Message{Role: "user", Content: text})
		c.report(ctx, "user", text)
		c.dialog.Put(types.Message{Role: "user", Content: contextualPrompt(result.Result)})
		c.runTurn(ctx, nil, 0)
	default:
		// NOTFOUND and friends: the classifier guessed wrong, run a plain
		// turn. chat appends the user message itself.
		c.chat(ctx, text, nil)
	}
}

// contextualPrompt wraps raw tool output for the intent_llm follow-up turn.
func contextualPrompt(result string) string {
	return "Use this information to answer the user's last question in one or two spoken sentences. " +
		timeContext() + "\nInformation: " + result
}

// contextAnswerPrompt wraps an utterance the classifier decided needs no tool,
// only the current time and date.
func contextAnswerPrompt(text string) string {
	return "Answer the user's question from the conversation context alone, in one or two spoken sentences. " +
		timeContext() + "\nQuestion: " + text
}

func timeContext() string {
	now := time.Now()
	return "Current time: " + now.Format("15:04") + ", " + now.Weekday().String() + ", " + now.Format("January 2, 2006") + "."
}

// chat appends the user message and runs a full streamed dialogue turn.
func (c *Connection) chat(ctx context.Context, text string, defs []types.ToolDefinition) {
	c.dialog.Put(types.Message{Role: "user", Content: text})
	c.report(ctx, "user", text)
	c.runTurn(ctx, defs, 0)
}

// runTurn streams one model reply into the TTS pipeline, handling embedded
// and native tool calls. depth counts tool round trips.
func (c *Connection) runTurn(ctx context.Context, defs []types.ToolDefinition, depth int) {
	ctx, span := observe.StartSpan(ctx, "dialogue.turn")
	defer span.End()

	if depth >= maxToolDepth {
		defs = nil
	}
	if len(defs) > 0 {
		c.registry.WaitReady(ctx)
		defs = c.registry.Definitions()
	}

	req := llmRequest(c.dialog.LLMDialogueWithMemory(c.memorySummary))
	req.Tools = defs

	start := time.Now()
	events, err := llmdriver.Run(ctx, c.llm, req)
	if err != nil {
		c.deps.Metrics.RecordProviderError(ctx, "llm", "stream_start")
		c.log.Warn("llm stream failed to start", "error", err)
		c.pipe.SpeakOne(ctx, fallbackReply)
		return
	}

	turn := c.pipe.BeginTurn(ctx)
	var (
		splitter    ttspipe.Splitter
		full        strings.Builder
		toolCalls   []types.ToolCall
		sentences   int
		firstToken  = false
		emotionSent = false
		truncated   = false
	)
	speak := func(sentence string) {
		if sentence == "" {
			return
		}
		if !emotionSent {
			emotionSent = true
			emoji, label := llmdriver.DetectEmotion(full.String())
			if err := c.t.SendJSON(ctx, protocol.NewEmotion(c.id, emoji, label)); err != nil {
				c.log.Debug("emotion message failed", "error", err)
			}
		}
		typ := ttspipe.SentenceMiddle
		if sentences == 0 {
			typ = ttspipe.SentenceFirst
		}
		sentences++
		c.pipe.Speak(turn, typ, llmdriver.StripEmojis(sentence))
	}

	aborted := false
	for ev := range events {
		if c.pipe.CurrentTurn() != turn {
			// Barge-in: the rest of the stream is abandoned.
			aborted = true
			break
		}
		if ev.Err != nil {
			c.deps.Metrics.RecordProviderError(ctx, "llm", "stream")
			c.log.Warn("llm stream error", "error", ev.Err)
			if full.Len() == 0 {
				speak(fallbackReply)
				full.WriteString(fallbackReply)
			}
			break
		}
		if !firstToken && (ev.Text != "" || len(ev.ToolCalls) > 0) {
			firstToken = true
			c.deps.Metrics.LLMFirstToken.Record(ctx, time.Since(start).Seconds())
		}
		toolCalls = append(toolCalls, ev.ToolCalls...)
		if ev.Text == "" {
			continue
		}
		full.WriteString(ev.Text)
		if c.cfg.MaxOutputSize > 0 && full.Len() > c.cfg.MaxOutputSize {
			truncated = true
			break
		}
		for _, s := range splitter.Feed(ev.Text) {
			speak(s)
		}
	}
	if aborted || c.pipe.CurrentTurn() != turn {
		// The partial reply was never fully spoken; it does not enter the
		// dialogue.
		c.log.Info("turn aborted mid-stream")
		return
	}
	if !truncated {
		speak(splitter.Flush())
	}
	c.pipe.Finish(turn)

	reply := strings.TrimSpace(full.String())
	if truncated {
		c.log.Warn("reply truncated at output limit", "limit", c.cfg.MaxOutputSize)
	}

	if len(toolCalls) > 0 {
		c.dialog.Put(types.Message{Role: "assistant", Content: reply, ToolCalls: toolCalls})
		c.handleToolCalls(ctx, toolCalls, depth)
		return
	}
	if reply != "" {
		c.dialog.Put(types.Message{Role: "assistant", Content: reply})
		c.report(ctx, "assistant", reply)
	}
	c.deps.Metrics.RecordTurn(ctx, c.deviceID)
}

// handleToolCalls executes the turn's tool calls and feeds results back for
// the follow-up turn.
func (c *Connection) handleToolCalls(ctx context.Context, calls []types.ToolCall, depth int) {
	needFollowup := false
	for _, call := range calls {
		result := c.execute(ctx, call)
		switch result.Action {
		case types.ActionResponse:
			c.pipe.SpeakOne(ctx, result.Response)
			c.dialog.Put(types.Message{
				Role: "tool", ToolCallID: call.ID, Content: result.Response,
			})
		case types.ActionReqLLM:
			content := result.Result
			if content == "" {
				content = result.Response
			}
			c.dialog.Put(types.Message{
				Role: "tool", ToolCallID: call.ID, Content: content,
			})
			needFollowup = true
		case types.ActionNotFound, types.ActionError:
			// Spoken as an error; the model gets nothing to elaborate on.
			reply := result.Response
			if reply == "" {
				reply = fallbackReply
			}
			c.pipe.SpeakOne(ctx, reply)
			c.dialog.Put(types.Message{
				Role: "tool", ToolCallID: call.ID, Content: reply,
			})
		default:
			// NONE: the tool acted for its side effect only. Record an empty
			// result so the call id is answered.
			c.dialog.Put(types.Message{
				Role: "tool", ToolCallID: call.ID, Content: "(no output)",
			})
		}
	}
	if needFollowup {
		c.runTurn(ctx, c.registry.Definitions(), depth+1)
	}
	c.deps.Metrics.RecordTurn(ctx, c.deviceID)
}

// execute runs one tool call with metrics.
func (c *Connection) execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	ctx, span := observe.StartSpan(ctx, "tool."+call.Name)
	defer span.End()

	args := call.Arguments
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		args = "{}"
	}
	start := time.Now()
	result, err := c.registry.Execute(ctx, call.Name, args)
	c.deps.Metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.deps.Metrics.RecordToolCall(ctx, call.Name, "error")
		return types.ToolResult{Action: types.ActionError, Response: err.Error()}
	}
	c.deps.Metrics.RecordToolCall(ctx, call.Name, result.Action.String())
	observe.Logger(ctx).Info("tool executed",
		"device", c.deviceID, "tool", call.Name, "action", result.Action.String())
	return result
}
