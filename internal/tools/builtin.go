package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voxwire/voxwire/pkg/types"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

// RegisterBuiltins adds the always-available plugin tools. requestClose is
// invoked when the user asks to end the conversation; the gateway closes the
// connection after the farewell has been spoken.
func RegisterBuiltins(r *Registry, requestClose func(farewell string)) {
	r.Register(SourcePlugin, NewFuncTool(
		types.ToolDefinition{
			Name:        "get_time",
			Description: "Get the current local time. Use when the user asks what time it is.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		func(ctx context.Context, args string) (types.ToolResult, error) {
			now := timeNow()
			return types.ToolResult{
				Action: types.ActionReqLLM,
				Result: fmt.Sprintf("The current time is %s.", now.Format("15:04")),
			}, nil
		},
	))

	r.Register(SourcePlugin, NewFuncTool(
		types.ToolDefinition{
			Name:        "get_calendar",
			Description: "Get today's date, weekday, and lunar calendar information.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		func(ctx context.Context, args string) (types.ToolResult, error) {
			return types.ToolResult{
				Action: types.ActionReqLLM,
				Result: CalendarSummary(timeNow()),
			}, nil
		},
	))

	r.Register(SourcePlugin, NewFuncTool(
		types.ToolDefinition{
			Name:        "handle_exit_intent",
			Description: "End the conversation. Use when the user says goodbye or asks to stop talking.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"say_goodbye": map[string]any{
						"type":        "string",
						"description": "A short farewell to speak before disconnecting.",
					},
				},
			},
		},
		func(ctx context.Context, args string) (types.ToolResult, error) {
			farewell := "Goodbye!"
			var parsed struct {
				SayGoodbye string `json:"say_goodbye"`
			}
			if err := json.Unmarshal([]byte(args), &parsed); err == nil && parsed.SayGoodbye != "" {
				farewell = parsed.SayGoodbye
			}
			if requestClose != nil {
				requestClose(farewell)
			}
			return types.ToolResult{
				Action:   types.ActionResponse,
				Response: farewell,
			}, nil
		},
	))
}

// CalendarSummary renders the date facts for a point in time. Pure so the
// formatting is testable against fixed dates.
func CalendarSummary(t time.Time) string {
	return fmt.Sprintf("Today is %s, %s (day %d of the year, ISO week %d).",
		t.Weekday(), t.Format("January 2, 2006"), t.YearDay(), isoWeek(t))
}

func isoWeek(t time.Time) int {
	_, week := t.ISOWeek()
	return week
}
