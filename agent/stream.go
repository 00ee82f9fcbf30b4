package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StreamEvent is a single NDJSON line from the CLI's stream-json
// output. Only the fields the engine consumes are modeled; everything
// else rides along in Raw.
type StreamEvent struct {
	Type    string          `json:"type"`
	Message *streamMessage  `json:"message,omitempty"`
	Name    string          `json:"name,omitempty"`
	Result  string          `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
	Error   string          `json:"error,omitempty"`
	CostUSD float64         `json:"total_cost_usd,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// Event types of interest; anything else passes through as debug.
const (
	EventMessage    = "message"
	EventAssistant  = "assistant"
	EventToolUse    = "tool_use"
	EventToolResult = "tool_result"
	EventResult     = "result"
)

type streamMessage struct {
	Role    string               `json:"role,omitempty"`
	Content []streamContentBlock `json:"content,omitempty"`
}

type streamContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
}

// ParseStreamLine parses one NDJSON line. Empty lines yield (nil, nil);
// malformed JSON is an error the tailer downgrades to a debug entry.
func ParseStreamLine(line []byte) (*StreamEvent, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}
	var ev StreamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("parse stream line: %w", err)
	}
	ev.Raw = json.RawMessage(bytes.Clone(line))
	return &ev, nil
}

// Text extracts a human-readable message from the event for log
// display.
func (ev *StreamEvent) Text() string {
	switch ev.Type {
	case EventMessage, EventAssistant:
		if ev.Message != nil {
			var parts []string
			for _, block := range ev.Message.Content {
				switch block.Type {
				case "text":
					if block.Text != "" {
						parts = append(parts, block.Text)
					}
				case "tool_use":
					parts = append(parts, fmt.Sprintf("[tool: %s]", block.Name))
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "\n")
			}
		}
		return "agent message"
	case EventToolUse:
		if ev.Name != "" {
			return fmt.Sprintf("using tool %s", ev.Name)
		}
		return "using tool"
	case EventToolResult:
		return "tool result"
	case EventResult:
		if ev.Error != "" {
			return ev.Error
		}
		return ev.Result
	default:
		return fmt.Sprintf("event %s", ev.Type)
	}
}

// Level maps the event to a log level.
func (ev *StreamEvent) Level() string {
	switch ev.Type {
	case EventResult:
		if ev.IsError || ev.Error != "" {
			return "error"
		}
		return "success"
	case EventMessage, EventAssistant, EventToolUse:
		return "info"
	case EventToolResult:
		return "debug"
	default:
		return "debug"
	}
}

// FinalResult scans NDJSON content for the last result record.
// Missing or malformed terminal records return ok=false, which the
// runner classifies as an execution error.
func FinalResult(content []byte) (ev *StreamEvent, ok bool) {
	for _, line := range bytes.Split(content, []byte("\n")) {
		parsed, err := ParseStreamLine(line)
		if err != nil || parsed == nil {
			continue
		}
		if parsed.Type == EventResult {
			ev = parsed
		}
	}
	return ev, ev != nil
}
