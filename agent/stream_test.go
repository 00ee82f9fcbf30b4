package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantNil   bool
		wantErr   bool
		wantType  string
		wantLevel string
	}{
		{name: "empty line", line: "   ", wantNil: true},
		{name: "malformed", line: "{not json", wantErr: true},
		{
			name:      "assistant message",
			line:      `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"working on it"}]}}`,
			wantType:  EventAssistant,
			wantLevel: "info",
		},
		{
			name:      "tool use",
			line:      `{"type":"tool_use","name":"Edit","input":{"file":"main.go"}}`,
			wantType:  EventToolUse,
			wantLevel: "info",
		},
		{
			name:      "tool result",
			line:      `{"type":"tool_result","output":"done"}`,
			wantType:  EventToolResult,
			wantLevel: "debug",
		},
		{
			name:      "result",
			line:      `{"type":"result","result":"all tests pass","total_cost_usd":0.42}`,
			wantType:  EventResult,
			wantLevel: "success",
		},
		{
			name:      "error result",
			line:      `{"type":"result","result":"","is_error":true,"error":"rate limited"}`,
			wantType:  EventResult,
			wantLevel: "error",
		},
		{
			name:      "unknown type passes through",
			line:      `{"type":"system_init","session_id":"abc"}`,
			wantType:  "system_init",
			wantLevel: "debug",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseStreamLine([]byte(tt.line))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, ev)
				return
			}
			require.NotNil(t, ev)
			assert.Equal(t, tt.wantType, ev.Type)
			assert.Equal(t, tt.wantLevel, ev.Level())
			assert.NotEmpty(t, ev.Raw)
		})
	}
}

func TestStreamEventText(t *testing.T) {
	ev, err := ParseStreamLine([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"step one"},{"type":"tool_use","name":"Bash"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, "step one\n[tool: Bash]", ev.Text())

	ev, err = ParseStreamLine([]byte(`{"type":"result","result":"done"}`))
	require.NoError(t, err)
	assert.Equal(t, "done", ev.Text())

	ev, err = ParseStreamLine([]byte(`{"type":"result","is_error":true,"error":"boom"}`))
	require.NoError(t, err)
	assert.Equal(t, "boom", ev.Text())
}

func TestFinalResult(t *testing.T) {
	content := []byte(`{"type":"system_init"}
{"type":"assistant","message":{"content":[{"type":"text","text":"thinking"}]}}
{"type":"result","result":"first attempt","total_cost_usd":0.1}
{"type":"assistant","message":{"content":[{"type":"text","text":"retrying"}]}}
{"type":"result","result":"final answer","total_cost_usd":0.2}
`)
	final, ok := FinalResult(content)
	require.True(t, ok)
	// Retries append records; the last result wins.
	assert.Equal(t, "final answer", final.Result)
	assert.Equal(t, 0.2, final.CostUSD)
}

func TestFinalResultMissing(t *testing.T) {
	_, ok := FinalResult([]byte(`{"type":"assistant"}` + "\n"))
	assert.False(t, ok)

	_, ok = FinalResult(nil)
	assert.False(t, ok)
}

func TestFinalResultSkipsMalformedLines(t *testing.T) {
	content := []byte("garbage\n" + `{"type":"result","result":"ok"}` + "\n")
	final, ok := FinalResult(content)
	require.True(t, ok)
	assert.Equal(t, "ok", final.Result)
}
