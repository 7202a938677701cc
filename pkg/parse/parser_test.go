package parse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_StrictJSON(t *testing.T) {
	result := Extract(`{"mode": "task", "confidence": 0.9}`)
	assert.Equal(t, 1.0, result.Confidence)
	assert.False(t, result.FallbackParsed)
	assert.Equal(t, "task", result.Object["mode"])
	assert.Equal(t, 0.9, result.Object["confidence"])
}

func TestExtract_CodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"json fence", "```json\n{\"mode\": \"chat\"}\n```"},
		{"bare fence", "```\n{\"mode\": \"chat\"}\n```"},
		{"fence with whitespace", "  ```json\n  {\"mode\": \"chat\"}\n  ```  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Extract(tt.input)
			assert.Equal(t, "chat", result.Object["mode"])
			assert.Equal(t, 1.0, result.Confidence)
		})
	}
}

func TestExtract_Repair(t *testing.T) {
	tests := []struct {
		name  string
		input string
		key   string
		want  any
	}{
		{"unquoted keys", `{mode: "dev", confidence: 0.8}`, "mode", "dev"},
		{"single quotes", `{'mode': 'task'}`, "mode", "task"},
		{"trailing comma", `{"mode": "chat",}`, "mode", "chat"},
		{"truncated braces", `{"mode": "task", "nested": {"a": 1`, "mode", "task"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Extract(tt.input)
			require.False(t, result.FallbackParsed, "repair should succeed")
			assert.Equal(t, tt.want, result.Object[tt.key])
			assert.Equal(t, 0.8, result.Confidence)
		})
	}
}

func TestExtract_LargestObject(t *testing.T) {
	input := `The plan is as follows: {"calls": [{"tool": "filesystem__create_directory"}]} hope that helps!`
	result := Extract(input)
	require.NotNil(t, result.Object["calls"])
	assert.GreaterOrEqual(t, result.Confidence, 0.6)
}

func TestExtract_KeywordFallback(t *testing.T) {
	result := Extract("I think you should use the filesystem and shell servers for this task")
	assert.True(t, result.FallbackParsed)
	assert.Equal(t, true, result.Object["_fallbackParsed"])
	assert.Equal(t, "task", result.Object["mode"])
	assert.Equal(t, []string{"filesystem", "shell"}, result.Object["selected_servers"])
}

func TestExtract_NothingExtractable(t *testing.T) {
	result := Extract("complete gibberish with no structure at all")
	assert.True(t, result.FallbackParsed)
	assert.Equal(t, 0.0, result.Confidence)
}

// Round-trip law: parsing a serialized well-formed object returns the object.
func TestExtract_RoundTrip(t *testing.T) {
	objects := []map[string]any{
		{"mode": "task", "confidence": 0.75},
		{"selected_servers": []any{"filesystem"}, "reasoning": "files involved"},
		{"items": []any{map[string]any{"action": "create folder", "dependencies": []any{}}}},
	}
	for _, obj := range objects {
		data, err := json.Marshal(obj)
		require.NoError(t, err)
		result := Extract(string(data))
		assert.Equal(t, 1.0, result.Confidence)
		assert.Equal(t, obj, result.Object)
	}
}

func TestRepair_BalancesNestedStructures(t *testing.T) {
	repaired := Repair(`{"a": [1, 2, {"b": "c"`)
	var obj map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &obj))
}

func TestStripFences_Unbalanced(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, StripFences("```json\n{\"a\": 1}"))
}
