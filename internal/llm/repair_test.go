package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeShape struct {
	Score           float64  `json:"score"`
	Explanation     string   `json:"explanation"`
	Recommendations []string `json:"recommendations"`
}

func TestDecodeObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		score float64
	}{
		{"plain", `{"score": 72, "explanation": "ok", "recommendations": []}`, 72},
		{"fenced", "Here you go:\n```json\n{\"score\": 55, \"explanation\": \"x\"}\n```\nThanks", 55},
		{"bare fence", "```\n{\"score\": 10}\n```", 10},
		{"prose", `Sure! {"score": 88, "explanation": "good"} Hope this helps.`, 88},
		{"trailing comma", `{"score": 40, "recommendations": ["a", "b",],}`, 40},
		{"unquoted keys", `{score: 61, explanation: "meh"}`, 61},
		{"single quotes", `{'score': 33, 'explanation': 'low'}`, 33},
		{"truncated", `{"score": 90, "recommendations": ["add llms.txt"`, 90},
		{"bom", "\ufeff{\"score\": 5}", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out probeShape
			require.NoError(t, DecodeObject(tt.input, &out))
			assert.InDelta(t, tt.score, out.Score, 1e-9)
		})
	}
}

func TestDecodeObjectFailure(t *testing.T) {
	var out probeShape
	assert.ErrorIs(t, DecodeObject("I cannot rate this brand.", &out), ErrNoJSONObject)
	assert.ErrorIs(t, DecodeObject("", &out), ErrNoJSONObject)
}

func TestExtractJSONNoObject(t *testing.T) {
	assert.Equal(t, "no braces here", ExtractJSON("no braces here"))
}
