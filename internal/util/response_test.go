package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitThinkAndAnswer(t *testing.T) {
	thinking, answer := SplitThinkAndAnswer("<think>step 1</think>\nThe answer is 4.")
	assert.Equal(t, "step 1", thinking)
	assert.Equal(t, "The answer is 4.", answer)

	thinking, answer = SplitThinkAndAnswer("<思考>推理</思考>答案")
	assert.Equal(t, "推理", thinking)
	assert.Equal(t, "答案", answer)

	assert.True(t, ContainsThinkTags("<THINKING>x</THINKING>"))
	assert.False(t, ContainsThinkTags("plain"))
}

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		reasoning string
		opts      CleanOptions
		want      string
	}{
		{
			name:    "untouched",
			content: "  <think>x</think> answer  ",
			want:    "<think>x</think> answer",
		},
		{
			name:    "strip reasoning",
			content: "<think>x</think> answer",
			opts:    CleanOptions{StripReasoning: true},
			want:    "answer",
		},
		{
			name:      "keep separate reasoning",
			content:   "answer",
			reasoning: "because",
			opts:      CleanOptions{KeepReasoning: true},
			want:      "<think>\nbecause\n</think>\n\nanswer",
		},
		{
			name:    "keep without reasoning",
			content: "answer",
			opts:    CleanOptions{KeepReasoning: true},
			want:    "answer",
		},
		{
			name:    "meta chatter",
			content: "A real sample.\n\nI hope this helps! Let me know if you need more.",
			opts:    CleanOptions{CleanMeta: true},
			want:    "A real sample.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanResponse(tt.content, tt.reasoning, tt.opts))
		})
	}
}

func TestCleanMeta_AllChatter(t *testing.T) {
	assert.Equal(t, "Let's start over.", CleanMeta("  Let's start over.  "))
}
