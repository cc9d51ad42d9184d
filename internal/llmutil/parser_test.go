package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Thought string `json:"thought"`
	Value   int    `json:"value"`
}

func TestParseJSONResponse(t *testing.T) {
	testCases := []struct {
		name     string
		response string
		want     testPayload
	}{
		{
			name:     "bare JSON object",
			response: `{"thought": "click the button", "value": 3}`,
			want:     testPayload{Thought: "click the button", Value: 3},
		},
		{
			name:     "fenced with json language tag",
			response: "```json\n{\"thought\": \"fenced\", \"value\": 1}\n```",
			want:     testPayload{Thought: "fenced", Value: 1},
		},
		{
			name:     "fenced without language tag",
			response: "```\n{\"thought\": \"plain fence\", \"value\": 2}\n```",
			want:     testPayload{Thought: "plain fence", Value: 2},
		},
		{
			name:     "object buried in prose",
			response: `Sure, here is the next step: {"thought": "buried", "value": 7} Let me know!`,
			want:     testPayload{Thought: "buried", Value: 7},
		},
		{
			name:     "leading and trailing whitespace",
			response: "\n\n  {\"thought\": \"padded\", \"value\": 4}  \n",
			want:     testPayload{Thought: "padded", Value: 4},
		},
		{
			name:     "nested braces inside prose",
			response: `The plan {"thought": "outer", "value": 5, "extra": null} done.`,
			want:     testPayload{Thought: "outer", Value: 5},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseJSONResponse[testPayload](tc.response)
			require.NoError(t, err)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestParseJSONResponseErrors(t *testing.T) {
	testCases := []struct {
		name     string
		response string
	}{
		{name: "empty response", response: ""},
		{name: "no object at all", response: "I could not decide on an action."},
		{name: "malformed JSON", response: `{"thought": "broken",`},
		{name: "fenced garbage", response: "```json\nnot json\n```"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseJSONResponse[testPayload](tc.response)
			require.Error(t, err)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "", truncate("abcdef", 0))
}
