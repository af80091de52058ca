package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamUsage(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"delta chunk without usage", `data: {"choices":[{"delta":{"content":"hi"}}]}`, false},
		{"done marker", `data: [DONE]`, false},
		{"not a data line", `event: ping`, false},
		{"usage chunk", `data: {"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":34,"total_tokens":46}}`, true},
		{"null usage field", `data: {"choices":[],"usage":null}`, false},
		{"malformed json with usage text", `data: {"usage":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage, ok := parseStreamUsage([]byte(tt.line))
			assert.Equal(t, tt.want, ok)
			if tt.want {
				require.NotNil(t, usage)
				assert.Equal(t, 12, usage.PromptTokens)
				assert.Equal(t, 34, usage.CompletionTokens)
			}
		})
	}
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, retryableStatus(500))
	assert.True(t, retryableStatus(502))
	assert.True(t, retryableStatus(429))
	assert.False(t, retryableStatus(400))
	assert.False(t, retryableStatus(401))
	assert.False(t, retryableStatus(404))
	assert.False(t, retryableStatus(422))
}
