package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProviderOpenAIDefault(t *testing.T) {
	provider, err := NewProvider(Config{OpenAIAPIKey: "key", Model: "gpt-4o"})
	require.NoError(t, err)
	openai, ok := provider.(*OpenAIProvider)
	require.True(t, ok)
	require.Equal(t, "key", openai.apiKey)
	require.Equal(t, "https://api.openai.com/v1", openai.baseURL)
}

func TestNewProviderOpenRouter(t *testing.T) {
	provider, err := NewProvider(Config{Provider: "openrouter", OpenRouterAPIKey: "or-key", Model: "m"})
	require.NoError(t, err)
	openai, ok := provider.(*OpenAIProvider)
	require.True(t, ok)
	require.Equal(t, "or-key", openai.apiKey)
	require.Equal(t, "https://openrouter.ai/api/v1", openai.baseURL)
}

func TestNewProviderMoonshot(t *testing.T) {
	provider, err := NewProvider(Config{Provider: "moonshot-ai", OpenAIAPIKey: "key", Model: "m"})
	require.NoError(t, err)
	openai, ok := provider.(*OpenAIProvider)
	require.True(t, ok)
	require.Equal(t, "https://api.moonshot.ai/v1", openai.baseURL)
}

func TestNewProviderCustomBaseURLWins(t *testing.T) {
	provider, err := NewProvider(Config{Provider: "openrouter", OpenRouterAPIKey: "k", BaseURL: "http://localhost:9999/v1"})
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9999/v1", provider.(*OpenAIProvider).baseURL)
}

func TestNewProviderUnsupported(t *testing.T) {
	_, err := NewProvider(Config{Provider: "quantum"})
	require.Error(t, err)
	require.ErrorAs(t, err, &ErrUnsupportedProvider{})
	require.Contains(t, err.Error(), "quantum")
}
