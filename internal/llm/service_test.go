package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	reply    string
	err      error
	messages []Message
}

func (p *recordingProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	p.messages = messages
	return p.reply, p.err
}

func TestAnswerQuizPromptAssembly(t *testing.T) {
	provider := &recordingProvider{reply: "42"}
	service := NewService(provider)

	reply, err := service.AnswerQuiz(context.Background(), "What is 6 x 7?", "table: 6,7")
	require.NoError(t, err)
	require.Equal(t, "42", reply)

	require.Len(t, provider.messages, 2)
	require.Equal(t, "system", provider.messages[0].Role)
	require.Contains(t, provider.messages[0].Content, "ONLY the answer value")
	require.Equal(t, "user", provider.messages[1].Role)
	require.Contains(t, provider.messages[1].Content, "Question: What is 6 x 7?")
	require.Contains(t, provider.messages[1].Content, "Context/Data:\ntable: 6,7")
}

func TestAnswerQuizOmitsEmptyContext(t *testing.T) {
	provider := &recordingProvider{reply: "Paris"}
	service := NewService(provider)

	_, err := service.AnswerQuiz(context.Background(), "Capital of France?", "")
	require.NoError(t, err)
	require.NotContains(t, provider.messages[1].Content, "Context/Data")
}

func TestAnswerQuizPropagatesError(t *testing.T) {
	provider := &recordingProvider{err: errors.New("quota exceeded")}
	service := NewService(provider)

	_, err := service.AnswerQuiz(context.Background(), "q", "")
	require.ErrorContains(t, err, "quota exceeded")
}

func TestAnalyzeImageAttachesImage(t *testing.T) {
	provider := &recordingProvider{reply: "  a bar chart  "}
	service := NewService(provider)

	reply, err := service.AnalyzeImage(context.Background(), "aGVsbG8=", "what does the chart show?")
	require.NoError(t, err)
	require.Equal(t, "a bar chart", reply)

	require.Len(t, provider.messages, 2)
	require.Equal(t, "aGVsbG8=", provider.messages[1].ImageB64)
	require.Equal(t, "what does the chart show?", provider.messages[1].Content)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "abcde...", truncate("abcdefgh", 5))
}
