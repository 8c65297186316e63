package llm

import (
	"context"
	"log"
	"strings"
)

const answerSystemPrompt = `You are an expert quiz solver. Analyze the question carefully and provide ONLY the answer value.

CRITICAL RULES:
1. Return ONLY the answer value that should go in the "answer" field
2. DO NOT return the entire JSON payload structure - just the answer value itself
3. For numeric answers: return just the number (e.g., 42 or 3.14)
4. For boolean answers: return true or false (lowercase)
5. For string answers: return just the string without quotes
6. For list/object answers: return valid JSON
7. If the question shows an example like "answer": "something", return just: something
8. Be precise and accurate
9. If the question asks for a sum, calculate it exactly
10. DO NOT include explanations, just the answer value`

const visionSystemPrompt = "You are an expert at analyzing images and extracting information. Provide precise, accurate answers."

// Service wraps a Provider with the quiz-solving prompts. It is the
// text-analysis and visual-analysis collaborator the orchestrator delegates
// to.
type Service struct {
	provider Provider
}

func NewService(provider Provider) *Service {
	return &Service{provider: provider}
}

// AnswerQuiz asks the model for a bare answer value to the question, with
// optional supporting context (scraped content, file data, raw HTML).
func (s *Service) AnswerQuiz(ctx context.Context, question string, contextText string) (string, error) {
	content := "Question: " + question
	if contextText != "" {
		content += "\n\nContext/Data:\n" + contextText
	}
	reply, err := s.provider.Generate(ctx, []Message{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: content},
	})
	if err != nil {
		return "", err
	}
	log.Printf("llm answer: %s", truncate(reply, 200))
	return reply, nil
}

// AnalyzeImage runs a vision prompt over a base64 PNG.
func (s *Service) AnalyzeImage(ctx context.Context, imageB64 string, prompt string) (string, error) {
	reply, err := s.provider.Generate(ctx, []Message{
		{Role: "system", Content: visionSystemPrompt},
		{Role: "user", Content: prompt, ImageB64: imageB64},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
