package solver

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/driftworks/quizchain/internal/llm"
)

// PDF answers tasks that reference a downloadable PDF by extracting its
// text and delegating to the text analyst.
type PDF struct {
	analyst   *llm.Service
	downloads Downloader
}

func NewPDF(analyst *llm.Service, downloads Downloader) *PDF {
	return &PDF{analyst: analyst, downloads: downloads}
}

func (s *PDF) Solve(ctx context.Context, question string, downloadURL string) (string, error) {
	data, err := s.downloads.Download(ctx, downloadURL)
	if err != nil {
		return "", fmt.Errorf("download pdf: %w", err)
	}
	text, err := ExtractPDFText(data)
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("pdf at %s contained no extractable text", downloadURL)
	}
	return s.analyst.AnswerQuiz(ctx, question, "PDF Content:\n"+text)
}

// ExtractPDFText concatenates the plain text of every page, tagged with a
// page header so the model can answer page-specific questions.
func ExtractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var parts []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("=== Page %d ===\n%s", i, text))
	}
	return strings.Join(parts, "\n\n"), nil
}
