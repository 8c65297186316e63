package solver

import (
	"context"
	"testing"

	"github.com/driftworks/quizchain/internal/llm"
)

// stubProvider queues replies and records every prompt it was sent.
type stubProvider struct {
	replies []string
	err     error
	calls   [][]llm.Message
}

func (p *stubProvider) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	p.calls = append(p.calls, messages)
	if p.err != nil {
		return "", p.err
	}
	if len(p.replies) == 0 {
		return "stub reply", nil
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return reply, nil
}

func (p *stubProvider) lastUserContent(t *testing.T) string {
	t.Helper()
	if len(p.calls) == 0 {
		t.Fatal("expected at least one model call")
	}
	last := p.calls[len(p.calls)-1]
	return last[len(last)-1].Content
}

func newStubAnalyst(replies ...string) (*llm.Service, *stubProvider) {
	provider := &stubProvider{replies: replies}
	return llm.NewService(provider), provider
}

type stubDownloader struct {
	data []byte
	err  error
	urls []string
}

func (d *stubDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	d.urls = append(d.urls, url)
	return d.data, d.err
}
