// Package solver holds the category-specific task solvers the orchestrator
// dispatches to. Each solver turns one parsed task into raw answer text;
// typing the answer is the normalizer's job.
package solver

import "context"

// Downloader fetches a referenced data artifact. The browser service
// satisfies it in production.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}
