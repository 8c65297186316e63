package store

import "context"

// Chain is one quiz chain run, from the trigger request to completion.
// SecretEnc holds the caller's secret encrypted at rest; the plaintext
// only lives inside the worker while a step is being submitted.
type Chain struct {
	ID               string
	Email            string
	SecretEnc        string
	URL              string
	Status           string
	CompletionReason string
	MaxSteps         int
	CreatedAt        string
	UpdatedAt        string
}

// ChainSummary is the list view of a chain with its step count folded in.
type ChainSummary struct {
	ID               string
	Email            string
	URL              string
	Status           string
	CompletionReason string
	MaxSteps         int
	StepCount        int64
	CreatedAt        string
	UpdatedAt        string
}

// StepResult records one solved quiz step, whether the grader accepted
// the answer, and where the chain went next.
type StepResult struct {
	ChainID   string
	Step      int
	URL       string
	Endpoint  string
	Category  string
	Question  string
	Answer    string
	Correct   bool
	NextURL   string
	Reason    string
	Attempts  int
	CreatedAt string
}

type ChainEvent struct {
	ChainID   string
	Seq       int64
	Type      string
	Timestamp string
	Source    string
	TraceID   string
	Payload   map[string]any
}

type Store interface {
	CreateChain(ctx context.Context, chain Chain) error
	GetChain(ctx context.Context, chainID string) (*Chain, error)
	ListChains(ctx context.Context) ([]ChainSummary, error)
	UpdateChainStatus(ctx context.Context, chainID string, status string, completionReason string) error
	DeleteChain(ctx context.Context, chainID string) error
	RecordStepResult(ctx context.Context, result StepResult) error
	ListStepResults(ctx context.Context, chainID string) ([]StepResult, error)
	AppendEvent(ctx context.Context, event ChainEvent) error
	ListEvents(ctx context.Context, chainID string, afterSeq int64) ([]ChainEvent, error)
	NextSeq(ctx context.Context, chainID string) (int64, error)
}
