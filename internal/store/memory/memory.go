package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/driftworks/quizchain/internal/store"
)

type MemoryStore struct {
	mu      sync.RWMutex
	chains  map[string]store.Chain
	results map[string][]store.StepResult
	events  map[string][]store.ChainEvent
	seq     map[string]int64
}

func New() *MemoryStore {
	return &MemoryStore{
		chains:  map[string]store.Chain{},
		results: map[string][]store.StepResult{},
		events:  map[string][]store.ChainEvent{},
		seq:     map[string]int64{},
	}
}

func (m *MemoryStore) CreateChain(ctx context.Context, chain store.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(chain.Status) == "" {
		chain.Status = "pending"
	}
	m.chains[chain.ID] = chain
	return nil
}

func (m *MemoryStore) GetChain(ctx context.Context, chainID string) (*store.Chain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain, ok := m.chains[chainID]
	if !ok {
		return nil, nil
	}
	cloned := chain
	return &cloned, nil
}

func (m *MemoryStore) ListChains(ctx context.Context) ([]store.ChainSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]store.ChainSummary, 0, len(m.chains))
	for _, chain := range m.chains {
		summaries = append(summaries, store.ChainSummary{
			ID:               chain.ID,
			Email:            chain.Email,
			URL:              chain.URL,
			Status:           chain.Status,
			CompletionReason: chain.CompletionReason,
			MaxSteps:         chain.MaxSteps,
			StepCount:        int64(len(m.results[chain.ID])),
			CreatedAt:        chain.CreatedAt,
			UpdatedAt:        chain.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return parseTime(summaries[i].UpdatedAt).After(parseTime(summaries[j].UpdatedAt))
	})
	return summaries, nil
}

func (m *MemoryStore) UpdateChainStatus(ctx context.Context, chainID string, status string, completionReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain, ok := m.chains[chainID]
	if !ok {
		return nil
	}
	chain.Status = status
	chain.CompletionReason = completionReason
	chain.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	m.chains[chainID] = chain
	return nil
}

func (m *MemoryStore) DeleteChain(ctx context.Context, chainID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chains, chainID)
	delete(m.results, chainID)
	delete(m.events, chainID)
	delete(m.seq, chainID)
	return nil
}

func (m *MemoryStore) RecordStepResult(ctx context.Context, result store.StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.ChainID] = append(m.results[result.ChainID], result)
	return nil
}

func (m *MemoryStore) ListStepResults(ctx context.Context, chainID string) ([]store.StepResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := append([]store.StepResult{}, m.results[chainID]...)
	sort.Slice(results, func(i, j int) bool {
		return results[i].Step < results[j].Step
	})
	return results, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event store.ChainEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Type = normalizeEventType(event.Type)
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	m.events[event.ChainID] = append(m.events[event.ChainID], event)
	return nil
}

func normalizeEventType(eventType string) string {
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		return ""
	}
	return strings.ReplaceAll(normalized, "_", ".")
}

func (m *MemoryStore) ListEvents(ctx context.Context, chainID string, afterSeq int64) ([]store.ChainEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[chainID]
	if afterSeq <= 0 {
		return append([]store.ChainEvent{}, events...), nil
	}
	filtered := []store.ChainEvent{}
	for _, event := range events {
		if event.Seq > afterSeq {
			filtered = append(filtered, event)
		}
	}
	return filtered, nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, chainID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[chainID] += 1
	return m.seq[chainID], nil
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
