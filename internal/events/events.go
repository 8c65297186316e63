// Package events fans chain lifecycle events out to SSE subscribers.
package events

import (
	"context"
	"strings"
	"sync"
)

type ChainEvent struct {
	ChainID string         `json:"chain_id"`
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Ts      string         `json:"ts"`
	Source  string         `json:"source"`
	TraceID string         `json:"trace_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

// Broker is an in-process pub/sub hub keyed by chain ID. Slow
// subscribers lose events rather than block publishers; the durable
// record lives in the store, the broker is only for live streaming.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ChainEvent]struct{}
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan ChainEvent]struct{}{},
	}
}

// Subscribe registers a listener for one chain. The channel is closed
// and the listener removed when ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, chainID string) <-chan ChainEvent {
	ch := make(chan ChainEvent, 16)

	b.mu.Lock()
	if b.subscribers[chainID] == nil {
		b.subscribers[chainID] = map[chan ChainEvent]struct{}{}
	}
	b.subscribers[chainID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[chainID] != nil {
			delete(b.subscribers[chainID], ch)
			if len(b.subscribers[chainID]) == 0 {
				delete(b.subscribers, chainID)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *Broker) Publish(event ChainEvent) {
	b.mu.RLock()
	subscribers := b.subscribers[event.ChainID]
	chans := make([]chan ChainEvent, 0, len(subscribers))
	for ch := range subscribers {
		chans = append(chans, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
		}
	}
}
