package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stemsi/exot-sync/internal/model"
)

// MessageTypeDataUpdated announces that a peer wrote a collection locally.
const MessageTypeDataUpdated = "data-updated"

// Message is exchanged between peers on the same device.
type Message struct {
	Type       string           `json:"type"`
	Collection model.Collection `json:"key"`
	// Origin identifies the sending peer so it can ignore its own messages.
	Origin string `json:"origin"`
	// Payload and UpdatedAt carry the written state so peers with their own
	// cache can apply it without waiting for the debounced push.
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt int64           `json:"updatedAt,omitempty"`
}

// Broadcaster delivers messages to every other peer on the same device.
type Broadcaster interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe calls fn for every message published by any peer, including
	// the caller. Cancelling ctx stops delivery.
	Subscribe(ctx context.Context, fn func(Message)) error
	Close() error
}

// MemoryBroadcaster connects peers living in one process.
type MemoryBroadcaster struct {
	mu     sync.RWMutex
	subs   map[int]func(Message)
	nextID int
}

// NewMemoryBroadcaster returns an empty in-process channel.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[int]func(Message))}
}

func (b *MemoryBroadcaster) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	fns := make([]func(Message), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		go fn(msg)
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(ctx context.Context, fn func(Message)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	b.subs = make(map[int]func(Message))
	b.mu.Unlock()
	return nil
}
