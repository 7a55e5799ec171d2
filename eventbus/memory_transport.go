package eventbus

import (
	"context"
	"sync"

	"github.com/serbia-gov/eventflow/eventstore"
)

// MemoryTransport is an in-process Transport: each subscriber gets its
// own buffered channel fed from Publish. It is the default transport
// for tests and for single-process deployments that don't need a
// durable broker; eventstore/kurrentdb.Transport is the durable
// alternative.
type MemoryTransport struct {
	mu          sync.RWMutex
	subscribers map[string]chan *eventstore.Envelope
	bufferSize  int
}

func NewMemoryTransport(bufferSize int) *MemoryTransport {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &MemoryTransport{
		subscribers: make(map[string]chan *eventstore.Envelope),
		bufferSize:  bufferSize,
	}
}

func (t *MemoryTransport) Publish(ctx context.Context, events []*eventstore.Envelope) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subscribers {
		for _, e := range events {
			select {
			case ch <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Subscribe returns processorID's channel (created on first call) and
// an unsubscribe function that closes and removes it.
func (t *MemoryTransport) Subscribe(ctx context.Context, processorID string) (<-chan *eventstore.Envelope, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.subscribers[processorID]
	if !ok {
		ch = make(chan *eventstore.Envelope, t.bufferSize)
		t.subscribers[processorID] = ch
	}
	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if existing, ok := t.subscribers[processorID]; ok {
			delete(t.subscribers, processorID)
			close(existing)
		}
	}
	return ch, cancel, nil
}

var _ Transport = (*MemoryTransport)(nil)
