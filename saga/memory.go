package saga

import (
	"context"
	"sync"

	"github.com/serbia-gov/eventflow"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[eventflow.ID]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[eventflow.ID]*State)}
}

func (s *MemoryStore) Load(ctx context.Context, sagaID eventflow.ID) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[sagaID]; ok {
		copy := *st
		return &copy, nil
	}
	return &State{SagaID: sagaID, Status: Absent}, nil
}

func (s *MemoryStore) Save(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *state
	s.states[state.SagaID] = &stored
	return nil
}

var _ Store = (*MemoryStore)(nil)

// MemoryStepLog is an in-process StepLog.
type MemoryStepLog struct {
	mu      sync.Mutex
	entries map[string]bool
}

func NewMemoryStepLog() *MemoryStepLog {
	return &MemoryStepLog{entries: make(map[string]bool)}
}

func (l *MemoryStepLog) MarkExecuted(ctx context.Context, sagaID eventflow.ID, stepID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := sagaID.String() + "/" + stepID
	if l.entries[key] {
		return false, nil
	}
	l.entries[key] = true
	return true, nil
}

var _ StepLog = (*MemoryStepLog)(nil)
