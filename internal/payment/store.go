package payment

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrAttemptNotFound  = errors.New("payment attempt not found")
	ErrDuplicateAttempt = errors.New("payment attempt already exists")
)

// AttemptStore persists payment attempts by txnid. Reads treat an attempt
// past its expiry as missing.
type AttemptStore interface {
	Save(ctx context.Context, a Attempt) error
	Get(ctx context.Context, txnid string, now time.Time) (Attempt, error)
	SetStatus(ctx context.Context, txnid string, status AttemptStatus) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type InMemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]Attempt
}

func NewInMemoryAttemptStore() *InMemoryAttemptStore {
	return &InMemoryAttemptStore{attempts: make(map[string]Attempt)}
}

func (m *InMemoryAttemptStore) Save(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.attempts[a.TxnID]; ok {
		return ErrDuplicateAttempt
	}
	m.attempts[a.TxnID] = a
	return nil
}

func (m *InMemoryAttemptStore) Get(_ context.Context, txnid string, now time.Time) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[txnid]
	if !ok || !a.Live(now) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, nil
}

func (m *InMemoryAttemptStore) SetStatus(_ context.Context, txnid string, status AttemptStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[txnid]
	if !ok {
		return false, nil
	}
	a.Status = status
	m.attempts[txnid] = a
	return true, nil
}

func (m *InMemoryAttemptStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, a := range m.attempts {
		if !a.Live(now) {
			delete(m.attempts, id)
			n++
		}
	}
	return n, nil
}
