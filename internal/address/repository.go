package address

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("address not found")
)

type Repository interface {
	List(ctx context.Context, userID int) ([]Address, error)
	// Get only returns the address when it belongs to userID.
	Get(ctx context.Context, userID, addressID int) (Address, error)
	Add(ctx context.Context, a Address) (Address, error)
	Update(ctx context.Context, a Address) (Address, error)
	Delete(ctx context.Context, userID, addressID int) error
}

// InMemoryRepository for tests
type InMemoryRepository struct {
	mu     sync.RWMutex
	data   map[int][]Address // keyed by userID
	nextID int
}

func NewInMemoryRepository(seed map[int][]Address) *InMemoryRepository {
	r := &InMemoryRepository{data: make(map[int][]Address), nextID: 1}
	for uid, addrs := range seed {
		for _, a := range addrs {
			a.UserID = uid
			r.data[uid] = append(r.data[uid], a)
			if a.AddressID >= r.nextID {
				r.nextID = a.AddressID + 1
			}
		}
	}
	return r
}

func (r *InMemoryRepository) List(_ context.Context, userID int) ([]Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Address, len(r.data[userID]))
	copy(out, r.data[userID])
	return out, nil
}

func (r *InMemoryRepository) Get(_ context.Context, userID, addressID int) (Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.data[userID] {
		if a.AddressID == addressID {
			return a, nil
		}
	}
	return Address{}, ErrNotFound
}

func (r *InMemoryRepository) Add(_ context.Context, a Address) (Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.AddressID = r.nextID
	r.nextID++
	r.data[a.UserID] = append(r.data[a.UserID], a)
	return a, nil
}

func (r *InMemoryRepository) Update(_ context.Context, a Address) (Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.data[a.UserID] {
		if cur.AddressID == a.AddressID {
			cur.AddressDesc = a.AddressDesc
			cur.Phone = a.Phone
			cur.AddressName = a.AddressName
			cur.UpdatedAt = a.UpdatedAt
			if cur.UpdatedAt.IsZero() {
				cur.UpdatedAt = time.Now().UTC()
			}
			r.data[a.UserID][i] = cur
			return cur, nil
		}
	}
	return Address{}, ErrNotFound
}

func (r *InMemoryRepository) Delete(_ context.Context, userID, addressID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	addrs := r.data[userID]
	for i, a := range addrs {
		if a.AddressID == addressID {
			r.data[userID] = append(addrs[:i:i], addrs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
