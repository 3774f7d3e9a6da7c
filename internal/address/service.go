package address

import (
	"context"
	"errors"
	"time"
)

var ErrInvalid = errors.New("addressDesc or addressName required")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, userID int) ([]Address, error) {
	if userID <= 0 {
		return nil, ErrNotFound
	}
	return s.repo.List(ctx, userID)
}

// Get returns the address only if userID owns it.
func (s *Service) Get(ctx context.Context, userID, addressID int) (Address, error) {
	if userID <= 0 || addressID <= 0 {
		return Address{}, ErrNotFound
	}
	return s.repo.Get(ctx, userID, addressID)
}

func (s *Service) Add(ctx context.Context, userID int, desc, phone, name string) (Address, error) {
	if userID <= 0 {
		return Address{}, ErrNotFound
	}
	if desc == "" && name == "" {
		return Address{}, ErrInvalid
	}
	now := time.Now().UTC()
	return s.repo.Add(ctx, Address{UserID: userID, AddressDesc: desc, Phone: phone, AddressName: name, CreatedAt: now, UpdatedAt: now})
}

func (s *Service) Update(ctx context.Context, userID, addressID int, desc, phone, name string) (Address, error) {
	if userID <= 0 || addressID <= 0 {
		return Address{}, ErrNotFound
	}
	if desc == "" && name == "" {
		return Address{}, ErrInvalid
	}
	return s.repo.Update(ctx, Address{
		AddressID: addressID, UserID: userID, AddressDesc: desc, Phone: phone, AddressName: name,
		UpdatedAt: time.Now().UTC(),
	})
}

func (s *Service) Delete(ctx context.Context, userID, addressID int) error {
	if userID <= 0 || addressID <= 0 {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, userID, addressID)
}
