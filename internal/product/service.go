package product

import "context"

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context) ([]Product, error) {
	return s.repo.List(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int) (Product, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetVariant(ctx context.Context, id int) (Variant, error) {
	return s.repo.GetVariant(ctx, id)
}

func (s *Service) DecrementStockIfAvailable(ctx context.Context, variantID, qty int) (bool, error) {
	return s.repo.DecrementStockIfAvailable(ctx, variantID, qty)
}

func (s *Service) ReserveStock(ctx context.Context, lines []Reservation) error {
	return s.repo.ReserveStock(ctx, lines)
}

func (s *Service) ReleaseStock(ctx context.Context, lines []Reservation) error {
	return s.repo.ReleaseStock(ctx, lines)
}
