package listing

import "context"

// Reader abstracts repository operations for the service.
type Reader interface {
	GetByID(ctx context.Context, id string) (Listing, error)
	List(ctx context.Context, ownerUID string, limit int) ([]Listing, error)
}

// Service exposes business-level listing reads.
type Service struct {
	repo Reader
}

// NewService builds a Service using the provided repository.
func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the listing for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Listing, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit listings, optionally scoped to one owner.
func (s *Service) List(ctx context.Context, ownerUID string, limit int) ([]Listing, error) {
	return s.repo.List(ctx, ownerUID, limit)
}
