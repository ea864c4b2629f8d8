package cache

import (
	"context"
	"time"

	"mostrador/backend/internal/domain"
)

// WebOrderCache holds the list of online orders waiting at the till so the
// terminals' poll does not hit the database every time.
type WebOrderCache interface {
	GetPending(ctx context.Context) ([]domain.Order, bool, error)
	SetPending(ctx context.Context, orders []domain.Order, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopWebOrderCache struct{}

func (NoopWebOrderCache) GetPending(_ context.Context) ([]domain.Order, bool, error) {
	return nil, false, nil
}

func (NoopWebOrderCache) SetPending(_ context.Context, _ []domain.Order, _ time.Duration) error {
	return nil
}

func (NoopWebOrderCache) Invalidate(_ context.Context) error {
	return nil
}
