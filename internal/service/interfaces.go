package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"jobwatch/internal/domain"
)

type Source interface {
	Fetch(ctx context.Context, feed domain.FeedSelector, cred domain.Credential) (*domain.FeedPage, error)
}

type DedupStore interface {
	Classify(ctx context.Context, feed domain.FeedSelector, listings []domain.Listing) (domain.Classification, error)
	Commit(ctx context.Context, feed domain.FeedSelector, ids []string) error
}

type Dispatcher interface {
	Dispatch(listings []domain.Listing, feed string, cfg domain.FilterConfig) int
}
