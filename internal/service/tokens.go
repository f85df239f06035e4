package service

import (
	"context"
	"time"

	"azaan/internal/domain"
	"azaan/internal/store"
	"azaan/internal/util"
)

const DefaultTokenPageLimit = 20

type TokenStore interface {
	ListTokens(ctx context.Context) ([]store.RecipientToken, error)
	ListTokensPage(ctx context.Context, p store.Page) ([]store.RecipientToken, int, error)
	UpsertToken(ctx context.Context, in store.TokenUpsert) (store.RecipientToken, error)
	DeleteToken(ctx context.Context, id string) (bool, error)
}

// Invalidator drops a cached recipient snapshot after the registry changes.
type Invalidator interface {
	Invalidate()
}

type TokenService struct {
	Store TokenStore
	Cache Invalidator // optional; nil when the cache lives in another process
	NewID func() string
}

func (s *TokenService) List(ctx context.Context, page PageRequest) ([]store.RecipientToken, Pagination, error) {
	page = page.normalize(DefaultTokenPageLimit)
	tokens, total, err := s.Store.ListTokensPage(ctx, page.store())
	if err != nil {
		return nil, Pagination{}, err
	}
	return tokens, newPagination(total, page), nil
}

func (s *TokenService) ListAll(ctx context.Context) ([]store.RecipientToken, error) {
	return s.Store.ListTokens(ctx)
}

// Register upserts by token value. An empty platform becomes "unknown".
func (s *TokenService) Register(ctx context.Context, req domain.RegisterTokenRequest, now time.Time) (store.RecipientToken, error) {
	req.Token = util.NormalizeToken(req.Token)
	if err := req.Validate(); err != nil {
		return store.RecipientToken{}, err
	}
	if req.Platform == "" {
		req.Platform = domain.UnknownPlatform
	}
	t, err := s.Store.UpsertToken(ctx, store.TokenUpsert{
		ID:       s.newID(),
		Token:    req.Token,
		Platform: req.Platform,
		Username: req.Username,
		Now:      now,
	})
	if err != nil {
		return store.RecipientToken{}, err
	}
	s.invalidate()
	return t, nil
}

func (s *TokenService) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := s.Store.DeleteToken(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.invalidate()
	}
	return ok, nil
}

func (s *TokenService) invalidate() {
	if s.Cache != nil {
		s.Cache.Invalidate()
	}
}

func (s *TokenService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return util.NewTokenID()
}
