package cache

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// TokenCache shares OAuth2 access tokens between relay instances.
type TokenCache struct {
	cache CacheClient
}

func NewTokenCache(cache CacheClient) *TokenCache {
	return &TokenCache{cache: cache}
}

func (t *TokenCache) GetToken(ctx context.Context, key string) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := t.cache.Get(ctx, key, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (t *TokenCache) SetToken(ctx context.Context, key string, tok *oauth2.Token, ttl time.Duration) error {
	return t.cache.Set(ctx, key, tok, ttl)
}
