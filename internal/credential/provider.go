package credential

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tinywideclouds/go-pushrelay-service/internal/metrics"
)

// refreshMargin keeps a cached token from being handed out right before it expires.
const refreshMargin = time.Minute

// Minter produces a brand new access token. *Signer satisfies it.
type Minter interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// TokenCache is a shared cache (e.g. Redis) so several instances reuse one token.
type TokenCache interface {
	GetToken(ctx context.Context, key string) (*oauth2.Token, error)
	SetToken(ctx context.Context, key string, tok *oauth2.Token, ttl time.Duration) error
}

// Provider caches access tokens per credential fingerprint and collapses
// concurrent refreshes into a single signing round-trip.
type Provider struct {
	minter Minter
	key    string
	shared TokenCache
	logger *slog.Logger

	mu      sync.Mutex
	current *oauth2.Token
	group   singleflight.Group
}

// NewProvider wraps minter. shared may be nil.
func NewProvider(minter Minter, fingerprint string, shared TokenCache, logger *slog.Logger) *Provider {
	return &Provider{
		minter: minter,
		key:    "fcm:access-token:" + fingerprint,
		shared: shared,
		logger: logger.With("component", "CredentialProvider"),
	}
}

// Token returns a cached token while it is fresh, otherwise mints a new one.
func (p *Provider) Token(ctx context.Context) (*oauth2.Token, error) {
	if tok := p.cached(); tok != nil {
		return tok, nil
	}

	v, err, _ := p.group.Do(p.key, func() (interface{}, error) {
		if tok := p.cached(); tok != nil {
			return tok, nil
		}

		if p.shared != nil {
			tok, err := p.shared.GetToken(ctx, p.key)
			if err == nil && fresh(tok) {
				p.store(tok)
				return tok, nil
			}
		}

		tok, err := p.minter.Token(ctx)
		if err != nil {
			return nil, err
		}
		p.store(tok)
		metrics.AccessTokenMints.Inc()
		p.logger.Debug("Minted new access token", "expiry", tok.Expiry)

		if p.shared != nil {
			if ttl := time.Until(tok.Expiry) - refreshMargin; ttl > 0 {
				if err := p.shared.SetToken(ctx, p.key, tok, ttl); err != nil {
					p.logger.Warn("Failed to share access token", "err", err)
				}
			}
		}
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// Invalidate drops the in-memory token, e.g. after the API rejected it.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
}

func (p *Provider) cached() *oauth2.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fresh(p.current) {
		return p.current
	}
	return nil
}

func (p *Provider) store(tok *oauth2.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = tok
}

func fresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	return tok.Expiry.IsZero() || time.Until(tok.Expiry) > refreshMargin
}

// TokenSource adapts the provider for libraries that take an oauth2.TokenSource.
// The source outlives ctx's cancellation so refreshes keep working while
// in-flight sends drain after a shutdown signal; ctx only supplies values.
func (p *Provider) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &providerSource{ctx: context.WithoutCancel(ctx), p: p}
}

type providerSource struct {
	ctx context.Context
	p   *Provider
}

func (s *providerSource) Token() (*oauth2.Token, error) {
	return s.p.Token(s.ctx)
}
