package credential_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tinywideclouds/go-pushrelay-service/internal/credential"
)

type countingMinter struct {
	calls    atomic.Int32
	lifetime time.Duration
	err      error
}

func (m *countingMinter) Token(ctx context.Context) (*oauth2.Token, error) {
	n := m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	// Slow enough for concurrent callers to pile up behind the first one.
	time.Sleep(20 * time.Millisecond)
	return &oauth2.Token{
		AccessToken: fmt.Sprintf("token-%d", n),
		Expiry:      time.Now().Add(m.lifetime),
	}, nil
}

type mockTokenCache struct {
	mock.Mock
}

func (m *mockTokenCache) GetToken(ctx context.Context, key string) (*oauth2.Token, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oauth2.Token), args.Error(1)
}

func (m *mockTokenCache) SetToken(ctx context.Context, key string, tok *oauth2.Token, ttl time.Duration) error {
	return m.Called(ctx, key, tok, ttl).Error(0)
}

func TestProvider_Token(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Concurrent callers share one mint", func(t *testing.T) {
		minter := &countingMinter{lifetime: time.Hour}
		provider := credential.NewProvider(minter, "fp", nil, logger)

		var wg sync.WaitGroup
		tokens := make([]string, 20)
		for i := range tokens {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tok, err := provider.Token(ctx)
				if assert.NoError(t, err) {
					tokens[i] = tok.AccessToken
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), minter.calls.Load())
		for _, tok := range tokens {
			assert.Equal(t, tokens[0], tok)
		}
	})

	t.Run("Expiring token is re-minted", func(t *testing.T) {
		// Lifetime shorter than the refresh margin: never considered fresh.
		minter := &countingMinter{lifetime: 30 * time.Second}
		provider := credential.NewProvider(minter, "fp", nil, logger)

		_, err := provider.Token(ctx)
		require.NoError(t, err)
		_, err = provider.Token(ctx)
		require.NoError(t, err)

		assert.Equal(t, int32(2), minter.calls.Load())
	})

	t.Run("Invalidate forces a new mint", func(t *testing.T) {
		minter := &countingMinter{lifetime: time.Hour}
		provider := credential.NewProvider(minter, "fp", nil, logger)

		_, err := provider.Token(ctx)
		require.NoError(t, err)
		provider.Invalidate()
		_, err = provider.Token(ctx)
		require.NoError(t, err)

		assert.Equal(t, int32(2), minter.calls.Load())
	})

	t.Run("Mint failure propagates", func(t *testing.T) {
		minter := &countingMinter{err: credential.ErrNoAccessToken}
		provider := credential.NewProvider(minter, "fp", nil, logger)

		_, err := provider.Token(ctx)
		require.ErrorIs(t, err, credential.ErrNoAccessToken)
	})

	t.Run("Shared cache hit skips the mint", func(t *testing.T) {
		minter := &countingMinter{lifetime: time.Hour}
		shared := new(mockTokenCache)
		cachedTok := &oauth2.Token{AccessToken: "shared", Expiry: time.Now().Add(30 * time.Minute)}
		shared.On("GetToken", mock.Anything, "fcm:access-token:fp").Return(cachedTok, nil)

		provider := credential.NewProvider(minter, "fp", shared, logger)
		tok, err := provider.Token(ctx)

		require.NoError(t, err)
		assert.Equal(t, "shared", tok.AccessToken)
		assert.Equal(t, int32(0), minter.calls.Load())
		shared.AssertExpectations(t)
	})

	t.Run("Shared cache miss mints and populates", func(t *testing.T) {
		minter := &countingMinter{lifetime: time.Hour}
		shared := new(mockTokenCache)
		shared.On("GetToken", mock.Anything, "fcm:access-token:fp").Return(nil, errors.New("miss"))
		shared.On("SetToken", mock.Anything, "fcm:access-token:fp", mock.Anything, mock.MatchedBy(func(ttl time.Duration) bool {
			return ttl > 0 && ttl < time.Hour
		})).Return(nil)

		provider := credential.NewProvider(minter, "fp", shared, logger)
		_, err := provider.Token(ctx)

		require.NoError(t, err)
		assert.Equal(t, int32(1), minter.calls.Load())
		shared.AssertExpectations(t)
	})

	t.Run("TokenSource adapter", func(t *testing.T) {
		minter := &countingMinter{lifetime: time.Hour}
		provider := credential.NewProvider(minter, "fp", nil, logger)

		tok, err := provider.TokenSource(ctx).Token()
		require.NoError(t, err)
		assert.NotEmpty(t, tok.AccessToken)
	})

	t.Run("TokenSource refreshes after its context is cancelled", func(t *testing.T) {
		minter := &ctxCheckingMinter{}
		provider := credential.NewProvider(minter, "fp", nil, logger)

		parent, cancel := context.WithCancel(ctx)
		source := provider.TokenSource(parent)
		cancel()

		tok, err := source.Token()
		require.NoError(t, err)
		assert.Equal(t, "fresh", tok.AccessToken)
	})
}

// ctxCheckingMinter fails the way a real token exchange does when its context is done.
type ctxCheckingMinter struct{}

func (ctxCheckingMinter) Token(ctx context.Context) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, nil
}
