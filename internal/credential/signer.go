// Package credential mints Google OAuth2 access tokens for the FCM HTTP v1 API
// from a service-account key, using the JWT-bearer grant.
package credential

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

const (
	MessagingScope     = "https://www.googleapis.com/auth/firebase.messaging"
	DefaultTokenURL    = "https://oauth2.googleapis.com/token"
	GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	assertionLifetime = time.Hour
)

var (
	ErrInvalidPrivateKey = errors.New("invalid service account private key")
	ErrNoAccessToken     = errors.New("token endpoint returned no access_token")
)

// Signer holds a parsed service-account key. It is safe for concurrent use.
type Signer struct {
	account    relay.ServiceAccount
	key        *rsa.PrivateKey
	tokenURL   string
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Signer)

// WithTokenURL points the exchange at a different endpoint (tests, proxies).
func WithTokenURL(u string) Option {
	return func(s *Signer) { s.tokenURL = u }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Signer) { s.httpClient = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// NewSigner parses the private key immediately so bad credentials fail at startup.
func NewSigner(account relay.ServiceAccount, opts ...Option) (*Signer, error) {
	key, err := parsePrivateKey(account.PrivateKey)
	if err != nil {
		return nil, err
	}
	s := &Signer{
		account:    account,
		key:        key,
		tokenURL:   DefaultTokenURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func parsePrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	// Keys pasted into env vars usually carry literal "\n" sequences.
	normalized := strings.ReplaceAll(pemKey, `\n`, "\n")
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(normalized))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return key, nil
}

// Assertion builds and signs the RS256 JWT presented to the token endpoint.
func (s *Signer) Assertion(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   s.account.ClientEmail,
		"scope": MessagingScope,
		"aud":   DefaultTokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Exchange trades a signed assertion for an access token.
func (s *Signer) Exchange(ctx context.Context, assertion string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type": {GrantTypeJWTBearer},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	issuedAt := s.now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var body tokenResponse
	_ = json.Unmarshal(raw, &body)
	if body.AccessToken == "" {
		reason := body.ErrorDescription
		if reason == "" {
			reason = body.Error
		}
		return nil, fmt.Errorf("%w (status %d): %s", ErrNoAccessToken, resp.StatusCode, reason)
	}

	lifetime := time.Duration(body.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = assertionLifetime
	}
	tokenType := body.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken: body.AccessToken,
		TokenType:   tokenType,
		Expiry:      issuedAt.Add(lifetime),
	}, nil
}

// Token signs a fresh assertion and exchanges it.
func (s *Signer) Token(ctx context.Context) (*oauth2.Token, error) {
	assertion, err := s.Assertion(s.now())
	if err != nil {
		return nil, err
	}
	return s.Exchange(ctx, assertion)
}

// ProjectID is the Firebase project the key belongs to.
func (s *Signer) ProjectID() string {
	return s.account.ProjectID
}

// Fingerprint identifies the credential without exposing it; used as a cache key.
func (s *Signer) Fingerprint() string {
	return Fingerprint(s.account)
}

func Fingerprint(account relay.ServiceAccount) string {
	sum := sha256.Sum256([]byte(account.ClientEmail + "\x00" + account.PrivateKey))
	return hex.EncodeToString(sum[:16])
}
