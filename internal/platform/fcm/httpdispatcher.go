// --- File: internal/platform/fcm/httpdispatcher.go ---
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"firebase.google.com/go/v4/messaging"
	"golang.org/x/oauth2"

	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

const DefaultEndpoint = "https://fcm.googleapis.com"

// TokenProvider hands out bearer tokens for the send API. *credential.Provider satisfies it.
type TokenProvider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// invalidator is optionally implemented by providers that can drop a rejected token.
type invalidator interface {
	Invalidate()
}

type HTTPConfig struct {
	ProjectID string
	Endpoint  string
	Client    *http.Client
}

// HTTPDispatcher talks to https://fcm.googleapis.com/v1/projects/{id}/messages:send.
type HTTPDispatcher struct {
	tokens TokenProvider
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewHTTPDispatcher(tokens TokenProvider, cfg HTTPConfig, logger *slog.Logger) *HTTPDispatcher {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPDispatcher{
		tokens: tokens,
		url:    fmt.Sprintf("%s/v1/projects/%s/messages:send", endpoint, cfg.ProjectID),
		client: client,
		logger: logger.With("component", "FCMHTTPDispatcher"),
	}
}

type sendRequest struct {
	Message *messaging.Message `json:"message"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Prepare makes sure an access token can be obtained before a batch starts.
func (d *HTTPDispatcher) Prepare(ctx context.Context) error {
	if _, err := d.tokens.Token(ctx); err != nil {
		return fmt.Errorf("fcm access token unavailable: %w", err)
	}
	return nil
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, token string, n relay.Notification) (relay.Outcome, error) {
	accessToken, err := d.tokens.Token(ctx)
	if err != nil {
		return relay.OutcomeTransient, fmt.Errorf("fcm access token unavailable: %w", err)
	}

	payload, err := json.Marshal(sendRequest{Message: NewMessage(token, n)})
	if err != nil {
		return relay.OutcomeTransient, fmt.Errorf("failed to marshal fcm message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return relay.OutcomeTransient, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return relay.OutcomeTransient, fmt.Errorf("fcm transport failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := d.tokens.(invalidator); ok {
			inv.Invalidate()
		}
	}

	return Classify(resp.StatusCode, body)
}

// Classify maps an FCM v1 response onto an Outcome. Only 404 and UNREGISTERED
// mark a token as dead; everything else non-2xx is transient.
func Classify(status int, body []byte) (relay.Outcome, error) {
	if status >= 200 && status < 300 {
		return relay.OutcomeDelivered, nil
	}

	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp)

	err := fmt.Errorf("fcm rejected message (status %d %s): %s", status, errResp.Error.Status, errResp.Error.Message)
	if status == http.StatusNotFound || errResp.Error.Status == "UNREGISTERED" {
		return relay.OutcomePermanentlyInvalid, err
	}
	return relay.OutcomeTransient, err
}
