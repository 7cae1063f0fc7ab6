// --- File: internal/platform/web/webdispatcher.go ---
// Package web delivers notifications to browsers through the Web Push protocol (VAPID).
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
	"github.com/tinywideclouds/go-pushrelay-service/relayservice/config"
)

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        60,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ParseSubscription decodes the PushSubscription JSON a browser hands out, which is
// what web registrations store in their token field.
func ParseSubscription(raw string) (*webpush.Subscription, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return nil, fmt.Errorf("invalid subscription json: %w", err)
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, errors.New("incomplete subscription object")
	}
	u, err := url.Parse(sub.Endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("invalid subscription endpoint %q", sub.Endpoint)
	}
	return &sub, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, token string, n relay.Notification) (relay.Outcome, error) {
	sub, err := ParseSubscription(token)
	if err != nil {
		// Stored rows are validated on registration; a broken one can never deliver.
		return relay.OutcomePermanentlyInvalid, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": n.Title,
			"body":  n.Body,
			"image": n.Image,
		},
		"data": n.Data,
	})
	if err != nil {
		return relay.OutcomeTransient, fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             d.ttl,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		// Transport error (DNS, Timeout) - never delete on these
		return relay.OutcomeTransient, fmt.Errorf("webpush transport failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return relay.OutcomeDelivered, nil
	case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusNotFound:
		return relay.OutcomePermanentlyInvalid, fmt.Errorf("webpush subscription expired (status %d)", resp.StatusCode)
	default:
		d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return relay.OutcomeTransient, fmt.Errorf("webpush rejected (status %d)", resp.StatusCode)
	}
}
