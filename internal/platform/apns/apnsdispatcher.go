// --- File: internal/platform/apns/apnsdispatcher.go ---
// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Sandbox      bool
}

// NewDispatcher creates a configured APNS dispatcher.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return newDispatcher(client, cfg.BundleID, logger), nil
}

func newDispatcher(client APNSClient, topic string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

// Dispatch sends one notification. APNs HTTP/2 is unary, so the fan-out
// coordinator provides the parallelism.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceToken string, n relay.Notification) (relay.Outcome, error) {
	builder := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body)

	if n.Image != "" {
		// A notification service extension downloads the image.
		builder.MutableContent().Custom("image", n.Image)
	}
	for k, v := range n.Data {
		builder.Custom(k, v)
	}

	res, err := d.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       d.topic,
		Payload:     builder,
	})
	if err != nil {
		return relay.OutcomeTransient, fmt.Errorf("apns transport failed: %w", err)
	}

	if res.Sent() {
		return relay.OutcomeDelivered, nil
	}

	rejected := fmt.Errorf("apns rejected notification (status %d): %s", res.StatusCode, res.Reason)
	switch {
	case res.StatusCode == http.StatusGone,
		res.Reason == apns2.ReasonBadDeviceToken,
		res.Reason == apns2.ReasonUnregistered,
		res.Reason == apns2.ReasonDeviceTokenNotForTopic:
		return relay.OutcomePermanentlyInvalid, rejected
	default:
		// TopicDisallowed, PayloadEmpty and friends mean our configuration is wrong, not the token.
		return relay.OutcomeTransient, rejected
	}
}
