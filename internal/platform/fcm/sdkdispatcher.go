// --- File: internal/platform/fcm/sdkdispatcher.go ---
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// SDKDispatcher sends through the Firebase Admin SDK instead of raw HTTP.
type SDKDispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewSDKDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewSDKDispatcher(client MessagingClient, logger *slog.Logger) *SDKDispatcher {
	return &SDKDispatcher{
		client: client,
		logger: logger.With("component", "FCMSDKDispatcher"),
	}
}

func (d *SDKDispatcher) Dispatch(ctx context.Context, token string, n relay.Notification) (relay.Outcome, error) {
	id, err := d.client.Send(ctx, NewMessage(token, n))
	if err != nil {
		if messaging.IsUnregistered(err) {
			return relay.OutcomePermanentlyInvalid, fmt.Errorf("fcm token unregistered: %w", err)
		}
		return relay.OutcomeTransient, fmt.Errorf("fcm send failed: %w", err)
	}

	d.logger.Debug("FCM message sent", "message_id", id)
	return relay.OutcomeDelivered, nil
}
