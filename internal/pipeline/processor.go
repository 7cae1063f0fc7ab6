package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-pushrelay-service/internal/notify"
	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

// Publisher is satisfied by *notify.Service.
type Publisher interface {
	Publish(ctx context.Context, owner string, req notify.MessageRequest) (relay.NotificationRecord, error)
}

// NewProcessor hands each request to the publisher. Delivery itself is detached,
// so only a failed append is reported back (and retried by the subscription).
func NewProcessor(publisher Publisher, logger *slog.Logger) messagepipeline.StreamProcessor[PublishRequest] {
	return func(ctx context.Context, original messagepipeline.Message, request *PublishRequest) error {
		rec, err := publisher.Publish(ctx, request.Owner, request.MessageRequest)
		if err != nil {
			logger.Error("Failed to publish queued message", "pubsub_msg_id", original.ID, "err", err)
			return err
		}
		logger.Debug("Queued message published", "pubsub_msg_id", original.ID, "record_id", rec.ID)
		return nil
	}
}
