// --- File: internal/pipeline/transformer.go ---
// Package pipeline feeds queued publish requests into the relay.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-pushrelay-service/internal/notify"
)

// PublishRequest is the queue form of a "message" action. Owner carries the
// tenant key the HTTP surface would take from the Authorization header.
type PublishRequest struct {
	Owner string `json:"owner"`
	notify.MessageRequest
}

var errMissingOwner = errors.New("owner is required")

// MessageRequestTransformer unmarshals and validates a raw payload. Any failure
// sets skip=true so the StreamingService can Nack it towards the DLQ.
func MessageRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*PublishRequest, bool, error) {
	var req PublishRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal publish request from message %s: %w", msg.ID, err)
	}
	if req.Owner == "" {
		return nil, true, fmt.Errorf("invalid publish request in message %s: %w", msg.ID, errMissingOwner)
	}
	return &req, false, nil
}
