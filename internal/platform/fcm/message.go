// --- File: internal/platform/fcm/message.go ---
// Package fcm delivers notifications through Firebase Cloud Messaging, either over
// the raw HTTP v1 API (default) or through the Firebase Admin SDK.
package fcm

import (
	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

// NewMessage builds the v1 message for a single device token.
func NewMessage(token string, n relay.Notification) *messaging.Message {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title:    n.Title,
			Body:     n.Body,
			ImageURL: n.Image,
		},
	}
	if len(n.Data) > 0 {
		msg.Data = n.Data
	}
	return msg
}
