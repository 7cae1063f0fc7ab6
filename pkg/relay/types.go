// --- File: pkg/relay/types.go ---
// Package relay contains the public domain models and contracts for the push relay.
package relay

import (
	"errors"
	"time"
)

// Platform identifiers stored on a DeviceRegistration.
const (
	PlatformFCM  = "fcm"
	PlatformAPNS = "apns"
	PlatformWeb  = "web"
)

var (
	// ErrNotFound is returned by stores when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRegistration marks a registration payload that failed validation.
	ErrInvalidRegistration = errors.New("invalid registration")
)

// ServiceAccount mirrors the fields of a Google service-account JSON key that we use.
type ServiceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	ProjectID   string `json:"project_id"`
}

// Notification is the content delivered to a single device.
type Notification struct {
	Title string
	Body  string
	Image string
	Data  map[string]string
}

// Outcome classifies a single push attempt.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomePermanentlyInvalid
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomePermanentlyInvalid:
		return "permanently_invalid"
	default:
		return "transient_error"
	}
}

// NotificationRecord is one append-only log entry.
type NotificationRecord struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"` // unix millis
	Data      *string `json:"data"`
	Service   string  `json:"service"`
	Overview  string  `json:"overview"`
	Image     *string `json:"image"`
	Owner     string  `json:"-"`
}

// DeviceRegistration binds a device token to an owner. (Owner, Device) is the natural key.
type DeviceRegistration struct {
	Owner     string    `json:"-"`
	Device    string    `json:"device"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordQuery selects records for one owner, newest first.
type RecordQuery struct {
	Owner    string
	Service  string // optional filter
	Quantity int
}
