// --- File: pkg/relay/interfaces.go ---
package relay

import "context"

// Dispatcher sends a notification to one platform-specific device token and
// classifies the result. The returned error only carries detail for logging;
// callers act on the Outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, token string, n Notification) (Outcome, error)
}

// Preparer is implemented by dispatchers that need per-batch setup (e.g. an access token).
// A failing Prepare aborts every send for that platform in the batch.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// RecordStore appends and queries the notification log.
type RecordStore interface {
	AppendRecord(ctx context.Context, rec NotificationRecord) error
	ListRecords(ctx context.Context, q RecordQuery) ([]NotificationRecord, error)
}

// RegistrationStore manages device registrations scoped by owner.
type RegistrationStore interface {
	// RegisterDevice upserts on (Owner, Device). Any other device of the same owner
	// holding the same token is dropped so a token is never pushed twice.
	RegisterDevice(ctx context.Context, reg DeviceRegistration) error
	// UnregisterDevice returns ErrNotFound when the device is not registered.
	UnregisterDevice(ctx context.Context, owner, device string) error
	// RemoveToken deletes the registration holding token. Missing rows are not an error.
	RemoveToken(ctx context.Context, owner, token string) error
	ListDevices(ctx context.Context, owner string) ([]DeviceRegistration, error)
}

// Store is the full persistence contract.
type Store interface {
	RecordStore
	RegistrationStore
}
