// Package firestore is the document-database implementation of relay.Store.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

// FirestoreStore implements relay.Store using Google Cloud Firestore.
// Layout: tenants/{ownerHash}/devices/{deviceHash} and tenants/{ownerHash}/records/{id}.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	Device    string    `firestore:"device"`
	Platform  string    `firestore:"platform"`
	Token     string    `firestore:"token"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type logRecord struct {
	Timestamp int64   `firestore:"timestamp"`
	Data      *string `firestore:"data"`
	Service   string  `firestore:"service"`
	Overview  string  `firestore:"overview"`
	Image     *string `firestore:"image"`
}

// --- RECORDS ---

func (s *FirestoreStore) AppendRecord(ctx context.Context, rec relay.NotificationRecord) error {
	doc := logRecord{
		Timestamp: rec.Timestamp,
		Data:      rec.Data,
		Service:   rec.Service,
		Overview:  rec.Overview,
		Image:     rec.Image,
	}
	// Create, not Set: records are never overwritten.
	_, err := s.tenant(rec.Owner).Collection("records").Doc(rec.ID).Create(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ListRecords(ctx context.Context, q relay.RecordQuery) ([]relay.NotificationRecord, error) {
	query := s.tenant(q.Owner).Collection("records").Query
	if q.Service != "" {
		query = query.Where("service", "==", q.Service)
	}
	iter := query.OrderBy("timestamp", firestore.Desc).Limit(q.Quantity).Documents(ctx)
	defer iter.Stop()

	out := make([]relay.NotificationRecord, 0, q.Quantity)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var r logRecord
		if err := doc.DataTo(&r); err != nil {
			continue
		}
		out = append(out, relay.NotificationRecord{
			ID:        doc.Ref.ID,
			Timestamp: r.Timestamp,
			Data:      r.Data,
			Service:   r.Service,
			Overview:  r.Overview,
			Image:     r.Image,
			Owner:     q.Owner,
		})
	}
	return out, nil
}

// --- REGISTRATIONS ---

// RegisterDevice upserts the device and, in the same transaction, drops any
// other device of the owner still holding the token.
func (s *FirestoreStore) RegisterDevice(ctx context.Context, reg relay.DeviceRegistration) error {
	devices := s.devicesCollection(reg.Owner)
	target := devices.Doc(hashKey(reg.Device))

	record := deviceRecord{
		Device:    reg.Device,
		Platform:  reg.Platform,
		Token:     reg.Token,
		UpdatedAt: reg.UpdatedAt,
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		dupes, err := tx.Documents(devices.Where("token", "==", reg.Token)).GetAll()
		if err != nil {
			return fmt.Errorf("failed to look up token: %w", err)
		}
		for _, d := range dupes {
			if d.Ref.ID == target.ID {
				continue
			}
			if err := tx.Delete(d.Ref); err != nil {
				return err
			}
		}
		return tx.Set(target, record)
	})
}

func (s *FirestoreStore) UnregisterDevice(ctx context.Context, owner, device string) error {
	_, err := s.devicesCollection(owner).Doc(hashKey(device)).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return relay.ErrNotFound
	}
	return err
}

func (s *FirestoreStore) RemoveToken(ctx context.Context, owner, token string) error {
	iter := s.devicesCollection(owner).Where("token", "==", token).Documents(ctx)
	defer iter.Stop()

	var errs []error
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("firestore iteration failed: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *FirestoreStore) ListDevices(ctx context.Context, owner string) ([]relay.DeviceRegistration, error) {
	iter := s.devicesCollection(owner).Documents(ctx)
	defer iter.Stop()

	regs := make([]relay.DeviceRegistration, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil || record.Token == "" {
			// Usually safe to skip corrupt rows.
			continue
		}
		regs = append(regs, relay.DeviceRegistration{
			Owner:     owner,
			Device:    record.Device,
			Token:     record.Token,
			Platform:  record.Platform,
			UpdatedAt: record.UpdatedAt,
		})
	}
	return regs, nil
}

// --- Helpers ---

// tenant: tenants/{ownerHash}. Owner keys are secrets and may hold '/', so they are hashed.
func (s *FirestoreStore) tenant(owner string) *firestore.DocumentRef {
	return s.client.Collection("tenants").Doc(hashKey(owner))
}

func (s *FirestoreStore) devicesCollection(owner string) *firestore.CollectionRef {
	return s.tenant(owner).Collection("devices")
}

func hashKey(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
