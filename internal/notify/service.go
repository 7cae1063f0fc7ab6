// Package notify implements the relay operations shared by the HTTP API and
// the Pub/Sub ingestion pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-pushrelay-service/internal/platform/web"
	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

const (
	DefaultService  = "Null Service"
	DefaultOverview = "Null Overview"
	DefaultImage    = "https://img.icons8.com/clouds/100/fire-element.png"

	DefaultQuantity = 5
	MaxQuantity     = 100
)

// Launcher starts a fan-out without waiting for it. *fanout.Coordinator satisfies it.
type Launcher interface {
	Launch(regs []relay.DeviceRegistration, n relay.Notification)
}

// MessageRequest is the body of a "message" action.
type MessageRequest struct {
	Service  string          `json:"service"`
	Overview string          `json:"overview"`
	Image    *string         `json:"image"`
	Data     json.RawMessage `json:"data"`
}

// RegisterRequest is the body of a device registration.
type RegisterRequest struct {
	Token    string `json:"token"`
	Device   string `json:"device"`
	Platform string `json:"platform"`
}

type Options struct {
	DefaultImage    string
	AttachData      bool
	DefaultQuantity int
	MaxQuantity     int
}

type Service struct {
	records relay.RecordStore
	devices relay.RegistrationStore
	fanout  Launcher
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(records relay.RecordStore, devices relay.RegistrationStore, fanout Launcher, opts Options, logger *slog.Logger) *Service {
	if opts.DefaultImage == "" {
		opts.DefaultImage = DefaultImage
	}
	if opts.DefaultQuantity <= 0 {
		opts.DefaultQuantity = DefaultQuantity
	}
	if opts.MaxQuantity <= 0 {
		opts.MaxQuantity = MaxQuantity
	}
	return &Service{
		records: records,
		devices: devices,
		fanout:  fanout,
		opts:    opts,
		logger:  logger.With("component", "NotifyService"),
		now:     time.Now,
	}
}

// Publish appends a record for owner and launches delivery to the owner's devices.
// A failure to store the record or to read the device list fails the call;
// delivery itself runs detached.
func (s *Service) Publish(ctx context.Context, owner string, req MessageRequest) (relay.NotificationRecord, error) {
	rec := relay.NotificationRecord{
		ID:        uuid.NewString(),
		Timestamp: s.now().UnixMilli(),
		Data:      normalizeData(req.Data),
		Service:   req.Service,
		Overview:  req.Overview,
		Image:     req.Image,
		Owner:     owner,
	}
	if rec.Service == "" {
		rec.Service = DefaultService
	}
	if rec.Overview == "" {
		rec.Overview = DefaultOverview
	}
	if rec.Image != nil && *rec.Image == "" {
		rec.Image = nil
	}

	if err := s.records.AppendRecord(ctx, rec); err != nil {
		return relay.NotificationRecord{}, fmt.Errorf("failed to append record: %w", err)
	}

	regs, err := s.devices.ListDevices(ctx, owner)
	if err != nil {
		return relay.NotificationRecord{}, fmt.Errorf("failed to list devices: %w", err)
	}
	if len(regs) == 0 {
		s.logger.Debug("No devices registered, skipping fan-out", "record_id", rec.ID)
		return rec, nil
	}

	s.fanout.Launch(regs, s.notificationFor(rec))
	return rec, nil
}

func (s *Service) notificationFor(rec relay.NotificationRecord) relay.Notification {
	n := relay.Notification{
		Title: rec.Service,
		Body:  rec.Overview,
		Image: s.opts.DefaultImage,
	}
	if rec.Image != nil {
		n.Image = *rec.Image
	}
	if s.opts.AttachData {
		main, err := json.Marshal(rec)
		if err != nil {
			s.logger.Warn("Failed to serialise record for data payload", "err", err)
		} else {
			n.Data = map[string]string{
				"timestamp": strconv.FormatInt(rec.Timestamp, 10),
				"main":      string(main),
			}
		}
	}
	return n
}

// Query returns up to quantity of the owner's newest records, optionally
// filtered by service. A quantity of zero or less means Options.DefaultQuantity
// (5); anything above Options.MaxQuantity (100) is clamped to it.
func (s *Service) Query(ctx context.Context, owner, service string, quantity int) ([]relay.NotificationRecord, error) {
	if quantity <= 0 {
		quantity = s.opts.DefaultQuantity
	}
	if quantity > s.opts.MaxQuantity {
		quantity = s.opts.MaxQuantity
	}
	recs, err := s.records.ListRecords(ctx, relay.RecordQuery{Owner: owner, Service: service, Quantity: quantity})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	if recs == nil {
		recs = []relay.NotificationRecord{}
	}
	return recs, nil
}

// Register validates req and upserts the (owner, device) registration.
func (s *Service) Register(ctx context.Context, owner string, req RegisterRequest) error {
	if err := validate(&req); err != nil {
		return err
	}
	reg := relay.DeviceRegistration{
		Owner:     owner,
		Device:    req.Device,
		Token:     req.Token,
		Platform:  req.Platform,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.devices.RegisterDevice(ctx, reg); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	s.logger.Info("Registered device", "device", req.Device, "platform", req.Platform)
	return nil
}

// Unregister removes a device. relay.ErrNotFound is passed through.
func (s *Service) Unregister(ctx context.Context, owner, device string) error {
	if device == "" {
		return fmt.Errorf("%w: device is required", relay.ErrInvalidRegistration)
	}
	return s.devices.UnregisterDevice(ctx, owner, device)
}

func validate(req *RegisterRequest) error {
	if req.Token == "" || req.Device == "" {
		return fmt.Errorf("%w: token and device are required", relay.ErrInvalidRegistration)
	}
	if strings.Contains(req.Device, ";") {
		return fmt.Errorf("%w: device name cannot contain ';'", relay.ErrInvalidRegistration)
	}
	if req.Platform == "" {
		req.Platform = relay.PlatformFCM
	}
	switch req.Platform {
	case relay.PlatformFCM, relay.PlatformAPNS:
	case relay.PlatformWeb:
		if _, err := web.ParseSubscription(req.Token); err != nil {
			return fmt.Errorf("%w: %v", relay.ErrInvalidRegistration, err)
		}
	default:
		return fmt.Errorf("%w: unknown platform %q", relay.ErrInvalidRegistration, req.Platform)
	}
	return nil
}

// normalizeData stores objects and arrays as JSON text, strings verbatim and
// drops empty or false-y values.
func normalizeData(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	var out string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		out = t
	case bool:
		if !t {
			return nil
		}
		out = "true"
	case float64:
		if t == 0 {
			return nil
		}
		out = strings.TrimSpace(string(raw))
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil
		}
		out = buf.String()
	}
	return &out
}
