// Package sql is the relational implementation of relay.Store, backed by gorm.
package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

// Open connects with the named driver ("postgres", "mysql" or "sqlite") and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&recordRow{}, &registrationRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, nil
}

// SQLStore implements relay.Store.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// --- RECORDS ---

func (s *SQLStore) AppendRecord(ctx context.Context, rec relay.NotificationRecord) error {
	row := recordRow{
		ID:        rec.ID,
		Owner:     rec.Owner,
		Timestamp: rec.Timestamp,
		Data:      rec.Data,
		Service:   rec.Service,
		Overview:  rec.Overview,
		Image:     rec.Image,
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *SQLStore) ListRecords(ctx context.Context, q relay.RecordQuery) ([]relay.NotificationRecord, error) {
	tx := s.db.WithContext(ctx).Where("owner = ?", q.Owner)
	if q.Service != "" {
		tx = tx.Where("service = ?", q.Service)
	}

	var rows []recordRow
	if err := tx.Order("timestamp DESC").Limit(q.Quantity).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	out := make([]relay.NotificationRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, relay.NotificationRecord{
			ID:        r.ID,
			Timestamp: r.Timestamp,
			Data:      r.Data,
			Service:   r.Service,
			Overview:  r.Overview,
			Image:     r.Image,
			Owner:     r.Owner,
		})
	}
	return out, nil
}

// --- REGISTRATIONS ---

// RegisterDevice upserts on (owner, device) and drops other devices of the
// owner holding the same token, in one transaction.
func (s *SQLStore) RegisterDevice(ctx context.Context, reg relay.DeviceRegistration) error {
	row := registrationRow{
		ID:        uuid.NewString(),
		Owner:     reg.Owner,
		Device:    reg.Device,
		Token:     reg.Token,
		Platform:  reg.Platform,
		UpdatedAt: reg.UpdatedAt,
	}
	if row.Platform == "" {
		row.Platform = relay.PlatformFCM
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner = ? AND token = ? AND device <> ?", reg.Owner, reg.Token, reg.Device).
			Delete(&registrationRow{}).Error; err != nil {
			return fmt.Errorf("failed to drop duplicate token: %w", err)
		}

		// Atomic upsert: INSERT ... ON CONFLICT (owner, device) DO UPDATE
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}, {Name: "device"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "platform", "updated_at"}),
		}).Create(&row).Error
	})
}

func (s *SQLStore) UnregisterDevice(ctx context.Context, owner, device string) error {
	res := s.db.WithContext(ctx).Where("owner = ? AND device = ?", owner, device).Delete(&registrationRow{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete device: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return relay.ErrNotFound
	}
	return nil
}

func (s *SQLStore) RemoveToken(ctx context.Context, owner, token string) error {
	return s.db.WithContext(ctx).Where("owner = ? AND token = ?", owner, token).Delete(&registrationRow{}).Error
}

func (s *SQLStore) ListDevices(ctx context.Context, owner string) ([]relay.DeviceRegistration, error) {
	var rows []registrationRow
	if err := s.db.WithContext(ctx).Where("owner = ?", owner).Order("device").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	regs := make([]relay.DeviceRegistration, 0, len(rows))
	for _, r := range rows {
		regs = append(regs, relay.DeviceRegistration{
			Owner:     r.Owner,
			Device:    r.Device,
			Token:     r.Token,
			Platform:  r.Platform,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return regs, nil
}
