package sql

import "time"

// recordRow is the append-only notification log.
type recordRow struct {
	ID        string  `gorm:"primaryKey;size:36"`
	Owner     string  `gorm:"size:255;not null;index:idx_main_owner_ts,priority:1"`
	Timestamp int64   `gorm:"not null;index:idx_main_owner_ts,priority:2"`
	Data      *string `gorm:"type:text"`
	Service   string  `gorm:"size:255;not null;index"`
	Overview  string  `gorm:"type:text;not null"`
	Image     *string `gorm:"type:text"`
}

func (recordRow) TableName() string { return "main" }

// registrationRow holds one device of one owner. (owner, device) is unique.
type registrationRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Owner     string    `gorm:"size:255;not null;uniqueIndex:idx_reg_owner_device"`
	Device    string    `gorm:"size:255;not null;uniqueIndex:idx_reg_owner_device"`
	Token     string    `gorm:"size:1024;not null"`
	Platform  string    `gorm:"size:16;not null;default:fcm"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (registrationRow) TableName() string { return "registrations" }
