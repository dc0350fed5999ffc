package models

import "time"

// ReceptionRecord tracks how many times one superevent has been delivered.
// One row per event id; created on first sight, updated in place, never
// deleted by the service (retention is an external policy).
type ReceptionRecord struct {
	EventID        string     `gorm:"primaryKey;type:varchar(64)"`
	ReceptionCount int64      `gorm:"not null;default:1"`
	FirstSeenAt    time.Time  `gorm:"type:timestamptz;not null"`
	LastSeenAt     time.Time  `gorm:"type:timestamptz;not null"`
	ThreadRef      *string    `gorm:"type:text"`
	DispatchedAt   *time.Time `gorm:"type:timestamptz"`
}

func (ReceptionRecord) TableName() string {
	return "reception_records"
}
