package models

import (
	"time"

	"gorm.io/datatypes"
)

// RawNotice is the audit copy of one successfully decoded bus message.
type RawNotice struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement"`
	EventID    *string        `gorm:"type:varchar(64);index"`
	Topic      string         `gorm:"type:text;not null"`
	BusOffset  int64          `gorm:"not null"`
	ReceivedAt time.Time      `gorm:"type:timestamptz;not null;index"`
	Payload    datatypes.JSON `gorm:"type:jsonb;not null"`
}

func (RawNotice) TableName() string {
	return "raw_notices"
}
