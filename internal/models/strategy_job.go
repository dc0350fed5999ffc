package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// StrategyJob is the persisted state of one strategy-generation job.
// Parameters are captured at dispatch time so a config change mid-flight
// cannot alter an already planned job. Terminal statuses never revert.
type StrategyJob struct {
	JobID          string         `gorm:"primaryKey;type:uuid"`
	EventID        string         `gorm:"type:varchar(64);not null;index"`
	StrategyIndex  int            `gorm:"not null"`
	StrategyKind   string         `gorm:"type:varchar(32);not null"`
	TelescopeGroup datatypes.JSON `gorm:"type:jsonb;not null"`
	TileCount      int            `gorm:"not null"`
	Status         string         `gorm:"type:varchar(16);not null;index"`
	Attempt        int            `gorm:"not null;default:0"`
	ResultLocation *string        `gorm:"type:text"`
	LastError      *string        `gorm:"type:text"`
	StartedAt      *time.Time     `gorm:"type:timestamptz"`
	FinishedAt     *time.Time     `gorm:"type:timestamptz"`
	CreatedAt      time.Time      `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"type:timestamptz;autoUpdateTime"`
}

func (StrategyJob) TableName() string {
	return "strategy_jobs"
}
