package model

import "time"

// Run is the history entry of one cold forecast job.
type Run struct {
	ID            uint64     `json:"-" gorm:"primaryKey;autoIncrement"`
	RunID         string     `json:"runId" gorm:"uniqueIndex;not null"`
	Fingerprint   string     `json:"fingerprint" gorm:"index;not null"`
	Parameter     string     `json:"parameter"`
	InProgress    bool       `json:"inProgress"`
	Success       *bool      `json:"success"`
	FailureReason *string    `json:"failureReason,omitempty"`
	RecordID      *uint64    `json:"recordId,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}
