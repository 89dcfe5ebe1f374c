package models

import "time"

// MonitoringRun is the persisted summary of one sweep. One material failing is
// recorded and counted here, never aborting the remaining units of work.
type MonitoringRun struct {
	ID         int               `gorm:"primary_key" json:"id"`
	BusinessId string            `gorm:"index;not null" json:"business_id"`
	RunKind    MonitoringRunKind `gorm:"size:50;index;not null" json:"run_kind"`
	StartedAt  time.Time         `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at"`
	Processed  int               `gorm:"default:0" json:"processed"`
	Updated    int               `gorm:"default:0" json:"updated"`
	Skipped    int               `gorm:"default:0" json:"skipped"`
	Errored    int               `gorm:"default:0" json:"errored"`
	LastError  *string           `gorm:"type:text" json:"last_error"`
	CreatedAt  time.Time         `gorm:"autoCreateTime" json:"created_at"`
}
