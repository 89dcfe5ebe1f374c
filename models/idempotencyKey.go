package models

import "time"

// IdempotencyKey makes at-least-once task delivery safe: one row per
// (business, handler, message), unique. See workflow.BeginIdempotency.
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	BusinessId  string            `gorm:"size:100;not null;uniqueIndex:uniq_idempotency" json:"business_id"`
	HandlerName string            `gorm:"size:100;not null;uniqueIndex:uniq_idempotency" json:"handler_name"`
	MessageId   string            `gorm:"size:100;not null;uniqueIndex:uniq_idempotency" json:"message_id"`
	Status      IdempotencyStatus `gorm:"type:enum('STARTED','SUCCEEDED','FAILED');not null" json:"status"`
	LastError   *string           `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
