package models

import (
	"time"
)

// BroadcastRecord is the outbox row for one domain event. Rows are created
// inside the owning transaction; the dispatcher publishes them strictly after
// commit, so an unreachable transport can never roll back a ledger mutation.
type BroadcastRecord struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	EventKind     EventKind `gorm:"size:50;index;not null" json:"event_kind"`
	Channel       string    `gorm:"size:100;not null" json:"channel"`
	Payload       []byte    `gorm:"type:json" json:"payload"`
	CorrelationId string    `gorm:"size:100" json:"correlation_id"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING'" json:"publish_status"`
	PublishAttempts  int        `gorm:"default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	NextAttemptAt    *time.Time `gorm:"index" json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	PubSubMessageId  *string    `gorm:"size:100" json:"pub_sub_message_id"`
	PublishedAt      *time.Time `json:"published_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BroadcastEvent is the fixed wire schema of every published payload.
// All identifier fields are optional; the change-type tag and timestamp are not.
type BroadcastEvent struct {
	EventKind     EventKind `json:"event_kind"`
	BusinessId    string    `json:"business_id"`
	MaterialId    int       `json:"material_id,omitempty"`
	StockBatchId  int       `json:"stock_batch_id,omitempty"`
	AlertId       int       `json:"alert_id,omitempty"`
	RecipeId      int       `json:"recipe_id,omitempty"`
	OrderId       int       `json:"order_id,omitempty"`
	ChangeType    string    `json:"change_type"`
	Timestamp     string    `json:"timestamp"` // ISO-8601 UTC
	CorrelationId string    `json:"correlation_id,omitempty"`
}
