package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockAlert is one row of the (material, alert_type) state machine.
//
// Dedup guard: Active is true while the alert is unresolved and set to NULL on
// resolution. MySQL unique indexes ignore rows with a NULL key member, so the
// composite index below admits at most one unresolved alert per key while
// keeping the full resolved history. A losing concurrent insert gets error
// 1062 and is treated as a harmless no-op by the alert engine.
//
// Active must stay the ONLY nullable member of the index. StockBatchId in
// particular holds the sentinel 0 for material-level alerts rather than NULL:
// a NULL there would make every material-level row NULL-distinct and the
// duplicate-key guard would never fire for them.
type StockAlert struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"index;not null;uniqueIndex:uniq_active_alert" json:"business_id"`
	MaterialId     int             `gorm:"index;not null;uniqueIndex:uniq_active_alert" json:"material_id"`
	// StockBatchId is 0 for material-level alerts, the batch id for expiry alerts.
	StockBatchId   int             `gorm:"index;not null;default:0;uniqueIndex:uniq_active_alert" json:"stock_batch_id,omitempty"`
	AlertType      AlertType       `gorm:"type:enum('out_of_stock','low_stock','overstock','expiry_warning','expiry_critical','expired_batch');not null;uniqueIndex:uniq_active_alert" json:"alert_type"`
	Active         *bool           `gorm:"uniqueIndex:uniq_active_alert" json:"active"`
	Severity       AlertSeverity   `gorm:"type:enum('info','warning','critical');not null" json:"severity"`
	ThresholdValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"threshold_value"`
	ObservedValue  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"observed_value"`
	Message        string          `gorm:"size:500" json:"message"`
	IsResolved     *bool           `gorm:"not null;default:false" json:"is_resolved"`
	ResolvedAt     *time.Time      `json:"resolved_at"`
	// ResolvedBy is NULL for system-resolved alerts, a user id otherwise.
	ResolvedBy *int      `json:"resolved_by"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
