package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchConsumption is an append-only BatchConsumed fact: one row per batch
// touched by a successful consume call. Ledger rows are never updated, so a
// replayed order fulfillment can be detected and monthly rollovers are
// deterministic.
type BatchConsumption struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	MaterialId   int             `gorm:"index;not null" json:"material_id"`
	StockBatchId int             `gorm:"index;not null" json:"stock_batch_id"`
	OrderId      int             `gorm:"index;default:null" json:"order_id"`
	Reference    string          `gorm:"size:255" json:"reference"`
	ConsumedDate time.Time       `gorm:"index;not null" json:"consumed_date"`
	QtyTaken     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_taken"`
	// Shortfall is non-zero only on the last fact of a partial consumption.
	Shortfall decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"shortfall"`
	UnitCost  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// StockClosing is the monthly rollover target: one row per material per
// period with the consumed total and the closing quantity at period end.
type StockClosing struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;not null;uniqueIndex:uniq_stock_closing" json:"business_id"`
	MaterialId  int             `gorm:"index;not null;uniqueIndex:uniq_stock_closing" json:"material_id"`
	Period      string          `gorm:"size:7;not null;uniqueIndex:uniq_stock_closing" json:"period"` // "2026-08"
	ConsumedQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"consumed_qty"`
	ClosingQty  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"closing_qty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
