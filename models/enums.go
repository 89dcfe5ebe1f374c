package models

type AlertType string

const (
	AlertTypeOutOfStock     AlertType = "out_of_stock"
	AlertTypeLowStock       AlertType = "low_stock"
	AlertTypeOverstock      AlertType = "overstock"
	AlertTypeExpiryWarning  AlertType = "expiry_warning"
	AlertTypeExpiryCritical AlertType = "expiry_critical"
	AlertTypeExpiredBatch   AlertType = "expired_batch"
)

type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Expiry windows in whole days. expiry_critical wins inside the warning window.
const (
	ExpiryCriticalDays      = 2
	ExpiryWarningDays       = 7
	DefaultExpiryWindowDays = 7
)

type DiscountType string

const (
	DiscountTypeNone       DiscountType = "none"
	DiscountTypeCash       DiscountType = "cash"
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeSaved      DiscountType = "saved"
)

type OrderServiceType string

const (
	OrderServiceTypeDineIn   OrderServiceType = "dine-in"
	OrderServiceTypeTakeaway OrderServiceType = "takeaway"
	OrderServiceTypeDelivery OrderServiceType = "delivery"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusPreparing OrderStatus = "Preparing"
	OrderStatusCompleted OrderStatus = "Completed"
	OrderStatusPaid      OrderStatus = "Paid"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// EventKind tags every broadcast payload. One kind per domain occurrence.
type EventKind string

const (
	EventKindInventoryChanged        EventKind = "InventoryChanged"
	EventKindDashboardChanged        EventKind = "DashboardChanged"
	EventKindAlertTriggered          EventKind = "AlertTriggered"
	EventKindRecipeCostChanged       EventKind = "RecipeCostChanged"
	EventKindOrderInventoryProcessed EventKind = "OrderInventoryProcessed"
	EventKindBatchExpiryWarning      EventKind = "BatchExpiryWarning"
)

// BroadcastChannel returns the named channel an event kind fans out on.
// Subscribers (dashboards) pick channels, not kinds.
func (k EventKind) BroadcastChannel() string {
	switch k {
	case EventKindInventoryChanged:
		return "inventory"
	case EventKindDashboardChanged:
		return "dashboard"
	case EventKindAlertTriggered:
		return "alerts"
	case EventKindRecipeCostChanged:
		return "recipes"
	case EventKindOrderInventoryProcessed:
		return "orders"
	case EventKindBatchExpiryWarning:
		return "expiry"
	}
	return "general"
}

// Outbox publish statuses for BroadcastRecord.PublishStatus.
// Keep these as strings (DB values) for backwards compatibility.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

type MonitoringRunKind string

const (
	MonitoringRunKindExpiryCheck      MonitoringRunKind = "expiry_check"
	MonitoringRunKindDashboardRefresh MonitoringRunKind = "dashboard_refresh"
	MonitoringRunKindStockRollover    MonitoringRunKind = "stock_rollover"
	MonitoringRunKindStockLevelSweep  MonitoringRunKind = "stock_level_sweep"
)
