package workflow

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AlertCandidate is one alert the engine wants unresolved after evaluation.
// StockBatchId is 0 for material-level alerts.
type AlertCandidate struct {
	AlertType    models.AlertType
	Severity     models.AlertSeverity
	StockBatchId int
	Threshold    decimal.Decimal
	Observed     decimal.Decimal
	Message      string
}

// AlertResolution names one alert type whose condition has cleared.
// StockBatchId is 0 for material-level alerts.
type AlertResolution struct {
	AlertType    models.AlertType
	StockBatchId int
}

// EvaluateMaterialAlerts decides the material-level transitions for one
// material from its current quantity. Pure function; no DB access.
//
// The trigger conditions are checked in priority order and the first match
// wins. Independently, every type whose condition no longer holds is resolved,
// so replenishing past the minimum clears low_stock and out_of_stock on the
// next evaluation without any extra bookkeeping.
func EvaluateMaterialAlerts(material *models.Material) ([]AlertCandidate, []AlertResolution) {
	var triggers []AlertCandidate
	var resolves []AlertResolution

	qty := material.Quantity
	min := material.MinimumStockLevel
	max := material.MaximumStockLevel

	switch {
	case !qty.IsPositive():
		triggers = append(triggers, AlertCandidate{
			AlertType: models.AlertTypeOutOfStock,
			Severity:  models.AlertSeverityCritical,
			Threshold: decimal.Zero,
			Observed:  qty,
			Message:   fmt.Sprintf("%s is out of stock", material.Name),
		})
	case min.IsPositive() && qty.LessThanOrEqual(min):
		triggers = append(triggers, AlertCandidate{
			AlertType: models.AlertTypeLowStock,
			Severity:  models.AlertSeverityWarning,
			Threshold: min,
			Observed:  qty,
			Message:   fmt.Sprintf("%s is below minimum stock level (%s <= %s)", material.Name, qty, min),
		})
	case max.IsPositive() && qty.GreaterThan(max):
		triggers = append(triggers, AlertCandidate{
			AlertType: models.AlertTypeOverstock,
			Severity:  models.AlertSeverityInfo,
			Threshold: max,
			Observed:  qty,
			Message:   fmt.Sprintf("%s is above maximum stock level (%s > %s)", material.Name, qty, max),
		})
	}

	triggered := map[models.AlertType]bool{}
	for _, t := range triggers {
		triggered[t.AlertType] = true
	}
	if qty.IsPositive() && !triggered[models.AlertTypeOutOfStock] {
		resolves = append(resolves, AlertResolution{AlertType: models.AlertTypeOutOfStock})
	}
	if (min.IsZero() || qty.GreaterThan(min)) && !triggered[models.AlertTypeLowStock] {
		resolves = append(resolves, AlertResolution{AlertType: models.AlertTypeLowStock})
	}
	if (max.IsZero() || qty.LessThanOrEqual(max)) && !triggered[models.AlertTypeOverstock] {
		resolves = append(resolves, AlertResolution{AlertType: models.AlertTypeOverstock})
	}
	return triggers, resolves
}

// EvaluateBatchAlerts decides the expiry transitions for one batch. The three
// batch types are mutually exclusive per batch; whichever applies resolves the
// other two. A drained batch resolves all three. Pure function.
func EvaluateBatchAlerts(material *models.Material, batch *models.StockBatch, today time.Time) ([]AlertCandidate, []AlertResolution) {
	batchId := batch.ID
	all := []models.AlertType{
		models.AlertTypeExpiredBatch,
		models.AlertTypeExpiryCritical,
		models.AlertTypeExpiryWarning,
	}

	resolveAllBut := func(keep models.AlertType) []AlertResolution {
		var out []AlertResolution
		for _, t := range all {
			if t != keep {
				out = append(out, AlertResolution{AlertType: t, StockBatchId: batchId})
			}
		}
		return out
	}

	if batch.ExpiryDate == nil || !batch.RemainingQty.IsPositive() {
		return nil, resolveAllBut("")
	}

	days := utils.DaysUntil(today, *batch.ExpiryDate)
	switch {
	case days < 0:
		return []AlertCandidate{{
			AlertType:    models.AlertTypeExpiredBatch,
			Severity:     models.AlertSeverityCritical,
			StockBatchId: batchId,
			Threshold:    decimal.Zero,
			Observed:     decimal.NewFromInt(int64(days)),
			Message:      fmt.Sprintf("batch %s of %s expired on %s", batch.BatchNumber, material.Name, batch.ExpiryDate.Format("2006-01-02")),
		}}, resolveAllBut(models.AlertTypeExpiredBatch)
	case days <= models.ExpiryCriticalDays:
		return []AlertCandidate{{
			AlertType:    models.AlertTypeExpiryCritical,
			Severity:     models.AlertSeverityCritical,
			StockBatchId: batchId,
			Threshold:    decimal.NewFromInt(models.ExpiryCriticalDays),
			Observed:     decimal.NewFromInt(int64(days)),
			Message:      fmt.Sprintf("batch %s of %s expires in %d day(s)", batch.BatchNumber, material.Name, days),
		}}, resolveAllBut(models.AlertTypeExpiryCritical)
	case days <= models.ExpiryWarningDays:
		return []AlertCandidate{{
			AlertType:    models.AlertTypeExpiryWarning,
			Severity:     models.AlertSeverityWarning,
			StockBatchId: batchId,
			Threshold:    decimal.NewFromInt(models.ExpiryWarningDays),
			Observed:     decimal.NewFromInt(int64(days)),
			Message:      fmt.Sprintf("batch %s of %s expires in %d day(s)", batch.BatchNumber, material.Name, days),
		}}, resolveAllBut(models.AlertTypeExpiryWarning)
	}
	return nil, resolveAllBut("")
}

// ApplyAlertTransitions persists the decided transitions on the caller's tx.
//
// Triggering inserts a row with active=TRUE. The unique index over
// (business, material, batch, type, active) admits only one unresolved row
// per key. Active is the index's only nullable member: MySQL skips rows with
// a NULL key member, so resolved history never blocks a re-trigger, while
// material-level rows carry batch id 0 and conflict normally. A duplicate-key
// error means the alert is already unresolved and is swallowed as a no-op.
//
// Resolving flips active to NULL and stamps is_resolved/resolved_at with a
// NULL resolved_by (system attribution). Re-running against unchanged state
// matches zero rows, so both directions are idempotent.
func ApplyAlertTransitions(tx *gorm.DB, businessId string, materialId int, triggers []AlertCandidate, resolves []AlertResolution) ([]models.StockAlert, error) {
	now := time.Now().UTC()

	var created []models.StockAlert
	for _, t := range triggers {
		alert := models.StockAlert{
			BusinessId:     businessId,
			MaterialId:     materialId,
			StockBatchId:   t.StockBatchId,
			AlertType:      t.AlertType,
			Active:         utils.NewTrue(),
			Severity:       t.Severity,
			ThresholdValue: t.Threshold,
			ObservedValue:  t.Observed,
			Message:        t.Message,
			IsResolved:     utils.NewFalse(),
		}
		if err := tx.Create(&alert).Error; err != nil {
			if isDuplicateKeyErr(err) {
				continue
			}
			return nil, err
		}
		created = append(created, alert)
	}

	for _, r := range resolves {
		err := tx.Model(&models.StockAlert{}).
			Where("business_id = ? AND material_id = ? AND stock_batch_id = ? AND alert_type = ? AND active = 1",
				businessId, materialId, r.StockBatchId, r.AlertType).
			Updates(map[string]interface{}{
				"active":      nil,
				"is_resolved": true,
				"resolved_at": &now,
				"resolved_by": nil,
			}).Error
		if err != nil {
			return nil, err
		}
	}
	return created, nil
}

// ReEvaluateMaterialAlerts loads one material with its batches, runs both
// evaluation levels and applies the result. Returns the newly created alerts
// so the caller can enqueue AlertTriggered events.
func ReEvaluateMaterialAlerts(tx *gorm.DB, businessId string, materialId int, today time.Time) ([]models.StockAlert, error) {
	var material models.Material
	err := tx.Preload("Batches").
		Where("business_id = ? AND id = ?", businessId, materialId).
		First(&material).Error
	if err != nil {
		return nil, err
	}

	triggers, resolves := EvaluateMaterialAlerts(&material)
	for i := range material.Batches {
		t, r := EvaluateBatchAlerts(&material, &material.Batches[i], today)
		triggers = append(triggers, t...)
		resolves = append(resolves, r...)
	}
	return ApplyAlertTransitions(tx, businessId, materialId, triggers, resolves)
}
