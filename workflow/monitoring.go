package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/config"
	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// beginMonitoringRun persists the run header up front so crashed sweeps are
// visible as runs without a finished_at.
func beginMonitoringRun(ctx context.Context, businessId string, kind models.MonitoringRunKind) (*models.MonitoringRun, error) {
	db := config.GetDB()
	run := models.MonitoringRun{
		BusinessId: businessId,
		RunKind:    kind,
		StartedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func finishMonitoringRun(ctx context.Context, run *models.MonitoringRun) error {
	db := config.GetDB()
	now := time.Now().UTC()
	run.FinishedAt = &now
	return db.WithContext(ctx).Model(&models.MonitoringRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"finished_at": run.FinishedAt,
			"processed":   run.Processed,
			"updated":     run.Updated,
			"skipped":     run.Skipped,
			"errored":     run.Errored,
			"last_error":  run.LastError,
		}).Error
}

// noteRunError counts a unit-of-work failure without aborting the sweep.
func noteRunError(run *models.MonitoringRun, err error) {
	run.Errored++
	msg := err.Error()
	run.LastError = &msg
}

// RunDailyExpiryCheck walks every material that has expiring stock on the
// shelf and refreshes its batch alerts. Each material is an independent unit
// of work: a failing one is counted and the sweep moves on.
func RunDailyExpiryCheck(ctx context.Context, windowDays int) (*models.MonitoringRun, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	today := time.Now().UTC()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if windowDays <= 0 {
		windowDays = models.DefaultExpiryWindowDays
	}

	run, err := beginMonitoringRun(ctx, businessId, models.MonitoringRunKindExpiryCheck)
	if err != nil {
		return nil, err
	}

	var materialIds []int
	err = db.WithContext(ctx).Model(&models.StockBatch{}).
		Distinct("material_id").
		Where("business_id = ? AND remaining_qty > 0 AND expiry_date IS NOT NULL", businessId).
		Order("material_id ASC").
		Pluck("material_id", &materialIds).Error
	if err != nil {
		return nil, err
	}

	for _, materialId := range materialIds {
		run.Processed++
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			created, err := ReEvaluateMaterialAlerts(tx, businessId, materialId, today)
			if err != nil {
				return err
			}
			if len(created) == 0 {
				run.Skipped++
				return nil
			}
			run.Updated++
			for _, alert := range created {
				kind := models.EventKindAlertTriggered
				if alert.AlertType == models.AlertTypeExpiryWarning || alert.AlertType == models.AlertTypeExpiryCritical {
					kind = models.EventKindBatchExpiryWarning
				}
				event := BuildEvent(ctx, businessId, kind, string(alert.AlertType))
				event.MaterialId = materialId
				event.AlertId = alert.ID
				if alert.StockBatchId != 0 {
					event.StockBatchId = alert.StockBatchId
				}
				if err := EnqueueEvent(tx, event); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			config.LogError(logger, "workflow", "RunDailyExpiryCheck", "Expiry check failed for material", materialId, err)
			noteRunError(run, err)
		}
	}

	if err := finishMonitoringRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// RunStockLevelSweep refreshes material-level threshold alerts for every
// material of the business. Safety net behind the per-consume evaluation,
// mainly for stock adjusted outside the ledger.
func RunStockLevelSweep(ctx context.Context) (*models.MonitoringRun, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	today := time.Now().UTC()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	run, err := beginMonitoringRun(ctx, businessId, models.MonitoringRunKindStockLevelSweep)
	if err != nil {
		return nil, err
	}

	var materialIds []int
	err = db.WithContext(ctx).Model(&models.Material{}).
		Where("business_id = ?", businessId).
		Order("id ASC").
		Pluck("id", &materialIds).Error
	if err != nil {
		return nil, err
	}

	for _, materialId := range materialIds {
		run.Processed++
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			created, err := ReEvaluateMaterialAlerts(tx, businessId, materialId, today)
			if err != nil {
				return err
			}
			if len(created) == 0 {
				run.Skipped++
				return nil
			}
			run.Updated++
			for _, alert := range created {
				event := BuildEvent(ctx, businessId, models.EventKindAlertTriggered, string(alert.AlertType))
				event.MaterialId = materialId
				event.AlertId = alert.ID
				if err := EnqueueEvent(tx, event); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			config.LogError(logger, "workflow", "RunStockLevelSweep", "Sweep failed for material", materialId, err)
			noteRunError(run, err)
		}
	}

	if err := finishMonitoringRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// DashboardSnapshot is the cached aggregate the dashboard channel announces.
type DashboardSnapshot struct {
	BusinessId         string    `json:"business_id"`
	MaterialCount      int64     `json:"material_count"`
	OutOfStockCount    int64     `json:"out_of_stock_count"`
	LowStockCount      int64     `json:"low_stock_count"`
	ExpiringBatchCount int64     `json:"expiring_batch_count"`
	ExpiredBatchCount  int64     `json:"expired_batch_count"`
	UnresolvedAlerts   int64     `json:"unresolved_alerts"`
	PendingOrderCount  int64     `json:"pending_order_count"`
	GeneratedAt        time.Time `json:"generated_at"`
}

func dashboardCacheKey(businessId string) string {
	return fmt.Sprintf("Dashboard:%s", businessId)
}

// RunDashboardRefresh recomputes the dashboard snapshot, caches it in redis
// and announces the change on the dashboard channel. Subscribers re-read the
// cache; the event itself carries no aggregates.
func RunDashboardRefresh(ctx context.Context) (*models.MonitoringRun, error) {
	db := config.GetDB()
	today := time.Now().UTC()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	run, err := beginMonitoringRun(ctx, businessId, models.MonitoringRunKindDashboardRefresh)
	if err != nil {
		return nil, err
	}

	snapshot := DashboardSnapshot{BusinessId: businessId, GeneratedAt: today}
	from := utils.NormalizeDate(today)
	to := from.AddDate(0, 0, models.DefaultExpiryWindowDays)

	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&snapshot.MaterialCount, db.WithContext(ctx).Model(&models.Material{}).
			Where("business_id = ?", businessId)},
		{&snapshot.OutOfStockCount, db.WithContext(ctx).Model(&models.Material{}).
			Where("business_id = ? AND quantity <= 0", businessId)},
		{&snapshot.LowStockCount, db.WithContext(ctx).Model(&models.Material{}).
			Where("business_id = ? AND minimum_stock_level > 0 AND quantity <= minimum_stock_level AND quantity > 0", businessId)},
		{&snapshot.ExpiringBatchCount, db.WithContext(ctx).Model(&models.StockBatch{}).
			Where("business_id = ? AND remaining_qty > 0 AND expiry_date IS NOT NULL AND expiry_date >= ? AND expiry_date <= ?", businessId, from, to)},
		{&snapshot.ExpiredBatchCount, db.WithContext(ctx).Model(&models.StockBatch{}).
			Where("business_id = ? AND remaining_qty > 0 AND expiry_date IS NOT NULL AND expiry_date < ?", businessId, from)},
		{&snapshot.UnresolvedAlerts, db.WithContext(ctx).Model(&models.StockAlert{}).
			Where("business_id = ? AND active = 1", businessId)},
		{&snapshot.PendingOrderCount, db.WithContext(ctx).Model(&models.Order{}).
			Where("business_id = ? AND current_status IN ?", businessId, []models.OrderStatus{models.OrderStatusPending, models.OrderStatusPreparing})},
	}
	for _, c := range counts {
		run.Processed++
		if err := c.query.Count(c.dest).Error; err != nil {
			noteRunError(run, err)
			continue
		}
		run.Updated++
	}

	if err := config.SetRedisObject(dashboardCacheKey(businessId), &snapshot, time.Hour); err != nil {
		noteRunError(run, err)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return EnqueueEvent(tx, BuildEvent(ctx, businessId, models.EventKindDashboardChanged, "refreshed"))
	})
	if err != nil {
		noteRunError(run, err)
	}

	if err := finishMonitoringRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// RunMonthlyRollover writes one StockClosing row per material for the given
// period ("2006-01"). Consumed quantity is summed from the consumption facts
// of the period; closing quantity is the material quantity at rollover time.
// Re-running a period updates the existing rows instead of duplicating them.
func RunMonthlyRollover(ctx context.Context, period string) (*models.MonitoringRun, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	periodStart, err := time.Parse("2006-01", period)
	if err != nil {
		return nil, utils.ValidationError("period must be formatted like 2006-01")
	}
	periodEnd := periodStart.AddDate(0, 1, 0)

	run, err := beginMonitoringRun(ctx, businessId, models.MonitoringRunKindStockRollover)
	if err != nil {
		return nil, err
	}

	var materials []models.Material
	if err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("id ASC").
		Find(&materials).Error; err != nil {
		return nil, err
	}

	for _, material := range materials {
		run.Processed++
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var consumed struct {
				Total decimal.Decimal
			}
			err := tx.Model(&models.BatchConsumption{}).
				Select("COALESCE(SUM(qty_taken), 0) AS total").
				Where("business_id = ? AND material_id = ? AND consumed_date >= ? AND consumed_date < ?",
					businessId, material.ID, periodStart, periodEnd).
				Scan(&consumed).Error
			if err != nil {
				return err
			}

			closing := models.StockClosing{
				BusinessId:  businessId,
				MaterialId:  material.ID,
				Period:      period,
				ConsumedQty: consumed.Total,
				ClosingQty:  material.Quantity,
			}
			if err := tx.Create(&closing).Error; err != nil {
				if !isDuplicateKeyErr(err) {
					return err
				}
				return tx.Model(&models.StockClosing{}).
					Where("business_id = ? AND material_id = ? AND period = ?", businessId, material.ID, period).
					Updates(map[string]interface{}{
						"consumed_qty": consumed.Total,
						"closing_qty":  material.Quantity,
					}).Error
			}
			return nil
		})
		if err != nil {
			config.LogError(logger, "workflow", "RunMonthlyRollover", "Rollover failed for material", material.ID, err)
			noteRunError(run, err)
			continue
		}
		run.Updated++
	}

	if err := finishMonitoringRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}
