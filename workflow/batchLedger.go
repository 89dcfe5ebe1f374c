package workflow

import (
	"errors"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchTake is one allocation step: quantity taken from one batch.
type BatchTake struct {
	StockBatchId int
	QtyTaken     decimal.Decimal
	UnitCost     decimal.Decimal
}

// AllocateBatches plans a consumption against the given batches without
// touching them. Allocation order is expiry date ascending with no-expiry
// batches last, then received date ascending, then id. Each step takes
// min(remaining, still needed).
//
// Returns InsufficientStockError when the batches cannot cover qtyNeeded;
// the returned takes then cover everything available, so callers opting into
// partial consumption can still apply them.
func AllocateBatches(materialId int, batches []models.StockBatch, qtyNeeded decimal.Decimal) ([]BatchTake, error) {
	ordered := make([]models.StockBatch, 0, len(batches))
	for _, b := range batches {
		if b.RemainingQty.IsPositive() {
			ordered = append(ordered, b)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate == nil:
			// fall through to received date
		case a.ExpiryDate == nil:
			return false
		case b.ExpiryDate == nil:
			return true
		case !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
		if !a.ReceivedDate.Equal(b.ReceivedDate) {
			return a.ReceivedDate.Before(b.ReceivedDate)
		}
		return a.ID < b.ID
	})

	takes := make([]BatchTake, 0, len(ordered))
	remaining := qtyNeeded
	for _, b := range ordered {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(b.RemainingQty, remaining)
		takes = append(takes, BatchTake{
			StockBatchId: b.ID,
			QtyTaken:     take,
			UnitCost:     b.UnitCost,
		})
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return takes, &utils.InsufficientStockError{
			MaterialId: materialId,
			Requested:  qtyNeeded,
			Available:  qtyNeeded.Sub(remaining),
		}
	}
	return takes, nil
}

// ConsumeInput carries everything ConsumeMaterial needs beyond the tx.
type ConsumeInput struct {
	BusinessId string
	MaterialId int
	Qty        decimal.Decimal
	// OrderId and Reference tag the consumption facts for later audit.
	OrderId      int
	Reference    string
	ConsumedDate time.Time
	// AllowPartial takes everything available instead of aborting on
	// insufficient stock; the shortfall is recorded on the last fact.
	AllowPartial bool
}

// ConsumeMaterial decrements batch remainders on the caller's transaction.
// Batches are read FOR UPDATE, so concurrent consumers of the same material
// serialize on the row locks even without the redis lock. One BatchConsumption
// fact is written per touched batch and the material quantity is restored to
// the sum of remainders before returning.
func ConsumeMaterial(tx *gorm.DB, input ConsumeInput) ([]BatchTake, error) {
	if !input.Qty.IsPositive() {
		return nil, utils.ValidationError("consume qty must be positive")
	}

	// An unknown material is a caller error, not an empty-stock condition.
	var material models.Material
	err := tx.Select("id").
		Where("business_id = ? AND id = ?", input.BusinessId, input.MaterialId).
		First(&material).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	var batches []models.StockBatch
	err = tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND material_id = ? AND remaining_qty > 0", input.BusinessId, input.MaterialId).
		Find(&batches).Error
	if err != nil {
		return nil, err
	}

	takes, allocErr := AllocateBatches(input.MaterialId, batches, input.Qty)
	if allocErr != nil && !input.AllowPartial {
		return nil, allocErr
	}

	consumedDate := input.ConsumedDate
	if consumedDate.IsZero() {
		consumedDate = time.Now().UTC()
	}

	for i, take := range takes {
		res := tx.Model(&models.StockBatch{}).
			Where("business_id = ? AND id = ? AND remaining_qty >= ?", input.BusinessId, take.StockBatchId, take.QtyTaken).
			Update("remaining_qty", gorm.Expr("remaining_qty - ?", take.QtyTaken))
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Remainder moved under us despite the row lock. Abort rather
			// than drive a batch negative.
			return nil, utils.ErrorConcurrencyConflict
		}

		fact := models.BatchConsumption{
			BusinessId:   input.BusinessId,
			MaterialId:   input.MaterialId,
			StockBatchId: take.StockBatchId,
			OrderId:      input.OrderId,
			Reference:    input.Reference,
			ConsumedDate: consumedDate,
			QtyTaken:     take.QtyTaken,
			UnitCost:     take.UnitCost,
		}
		if allocErr != nil && i == len(takes)-1 {
			var ise *utils.InsufficientStockError
			if e, ok := allocErr.(*utils.InsufficientStockError); ok {
				ise = e
			}
			if ise != nil {
				fact.Shortfall = ise.Shortfall()
			}
		}
		if err := tx.Create(&fact).Error; err != nil {
			return nil, err
		}
	}

	if err := models.RecalcMaterialQuantity(tx, input.BusinessId, input.MaterialId); err != nil {
		return nil, err
	}
	return takes, nil
}

// ClassifyExpiringBatches returns batches with stock left expiring within
// [today, today+windowDays]. Already-expired batches are excluded; those are
// ClassifyExpiredBatches' business.
func ClassifyExpiringBatches(tx *gorm.DB, businessId string, today time.Time, windowDays int) ([]models.StockBatch, error) {
	if windowDays <= 0 {
		windowDays = models.DefaultExpiryWindowDays
	}
	from := utils.NormalizeDate(today)
	to := from.AddDate(0, 0, windowDays)

	var batches []models.StockBatch
	err := tx.
		Where("business_id = ? AND remaining_qty > 0 AND expiry_date IS NOT NULL AND expiry_date >= ? AND expiry_date <= ?",
			businessId, from, to).
		Order("expiry_date ASC, id ASC").
		Find(&batches).Error
	return batches, err
}

// ClassifyExpiredBatches returns batches with stock left whose expiry date is
// strictly before today.
func ClassifyExpiredBatches(tx *gorm.DB, businessId string, today time.Time) ([]models.StockBatch, error) {
	var batches []models.StockBatch
	err := tx.
		Where("business_id = ? AND remaining_qty > 0 AND expiry_date IS NOT NULL AND expiry_date < ?",
			businessId, utils.NormalizeDate(today)).
		Order("expiry_date ASC, id ASC").
		Find(&batches).Error
	return batches, err
}
