package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/config"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Material struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	BusinessId         string          `gorm:"index;not null" json:"business_id"`
	Name               string          `gorm:"size:255;not null" json:"name"`
	Sku                string          `gorm:"size:100" json:"sku"`
	SupplierId         int             `gorm:"index;default:null" json:"supplier_id"`
	Quantity           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	StockUnit          string          `gorm:"size:50;not null" json:"stock_unit"`
	RecipeUnit         string          `gorm:"size:50;not null" json:"recipe_unit"`
	UnitConversionRate decimal.Decimal `gorm:"type:decimal(20,4);default:1" json:"unit_conversion_rate"`
	MinimumStockLevel  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"minimum_stock_level"`
	MaximumStockLevel  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"maximum_stock_level"`
	ReorderPoint       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reorder_point"`
	ReorderQuantity    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reorder_quantity"`
	IsPerishable       *bool           `gorm:"not null;default:false" json:"is_perishable"`
	Batches            []StockBatch    `gorm:"foreignKey:MaterialId" json:"batches"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockBatch is one received lot of a material. Exclusively owned by its
// material; remaining_qty is mutated only through the batch ledger.
type StockBatch struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	MaterialId   int             `gorm:"index;not null" json:"material_id"`
	BatchNumber  string          `gorm:"size:100" json:"batch_number"`
	ReceivedDate time.Time       `gorm:"not null" json:"received_date"`
	ExpiryDate   *time.Time      `gorm:"index" json:"expiry_date"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	RemainingQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"remaining_qty"`
	UnitCost     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMaterial struct {
	Name               string          `json:"name" validate:"required"`
	Sku                string          `json:"sku"`
	SupplierId         int             `json:"supplier_id"`
	StockUnit          string          `json:"stock_unit" validate:"required"`
	RecipeUnit         string          `json:"recipe_unit" validate:"required"`
	UnitConversionRate decimal.Decimal `json:"unit_conversion_rate"`
	MinimumStockLevel  decimal.Decimal `json:"minimum_stock_level"`
	MaximumStockLevel  decimal.Decimal `json:"maximum_stock_level"`
	ReorderPoint       decimal.Decimal `json:"reorder_point"`
	ReorderQuantity    decimal.Decimal `json:"reorder_quantity"`
	IsPerishable       *bool           `json:"is_perishable"`
}

type NewStockBatch struct {
	MaterialId   int             `json:"material_id" validate:"required"`
	BatchNumber  string          `json:"batch_number"`
	ReceivedDate time.Time       `json:"received_date" validate:"required"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	Qty          decimal.Decimal `json:"qty" validate:"required"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
}

func (input *NewMaterial) validate(ctx context.Context, businessId string) error {
	if err := utils.ValidateInput(input); err != nil {
		return err
	}
	if input.UnitConversionRate.IsNegative() || input.UnitConversionRate.IsZero() {
		return utils.ValidationError("unit_conversion_rate must be positive")
	}
	if input.MinimumStockLevel.IsNegative() || input.MaximumStockLevel.IsNegative() {
		return utils.ValidationError("stock levels cannot be negative")
	}
	if input.MaximumStockLevel.IsPositive() && input.MaximumStockLevel.LessThan(input.MinimumStockLevel) {
		return utils.ValidationError("maximum_stock_level below minimum_stock_level")
	}
	if input.SupplierId > 0 {
		if err := utils.ValidateResourceId[Supplier](ctx, businessId, input.SupplierId); err != nil {
			return errors.New("supplier not found")
		}
	}
	return nil
}

func CreateMaterial(ctx context.Context, input *NewMaterial) (*Material, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	isPerishable := input.IsPerishable
	if isPerishable == nil {
		isPerishable = utils.NewFalse()
	}

	material := Material{
		BusinessId:         businessId,
		Name:               input.Name,
		Sku:                input.Sku,
		SupplierId:         input.SupplierId,
		StockUnit:          input.StockUnit,
		RecipeUnit:         input.RecipeUnit,
		UnitConversionRate: input.UnitConversionRate,
		MinimumStockLevel:  input.MinimumStockLevel,
		MaximumStockLevel:  input.MaximumStockLevel,
		ReorderPoint:       input.ReorderPoint,
		ReorderQuantity:    input.ReorderQuantity,
		IsPerishable:       isPerishable,
	}

	if err := db.WithContext(ctx).Create(&material).Error; err != nil {
		return nil, err
	}

	return &material, nil
}

// ReceiveStockBatch records a received lot and brings the material quantity
// back to the sum of batch remainders, inside one transaction.
func ReceiveStockBatch(ctx context.Context, input *NewStockBatch) (*StockBatch, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if !input.Qty.IsPositive() {
		return nil, utils.ValidationError("batch qty must be positive")
	}
	if input.ExpiryDate != nil && input.ExpiryDate.Before(input.ReceivedDate) {
		return nil, utils.ValidationError("expiry_date before received_date")
	}
	if err := utils.ValidateResourceId[Material](ctx, businessId, input.MaterialId); err != nil {
		return nil, errors.New("material not found")
	}

	batch := StockBatch{
		BusinessId:   businessId,
		MaterialId:   input.MaterialId,
		BatchNumber:  input.BatchNumber,
		ReceivedDate: input.ReceivedDate,
		ExpiryDate:   input.ExpiryDate,
		Qty:          input.Qty,
		RemainingQty: input.Qty,
		UnitCost:     input.UnitCost,
	}

	tx := db.Begin()
	// IMPORTANT: always rollback on early-return or panic to avoid leaking DB locks.
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Create(&batch).Error; err != nil {
		return nil, err
	}
	if err := RecalcMaterialQuantity(tx, businessId, input.MaterialId); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	_ = config.RemoveRedisKey(materialCacheKey(businessId, input.MaterialId))
	return &batch, nil
}

func materialCacheKey(businessId string, materialId int) string {
	return fmt.Sprintf("Material:%s:%d", businessId, materialId)
}

func GetMaterial(ctx context.Context, id int) (*Material, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var cached *Material
	if found, err := config.GetRedisObject(materialCacheKey(businessId, id), &cached); err == nil && found && cached != nil {
		return cached, nil
	}

	db := config.GetDB()
	var material Material
	err := db.WithContext(ctx).Where("business_id = ? AND id = ?", businessId, id).First(&material).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	_ = config.SetRedisObject(materialCacheKey(businessId, id), &material, time.Hour)
	return &material, nil
}

// RecalcMaterialQuantity restores the steady-state invariant
// quantity == SUM(remaining_qty) for one material, on the caller's tx.
func RecalcMaterialQuantity(tx *gorm.DB, businessId string, materialId int) error {
	return tx.Exec(`
		UPDATE materials
		SET quantity = (
			SELECT COALESCE(SUM(remaining_qty), 0)
			FROM stock_batches
			WHERE stock_batches.business_id = materials.business_id
			  AND stock_batches.material_id = materials.id
		)
		WHERE business_id = ? AND id = ?`, businessId, materialId).Error
}
