package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/config"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Recipe maps one product to the materials one unit of it consumes.
// Read-only input to the batch ledger; quantities are in each material's recipe unit.
type Recipe struct {
	ID         int            `gorm:"primary_key" json:"id"`
	BusinessId string         `gorm:"index;not null" json:"business_id"`
	ProductId  int            `gorm:"index;not null" json:"product_id"`
	Name       string         `gorm:"size:255;not null" json:"name"`
	// CostPerUnit is a cached ComputeRecipeCost result, refreshed whenever
	// consumption shifts the batch costs behind the recipe.
	CostPerUnit decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_per_unit"`
	Details     []RecipeDetail  `gorm:"foreignKey:RecipeId" json:"details"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type RecipeDetail struct {
	ID         int             `gorm:"primary_key" json:"id"`
	RecipeId   int             `gorm:"index;not null" json:"recipe_id"`
	MaterialId int             `gorm:"index;not null" json:"material_id"`
	DetailQty  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_qty"`
	Unit       string          `gorm:"size:50" json:"unit"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRecipe struct {
	ProductId int               `json:"product_id" validate:"required"`
	Name      string            `json:"name" validate:"required"`
	Details   []NewRecipeDetail `json:"details" validate:"required,dive"`
}

type NewRecipeDetail struct {
	MaterialId int             `json:"material_id" validate:"required"`
	DetailQty  decimal.Decimal `json:"detail_qty" validate:"required"`
	Unit       string          `json:"unit"`
}

func CreateRecipe(ctx context.Context, input *NewRecipe) (*Recipe, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Product](ctx, businessId, input.ProductId); err != nil {
		return nil, errors.New("product not found")
	}
	materialIds := make([]int, 0, len(input.Details))
	for _, d := range input.Details {
		if !d.DetailQty.IsPositive() {
			return nil, utils.ValidationError("recipe detail qty must be positive")
		}
		materialIds = append(materialIds, d.MaterialId)
	}
	if err := utils.ValidateResourcesId[Material](ctx, businessId, materialIds); err != nil {
		return nil, errors.New("material not found")
	}

	recipe := Recipe{
		BusinessId: businessId,
		ProductId:  input.ProductId,
		Name:       input.Name,
	}
	for _, d := range input.Details {
		recipe.Details = append(recipe.Details, RecipeDetail{
			MaterialId: d.MaterialId,
			DetailQty:  d.DetailQty,
			Unit:       d.Unit,
		})
	}

	if err := db.WithContext(ctx).Create(&recipe).Error; err != nil {
		return nil, err
	}
	return &recipe, nil
}

func GetRecipeForProduct(tx *gorm.DB, businessId string, productId int) (*Recipe, error) {
	var recipe Recipe
	err := tx.Preload("Details").
		Where("business_id = ? AND product_id = ?", businessId, productId).
		First(&recipe).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &recipe, nil
}

// ComputeRecipeCost prices one unit of the recipe's product from current batch
// costs: per material, the remaining-quantity-weighted average unit cost,
// converted from stock unit into recipe unit.
func ComputeRecipeCost(tx *gorm.DB, businessId string, recipe *Recipe) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, detail := range recipe.Details {
		var material Material
		if err := tx.Where("business_id = ? AND id = ?", businessId, detail.MaterialId).
			First(&material).Error; err != nil {
			return decimal.Zero, err
		}

		type costRow struct {
			TotalCost decimal.Decimal
			TotalQty  decimal.Decimal
		}
		var row costRow
		err := tx.Model(&StockBatch{}).
			Select("COALESCE(SUM(remaining_qty * unit_cost), 0) AS total_cost, COALESCE(SUM(remaining_qty), 0) AS total_qty").
			Where("business_id = ? AND material_id = ? AND remaining_qty > 0", businessId, detail.MaterialId).
			Scan(&row).Error
		if err != nil {
			return decimal.Zero, err
		}
		if row.TotalQty.IsZero() {
			continue
		}

		stockUnitCost := row.TotalCost.DivRound(row.TotalQty, 4)
		// unit_conversion_rate converts stock units into recipe units.
		recipeUnitCost := stockUnitCost
		if material.UnitConversionRate.IsPositive() {
			recipeUnitCost = stockUnitCost.DivRound(material.UnitConversionRate, 4)
		}
		total = total.Add(recipeUnitCost.Mul(detail.DetailQty))
	}
	return total, nil
}
