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

// Product is a priced, sellable item. Its recipe (if any) drives material
// consumption when an order is fulfilled.
type Product struct {
	ID                int             `gorm:"primary_key" json:"id"`
	BusinessId        string          `gorm:"index;not null" json:"business_id"`
	Name              string          `gorm:"size:255;not null" json:"name"`
	Sku               string          `gorm:"size:100" json:"sku"`
	SalesPrice        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sales_price"`
	IsServiceEligible *bool           `gorm:"not null;default:true" json:"is_service_eligible"`
	IsTaxEligible     *bool           `gorm:"not null;default:true" json:"is_tax_eligible"`
	DiscountType      *DiscountType   `gorm:"type:enum('none','cash','percentage','saved');default:null" json:"discount_type"`
	DiscountAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	SavedDiscountId   int             `gorm:"default:null" json:"saved_discount_id"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SavedDiscount is a named percentage referenced by the "saved" discount type.
type SavedDiscount struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	Name       string          `gorm:"size:255;not null" json:"name"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name              string          `json:"name" validate:"required"`
	Sku               string          `json:"sku"`
	SalesPrice        decimal.Decimal `json:"sales_price" validate:"required"`
	IsServiceEligible *bool           `json:"is_service_eligible"`
	IsTaxEligible     *bool           `json:"is_tax_eligible"`
	DiscountType      *DiscountType   `json:"discount_type"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	SavedDiscountId   int             `json:"saved_discount_id"`
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if input.SalesPrice.IsNegative() {
		return nil, utils.ValidationError("sales_price cannot be negative")
	}
	if input.DiscountType != nil && *input.DiscountType == DiscountTypeSaved {
		if err := utils.ValidateResourceId[SavedDiscount](ctx, businessId, input.SavedDiscountId); err != nil {
			return nil, errors.New("saved discount not found")
		}
	}

	isServiceEligible := input.IsServiceEligible
	if isServiceEligible == nil {
		isServiceEligible = utils.NewTrue()
	}
	isTaxEligible := input.IsTaxEligible
	if isTaxEligible == nil {
		isTaxEligible = utils.NewTrue()
	}

	product := Product{
		BusinessId:        businessId,
		Name:              input.Name,
		Sku:               input.Sku,
		SalesPrice:        input.SalesPrice,
		IsServiceEligible: isServiceEligible,
		IsTaxEligible:     isTaxEligible,
		DiscountType:      input.DiscountType,
		DiscountAmount:    input.DiscountAmount,
		SavedDiscountId:   input.SavedDiscountId,
	}
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var product Product
	err := db.WithContext(ctx).Where("business_id = ? AND id = ?", businessId, id).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}
