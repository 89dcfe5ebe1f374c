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

type Order struct {
	ID              int              `gorm:"primary_key" json:"id"`
	BusinessId      string           `gorm:"index;not null" json:"business_id"`
	OrderNumber     string           `gorm:"size:255;not null" json:"order_number"`
	OrderDate       time.Time        `gorm:"not null" json:"order_date"`
	ServiceType     OrderServiceType `gorm:"type:enum('dine-in','takeaway','delivery');default:'dine-in'" json:"service_type"`
	CurrentStatus   OrderStatus      `gorm:"type:enum('Pending','Preparing','Completed','Paid','Cancelled');not null" json:"current_status"`
	DiscountType    DiscountType     `gorm:"type:enum('none','cash','percentage','saved');default:'none'" json:"discount_type"`
	DiscountAmount  decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	SavedDiscountId int              `gorm:"default:null" json:"saved_discount_id"`
	Items           []OrderItem      `gorm:"foreignKey:OrderId" json:"items"`
	// Computed by the pricing engine; never incrementally patched.
	SubTotal      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sub_total"`
	DiscountValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_value"`
	ServiceCharge decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"service_charge"`
	Tax           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	OrderId         int             `gorm:"index;not null" json:"order_id"`
	ProductId       int             `gorm:"index;not null" json:"product_id"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	DiscountType    DiscountType    `gorm:"type:enum('none','cash','percentage','saved');default:'none'" json:"discount_type"`
	DiscountAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	SavedDiscountId int             `gorm:"default:null" json:"saved_discount_id"`
	// Computed by the pricing engine.
	SubTotal      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sub_total"`
	DiscountValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_value"`
	ServiceCharge decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"service_charge"`
	Tax           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOrder struct {
	OrderNumber     string           `json:"order_number" validate:"required"`
	OrderDate       time.Time        `json:"order_date" validate:"required"`
	ServiceType     OrderServiceType `json:"service_type"`
	DiscountType    DiscountType     `json:"discount_type"`
	DiscountAmount  decimal.Decimal  `json:"discount_amount"`
	SavedDiscountId int              `json:"saved_discount_id"`
	Items           []NewOrderItem   `json:"items" validate:"dive"`
}

type NewOrderItem struct {
	ProductId       int             `json:"product_id" validate:"required"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Qty             decimal.Decimal `json:"qty" validate:"required"`
	DiscountType    DiscountType    `json:"discount_type"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	SavedDiscountId int             `json:"saved_discount_id"`
}

func (input *NewOrder) validate(ctx context.Context, businessId string) error {
	if err := utils.ValidateInput(input); err != nil {
		return err
	}
	productIds := make([]int, 0, len(input.Items))
	for _, item := range input.Items {
		if !item.Qty.IsPositive() {
			return utils.ValidationError("item qty must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return utils.ValidationError("item unit_price cannot be negative")
		}
		productIds = append(productIds, item.ProductId)
	}
	if len(productIds) > 0 {
		if err := utils.ValidateResourcesId[Product](ctx, businessId, productIds); err != nil {
			return errors.New("product not found")
		}
	}
	if input.DiscountType == DiscountTypeSaved {
		if err := utils.ValidateResourceId[SavedDiscount](ctx, businessId, input.SavedDiscountId); err != nil {
			return errors.New("saved discount not found")
		}
	}
	return nil
}

func CreateOrder(ctx context.Context, input *NewOrder) (*Order, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	serviceType := input.ServiceType
	if serviceType == "" {
		serviceType = OrderServiceTypeDineIn
	}
	discountType := input.DiscountType
	if discountType == "" {
		discountType = DiscountTypeNone
	}

	order := Order{
		BusinessId:      businessId,
		OrderNumber:     input.OrderNumber,
		OrderDate:       input.OrderDate,
		ServiceType:     serviceType,
		CurrentStatus:   OrderStatusPending,
		DiscountType:    discountType,
		DiscountAmount:  input.DiscountAmount,
		SavedDiscountId: input.SavedDiscountId,
	}
	for _, item := range input.Items {
		itemDiscountType := item.DiscountType
		if itemDiscountType == "" {
			itemDiscountType = DiscountTypeNone
		}
		unitPrice := item.UnitPrice
		if unitPrice.IsZero() {
			product, err := GetProduct(ctx, item.ProductId)
			if err != nil {
				return nil, err
			}
			unitPrice = product.SalesPrice
		}
		order.Items = append(order.Items, OrderItem{
			BusinessId:      businessId,
			ProductId:       item.ProductId,
			UnitPrice:       unitPrice,
			Qty:             item.Qty,
			DiscountType:    itemDiscountType,
			DiscountAmount:  item.DiscountAmount,
			SavedDiscountId: item.SavedDiscountId,
		})
	}

	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetOrderWithItems(tx *gorm.DB, businessId string, orderId int) (*Order, error) {
	var order Order
	err := tx.Preload("Items").
		Where("business_id = ? AND id = ?", businessId, orderId).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func GetSavedDiscount(tx *gorm.DB, businessId string, id int) (*SavedDiscount, error) {
	var saved SavedDiscount
	err := tx.Where("business_id = ? AND id = ?", businessId, id).First(&saved).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &saved, nil
}
