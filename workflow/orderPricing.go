package workflow

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/kitchen_backend/config"
	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
)

var (
	decimalOneHundred = decimal.NewFromInt(100)
	// ServiceChargeRate and TaxRate are business-wide percentages.
	ServiceChargeRate = decimal.NewFromInt(12)
	TaxRate           = decimal.NewFromInt(14)
)

// discountValue resolves one discount declaration against the sub total it
// applies to. Saved discounts are percentage discounts looked up by id.
func discountValue(subTotal decimal.Decimal, discountType models.DiscountType, amount decimal.Decimal, savedDiscountId int, saved map[int]models.SavedDiscount) decimal.Decimal {
	switch discountType {
	case models.DiscountTypeCash:
		if amount.IsPositive() {
			return amount
		}
	case models.DiscountTypePercentage:
		if amount.IsPositive() {
			return subTotal.Mul(amount).DivRound(decimalOneHundred, 4)
		}
	case models.DiscountTypeSaved:
		if s, ok := saved[savedDiscountId]; ok && s.Amount.IsPositive() {
			return subTotal.Mul(s.Amount).DivRound(decimalOneHundred, 4)
		}
	}
	return decimal.Zero
}

// PriceOrderItem recomputes one item's financial fields in place. It is a pure
// function of its arguments and safe to re-run; identical inputs always yield
// identical computed fields.
//
// Discount is the product-level discount plus the item-level one, each applied
// by its own type against the item sub total. A combined discount larger than
// the sub total is reset to zero for the whole item.
func PriceOrderItem(item *models.OrderItem, product *models.Product, serviceType models.OrderServiceType, saved map[int]models.SavedDiscount) {
	subTotal := item.UnitPrice.Mul(item.Qty)

	discount := discountValue(subTotal, item.DiscountType, item.DiscountAmount, item.SavedDiscountId, saved)
	if product != nil && product.DiscountType != nil {
		discount = discount.Add(discountValue(subTotal, *product.DiscountType, product.DiscountAmount, product.SavedDiscountId, saved))
	}
	if discount.GreaterThan(subTotal) {
		discount = decimal.Zero
	}

	service := decimal.Zero
	if serviceType == models.OrderServiceTypeDineIn && product != nil && product.IsServiceEligible != nil && *product.IsServiceEligible {
		service = subTotal.Sub(discount).Mul(ServiceChargeRate).DivRound(decimalOneHundred, 4)
	}

	tax := decimal.Zero
	if product != nil && product.IsTaxEligible != nil && *product.IsTaxEligible {
		tax = subTotal.Sub(discount).Add(service).Mul(TaxRate).DivRound(decimalOneHundred, 4)
	}

	item.SubTotal = subTotal
	item.DiscountValue = discount
	item.ServiceCharge = service
	item.Tax = tax
	item.TotalAmount = subTotal.Sub(discount).Add(tax).Add(service)
}

// PriceOrder recomputes every item and then the order totals in place.
//
// The order-level discount is applied on top of the summed item discounts.
// When the combined discount would exceed the order sub total, the order-level
// part is discarded entirely (type reset to none) and only item discounts
// survive. Order service and tax are computed from the order totals, not
// summed from items.
func PriceOrder(order *models.Order, products map[int]models.Product, saved map[int]models.SavedDiscount) {
	subTotal := decimal.Zero
	itemDiscount := decimal.Zero
	for i := range order.Items {
		var product *models.Product
		if p, ok := products[order.Items[i].ProductId]; ok {
			product = &p
		}
		PriceOrderItem(&order.Items[i], product, order.ServiceType, saved)
		subTotal = subTotal.Add(order.Items[i].SubTotal)
		itemDiscount = itemDiscount.Add(order.Items[i].DiscountValue)
	}

	orderDiscount := discountValue(subTotal, order.DiscountType, order.DiscountAmount, order.SavedDiscountId, saved)
	totalDiscount := itemDiscount.Add(orderDiscount)
	if totalDiscount.GreaterThan(subTotal) {
		order.DiscountType = models.DiscountTypeNone
		order.DiscountAmount = decimal.Zero
		order.SavedDiscountId = 0
		totalDiscount = itemDiscount
	}

	service := decimal.Zero
	if order.ServiceType == models.OrderServiceTypeDineIn {
		service = subTotal.Sub(totalDiscount).Mul(ServiceChargeRate).DivRound(decimalOneHundred, 4)
	}
	tax := subTotal.Sub(totalDiscount).Add(service).Mul(TaxRate).DivRound(decimalOneHundred, 4)

	order.SubTotal = subTotal
	order.DiscountValue = totalDiscount
	order.ServiceCharge = service
	order.Tax = tax
	order.TotalAmount = subTotal.Sub(totalDiscount).Add(service).Add(tax)
}

// RepriceOrder reloads one order with its items, recomputes every financial
// field from scratch and persists the result. All recomputation for one order
// serializes on a redis lock so racing item edits cannot interleave.
func RepriceOrder(ctx context.Context, orderId int) (*models.Order, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	release, err := utils.OrderPricingLock(ctx, businessId, orderId, "workflow", "RepriceOrder")
	if err != nil {
		return nil, err
	}
	defer release()

	tx := db.WithContext(ctx).Begin()
	// IMPORTANT: always rollback on early-return or panic to avoid leaking DB locks.
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	order, err := models.GetOrderWithItems(tx, businessId, orderId)
	if err != nil {
		return nil, err
	}

	productIds := make([]int, 0, len(order.Items))
	savedIds := make([]int, 0, len(order.Items)+1)
	for _, item := range order.Items {
		productIds = append(productIds, item.ProductId)
		if item.SavedDiscountId > 0 {
			savedIds = append(savedIds, item.SavedDiscountId)
		}
	}
	if order.SavedDiscountId > 0 {
		savedIds = append(savedIds, order.SavedDiscountId)
	}

	products := map[int]models.Product{}
	if len(productIds) > 0 {
		var rows []models.Product
		if err := tx.Where("business_id = ? AND id IN ?", businessId, utils.UniqueSlice(productIds)).
			Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, p := range rows {
			products[p.ID] = p
			if p.DiscountType != nil && *p.DiscountType == models.DiscountTypeSaved && p.SavedDiscountId > 0 {
				savedIds = append(savedIds, p.SavedDiscountId)
			}
		}
	}

	saved := map[int]models.SavedDiscount{}
	if len(savedIds) > 0 {
		var rows []models.SavedDiscount
		if err := tx.Where("business_id = ? AND id IN ?", businessId, utils.UniqueSlice(savedIds)).
			Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, s := range rows {
			saved[s.ID] = s
		}
	}

	PriceOrder(order, products, saved)

	for _, item := range order.Items {
		err := tx.Model(&models.OrderItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
			"sub_total":      item.SubTotal,
			"discount_value": item.DiscountValue,
			"service_charge": item.ServiceCharge,
			"tax":            item.Tax,
			"total_amount":   item.TotalAmount,
		}).Error
		if err != nil {
			return nil, err
		}
	}
	err = tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"discount_type":     order.DiscountType,
		"discount_amount":   order.DiscountAmount,
		"saved_discount_id": order.SavedDiscountId,
		"sub_total":         order.SubTotal,
		"discount_value":    order.DiscountValue,
		"service_charge":    order.ServiceCharge,
		"tax":               order.Tax,
		"total_amount":      order.TotalAmount,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "workflow", "RepriceOrder", "Failed to commit order totals", orderId, err)
		return nil, err
	}
	return order, nil
}
