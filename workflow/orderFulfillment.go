package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/config"
	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const handlerProcessOrderInventory = "ProcessOrderInventory"

// FulfillmentPolicy makes the insufficient-stock decision explicit. The
// default aborts the whole fulfillment; AllowPartial drains what is available
// and records the shortfall per material instead.
type FulfillmentPolicy struct {
	AllowPartial bool
}

// MaterialConsumption is the per-material outcome of one fulfillment.
type MaterialConsumption struct {
	MaterialId int
	Requested  decimal.Decimal
	Consumed   decimal.Decimal
	Shortfall  decimal.Decimal
	Takes      []BatchTake
}

type FulfillmentResult struct {
	OrderId   int
	Skipped   bool
	Materials []MaterialConsumption
}

// materialDemand flattens an order into stock-unit quantities per material,
// and collects the recipes involved so cost-change events can follow the
// consumption. Recipe detail quantities are in recipe units; the material's
// conversion rate translates them back into the stock unit its batches are
// kept in. Products without a recipe consume nothing.
func materialDemand(tx *gorm.DB, businessId string, order *models.Order) (map[int]decimal.Decimal, []*models.Recipe, error) {
	recipeQty := map[int]decimal.Decimal{}
	var recipes []*models.Recipe
	seenRecipe := map[int]bool{}
	for _, item := range order.Items {
		recipe, err := models.GetRecipeForProduct(tx, businessId, item.ProductId)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if !seenRecipe[recipe.ID] {
			seenRecipe[recipe.ID] = true
			recipes = append(recipes, recipe)
		}
		for _, detail := range recipe.Details {
			recipeQty[detail.MaterialId] = recipeQty[detail.MaterialId].Add(detail.DetailQty.Mul(item.Qty))
		}
	}

	demand := map[int]decimal.Decimal{}
	for materialId, qty := range recipeQty {
		var material models.Material
		if err := tx.Where("business_id = ? AND id = ?", businessId, materialId).
			First(&material).Error; err != nil {
			return nil, nil, err
		}
		stockQty := qty
		if material.UnitConversionRate.IsPositive() {
			stockQty = qty.DivRound(material.UnitConversionRate, 4)
		}
		if stockQty.IsPositive() {
			demand[materialId] = stockQty
		}
	}
	return demand, recipes, nil
}

// ProcessOrderInventory consumes the materials an order's recipes call for.
// messageId deduplicates at-least-once task delivery; a replay of an already
// succeeded message returns Skipped without touching any batch.
//
// Everything runs in one transaction: batch decrements, consumption facts,
// alert transitions and outbox rows commit together or not at all. Each
// touched material is additionally serialized on its redis lock, taken in
// ascending id order so two orders over the same materials cannot deadlock.
func ProcessOrderInventory(ctx context.Context, orderId int, messageId string, policy FulfillmentPolicy) (*FulfillmentResult, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if messageId == "" {
		return nil, utils.ValidationError("message id is required")
	}

	tx := db.WithContext(ctx).Begin()
	// IMPORTANT: always rollback on early-return or panic to avoid leaking DB locks.
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	skip, err := BeginIdempotency(tx, businessId, handlerProcessOrderInventory, messageId)
	if err != nil {
		return nil, err
	}
	if skip {
		_ = tx.Rollback().Error
		return &FulfillmentResult{OrderId: orderId, Skipped: true}, nil
	}
	// The STARTED row must be visible to competing workers even if the
	// fulfillment below fails, so it commits on its own.
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	result, err := fulfillOrder(ctx, businessId, orderId, policy)
	if err != nil {
		config.LogError(logger, "workflow", "ProcessOrderInventory", "Order fulfillment failed", orderId, err)
		_ = MarkIdempotencyFailed(db.WithContext(ctx), businessId, handlerProcessOrderInventory, messageId, err)
		return nil, err
	}
	if err := MarkIdempotencySucceeded(db.WithContext(ctx), businessId, handlerProcessOrderInventory, messageId); err != nil {
		return nil, err
	}
	return result, nil
}

func fulfillOrder(ctx context.Context, businessId string, orderId int, policy FulfillmentPolicy) (*FulfillmentResult, error) {
	db := config.GetDB()
	today := time.Now().UTC()

	tx := db.WithContext(ctx).Begin()
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

	demand, recipes, err := materialDemand(tx, businessId, order)
	if err != nil {
		return nil, err
	}

	materialIds := make([]int, 0, len(demand))
	for id := range demand {
		materialIds = append(materialIds, id)
	}
	sort.Ints(materialIds)

	var releases []func()
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	result := &FulfillmentResult{OrderId: orderId}
	for _, materialId := range materialIds {
		release, err := utils.MaterialLock(ctx, businessId, materialId, "workflow", "ProcessOrderInventory")
		if err != nil {
			return nil, err
		}
		releases = append(releases, release)

		requested := demand[materialId]
		takes, err := ConsumeMaterial(tx, ConsumeInput{
			BusinessId:   businessId,
			MaterialId:   materialId,
			Qty:          requested,
			OrderId:      orderId,
			Reference:    order.OrderNumber,
			ConsumedDate: today,
			AllowPartial: policy.AllowPartial,
		})
		if err != nil {
			return nil, err
		}

		consumed := decimal.Zero
		for _, take := range takes {
			consumed = consumed.Add(take.QtyTaken)
		}
		result.Materials = append(result.Materials, MaterialConsumption{
			MaterialId: materialId,
			Requested:  requested,
			Consumed:   consumed,
			Shortfall:  requested.Sub(consumed),
			Takes:      takes,
		})

		created, err := ReEvaluateMaterialAlerts(tx, businessId, materialId, today)
		if err != nil {
			return nil, err
		}
		for _, alert := range created {
			event := BuildEvent(ctx, businessId, models.EventKindAlertTriggered, string(alert.AlertType))
			event.MaterialId = materialId
			event.AlertId = alert.ID
			if alert.StockBatchId != 0 {
				event.StockBatchId = alert.StockBatchId
			}
			if err := EnqueueEvent(tx, event); err != nil {
				return nil, err
			}
		}

		event := BuildEvent(ctx, businessId, models.EventKindInventoryChanged, "consumed")
		event.MaterialId = materialId
		event.OrderId = orderId
		if err := EnqueueEvent(tx, event); err != nil {
			return nil, err
		}

		_ = config.RemoveRedisKey(fmt.Sprintf("Material:%s:%d", businessId, materialId))
	}

	// Draining batches shifts the weighted batch costs behind each recipe;
	// refresh the cached cost and tell the recipe dashboards.
	for _, recipe := range recipes {
		cost, err := models.ComputeRecipeCost(tx, businessId, recipe)
		if err != nil {
			return nil, err
		}
		if cost.Equal(recipe.CostPerUnit) {
			continue
		}
		err = tx.Model(&models.Recipe{}).Where("id = ?", recipe.ID).
			Update("cost_per_unit", cost).Error
		if err != nil {
			return nil, err
		}
		event := BuildEvent(ctx, businessId, models.EventKindRecipeCostChanged, "batch_costs_shifted")
		event.RecipeId = recipe.ID
		if err := EnqueueEvent(tx, event); err != nil {
			return nil, err
		}
	}

	event := BuildEvent(ctx, businessId, models.EventKindOrderInventoryProcessed, "fulfilled")
	event.OrderId = orderId
	if err := EnqueueEvent(tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return result, nil
}
