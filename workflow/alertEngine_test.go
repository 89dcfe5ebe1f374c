package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"github.com/shopspring/decimal"
)

func material(qty, min, max string) *models.Material {
	return &models.Material{
		ID:                1,
		Name:              "flour",
		Quantity:          d(qty),
		MinimumStockLevel: d(min),
		MaximumStockLevel: d(max),
	}
}

func triggerTypes(triggers []AlertCandidate) []models.AlertType {
	out := make([]models.AlertType, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, t.AlertType)
	}
	return out
}

func resolvesType(resolves []AlertResolution, alertType models.AlertType) bool {
	for _, r := range resolves {
		if r.AlertType == alertType {
			return true
		}
	}
	return false
}

func TestEvaluateMaterialAlerts_OutOfStockWinsOverLowStock(t *testing.T) {
	triggers, _ := EvaluateMaterialAlerts(material("0", "10", "0"))

	if len(triggers) != 1 || triggers[0].AlertType != models.AlertTypeOutOfStock {
		t.Fatalf("expected only out_of_stock, got %v", triggerTypes(triggers))
	}
	if triggers[0].Severity != models.AlertSeverityCritical {
		t.Fatalf("out_of_stock must be critical, got %s", triggers[0].Severity)
	}
}

func TestEvaluateMaterialAlerts_LowStockAtThreshold(t *testing.T) {
	// quantity == minimum counts as low stock.
	triggers, resolves := EvaluateMaterialAlerts(material("10", "10", "0"))

	if len(triggers) != 1 || triggers[0].AlertType != models.AlertTypeLowStock {
		t.Fatalf("expected low_stock, got %v", triggerTypes(triggers))
	}
	// Positive quantity clears any out_of_stock from an earlier evaluation.
	if !resolvesType(resolves, models.AlertTypeOutOfStock) {
		t.Fatalf("out_of_stock should resolve once quantity is positive")
	}
	if resolvesType(resolves, models.AlertTypeLowStock) {
		t.Fatalf("low_stock cannot trigger and resolve in the same evaluation")
	}
}

func TestEvaluateMaterialAlerts_ZeroMinimumNeverLowStock(t *testing.T) {
	triggers, _ := EvaluateMaterialAlerts(material("1", "0", "0"))
	if len(triggers) != 0 {
		t.Fatalf("no thresholds configured, expected no triggers, got %v", triggerTypes(triggers))
	}
}

func TestEvaluateMaterialAlerts_Overstock(t *testing.T) {
	triggers, _ := EvaluateMaterialAlerts(material("120", "10", "100"))
	if len(triggers) != 1 || triggers[0].AlertType != models.AlertTypeOverstock {
		t.Fatalf("expected overstock, got %v", triggerTypes(triggers))
	}
}

func TestEvaluateMaterialAlerts_ReplenishmentResolves(t *testing.T) {
	// quantity=5, min=10 raises low_stock; replenishing to 12 resolves it.
	triggers, _ := EvaluateMaterialAlerts(material("5", "10", "0"))
	if len(triggers) != 1 || triggers[0].AlertType != models.AlertTypeLowStock {
		t.Fatalf("expected low_stock at qty=5, got %v", triggerTypes(triggers))
	}

	triggers, resolves := EvaluateMaterialAlerts(material("12", "10", "0"))
	if len(triggers) != 0 {
		t.Fatalf("replenished material must not trigger, got %v", triggerTypes(triggers))
	}
	if !resolvesType(resolves, models.AlertTypeLowStock) || !resolvesType(resolves, models.AlertTypeOutOfStock) {
		t.Fatalf("replenishment must resolve low_stock and out_of_stock, got %v", resolves)
	}
}

func TestEvaluateBatchAlerts_ExpiryBands(t *testing.T) {
	today := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	m := material("10", "0", "0")

	cases := []struct {
		daysOut int
		want    models.AlertType
	}{
		{-1, models.AlertTypeExpiredBatch},
		{0, models.AlertTypeExpiryCritical},
		{2, models.AlertTypeExpiryCritical},
		{3, models.AlertTypeExpiryWarning},
		{7, models.AlertTypeExpiryWarning},
	}
	for _, tc := range cases {
		expiry := today.AddDate(0, 0, tc.daysOut)
		batch := &models.StockBatch{ID: 4, BatchNumber: "B-1", RemainingQty: d("2"), ExpiryDate: &expiry}
		triggers, resolves := EvaluateBatchAlerts(m, batch, today)
		if len(triggers) != 1 || triggers[0].AlertType != tc.want {
			t.Fatalf("days_out=%d: expected %s, got %v", tc.daysOut, tc.want, triggerTypes(triggers))
		}
		if triggers[0].StockBatchId != 4 {
			t.Fatalf("batch alerts must carry the batch id")
		}
		// The other two bands of the same batch resolve.
		for _, other := range []models.AlertType{models.AlertTypeExpiredBatch, models.AlertTypeExpiryCritical, models.AlertTypeExpiryWarning} {
			if other == tc.want {
				continue
			}
			if !resolvesType(resolves, other) {
				t.Fatalf("days_out=%d: expected %s to resolve", tc.daysOut, other)
			}
		}
	}
}

func TestEvaluateBatchAlerts_OutsideWindowAndDrained(t *testing.T) {
	today := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	m := material("10", "0", "0")

	farOut := today.AddDate(0, 0, 8)
	batch := &models.StockBatch{ID: 1, RemainingQty: d("2"), ExpiryDate: &farOut}
	triggers, resolves := EvaluateBatchAlerts(m, batch, today)
	if len(triggers) != 0 {
		t.Fatalf("8 days out is outside every band, got %v", triggerTypes(triggers))
	}
	if len(resolves) != 3 {
		t.Fatalf("all three bands should resolve outside the window, got %d", len(resolves))
	}

	soon := today.AddDate(0, 0, 1)
	drained := &models.StockBatch{ID: 2, RemainingQty: decimal.Zero, ExpiryDate: &soon}
	triggers, resolves = EvaluateBatchAlerts(m, drained, today)
	if len(triggers) != 0 || len(resolves) != 3 {
		t.Fatalf("drained batch must only resolve: triggers=%v resolves=%d", triggerTypes(triggers), len(resolves))
	}

	undated := &models.StockBatch{ID: 3, RemainingQty: d("2")}
	triggers, _ = EvaluateBatchAlerts(m, undated, today)
	if len(triggers) != 0 {
		t.Fatalf("undated batch can never expire, got %v", triggerTypes(triggers))
	}
}

func TestEvaluateBatchAlerts_ReEvaluationIsStable(t *testing.T) {
	today := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	m := material("10", "0", "0")
	expiry := today.AddDate(0, 0, 1)
	batch := &models.StockBatch{ID: 1, RemainingQty: d("2"), ExpiryDate: &expiry}

	first, _ := EvaluateBatchAlerts(m, batch, today)
	second, _ := EvaluateBatchAlerts(m, batch, today)
	if len(first) != len(second) || first[0].AlertType != second[0].AlertType {
		t.Fatalf("re-evaluation with unchanged state must decide the same transitions")
	}
}
