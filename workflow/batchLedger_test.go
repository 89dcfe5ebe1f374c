package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the allocation
// semantics; ConsumeMaterial itself only applies the plan row by row, so
// DB-backed integration tests add locking coverage, not ordering coverage.

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func datePtr(t time.Time) *time.Time { return &t }

func TestAllocateBatches_EarliestExpiryFirst(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	batches := []models.StockBatch{
		{ID: 1, RemainingQty: d("5"), ExpiryDate: datePtr(now.AddDate(0, 0, 1)), ReceivedDate: now},
		{ID: 2, RemainingQty: d("10"), ExpiryDate: datePtr(now.AddDate(0, 0, 10)), ReceivedDate: now},
	}

	takes, err := AllocateBatches(7, batches, d("12"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(takes) != 2 {
		t.Fatalf("expected 2 takes, got %d", len(takes))
	}
	if takes[0].StockBatchId != 1 || !takes[0].QtyTaken.Equal(d("5")) {
		t.Fatalf("first take should drain batch 1: got batch %d qty %s", takes[0].StockBatchId, takes[0].QtyTaken)
	}
	if takes[1].StockBatchId != 2 || !takes[1].QtyTaken.Equal(d("7")) {
		t.Fatalf("second take should cover the rest from batch 2: got batch %d qty %s", takes[1].StockBatchId, takes[1].QtyTaken)
	}
}

func TestAllocateBatches_NoExpirySortsLast(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	batches := []models.StockBatch{
		{ID: 1, RemainingQty: d("4"), ExpiryDate: nil, ReceivedDate: now.AddDate(0, 0, -30)},
		{ID: 2, RemainingQty: d("4"), ExpiryDate: datePtr(now.AddDate(0, 0, 20)), ReceivedDate: now},
	}

	takes, err := AllocateBatches(1, batches, d("5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Batch 1 was received a month earlier, but the dated batch still wins.
	if takes[0].StockBatchId != 2 {
		t.Fatalf("dated batch must be drained before the undated one, got batch %d first", takes[0].StockBatchId)
	}
	if takes[1].StockBatchId != 1 || !takes[1].QtyTaken.Equal(d("1")) {
		t.Fatalf("expected 1 unit from the undated batch, got batch %d qty %s", takes[1].StockBatchId, takes[1].QtyTaken)
	}
}

func TestAllocateBatches_ReceivedDateBreaksExpiryTies(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	expiry := datePtr(now.AddDate(0, 0, 5))
	batches := []models.StockBatch{
		{ID: 9, RemainingQty: d("3"), ExpiryDate: expiry, ReceivedDate: now.AddDate(0, 0, -1)},
		{ID: 3, RemainingQty: d("3"), ExpiryDate: expiry, ReceivedDate: now.AddDate(0, 0, -4)},
	}

	takes, err := AllocateBatches(1, batches, d("4"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if takes[0].StockBatchId != 3 {
		t.Fatalf("older received batch must be taken first, got batch %d", takes[0].StockBatchId)
	}
}

func TestAllocateBatches_SkipsDrainedBatches(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	batches := []models.StockBatch{
		{ID: 1, RemainingQty: decimal.Zero, ExpiryDate: datePtr(now.AddDate(0, 0, 1)), ReceivedDate: now},
		{ID: 2, RemainingQty: d("6"), ExpiryDate: datePtr(now.AddDate(0, 0, 3)), ReceivedDate: now},
	}

	takes, err := AllocateBatches(1, batches, d("6"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(takes) != 1 || takes[0].StockBatchId != 2 {
		t.Fatalf("drained batch must not appear in the plan: %+v", takes)
	}
}

func TestAllocateBatches_InsufficientStockCarriesShortfall(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	batches := []models.StockBatch{
		{ID: 1, RemainingQty: d("2.5"), ExpiryDate: datePtr(now.AddDate(0, 0, 2)), ReceivedDate: now},
		{ID: 2, RemainingQty: d("1.5"), ReceivedDate: now},
	}

	takes, err := AllocateBatches(42, batches, d("10"))
	if !utils.IsInsufficientStock(err) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	ise := err.(*utils.InsufficientStockError)
	if ise.MaterialId != 42 {
		t.Fatalf("error should name the material, got %d", ise.MaterialId)
	}
	if !ise.Available.Equal(d("4")) || !ise.Shortfall().Equal(d("6")) {
		t.Fatalf("expected available=4 shortfall=6, got available=%s shortfall=%s", ise.Available, ise.Shortfall())
	}

	// The partial plan still drains everything for AllowPartial callers.
	total := decimal.Zero
	for _, take := range takes {
		total = total.Add(take.QtyTaken)
	}
	if !total.Equal(d("4")) {
		t.Fatalf("partial plan should cover all available stock, covered %s", total)
	}
}

func TestAllocateBatches_ConservesRequestedQuantity(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	batches := []models.StockBatch{
		{ID: 1, RemainingQty: d("3.25"), ExpiryDate: datePtr(now.AddDate(0, 0, 1)), ReceivedDate: now},
		{ID: 2, RemainingQty: d("7.75"), ExpiryDate: datePtr(now.AddDate(0, 0, 2)), ReceivedDate: now},
		{ID: 3, RemainingQty: d("100"), ReceivedDate: now},
	}

	requested := d("9.5")
	takes, err := AllocateBatches(1, batches, requested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total := decimal.Zero
	for _, take := range takes {
		if take.QtyTaken.IsNegative() || take.QtyTaken.IsZero() {
			t.Fatalf("every take must be positive, got %s from batch %d", take.QtyTaken, take.StockBatchId)
		}
		total = total.Add(take.QtyTaken)
	}
	if !total.Equal(requested) {
		t.Fatalf("takes must sum to the requested quantity: %s != %s", total, requested)
	}
}

func TestClassifyWindowBounds(t *testing.T) {
	// DaysUntil is the sole day arithmetic used by the expiry classifiers and
	// the alert engine; pin its boundary behavior.
	today := time.Date(2026, 9, 1, 15, 30, 0, 0, time.UTC)
	cases := []struct {
		expiry time.Time
		days   int
	}{
		{time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC), 0},
		{time.Date(2026, 9, 3, 23, 0, 0, 0, time.UTC), 2},
		{time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC), 7},
		{time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC), -1},
	}
	for _, tc := range cases {
		if got := utils.DaysUntil(today, tc.expiry); got != tc.days {
			t.Fatalf("DaysUntil(%s) = %d, want %d", tc.expiry, got, tc.days)
		}
	}
}
