package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/config"
	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	"bitbucket.org/mmdatafocus/kitchen_backend/workflow"
	"github.com/shopspring/decimal"
)

func TestConsumeDrainsEarliestExpiryAndRaisesAlerts(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "kitchen_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	businessID := "biz-integration-1"
	ctx = utils.SetBusinessIdInContext(ctx, businessID)

	material, err := models.CreateMaterial(ctx, &models.NewMaterial{
		Name:               "Chicken Breast",
		StockUnit:          "kg",
		RecipeUnit:         "g",
		UnitConversionRate: decimal.NewFromInt(1000),
		MinimumStockLevel:  decimal.NewFromInt(10),
		IsPerishable:       utils.NewTrue(),
	})
	if err != nil {
		t.Fatalf("CreateMaterial: %v", err)
	}

	now := time.Now().UTC()
	soon := now.AddDate(0, 0, 1)
	later := now.AddDate(0, 0, 10)

	batchA, err := models.ReceiveStockBatch(ctx, &models.NewStockBatch{
		MaterialId:   material.ID,
		BatchNumber:  "A",
		ReceivedDate: now.AddDate(0, 0, -3),
		ExpiryDate:   &soon,
		Qty:          decimal.NewFromInt(5),
		UnitCost:     decimal.NewFromInt(7),
	})
	if err != nil {
		t.Fatalf("ReceiveStockBatch A: %v", err)
	}
	batchB, err := models.ReceiveStockBatch(ctx, &models.NewStockBatch{
		MaterialId:   material.ID,
		BatchNumber:  "B",
		ReceivedDate: now.AddDate(0, 0, -1),
		ExpiryDate:   &later,
		Qty:          decimal.NewFromInt(10),
		UnitCost:     decimal.NewFromInt(8),
	})
	if err != nil {
		t.Fatalf("ReceiveStockBatch B: %v", err)
	}

	db := config.GetDB()

	// A material id that was never created is a not-found, not empty stock.
	tx := db.WithContext(ctx).Begin()
	_, err = workflow.ConsumeMaterial(tx, workflow.ConsumeInput{
		BusinessId: businessID,
		MaterialId: material.ID + 1000,
		Qty:        decimal.NewFromInt(1),
		Reference:  "ORDER-0",
	})
	tx.Rollback()
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected not-found for an unknown material, got %v", err)
	}

	tx = db.WithContext(ctx).Begin()
	takes, err := workflow.ConsumeMaterial(tx, workflow.ConsumeInput{
		BusinessId: businessID,
		MaterialId: material.ID,
		Qty:        decimal.NewFromInt(12),
		Reference:  "ORDER-1",
	})
	if err != nil {
		tx.Rollback()
		t.Fatalf("ConsumeMaterial: %v", err)
	}
	if _, err := workflow.ReEvaluateMaterialAlerts(tx, businessID, material.ID, now); err != nil {
		tx.Rollback()
		t.Fatalf("ReEvaluateMaterialAlerts: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit: %v", err)
	}

	if len(takes) != 2 {
		t.Fatalf("expected 2 takes, got %d", len(takes))
	}
	if takes[0].StockBatchId != batchA.ID || !takes[0].QtyTaken.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("earliest-expiry batch must drain first: %+v", takes[0])
	}
	if takes[1].StockBatchId != batchB.ID || !takes[1].QtyTaken.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("remainder must come from batch B: %+v", takes[1])
	}

	var a, b models.StockBatch
	if err := db.First(&a, batchA.ID).Error; err != nil {
		t.Fatalf("reload batch A: %v", err)
	}
	if err := db.First(&b, batchB.ID).Error; err != nil {
		t.Fatalf("reload batch B: %v", err)
	}
	if !a.RemainingQty.IsZero() || !b.RemainingQty.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("post-state wrong: A=%s B=%s", a.RemainingQty, b.RemainingQty)
	}

	var m models.Material
	if err := db.First(&m, material.ID).Error; err != nil {
		t.Fatalf("reload material: %v", err)
	}
	if !m.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("material quantity = %s, want 3 (sum of remainders)", m.Quantity)
	}

	// 3 left against a minimum of 10: low_stock must be unresolved exactly once,
	// even after a second evaluation.
	tx = db.WithContext(ctx).Begin()
	if _, err := workflow.ReEvaluateMaterialAlerts(tx, businessID, material.ID, now); err != nil {
		tx.Rollback()
		t.Fatalf("second evaluation: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit: %v", err)
	}

	var lowStock int64
	err = db.Model(&models.StockAlert{}).
		Where("business_id = ? AND material_id = ? AND alert_type = ? AND active = 1",
			businessID, material.ID, models.AlertTypeLowStock).
		Count(&lowStock).Error
	if err != nil {
		t.Fatalf("count alerts: %v", err)
	}
	if lowStock != 1 {
		t.Fatalf("expected exactly 1 unresolved low_stock alert, got %d", lowStock)
	}

	// Facts are append-only: one row per touched batch, referencing the order.
	var facts int64
	err = db.Model(&models.BatchConsumption{}).
		Where("business_id = ? AND material_id = ? AND reference = ?", businessID, material.ID, "ORDER-1").
		Count(&facts).Error
	if err != nil {
		t.Fatalf("count facts: %v", err)
	}
	if facts != 2 {
		t.Fatalf("expected 2 consumption facts, got %d", facts)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("kitchen-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("kitchen-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=kitchen_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
