package models

import (
	"log"

	"bitbucket.org/mmdatafocus/kitchen_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Supplier{},
		&Material{}, &StockBatch{},
		&Product{}, &SavedDiscount{},
		&Recipe{}, &RecipeDetail{},
		&Order{}, &OrderItem{},
		&StockAlert{},
		&BatchConsumption{}, &StockClosing{},
		&BroadcastRecord{},
		&IdempotencyKey{},
		&MonitoringRun{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
