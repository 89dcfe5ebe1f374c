package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/config"
	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	"bitbucket.org/mmdatafocus/kitchen_backend/workflow"
)

// One-shot sweep runner for environments without Cloud Scheduler, and for
// manual replays after an incident.
func main() {
	businessID := flag.String("business-id", "", "Business to sweep (required).")
	kind := flag.String("kind", "expiry", "Sweep to run: expiry, stock-levels, dashboard or rollover.")
	windowDays := flag.Int("window-days", models.DefaultExpiryWindowDays, "Expiry window in days (expiry sweep only).")
	period := flag.String("period", "", "Rollover period (YYYY-MM). Defaults to the month that just closed.")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "-business-id is required")
		os.Exit(1)
	}

	// Explicit DB connect (config no longer connects DB in init()).
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx := utils.SetBusinessIdInContext(context.Background(), strings.TrimSpace(*businessID))

	var (
		run *models.MonitoringRun
		err error
	)
	switch strings.TrimSpace(*kind) {
	case "expiry":
		run, err = workflow.RunDailyExpiryCheck(ctx, *windowDays)
	case "stock-levels":
		run, err = workflow.RunStockLevelSweep(ctx)
	case "dashboard":
		run, err = workflow.RunDashboardRefresh(ctx)
	case "rollover":
		p := strings.TrimSpace(*period)
		if p == "" {
			p = time.Now().UTC().AddDate(0, -1, 0).Format("2006-01")
		}
		run, err = workflow.RunMonthlyRollover(ctx, p)
	default:
		fmt.Fprintf(os.Stderr, "unknown sweep kind %q\n", *kind)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.Marshal(run)
	fmt.Println(string(out))
}
