package workflow

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
)

// alertKeyFields reads the uniq_active_alert members off the model's gorm
// tags, so these tests follow the declared schema instead of a copy of it.
func alertKeyFields(t *testing.T) []reflect.StructField {
	t.Helper()
	typ := reflect.TypeOf(models.StockAlert{})
	var fields []reflect.StructField
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if strings.Contains(f.Tag.Get("gorm"), "uniqueIndex:uniq_active_alert") {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		t.Fatal("uniq_active_alert is not declared on StockAlert")
	}
	return fields
}

// MySQL unique indexes skip any row holding a NULL key member. The dedup
// scheme depends on that exactly once: Active flips to NULL on resolution so
// history rows never conflict. Every other member has to be NOT NULL, or
// duplicate inserts of material-level alerts (batch id 0) would slip past the
// index and pile up unresolved rows.
func TestStockAlertUniqueKey_OnlyActiveIsNullable(t *testing.T) {
	for _, f := range alertKeyFields(t) {
		tag := f.Tag.Get("gorm")
		if f.Name == "Active" {
			if strings.Contains(tag, "not null") {
				t.Fatalf("Active must stay nullable, resolution flips it to NULL")
			}
			continue
		}
		if f.Type.Kind() == reflect.Ptr {
			t.Fatalf("unique key member %s must not be a pointer type, got %s", f.Name, f.Type)
		}
		if !strings.Contains(tag, "not null") {
			t.Fatalf("unique key member %s must be NOT NULL, tag is %q", f.Name, tag)
		}
	}
}

// fakeAlertTable enforces uniq_active_alert the way InnoDB does: two rows
// conflict only when every key member is equal and none of them is NULL.
// It hands losing inserts the same 1062 the real driver would.
type fakeAlertTable struct {
	fields []reflect.StructField
	rows   []models.StockAlert
}

func (ft *fakeAlertTable) conflicts(a, b models.StockAlert) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	for _, f := range ft.fields {
		fa, fb := va.FieldByIndex(f.Index), vb.FieldByIndex(f.Index)
		if fa.Kind() == reflect.Ptr {
			if fa.IsNil() || fb.IsNil() {
				return false
			}
			fa, fb = fa.Elem(), fb.Elem()
		}
		if fa.Interface() != fb.Interface() {
			return false
		}
	}
	return true
}

func (ft *fakeAlertTable) create(alert models.StockAlert) error {
	for i := range ft.rows {
		if ft.conflicts(ft.rows[i], alert) {
			return &mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry for key 'uniq_active_alert'"}
		}
	}
	alert.ID = len(ft.rows) + 1
	ft.rows = append(ft.rows, alert)
	return nil
}

// apply runs the trigger and resolve lists with the same insert-or-1062 and
// flip-active-to-NULL sequencing ApplyAlertTransitions issues against MySQL.
func (ft *fakeAlertTable) apply(businessId string, materialId int, triggers []AlertCandidate, resolves []AlertResolution) []models.StockAlert {
	now := time.Now().UTC()
	var created []models.StockAlert
	for _, tr := range triggers {
		alert := models.StockAlert{
			BusinessId:     businessId,
			MaterialId:     materialId,
			StockBatchId:   tr.StockBatchId,
			AlertType:      tr.AlertType,
			Active:         utils.NewTrue(),
			Severity:       tr.Severity,
			ThresholdValue: tr.Threshold,
			ObservedValue:  tr.Observed,
			Message:        tr.Message,
			IsResolved:     utils.NewFalse(),
		}
		if err := ft.create(alert); err != nil {
			if isDuplicateKeyErr(err) {
				continue
			}
			panic(err)
		}
		created = append(created, alert)
	}
	for _, r := range resolves {
		for i := range ft.rows {
			row := &ft.rows[i]
			if row.BusinessId != businessId || row.MaterialId != materialId ||
				row.StockBatchId != r.StockBatchId || row.AlertType != r.AlertType || row.Active == nil {
				continue
			}
			row.Active = nil
			row.IsResolved = utils.NewTrue()
			row.ResolvedAt = &now
			row.ResolvedBy = nil
		}
	}
	return created
}

func (ft *fakeAlertTable) unresolved(alertType models.AlertType) int {
	n := 0
	for i := range ft.rows {
		if ft.rows[i].AlertType == alertType && ft.rows[i].Active != nil {
			n++
		}
	}
	return n
}

func TestApplyAlertTransitions_ReEvaluationKeepsOneUnresolved(t *testing.T) {
	table := &fakeAlertTable{fields: alertKeyFields(t)}
	m := material("3", "10", "0")

	for i := 0; i < 3; i++ {
		triggers, resolves := EvaluateMaterialAlerts(m)
		created := table.apply("biz-1", m.ID, triggers, resolves)
		if i == 0 && len(created) != 1 {
			t.Fatalf("first evaluation must create the alert, got %d", len(created))
		}
		if i > 0 && len(created) != 0 {
			t.Fatalf("evaluation %d against unchanged state created %d alerts", i+1, len(created))
		}
	}
	if got := table.unresolved(models.AlertTypeLowStock); got != 1 {
		t.Fatalf("expected exactly 1 unresolved low_stock row, got %d", got)
	}
}

func TestApplyAlertTransitions_ResolveThenRetriggerKeepsHistory(t *testing.T) {
	table := &fakeAlertTable{fields: alertKeyFields(t)}

	// Low stock fires, replenishment clears it, then it fires again.
	for _, qty := range []string{"3", "25", "4"} {
		m := material(qty, "10", "0")
		triggers, resolves := EvaluateMaterialAlerts(m)
		table.apply("biz-1", m.ID, triggers, resolves)
	}

	if got := table.unresolved(models.AlertTypeLowStock); got != 1 {
		t.Fatalf("expected 1 unresolved low_stock row after re-trigger, got %d", got)
	}
	resolved := 0
	for i := range table.rows {
		row := table.rows[i]
		if row.AlertType == models.AlertTypeLowStock && row.Active == nil {
			if row.IsResolved == nil || !*row.IsResolved || row.ResolvedAt == nil || row.ResolvedBy != nil {
				t.Fatalf("resolved row %d missing resolution stamps", row.ID)
			}
			resolved++
		}
	}
	if resolved != 1 {
		t.Fatalf("expected the resolved row to stay as history, got %d", resolved)
	}
}
