package workflow

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"bitbucket.org/mmdatafocus/kitchen_backend/utils"
	"gorm.io/gorm"
)

// BuildEvent assembles a broadcast payload with the fixed wire schema. The
// correlation id is taken from ctx when present so a dashboard can stitch
// together every event of one request.
func BuildEvent(ctx context.Context, businessId string, kind models.EventKind, changeType string) models.BroadcastEvent {
	event := models.BroadcastEvent{
		EventKind:  kind,
		BusinessId: businessId,
		ChangeType: changeType,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		event.CorrelationId = correlationId
	}
	return event
}

// EnqueueEvent writes one outbox row on the caller's transaction. The row is
// invisible to the dispatcher until the transaction commits, and a rolled-back
// transaction never broadcasts, so subscribers only ever see durable state.
func EnqueueEvent(tx *gorm.DB, event models.BroadcastEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	record := models.BroadcastRecord{
		BusinessId:    event.BusinessId,
		EventKind:     event.EventKind,
		Channel:       event.EventKind.BroadcastChannel(),
		Payload:       payload,
		CorrelationId: event.CorrelationId,
		PublishStatus: models.OutboxPublishStatusPending,
	}
	return tx.Create(&record).Error
}
