package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/config"
	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxPublishBackoff = 10 * time.Minute

// OutboxDispatcher drains BroadcastRecord rows to Pub/Sub. Multiple replicas
// may run concurrently: claiming uses FOR UPDATE SKIP LOCKED plus a
// PROCESSING+locked_at lease, so each row is published by at most one
// dispatcher at a time and a crashed dispatcher's rows are reclaimed after
// LockTimeout.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *OutboxDispatcher) dispatchOnce(ctx context.Context) {
	if d.DB == nil {
		return
	}
	now := time.Now().UTC()
	claimed, err := d.claimBatch(ctx, now)
	if err != nil {
		return
	}
	for _, rec := range claimed {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		pubID, pubErr := config.PublishBroadcastWithResult(ctx, rec.Channel, rec.Payload)
		if pubErr != nil {
			d.settleFailed(ctx, rec, pubErr)
			continue
		}
		d.settleSent(ctx, rec.ID, pubID, now)
	}
}

// claimBatch leases up to BatchSize ready rows under this dispatcher's id.
// Ready means PENDING or FAILED with the backoff elapsed, or PROCESSING whose
// lease expired. Rows already past MaxAttempts are flipped to DEAD inside the
// same transaction instead of being leased again.
func (d *OutboxDispatcher) claimBatch(ctx context.Context, now time.Time) ([]models.BroadcastRecord, error) {
	staleBefore := now.Add(-d.LockTimeout)
	var claimed []models.BroadcastRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now, models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				if err := markOutboxDead(tx, claimed[i].ID, &msg); err != nil {
					return err
				}
				continue
			}
			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].PublishAttempts = claimed[i].PublishAttempts + 1
			if err := tx.Model(&models.BroadcastRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          &now,
				"locked_by":          &d.DispatcherID,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

func (d *OutboxDispatcher) settleSent(ctx context.Context, recordID int, pubsubMsgID string, now time.Time) {
	id := pubsubMsgID
	_ = d.DB.WithContext(ctx).Model(&models.BroadcastRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &now,
			"pub_sub_message_id": &id,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
}

func (d *OutboxDispatcher) settleFailed(ctx context.Context, rec models.BroadcastRecord, pubErr error) {
	db := d.DB.WithContext(ctx)
	msg := pubErr.Error()

	if d.MaxAttempts > 0 && rec.PublishAttempts >= d.MaxAttempts {
		_ = markOutboxDead(db, rec.ID, &msg)
		d.logPublishError(rec, "outbox publish moved to DEAD after max attempts", pubErr, nil)
		return
	}

	next := time.Now().UTC().Add(d.backoffFor(rec.PublishAttempts))
	_ = db.Model(&models.BroadcastRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
	d.logPublishError(rec, "outbox publish failed", pubErr, &next)
}

// backoffFor doubles InitialBackoff per prior attempt, capped at
// maxPublishBackoff.
func (d *OutboxDispatcher) backoffFor(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxPublishBackoff {
			return maxPublishBackoff
		}
	}
	return backoff
}

func markOutboxDead(db *gorm.DB, recordID int, lastError *string) error {
	return db.Model(&models.BroadcastRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusDead,
			"last_publish_error": lastError,
			"next_attempt_at":    nil,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
}

func (d *OutboxDispatcher) logPublishError(rec models.BroadcastRecord, message string, err error, next *time.Time) {
	if d.Logger == nil {
		return
	}
	fields := logrus.Fields{
		"field":       "OutboxDispatcher",
		"business_id": rec.BusinessId,
		"record_id":   rec.ID,
		"attempt":     rec.PublishAttempts,
	}
	if next != nil {
		fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
	}
	d.Logger.WithFields(fields).Error(message + ": " + fmt.Sprintf("%v", err))
}
