package workflow

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ErrIdempotencyInProgress means another worker currently holds the STARTED
// row for this message. The handler maps it to a retryable response.
var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// A STARTED row older than this is treated as an abandoned claim (worker
// crashed or was preempted) and may be taken over.
const staleClaimAfter = 5 * time.Minute

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// BeginIdempotency claims (businessId, handlerName, messageId) by inserting a
// STARTED row. skip=true means the message already SUCCEEDED and the caller
// must not run the handler again. A live STARTED claim by another worker
// surfaces as ErrIdempotencyInProgress; FAILED and stale STARTED rows are
// reclaimed in place so the unique key keeps exactly one row per message.
func BeginIdempotency(tx *gorm.DB, businessId, handlerName, messageId string) (skip bool, err error) {
	insertErr := tx.Create(&models.IdempotencyKey{
		BusinessId:  businessId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}).Error
	if insertErr == nil {
		return false, nil
	}
	if !isDuplicateKeyErr(insertErr) {
		return false, insertErr
	}

	var existing models.IdempotencyKey
	err = tx.Where("business_id = ? AND handler_name = ? AND message_id = ?",
		businessId, handlerName, messageId).First(&existing).Error
	if err != nil {
		return false, err
	}

	if existing.Status == models.IdempotencyStatusSucceeded {
		return true, nil
	}
	if existing.Status == models.IdempotencyStatusStarted && time.Since(existing.UpdatedAt) < staleClaimAfter {
		return false, ErrIdempotencyInProgress
	}
	return false, tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func MarkIdempotencySucceeded(tx *gorm.DB, businessId, handlerName, messageId string) error {
	return setIdempotencyStatus(tx, businessId, handlerName, messageId, models.IdempotencyStatusSucceeded, nil)
}

func MarkIdempotencyFailed(tx *gorm.DB, businessId, handlerName, messageId string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return setIdempotencyStatus(tx, businessId, handlerName, messageId, models.IdempotencyStatusFailed, &msg)
}

func setIdempotencyStatus(tx *gorm.DB, businessId, handlerName, messageId string, status models.IdempotencyStatus, lastError *string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("business_id = ? AND handler_name = ? AND message_id = ?", businessId, handlerName, messageId).
		Updates(map[string]interface{}{"status": status, "last_error": lastError}).Error
}
