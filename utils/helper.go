package utils

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/kitchen_backend/appctx"
	"bitbucket.org/mmdatafocus/kitchen_backend/config"
	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

var CountryCode = "MM"

var validate = validator.New()

// ValidateInput runs struct-tag validation on an input struct.
func ValidateInput(input interface{}) error {
	if err := validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %s", ErrorValidation, err.Error())
	}
	return nil
}

func IsValidEmail(email string) bool {
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err
	}
	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}
	return nil
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func GetBusinessIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyBusinessId)
}

func SetBusinessIdInContext(ctx context.Context, businessId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyBusinessId, businessId)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, appctx.ContextKeyUserId)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyUserId, userId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyCorrelationId, correlationId)
}

// NormalizeDate truncates t to midnight UTC. Expiry comparisons are whole-day.
func NormalizeDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysUntil returns whole days from today (normalized) until d (normalized).
// Negative means d is in the past.
func DaysUntil(today time.Time, d time.Time) int {
	return int(NormalizeDate(d).Sub(NormalizeDate(today)).Hours() / 24)
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}
	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}
	return dec, nil
}

func obtainLock(ctx context.Context, lockKey string, moduleName string, functionName string) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", lockKey, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(250*time.Millisecond), 20),
	})
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock", lockKey, err)
		return nil, fmt.Errorf("%w: lock not obtained for %s", ErrorConcurrencyConflict, lockKey)
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock", lockKey, err)
		return nil, err
	}
	return lock, nil
}

// MaterialLock serializes the read-allocate-write sequence for one material
// across instances. The returned release func must be deferred by the caller;
// it is held for the whole consumption transaction, not just the read.
func MaterialLock(ctx context.Context, businessId string, materialId int, moduleName string, functionName string) (func(), error) {
	lockKey := fmt.Sprintf("material:%s:%d", businessId, materialId)
	lock, err := obtainLock(ctx, lockKey, moduleName, functionName)
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}

// OrderPricingLock serializes total recomputation for one order so that two
// racing item mutations cannot produce a lost update.
func OrderPricingLock(ctx context.Context, businessId string, orderId int, moduleName string, functionName string) (func(), error) {
	lockKey := fmt.Sprintf("orderpricing:%s:%d", businessId, orderId)
	lock, err := obtainLock(ctx, lockKey, moduleName, functionName)
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release(ctx) }, nil
}
