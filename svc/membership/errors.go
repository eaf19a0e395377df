package membership

import (
	"errors"
	"fmt"
	"time"
)

// Caller-facing failures.
var (
	ErrUnauthenticated              = errors.New("authentication required")
	ErrUnauthorized                 = errors.New("not allowed to access this resource")
	ErrNoActiveSubscription         = errors.New("no active subscription")
	ErrQuotaExceeded                = errors.New("download limit reached for this billing period")
	ErrInvalidResourceConfiguration = errors.New("invalid resource URL configuration")
	ErrGrantFailed                  = errors.New("failed to grant file access")
	ErrRecordFailed                 = errors.New("failed to record download")
	ErrResourceNotFound             = errors.New("resource not found")
	ErrEmailNotFound                = errors.New("user email not found")
	ErrAlreadySubscribed            = errors.New("user already has an active subscription")
	ErrPlanNotFound                 = errors.New("plan not found")
	ErrNoBillingAccount             = errors.New("no billing account for user")
	ErrSessionNotFound              = errors.New("checkout session not found")
)

// Storage outcomes shared by every store implementation.
var (
	ErrProfileNotFound      = errors.New("profile not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrDownloadNotFound     = errors.New("download not found")
	ErrCategoryNotFound     = errors.New("category not found")
	ErrAlreadyExists        = errors.New("record already exists")
	ErrInvalidPeriod        = errors.New("billing period end must be after start")
	ErrInvalidStatus        = errors.New("unknown subscription status")
	// ErrLimitReached is returned by the atomic usage increment when the
	// counter is already at its limit.
	ErrLimitReached = errors.New("usage counter at limit")
)

// QuotaError carries the reset boundary alongside ErrQuotaExceeded.
type QuotaError struct {
	Used     int
	Limit    int
	ResetsAt time.Time
}

func (e *QuotaError) Error() string {
	if e.ResetsAt.IsZero() {
		return fmt.Sprintf("%s (%d/%d)", ErrQuotaExceeded, e.Used, e.Limit)
	}
	return fmt.Sprintf("%s (%d/%d), resets at %s", ErrQuotaExceeded, e.Used, e.Limit, e.ResetsAt.Format(time.RFC3339))
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// ErrorMeta exposes the reset boundary to API responses.
func (e *QuotaError) ErrorMeta() map[string]any {
	meta := map[string]any{"used": e.Used, "limit": e.Limit}
	if !e.ResetsAt.IsZero() {
		meta["resets_at"] = e.ResetsAt.UTC().Format(time.RFC3339)
	}
	return meta
}
