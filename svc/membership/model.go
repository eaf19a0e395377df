// Package membership holds the domain model shared by the reconciler, the
// download gate and the checkout orchestrator: subscriptions and their
// entitlement policy, billing periods, downloads, bookings and profiles.
package membership

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultDownloadLimit is the number of new downloads allowed per period.
	DefaultDownloadLimit = 3
	// DefaultPeriodLength is the window synthesized for missing or invalid periods.
	DefaultPeriodLength = 30 * 24 * time.Hour
	// DefaultPlanID is used when a subscription carries no plan metadata.
	DefaultPlanID = "monthly-membership"
)

// Status mirrors the provider subscription status.
type Status string

const (
	StatusActive     Status = "active"
	StatusCanceled   Status = "canceled"
	StatusPastDue    Status = "past_due"
	StatusTrialing   Status = "trialing"
	StatusIncomplete Status = "incomplete"
)

// entitledStatuses is the single entitlement policy: only active
// subscriptions unlock downloads and the member dashboard.
var entitledStatuses = []Status{StatusActive}

// Entitled reports whether a subscription in status s grants access.
func (s Status) Entitled() bool {
	for _, e := range entitledStatuses {
		if s == e {
			return true
		}
	}
	return false
}

// EntitledStatuses returns the statuses that grant access, for store queries.
func EntitledStatuses() []Status {
	out := make([]Status, len(entitledStatuses))
	copy(out, entitledStatuses)
	return out
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCanceled, StatusPastDue, StatusTrialing, StatusIncomplete:
		return true
	}
	return false
}

// ParseStatus maps a provider status string onto Status. Provider-specific
// values without a local equivalent collapse onto the closest one.
func ParseStatus(raw string) Status {
	switch raw {
	case "active":
		return StatusActive
	case "canceled", "cancelled", "incomplete_expired":
		return StatusCanceled
	case "past_due", "unpaid", "paused":
		return StatusPastDue
	case "trialing":
		return StatusTrialing
	default:
		return StatusIncomplete
	}
}

// Period is a billing window. End is always after Start once normalized.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether End is strictly after Start.
func (p Period) Valid() bool {
	return !p.Start.IsZero() && p.End.After(p.Start)
}

// Equal compares both bounds as instants.
func (p Period) Equal(o Period) bool {
	return p.Start.Equal(o.Start) && p.End.Equal(o.End)
}

type Profile struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	IsAdmin    bool      `json:"is_admin"`
	CustomerID string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Subscription struct {
	ID                     uuid.UUID `json:"id"`
	UserID                 uuid.UUID `json:"user_id"`
	CustomerID             string    `json:"-"`
	ProviderSubscriptionID string    `json:"-"`
	Status                 Status    `json:"status"`
	PlanID                 string    `json:"plan_id"`
	Period                 Period    `json:"current_period"`
	CancelAtPeriodEnd      bool      `json:"cancel_at_period_end"`
	DownloadsUsed          int       `json:"downloads_used"`
	DownloadsLimit         int       `json:"downloads_limit"`
	// FolderPermissionID is the file-sharing permission granted on the
	// shared root folder when the subscription became active.
	FolderPermissionID string    `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Remaining returns the number of new downloads left this period.
func (s Subscription) Remaining() int {
	return max(s.DownloadsLimit-s.DownloadsUsed, 0)
}

type ResourceType string

const (
	ResourcePDF   ResourceType = "pdf"
	ResourceAudio ResourceType = "audio"
	ResourceVideo ResourceType = "video"
)

type Resource struct {
	ID              uuid.UUID    `json:"id"`
	Title           string       `json:"title"`
	Slug            string       `json:"slug"`
	Description     string       `json:"description,omitempty"`
	Type            ResourceType `json:"type"`
	FileURL         string       `json:"-"`
	ThumbnailURL    string       `json:"thumbnail_url,omitempty"`
	DurationMinutes *int         `json:"duration_minutes,omitempty"`
	FileSizeBytes   *int64       `json:"file_size_bytes,omitempty"`
	CategoryID      *uuid.UUID   `json:"category_id,omitempty"`
	IsPublished     bool         `json:"is_published"`
	CreatedAt       time.Time    `json:"created_at"`
}

type Category struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	SortOrder   int       `json:"sort_order"`
}

// Download marks a resource as unlocked for a user. PermissionID is empty
// when no grant was recorded.
type Download struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	ResourceID   uuid.UUID `json:"resource_id"`
	DownloadedAt time.Time `json:"downloaded_at"`
	Period       Period    `json:"billing_period"`
	FileID       string    `json:"-"`
	PermissionID string    `json:"-"`
}

// UnlockedResource is a download joined with its resource for listing.
type UnlockedResource struct {
	Download Download `json:"download"`
	Resource Resource `json:"resource"`
}

// Booking records a paid one-time purchase.
type Booking struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	ProductID       string    `json:"product_id"`
	SessionID       string    `json:"-"`
	PaymentIntentID string    `json:"-"`
	AmountTotal     int64     `json:"amount_total"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}
