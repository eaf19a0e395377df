package reconciler

import (
	"context"

	"github.com/google/uuid"

	"github.com/Yashkondane/soulhome-official/svc/membership"
)

// Store is the persistence the reconciler needs. Implementations return the
// membership storage errors: ErrProfileNotFound and ErrSubscriptionNotFound
// for missing rows, ErrAlreadyExists when the provider subscription id (or a
// booking session id) is already stored.
type Store interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (membership.Profile, error)
	GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (membership.Subscription, error)
	CreateSubscription(ctx context.Context, sub membership.Subscription) error
	// UpdateSubscription writes the mirrored provider fields of sub. The
	// usage counter is left alone unless resetUsage is set, in which case it
	// is zeroed. An empty FolderPermissionID keeps the stored one.
	UpdateSubscription(ctx context.Context, sub membership.Subscription, resetUsage bool) error
	ListEntitledSubscriptions(ctx context.Context, userID uuid.UUID) ([]membership.Subscription, error)
	// ListGrantedDownloads returns the user's downloads that carry a
	// permission id.
	ListGrantedDownloads(ctx context.Context, userID uuid.UUID) ([]membership.Download, error)
	CreateBooking(ctx context.Context, b membership.Booking) error
}
