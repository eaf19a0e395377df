// Package download implements the entitlement and download gate: it decides
// whether a member may unlock a resource, enforces the per-period quota and
// grants file access exactly once per member and resource.
package download

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Yashkondane/soulhome-official/pkg/logger"
	"github.com/Yashkondane/soulhome-official/pkg/metrics"
	"github.com/Yashkondane/soulhome-official/svc/fileshare"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

// Store is the persistence the gate needs.
type Store interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (membership.Profile, error)
	// GetActiveSubscription returns the user's most recent entitled
	// subscription or membership.ErrSubscriptionNotFound.
	GetActiveSubscription(ctx context.Context, userID uuid.UUID) (membership.Subscription, error)
	GetResource(ctx context.Context, resourceID uuid.UUID) (membership.Resource, error)
	GetDownload(ctx context.Context, userID, resourceID uuid.UUID) (membership.Download, error)
	// RecordDownload inserts the download and increments the usage counter
	// of subscriptionID atomically. It returns membership.ErrAlreadyExists or
	// membership.ErrLimitReached without writing anything.
	RecordDownload(ctx context.Context, d membership.Download, subscriptionID uuid.UUID) error
	ListUnlockedResources(ctx context.Context, userID uuid.UUID) ([]membership.UnlockedResource, error)
}

// Request identifies the resource a member asks for. URL is what the client
// believes the resource link is; the stored resource link is authoritative.
type Request struct {
	UserID     uuid.UUID
	ResourceID uuid.UUID
	URL        string
}

// Result is a successful download decision.
type Result struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Message string `json:"message,omitempty"`
	// Cached is set when the resource was already unlocked and no quota was used.
	Cached    bool `json:"cached"`
	Remaining int  `json:"downloads_remaining"`
}

type Option func(*Gate)

func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithoutCompensation disables the revoke attempted when a grant succeeded
// but the download could not be recorded.
func WithoutCompensation() Option {
	return func(g *Gate) { g.compensate = false }
}

type Gate struct {
	store      Store
	sharer     fileshare.Sharer
	log        *slog.Logger
	now        func() time.Time
	compensate bool
}

func NewGate(store Store, sharer fileshare.Sharer, opts ...Option) *Gate {
	if store == nil {
		panic("download: Store is required")
	}
	if sharer == nil {
		panic("download: fileshare.Sharer is required")
	}
	g := &Gate{
		store:      store,
		sharer:     sharer,
		log:        logger.Discard(),
		now:        time.Now,
		compensate: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(logger.Component("download_gate"))
	return g
}

// RequestDownload runs the gate. Checks happen in order and every failure
// before the grant leaves no side effect:
//
//  1. authenticated user
//  2. entitled subscription
//  3. existing download: free re-access
//  4. quota
//  5. provider file id from the stored resource URL
//  6. grant
//  7. record download and consume quota atomically
func (g *Gate) RequestDownload(ctx context.Context, req Request) (Result, error) {
	if req.UserID == uuid.Nil {
		return g.deny("unauthenticated", membership.ErrUnauthenticated)
	}
	log := g.log.With(logger.UserID(req.UserID), logger.ResourceID(req.ResourceID))

	profile, err := g.store.GetProfile(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, membership.ErrProfileNotFound) {
			return g.deny("unauthenticated", membership.ErrUnauthenticated)
		}
		return Result{}, err
	}

	sub, err := g.store.GetActiveSubscription(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, membership.ErrSubscriptionNotFound) {
			return g.deny("denied", membership.ErrNoActiveSubscription)
		}
		return Result{}, err
	}
	if !sub.Status.Entitled() {
		return g.deny("denied", membership.ErrNoActiveSubscription)
	}

	resource, err := g.store.GetResource(ctx, req.ResourceID)
	if err != nil {
		if errors.Is(err, membership.ErrResourceNotFound) {
			return g.deny("not_found", membership.ErrResourceNotFound)
		}
		return Result{}, err
	}
	if !resource.IsPublished && !profile.IsAdmin {
		return g.deny("not_found", membership.ErrResourceNotFound)
	}
	if req.URL != "" && req.URL != resource.FileURL {
		log.WarnContext(ctx, "requested URL differs from stored resource URL, using stored URL")
	}

	if _, err := g.store.GetDownload(ctx, req.UserID, req.ResourceID); err == nil {
		metrics.DownloadRequestsTotal.WithLabelValues("cached").Inc()
		return Result{
			Success:   true,
			URL:       resource.FileURL,
			Message:   "Already unlocked",
			Cached:    true,
			Remaining: sub.Remaining(),
		}, nil
	} else if !errors.Is(err, membership.ErrDownloadNotFound) {
		return Result{}, err
	}

	if sub.DownloadsUsed >= sub.DownloadsLimit {
		return g.deny("quota_exceeded", quotaError(sub))
	}

	fileID, ok := fileshare.FileIDFromURL(resource.FileURL)
	if !ok {
		log.ErrorContext(ctx, "resource URL has no provider file id")
		return g.deny("invalid_resource", membership.ErrInvalidResourceConfiguration)
	}
	if profile.Email == "" {
		return g.deny("denied", membership.ErrEmailNotFound)
	}

	permID, err := g.sharer.Grant(ctx, fileID, profile.Email)
	if err != nil {
		log.ErrorContext(ctx, "file access grant failed", logger.FileID(fileID), logger.Error(err))
		return g.deny("grant_failed", errors.Join(membership.ErrGrantFailed, err))
	}

	d := membership.Download{
		ID:           uuid.New(),
		UserID:       req.UserID,
		ResourceID:   req.ResourceID,
		DownloadedAt: g.now().UTC(),
		Period:       sub.Period,
		FileID:       fileID,
		PermissionID: permID,
	}
	switch err := g.store.RecordDownload(ctx, d, sub.ID); {
	case err == nil:
	case errors.Is(err, membership.ErrAlreadyExists):
		// A concurrent request for the same resource recorded it first; the
		// grant is idempotent per email so nothing is left dangling.
		return g.cached(resource, sub), nil
	case errors.Is(err, membership.ErrLimitReached):
		// The permission id is shared with any concurrent grant of the same
		// file, so it is only revoked when no download row holds it.
		if _, err := g.store.GetDownload(ctx, req.UserID, req.ResourceID); err == nil {
			return g.cached(resource, sub), nil
		}
		// Another resource consumed the last credit between the check and
		// the insert.
		g.rollbackGrant(ctx, log, fileID, permID)
		sub.DownloadsUsed = sub.DownloadsLimit
		return g.deny("quota_exceeded", quotaError(sub))
	default:
		log.ErrorContext(ctx, "file access granted but download not recorded",
			logger.Critical(),
			slog.Bool("reconciliation_gap", true),
			logger.FileID(fileID),
			slog.String("permission_id", permID),
			logger.Error(err),
		)
		if g.compensate {
			g.rollbackGrant(ctx, log, fileID, permID)
		}
		return g.deny("record_failed", errors.Join(membership.ErrRecordFailed, err))
	}

	metrics.DownloadRequestsTotal.WithLabelValues("granted").Inc()
	log.InfoContext(ctx, "resource unlocked", logger.FileID(fileID), slog.Int("downloads_used", sub.DownloadsUsed+1))
	return Result{
		Success:   true,
		URL:       resource.FileURL,
		Remaining: max(sub.Remaining()-1, 0),
	}, nil
}

func (g *Gate) cached(resource membership.Resource, sub membership.Subscription) Result {
	metrics.DownloadRequestsTotal.WithLabelValues("cached").Inc()
	return Result{Success: true, URL: resource.FileURL, Message: "Already unlocked", Cached: true, Remaining: sub.Remaining()}
}

// Unlocked lists the resources the user has downloaded.
func (g *Gate) Unlocked(ctx context.Context, userID uuid.UUID) ([]membership.UnlockedResource, error) {
	if userID == uuid.Nil {
		return nil, membership.ErrUnauthenticated
	}
	return g.store.ListUnlockedResources(ctx, userID)
}

func (g *Gate) rollbackGrant(ctx context.Context, log *slog.Logger, fileID, permID string) {
	if err := g.sharer.Revoke(ctx, fileID, permID); err != nil {
		log.ErrorContext(ctx, "compensating revoke failed, access remains granted",
			logger.Critical(), logger.FileID(fileID), slog.String("permission_id", permID), logger.Error(err))
		return
	}
	log.WarnContext(ctx, "compensating revoke succeeded", logger.FileID(fileID))
}

func (g *Gate) deny(outcome string, err error) (Result, error) {
	metrics.DownloadRequestsTotal.WithLabelValues(outcome).Inc()
	return Result{}, err
}

func quotaError(sub membership.Subscription) error {
	qe := &membership.QuotaError{Used: sub.DownloadsUsed, Limit: sub.DownloadsLimit}
	if sub.Period.Valid() {
		qe.ResetsAt = sub.Period.End
	}
	return qe
}
