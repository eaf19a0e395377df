// Package reconciler mirrors payment-provider subscriptions into the local
// store and drives file access as subscriptions become entitled or canceled.
//
// Every write is keyed on the provider subscription id, so handling the same
// event twice leaves the store as handling it once. Two concurrent creators
// of the same row are serialized by the store's uniqueness constraint: the
// loser falls back to an update.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Yashkondane/soulhome-official/pkg/logger"
	"github.com/Yashkondane/soulhome-official/pkg/metrics"
	"github.com/Yashkondane/soulhome-official/svc/billing"
	"github.com/Yashkondane/soulhome-official/svc/fileshare"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

// ErrStore wraps local store failures. HandleEvent logs and swallows them;
// ConfirmCheckout returns them.
var ErrStore = errors.New("subscription store operation failed")

// errDropped marks events that cannot be reconciled and must not be retried.
var errDropped = errors.New("event dropped")

// Service reconciles provider state into the local store.
type Service interface {
	// HandleEvent applies a verified webhook event. It returns an error only
	// when a provider call failed and redelivery may succeed.
	HandleEvent(ctx context.Context, event billing.Event) error
	// ConfirmCheckout reconciles a returning checkout session for userID
	// without waiting for the webhook.
	ConfirmCheckout(ctx context.Context, userID uuid.UUID, sessionID string) (Confirmation, error)
}

// Confirmation is the outcome of ConfirmCheckout. Subscription is set for
// paid subscription checkouts, Booking for paid one-time purchases.
type Confirmation struct {
	Session      billing.CheckoutSession
	Subscription *membership.Subscription
	Booking      *membership.Booking
}

// LimitFunc returns the per-period download limit of a plan.
type LimitFunc func(planID string) int

type Option func(*service)

// WithRootFolder grants members reader access on folderID while entitled.
// The folder is shared whole, so it must hold member-wide material only and
// never the gated resources counted by the download quota.
func WithRootFolder(folderID string) Option {
	return func(s *service) { s.rootFolderID = folderID }
}

// WithLimits sets the download limit lookup used for new rows.
func WithLimits(fn LimitFunc) Option {
	return func(s *service) {
		if fn != nil {
			s.limit = fn
		}
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

type service struct {
	store        Store
	provider     billing.Provider
	sharer       fileshare.Sharer
	rootFolderID string
	limit        LimitFunc
	log          *slog.Logger
	now          func() time.Time
}

// NewService panics if a dependency is nil.
func NewService(store Store, provider billing.Provider, sharer fileshare.Sharer, opts ...Option) Service {
	if store == nil {
		panic("reconciler: Store is required")
	}
	if provider == nil {
		panic("reconciler: billing.Provider is required")
	}
	if sharer == nil {
		panic("reconciler: fileshare.Sharer is required")
	}

	s := &service{
		store:    store,
		provider: provider,
		sharer:   sharer,
		limit:    func(string) int { return membership.DefaultDownloadLimit },
		log:      logger.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("reconciler"))
	return s
}

func (s *service) HandleEvent(ctx context.Context, event billing.Event) error {
	log := s.log.With(logger.EventID(event.ID), logger.EventType(event.ProviderType))

	err := s.dispatch(ctx, log, event)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errDropped):
		return nil
	case errors.Is(err, ErrStore):
		log.ErrorContext(ctx, "store failure while reconciling event", logger.Error(err))
		return nil
	default:
		return err
	}
}

func (s *service) dispatch(ctx context.Context, log *slog.Logger, event billing.Event) error {
	switch event.Kind {
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated:
		if event.Subscription == nil {
			log.ErrorContext(ctx, "subscription event without subscription")
			return errDropped
		}
		snap := s.normalize(ctx, log, *event.Subscription)
		_, err := s.apply(ctx, log, snap, uuid.Nil)
		return err

	case billing.EventSubscriptionDeleted:
		if event.Subscription == nil {
			log.ErrorContext(ctx, "subscription event without subscription")
			return errDropped
		}
		return s.cancel(ctx, log, event.Subscription.ID)

	case billing.EventInvoicePaid:
		if event.Subscription == nil || event.Subscription.ID == "" {
			log.DebugContext(ctx, "invoice without subscription ignored")
			return nil
		}
		remote, err := s.provider.GetSubscription(ctx, event.Subscription.ID)
		if err != nil {
			return fmt.Errorf("fetch subscription %s: %w", event.Subscription.ID, err)
		}
		_, err = s.apply(ctx, log, s.normalize(ctx, log, remote), uuid.Nil)
		return err

	case billing.EventInvoiceFailed:
		if event.Subscription == nil || event.Subscription.ID == "" {
			log.DebugContext(ctx, "invoice without subscription ignored")
			return nil
		}
		return s.markPastDue(ctx, log, event.Subscription.ID)

	case billing.EventCheckoutCompleted:
		if event.Checkout == nil {
			log.ErrorContext(ctx, "checkout event without session")
			return errDropped
		}
		userID, ok := event.Checkout.UserID()
		if !ok {
			log.ErrorContext(ctx, "checkout session carries no local user id",
				logger.CustomerID(event.Checkout.CustomerID))
			metrics.ReconcileAnomaliesTotal.WithLabelValues("missing_mapping").Inc()
			return errDropped
		}
		_, err := s.checkoutCompleted(ctx, log, *event.Checkout, userID)
		return err

	default:
		log.DebugContext(ctx, "event ignored")
		return nil
	}
}

func (s *service) ConfirmCheckout(ctx context.Context, userID uuid.UUID, sessionID string) (Confirmation, error) {
	if userID == uuid.Nil {
		return Confirmation{}, membership.ErrUnauthenticated
	}
	if sessionID == "" {
		return Confirmation{}, membership.ErrSessionNotFound
	}
	log := s.log.With(logger.UserID(userID))

	session, err := s.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return Confirmation{}, membership.ErrSessionNotFound
		}
		return Confirmation{}, err
	}

	if err := s.checkOwner(ctx, session, userID); err != nil {
		return Confirmation{}, err
	}

	conf, err := s.checkoutCompleted(ctx, log, session, userID)
	if errors.Is(err, errDropped) {
		return conf, nil
	}
	return conf, err
}

func (s *service) checkOwner(ctx context.Context, session billing.CheckoutSession, userID uuid.UUID) error {
	if owner, ok := session.UserID(); ok {
		if owner != userID {
			return membership.ErrUnauthorized
		}
		return nil
	}
	// Sessions created before user metadata was written: match on customer.
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, membership.ErrProfileNotFound) {
			return membership.ErrUnauthorized
		}
		return errors.Join(ErrStore, err)
	}
	if session.CustomerID == "" || profile.CustomerID != session.CustomerID {
		return membership.ErrUnauthorized
	}
	return nil
}

// checkoutCompleted reconciles a paid session. Subscription checkouts are
// forced active; payment checkouts become bookings.
func (s *service) checkoutCompleted(ctx context.Context, log *slog.Logger, session billing.CheckoutSession, userID uuid.UUID) (Confirmation, error) {
	conf := Confirmation{Session: session}
	if !session.Paid() {
		log.InfoContext(ctx, "checkout session not paid yet", slog.String("session_status", session.Status))
		return conf, nil
	}

	switch session.Mode {
	case billing.ModePayment:
		b, err := s.recordBooking(ctx, log, session, userID)
		if err != nil {
			return conf, err
		}
		conf.Booking = &b
		return conf, nil

	case billing.ModeSubscription:
		var remote billing.Subscription
		switch {
		case session.Subscription != nil:
			remote = *session.Subscription
		case session.SubscriptionID != "":
			var err error
			if remote, err = s.provider.GetSubscription(ctx, session.SubscriptionID); err != nil {
				return conf, fmt.Errorf("fetch subscription %s: %w", session.SubscriptionID, err)
			}
		default:
			log.WarnContext(ctx, "subscription checkout without subscription id")
			return conf, nil
		}
		if remote.CustomerID == "" {
			remote.CustomerID = session.CustomerID
		}
		snap := s.normalize(ctx, log, remote)
		if snap.Status != membership.StatusCanceled {
			snap.Status = membership.StatusActive
		}
		sub, err := s.apply(ctx, log, snap, userID)
		if err != nil {
			return conf, err
		}
		conf.Subscription = &sub
		return conf, nil

	default:
		return conf, nil
	}
}

func (s *service) recordBooking(ctx context.Context, log *slog.Logger, session billing.CheckoutSession, userID uuid.UUID) (membership.Booking, error) {
	b := membership.Booking{
		ID:              uuid.New(),
		UserID:          userID,
		ProductID:       session.Metadata[billing.MetadataProductID],
		SessionID:       session.ID,
		PaymentIntentID: session.PaymentIntentID,
		AmountTotal:     session.AmountTotal,
		Currency:        session.Currency,
		Status:          "paid",
		CreatedAt:       s.now().UTC(),
	}
	err := s.store.CreateBooking(ctx, b)
	switch {
	case err == nil:
		log.InfoContext(ctx, "booking recorded", slog.String("product_id", b.ProductID))
	case errors.Is(err, membership.ErrAlreadyExists):
		log.DebugContext(ctx, "booking already recorded", slog.String("session_id", session.ID))
	default:
		return b, errors.Join(ErrStore, err)
	}
	return b, nil
}

func (s *service) normalize(ctx context.Context, log *slog.Logger, remote billing.Subscription) Snapshot {
	snap := Normalize(remote, s.now())
	for _, a := range snap.Anomalies {
		metrics.ReconcileAnomaliesTotal.WithLabelValues(string(a)).Inc()
		log.WarnContext(ctx, "billing period substituted",
			slog.String("anomaly", string(a)),
			logger.SubscriptionID(remote.ID),
			slog.Int64("period_start", remote.PeriodStart),
			slog.Int64("period_end", remote.PeriodEnd),
			slog.Time("stored_start", snap.Period.Start),
			slog.Time("stored_end", snap.Period.End),
		)
	}
	return snap
}

// apply upserts snap. userHint, when set, is used instead of the customer
// metadata to map a new row onto a local user.
func (s *service) apply(ctx context.Context, log *slog.Logger, snap Snapshot, userHint uuid.UUID) (membership.Subscription, error) {
	log = log.With(logger.SubscriptionID(snap.ProviderSubscriptionID))

	existing, err := s.store.GetSubscriptionByProviderID(ctx, snap.ProviderSubscriptionID)
	switch {
	case err == nil:
		return s.update(ctx, log, existing, snap)
	case errors.Is(err, membership.ErrSubscriptionNotFound):
		return s.create(ctx, log, snap, userHint)
	default:
		return membership.Subscription{}, errors.Join(ErrStore, err)
	}
}

func (s *service) create(ctx context.Context, log *slog.Logger, snap Snapshot, userID uuid.UUID) (membership.Subscription, error) {
	if snap.Status == membership.StatusCanceled {
		log.InfoContext(ctx, "canceled subscription without local row ignored")
		return membership.Subscription{}, errDropped
	}
	// The first time a subscription is seen it enters as active, whatever
	// status the event carries. Later events set the status verbatim.
	if snap.Status != membership.StatusActive {
		log.InfoContext(ctx, "new subscription stored as active", slog.String("provider_status", string(snap.Status)))
		snap.Status = membership.StatusActive
	}

	if userID == uuid.Nil {
		var err error
		if userID, err = s.resolveUser(ctx, log, snap.CustomerID); err != nil {
			return membership.Subscription{}, err
		}
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, membership.ErrProfileNotFound) {
			log.ErrorContext(ctx, "customer maps to unknown local user", logger.UserID(userID), logger.CustomerID(snap.CustomerID))
			metrics.ReconcileAnomaliesTotal.WithLabelValues("missing_mapping").Inc()
			return membership.Subscription{}, errDropped
		}
		return membership.Subscription{}, errors.Join(ErrStore, err)
	}

	now := s.now().UTC()
	sub := membership.Subscription{
		ID:                     uuid.New(),
		UserID:                 userID,
		CustomerID:             snap.CustomerID,
		ProviderSubscriptionID: snap.ProviderSubscriptionID,
		Status:                 snap.Status,
		PlanID:                 snap.PlanID,
		Period:                 snap.Period,
		CancelAtPeriodEnd:      snap.CancelAtPeriodEnd,
		DownloadsLimit:         s.limit(snap.PlanID),
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		if !errors.Is(err, membership.ErrAlreadyExists) {
			return membership.Subscription{}, errors.Join(ErrStore, err)
		}
		// Lost the race against a concurrent creator: merge into its row.
		existing, err := s.store.GetSubscriptionByProviderID(ctx, snap.ProviderSubscriptionID)
		if err != nil {
			return membership.Subscription{}, errors.Join(ErrStore, err)
		}
		log.DebugContext(ctx, "subscription created concurrently, updating instead")
		return s.update(ctx, log, existing, snap)
	}

	log.InfoContext(ctx, "subscription created", logger.UserID(userID), slog.String("status", string(sub.Status)))
	if sub.Status.Entitled() {
		sub = s.activate(ctx, log, sub, profile)
	}
	return sub, nil
}

// resolveUser reads the local user id from the customer metadata.
func (s *service) resolveUser(ctx context.Context, log *slog.Logger, customerID string) (uuid.UUID, error) {
	if customerID == "" {
		log.ErrorContext(ctx, "subscription without customer id dropped")
		metrics.ReconcileAnomaliesTotal.WithLabelValues("missing_mapping").Inc()
		return uuid.Nil, errDropped
	}

	customer, err := s.provider.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			log.ErrorContext(ctx, "customer not found, event dropped", logger.CustomerID(customerID))
			return uuid.Nil, errDropped
		}
		return uuid.Nil, fmt.Errorf("fetch customer %s: %w", customerID, err)
	}
	if customer.Deleted {
		log.ErrorContext(ctx, "customer deleted, event dropped", logger.CustomerID(customerID))
		return uuid.Nil, errDropped
	}

	userID, ok := customer.LocalUserID()
	if !ok {
		log.ErrorContext(ctx, "customer metadata carries no local user id, event dropped", logger.CustomerID(customerID))
		metrics.ReconcileAnomaliesTotal.WithLabelValues("missing_mapping").Inc()
		return uuid.Nil, errDropped
	}
	return userID, nil
}

func (s *service) update(ctx context.Context, log *slog.Logger, existing membership.Subscription, snap Snapshot) (membership.Subscription, error) {
	if existing.Status == membership.StatusCanceled {
		log.DebugContext(ctx, "subscription already canceled, event ignored")
		return existing, nil
	}

	next := existing
	next.Status = snap.Status
	next.PlanID = snap.PlanID
	next.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	if snap.CustomerID != "" {
		next.CustomerID = snap.CustomerID
	}
	// A synthesized start would move on every delivery; keep the stored one.
	if !snap.synthesizedStart() || !existing.Period.Valid() {
		next.Period = snap.Period
	}

	resetUsage := existing.Period.Valid() && next.Period.Start.After(existing.Period.Start)
	if next.Status == existing.Status &&
		next.PlanID == existing.PlanID &&
		next.CancelAtPeriodEnd == existing.CancelAtPeriodEnd &&
		next.CustomerID == existing.CustomerID &&
		next.Period.Equal(existing.Period) {
		return existing, nil
	}

	next.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSubscription(ctx, next, resetUsage); err != nil {
		return existing, errors.Join(ErrStore, err)
	}
	if resetUsage {
		next.DownloadsUsed = 0
		log.InfoContext(ctx, "billing period rolled over, usage reset", slog.Time("period_start", next.Period.Start))
	}
	log.InfoContext(ctx, "subscription updated",
		slog.String("from", string(existing.Status)),
		slog.String("to", string(next.Status)),
	)

	switch {
	case next.Status == membership.StatusCanceled:
		s.revokeAll(ctx, log, next)
	case next.Status.Entitled() && !existing.Status.Entitled():
		profile, err := s.store.GetProfile(ctx, next.UserID)
		if err != nil {
			log.ErrorContext(ctx, "profile lookup failed, folder access not granted", logger.Error(err))
			return next, nil
		}
		next = s.activate(ctx, log, next, profile)
	}
	return next, nil
}

func (s *service) markPastDue(ctx context.Context, log *slog.Logger, providerSubscriptionID string) error {
	log = log.With(logger.SubscriptionID(providerSubscriptionID))

	existing, err := s.store.GetSubscriptionByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		if errors.Is(err, membership.ErrSubscriptionNotFound) {
			log.WarnContext(ctx, "payment failed for unknown subscription")
			return nil
		}
		return errors.Join(ErrStore, err)
	}
	if existing.Status == membership.StatusCanceled || existing.Status == membership.StatusPastDue {
		return nil
	}

	next := existing
	next.Status = membership.StatusPastDue
	next.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSubscription(ctx, next, false); err != nil {
		return errors.Join(ErrStore, err)
	}
	log.InfoContext(ctx, "subscription past due", slog.String("from", string(existing.Status)))
	return nil
}

func (s *service) cancel(ctx context.Context, log *slog.Logger, providerSubscriptionID string) error {
	log = log.With(logger.SubscriptionID(providerSubscriptionID))

	existing, err := s.store.GetSubscriptionByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		if errors.Is(err, membership.ErrSubscriptionNotFound) {
			log.WarnContext(ctx, "deleted subscription has no local row")
			return nil
		}
		return errors.Join(ErrStore, err)
	}
	if existing.Status == membership.StatusCanceled {
		log.DebugContext(ctx, "subscription already canceled")
		return nil
	}

	next := existing
	next.Status = membership.StatusCanceled
	next.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSubscription(ctx, next, false); err != nil {
		return errors.Join(ErrStore, err)
	}
	log.InfoContext(ctx, "subscription canceled", slog.String("from", string(existing.Status)))
	s.revokeAll(ctx, log, next)
	return nil
}

// activate grants the root folder and supersedes any other entitled row of
// the same user. Failures are logged; the row stays entitled.
func (s *service) activate(ctx context.Context, log *slog.Logger, sub membership.Subscription, profile membership.Profile) membership.Subscription {
	s.supersede(ctx, log, sub)

	if s.rootFolderID == "" || sub.FolderPermissionID != "" {
		return sub
	}
	if profile.Email == "" {
		log.WarnContext(ctx, "member has no email, folder access not granted", logger.UserID(sub.UserID))
		return sub
	}

	permID, err := s.sharer.Grant(ctx, s.rootFolderID, profile.Email)
	if err != nil {
		log.ErrorContext(ctx, "folder access grant failed", logger.FileID(s.rootFolderID), logger.Error(err))
		return sub
	}

	sub.FolderPermissionID = permID
	if err := s.store.UpdateSubscription(ctx, sub, false); err != nil {
		log.ErrorContext(ctx, "folder permission granted but not stored",
			logger.FileID(s.rootFolderID), slog.String("permission_id", permID), logger.Error(err))
		return sub
	}
	log.InfoContext(ctx, "folder access granted", logger.FileID(s.rootFolderID))
	return sub
}

func (s *service) supersede(ctx context.Context, log *slog.Logger, current membership.Subscription) {
	others, err := s.store.ListEntitledSubscriptions(ctx, current.UserID)
	if err != nil {
		log.ErrorContext(ctx, "list entitled subscriptions failed", logger.Error(err))
		return
	}
	for _, other := range others {
		if other.ID == current.ID {
			continue
		}
		other.Status = membership.StatusCanceled
		other.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateSubscription(ctx, other, false); err != nil {
			log.ErrorContext(ctx, "supersede subscription failed",
				slog.String("superseded", other.ProviderSubscriptionID), logger.Error(err))
			continue
		}
		metrics.ReconcileAnomaliesTotal.WithLabelValues("superseded").Inc()
		log.WarnContext(ctx, "older entitled subscription superseded",
			slog.String("superseded", other.ProviderSubscriptionID))
	}
}

// revokeAll removes every permission the user received. Each failure is
// logged and the remaining revocations still run. Nothing is revoked while
// the user holds another entitled subscription.
func (s *service) revokeAll(ctx context.Context, log *slog.Logger, sub membership.Subscription) {
	log = log.With(logger.UserID(sub.UserID))

	if others, err := s.store.ListEntitledSubscriptions(ctx, sub.UserID); err == nil && len(others) > 0 {
		log.InfoContext(ctx, "user still entitled through another subscription, access kept")
		return
	}

	downloads, err := s.store.ListGrantedDownloads(ctx, sub.UserID)
	if err != nil {
		log.ErrorContext(ctx, "list downloads for revocation failed", logger.Error(err))
	}

	var failed int
	for _, d := range downloads {
		if d.PermissionID == "" {
			continue
		}
		if err := s.sharer.Revoke(ctx, d.FileID, d.PermissionID); err != nil {
			failed++
			log.WarnContext(ctx, "file access revoke failed",
				logger.ResourceID(d.ResourceID), logger.FileID(d.FileID), logger.Error(err))
		}
	}

	if s.rootFolderID != "" {
		if err := s.revokeFolder(ctx, log, sub); err != nil {
			failed++
			log.WarnContext(ctx, "folder access revoke failed", logger.FileID(s.rootFolderID), logger.Error(err))
		}
	}

	log.InfoContext(ctx, "file access revoked", slog.Int("downloads", len(downloads)), slog.Int("failed", failed))
}

func (s *service) revokeFolder(ctx context.Context, log *slog.Logger, sub membership.Subscription) error {
	permID := sub.FolderPermissionID
	if permID == "" {
		profile, err := s.store.GetProfile(ctx, sub.UserID)
		if err != nil || profile.Email == "" {
			log.DebugContext(ctx, "no folder permission recorded and no email to look it up")
			return nil
		}
		if permID, err = s.sharer.FindPermission(ctx, s.rootFolderID, profile.Email); err != nil {
			return err
		}
		if permID == "" {
			return nil
		}
	}
	return s.sharer.Revoke(ctx, s.rootFolderID, permID)
}
