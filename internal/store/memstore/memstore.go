// Package memstore is an in-memory implementation of the membership store.
// It enforces the same uniqueness and usage constraints as the PostgreSQL
// store and backs local development and service tests.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Yashkondane/soulhome-official/svc/membership"
)

type downloadKey struct {
	user     uuid.UUID
	resource uuid.UUID
}

type Store struct {
	mu            sync.RWMutex
	profiles      map[uuid.UUID]membership.Profile
	subscriptions map[uuid.UUID]membership.Subscription
	byProviderID  map[string]uuid.UUID
	resources     map[uuid.UUID]membership.Resource
	categories    map[uuid.UUID]membership.Category
	downloads     map[downloadKey]membership.Download
	bookings      map[string]membership.Booking
	now           func() time.Time
}

func New() *Store {
	return &Store{
		profiles:      make(map[uuid.UUID]membership.Profile),
		subscriptions: make(map[uuid.UUID]membership.Subscription),
		byProviderID:  make(map[string]uuid.UUID),
		resources:     make(map[uuid.UUID]membership.Resource),
		categories:    make(map[uuid.UUID]membership.Category),
		downloads:     make(map[downloadKey]membership.Download),
		bookings:      make(map[string]membership.Booking),
		now:           time.Now,
	}
}

// PutProfile inserts or replaces a profile.
func (s *Store) PutProfile(p membership.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	s.profiles[p.ID] = p
}

// PutResource inserts or replaces a resource.
func (s *Store) PutResource(r membership.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.resources[r.ID] = r
}

// PutCategory inserts or replaces a category.
func (s *Store) PutCategory(c membership.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

// PutSubscription inserts or replaces a subscription row, bypassing the
// uniqueness checks of CreateSubscription.
func (s *Store) PutSubscription(sub membership.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = sub
	s.byProviderID[sub.ProviderSubscriptionID] = sub.ID
}

// Subscriptions returns every stored subscription of userID.
func (s *Store) Subscriptions(userID uuid.UUID) []membership.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []membership.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	sortNewestFirst(out)
	return out
}

// Downloads returns every stored download of userID.
func (s *Store) Downloads(userID uuid.UUID) []membership.Download {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []membership.Download
	for k, d := range s.downloads {
		if k.user == userID {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b membership.Download) int { return b.DownloadedAt.Compare(a.DownloadedAt) })
	return out
}

// Bookings returns every stored booking of userID.
func (s *Store) Bookings(userID uuid.UUID) []membership.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []membership.Booking
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out
}

func (s *Store) GetProfile(_ context.Context, userID uuid.UUID) (membership.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return membership.Profile{}, membership.ErrProfileNotFound
	}
	return p, nil
}

// EnsureProfile creates the profile of userID on first sight and refreshes
// its email when email is not empty.
func (s *Store) EnsureProfile(_ context.Context, userID uuid.UUID, email string) (membership.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		now := s.now().UTC()
		p = membership.Profile{ID: userID, Email: email, CreatedAt: now, UpdatedAt: now}
	} else if email != "" && p.Email != email {
		p.Email = email
		p.UpdatedAt = s.now().UTC()
	}
	s.profiles[userID] = p
	return p, nil
}

func (s *Store) SetCustomerID(_ context.Context, userID uuid.UUID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return membership.ErrProfileNotFound
	}
	for id, other := range s.profiles {
		if id != userID && customerID != "" && other.CustomerID == customerID {
			return membership.ErrAlreadyExists
		}
	}
	p.CustomerID = customerID
	p.UpdatedAt = s.now().UTC()
	s.profiles[userID] = p
	return nil
}

func (s *Store) UpdateProfileName(_ context.Context, userID uuid.UUID, fullName string) (membership.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return membership.Profile{}, membership.ErrProfileNotFound
	}
	p.FullName = fullName
	p.UpdatedAt = s.now().UTC()
	s.profiles[userID] = p
	return p, nil
}

func (s *Store) GetSubscriptionByProviderID(_ context.Context, providerSubscriptionID string) (membership.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byProviderID[providerSubscriptionID]
	if !ok {
		return membership.Subscription{}, membership.ErrSubscriptionNotFound
	}
	return s.subscriptions[id], nil
}

func (s *Store) CreateSubscription(_ context.Context, sub membership.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byProviderID[sub.ProviderSubscriptionID]; ok {
		return membership.ErrAlreadyExists
	}
	if _, ok := s.subscriptions[sub.ID]; ok {
		return membership.ErrAlreadyExists
	}
	if _, ok := s.profiles[sub.UserID]; !ok {
		return membership.ErrProfileNotFound
	}
	if err := checkSubscription(sub); err != nil {
		return err
	}
	if sub.DownloadsLimit == 0 {
		sub.DownloadsLimit = membership.DefaultDownloadLimit
	}
	s.subscriptions[sub.ID] = sub
	s.byProviderID[sub.ProviderSubscriptionID] = sub.ID
	return nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub membership.Subscription, resetUsage bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.subscriptions[sub.ID]
	if !ok {
		return membership.ErrSubscriptionNotFound
	}
	if err := checkSubscription(sub); err != nil {
		return err
	}
	cur.CustomerID = sub.CustomerID
	cur.Status = sub.Status
	cur.PlanID = sub.PlanID
	cur.Period = sub.Period
	cur.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	if sub.FolderPermissionID != "" {
		cur.FolderPermissionID = sub.FolderPermissionID
	}
	cur.UpdatedAt = s.now().UTC()
	if resetUsage {
		cur.DownloadsUsed = 0
	}
	s.subscriptions[sub.ID] = cur
	return nil
}

func (s *Store) GetActiveSubscription(ctx context.Context, userID uuid.UUID) (membership.Subscription, error) {
	subs, _ := s.ListEntitledSubscriptions(ctx, userID)
	if len(subs) == 0 {
		return membership.Subscription{}, membership.ErrSubscriptionNotFound
	}
	return subs[0], nil
}

func (s *Store) GetLatestSubscription(_ context.Context, userID uuid.UUID) (membership.Subscription, error) {
	subs := s.Subscriptions(userID)
	if len(subs) == 0 {
		return membership.Subscription{}, membership.ErrSubscriptionNotFound
	}
	return subs[0], nil
}

func (s *Store) ListEntitledSubscriptions(_ context.Context, userID uuid.UUID) ([]membership.Subscription, error) {
	subs := s.Subscriptions(userID)
	out := subs[:0]
	for _, sub := range subs {
		if sub.Status.Entitled() {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *Store) GetResource(_ context.Context, resourceID uuid.UUID) (membership.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[resourceID]
	if !ok {
		return membership.Resource{}, membership.ErrResourceNotFound
	}
	return r, nil
}

func (s *Store) ListResources(_ context.Context, publishedOnly bool) ([]membership.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]membership.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		if publishedOnly && !r.IsPublished {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b membership.Resource) int { return strings.Compare(a.Title, b.Title) })
	return out, nil
}

func (s *Store) ListCategories(context.Context) ([]membership.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]membership.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b membership.Category) int {
		if a.SortOrder != b.SortOrder {
			return a.SortOrder - b.SortOrder
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) GetDownload(_ context.Context, userID, resourceID uuid.UUID) (membership.Download, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.downloads[downloadKey{userID, resourceID}]
	if !ok {
		return membership.Download{}, membership.ErrDownloadNotFound
	}
	return d, nil
}

func (s *Store) ListGrantedDownloads(_ context.Context, userID uuid.UUID) ([]membership.Download, error) {
	var out []membership.Download
	for _, d := range s.Downloads(userID) {
		if d.PermissionID != "" {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) ListUnlockedResources(_ context.Context, userID uuid.UUID) ([]membership.UnlockedResource, error) {
	downloads := s.Downloads(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]membership.UnlockedResource, 0, len(downloads))
	for _, d := range downloads {
		r, ok := s.resources[d.ResourceID]
		if !ok {
			continue
		}
		out = append(out, membership.UnlockedResource{Download: d, Resource: r})
	}
	return out, nil
}

// RecordDownload inserts d and increments the usage counter of
// subscriptionID in one step. Nothing is written when the pair is already
// recorded or the counter is at its limit.
func (s *Store) RecordDownload(_ context.Context, d membership.Download, subscriptionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := downloadKey{d.UserID, d.ResourceID}
	if _, ok := s.downloads[key]; ok {
		return membership.ErrAlreadyExists
	}
	if _, ok := s.resources[d.ResourceID]; !ok {
		return membership.ErrResourceNotFound
	}
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return membership.ErrSubscriptionNotFound
	}
	if sub.DownloadsUsed >= sub.DownloadsLimit {
		return membership.ErrLimitReached
	}

	sub.DownloadsUsed++
	sub.UpdatedAt = s.now().UTC()
	s.subscriptions[subscriptionID] = sub
	s.downloads[key] = d
	return nil
}

func (s *Store) CreateBooking(_ context.Context, b membership.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.SessionID]; ok {
		return membership.ErrAlreadyExists
	}
	s.bookings[b.SessionID] = b
	return nil
}

// Ping satisfies the readiness check.
func (s *Store) Ping(context.Context) error { return nil }

func checkSubscription(sub membership.Subscription) error {
	if !sub.Period.Valid() {
		return membership.ErrInvalidPeriod
	}
	if !sub.Status.Valid() {
		return membership.ErrInvalidStatus
	}
	return nil
}

func sortNewestFirst(subs []membership.Subscription) {
	slices.SortFunc(subs, func(a, b membership.Subscription) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
