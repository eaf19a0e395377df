// Package member mounts the member-facing API: downloads, the membership
// dashboard summary, the resource library and profile settings.
package member

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Yashkondane/soulhome-official/handler"
	"github.com/Yashkondane/soulhome-official/modules/apierr"
	"github.com/Yashkondane/soulhome-official/pkg/logger"
	"github.com/Yashkondane/soulhome-official/svc/auth"
	"github.com/Yashkondane/soulhome-official/svc/download"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

// MaxNameLength bounds profile display names, in runes.
const MaxNameLength = 120

type Store interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (membership.Profile, error)
	EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (membership.Profile, error)
	UpdateProfileName(ctx context.Context, userID uuid.UUID, fullName string) (membership.Profile, error)
	GetActiveSubscription(ctx context.Context, userID uuid.UUID) (membership.Subscription, error)
	GetLatestSubscription(ctx context.Context, userID uuid.UUID) (membership.Subscription, error)
	ListResources(ctx context.Context, publishedOnly bool) ([]membership.Resource, error)
	ListCategories(ctx context.Context) ([]membership.Category, error)
}

type Gate interface {
	RequestDownload(ctx context.Context, req download.Request) (download.Result, error)
	Unlocked(ctx context.Context, userID uuid.UUID) ([]membership.UnlockedResource, error)
}

type Option func(*Module)

func WithLogger(log *slog.Logger) Option {
	return func(m *Module) {
		if log != nil {
			m.log = log
		}
	}
}

// WithRateLimit guards the routes that call out to providers.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(m *Module) {
		if mw != nil {
			m.limit = append(m.limit, mw)
		}
	}
}

type Module struct {
	store Store
	gate  Gate
	limit []func(http.Handler) http.Handler
	log   *slog.Logger
}

func New(store Store, gate Gate, opts ...Option) *Module {
	if store == nil {
		panic("member: Store is required")
	}
	if gate == nil {
		panic("member: Gate is required")
	}
	m := &Module{store: store, gate: gate, log: logger.Discard()}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.Component("member_http"))
	return m
}

// Register mounts the routes on r. auth.Middleware must run first.
func (m *Module) Register(r chi.Router) {
	eh := handler.NewErrorHandler(m.log, apierr.Mappings...)

	r.With(m.limit...).Post("/api/downloads", handler.Wrap(m.requestDownload,
		handler.WithBinders[DownloadRequest](handler.BindJSON()),
		handler.WithErrorHandler[DownloadRequest](eh),
	))
	r.Get("/api/downloads", handler.Wrap(m.listDownloads, handler.WithErrorHandler[struct{}](eh)))
	r.Get("/api/membership", handler.Wrap(m.summary, handler.WithErrorHandler[struct{}](eh)))
	r.Get("/api/resources", handler.Wrap(m.resources, handler.WithErrorHandler[struct{}](eh)))
	r.Get("/api/profile", handler.Wrap(m.profile, handler.WithErrorHandler[struct{}](eh)))
	r.Patch("/api/profile", handler.Wrap(m.updateProfile,
		handler.WithBinders[UpdateProfileRequest](handler.BindJSON()),
		handler.WithErrorHandler[UpdateProfileRequest](eh),
	))
}

// EnsureProfile creates the profile of an authenticated user on first
// sight. Anonymous requests pass through untouched.
func EnsureProfile(store Store, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user, ok := auth.UserFromContext(r.Context()); ok {
				if _, err := store.EnsureProfile(r.Context(), user.ID, user.Email); err != nil {
					log.ErrorContext(r.Context(), "failed to ensure profile", logger.UserID(user.ID), logger.Error(err))
					_ = handler.JSONError(handler.ErrServiceUnavailable).Render(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type DownloadRequest struct {
	ResourceID  string `json:"resource_id"`
	ResourceURL string `json:"resource_url"`
}

func (m *Module) requestDownload(ctx handler.Context, req DownloadRequest) handler.Response {
	resourceID, err := uuid.Parse(strings.TrimSpace(req.ResourceID))
	if err != nil {
		verr := handler.NewValidationError()
		verr.Add("resource_id", "must be a valid id")
		return handler.Fail(verr)
	}
	res, err := m.gate.RequestDownload(ctx, download.Request{
		UserID:     auth.UserID(ctx),
		ResourceID: resourceID,
		URL:        req.ResourceURL,
	})
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(res)
}

func (m *Module) listDownloads(ctx handler.Context, _ struct{}) handler.Response {
	list, err := m.gate.Unlocked(ctx, auth.UserID(ctx))
	if err != nil {
		return handler.Fail(err)
	}
	if list == nil {
		list = []membership.UnlockedResource{}
	}
	return handler.JSON(list)
}

// summary reports the active subscription, or the latest one when none is
// entitled so the dashboard can show a lapsed membership.
func (m *Module) summary(ctx handler.Context, _ struct{}) handler.Response {
	userID := auth.UserID(ctx)
	if userID == uuid.Nil {
		return handler.Fail(membership.ErrUnauthenticated)
	}
	sub, err := m.store.GetActiveSubscription(ctx, userID)
	if errors.Is(err, membership.ErrSubscriptionNotFound) {
		sub, err = m.store.GetLatestSubscription(ctx, userID)
	}
	switch {
	case errors.Is(err, membership.ErrSubscriptionNotFound):
		return handler.JSON(membership.Summarize(nil))
	case err != nil:
		return handler.Fail(err)
	}
	return handler.JSON(membership.Summarize(&sub))
}

// LibraryResponse lists browsable resources. File URLs are never exposed.
type LibraryResponse struct {
	Categories []membership.Category `json:"categories"`
	Resources  []membership.Resource `json:"resources"`
}

func (m *Module) resources(ctx handler.Context, _ struct{}) handler.Response {
	userID := auth.UserID(ctx)
	if userID == uuid.Nil {
		return handler.Fail(membership.ErrUnauthenticated)
	}
	profile, err := m.store.GetProfile(ctx, userID)
	if err != nil {
		return handler.Fail(err)
	}
	resources, err := m.store.ListResources(ctx, !profile.IsAdmin)
	if err != nil {
		return handler.Fail(err)
	}
	categories, err := m.store.ListCategories(ctx)
	if err != nil {
		return handler.Fail(err)
	}
	out := LibraryResponse{Categories: categories, Resources: resources}
	if out.Categories == nil {
		out.Categories = []membership.Category{}
	}
	if out.Resources == nil {
		out.Resources = []membership.Resource{}
	}
	return handler.JSON(out)
}

func (m *Module) profile(ctx handler.Context, _ struct{}) handler.Response {
	userID := auth.UserID(ctx)
	if userID == uuid.Nil {
		return handler.Fail(membership.ErrUnauthenticated)
	}
	p, err := m.store.GetProfile(ctx, userID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(p)
}

type UpdateProfileRequest struct {
	FullName string `json:"full_name"`
}

func (m *Module) updateProfile(ctx handler.Context, req UpdateProfileRequest) handler.Response {
	userID := auth.UserID(ctx)
	if userID == uuid.Nil {
		return handler.Fail(membership.ErrUnauthenticated)
	}
	name := strings.TrimSpace(req.FullName)
	if utf8.RuneCountInString(name) > MaxNameLength {
		verr := handler.NewValidationError()
		verr.Add("full_name", "is too long")
		return handler.Fail(verr)
	}
	p, err := m.store.UpdateProfileName(ctx, userID, name)
	if err != nil {
		return handler.Fail(err)
	}
	m.log.InfoContext(ctx, "profile updated", logger.UserID(userID))
	return handler.JSON(p)
}
