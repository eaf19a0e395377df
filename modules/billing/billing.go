// Package billing mounts the payment endpoints: the provider webhook, checkout
// session creation and confirmation, and the billing portal.
package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Yashkondane/soulhome-official/handler"
	"github.com/Yashkondane/soulhome-official/internal/eventlog"
	"github.com/Yashkondane/soulhome-official/modules/apierr"
	"github.com/Yashkondane/soulhome-official/pkg/logger"
	"github.com/Yashkondane/soulhome-official/pkg/metrics"
	"github.com/Yashkondane/soulhome-official/svc/auth"
	billingsvc "github.com/Yashkondane/soulhome-official/svc/billing"
	"github.com/Yashkondane/soulhome-official/svc/checkout"
	"github.com/Yashkondane/soulhome-official/svc/membership"
	"github.com/Yashkondane/soulhome-official/svc/reconciler"
)

// MaxWebhookSize bounds webhook bodies.
const MaxWebhookSize = 512 << 10

// Checkout is the subset of the orchestrator the routes use.
type Checkout interface {
	StartCheckout(ctx context.Context, userID uuid.UUID, productID string) (checkout.Session, error)
	PortalURL(ctx context.Context, userID uuid.UUID) (string, error)
}

type Option func(*Module)

func WithLogger(log *slog.Logger) Option {
	return func(m *Module) {
		if log != nil {
			m.log = log
		}
	}
}

// WithEventLog skips events already marked as processed.
func WithEventLog(events eventlog.Log) Option {
	return func(m *Module) { m.events = events }
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
	provider   billingsvc.Provider
	reconciler reconciler.Service
	checkout   Checkout
	events     eventlog.Log
	limit      []func(http.Handler) http.Handler
	log        *slog.Logger
}

func New(provider billingsvc.Provider, rec reconciler.Service, co Checkout, opts ...Option) *Module {
	if provider == nil {
		panic("billing: Provider is required")
	}
	if rec == nil {
		panic("billing: reconciler.Service is required")
	}
	if co == nil {
		panic("billing: Checkout is required")
	}
	m := &Module{provider: provider, reconciler: rec, checkout: co, log: logger.Discard()}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.Component("billing_http"))
	return m
}

// Register mounts the routes on r. The API routes expect auth.Middleware
// to run first.
func (m *Module) Register(r chi.Router) {
	r.Post("/webhooks/billing", m.webhook)

	eh := handler.NewErrorHandler(m.log, apierr.Mappings...)
	r.With(m.limit...).Post("/api/checkout/sessions", handler.Wrap(m.startCheckout,
		handler.WithBinders[StartCheckoutRequest](handler.BindJSON()),
		handler.WithErrorHandler[StartCheckoutRequest](eh),
	))
	r.Get("/api/checkout/sessions/{id}", handler.Wrap(m.confirmCheckout,
		handler.WithErrorHandler[struct{}](eh),
	))
	r.Post("/api/billing/portal", handler.Wrap(m.portal,
		handler.WithErrorHandler[struct{}](eh),
	))
}

// webhook acknowledges every verified delivery with 200 unless processing
// hit a transient provider failure, in which case 500 asks for redelivery.
func (m *Module) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookSize+1))
	if err != nil || len(payload) > MaxWebhookSize {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		writeAck(w, http.StatusBadRequest, `{"error":"invalid payload"}`)
		return
	}

	event, err := m.provider.ParseWebhook(ctx, payload, r.Header)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		m.log.WarnContext(ctx, "webhook rejected", logger.Error(err))
		if errors.Is(err, billingsvc.ErrInvalidSignature) {
			writeAck(w, http.StatusBadRequest, `{"error":"invalid signature"}`)
			return
		}
		writeAck(w, http.StatusBadRequest, `{"error":"invalid payload"}`)
		return
	}

	kind := string(event.Kind)
	log := m.log.With(logger.EventID(event.ID), logger.EventType(event.ProviderType))

	if event.Kind == billingsvc.EventIgnored {
		metrics.WebhookEventsTotal.WithLabelValues(kind, "ignored").Inc()
		writeAck(w, http.StatusOK, `{"received":true}`)
		return
	}

	if m.events != nil && event.ID != "" {
		seen, err := m.events.Seen(ctx, event.ID)
		if err != nil {
			log.WarnContext(ctx, "event log lookup failed, processing anyway", logger.Error(err))
		} else if seen {
			metrics.WebhookEventsTotal.WithLabelValues(kind, "duplicate").Inc()
			log.DebugContext(ctx, "webhook event already processed")
			writeAck(w, http.StatusOK, `{"received":true}`)
			return
		}
	}

	if err := m.reconciler.HandleEvent(ctx, event); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(kind, "failed").Inc()
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
		writeAck(w, http.StatusInternalServerError, `{"error":"processing failed"}`)
		return
	}

	if m.events != nil && event.ID != "" {
		if err := m.events.MarkProcessed(ctx, event.ID); err != nil {
			log.WarnContext(ctx, "failed to mark webhook event processed", logger.Error(err))
		}
	}
	metrics.WebhookEventsTotal.WithLabelValues(kind, "processed").Inc()
	writeAck(w, http.StatusOK, `{"received":true}`)
}

func writeAck(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

type StartCheckoutRequest struct {
	PlanID string `json:"plan_id"`
}

func (m *Module) startCheckout(ctx handler.Context, req StartCheckoutRequest) handler.Response {
	req.PlanID = strings.TrimSpace(req.PlanID)
	if req.PlanID == "" {
		verr := handler.NewValidationError()
		verr.Add("plan_id", "is required")
		return handler.Fail(verr)
	}
	s, err := m.checkout.StartCheckout(ctx, auth.UserID(ctx), req.PlanID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(s, handler.WithJSONStatus(http.StatusCreated))
}

// ConfirmationResponse describes a returning checkout.
type ConfirmationResponse struct {
	SessionID     string              `json:"session_id"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"payment_status"`
	Mode          string              `json:"mode"`
	Paid          bool                `json:"paid"`
	Membership    *membership.Summary `json:"membership,omitempty"`
	Booking       *membership.Booking `json:"booking,omitempty"`
}

func (m *Module) confirmCheckout(ctx handler.Context, _ struct{}) handler.Response {
	sessionID := chi.URLParam(ctx.Request(), "id")
	c, err := m.reconciler.ConfirmCheckout(ctx, auth.UserID(ctx), sessionID)
	if err != nil {
		return handler.Fail(err)
	}
	resp := ConfirmationResponse{
		SessionID:     c.Session.ID,
		Status:        c.Session.Status,
		PaymentStatus: c.Session.PaymentStatus,
		Mode:          string(c.Session.Mode),
		Paid:          c.Session.Paid(),
		Booking:       c.Booking,
	}
	if c.Subscription != nil {
		s := membership.Summarize(c.Subscription)
		resp.Membership = &s
	}
	return handler.JSON(resp)
}

func (m *Module) portal(ctx handler.Context, _ struct{}) handler.Response {
	url, err := m.checkout.PortalURL(ctx, auth.UserID(ctx))
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(map[string]string{"url": url})
}
