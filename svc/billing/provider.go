// Package billing abstracts the payment provider.
//
// Adapters verify webhook signatures, decode provider payloads into the
// provider-neutral Event, and expose the handful of API calls the reconciler
// and the checkout orchestrator need. Timestamps leave this package as raw
// epoch seconds; period policy lives in membership.NormalizePeriod.
package billing

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
)

// Metadata keys written on customers, sessions and subscriptions.
const (
	MetadataUserID    = "user_id"
	MetadataProductID = "product_id"
	MetadataType      = "type"

	// legacyMetadataUserID was written on customers created before
	// MetadataUserID existed.
	legacyMetadataUserID = "supabase_user_id"
)

var (
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrNotFound         = errors.New("billing object not found")
	ErrUnsupported      = errors.New("operation not supported by billing provider")
	ErrProviderRequest  = errors.New("billing provider request failed")
)

// Kind is the normalized webhook event kind.
type Kind string

const (
	EventSubscriptionCreated Kind = "subscription.created"
	EventSubscriptionUpdated Kind = "subscription.updated"
	EventSubscriptionDeleted Kind = "subscription.deleted"
	EventInvoicePaid         Kind = "invoice.payment_succeeded"
	EventInvoiceFailed       Kind = "invoice.payment_failed"
	EventCheckoutCompleted   Kind = "checkout.completed"
	EventIgnored             Kind = "ignored"
)

// Event is a verified webhook delivery.
type Event struct {
	ID           string
	Kind         Kind
	ProviderType string
	// Subscription is set for subscription and invoice events. Invoice
	// events only carry the subscription and customer ids.
	Subscription *Subscription
	Checkout     *CheckoutSession
}

// Subscription is the provider-side subscription object.
type Subscription struct {
	ID         string
	CustomerID string
	Status     string
	// PeriodStart and PeriodEnd are epoch seconds; zero means absent.
	PeriodStart       int64
	PeriodEnd         int64
	CancelAtPeriodEnd bool
	PriceID           string
	Metadata          map[string]string
}

// ProductID returns the catalog product recorded on the subscription.
func (s Subscription) ProductID() string {
	return s.Metadata[MetadataProductID]
}

type Customer struct {
	ID       string
	Email    string
	Name     string
	Metadata map[string]string
	Deleted  bool
}

// LocalUserID returns the local user recorded in the customer metadata.
func (c Customer) LocalUserID() (uuid.UUID, bool) {
	return userIDFromMetadata(c.Metadata)
}

func userIDFromMetadata(md map[string]string) (uuid.UUID, bool) {
	for _, key := range []string{MetadataUserID, legacyMetadataUserID} {
		if raw := md[key]; raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				return id, true
			}
		}
	}
	return uuid.Nil, false
}

type CustomerParams struct {
	Email  string
	Name   string
	UserID uuid.UUID
}

type CheckoutMode string

const (
	ModeSubscription CheckoutMode = "subscription"
	ModePayment      CheckoutMode = "payment"
)

// LineItem describes what is being sold. PriceID references a price
// configured at the provider; when empty the adapter builds an inline price.
type LineItem struct {
	PriceID     string
	Name        string
	Description string
	UnitAmount  int64
	Currency    string
	Interval    string // month, year; empty for one-time
}

type CheckoutParams struct {
	CustomerID string
	UserID     uuid.UUID
	ProductID  string
	Mode       CheckoutMode
	Item       LineItem
	ReturnURL  string
}

type CheckoutSession struct {
	ID              string
	ClientSecret    string
	URL             string
	CustomerID      string
	Mode            CheckoutMode
	Status          string
	PaymentStatus   string
	SubscriptionID  string
	Subscription    *Subscription
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	Metadata        map[string]string
}

// UserID returns the local user the session was created for.
func (s CheckoutSession) UserID() (uuid.UUID, bool) {
	return userIDFromMetadata(s.Metadata)
}

// Paid reports whether the provider considers the session paid.
func (s CheckoutSession) Paid() bool {
	switch s.PaymentStatus {
	case "paid", "no_payment_required":
		return true
	}
	return s.Status == "complete" || s.Status == "completed"
}

// Provider is implemented by each payment provider adapter.
type Provider interface {
	Name() string
	// ParseWebhook verifies the signature in header and decodes payload.
	// Verification failures return ErrInvalidSignature.
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (Event, error)
	GetCustomer(ctx context.Context, customerID string) (Customer, error)
	CreateCustomer(ctx context.Context, params CustomerParams) (Customer, error)
	UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]string) error
	GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}
