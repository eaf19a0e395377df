// Package checkout starts purchases with the billing provider and keeps each
// local user mapped onto exactly one provider customer whose metadata names
// the user.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Yashkondane/soulhome-official/pkg/logger"
	"github.com/Yashkondane/soulhome-official/svc/billing"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

type Config struct {
	AppURL           string `env:"APP_URL" envDefault:"http://localhost:3000"`
	CatalogPath      string `env:"CATALOG_PATH"`
	SuccessPath      string `env:"CHECKOUT_SUCCESS_PATH" envDefault:"/checkout/success"`
	PortalReturnPath string `env:"BILLING_PORTAL_RETURN_PATH" envDefault:"/dashboard/settings"`
}

// SessionPlaceholder is replaced by the provider with the session id.
const SessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// customerTimeout bounds a shared customer lookup or creation.
const customerTimeout = 30 * time.Second

func (c Config) returnURL() string {
	return strings.TrimRight(c.AppURL, "/") + c.SuccessPath + "?session_id=" + SessionPlaceholder
}

func (c Config) portalReturnURL() string {
	return strings.TrimRight(c.AppURL, "/") + c.PortalReturnPath
}

// Store is the persistence the orchestrator needs.
type Store interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (membership.Profile, error)
	// SetCustomerID stores the provider customer of userID.
	SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error
	GetActiveSubscription(ctx context.Context, userID uuid.UUID) (membership.Subscription, error)
	GetLatestSubscription(ctx context.Context, userID uuid.UUID) (membership.Subscription, error)
}

// Session is a started checkout.
type Session struct {
	ID           string               `json:"session_id"`
	ClientSecret string               `json:"client_secret"`
	URL          string               `json:"url,omitempty"`
	ProductID    string               `json:"product_id"`
	Mode         billing.CheckoutMode `json:"mode"`
}

type Option func(*Orchestrator)

func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

type Orchestrator struct {
	cfg      Config
	catalog  *Catalog
	store    Store
	provider billing.Provider
	log      *slog.Logger
	// customers collapses concurrent customer creation for one user.
	customers singleflight.Group
}

func NewOrchestrator(cfg Config, catalog *Catalog, store Store, provider billing.Provider, opts ...Option) *Orchestrator {
	if catalog == nil {
		panic("checkout: Catalog is required")
	}
	if store == nil {
		panic("checkout: Store is required")
	}
	if provider == nil {
		panic("checkout: billing.Provider is required")
	}
	o := &Orchestrator{
		cfg:      cfg,
		catalog:  catalog,
		store:    store,
		provider: provider,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With(logger.Component("checkout"))
	return o
}

// Catalog returns the products on sale.
func (o *Orchestrator) Catalog() *Catalog { return o.catalog }

// StartCheckout opens a checkout session for productID. Subscription
// checkouts are refused while the user holds an entitled subscription.
func (o *Orchestrator) StartCheckout(ctx context.Context, userID uuid.UUID, productID string) (Session, error) {
	if userID == uuid.Nil {
		return Session{}, membership.ErrUnauthenticated
	}
	product, ok := o.catalog.Product(productID)
	if !ok {
		return Session{}, membership.ErrPlanNotFound
	}

	if product.Type == TypeSubscription {
		_, err := o.store.GetActiveSubscription(ctx, userID)
		switch {
		case err == nil:
			return Session{}, membership.ErrAlreadySubscribed
		case !errors.Is(err, membership.ErrSubscriptionNotFound):
			return Session{}, err
		}
	}

	profile, err := o.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, membership.ErrProfileNotFound) {
			return Session{}, membership.ErrUnauthenticated
		}
		return Session{}, err
	}

	customerID, err := o.EnsureCustomer(ctx, profile)
	if err != nil {
		return Session{}, err
	}

	s, err := o.provider.CreateCheckoutSession(ctx, billing.CheckoutParams{
		CustomerID: customerID,
		UserID:     userID,
		ProductID:  product.ID,
		Mode:       product.Mode(),
		Item:       product.LineItem(),
		ReturnURL:  o.cfg.returnURL(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("create checkout session: %w", err)
	}

	o.log.InfoContext(ctx, "checkout started",
		logger.UserID(userID), logger.CustomerID(customerID), slog.String("product_id", product.ID))
	return Session{
		ID:           s.ID,
		ClientSecret: s.ClientSecret,
		URL:          s.URL,
		ProductID:    product.ID,
		Mode:         product.Mode(),
	}, nil
}

// EnsureCustomer returns the provider customer of profile, creating it on
// first use. Existing customers get the local user id written into their
// metadata when it is missing.
func (o *Orchestrator) EnsureCustomer(ctx context.Context, profile membership.Profile) (string, error) {
	v, err, _ := o.customers.Do(profile.ID.String(), func() (any, error) {
		// Shared by every waiter, so it must outlive the first caller.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), customerTimeout)
		defer cancel()
		return o.ensureCustomer(ctx, profile)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (o *Orchestrator) ensureCustomer(ctx context.Context, profile membership.Profile) (string, error) {
	log := o.log.With(logger.UserID(profile.ID))

	// Re-read so a customer stored by a concurrent request is reused.
	if current, err := o.store.GetProfile(ctx, profile.ID); err == nil {
		profile = current
	}

	if profile.CustomerID != "" {
		customer, err := o.provider.GetCustomer(ctx, profile.CustomerID)
		switch {
		case err == nil && !customer.Deleted:
			if owner, ok := customer.LocalUserID(); ok && owner == profile.ID {
				return customer.ID, nil
			} else if ok {
				log.WarnContext(ctx, "customer metadata names another user, overwriting",
					logger.CustomerID(customer.ID), slog.String("metadata_user_id", owner.String()))
			}
			if err := o.provider.UpdateCustomerMetadata(ctx, customer.ID, map[string]string{
				billing.MetadataUserID: profile.ID.String(),
			}); err != nil {
				return "", fmt.Errorf("backfill customer metadata: %w", err)
			}
			log.InfoContext(ctx, "customer metadata backfilled", logger.CustomerID(customer.ID))
			return customer.ID, nil
		case err == nil, errors.Is(err, billing.ErrNotFound):
			log.WarnContext(ctx, "stored customer no longer exists, creating a new one", logger.CustomerID(profile.CustomerID))
		default:
			return "", fmt.Errorf("fetch customer: %w", err)
		}
	}

	if profile.Email == "" {
		return "", membership.ErrEmailNotFound
	}
	customer, err := o.provider.CreateCustomer(ctx, billing.CustomerParams{
		Email:  profile.Email,
		Name:   profile.FullName,
		UserID: profile.ID,
	})
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	if err := o.store.SetCustomerID(ctx, profile.ID, customer.ID); err != nil {
		log.ErrorContext(ctx, "customer created but not stored on profile",
			logger.Critical(), logger.CustomerID(customer.ID), logger.Error(err))
		return "", err
	}
	log.InfoContext(ctx, "customer created", logger.CustomerID(customer.ID))
	return customer.ID, nil
}

// PortalURL opens a provider-hosted billing management session.
func (o *Orchestrator) PortalURL(ctx context.Context, userID uuid.UUID) (string, error) {
	if userID == uuid.Nil {
		return "", membership.ErrUnauthenticated
	}

	customerID := ""
	if profile, err := o.store.GetProfile(ctx, userID); err == nil {
		customerID = profile.CustomerID
	} else if !errors.Is(err, membership.ErrProfileNotFound) {
		return "", err
	}
	if customerID == "" {
		sub, err := o.store.GetLatestSubscription(ctx, userID)
		switch {
		case err == nil:
			customerID = sub.CustomerID
		case !errors.Is(err, membership.ErrSubscriptionNotFound):
			return "", err
		}
	}
	if customerID == "" {
		return "", membership.ErrNoBillingAccount
	}

	url, err := o.provider.CreatePortalSession(ctx, customerID, o.cfg.portalReturnURL())
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return url, nil
}
