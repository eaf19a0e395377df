package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
)

type StripeConfig struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	Timeout       time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`
	// APIURL overrides the API base URL; empty uses api.stripe.com.
	APIURL string `env:"STRIPE_API_URL"`
}

// StripeProvider implements Provider on the Stripe API.
type StripeProvider struct {
	client        *stripe.Client
	webhookSecret string
}

// NewStripeProvider builds a client bound to cfg. No package-level Stripe
// state is touched.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	return &StripeProvider{
		client:        stripe.NewClient(cfg.SecretKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendCfg))),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, header http.Header) (Event, error) {
	signature := header.Get("Stripe-Signature")
	if signature == "" {
		return Event{}, fmt.Errorf("%w: missing Stripe-Signature header", ErrInvalidSignature)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, errors.Join(ErrInvalidSignature, err)
	}
	if evt.Data == nil {
		return Event{}, fmt.Errorf("%w: event %s has no data", ErrInvalidPayload, evt.ID)
	}

	return decodeStripeEvent(evt.ID, string(evt.Type), evt.Data.Raw)
}

func decodeStripeEvent(id, typ string, raw []byte) (Event, error) {
	out := Event{ID: id, ProviderType: typ, Kind: EventIgnored}

	switch typ {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var w stripeSubscriptionWire
		if err := decodeJSON(raw, &w); err != nil {
			return Event{}, err
		}
		sub := w.toSubscription()
		out.Subscription = &sub
		out.Kind = map[string]Kind{
			"customer.subscription.created": EventSubscriptionCreated,
			"customer.subscription.updated": EventSubscriptionUpdated,
			"customer.subscription.deleted": EventSubscriptionDeleted,
		}[typ]

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var w stripeInvoiceWire
		if err := decodeJSON(raw, &w); err != nil {
			return Event{}, err
		}
		out.Subscription = &Subscription{ID: w.subscriptionID(), CustomerID: w.Customer.ID}
		out.Kind = EventInvoicePaid
		if typ == "invoice.payment_failed" {
			out.Kind = EventInvoiceFailed
		}

	case "checkout.session.completed":
		var w stripeSessionWire
		if err := decodeJSON(raw, &w); err != nil {
			return Event{}, err
		}
		s, err := w.toSession()
		if err != nil {
			return Event{}, err
		}
		out.Checkout = &s
		out.Kind = EventCheckoutCompleted
	}

	return out, nil
}

func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	defer observe(p.Name(), "get_customer", time.Now())

	c, err := p.client.V1Customers.Retrieve(ctx, customerID, nil)
	if err != nil {
		return Customer{}, wrapStripeError(err)
	}
	return Customer{
		ID:       c.ID,
		Email:    c.Email,
		Name:     c.Name,
		Metadata: c.Metadata,
		Deleted:  c.Deleted,
	}, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, params CustomerParams) (Customer, error) {
	defer observe(p.Name(), "create_customer", time.Now())

	if params.Email == "" {
		return Customer{}, errors.New("email is required to create customer")
	}
	cp := &stripe.CustomerCreateParams{Email: stripe.String(params.Email)}
	if params.Name != "" {
		cp.Name = stripe.String(params.Name)
	}
	cp.AddMetadata(MetadataUserID, params.UserID.String())
	cp.AddMetadata(legacyMetadataUserID, params.UserID.String())

	c, err := p.client.V1Customers.Create(ctx, cp)
	if err != nil {
		return Customer{}, wrapStripeError(err)
	}
	return Customer{ID: c.ID, Email: c.Email, Name: c.Name, Metadata: c.Metadata}, nil
}

func (p *StripeProvider) UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]string) error {
	defer observe(p.Name(), "update_customer", time.Now())

	up := &stripe.CustomerUpdateParams{}
	for k, v := range metadata {
		up.AddMetadata(k, v)
	}
	if _, err := p.client.V1Customers.Update(ctx, customerID, up); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	defer observe(p.Name(), "get_subscription", time.Now())

	s, err := p.client.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return Subscription{}, wrapStripeError(err)
	}
	var w stripeSubscriptionWire
	if err := remarshal(s, &w); err != nil {
		return Subscription{}, err
	}
	return w.toSubscription(), nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error) {
	defer observe(p.Name(), "create_checkout_session", time.Now())

	item := &stripe.CheckoutSessionCreateLineItemParams{Quantity: stripe.Int64(1)}
	if params.Item.PriceID != "" {
		item.Price = stripe.String(params.Item.PriceID)
	} else {
		item.PriceData = &stripe.CheckoutSessionCreateLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(params.Item.Currency)),
			UnitAmount: stripe.Int64(params.Item.UnitAmount),
			ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
				Name:        stripe.String(params.Item.Name),
				Description: stripe.String(params.Item.Description),
			},
		}
		if params.Mode == ModeSubscription && params.Item.Interval != "" {
			item.PriceData.Recurring = &stripe.CheckoutSessionCreateLineItemPriceDataRecurringParams{
				Interval: stripe.String(params.Item.Interval),
			}
		}
	}

	metadata := checkoutMetadata(params)
	cp := &stripe.CheckoutSessionCreateParams{
		Customer:          stripe.String(params.CustomerID),
		Mode:              stripe.String(string(params.Mode)),
		UIMode:            stripe.String("embedded"),
		ReturnURL:         stripe.String(params.ReturnURL),
		ClientReferenceID: stripe.String(params.UserID.String()),
		LineItems:         []*stripe.CheckoutSessionCreateLineItemParams{item},
	}
	for k, v := range metadata {
		cp.AddMetadata(k, v)
	}
	if params.Mode == ModeSubscription {
		cp.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{Metadata: metadata}
	}

	s, err := p.client.V1CheckoutSessions.Create(ctx, cp)
	if err != nil {
		return CheckoutSession{}, wrapStripeError(err)
	}
	var w stripeSessionWire
	if err := remarshal(s, &w); err != nil {
		return CheckoutSession{}, err
	}
	return w.toSession()
}

func (p *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	defer observe(p.Name(), "get_checkout_session", time.Now())

	rp := &stripe.CheckoutSessionRetrieveParams{}
	rp.AddExpand("subscription")
	rp.AddExpand("customer")

	s, err := p.client.V1CheckoutSessions.Retrieve(ctx, sessionID, rp)
	if err != nil {
		return CheckoutSession{}, wrapStripeError(err)
	}
	var w stripeSessionWire
	if err := remarshal(s, &w); err != nil {
		return CheckoutSession{}, err
	}
	return w.toSession()
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	defer observe(p.Name(), "create_portal_session", time.Now())

	s, err := p.client.V1BillingPortalSessions.Create(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", wrapStripeError(err)
	}
	return s.URL, nil
}

func checkoutMetadata(params CheckoutParams) map[string]string {
	typ := "subscription"
	if params.Mode == ModePayment {
		typ = "one_time"
	}
	return map[string]string{
		MetadataUserID:    params.UserID.String(),
		MetadataProductID: params.ProductID,
		MetadataType:      typ,
	}
}

func wrapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound {
			return errors.Join(ErrNotFound, err)
		}
		return fmt.Errorf("%w: stripe %d %s: %s", ErrProviderRequest, se.HTTPStatusCode, se.Code, se.Msg)
	}
	return errors.Join(ErrProviderRequest, err)
}
