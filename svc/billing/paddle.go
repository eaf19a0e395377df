package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider on Paddle Billing. Checkout sessions
// map onto transactions and the client secret is the transaction id that
// Paddle.js opens.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

func (p *PaddleProvider) Name() string { return "paddle" }

func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (Event, error) {
	signature := header.Get("Paddle-Signature")
	if signature == "" {
		return Event{}, fmt.Errorf("%w: missing Paddle-Signature header", ErrInvalidSignature)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	if err != nil {
		return Event{}, errors.Join(ErrInvalidPayload, err)
	}
	req.Header.Set("Paddle-Signature", signature)

	ok, err := p.verifier.Verify(req)
	if err != nil {
		return Event{}, errors.Join(ErrInvalidSignature, err)
	}
	if !ok {
		return Event{}, ErrInvalidSignature
	}

	return decodePaddleEvent(payload)
}

type paddleEnvelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

func decodePaddleEvent(payload []byte) (Event, error) {
	var env paddleEnvelope
	if err := decodeJSON(payload, &env); err != nil {
		return Event{}, err
	}
	out := Event{ID: env.EventID, ProviderType: env.EventType, Kind: EventIgnored}

	switch env.EventType {
	case "subscription.created", "subscription.activated", "subscription.updated",
		"subscription.past_due", "subscription.paused", "subscription.resumed", "subscription.trialing",
		"subscription.canceled":
		var w paddleSubscriptionWire
		if err := decodeJSON(env.Data, &w); err != nil {
			return Event{}, err
		}
		sub := w.toSubscription()
		out.Subscription = &sub
		switch env.EventType {
		case "subscription.created":
			out.Kind = EventSubscriptionCreated
		case "subscription.canceled":
			out.Kind = EventSubscriptionDeleted
		default:
			out.Kind = EventSubscriptionUpdated
		}

	case "transaction.completed", "transaction.payment_failed":
		var w paddleTransactionWire
		if err := decodeJSON(env.Data, &w); err != nil {
			return Event{}, err
		}
		if w.SubscriptionID != "" {
			out.Subscription = &Subscription{ID: w.SubscriptionID, CustomerID: w.CustomerID}
			out.Kind = EventInvoicePaid
			if env.EventType == "transaction.payment_failed" {
				out.Kind = EventInvoiceFailed
			}
			break
		}
		if env.EventType == "transaction.completed" {
			s := w.toSession()
			out.Checkout = &s
			out.Kind = EventCheckoutCompleted
		}
	}

	return out, nil
}

func (p *PaddleProvider) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	defer observe(p.Name(), "get_customer", time.Now())

	c, err := p.client.CustomersClient.GetCustomer(ctx, &paddle.GetCustomerRequest{CustomerID: customerID})
	if err != nil {
		return Customer{}, errors.Join(ErrProviderRequest, err)
	}
	out := Customer{ID: c.ID, Email: c.Email, Metadata: stringMap(c.CustomData)}
	if c.Name != nil {
		out.Name = *c.Name
	}
	out.Deleted = strings.EqualFold(string(c.Status), "archived")
	return out, nil
}

func (p *PaddleProvider) CreateCustomer(ctx context.Context, params CustomerParams) (Customer, error) {
	defer observe(p.Name(), "create_customer", time.Now())

	req := &paddle.CreateCustomerRequest{
		Email:      params.Email,
		CustomData: paddle.CustomData{MetadataUserID: params.UserID.String()},
	}
	if params.Name != "" {
		req.Name = paddle.PtrTo(params.Name)
	}
	c, err := p.client.CustomersClient.CreateCustomer(ctx, req)
	if err != nil {
		return Customer{}, errors.Join(ErrProviderRequest, err)
	}
	return Customer{ID: c.ID, Email: c.Email, Name: params.Name, Metadata: stringMap(c.CustomData)}, nil
}

func (p *PaddleProvider) UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]string) error {
	defer observe(p.Name(), "update_customer", time.Now())

	current, err := p.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	data := paddle.CustomData{}
	for k, v := range current.Metadata {
		data[k] = v
	}
	for k, v := range metadata {
		data[k] = v
	}

	_, err = p.client.CustomersClient.UpdateCustomer(ctx, &paddle.UpdateCustomerRequest{
		CustomerID: customerID,
		CustomData: paddle.NewPatchField(data),
	})
	if err != nil {
		return errors.Join(ErrProviderRequest, err)
	}
	return nil
}

func (p *PaddleProvider) GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	defer observe(p.Name(), "get_subscription", time.Now())

	s, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{SubscriptionID: subscriptionID})
	if err != nil {
		return Subscription{}, errors.Join(ErrProviderRequest, err)
	}
	var w paddleSubscriptionWire
	if err := remarshal(s, &w); err != nil {
		return Subscription{}, err
	}
	return w.toSubscription(), nil
}

func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error) {
	defer observe(p.Name(), "create_checkout_session", time.Now())

	if params.Item.PriceID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: paddle checkout requires a catalog price id", ErrUnsupported)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  params.Item.PriceID,
		Quantity: 1,
	})
	custom := paddle.CustomData{}
	for k, v := range checkoutMetadata(params) {
		custom[k] = v
	}
	req := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomerID: paddle.PtrTo(params.CustomerID),
		CustomData: custom,
	}
	if params.ReturnURL != "" {
		req.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(params.ReturnURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return CheckoutSession{}, errors.Join(ErrProviderRequest, err)
	}
	var w paddleTransactionWire
	if err := remarshal(tx, &w); err != nil {
		return CheckoutSession{}, err
	}
	s := w.toSession()
	s.Mode = params.Mode
	return s, nil
}

func (p *PaddleProvider) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	defer observe(p.Name(), "get_checkout_session", time.Now())

	tx, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{TransactionID: sessionID})
	if err != nil {
		return CheckoutSession{}, errors.Join(ErrProviderRequest, err)
	}
	var w paddleTransactionWire
	if err := remarshal(tx, &w); err != nil {
		return CheckoutSession{}, err
	}
	s := w.toSession()
	if w.SubscriptionID != "" {
		sub, err := p.GetSubscription(ctx, w.SubscriptionID)
		if err != nil {
			return CheckoutSession{}, err
		}
		s.Subscription = &sub
	}
	return s, nil
}

func (p *PaddleProvider) CreatePortalSession(ctx context.Context, customerID, _ string) (string, error) {
	defer observe(p.Name(), "create_portal_session", time.Now())

	ps, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return "", errors.Join(ErrProviderRequest, err)
	}
	if ps.URLs.General.Overview == "" {
		return "", fmt.Errorf("%w: no portal URL returned from paddle", ErrProviderRequest)
	}
	return ps.URLs.General.Overview, nil
}

type paddleSubscriptionWire struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	CustomerID           string         `json:"customer_id"`
	CustomData           map[string]any `json:"custom_data"`
	CurrentBillingPeriod *struct {
		StartsAt string `json:"starts_at"`
		EndsAt   string `json:"ends_at"`
	} `json:"current_billing_period"`
	ScheduledChange *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
	Items []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

func (w paddleSubscriptionWire) toSubscription() Subscription {
	s := Subscription{
		ID:         w.ID,
		CustomerID: w.CustomerID,
		Status:     w.Status,
		Metadata:   stringMap(w.CustomData),
	}
	if w.CurrentBillingPeriod != nil {
		s.PeriodStart = rfc3339Seconds(w.CurrentBillingPeriod.StartsAt)
		s.PeriodEnd = rfc3339Seconds(w.CurrentBillingPeriod.EndsAt)
	}
	if w.ScheduledChange != nil && w.ScheduledChange.Action == "cancel" {
		s.CancelAtPeriodEnd = true
	}
	if len(w.Items) > 0 {
		s.PriceID = w.Items[0].Price.ID
	}
	return s
}

type paddleTransactionWire struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CurrencyCode   string         `json:"currency_code"`
	CustomData     map[string]any `json:"custom_data"`
	Checkout       *struct {
		URL string `json:"url"`
	} `json:"checkout"`
	Details *struct {
		Totals struct {
			Total string `json:"total"`
		} `json:"totals"`
	} `json:"details"`
}

func (w paddleTransactionWire) toSession() CheckoutSession {
	md := stringMap(w.CustomData)
	s := CheckoutSession{
		ID:             w.ID,
		ClientSecret:   w.ID,
		CustomerID:     w.CustomerID,
		Status:         w.Status,
		SubscriptionID: w.SubscriptionID,
		Currency:       strings.ToLower(w.CurrencyCode),
		Metadata:       md,
		Mode:           ModePayment,
	}
	if md[MetadataType] == "subscription" || w.SubscriptionID != "" {
		s.Mode = ModeSubscription
	}
	switch w.Status {
	case "paid", "completed":
		s.PaymentStatus = "paid"
	}
	if w.Checkout != nil {
		s.URL = w.Checkout.URL
	}
	if w.Details != nil {
		s.AmountTotal, _ = strconv.ParseInt(w.Details.Totals.Total, 10, 64)
	}
	return s
}

func rfc3339Seconds(v string) int64 {
	if v == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0
	}
	return t.Unix()
}

func stringMap(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
