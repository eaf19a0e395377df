// Package billingtest provides a testify mock of billing.Provider.
package billingtest

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/Yashkondane/soulhome-official/svc/billing"
)

type Provider struct {
	mock.Mock
}

var _ billing.Provider = (*Provider)(nil)

func (m *Provider) Name() string { return "mock" }

func (m *Provider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (billing.Event, error) {
	args := m.Called(ctx, payload, header)
	return args.Get(0).(billing.Event), args.Error(1)
}

func (m *Provider) GetCustomer(ctx context.Context, customerID string) (billing.Customer, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).(billing.Customer), args.Error(1)
}

func (m *Provider) CreateCustomer(ctx context.Context, params billing.CustomerParams) (billing.Customer, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(billing.Customer), args.Error(1)
}

func (m *Provider) UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]string) error {
	args := m.Called(ctx, customerID, metadata)
	return args.Error(0)
}

func (m *Provider) GetSubscription(ctx context.Context, subscriptionID string) (billing.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(billing.Subscription), args.Error(1)
}

func (m *Provider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (billing.CheckoutSession, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(billing.CheckoutSession), args.Error(1)
}

func (m *Provider) GetCheckoutSession(ctx context.Context, sessionID string) (billing.CheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(billing.CheckoutSession), args.Error(1)
}

func (m *Provider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}
