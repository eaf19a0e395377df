package checkout_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Yashkondane/soulhome-official/internal/store/memstore"
	"github.com/Yashkondane/soulhome-official/svc/billing"
	"github.com/Yashkondane/soulhome-official/svc/billing/billingtest"
	"github.com/Yashkondane/soulhome-official/svc/checkout"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := checkout.DefaultCatalog()
	monthly, ok := c.Product("monthly-membership")
	require.True(t, ok)
	assert.Equal(t, int64(5500), monthly.Price)
	assert.Equal(t, "gbp", monthly.Currency)
	assert.Equal(t, "month", monthly.Interval)
	assert.Equal(t, billing.ModeSubscription, monthly.Mode())

	yearly, ok := c.Product("yearly-membership")
	require.True(t, ok)
	assert.Equal(t, int64(56100), yearly.Price)
	assert.Equal(t, "year", yearly.LineItem().Interval)

	assert.Equal(t, membership.DefaultDownloadLimit, c.DownloadLimit("unknown"))
	assert.Len(t, c.Products(), 2)
}

func TestParseCatalog(t *testing.T) {
	t.Parallel()

	t.Run("one-time product", func(t *testing.T) {
		t.Parallel()
		c, err := checkout.ParseCatalog([]byte(`
currency: GBP
products:
  - id: healing-session
    name: Healing Session
    type: one_time
    price: 7500
  - id: monthly
    name: Monthly
    type: subscription
    price: 5500
    interval: month
    download_limit: 5
`))
		require.NoError(t, err)
		p, ok := c.Product("healing-session")
		require.True(t, ok)
		assert.Equal(t, billing.ModePayment, p.Mode())
		assert.Equal(t, "gbp", p.Currency)
		assert.Empty(t, p.LineItem().Interval)
		assert.Equal(t, 5, c.DownloadLimit("monthly"))
	})

	invalid := map[string]string{
		"empty":            `products: []`,
		"unknown type":     "products:\n  - {id: a, name: A, type: gift, price: 1, currency: gbp}",
		"missing interval": "products:\n  - {id: a, name: A, type: subscription, price: 1, currency: gbp}",
		"no price":         "products:\n  - {id: a, name: A, type: one_time, currency: gbp}",
		"duplicate":        "currency: gbp\nproducts:\n  - {id: a, name: A, type: one_time, price: 1}\n  - {id: a, name: B, type: one_time, price: 2}",
		"malformed":        "products: [",
	}
	for name, doc := range invalid {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := checkout.ParseCatalog([]byte(doc))
			assert.ErrorIs(t, err, checkout.ErrInvalidCatalog)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	c, err := checkout.LoadCatalog("")
	require.NoError(t, err)
	_, ok := c.Product("monthly-membership")
	assert.True(t, ok)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("currency: eur\nproducts:\n  - {id: x, name: X, type: one_time, price: 100}\n"), 0o600))
	c, err = checkout.LoadCatalog(path)
	require.NoError(t, err)
	p, ok := c.Product("x")
	require.True(t, ok)
	assert.Equal(t, "eur", p.Currency)

	_, err = checkout.LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, checkout.ErrFailedToLoadCatalog)
}

type fixture struct {
	store    *memstore.Store
	provider *billingtest.Provider
	orch     *checkout.Orchestrator
	user     membership.Profile
}

func newFixture(t *testing.T, customerID string) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		provider: &billingtest.Provider{},
		user:     membership.Profile{ID: uuid.New(), Email: "member@example.com", FullName: "Member", CustomerID: customerID},
	}
	f.store.PutProfile(f.user)
	f.orch = checkout.NewOrchestrator(checkout.Config{
		AppURL:           "https://soulhome.example/",
		SuccessPath:      "/checkout/success",
		PortalReturnPath: "/dashboard/settings",
	}, checkout.DefaultCatalog(), f.store, f.provider)
	t.Cleanup(func() { f.provider.AssertExpectations(t) })
	return f
}

func (f *fixture) expectSession() {
	f.provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p billing.CheckoutParams) bool {
		return p.UserID == f.user.ID &&
			p.ProductID == "monthly-membership" &&
			p.Mode == billing.ModeSubscription &&
			p.Item.UnitAmount == 5500 &&
			p.ReturnURL == "https://soulhome.example/checkout/success?session_id={CHECKOUT_SESSION_ID}"
	})).Return(billing.CheckoutSession{ID: "cs_1", ClientSecret: "secret_1"}, nil).Once()
}

func TestStartCheckout_CreatesCustomerOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	ctx := context.Background()

	f.provider.On("CreateCustomer", mock.Anything, billing.CustomerParams{
		Email: f.user.Email, Name: f.user.FullName, UserID: f.user.ID,
	}).Return(billing.Customer{ID: "cus_new"}, nil).Once()
	f.expectSession()

	s, err := f.orch.StartCheckout(ctx, f.user.ID, "monthly-membership")
	require.NoError(t, err)
	assert.Equal(t, "cs_1", s.ID)
	assert.Equal(t, "secret_1", s.ClientSecret)

	profile, err := f.store.GetProfile(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_new", profile.CustomerID)

	// Second checkout reuses the stored customer.
	f.provider.On("GetCustomer", mock.Anything, "cus_new").Return(billing.Customer{
		ID: "cus_new", Metadata: map[string]string{billing.MetadataUserID: f.user.ID.String()},
	}, nil).Once()
	f.expectSession()
	_, err = f.orch.StartCheckout(ctx, f.user.ID, "monthly-membership")
	require.NoError(t, err)
	f.provider.AssertNumberOfCalls(t, "CreateCustomer", 1)
}

func TestEnsureCustomer_OutlivesCanceledCaller(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
	f.provider.On("CreateCustomer", live, mock.Anything).Return(billing.Customer{ID: "cus_new"}, nil).Once()

	id, err := f.orch.EnsureCustomer(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
}

func TestStartCheckout_BackfillsCustomerMetadata(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "cus_legacy")

	f.provider.On("GetCustomer", mock.Anything, "cus_legacy").Return(billing.Customer{ID: "cus_legacy"}, nil).Once()
	f.provider.On("UpdateCustomerMetadata", mock.Anything, "cus_legacy", map[string]string{
		billing.MetadataUserID: f.user.ID.String(),
	}).Return(nil).Once()
	f.expectSession()

	_, err := f.orch.StartCheckout(context.Background(), f.user.ID, "monthly-membership")
	require.NoError(t, err)
}

func TestStartCheckout_ReplacesDeletedCustomer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "cus_gone")

	f.provider.On("GetCustomer", mock.Anything, "cus_gone").Return(billing.Customer{}, billing.ErrNotFound).Once()
	f.provider.On("CreateCustomer", mock.Anything, mock.Anything).Return(billing.Customer{ID: "cus_fresh"}, nil).Once()
	f.expectSession()

	_, err := f.orch.StartCheckout(context.Background(), f.user.ID, "monthly-membership")
	require.NoError(t, err)
	profile, err := f.store.GetProfile(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_fresh", profile.CustomerID)
}

func TestStartCheckout_Refusals(t *testing.T) {
	t.Parallel()

	t.Run("already subscribed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "cus_1")
		now := time.Now()
		f.store.PutSubscription(membership.Subscription{
			ID: uuid.New(), UserID: f.user.ID, ProviderSubscriptionID: "sub_1", Status: membership.StatusActive,
			Period: membership.Period{Start: now, End: now.Add(time.Hour)}, DownloadsLimit: 3,
		})
		_, err := f.orch.StartCheckout(context.Background(), f.user.ID, "yearly-membership")
		assert.ErrorIs(t, err, membership.ErrAlreadySubscribed)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "")
		_, err := f.orch.StartCheckout(context.Background(), f.user.ID, "lifetime")
		assert.ErrorIs(t, err, membership.ErrPlanNotFound)
	})

	t.Run("anonymous", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "")
		_, err := f.orch.StartCheckout(context.Background(), uuid.Nil, "monthly-membership")
		assert.ErrorIs(t, err, membership.ErrUnauthenticated)
	})

	t.Run("provider failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "")
		f.provider.On("CreateCustomer", mock.Anything, mock.Anything).
			Return(billing.Customer{}, errors.Join(billing.ErrProviderRequest, errors.New("502")))
		_, err := f.orch.StartCheckout(context.Background(), f.user.ID, "monthly-membership")
		assert.ErrorIs(t, err, billing.ErrProviderRequest)
		profile, _ := f.store.GetProfile(context.Background(), f.user.ID)
		assert.Empty(t, profile.CustomerID)
	})
}

func TestPortalURL(t *testing.T) {
	t.Parallel()

	t.Run("uses stored customer", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "cus_1")
		f.provider.On("CreatePortalSession", mock.Anything, "cus_1", "https://soulhome.example/dashboard/settings").
			Return("https://billing.example/session", nil)
		url, err := f.orch.PortalURL(context.Background(), f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://billing.example/session", url)
	})

	t.Run("falls back to subscription customer", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "")
		now := time.Now()
		f.store.PutSubscription(membership.Subscription{
			ID: uuid.New(), UserID: f.user.ID, CustomerID: "cus_sub", ProviderSubscriptionID: "sub_1",
			Status: membership.StatusCanceled, Period: membership.Period{Start: now, End: now.Add(time.Hour)},
		})
		f.provider.On("CreatePortalSession", mock.Anything, "cus_sub", mock.Anything).Return("https://billing.example/s", nil)
		_, err := f.orch.PortalURL(context.Background(), f.user.ID)
		require.NoError(t, err)
	})

	t.Run("no billing account", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "")
		_, err := f.orch.PortalURL(context.Background(), f.user.ID)
		assert.ErrorIs(t, err, membership.ErrNoBillingAccount)
	})
}
