package reconciler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Yashkondane/soulhome-official/internal/store/memstore"
	"github.com/Yashkondane/soulhome-official/svc/billing"
	"github.com/Yashkondane/soulhome-official/svc/billing/billingtest"
	"github.com/Yashkondane/soulhome-official/svc/fileshare"
	"github.com/Yashkondane/soulhome-official/svc/membership"
	"github.com/Yashkondane/soulhome-official/svc/reconciler"
)

const (
	rootFolder  = "root-folder"
	customerID  = "cus_123"
	providerSub = "sub_123"
	periodStart = int64(1700000000)
	periodEnd   = int64(1702592000)
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memstore.Store
	provider *billingtest.Provider
	sharer   *fileshare.MemorySharer
	svc      reconciler.Service
	user     membership.Profile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		provider: &billingtest.Provider{},
		sharer:   fileshare.NewMemorySharer(),
		user: membership.Profile{
			ID:    uuid.New(),
			Email: "member@example.com",
		},
	}
	f.store.PutProfile(f.user)
	f.svc = reconciler.NewService(f.store, f.provider, f.sharer,
		reconciler.WithRootFolder(rootFolder),
		reconciler.WithClock(func() time.Time { return fixedNow }),
	)
	t.Cleanup(func() { f.provider.AssertExpectations(t) })
	return f
}

func (f *fixture) expectCustomer() *mock.Call {
	return f.provider.On("GetCustomer", mock.Anything, customerID).Return(billing.Customer{
		ID:       customerID,
		Email:    f.user.Email,
		Metadata: map[string]string{billing.MetadataUserID: f.user.ID.String()},
	}, nil)
}

func subscriptionEvent(kind billing.Kind, status string, start, end int64) billing.Event {
	return billing.Event{
		ID:           "evt_" + string(kind),
		Kind:         kind,
		ProviderType: string(kind),
		Subscription: &billing.Subscription{
			ID:          providerSub,
			CustomerID:  customerID,
			Status:      status,
			PeriodStart: start,
			PeriodEnd:   end,
			Metadata:    map[string]string{billing.MetadataProductID: "yearly-membership"},
		},
	}
}

func (f *fixture) only(t *testing.T) membership.Subscription {
	t.Helper()
	subs := f.store.Subscriptions(f.user.ID)
	require.Len(t, subs, 1)
	return subs[0]
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	t.Run("converts epoch seconds", func(t *testing.T) {
		t.Parallel()
		snap := reconciler.Normalize(billing.Subscription{
			ID: providerSub, Status: "trialing", PeriodStart: periodStart, PeriodEnd: periodEnd,
		}, fixedNow)
		assert.Equal(t, time.Unix(periodStart, 0).UTC(), snap.Period.Start)
		assert.Equal(t, time.Unix(periodEnd, 0).UTC(), snap.Period.End)
		assert.Equal(t, membership.StatusTrialing, snap.Status)
		assert.Equal(t, membership.DefaultPlanID, snap.PlanID)
		assert.Empty(t, snap.Anomalies)
	})

	t.Run("end before start is recomputed", func(t *testing.T) {
		t.Parallel()
		snap := reconciler.Normalize(billing.Subscription{PeriodStart: 1700000000, PeriodEnd: 1690000000}, fixedNow)
		start := time.Unix(1700000000, 0).UTC()
		assert.Equal(t, start, snap.Period.Start)
		assert.Equal(t, start.Add(30*24*time.Hour), snap.Period.End)
		assert.Equal(t, []membership.Anomaly{membership.AnomalyInvertedPeriod}, snap.Anomalies)
	})

	t.Run("missing period is synthesized from now", func(t *testing.T) {
		t.Parallel()
		snap := reconciler.Normalize(billing.Subscription{}, fixedNow)
		assert.Equal(t, fixedNow, snap.Period.Start)
		assert.Equal(t, fixedNow.Add(membership.DefaultPeriodLength), snap.Period.End)
		assert.Equal(t, []membership.Anomaly{membership.AnomalyMissingStart, membership.AnomalyMissingEnd}, snap.Anomalies)
	})
}

func TestHandleEvent_CreatesFromCustomerMetadata(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectCustomer()

	err := f.svc.HandleEvent(context.Background(), subscriptionEvent(billing.EventSubscriptionCreated, "incomplete", periodStart, periodEnd))
	require.NoError(t, err)

	sub := f.only(t)
	assert.Equal(t, membership.StatusActive, sub.Status)
	assert.Equal(t, providerSub, sub.ProviderSubscriptionID)
	assert.Equal(t, customerID, sub.CustomerID)
	assert.Equal(t, "yearly-membership", sub.PlanID)
	assert.Equal(t, membership.DefaultDownloadLimit, sub.DownloadsLimit)
	assert.Equal(t, time.Unix(periodStart, 0).UTC(), sub.Period.Start)
	assert.NotEmpty(t, sub.FolderPermissionID)
	assert.True(t, f.sharer.HasAccess(rootFolder, f.user.Email))
}

func TestHandleEvent_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectCustomer()
	ctx := context.Background()

	event := subscriptionEvent(billing.EventSubscriptionUpdated, "active", periodStart, periodEnd)
	require.NoError(t, f.svc.HandleEvent(ctx, event))
	first := f.only(t)

	for range 3 {
		require.NoError(t, f.svc.HandleEvent(ctx, event))
	}
	assert.Equal(t, first, f.only(t))

	grants, _ := f.sharer.Calls()
	assert.Equal(t, 1, grants)
	f.provider.AssertNumberOfCalls(t, "GetCustomer", 1)
}

func TestHandleEvent_MissingMappingIsDropped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		customer billing.Customer
		err      error
	}{
		{name: "no metadata", customer: billing.Customer{ID: customerID}},
		{name: "deleted customer", customer: billing.Customer{ID: customerID, Deleted: true}},
		{name: "customer not found", err: billing.ErrNotFound},
		{name: "unknown local user", customer: billing.Customer{
			ID: customerID, Metadata: map[string]string{billing.MetadataUserID: uuid.NewString()},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.provider.On("GetCustomer", mock.Anything, customerID).Return(tt.customer, tt.err)

			err := f.svc.HandleEvent(context.Background(), subscriptionEvent(billing.EventSubscriptionUpdated, "active", periodStart, periodEnd))
			require.NoError(t, err)
			assert.Empty(t, f.store.Subscriptions(f.user.ID))
		})
	}
}

func TestHandleEvent_LegacyMetadataKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.provider.On("GetCustomer", mock.Anything, customerID).Return(billing.Customer{
		ID:       customerID,
		Metadata: map[string]string{"supabase_user_id": f.user.ID.String()},
	}, nil)

	require.NoError(t, f.svc.HandleEvent(context.Background(), subscriptionEvent(billing.EventSubscriptionUpdated, "active", periodStart, periodEnd)))
	assert.Equal(t, membership.StatusActive, f.only(t).Status)
}

func TestHandleEvent_ProviderErrorIsReturned(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.provider.On("GetCustomer", mock.Anything, customerID).
		Return(billing.Customer{}, errors.Join(billing.ErrProviderRequest, errors.New("timeout")))

	err := f.svc.HandleEvent(context.Background(), subscriptionEvent(billing.EventSubscriptionUpdated, "active", periodStart, periodEnd))
	assert.ErrorIs(t, err, billing.ErrProviderRequest)
}

func TestHandleEvent_InvertedPeriodIsRepaired(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectCustomer()

	err := f.svc.HandleEvent(context.Background(), subscriptionEvent(billing.EventSubscriptionUpdated, "active", 1700000000, 1690000000))
	require.NoError(t, err)

	sub := f.only(t)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), sub.Period.Start)
	assert.Equal(t, sub.Period.Start.Add(30*24*time.Hour), sub.Period.End)
	assert.True(t, sub.Period.End.After(sub.Period.Start))
}

func TestHandleEvent_EpochConversionPerKind(t *testing.T) {
	t.Parallel()

	wantStart := time.Unix(periodStart, 0).UTC()
	wantEnd := time.Unix(periodEnd, 0).UTC()

	t.Run("subscription created", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.expectCustomer()
		require.NoError(t, f.svc.HandleEvent(context.Background(), subscriptionEvent(billing.EventSubscriptionCreated, "active", periodStart, periodEnd)))
		sub := f.only(t)
		assert.Equal(t, wantStart, sub.Period.Start)
		assert.Equal(t, wantEnd, sub.Period.End)
	})

	t.Run("subscription updated", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.expectCustomer()
		require.NoError(t, f.svc.HandleEvent(context.Background(), subscriptionEvent(billing.EventSubscriptionUpdated, "active", periodStart, periodEnd)))
		sub := f.only(t)
		assert.Equal(t, wantStart, sub.Period.Start)
		assert.Equal(t, wantEnd, sub.Period.End)
	})

	t.Run("invoice paid", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.expectCustomer()
		f.provider.On("GetSubscription", mock.Anything, providerSub).Return(billing.Subscription{
			ID: providerSub, CustomerID: customerID, Status: "active", PeriodStart: periodStart, PeriodEnd: periodEnd,
		}, nil)
		require.NoError(t, f.svc.HandleEvent(context.Background(), billing.Event{
			ID:           "evt_invoice",
			Kind:         billing.EventInvoicePaid,
			Subscription: &billing.Subscription{ID: providerSub, CustomerID: customerID},
		}))
		sub := f.only(t)
		assert.Equal(t, wantStart, sub.Period.Start)
		assert.Equal(t, wantEnd, sub.Period.End)
	})

	t.Run("checkout confirmed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.provider.On("GetCheckoutSession", mock.Anything, "cs_1").Return(billing.CheckoutSession{
			ID:            "cs_1",
			CustomerID:    customerID,
			Mode:          billing.ModeSubscription,
			Status:        "complete",
			PaymentStatus: "paid",
			Metadata:      map[string]string{billing.MetadataUserID: f.user.ID.String()},
			Subscription: &billing.Subscription{
				ID: providerSub, CustomerID: customerID, Status: "incomplete", PeriodStart: periodStart, PeriodEnd: periodEnd,
			},
		}, nil)
		conf, err := f.svc.ConfirmCheckout(context.Background(), f.user.ID, "cs_1")
		require.NoError(t, err)
		require.NotNil(t, conf.Subscription)
		assert.Equal(t, membership.StatusActive, conf.Subscription.Status)
		sub := f.only(t)
		assert.Equal(t, wantStart, sub.Period.Start)
		assert.Equal(t, wantEnd, sub.Period.End)
	})
}

func TestHandleEvent_ConcurrentCreateYieldsOneRow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectCustomer()

	event := subscriptionEvent(billing.EventSubscriptionCreated, "active", periodStart, periodEnd)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.HandleEvent(context.Background(), event))
		}()
	}
	wg.Wait()

	sub := f.only(t)
	assert.Equal(t, membership.StatusActive, sub.Status)
	assert.Equal(t, "yearly-membership", sub.PlanID)
	assert.Equal(t, time.Unix(periodStart, 0).UTC(), sub.Period.Start)
}

func TestHandleEvent_CancelRevokesAccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectCustomer()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionCreated, "active", periodStart, periodEnd)))
	sub := f.only(t)

	files := []string{"file-a", "file-b", "file-c"}
	perms := make(map[string]string)
	for _, fileID := range files {
		res := membership.Resource{ID: uuid.New(), Title: fileID, IsPublished: true}
		f.store.PutResource(res)
		perm, err := f.sharer.Grant(ctx, fileID, f.user.Email)
		require.NoError(t, err)
		perms[fileID] = perm
		require.NoError(t, f.store.RecordDownload(ctx, membership.Download{
			ID: uuid.New(), UserID: f.user.ID, ResourceID: res.ID, Period: sub.Period,
			FileID: fileID, PermissionID: perm, DownloadedAt: fixedNow,
		}, sub.ID))
	}
	f.sharer.FailRevoke(perms["file-b"], errors.New("provider down"))

	require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionDeleted, "canceled", periodStart, periodEnd)))

	assert.Equal(t, membership.StatusCanceled, f.only(t).Status)
	assert.False(t, f.sharer.HasAccess("file-a", f.user.Email))
	assert.True(t, f.sharer.HasAccess("file-b", f.user.Email), "failed revoke leaves access in place")
	assert.False(t, f.sharer.HasAccess("file-c", f.user.Email))
	assert.False(t, f.sharer.HasAccess(rootFolder, f.user.Email))

	t.Run("canceled is terminal", func(t *testing.T) {
		require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionUpdated, "active", periodStart, periodEnd)))
		assert.Equal(t, membership.StatusCanceled, f.only(t).Status)
		assert.False(t, f.sharer.HasAccess(rootFolder, f.user.Email))
	})
}

func TestHandleEvent_CancelFindsUnrecordedFolderPermission(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sharer.Grant(ctx, rootFolder, f.user.Email)
	require.NoError(t, err)
	f.store.PutSubscription(membership.Subscription{
		ID: uuid.New(), UserID: f.user.ID, CustomerID: customerID, ProviderSubscriptionID: providerSub,
		Status: membership.StatusActive, PlanID: membership.DefaultPlanID, DownloadsLimit: 3,
		Period: membership.Period{Start: fixedNow, End: fixedNow.Add(membership.DefaultPeriodLength)},
	})

	require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionDeleted, "canceled", 0, 0)))
	assert.False(t, f.sharer.HasAccess(rootFolder, f.user.Email))
}

func TestHandleEvent_StatusTransitions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectCustomer()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionCreated, "active", periodStart, periodEnd)))

	require.NoError(t, f.svc.HandleEvent(ctx, billing.Event{
		ID: "evt_failed", Kind: billing.EventInvoiceFailed,
		Subscription: &billing.Subscription{ID: providerSub, CustomerID: customerID},
	}))
	assert.Equal(t, membership.StatusPastDue, f.only(t).Status)
	assert.True(t, f.sharer.HasAccess(rootFolder, f.user.Email), "past due keeps file access")

	require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionUpdated, "trialing", periodStart, periodEnd)))
	assert.Equal(t, membership.StatusTrialing, f.only(t).Status)

	require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionUpdated, "active", periodStart, periodEnd)))
	assert.Equal(t, membership.StatusActive, f.only(t).Status)
	_, revokes := f.sharer.Calls()
	assert.Zero(t, revokes)
}

func TestHandleEvent_FirstSightEntersActive(t *testing.T) {
	t.Parallel()

	for _, kind := range []billing.Kind{billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated} {
		for _, status := range []string{"past_due", "incomplete", "trialing"} {
			t.Run(string(kind)+"/"+status, func(t *testing.T) {
				t.Parallel()
				f := newFixture(t)
				f.expectCustomer()
				ctx := context.Background()

				require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(kind, status, periodStart, periodEnd)))
				assert.Equal(t, membership.StatusActive, f.only(t).Status)
				assert.True(t, f.sharer.HasAccess(rootFolder, f.user.Email))

				// once the row exists, the status follows the provider
				require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionUpdated, status, periodStart, periodEnd)))
				assert.Equal(t, membership.ParseStatus(status), f.only(t).Status)
			})
		}
	}
}

func TestHandleEvent_PeriodRolloverResetsUsage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectCustomer()
	ctx := context.Background()

	require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionUpdated, "active", periodStart, periodEnd)))
	sub := f.only(t)

	res := membership.Resource{ID: uuid.New(), IsPublished: true}
	f.store.PutResource(res)
	require.NoError(t, f.store.RecordDownload(ctx, membership.Download{
		ID: uuid.New(), UserID: f.user.ID, ResourceID: res.ID, Period: sub.Period, FileID: "file-a",
	}, sub.ID))
	require.Equal(t, 1, f.only(t).DownloadsUsed)

	t.Run("same period keeps usage", func(t *testing.T) {
		require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionUpdated, "active", periodStart, periodEnd+60)))
		assert.Equal(t, 1, f.only(t).DownloadsUsed)
	})

	t.Run("new period resets usage", func(t *testing.T) {
		require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionUpdated, "active", periodEnd, periodEnd+2592000)))
		got := f.only(t)
		assert.Zero(t, got.DownloadsUsed)
		assert.Equal(t, time.Unix(periodEnd, 0).UTC(), got.Period.Start)
	})
}

func TestHandleEvent_NewSubscriptionSupersedesOld(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectCustomer()
	ctx := context.Background()

	old := membership.Subscription{
		ID: uuid.New(), UserID: f.user.ID, CustomerID: customerID, ProviderSubscriptionID: "sub_old",
		Status: membership.StatusActive, PlanID: membership.DefaultPlanID, DownloadsLimit: 3,
		Period:    membership.Period{Start: fixedNow.Add(-time.Hour), End: fixedNow.Add(membership.DefaultPeriodLength)},
		CreatedAt: fixedNow.Add(-time.Hour),
	}
	f.store.PutSubscription(old)

	require.NoError(t, f.svc.HandleEvent(ctx, subscriptionEvent(billing.EventSubscriptionCreated, "active", periodStart, periodEnd)))

	stored, err := f.store.GetSubscriptionByProviderID(ctx, "sub_old")
	require.NoError(t, err)
	assert.Equal(t, membership.StatusCanceled, stored.Status)

	active, err := f.store.GetActiveSubscription(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, providerSub, active.ProviderSubscriptionID)
}

func TestHandleEvent_OneTimeCheckoutRecordsBooking(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	event := billing.Event{
		ID:   "evt_checkout",
		Kind: billing.EventCheckoutCompleted,
		Checkout: &billing.CheckoutSession{
			ID:              "cs_pay",
			Mode:            billing.ModePayment,
			PaymentStatus:   "paid",
			PaymentIntentID: "pi_1",
			AmountTotal:     7500,
			Currency:        "gbp",
			Metadata: map[string]string{
				billing.MetadataUserID:    f.user.ID.String(),
				billing.MetadataProductID: "healing-session",
				billing.MetadataType:      "one_time",
			},
		},
	}
	require.NoError(t, f.svc.HandleEvent(ctx, event))
	require.NoError(t, f.svc.HandleEvent(ctx, event))

	bookings := f.store.Bookings(f.user.ID)
	require.Len(t, bookings, 1)
	assert.Equal(t, "healing-session", bookings[0].ProductID)
	assert.Equal(t, int64(7500), bookings[0].AmountTotal)
	assert.Equal(t, "paid", bookings[0].Status)
}

func TestConfirmCheckout(t *testing.T) {
	t.Parallel()

	t.Run("session of another user", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.provider.On("GetCheckoutSession", mock.Anything, "cs_1").Return(billing.CheckoutSession{
			ID: "cs_1", Mode: billing.ModeSubscription, PaymentStatus: "paid",
			Metadata: map[string]string{billing.MetadataUserID: uuid.NewString()},
		}, nil)
		_, err := f.svc.ConfirmCheckout(context.Background(), f.user.ID, "cs_1")
		assert.ErrorIs(t, err, membership.ErrUnauthorized)
	})

	t.Run("unknown session", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.provider.On("GetCheckoutSession", mock.Anything, "cs_missing").Return(billing.CheckoutSession{}, billing.ErrNotFound)
		_, err := f.svc.ConfirmCheckout(context.Background(), f.user.ID, "cs_missing")
		assert.ErrorIs(t, err, membership.ErrSessionNotFound)
	})

	t.Run("unpaid session is not reconciled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.provider.On("GetCheckoutSession", mock.Anything, "cs_open").Return(billing.CheckoutSession{
			ID: "cs_open", Mode: billing.ModeSubscription, Status: "open", PaymentStatus: "unpaid",
			Metadata: map[string]string{billing.MetadataUserID: f.user.ID.String()},
		}, nil)
		conf, err := f.svc.ConfirmCheckout(context.Background(), f.user.ID, "cs_open")
		require.NoError(t, err)
		assert.Nil(t, conf.Subscription)
		assert.Empty(t, f.store.Subscriptions(f.user.ID))
	})

	t.Run("fetches subscription by id and races the webhook", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.expectCustomer().Maybe()
		f.provider.On("GetCheckoutSession", mock.Anything, "cs_2").Return(billing.CheckoutSession{
			ID: "cs_2", CustomerID: customerID, Mode: billing.ModeSubscription, PaymentStatus: "paid",
			SubscriptionID: providerSub,
			Metadata:       map[string]string{billing.MetadataUserID: f.user.ID.String()},
		}, nil)
		f.provider.On("GetSubscription", mock.Anything, providerSub).Return(billing.Subscription{
			ID: providerSub, CustomerID: customerID, Status: "active", PeriodStart: periodStart, PeriodEnd: periodEnd,
		}, nil)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.ConfirmCheckout(context.Background(), f.user.ID, "cs_2")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.HandleEvent(context.Background(),
				subscriptionEvent(billing.EventSubscriptionCreated, "active", periodStart, periodEnd)))
		}()
		wg.Wait()

		assert.Equal(t, membership.StatusActive, f.only(t).Status)
	})
}
