package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yashkondane/soulhome-official/internal/store/memstore"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

func TestEnsureProfile(t *testing.T) {
	t.Parallel()
	s := memstore.New()
	ctx := context.Background()
	id := uuid.New()

	p, err := s.EnsureProfile(ctx, id, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", p.Email)
	require.NoError(t, s.SetCustomerID(ctx, id, "cus_1"))

	p, err = s.EnsureProfile(ctx, id, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", p.Email)
	assert.Equal(t, "cus_1", p.CustomerID)

	p, err = s.EnsureProfile(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", p.Email)

	other := uuid.New()
	_, err = s.EnsureProfile(ctx, other, "c@example.com")
	require.NoError(t, err)
	assert.ErrorIs(t, s.SetCustomerID(ctx, other, "cus_1"), membership.ErrAlreadyExists)
}

func TestRecordDownload(t *testing.T) {
	t.Parallel()
	s := memstore.New()
	ctx := context.Background()
	user := uuid.New()
	s.PutProfile(membership.Profile{ID: user, Email: "a@example.com"})

	now := time.Now()
	sub := membership.Subscription{
		ID: uuid.New(), UserID: user, ProviderSubscriptionID: "sub_1", Status: membership.StatusActive,
		Period: membership.Period{Start: now, End: now.Add(time.Hour)}, DownloadsUsed: 2, DownloadsLimit: 3,
	}
	s.PutSubscription(sub)
	a, b := uuid.New(), uuid.New()
	s.PutResource(membership.Resource{ID: a, Title: "A"})
	s.PutResource(membership.Resource{ID: b, Title: "B"})

	dl := func(resource uuid.UUID) membership.Download {
		return membership.Download{ID: uuid.New(), UserID: user, ResourceID: resource, Period: sub.Period, DownloadedAt: now}
	}

	assert.ErrorIs(t, s.RecordDownload(ctx, dl(uuid.New()), sub.ID), membership.ErrResourceNotFound)
	assert.ErrorIs(t, s.RecordDownload(ctx, dl(a), uuid.New()), membership.ErrSubscriptionNotFound)
	require.NoError(t, s.RecordDownload(ctx, dl(a), sub.ID))
	assert.ErrorIs(t, s.RecordDownload(ctx, dl(a), sub.ID), membership.ErrAlreadyExists)
	assert.ErrorIs(t, s.RecordDownload(ctx, dl(b), sub.ID), membership.ErrLimitReached)

	got, err := s.GetActiveSubscription(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, got.DownloadsUsed)
	assert.Len(t, s.Downloads(user), 1)
}

func TestSubscriptionWrites(t *testing.T) {
	t.Parallel()
	s := memstore.New()
	ctx := context.Background()
	user := uuid.New()
	s.PutProfile(membership.Profile{ID: user})
	now := time.Now()

	sub := membership.Subscription{
		ID: uuid.New(), UserID: user, ProviderSubscriptionID: "sub_1", Status: membership.StatusActive,
		Period: membership.Period{Start: now, End: now.Add(time.Hour)}, CreatedAt: now,
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))

	dup := sub
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.CreateSubscription(ctx, dup), membership.ErrAlreadyExists)

	bad := sub
	bad.ID, bad.ProviderSubscriptionID = uuid.New(), "sub_2"
	bad.Period.End = bad.Period.Start
	assert.ErrorIs(t, s.CreateSubscription(ctx, bad), membership.ErrInvalidPeriod)

	orphan := sub
	orphan.ID, orphan.ProviderSubscriptionID, orphan.UserID = uuid.New(), "sub_3", uuid.New()
	assert.ErrorIs(t, s.CreateSubscription(ctx, orphan), membership.ErrProfileNotFound)

	stored, err := s.GetSubscriptionByProviderID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, membership.DefaultDownloadLimit, stored.DownloadsLimit)

	stored.FolderPermissionID = "perm_1"
	stored.DownloadsUsed = 99
	require.NoError(t, s.UpdateSubscription(ctx, stored, false))
	stored.FolderPermissionID = ""
	require.NoError(t, s.UpdateSubscription(ctx, stored, false))

	got, err := s.GetSubscriptionByProviderID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "perm_1", got.FolderPermissionID)
	assert.Zero(t, got.DownloadsUsed)
}

func TestListCategories(t *testing.T) {
	t.Parallel()
	s := memstore.New()
	s.PutCategory(membership.Category{ID: uuid.New(), Name: "Meditation", SortOrder: 2})
	s.PutCategory(membership.Category{ID: uuid.New(), Name: "Breathwork", SortOrder: 1})
	s.PutCategory(membership.Category{ID: uuid.New(), Name: "Affirmations", SortOrder: 2})

	list, err := s.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"Breathwork", "Affirmations", "Meditation"},
		[]string{list[0].Name, list[1].Name, list[2].Name})
}
