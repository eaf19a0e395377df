package membership_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yashkondane/soulhome-official/svc/membership"
)

func TestNormalizePeriod(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	t.Run("valid period converts epoch seconds", func(t *testing.T) {
		t.Parallel()
		p, anomalies := membership.NormalizePeriod(1700000000, 1702592000, now)
		assert.Empty(t, anomalies)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), p.Start)
		assert.Equal(t, time.Unix(1702592000, 0).UTC(), p.End)
		assert.Equal(t, 2023, p.Start.Year())
	})

	t.Run("inverted period is replaced by a 30 day window", func(t *testing.T) {
		t.Parallel()
		p, anomalies := membership.NormalizePeriod(1700000000, 1690000000, now)
		assert.Equal(t, []membership.Anomaly{membership.AnomalyInvertedPeriod}, anomalies)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), p.Start)
		assert.Equal(t, p.Start.Add(30*24*time.Hour), p.End)
		assert.True(t, p.Valid())
	})

	t.Run("equal bounds count as inverted", func(t *testing.T) {
		t.Parallel()
		p, anomalies := membership.NormalizePeriod(1700000000, 1700000000, now)
		assert.Contains(t, anomalies, membership.AnomalyInvertedPeriod)
		assert.True(t, p.End.After(p.Start))
	})

	t.Run("missing start uses now", func(t *testing.T) {
		t.Parallel()
		p, anomalies := membership.NormalizePeriod(0, 0, now)
		assert.ElementsMatch(t, []membership.Anomaly{membership.AnomalyMissingStart, membership.AnomalyMissingEnd}, anomalies)
		assert.Equal(t, now, p.Start)
		assert.Equal(t, now.Add(membership.DefaultPeriodLength), p.End)
	})

	t.Run("missing end uses start plus 30 days", func(t *testing.T) {
		t.Parallel()
		p, anomalies := membership.NormalizePeriod(1700000000, 0, now)
		assert.Equal(t, []membership.Anomaly{membership.AnomalyMissingEnd}, anomalies)
		assert.Equal(t, time.Unix(1700000000, 0).UTC().Add(membership.DefaultPeriodLength), p.End)
	})

	t.Run("millisecond values are detected", func(t *testing.T) {
		t.Parallel()
		p, anomalies := membership.NormalizePeriod(1700000000000, 1702592000000, now)
		assert.Equal(t, []membership.Anomaly{membership.AnomalyMillisecondEpoch}, anomalies)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), p.Start)
		assert.Equal(t, time.Unix(1702592000, 0).UTC(), p.End)
	})

	t.Run("ensure valid repairs stored periods", func(t *testing.T) {
		t.Parallel()
		start := time.Unix(1700000000, 0).UTC()
		p, anomalies := membership.EnsureValid(membership.Period{Start: start, End: start.Add(-time.Hour)}, now)
		assert.Equal(t, []membership.Anomaly{membership.AnomalyInvertedPeriod}, anomalies)
		assert.Equal(t, start.Add(membership.DefaultPeriodLength), p.End)
	})
}

func TestStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, membership.StatusActive.Entitled())
	for _, s := range []membership.Status{membership.StatusTrialing, membership.StatusPastDue, membership.StatusCanceled, membership.StatusIncomplete} {
		assert.False(t, s.Entitled(), s)
	}
	assert.Equal(t, []membership.Status{membership.StatusActive}, membership.EntitledStatuses())

	tests := map[string]membership.Status{
		"active":             membership.StatusActive,
		"canceled":           membership.StatusCanceled,
		"incomplete_expired": membership.StatusCanceled,
		"unpaid":             membership.StatusPastDue,
		"paused":             membership.StatusPastDue,
		"trialing":           membership.StatusTrialing,
		"incomplete":         membership.StatusIncomplete,
		"something_new":      membership.StatusIncomplete,
	}
	for raw, want := range tests {
		assert.Equal(t, want, membership.ParseStatus(raw), raw)
	}
}

func TestQuotaError(t *testing.T) {
	t.Parallel()

	resets := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	err := fmt.Errorf("gate: %w", &membership.QuotaError{Used: 3, Limit: 3, ResetsAt: resets})

	require.ErrorIs(t, err, membership.ErrQuotaExceeded)
	var qe *membership.QuotaError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "2026-11-01T00:00:00Z", qe.ErrorMeta()["resets_at"])
	assert.Contains(t, err.Error(), "3/3")
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	assert.False(t, membership.Summarize(nil).Entitled)

	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	sub := &membership.Subscription{
		Status:         membership.StatusActive,
		PlanID:         "monthly-membership",
		Period:         membership.Period{Start: start, End: start.AddDate(0, 1, 0)},
		DownloadsUsed:  2,
		DownloadsLimit: 3,
	}
	s := membership.Summarize(sub)
	assert.True(t, s.Entitled)
	assert.Equal(t, 1, s.DownloadsLeft)
	require.NotNil(t, s.ResetsAt)
	assert.Equal(t, start.AddDate(0, 1, 0), *s.ResetsAt)

	sub.Status = membership.StatusTrialing
	assert.False(t, membership.Summarize(sub).Entitled)

	sub.DownloadsUsed = 5
	assert.Equal(t, 0, membership.Summarize(sub).DownloadsLeft)
}
