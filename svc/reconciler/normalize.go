package reconciler

import (
	"slices"
	"time"

	"github.com/Yashkondane/soulhome-official/svc/billing"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

// Snapshot is a provider subscription with the period and status policy
// applied, ready to be mirrored into the store.
type Snapshot struct {
	ProviderSubscriptionID string
	CustomerID             string
	Status                 membership.Status
	PlanID                 string
	Period                 membership.Period
	CancelAtPeriodEnd      bool
	// Anomalies lists every substitution made while building Period.
	Anomalies []membership.Anomaly
}

// Normalize maps a provider subscription onto a Snapshot. It is the only
// place provider timestamps are converted.
func Normalize(sub billing.Subscription, now time.Time) Snapshot {
	period, anomalies := membership.NormalizePeriod(sub.PeriodStart, sub.PeriodEnd, now)

	plan := sub.ProductID()
	if plan == "" {
		plan = membership.DefaultPlanID
	}

	return Snapshot{
		ProviderSubscriptionID: sub.ID,
		CustomerID:             sub.CustomerID,
		Status:                 membership.ParseStatus(sub.Status),
		PlanID:                 plan,
		Period:                 period,
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		Anomalies:              anomalies,
	}
}

// synthesizedStart reports whether the period start was invented because the
// provider sent none.
func (s Snapshot) synthesizedStart() bool {
	return slices.Contains(s.Anomalies, membership.AnomalyMissingStart)
}
