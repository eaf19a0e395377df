package membership

import "time"

// Summary is the dashboard view of a member's entitlement.
type Summary struct {
	Entitled          bool       `json:"entitled"`
	Status            Status     `json:"status,omitempty"`
	PlanID            string     `json:"plan_id,omitempty"`
	Period            *Period    `json:"current_period,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	DownloadsUsed     int        `json:"downloads_used"`
	DownloadsLimit    int        `json:"downloads_limit"`
	DownloadsLeft     int        `json:"downloads_remaining"`
	ResetsAt          *time.Time `json:"resets_at,omitempty"`
}

// Summarize builds the dashboard view. It applies the same entitlement
// policy as the download gate; a nil subscription is not entitled.
func Summarize(sub *Subscription) Summary {
	if sub == nil {
		return Summary{}
	}
	s := Summary{
		Entitled:          sub.Status.Entitled(),
		Status:            sub.Status,
		PlanID:            sub.PlanID,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		DownloadsUsed:     sub.DownloadsUsed,
		DownloadsLimit:    sub.DownloadsLimit,
		DownloadsLeft:     sub.Remaining(),
	}
	if sub.Period.Valid() {
		p := sub.Period
		end := p.End
		s.Period = &p
		s.ResetsAt = &end
	}
	return s
}
