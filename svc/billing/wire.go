package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Yashkondane/soulhome-official/pkg/metrics"
)

// Provider objects are decoded into these local wire shapes instead of
// reading SDK struct fields directly, so field moves between API versions
// (period bounds moving from the subscription onto its items, invoice
// subscription moving under parent) are absorbed in one place.

// expandable decodes a field that is either an id string or an expanded
// object with an id.
type expandable struct {
	ID     string
	Object json.RawMessage
}

func (e *expandable) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &e.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	e.Object = append(json.RawMessage(nil), b...)
	return nil
}

type stripePeriodItem struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	Price              struct {
		ID string `json:"id"`
	} `json:"price"`
}

type stripeSubscriptionWire struct {
	ID                 string            `json:"id"`
	Customer           expandable        `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []stripePeriodItem `json:"data"`
	} `json:"items"`
}

func (w stripeSubscriptionWire) toSubscription() Subscription {
	s := Subscription{
		ID:                w.ID,
		CustomerID:        w.Customer.ID,
		Status:            w.Status,
		PeriodStart:       w.CurrentPeriodStart,
		PeriodEnd:         w.CurrentPeriodEnd,
		CancelAtPeriodEnd: w.CancelAtPeriodEnd,
		Metadata:          w.Metadata,
	}
	if len(w.Items.Data) > 0 {
		item := w.Items.Data[0]
		if s.PeriodStart == 0 {
			s.PeriodStart = item.CurrentPeriodStart
		}
		if s.PeriodEnd == 0 {
			s.PeriodEnd = item.CurrentPeriodEnd
		}
		s.PriceID = item.Price.ID
	}
	return s
}

type stripeInvoiceWire struct {
	ID           string     `json:"id"`
	Customer     expandable `json:"customer"`
	Subscription expandable `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandable `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (w stripeInvoiceWire) subscriptionID() string {
	if w.Subscription.ID != "" {
		return w.Subscription.ID
	}
	if w.Parent != nil && w.Parent.SubscriptionDetails != nil {
		return w.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

type stripeSessionWire struct {
	ID            string            `json:"id"`
	ClientSecret  string            `json:"client_secret"`
	URL           string            `json:"url"`
	Mode          string            `json:"mode"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	Customer      expandable        `json:"customer"`
	Subscription  expandable        `json:"subscription"`
	PaymentIntent expandable        `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

func (w stripeSessionWire) toSession() (CheckoutSession, error) {
	s := CheckoutSession{
		ID:              w.ID,
		ClientSecret:    w.ClientSecret,
		URL:             w.URL,
		CustomerID:      w.Customer.ID,
		Mode:            CheckoutMode(w.Mode),
		Status:          w.Status,
		PaymentStatus:   w.PaymentStatus,
		SubscriptionID:  w.Subscription.ID,
		PaymentIntentID: w.PaymentIntent.ID,
		AmountTotal:     w.AmountTotal,
		Currency:        w.Currency,
		Metadata:        w.Metadata,
	}
	if len(w.Subscription.Object) > 0 {
		var sw stripeSubscriptionWire
		if err := decodeJSON(w.Subscription.Object, &sw); err != nil {
			return CheckoutSession{}, err
		}
		sub := sw.toSubscription()
		if sub.CustomerID == "" {
			sub.CustomerID = s.CustomerID
		}
		s.Subscription = &sub
	}
	return s, nil
}

func decodeJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty object", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	return nil
}

// remarshal converts an SDK response into a wire shape.
func remarshal(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	return decodeJSON(b, out)
}

func observe(provider, op string, start time.Time) {
	metrics.ProviderCallDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
}
