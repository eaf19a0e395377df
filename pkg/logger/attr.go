package logger

import (
	"log/slog"
)

// Error records err under "error". A nil error yields an empty Attr, which
// slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the local user identifier.
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// CustomerID records the payment provider customer identifier.
func CustomerID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("customer_id", id)
}

// SubscriptionID records the payment provider subscription identifier.
func SubscriptionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("subscription_id", id)
}

// ResourceID records a gated resource identifier.
func ResourceID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("resource_id", id)
}

// FileID records a file-sharing provider file identifier.
func FileID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("file_id", id)
}

// EventID records the webhook event identifier.
func EventID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("event_id", id)
}

// EventType records the provider event type.
func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

// Component records the emitting component.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Critical marks a record that needs manual follow-up.
func Critical() slog.Attr {
	return slog.Bool("critical", true)
}
