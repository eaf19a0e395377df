// Package apierr maps domain failures onto API error responses.
package apierr

import (
	"github.com/Yashkondane/soulhome-official/handler"
	"github.com/Yashkondane/soulhome-official/svc/billing"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

// Mappings is shared by every API module. Upstream failures carry a fixed
// message so provider error text never reaches clients.
var Mappings = []handler.ErrorMapping{
	{Err: membership.ErrUnauthenticated, HTTP: handler.ErrUnauthorized},
	{Err: membership.ErrProfileNotFound, HTTP: handler.ErrUnauthorized, Message: membership.ErrUnauthenticated.Error()},
	{Err: membership.ErrUnauthorized, HTTP: handler.ErrForbidden},
	{Err: membership.ErrNoActiveSubscription, HTTP: handler.ErrPaymentRequired},
	{Err: membership.ErrQuotaExceeded, HTTP: handler.ErrTooManyRequests},
	{Err: membership.ErrInvalidResourceConfiguration, HTTP: handler.ErrUnprocessableEntity},
	{Err: membership.ErrEmailNotFound, HTTP: handler.ErrUnprocessableEntity},
	{Err: membership.ErrResourceNotFound, HTTP: handler.ErrNotFound},
	{Err: membership.ErrPlanNotFound, HTTP: handler.ErrNotFound},
	{Err: membership.ErrSessionNotFound, HTTP: handler.ErrNotFound},
	{Err: membership.ErrNoBillingAccount, HTTP: handler.ErrNotFound},
	{Err: membership.ErrAlreadySubscribed, HTTP: handler.ErrConflict},
	{Err: membership.ErrGrantFailed, HTTP: handler.ErrBadGateway, Message: membership.ErrGrantFailed.Error()},
	{Err: membership.ErrRecordFailed, HTTP: handler.ErrInternalServerError, Message: membership.ErrRecordFailed.Error()},
	{Err: billing.ErrProviderRequest, HTTP: handler.ErrBadGateway, Message: "payment provider unavailable"},
}
