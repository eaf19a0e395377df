package apierr_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yashkondane/soulhome-official/handler"
	"github.com/Yashkondane/soulhome-official/modules/apierr"
	"github.com/Yashkondane/soulhome-official/svc/billing"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

func TestMappings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code int
	}{
		{membership.ErrUnauthenticated, http.StatusUnauthorized},
		{membership.ErrUnauthorized, http.StatusForbidden},
		{membership.ErrNoActiveSubscription, http.StatusPaymentRequired},
		{&membership.QuotaError{Used: 3, Limit: 3, ResetsAt: time.Now()}, http.StatusTooManyRequests},
		{membership.ErrInvalidResourceConfiguration, http.StatusUnprocessableEntity},
		{membership.ErrResourceNotFound, http.StatusNotFound},
		{membership.ErrAlreadySubscribed, http.StatusConflict},
		{errors.Join(membership.ErrGrantFailed, errors.New("drive: 500")), http.StatusBadGateway},
		{membership.ErrRecordFailed, http.StatusInternalServerError},
		{fmt.Errorf("create customer: %w", errors.Join(billing.ErrProviderRequest, errors.New("sk_live_secret"))), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			require.NoError(t, handler.JSONError(tt.err, apierr.Mappings...).Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)))
			assert.Equal(t, tt.code, rec.Code)
			assert.NotContains(t, rec.Body.String(), "sk_live_secret")
			assert.NotContains(t, rec.Body.String(), "drive: 500")
		})
	}
}
