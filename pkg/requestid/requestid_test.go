package requestid_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yashkondane/soulhome-official/pkg/requestid"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("generates id when header is missing", func(t *testing.T) {
		t.Parallel()
		var seen string
		h := requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = requestid.FromContext(r.Context())
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(requestid.Header))
	})

	t.Run("keeps a valid inbound id", func(t *testing.T) {
		t.Parallel()
		var seen string
		h := requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = requestid.FromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestid.Header, "evt_123-abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "evt_123-abc", seen)
		assert.Equal(t, "evt_123-abc", rec.Header().Get(requestid.Header))
	})

	for _, bad := range []string{"a b", "x/y", "<script>", strings.Repeat("a", 129)} {
		t.Run("replaces invalid id "+bad[:min(len(bad), 8)], func(t *testing.T) {
			t.Parallel()
			var seen string
			h := requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = requestid.FromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(requestid.Header, bad)
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.NotEmpty(t, seen)
			assert.NotEqual(t, bad, seen)
		})
	}
}

func TestLogExtractor(t *testing.T) {
	t.Parallel()

	_, ok := requestid.LogExtractor(context.Background())
	assert.False(t, ok)

	attr, ok := requestid.LogExtractor(requestid.WithContext(context.Background(), "req-1"))
	require.True(t, ok)
	assert.Equal(t, "request_id", attr.Key)
	assert.Equal(t, "req-1", attr.Value.String())
}
