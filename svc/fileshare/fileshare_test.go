package fileshare_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/Yashkondane/soulhome-official/svc/fileshare"
)

func TestFileIDFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url    string
		want   string
		wantOK bool
	}{
		{"https://drive.google.com/file/d/1AbC_d-9/view?usp=sharing", "1AbC_d-9", true},
		{"https://drive.google.com/open?id=XyZ123", "XyZ123", true},
		{"https://drive.google.com/uc?export=download&id=Q_w-e", "Q_w-e", true},
		{"https://drive.google.com/drive/folders/FOLDER42?usp=sharing", "FOLDER42", true},
		{"https://docs.google.com/document/d/DOC77/edit", "DOC77", true},
		{"https://example.com/files/report.pdf", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			got, ok := fileshare.FileIDFromURL(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newDriveServer(t *testing.T, h http.HandlerFunc) *fileshare.DriveSharer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)
	return fileshare.NewDriveSharerFromService(svc, time.Second)
}

func TestDriveSharer_Grant(t *testing.T) {
	t.Parallel()

	var body drive.Permission
	sharer := newDriveServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/files/file-1/permissions"), r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("sendNotificationEmail"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"perm-1"}`))
	})

	id, err := sharer.Grant(context.Background(), "file-1", "member@example.com")
	require.NoError(t, err)
	assert.Equal(t, "perm-1", id)
	assert.Equal(t, "reader", body.Role)
	assert.Equal(t, "user", body.Type)
	assert.Equal(t, "member@example.com", body.EmailAddress)
}

func TestDriveSharer_GrantFailure(t *testing.T) {
	t.Parallel()

	sharer := newDriveServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"insufficient permissions"}}`))
	})

	_, err := sharer.Grant(context.Background(), "file-1", "member@example.com")
	assert.ErrorIs(t, err, fileshare.ErrGrant)
}

func TestDriveSharer_Revoke(t *testing.T) {
	t.Parallel()

	t.Run("deletes permission", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		sharer := newDriveServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.True(t, strings.HasSuffix(r.URL.Path, "/files/file-1/permissions/perm-1"), r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		})
		require.NoError(t, sharer.Revoke(context.Background(), "file-1", "perm-1"))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("missing permission counts as revoked", func(t *testing.T) {
		t.Parallel()
		sharer := newDriveServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Permission not found"}}`))
		})
		assert.NoError(t, sharer.Revoke(context.Background(), "file-1", "perm-gone"))
	})

	t.Run("server error is reported", func(t *testing.T) {
		t.Parallel()
		sharer := newDriveServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad"}}`))
		})
		assert.ErrorIs(t, sharer.Revoke(context.Background(), "file-1", "perm-1"), fileshare.ErrRevoke)
	})
}

func TestDriveSharer_FindPermission(t *testing.T) {
	t.Parallel()

	sharer := newDriveServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = w.Write([]byte(`{"nextPageToken":"p2","permissions":[{"id":"a","emailAddress":"other@example.com"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"permissions":[{"id":"b","emailAddress":"Member@Example.com"}]}`))
	})

	id, err := sharer.FindPermission(context.Background(), "folder", "member@example.com")
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	id, err = sharer.FindPermission(context.Background(), "folder", "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestNewDriveSharer_RequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := fileshare.NewDriveSharer(context.Background(), fileshare.DriveConfig{})
	assert.ErrorIs(t, err, fileshare.ErrInvalidConfig)
}
