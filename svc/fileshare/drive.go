package fileshare

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Yashkondane/soulhome-official/pkg/metrics"
)

type DriveConfig struct {
	ClientEmail  string        `env:"GOOGLE_SERVICE_CLIENT_EMAIL"`
	PrivateKey   string        `env:"GOOGLE_SERVICE_PRIVATE_KEY"`
	RootFolderID string        `env:"GOOGLE_DRIVE_ROOT_FOLDER_ID"` // shared with every entitled member; keep gated files elsewhere
	Timeout      time.Duration `env:"GOOGLE_DRIVE_TIMEOUT" envDefault:"15s"`
}

// privateKey restores newlines escaped as \n in single-line env values.
func (c DriveConfig) privateKey() []byte {
	return []byte(strings.ReplaceAll(c.PrivateKey, `\n`, "\n"))
}

// DriveSharer implements Sharer on Google Drive permissions.
type DriveSharer struct {
	svc     *drive.Service
	timeout time.Duration
}

// NewDriveSharer authenticates as the configured service account.
func NewDriveSharer(ctx context.Context, cfg DriveConfig) (*DriveSharer, error) {
	if cfg.ClientEmail == "" || cfg.PrivateKey == "" {
		return nil, errors.Join(ErrInvalidConfig, errors.New("google service account credentials are required"))
	}

	jwtCfg := &jwt.Config{
		Email:      cfg.ClientEmail,
		PrivateKey: cfg.privateKey(),
		Scopes:     []string{drive.DriveScope},
		TokenURL:   google.JWTTokenURL,
	}
	svc, err := drive.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(ctx)))
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	return NewDriveSharerFromService(svc, cfg.Timeout), nil
}

// NewDriveSharerFromService wraps an existing Drive client.
func NewDriveSharerFromService(svc *drive.Service, timeout time.Duration) *DriveSharer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DriveSharer{svc: svc, timeout: timeout}
}

func (d *DriveSharer) Grant(ctx context.Context, fileID, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer observe("grant", time.Now())

	perm, err := d.svc.Permissions.Create(fileID, &drive.Permission{
		Role:         "reader",
		Type:         "user",
		EmailAddress: email,
	}).
		SendNotificationEmail(false).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		count("grant", err)
		return "", errors.Join(ErrGrant, err)
	}
	count("grant", nil)
	return perm.Id, nil
}

func (d *DriveSharer) Revoke(ctx context.Context, fileID, permissionID string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer observe("revoke", time.Now())

	err := d.svc.Permissions.Delete(fileID, permissionID).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil && !isNotFound(err) {
		count("revoke", err)
		return errors.Join(ErrRevoke, err)
	}
	count("revoke", nil)
	return nil
}

func (d *DriveSharer) FindPermission(ctx context.Context, fileID, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer observe("list", time.Now())

	var found string
	err := d.svc.Permissions.List(fileID).
		SupportsAllDrives(true).
		Fields("nextPageToken", "permissions(id,emailAddress)").
		Pages(ctx, func(page *drive.PermissionList) error {
			for _, p := range page.Permissions {
				if strings.EqualFold(p.EmailAddress, email) {
					found = p.Id
					return errStopPaging
				}
			}
			return nil
		})
	if err != nil && !errors.Is(err, errStopPaging) {
		return "", errors.Join(ErrPermissionLookup, err)
	}
	return found, nil
}

var errStopPaging = errors.New("stop paging")

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func count(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.FilePermissionOpsTotal.WithLabelValues(op, result).Inc()
}

func observe(op string, start time.Time) {
	metrics.ProviderCallDuration.WithLabelValues("drive", op).Observe(time.Since(start).Seconds())
}
