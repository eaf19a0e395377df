// Package fileshare grants and revokes per-user read access on files held by
// the file-sharing provider.
package fileshare

import (
	"context"
	"errors"
	"regexp"
)

var (
	ErrGrant            = errors.New("failed to grant file permission")
	ErrRevoke           = errors.New("failed to revoke file permission")
	ErrPermissionLookup = errors.New("failed to look up file permission")
	ErrInvalidConfig    = errors.New("invalid file sharing configuration")
)

// Sharer manages reader permissions on provider files.
type Sharer interface {
	// Grant gives email read access to fileID and returns the permission id.
	Grant(ctx context.Context, fileID, email string) (string, error)
	// Revoke removes a permission. Revoking a permission that no longer
	// exists succeeds.
	Revoke(ctx context.Context, fileID, permissionID string) error
	// FindPermission returns the permission id held by email on fileID, or
	// "" when there is none.
	FindPermission(ctx context.Context, fileID, email string) (string, error)
}

var fileIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`folders/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`),
}

// FileIDFromURL extracts the provider file id from a share URL. It accepts
// /file/d/ID, /drive/folders/ID, open?id=ID, uc?id=ID and /document/d/ID
// style links.
func FileIDFromURL(raw string) (string, bool) {
	for _, re := range fileIDPatterns {
		if m := re.FindStringSubmatch(raw); len(m) == 2 && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}
