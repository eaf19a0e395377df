package fileshare

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemorySharer keeps permissions in memory. It backs local development
// without provider credentials, and tests inject failures through FailGrant
// and FailRevoke.
type MemorySharer struct {
	mu          sync.Mutex
	seq         int
	perms       map[string]map[string]string // fileID -> permissionID -> email
	failGrant   map[string]error
	failRevoke  map[string]error
	grantCalls  int
	revokeCalls int
}

func NewMemorySharer() *MemorySharer {
	return &MemorySharer{
		perms:      make(map[string]map[string]string),
		failGrant:  make(map[string]error),
		failRevoke: make(map[string]error),
	}
}

// FailGrant makes every grant on fileID return err.
func (m *MemorySharer) FailGrant(fileID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGrant[fileID] = err
}

// FailRevoke makes revoking permissionID return err.
func (m *MemorySharer) FailRevoke(permissionID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRevoke[permissionID] = err
}

func (m *MemorySharer) Grant(_ context.Context, fileID, email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grantCalls++

	if err := m.failGrant[fileID]; err != nil {
		return "", fmt.Errorf("%w: %w", ErrGrant, err)
	}
	for id, e := range m.perms[fileID] {
		if strings.EqualFold(e, email) {
			return id, nil
		}
	}
	m.seq++
	id := fmt.Sprintf("perm-%d", m.seq)
	if m.perms[fileID] == nil {
		m.perms[fileID] = make(map[string]string)
	}
	m.perms[fileID][id] = email
	return id, nil
}

func (m *MemorySharer) Revoke(_ context.Context, fileID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeCalls++

	if err := m.failRevoke[permissionID]; err != nil {
		return fmt.Errorf("%w: %w", ErrRevoke, err)
	}
	delete(m.perms[fileID], permissionID)
	return nil
}

func (m *MemorySharer) FindPermission(_ context.Context, fileID, email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.perms[fileID] {
		if strings.EqualFold(e, email) {
			return id, nil
		}
	}
	return "", nil
}

// HasAccess reports whether email currently holds a permission on fileID.
func (m *MemorySharer) HasAccess(fileID, email string) bool {
	id, _ := m.FindPermission(context.Background(), fileID, email)
	return id != ""
}

// Calls returns the number of grant and revoke attempts.
func (m *MemorySharer) Calls() (grants, revokes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grantCalls, m.revokeCalls
}
