// Package store is the PostgreSQL persistence of profiles, subscriptions,
// resources, downloads and bookings.
package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Yashkondane/soulhome-official/pkg/pg"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the goose migrations rooted at the migrations directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// New wraps pool. Every call runs under timeout when it is positive.
func New(pool *pgxpool.Pool, timeout time.Duration) *Store {
	return &Store{pool: pool, timeout: timeout}
}

func (s *Store) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) Ping(ctx context.Context) error {
	return pg.Healthcheck(s.pool)(ctx)
}

const profileColumns = `id, email, COALESCE(full_name, ''), COALESCE(avatar_url, ''), is_admin,
	COALESCE(billing_customer_id, ''), created_at, updated_at`

func scanProfile(row pgx.Row) (membership.Profile, error) {
	var p membership.Profile
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &p.IsAdmin, &p.CustomerID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (membership.Profile, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	p, err := scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID))
	if pg.IsNotFoundError(err) {
		return p, membership.ErrProfileNotFound
	}
	if err != nil {
		return p, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// EnsureProfile creates the profile of a user seen for the first time and
// keeps its email in sync with the identity provider.
func (s *Store) EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (membership.Profile, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	p, err := scanProfile(s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, updated_at = now()
			WHERE profiles.email IS DISTINCT FROM EXCLUDED.email AND EXCLUDED.email <> ''
		RETURNING `+profileColumns, userID, email))
	if pg.IsNotFoundError(err) {
		// Conflict without update: the row exists unchanged.
		return s.GetProfile(ctx, userID)
	}
	if err != nil {
		return p, fmt.Errorf("ensure profile: %w", err)
	}
	return p, nil
}

func (s *Store) SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles SET billing_customer_id = NULLIF($2, ''), updated_at = now() WHERE id = $1`,
		userID, customerID)
	switch {
	case pg.IsDuplicateKeyError(err):
		return membership.ErrAlreadyExists
	case err != nil:
		return fmt.Errorf("set customer id: %w", err)
	case tag.RowsAffected() == 0:
		return membership.ErrProfileNotFound
	}
	return nil
}

func (s *Store) UpdateProfileName(ctx context.Context, userID uuid.UUID, fullName string) (membership.Profile, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	p, err := scanProfile(s.pool.QueryRow(ctx,
		`UPDATE profiles SET full_name = $2, updated_at = now() WHERE id = $1 RETURNING `+profileColumns,
		userID, fullName))
	if pg.IsNotFoundError(err) {
		return p, membership.ErrProfileNotFound
	}
	if err != nil {
		return p, fmt.Errorf("update profile: %w", err)
	}
	return p, nil
}

const subscriptionColumns = `id, user_id, billing_customer_id, billing_subscription_id, status, plan_id,
	current_period_start, current_period_end, cancel_at_period_end, downloads_used, downloads_limit,
	COALESCE(folder_permission_id, ''), created_at, updated_at`

func scanSubscription(row pgx.Row) (membership.Subscription, error) {
	var (
		sub    membership.Subscription
		status string
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.CustomerID, &sub.ProviderSubscriptionID, &status, &sub.PlanID,
		&sub.Period.Start, &sub.Period.End, &sub.CancelAtPeriodEnd, &sub.DownloadsUsed, &sub.DownloadsLimit,
		&sub.FolderPermissionID, &sub.CreatedAt, &sub.UpdatedAt)
	sub.Status = membership.Status(status)
	return sub, err
}

func (s *Store) querySubscriptions(ctx context.Context, sql string, args ...any) ([]membership.Subscription, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []membership.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func entitledStatuses() []string {
	statuses := membership.EntitledStatuses()
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (membership.Subscription, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE billing_subscription_id = $1`, providerSubscriptionID))
	if pg.IsNotFoundError(err) {
		return sub, membership.ErrSubscriptionNotFound
	}
	if err != nil {
		return sub, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub membership.Subscription) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if sub.DownloadsLimit == 0 {
		sub.DownloadsLimit = membership.DefaultDownloadLimit
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, user_id, billing_customer_id, billing_subscription_id, status, plan_id,
			current_period_start, current_period_end, cancel_at_period_end, downloads_used, downloads_limit,
			folder_permission_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $13)`,
		sub.ID, sub.UserID, sub.CustomerID, sub.ProviderSubscriptionID, string(sub.Status), sub.PlanID,
		sub.Period.Start, sub.Period.End, sub.CancelAtPeriodEnd, sub.DownloadsUsed, sub.DownloadsLimit,
		sub.FolderPermissionID, sub.CreatedAt)
	return subscriptionWriteError("create subscription", err)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub membership.Subscription, resetUsage bool) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET
			billing_customer_id = $2,
			status = $3,
			plan_id = $4,
			current_period_start = $5,
			current_period_end = $6,
			cancel_at_period_end = $7,
			folder_permission_id = COALESCE(NULLIF($8, ''), folder_permission_id),
			downloads_used = CASE WHEN $9::boolean THEN 0 ELSE downloads_used END,
			updated_at = now()
		WHERE id = $1`,
		sub.ID, sub.CustomerID, string(sub.Status), sub.PlanID, sub.Period.Start, sub.Period.End,
		sub.CancelAtPeriodEnd, sub.FolderPermissionID, resetUsage)
	if err := subscriptionWriteError("update subscription", err); err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return membership.ErrSubscriptionNotFound
	}
	return nil
}

func subscriptionWriteError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateKeyError(err):
		return membership.ErrAlreadyExists
	case pg.IsForeignKeyViolationError(err):
		return membership.ErrProfileNotFound
	case pg.ConstraintName(err) == "subscriptions_period_check":
		return membership.ErrInvalidPeriod
	case pg.ConstraintName(err) == "subscriptions_status_check":
		return membership.ErrInvalidStatus
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Store) GetActiveSubscription(ctx context.Context, userID uuid.UUID) (membership.Subscription, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC LIMIT 1`, userID, entitledStatuses()))
	if pg.IsNotFoundError(err) {
		return sub, membership.ErrSubscriptionNotFound
	}
	if err != nil {
		return sub, fmt.Errorf("get active subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) GetLatestSubscription(ctx context.Context, userID uuid.UUID) (membership.Subscription, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID))
	if pg.IsNotFoundError(err) {
		return sub, membership.ErrSubscriptionNotFound
	}
	if err != nil {
		return sub, fmt.Errorf("get latest subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) ListEntitledSubscriptions(ctx context.Context, userID uuid.UUID) ([]membership.Subscription, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	subs, err := s.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC`, userID, entitledStatuses())
	if err != nil {
		return nil, fmt.Errorf("list entitled subscriptions: %w", err)
	}
	return subs, nil
}

const resourceColumns = `r.id, r.title, r.slug, COALESCE(r.description, ''), r.type, r.file_url,
	COALESCE(r.thumbnail_url, ''), r.duration_minutes, r.file_size_bytes, r.category_id, r.is_published, r.created_at`

func scanResource(row pgx.Row, extra ...any) (membership.Resource, error) {
	var (
		r   membership.Resource
		typ string
	)
	dest := append([]any{&r.ID, &r.Title, &r.Slug, &r.Description, &typ, &r.FileURL,
		&r.ThumbnailURL, &r.DurationMinutes, &r.FileSizeBytes, &r.CategoryID, &r.IsPublished, &r.CreatedAt}, extra...)
	err := row.Scan(dest...)
	r.Type = membership.ResourceType(typ)
	return r, err
}

func (s *Store) GetResource(ctx context.Context, resourceID uuid.UUID) (membership.Resource, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	r, err := scanResource(s.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources r WHERE r.id = $1`, resourceID))
	if pg.IsNotFoundError(err) {
		return r, membership.ErrResourceNotFound
	}
	if err != nil {
		return r, fmt.Errorf("get resource: %w", err)
	}
	return r, nil
}

func (s *Store) ListResources(ctx context.Context, publishedOnly bool) ([]membership.Resource, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+resourceColumns+` FROM resources r
		WHERE NOT $1::boolean OR r.is_published
		ORDER BY r.title`, publishedOnly)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var out []membership.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("list resources: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateCategory(ctx context.Context, c membership.Category) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO categories (id, name, slug, description, sort_order) VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		c.ID, c.Name, c.Slug, c.Description, c.SortOrder)
	if pg.IsDuplicateKeyError(err) {
		return membership.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

// CreateResource inserts a library resource. The slug must be unique.
func (s *Store) CreateResource(ctx context.Context, r membership.Resource) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO resources (id, title, slug, description, type, file_url, thumbnail_url, duration_minutes,
			file_size_bytes, category_id, is_published, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $12)`,
		r.ID, r.Title, r.Slug, r.Description, string(r.Type), r.FileURL, r.ThumbnailURL, r.DurationMinutes,
		r.FileSizeBytes, r.CategoryID, r.IsPublished, r.CreatedAt)
	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateKeyError(err):
		return membership.ErrAlreadyExists
	case pg.IsForeignKeyViolationError(err):
		return membership.ErrCategoryNotFound
	default:
		return fmt.Errorf("create resource: %w", err)
	}
}

func (s *Store) ListCategories(ctx context.Context) ([]membership.Category, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, slug, COALESCE(description, ''), sort_order FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (membership.Category, error) {
		var c membership.Category
		err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.SortOrder)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

const downloadColumns = `d.id, d.user_id, d.resource_id, d.downloaded_at, d.billing_period_start, d.billing_period_end,
	d.file_id, COALESCE(d.permission_id, '')`

func scanDownload(row pgx.Row) (membership.Download, error) {
	var d membership.Download
	err := row.Scan(&d.ID, &d.UserID, &d.ResourceID, &d.DownloadedAt, &d.Period.Start, &d.Period.End, &d.FileID, &d.PermissionID)
	return d, err
}

func (s *Store) GetDownload(ctx context.Context, userID, resourceID uuid.UUID) (membership.Download, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	d, err := scanDownload(s.pool.QueryRow(ctx,
		`SELECT `+downloadColumns+` FROM downloads d WHERE d.user_id = $1 AND d.resource_id = $2`, userID, resourceID))
	if pg.IsNotFoundError(err) {
		return d, membership.ErrDownloadNotFound
	}
	if err != nil {
		return d, fmt.Errorf("get download: %w", err)
	}
	return d, nil
}

func (s *Store) ListGrantedDownloads(ctx context.Context, userID uuid.UUID) ([]membership.Download, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+downloadColumns+` FROM downloads d
		WHERE d.user_id = $1 AND COALESCE(d.permission_id, '') <> ''
		ORDER BY d.downloaded_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (membership.Download, error) {
		return scanDownload(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	return out, nil
}

func (s *Store) ListUnlockedResources(ctx context.Context, userID uuid.UUID) ([]membership.UnlockedResource, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+resourceColumns+`, `+downloadColumns+`
		FROM downloads d JOIN resources r ON r.id = d.resource_id
		WHERE d.user_id = $1
		ORDER BY d.downloaded_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unlocked resources: %w", err)
	}
	defer rows.Close()

	var out []membership.UnlockedResource
	for rows.Next() {
		var d membership.Download
		r, err := scanResource(rows, &d.ID, &d.UserID, &d.ResourceID, &d.DownloadedAt,
			&d.Period.Start, &d.Period.End, &d.FileID, &d.PermissionID)
		if err != nil {
			return nil, fmt.Errorf("list unlocked resources: %w", err)
		}
		out = append(out, membership.UnlockedResource{Download: d, Resource: r})
	}
	return out, rows.Err()
}

// RecordDownload inserts d against subscriptionID in a single transaction;
// the insert trigger consumes one download credit. The subscription row is
// locked first so concurrent requests serialize on it. An existing row for
// the same resource is reported as membership.ErrAlreadyExists before the
// limit is checked.
func (s *Store) RecordDownload(ctx context.Context, d membership.Download, subscriptionID uuid.UUID) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	return pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var used, limit int
		err := tx.QueryRow(ctx,
			`SELECT downloads_used, downloads_limit FROM subscriptions WHERE id = $1 FOR UPDATE`,
			subscriptionID).Scan(&used, &limit)
		if pg.IsNotFoundError(err) {
			return membership.ErrSubscriptionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock subscription: %w", err)
		}
		// A re-download never costs a credit, so an existing row wins over
		// an exhausted quota.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM downloads WHERE user_id = $1 AND resource_id = $2)`,
			d.UserID, d.ResourceID).Scan(&exists); err != nil {
			return fmt.Errorf("check download: %w", err)
		}
		if exists {
			return membership.ErrAlreadyExists
		}
		if used >= limit {
			return membership.ErrLimitReached
		}

		// downloads_increment_usage consumes the credit on insert.
		_, err = tx.Exec(ctx, `
			INSERT INTO downloads (id, user_id, resource_id, downloaded_at, billing_period_start, billing_period_end,
				file_id, permission_id, subscription_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
			d.ID, d.UserID, d.ResourceID, d.DownloadedAt, d.Period.Start, d.Period.End, d.FileID, d.PermissionID,
			subscriptionID)
		switch {
		case pg.IsDuplicateKeyError(err):
			return membership.ErrAlreadyExists
		case pg.IsForeignKeyViolationError(err):
			return membership.ErrResourceNotFound
		case err != nil:
			return fmt.Errorf("insert download: %w", err)
		}
		return nil
	})
}

func (s *Store) CreateBooking(ctx context.Context, b membership.Booking) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO bookings (id, user_id, product_id, billing_session_id, payment_intent_id, amount_total, currency,
			status, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)`,
		b.ID, b.UserID, b.ProductID, b.SessionID, b.PaymentIntentID, b.AmountTotal, b.Currency, b.Status, b.CreatedAt)
	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateKeyError(err):
		return membership.ErrAlreadyExists
	case pg.IsForeignKeyViolationError(err):
		return membership.ErrProfileNotFound
	default:
		return fmt.Errorf("create booking: %w", err)
	}
}
