package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Yashkondane/soulhome-official/internal/eventlog"
	"github.com/Yashkondane/soulhome-official/internal/store"
	"github.com/Yashkondane/soulhome-official/internal/store/memstore"
	"github.com/Yashkondane/soulhome-official/pkg/config"
	"github.com/Yashkondane/soulhome-official/pkg/logger"
	"github.com/Yashkondane/soulhome-official/pkg/pg"
	"github.com/Yashkondane/soulhome-official/pkg/ratelimiter"
	"github.com/Yashkondane/soulhome-official/pkg/redis"
	"github.com/Yashkondane/soulhome-official/pkg/requestid"
	"github.com/Yashkondane/soulhome-official/svc/auth"
	"github.com/Yashkondane/soulhome-official/svc/billing"
	"github.com/Yashkondane/soulhome-official/svc/checkout"
	"github.com/Yashkondane/soulhome-official/svc/fileshare"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

const serviceName = "soulhome"

type appConfig struct {
	Env              string        `env:"APP_ENV" envDefault:"development"`
	LogLevel         string        `env:"LOG_LEVEL"`
	StoreDriver      string        `env:"STORE_DRIVER" envDefault:"postgres"`   // postgres, memory
	EventLogDriver   string        `env:"EVENTLOG_DRIVER" envDefault:"memory"`  // redis, memory
	EventLogTTL      time.Duration `env:"EVENTLOG_TTL" envDefault:"72h"`
	BillingProvider  string        `env:"BILLING_PROVIDER" envDefault:"stripe"` // stripe, paddle
	FileShareDriver  string        `env:"FILESHARE_DRIVER" envDefault:"drive"`  // drive, memory
	ReadinessTimeout time.Duration `env:"READINESS_TIMEOUT" envDefault:"3s"`
	AutoMigrate      bool          `env:"AUTO_MIGRATE" envDefault:"false"`
}

var errUnknownDriver = errors.New("unknown driver")

func newLogger(cfg appConfig, out io.Writer) *slog.Logger {
	opts := []logger.Option{
		logger.WithEnvironment(cfg.Env, serviceName),
		logger.WithContextExtractors(requestid.LogExtractor, auth.LogExtractor),
	}
	if cfg.LogLevel != "" {
		opts = append(opts, logger.WithLevelName(cfg.LogLevel))
	}
	if out != nil {
		opts = append(opts, logger.WithOutput(out))
	}
	return logger.New(opts...)
}

// appStore is everything the services and modules need from persistence.
type appStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (membership.Profile, error)
	EnsureProfile(ctx context.Context, userID uuid.UUID, email string) (membership.Profile, error)
	SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error
	UpdateProfileName(ctx context.Context, userID uuid.UUID, fullName string) (membership.Profile, error)
	GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (membership.Subscription, error)
	CreateSubscription(ctx context.Context, sub membership.Subscription) error
	UpdateSubscription(ctx context.Context, sub membership.Subscription, resetUsage bool) error
	GetActiveSubscription(ctx context.Context, userID uuid.UUID) (membership.Subscription, error)
	GetLatestSubscription(ctx context.Context, userID uuid.UUID) (membership.Subscription, error)
	ListEntitledSubscriptions(ctx context.Context, userID uuid.UUID) ([]membership.Subscription, error)
	GetResource(ctx context.Context, resourceID uuid.UUID) (membership.Resource, error)
	ListResources(ctx context.Context, publishedOnly bool) ([]membership.Resource, error)
	ListCategories(ctx context.Context) ([]membership.Category, error)
	GetDownload(ctx context.Context, userID, resourceID uuid.UUID) (membership.Download, error)
	ListGrantedDownloads(ctx context.Context, userID uuid.UUID) ([]membership.Download, error)
	ListUnlockedResources(ctx context.Context, userID uuid.UUID) ([]membership.UnlockedResource, error)
	RecordDownload(ctx context.Context, d membership.Download, subscriptionID uuid.UUID) error
	CreateBooking(ctx context.Context, b membership.Booking) error
	Ping(ctx context.Context) error
}

var (
	_ appStore = (*store.Store)(nil)
	_ appStore = (*memstore.Store)(nil)
)

// deps are the constructed dependencies of the HTTP application.
type deps struct {
	log      *slog.Logger
	store    appStore
	events   eventlog.Log
	provider billing.Provider
	sharer   fileshare.Sharer
	verifier *auth.Verifier
	authCfg  auth.Config
	checkout checkout.Config
	catalog  *checkout.Catalog
	folderID string
	limiter  *ratelimiter.Limiter
	checks   []readiness
	closers  []func()
}

type readiness struct {
	name string
	fn   func(context.Context) error
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// buildDeps loads configuration and connects every dependency. Close
// releases whatever was opened, including on error.
func buildDeps(ctx context.Context, cfg appConfig, log *slog.Logger) (*deps, error) {
	d := &deps{log: log}

	var err error
	if err = config.Load(&d.authCfg); err != nil {
		return d, err
	}
	if d.verifier, err = auth.NewVerifier(d.authCfg); err != nil {
		return d, err
	}

	if err = config.Load(&d.checkout); err != nil {
		return d, err
	}
	if d.catalog, err = checkout.LoadCatalog(d.checkout.CatalogPath); err != nil {
		return d, err
	}

	var limitCfg ratelimiter.Config
	if err = config.Load(&limitCfg); err != nil {
		return d, err
	}
	if d.limiter, err = ratelimiter.New(limitCfg); err != nil {
		return d, err
	}

	if err = d.openStore(ctx, cfg); err != nil {
		return d, err
	}
	if err = d.openEventLog(ctx, cfg); err != nil {
		return d, err
	}
	if d.provider, err = newProvider(cfg); err != nil {
		return d, err
	}
	if err = d.openSharer(ctx, cfg); err != nil {
		return d, err
	}
	return d, nil
}

func (d *deps) openStore(ctx context.Context, cfg appConfig) error {
	switch cfg.StoreDriver {
	case "memory":
		d.log.WarnContext(ctx, "using in-memory store, data is lost on restart")
		d.store = memstore.New()
	case "postgres":
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, pool.Close)
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx, pool, store.Migrations(), pgCfg, d.log); err != nil {
				return err
			}
		}
		d.store = store.New(pool, pgCfg.QueryTimeout)
	default:
		return fmt.Errorf("%w: STORE_DRIVER=%q", errUnknownDriver, cfg.StoreDriver)
	}
	d.checks = append(d.checks, readiness{name: "store", fn: d.store.Ping})
	return nil
}

func (d *deps) openEventLog(ctx context.Context, cfg appConfig) error {
	switch cfg.EventLogDriver {
	case "memory":
		d.events = eventlog.NewMemory(cfg.EventLogTTL)
	case "redis":
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return err
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		d.events = eventlog.NewRedis(client, cfg.EventLogTTL)
		d.checks = append(d.checks, readiness{name: "redis", fn: redis.Healthcheck(client)})
	default:
		return fmt.Errorf("%w: EVENTLOG_DRIVER=%q", errUnknownDriver, cfg.EventLogDriver)
	}
	return nil
}

func newProvider(cfg appConfig) (billing.Provider, error) {
	switch cfg.BillingProvider {
	case "stripe":
		var c billing.StripeConfig
		if err := config.Load(&c); err != nil {
			return nil, err
		}
		p, err := billing.NewStripeProvider(c)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "paddle":
		var c billing.PaddleConfig
		if err := config.Load(&c); err != nil {
			return nil, err
		}
		p, err := billing.NewPaddleProvider(c)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: BILLING_PROVIDER=%q", errUnknownDriver, cfg.BillingProvider)
	}
}

func (d *deps) openSharer(ctx context.Context, cfg appConfig) error {
	var driveCfg fileshare.DriveConfig
	if err := config.Load(&driveCfg); err != nil {
		return err
	}
	d.folderID = driveCfg.RootFolderID

	switch cfg.FileShareDriver {
	case "memory":
		d.log.WarnContext(ctx, "using in-memory file sharer, no real permissions are granted")
		d.sharer = fileshare.NewMemorySharer()
	case "drive":
		sharer, err := fileshare.NewDriveSharer(ctx, driveCfg)
		if err != nil {
			return err
		}
		d.sharer = sharer
	default:
		return fmt.Errorf("%w: FILESHARE_DRIVER=%q", errUnknownDriver, cfg.FileShareDriver)
	}
	if d.folderID == "" {
		d.log.WarnContext(ctx, "GOOGLE_DRIVE_ROOT_FOLDER_ID not set, members get per-file access only")
	}
	return nil
}
