package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Yashkondane/soulhome-official/modules/billing"
	"github.com/Yashkondane/soulhome-official/modules/member"
	"github.com/Yashkondane/soulhome-official/pkg/config"
	"github.com/Yashkondane/soulhome-official/pkg/httpserver"
	"github.com/Yashkondane/soulhome-official/pkg/metrics"
	"github.com/Yashkondane/soulhome-official/pkg/ratelimiter"
	"github.com/Yashkondane/soulhome-official/pkg/requestid"
	"github.com/Yashkondane/soulhome-official/svc/auth"
	"github.com/Yashkondane/soulhome-official/svc/checkout"
	"github.com/Yashkondane/soulhome-official/svc/download"
	"github.com/Yashkondane/soulhome-official/svc/reconciler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var cfg appConfig
		if err := config.Load(&cfg); err != nil {
			return err
		}
		log := newLogger(cfg, nil)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := buildDeps(ctx, cfg, log)
		defer d.Close()
		if err != nil {
			log.ErrorContext(ctx, "failed to initialize dependencies", "error", err)
			return err
		}

		var httpCfg httpserver.Config
		if err := config.Load(&httpCfg); err != nil {
			return err
		}
		log.InfoContext(ctx, "starting server",
			"addr", httpCfg.Addr,
			"version", Version,
			"billing_provider", d.provider.Name(),
			"store", cfg.StoreDriver,
		)
		return httpserver.New(httpCfg, log).Run(ctx, newRouter(d, cfg))
	},
}

// newRouter wires the services onto the HTTP surface.
func newRouter(d *deps, cfg appConfig) http.Handler {
	rec := reconciler.NewService(d.store, d.provider, d.sharer,
		reconciler.WithRootFolder(d.folderID),
		reconciler.WithLimits(d.catalog.DownloadLimit),
		reconciler.WithLogger(d.log),
	)
	gate := download.NewGate(d.store, d.sharer, download.WithLogger(d.log))
	orch := checkout.NewOrchestrator(d.checkout, d.catalog, d.store, d.provider, checkout.WithLogger(d.log))

	checks := make([]httpserver.Check, 0, len(d.checks))
	for _, c := range d.checks {
		checks = append(checks, httpserver.Check{Name: c.name, Fn: c.fn})
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(d.log, cfg.ReadinessTimeout, checks...))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(d.verifier, d.log, auth.BearerToken, auth.CookieToken(d.authCfg.CookieName)))
		r.Use(member.EnsureProfile(d.store, d.log))

		billing.New(d.provider, rec, orch,
			billing.WithEventLog(d.events),
			billing.WithRateLimit(limitPerUser(d.limiter, "checkout")),
			billing.WithLogger(d.log),
		).Register(r)
		member.New(d.store, gate,
			member.WithRateLimit(limitPerUser(d.limiter, "downloads")),
			member.WithLogger(d.log),
		).Register(r)
	})
	return r
}

// limitPerUser keys the limiter by the authenticated user. A nil limiter
// disables limiting.
func limitPerUser(l *ratelimiter.Limiter, scope string) func(http.Handler) http.Handler {
	if l == nil {
		return nil
	}
	return ratelimiter.Middleware(l, scope, func(r *http.Request) string {
		if id := auth.UserID(r.Context()); id != uuid.Nil {
			return id.String()
		}
		return ""
	})
}
