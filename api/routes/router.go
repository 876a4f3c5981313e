package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/proofledger/api/controllers"
	"github.com/angelmondragon/proofledger/api/middleware"
	"github.com/angelmondragon/proofledger/internal/ledger"
	"github.com/angelmondragon/proofledger/internal/reconcile"
	"github.com/angelmondragon/proofledger/pkg/config"
	"github.com/angelmondragon/proofledger/pkg/logger"
	pkgredis "github.com/angelmondragon/proofledger/pkg/redis"
)

// Params collects what the API router serves. Idempotency, Redis and Gatherer may be nil.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency pkgredis.IdempotencyStore
	Gatherer    prometheus.Gatherer
	Ledger      ledger.Service
	Reconcile   reconcile.Service
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	readiness := map[string]controllers.Pinger{"db": p.DB}
	if p.Redis != nil {
		readiness["redis"] = p.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/organizations/{orgId}", func(r chi.Router) {
		r.Use(middleware.Organization(logg))

		r.Route("/events", func(r chi.Router) {
			r.With(middleware.Idempotency(p.Idempotency, logg)).Post("/", controllers.EventCreate(p.Ledger, logg))
			r.Get("/", controllers.EventList(p.Ledger, logg))
			r.Put("/{eventId}", controllers.EventUpdate(p.Ledger, logg))
			r.Delete("/{eventId}", controllers.EventDelete(p.Ledger, logg))
		})

		r.Route("/reports/{schema}", func(r chi.Router) {
			r.Get("/", controllers.ReportList(p.Reconcile, logg))
			r.Post("/cascade", controllers.ReportCascade(p.Reconcile, logg))
			r.Get("/{month}", controllers.ReportGet(p.Reconcile, logg))
			r.Patch("/{month}", controllers.ReportUpdateMetadata(p.Reconcile, logg))
		})

		r.Post("/ledger-changed", controllers.LedgerChanged(p.Reconcile, logg))
	})

	return r
}
