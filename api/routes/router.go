package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/scholarmarket-backend/api/controllers"
	"github.com/angelmondragon/scholarmarket-backend/api/middleware"
	"github.com/angelmondragon/scholarmarket-backend/internal/catalog"
	"github.com/angelmondragon/scholarmarket-backend/internal/ledger"
	"github.com/angelmondragon/scholarmarket-backend/internal/payouts"
	"github.com/angelmondragon/scholarmarket-backend/internal/purchases"
	"github.com/angelmondragon/scholarmarket-backend/internal/settlement"
	"github.com/angelmondragon/scholarmarket-backend/internal/submissions"
	"github.com/angelmondragon/scholarmarket-backend/pkg/config"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/metrics"
	"github.com/angelmondragon/scholarmarket-backend/pkg/redis"
)

var apiRateLimit = middleware.NewRateLimitPolicy("api", time.Minute, 120)

// Dependencies are the services and clients the HTTP surface is built from.
// Redis and DB may be nil in tests; the Redis-backed middleware is skipped then.
type Dependencies struct {
	DB          controllers.Pinger
	Redis       *redis.Client
	Gatherer    prometheus.Gatherer
	Metrics     *metrics.Market
	Ledger      ledger.Service
	Catalog     catalog.Service
	Purchases   purchases.Service
	Payouts     payouts.Service
	Submissions *submissions.Service
	Trigger     settlement.UntrustedTrigger
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	ready := map[string]controllers.Pinger{}
	if deps.DB != nil {
		ready["database"] = deps.DB
	}
	if deps.Redis != nil {
		ready["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, ready))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, cfg.Market.Admins(), logg))
		if deps.Redis != nil {
			r.Use(middleware.RateLimit(apiRateLimit, deps.Redis, logg))
			r.Use(middleware.Idempotency(deps.Redis, logg))
		}

		r.Get("/categories", controllers.ListCategories(deps.Catalog, logg))
		r.Get("/categories/{categoryId}/works", controllers.ListCategoryWorks(deps.Catalog, logg))

		r.Route("/works", func(r chi.Router) {
			r.Post("/", controllers.SubmitWork(deps.Catalog, logg))
			r.Get("/{workId}", controllers.GetWork(deps.Catalog, logg))
			r.Delete("/{workId}", controllers.DeleteWork(deps.Catalog, logg))
		})

		r.Route("/me", func(r chi.Router) {
			r.Get("/works", controllers.MyWorks(deps.Catalog, logg))
			r.Get("/stats", controllers.MyStats(deps.Catalog, logg))
			r.Get("/purchases", controllers.MyPurchases(deps.Purchases, logg))
			r.Get("/payouts", controllers.MyPayouts(deps.Payouts, logg))
			r.Get("/balance", controllers.MyBalance(deps.Ledger, logg))
			r.With(middleware.RequireRole(logg, enums.RoleAdmin)).
				Post("/deposits", controllers.MyDeposit(deps.Ledger, logg))
		})

		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", controllers.CreatePurchase(deps.Purchases, cfg.Market.PlatformRequisites, logg))
			r.Get("/{purchaseId}", controllers.GetPurchase(deps.Purchases, logg))
		})

		r.Post("/payouts", controllers.RequestPayout(deps.Payouts, logg))

		r.Route("/submissions", func(r chi.Router) {
			r.Post("/start", controllers.StartSubmission(deps.Submissions, logg))
			r.Get("/current", controllers.CurrentSubmission(deps.Submissions, logg))
			r.Delete("/current", controllers.CancelSubmission(deps.Submissions, logg))
			r.Post("/advance", controllers.AdvanceSubmission(deps.Submissions, logg))
			r.Post("/submit", controllers.SubmitSubmission(deps.Submissions, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))

			r.Route("/works", func(r chi.Router) {
				r.Get("/pending", controllers.AdminPendingWorks(deps.Catalog, logg))
				r.Post("/{workId}/moderation", controllers.AdminModerateWork(deps.Catalog, deps.Metrics, logg))
				r.Patch("/{workId}", controllers.AdminUpdateWork(deps.Catalog, logg))
				r.Delete("/{workId}", controllers.AdminDeleteWork(deps.Catalog, logg))
			})

			r.Post("/purchases/{purchaseId}/settle", controllers.AdminSettlePurchase(deps.Purchases, logg))
			r.Post("/payment-notifications", controllers.AdminPaymentNotification(deps.Trigger, logg))

			r.Route("/payouts", func(r chi.Router) {
				r.Get("/pending", controllers.AdminPendingPayouts(deps.Payouts, logg))
				r.Post("/{payoutId}/resolve", controllers.AdminResolvePayout(deps.Payouts, logg))
			})

			r.Route("/accounts/{userId}", func(r chi.Router) {
				r.Post("/deposits", controllers.AdminDeposit(deps.Ledger, logg))
				r.Get("/reconcile", controllers.AdminReconcile(deps.Ledger, logg))
			})
		})
	})

	return r
}
