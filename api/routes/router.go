package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/commonsportal-backend/api/controllers"
	"github.com/angelmondragon/commonsportal-backend/api/middleware"
	"github.com/angelmondragon/commonsportal-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/commonsportal-backend/internal/checkout"
	"github.com/angelmondragon/commonsportal-backend/internal/listings"
	"github.com/angelmondragon/commonsportal-backend/internal/orders"
	"github.com/angelmondragon/commonsportal-backend/pkg/auth/session"
	"github.com/angelmondragon/commonsportal-backend/pkg/config"
	"github.com/angelmondragon/commonsportal-backend/pkg/db"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/redis"
)

// Services groups the domain services exposed over HTTP.
type Services struct {
	Listings listings.Service
	Cart     cart.Service
	Checkout checkoutsvc.Service
	Orders   orders.Service
}

// NewRouter builds the API. redisClient and sessions may be nil, which
// disables idempotent replay, rate limiting and session checks respectively.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	sessions session.AccessSessionChecker,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	var (
		idempotencyStore redis.IdempotencyStore
		limiter          redis.RateLimiter
		redisPinger      controllers.Pinger
	)
	if redisClient != nil {
		idempotencyStore = redisClient
		limiter = redisClient
		redisPinger = redisClient
	}
	var dbPinger controllers.Pinger
	if dbP != nil {
		dbPinger = dbP
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbPinger,
			"redis":    redisPinger,
		}))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	cartPolicy := middleware.RateLimitPolicy{
		Name:   "cart",
		Window: cfg.RateLimit.CartWindow,
		Limit:  cfg.RateLimit.CartLimit,
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/listings", controllers.ListingList(svc.Listings, logg))
		r.Get("/listings/{listingId}", controllers.ListingDetail(svc.Listings, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, sessions, logg))
			r.Use(middleware.Idempotency(idempotencyStore, cfg.Checkout.IdempotencyTTL, logg))

			r.Route("/seller/listings", func(r chi.Router) {
				r.Post("/", controllers.SellerCreateListing(svc.Listings, logg))
				r.Patch("/{listingId}", controllers.SellerUpdateListing(svc.Listings, logg))
				r.Delete("/{listingId}", controllers.SellerDeleteListing(svc.Listings, logg))
				r.Get("/{listingId}/sales", controllers.SellerListingSales(svc.Listings, logg))
			})

			r.Route("/cart", func(r chi.Router) {
				r.Use(middleware.RateLimit(cartPolicy, limiter, logg))
				r.Get("/", controllers.CartFetch(svc.Cart, logg))
				r.Post("/items", controllers.CartAddItem(svc.Cart, logg))
				r.Patch("/items/{cartItemId}", controllers.CartUpdateItem(svc.Cart, logg))
				r.Delete("/items/{cartItemId}", controllers.CartRemoveItem(svc.Cart, logg))
			})

			r.Post("/checkout", controllers.Checkout(svc.Checkout, logg))

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", controllers.OrderList(svc.Orders, logg))
				r.Get("/{orderId}", controllers.OrderDetail(svc.Orders, logg))
			})
			r.Post("/order-items/{orderItemId}/complete", controllers.OrderItemComplete(svc.Orders, logg))
			r.Post("/order-items/{orderItemId}/cancel", controllers.OrderItemCancel(svc.Orders, logg))
		})
	})

	return r
}
