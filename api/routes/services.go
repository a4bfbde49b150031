package routes

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/commonsportal-backend/internal/availability"
	"github.com/angelmondragon/commonsportal-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/commonsportal-backend/internal/checkout"
	"github.com/angelmondragon/commonsportal-backend/internal/listings"
	"github.com/angelmondragon/commonsportal-backend/internal/orders"
	"github.com/angelmondragon/commonsportal-backend/pkg/config"
	"github.com/angelmondragon/commonsportal-backend/pkg/db"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/metrics"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox"
)

// BuildServices wires repositories, the availability validator and the
// outbox into the domain services. A nil registerer disables metrics.
func BuildServices(client *db.Client, cfg config.CheckoutConfig, reg prometheus.Registerer, logg *logger.Logger) (Services, error) {
	conn := client.DB()

	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)
	committed := availability.NewCommittedReader(conn)
	validator := availability.NewValidator(committed)

	listingRepo := listings.NewRepository(conn)
	cartRepo := cart.NewRepository(conn)
	ordersRepo := orders.NewRepository(conn)

	listingService, err := listings.NewService(listingRepo, client, committed, outboxService, logg)
	if err != nil {
		return Services{}, fmt.Errorf("listings service: %w", err)
	}

	cartService, err := cart.NewService(cartRepo, listingRepo, client, validator, metrics.NewCartMetrics(reg), logg)
	if err != nil {
		return Services{}, fmt.Errorf("cart service: %w", err)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.Deps{
		Tx:        client,
		Carts:     cartRepo,
		Listings:  listingRepo,
		Orders:    ordersRepo,
		Validator: validator,
		Outbox:    outboxService,
		Config:    cfg,
		Metrics:   metrics.NewCheckoutMetrics(reg),
		Logger:    logg,
	})
	if err != nil {
		return Services{}, fmt.Errorf("checkout service: %w", err)
	}

	ordersService, err := orders.NewService(ordersRepo, client, outboxService, logg)
	if err != nil {
		return Services{}, fmt.Errorf("orders service: %w", err)
	}

	return Services{
		Listings: listingService,
		Cart:     cartService,
		Checkout: checkoutService,
		Orders:   ordersService,
	}, nil
}
