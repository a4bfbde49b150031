package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/internal/availability"
	"github.com/angelmondragon/commonsportal-backend/internal/listings"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/metrics"
)

// MaxQuantity caps a single cart line.
const MaxQuantity = 10000

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type availabilityValidator interface {
	Validate(ctx context.Context, tx *gorm.DB, listing models.Listing, requested int, opts availability.Options) error
}

// Service manages a buyer's cart. Every mutation is a short transaction that
// locks the listing row and runs the availability check before writing.
type Service interface {
	AddOrUpdate(ctx context.Context, buyerID, listingID uuid.UUID, quantity int) (*ItemDTO, error)
	UpdateQuantity(ctx context.Context, buyerID, cartItemID uuid.UUID, quantity int) (*ItemDTO, error)
	Remove(ctx context.Context, buyerID, cartItemID uuid.UUID) error
	Get(ctx context.Context, buyerID uuid.UUID) (*View, error)
}

type service struct {
	repo      Repository
	listings  listings.Repository
	tx        txRunner
	validator availabilityValidator
	metrics   *metrics.CartMetrics
	logg      *logger.Logger
}

// NewService builds a cart service. cartMetrics may be nil.
func NewService(repo Repository, listingRepo listings.Repository, tx txRunner, validator availabilityValidator, cartMetrics *metrics.CartMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if listingRepo == nil {
		return nil, fmt.Errorf("listing repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if validator == nil {
		return nil, fmt.Errorf("availability validator required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:      repo,
		listings:  listingRepo,
		tx:        tx,
		validator: validator,
		metrics:   cartMetrics,
		logg:      logg,
	}, nil
}

// AddOrUpdate puts quantity units of the listing in the buyer's cart. If the
// listing is already there its quantity is replaced, not added to.
func (s *service) AddOrUpdate(ctx context.Context, buyerID, listingID uuid.UUID, quantity int) (*ItemDTO, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	var result models.CartItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		listing, err := s.listings.WithTx(tx).FindByIDForUpdate(ctx, listingID)
		if err != nil {
			return mapNotFound(err, "listing not found", "load listing")
		}

		cart, err := repo.GetOrCreate(ctx, buyerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}

		existing, err := repo.FindItemByListing(ctx, cart.ID, listing.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
		}

		opts := availability.Options{}
		if existing != nil {
			opts.ExcludeCartItemID = existing.ID
		}
		if err := s.validator.Validate(ctx, tx, *listing, quantity, opts); err != nil {
			return err
		}

		if existing != nil {
			if err := repo.UpdateItemQuantity(ctx, existing.ID, quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
			}
			existing.Quantity = quantity
			result = *existing
		} else {
			item := models.CartItem{CartID: cart.ID, ListingID: listing.ID, Quantity: quantity}
			if err := repo.CreateItem(ctx, &item); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart item")
			}
			result = item
		}
		result.Listing = listing
		return nil
	})
	s.record(metrics.CartAdd, err)
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"buyer_id":     buyerID.String(),
		"listing_id":   listingID.String(),
		"cart_item_id": result.ID.String(),
		"quantity":     quantity,
	}), "cart item saved")
	return s.itemDTO(result)
}

// UpdateQuantity re-checks availability with the item's own quantity left
// out of the committed total, then stores the new quantity.
func (s *service) UpdateQuantity(ctx context.Context, buyerID, cartItemID uuid.UUID, quantity int) (*ItemDTO, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	var result models.CartItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		item, err := s.ownedItem(ctx, repo, buyerID, cartItemID)
		if err != nil {
			return err
		}

		listing, err := s.listings.WithTx(tx).FindByIDForUpdate(ctx, item.ListingID)
		if err != nil {
			return mapNotFound(err, "listing not found", "load listing")
		}

		if err := s.validator.Validate(ctx, tx, *listing, quantity, availability.Options{ExcludeCartItemID: item.ID}); err != nil {
			return err
		}
		if err := repo.UpdateItemQuantity(ctx, item.ID, quantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
		}
		item.Quantity = quantity
		item.Listing = listing
		result = *item
		return nil
	})
	s.record(metrics.CartUpdate, err)
	if err != nil {
		return nil, err
	}
	return s.itemDTO(result)
}

func (s *service) Remove(ctx context.Context, buyerID, cartItemID uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := s.ownedItem(ctx, repo, buyerID, cartItemID)
		if err != nil {
			return err
		}
		if err := repo.DeleteItem(ctx, item.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart item")
		}
		return nil
	})
	s.record(metrics.CartRemove, err)
	return err
}

// Get returns the buyer's cart with items in the order they were added. A
// buyer without a cart gets an empty view.
func (s *service) Get(ctx context.Context, buyerID uuid.UUID) (*View, error) {
	cart, err := s.repo.FindByBuyer(ctx, buyerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return emptyView(buyerID), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	view, err := viewFromModel(*cart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute cart totals")
	}
	return view, nil
}

func (s *service) ownedItem(ctx context.Context, repo Repository, buyerID, cartItemID uuid.UUID) (*models.CartItem, error) {
	item, cart, err := repo.FindItem(ctx, cartItemID)
	if err != nil {
		return nil, mapNotFound(err, "cart item not found", "load cart item")
	}
	if cart.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cart item belongs to another buyer")
	}
	return item, nil
}

func (s *service) itemDTO(item models.CartItem) (*ItemDTO, error) {
	dto, err := itemFromModel(item)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute cart item subtotal")
	}
	return &dto, nil
}

func (s *service) record(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(pkgerrors.CodeOf(err))
	}
	s.metrics.IncMutation(op, result)
}

func validateQuantity(quantity int) error {
	if quantity < 1 || quantity > MaxQuantity {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "quantity must be between 1 and %d", MaxQuantity)
	}
	return nil
}

func mapNotFound(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
