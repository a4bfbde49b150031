package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/internal/orders"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/money"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/commonsportal-backend/pkg/pagination"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 5000
	maxImages            = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CommittedReader reports how many units of a listing are held by carts and
// non-cancelled order items.
type CommittedReader interface {
	Total(ctx context.Context, tx *gorm.DB, listingID uuid.UUID) (int, error)
	Totals(ctx context.Context, tx *gorm.DB, listingIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service manages listings on behalf of their owners and serves the public feed.
type Service interface {
	Create(ctx context.Context, ownerID uuid.UUID, input CreateInput) (*ListingDTO, error)
	Update(ctx context.Context, actorID, listingID uuid.UUID, input UpdateInput) (*ListingDTO, error)
	Delete(ctx context.Context, actorID, listingID uuid.UUID) error
	Get(ctx context.Context, listingID uuid.UUID) (*ListingDTO, error)
	List(ctx context.Context, params ListParams) (pagination.Page[ListingDTO], error)
	Remaining(ctx context.Context, listingID uuid.UUID) (*int, error)
	Sales(ctx context.Context, actorID, listingID uuid.UUID) (*SalesDTO, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	committed CommittedReader
	outbox    outboxEmitter
	logg      *logger.Logger
	now       func() time.Time
}

// Option customises a listing service.
type Option func(*service)

// WithClock overrides the time source used for window filtering.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo Repository, tx txRunner, committed CommittedReader, emitter outboxEmitter, logg *logger.Logger, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("listing repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if committed == nil {
		return nil, fmt.Errorf("committed reader required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &service{
		repo:      repo,
		tx:        tx,
		committed: committed,
		outbox:    emitter,
		logg:      logg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Create(ctx context.Context, ownerID uuid.UUID, input CreateInput) (*ListingDTO, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	title, err := normalizeTitle(input.Title)
	if err != nil {
		return nil, err
	}
	if err := validateDescription(input.Description); err != nil {
		return nil, err
	}
	if err := validatePrice(input.Price); err != nil {
		return nil, err
	}
	capacity, err := NewCapacity(input.Capacity)
	if err != nil {
		return nil, err
	}
	window, err := NewSaleWindow(input.SaleStartsAt, input.SaleEndsAt)
	if err != nil {
		return nil, err
	}
	images, err := buildImages(input.Images)
	if err != nil {
		return nil, err
	}

	start, end := window.Columns()
	listing := &models.Listing{
		OwnerID:      ownerID,
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		PriceCents:   input.Price,
		Capacity:     capacity.Column(),
		SaleStartsAt: start,
		SaleEndsAt:   end,
		Images:       images,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, listing)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create listing")
	}

	s.logg.Info(s.logg.WithListingID(s.logg.WithUserID(ctx, ownerID.String()), listing.ID.String()), "listing created")
	dto := FromModel(*listing, capacity.Remaining(0))
	return &dto, nil
}

func (s *service) Update(ctx context.Context, actorID, listingID uuid.UUID, input UpdateInput) (*ListingDTO, error) {
	var (
		updated   *models.Listing
		remaining *int
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		listing, err := repo.FindByIDForUpdate(ctx, listingID)
		if err != nil {
			return mapLookupError(err)
		}
		if listing.OwnerID != actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the listing owner may edit it")
		}

		if err := applyPatch(listing, input); err != nil {
			return err
		}

		committed, err := s.committed.Total(ctx, tx, listing.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read committed quantity")
		}
		capacity := CapacityOf(*listing)
		if limit, ok := capacity.Limit(); ok && committed > limit {
			return pkgerrors.Newf(pkgerrors.CodeCapacityExceeded, "capacity %d is below the %d units already committed", limit, committed).
				WithDetails(map[string]any{"committed": committed, "capacity": limit})
		}

		listing.UpdatedAt = s.now()
		if err := repo.Save(ctx, listing); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save listing")
		}
		if input.Images != nil {
			images, err := buildImages(input.Images)
			if err != nil {
				return err
			}
			if err := repo.ReplaceImages(ctx, listing.ID, images); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace listing images")
			}
			listing.Images = images
		}
		updated = listing
		remaining = capacity.Remaining(committed)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithListingID(ctx, listingID.String()), "listing updated")
	dto := FromModel(*updated, remaining)
	return &dto, nil
}

// Delete soft-deletes the listing and clears it out of every cart. Orders
// keep their snapshots.
func (s *service) Delete(ctx context.Context, actorID, listingID uuid.UUID) error {
	var removed int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		listing, err := repo.FindByIDForUpdate(ctx, listingID)
		if err != nil {
			return mapLookupError(err)
		}
		if listing.OwnerID != actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the listing owner may delete it")
		}
		if err := repo.SoftDelete(ctx, listing.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete listing")
		}
		removed, err = repo.DeleteCartItems(ctx, listing.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove listing from carts")
		}
		now := s.now()
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventListingDeleted,
			AggregateType: enums.AggregateListing,
			AggregateID:   listing.ID,
			Actor:         &outbox.ActorRef{UserID: actorID, Role: orders.RoleSeller},
			OccurredAt:    now,
			Data: payloads.ListingDeletedEvent{
				ListingID: listing.ID,
				OwnerID:   listing.OwnerID,
				DeletedAt: now,
			},
		})
	})
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"listing_id":         listingID.String(),
		"cart_items_removed": removed,
	}), "listing deleted")
	return nil
}

func (s *service) Get(ctx context.Context, listingID uuid.UUID) (*ListingDTO, error) {
	listing, err := s.repo.FindByID(ctx, listingID)
	if err != nil {
		return nil, mapLookupError(err)
	}
	remaining, err := s.remainingFor(ctx, *listing)
	if err != nil {
		return nil, err
	}
	dto := FromModel(*listing, remaining)
	return &dto, nil
}

func (s *service) List(ctx context.Context, params ListParams) (pagination.Page[ListingDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[ListingDTO]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, params, cursor, s.now())
	if err != nil {
		return pagination.Page[ListingDTO]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list listings")
	}
	page := pagination.Trim(rows, params.Limit, func(l models.Listing) pagination.Cursor {
		return pagination.Cursor{CreatedAt: l.CreatedAt, ID: l.ID}
	})

	limitedIDs := make([]uuid.UUID, 0, len(page.Items))
	for _, l := range page.Items {
		if l.Capacity != nil {
			limitedIDs = append(limitedIDs, l.ID)
		}
	}
	totals := map[uuid.UUID]int{}
	if len(limitedIDs) > 0 {
		totals, err = s.committed.Totals(ctx, nil, limitedIDs)
		if err != nil {
			return pagination.Page[ListingDTO]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read committed quantities")
		}
	}

	out := pagination.Page[ListingDTO]{
		Items:      make([]ListingDTO, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, l := range page.Items {
		out.Items = append(out.Items, FromModel(l, CapacityOf(l).Remaining(totals[l.ID])))
	}
	return out, nil
}

// Remaining returns capacity minus committed quantity, or nil when unlimited.
func (s *service) Remaining(ctx context.Context, listingID uuid.UUID) (*int, error) {
	listing, err := s.repo.FindByID(ctx, listingID)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return s.remainingFor(ctx, *listing)
}

func (s *service) remainingFor(ctx context.Context, listing models.Listing) (*int, error) {
	capacity := CapacityOf(listing)
	if _, ok := capacity.Limit(); !ok {
		return nil, nil
	}
	committed, err := s.committed.Total(ctx, nil, listing.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read committed quantity")
	}
	return capacity.Remaining(committed), nil
}

// Sales lists the listing's order items with their aggregate status. Only
// the owner may see them, and they stay visible after the listing is deleted.
func (s *service) Sales(ctx context.Context, actorID, listingID uuid.UUID) (*SalesDTO, error) {
	listing, err := s.repo.FindAnyByID(ctx, listingID)
	if err != nil {
		return nil, mapLookupError(err)
	}
	if listing.OwnerID != actorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the listing owner may view its sales")
	}
	items, err := s.repo.Sales(ctx, listingID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing sales")
	}

	out := &SalesDTO{
		ListingID: listingID,
		Status:    orders.Aggregate(items),
		Items:     make([]SaleDTO, 0, len(items)),
	}
	for _, item := range items {
		out.Items = append(out.Items, saleFromModel(item))
		if item.Status == enums.OrderItemStatusCancelled {
			continue
		}
		out.QuantitySold += item.Quantity
		out.RevenueCents += int64(item.SubtotalCents)
	}
	return out, nil
}

func applyPatch(listing *models.Listing, input UpdateInput) error {
	if input.Title != nil {
		title, err := normalizeTitle(*input.Title)
		if err != nil {
			return err
		}
		listing.Title = title
	}
	if input.Description != nil {
		if err := validateDescription(*input.Description); err != nil {
			return err
		}
		listing.Description = strings.TrimSpace(*input.Description)
	}
	if input.Price != nil {
		if err := validatePrice(*input.Price); err != nil {
			return err
		}
		listing.PriceCents = *input.Price
	}
	if input.CapacitySet {
		capacity, err := NewCapacity(input.Capacity)
		if err != nil {
			return err
		}
		listing.Capacity = capacity.Column()
	}
	if input.WindowSet {
		window, err := NewSaleWindow(input.SaleStartsAt, input.SaleEndsAt)
		if err != nil {
			return err
		}
		listing.SaleStartsAt, listing.SaleEndsAt = window.Columns()
	}
	return nil
}

func normalizeTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, "title must be at most %d characters", maxTitleLength)
	}
	return title, nil
}

func validateDescription(raw string) error {
	if utf8.RuneCountInString(raw) > maxDescriptionLength {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "description must be at most %d characters", maxDescriptionLength)
	}
	return nil
}

func validatePrice(price money.Cents) error {
	if price < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative")
	}
	return nil
}

// buildImages assigns positions in input order; position 0 is the primary image.
func buildImages(inputs []ImageInput) ([]models.ListingImage, error) {
	if len(inputs) > maxImages {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "at most %d images are allowed", maxImages)
	}
	images := make([]models.ListingImage, 0, len(inputs))
	for i, in := range inputs {
		key := strings.TrimSpace(in.ImageKey)
		if key == "" {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "image %d is missing its key", i)
		}
		images = append(images, models.ListingImage{
			Position:  i,
			ImageKey:  key,
			Thumbhash: strings.TrimSpace(in.Thumbhash),
		})
	}
	return images, nil
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
}
