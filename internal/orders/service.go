package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox"
	"github.com/angelmondragon/commonsportal-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitAll(ctx context.Context, tx *gorm.DB, events []outbox.DomainEvent) error
}

// Service exposes order reads and the order item lifecycle.
type Service interface {
	Complete(ctx context.Context, actorID, orderItemID uuid.UUID) (*OrderDetail, error)
	Cancel(ctx context.Context, actorID, orderItemID uuid.UUID) (*OrderDetail, error)
	Get(ctx context.Context, actorID, orderID uuid.UUID) (*OrderDetail, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (pagination.Page[OrderSummary], error)
}

type transitionFunc func(order models.Order, itemID, actorID uuid.UUID, now time.Time) (Transition, error)

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxEmitter
	logg   *logger.Logger
	now    func() time.Time
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo Repository, tx txRunner, emitter outboxEmitter, logg *logger.Logger, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &service{
		repo:   repo,
		tx:     tx,
		outbox: emitter,
		logg:   logg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Complete(ctx context.Context, actorID, orderItemID uuid.UUID) (*OrderDetail, error) {
	return s.transition(ctx, actorID, orderItemID, Complete, "order item completed")
}

func (s *service) Cancel(ctx context.Context, actorID, orderItemID uuid.UUID) (*OrderDetail, error) {
	return s.transition(ctx, actorID, orderItemID, Cancel, "order item cancelled")
}

// transition runs a pure lifecycle change and persists it together with its
// events in one transaction.
func (s *service) transition(ctx context.Context, actorID, orderItemID uuid.UUID, fn transitionFunc, logMsg string) (*OrderDetail, error) {
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if orderItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item id required")
	}

	var result Transition
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindOrderByItemForUpdate(ctx, orderItemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order item")
		}

		result, err = fn(*order, orderItemID, actorID, s.now())
		if err != nil {
			return err
		}

		updated, err := repo.UpdateItemStatus(ctx, result.Item)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order item status")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "order item is no longer pending")
		}
		return s.outbox.EmitAll(ctx, tx, result.Events)
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":      result.Order.ID.String(),
		"order_item_id": orderItemID.String(),
		"actor_id":      actorID.String(),
		"status":        result.Item.Status.String(),
	}), logMsg)

	detail := DetailFromModel(result.Order)
	return &detail, nil
}

// Get returns an order to its buyer or to a seller with an item in it.
func (s *service) Get(ctx context.Context, actorID, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !canView(*order, actorID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	detail := DetailFromModel(*order)
	return &detail, nil
}

func canView(order models.Order, actorID uuid.UUID) bool {
	if order.BuyerID == actorID {
		return true
	}
	for _, item := range order.Items {
		if item.SellerID == actorID {
			return true
		}
	}
	return false
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (pagination.Page[OrderSummary], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[OrderSummary]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListBuyerOrders(ctx, buyerID, cursor, params.Limit)
	if err != nil {
		return pagination.Page[OrderSummary]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	page := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	out := pagination.Page[OrderSummary]{
		Items:      make([]OrderSummary, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, order := range page.Items {
		out.Items = append(out.Items, summaryFromModel(order))
	}
	return out, nil
}
