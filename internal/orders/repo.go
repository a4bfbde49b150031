package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/db"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
	"github.com/angelmondragon/commonsportal-backend/pkg/pagination"
)

// Repository defines persistence operations for orders, items and snapshots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateSnapshot(ctx context.Context, snapshot *models.OrderItemSnapshot) error
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderByItemForUpdate(ctx context.Context, orderItemID uuid.UUID) (*models.Order, error)
	UpdateItemStatus(ctx context.Context, item models.OrderItem) (bool, error)
	ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSnapshot(ctx context.Context, snapshot *models.OrderItemSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

// CreateOrder inserts the order together with its items. The snapshots the
// items reference must already exist.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func itemsInOrder(q *gorm.DB) *gorm.DB {
	return q.Order("created_at ASC").Order("id ASC")
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", itemsInOrder).
		Preload("Items.Snapshot").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindOrderByItemForUpdate locks the item row and returns its whole order.
func (r *repository) FindOrderByItemForUpdate(ctx context.Context, orderItemID uuid.UUID) (*models.Order, error) {
	var item models.OrderItem
	if err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("id = ?", orderItemID).
		First(&item).Error; err != nil {
		return nil, err
	}
	return r.FindOrder(ctx, item.OrderID)
}

// UpdateItemStatus writes a terminal status only if the row is still pending.
// It reports false when another writer got there first.
func (r *repository) UpdateItemStatus(ctx context.Context, item models.OrderItem) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ? AND status = ?", item.ID, enums.OrderItemStatusPending).
		Updates(map[string]any{
			"status":       item.Status,
			"completed_at": item.CompletedAt,
			"cancelled_at": item.CancelledAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", itemsInOrder).
		Where("buyer_id = ?", buyerID).
		Scopes(pagination.Newest(cursor, limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
