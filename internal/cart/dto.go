package cart

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/money"
)

// ItemDTO is one cart line with the listing fields needed for display.
type ItemDTO struct {
	ID             uuid.UUID `json:"id"`
	ListingID      uuid.UUID `json:"listing_id"`
	Quantity       int       `json:"quantity"`
	Title          string    `json:"title"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	SubtotalCents  int64     `json:"subtotal_cents"`
	ImageKey       string    `json:"image_key,omitempty"`
	Thumbhash      string    `json:"thumbhash,omitempty"`
	AddedAt        time.Time `json:"added_at"`
}

// View is the buyer's cart. ID is nil until the first item is added.
type View struct {
	ID            *uuid.UUID `json:"id"`
	BuyerID       uuid.UUID  `json:"buyer_id"`
	Items         []ItemDTO  `json:"items"`
	SubtotalCents int64      `json:"subtotal_cents"`
	Subtotal      string     `json:"subtotal"`
}

func emptyView(buyerID uuid.UUID) *View {
	return &View{BuyerID: buyerID, Items: []ItemDTO{}, Subtotal: money.Cents(0).String()}
}

func viewFromModel(cart models.Cart) (*View, error) {
	id := cart.ID
	view := &View{ID: &id, BuyerID: cart.BuyerID, Items: make([]ItemDTO, 0, len(cart.Items))}
	subtotals := make([]money.Cents, 0, len(cart.Items))
	for _, item := range cart.Items {
		dto, err := itemFromModel(item)
		if err != nil {
			return nil, err
		}
		view.Items = append(view.Items, dto)
		subtotals = append(subtotals, money.Cents(dto.SubtotalCents))
	}
	total, err := money.Add(subtotals...)
	if err != nil {
		return nil, err
	}
	view.SubtotalCents = int64(total)
	view.Subtotal = total.String()
	return view, nil
}

func itemFromModel(item models.CartItem) (ItemDTO, error) {
	dto := ItemDTO{
		ID:        item.ID,
		ListingID: item.ListingID,
		Quantity:  item.Quantity,
		AddedAt:   item.CreatedAt,
	}
	if l := item.Listing; l != nil {
		subtotal, err := l.PriceCents.Times(item.Quantity)
		if err != nil {
			return ItemDTO{}, err
		}
		dto.Title = l.Title
		dto.UnitPriceCents = int64(l.PriceCents)
		dto.SubtotalCents = int64(subtotal)
		if img := l.PrimaryImage(); img != nil {
			dto.ImageKey = img.ImageKey
			dto.Thumbhash = img.Thumbhash
		}
	}
	return dto, nil
}
