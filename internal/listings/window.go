package listings

import (
	"time"

	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
)

// SaleWindow is either Always (no window) or Limited to [start, end].
// The zero value is Always.
type SaleWindow struct {
	limited bool
	start   time.Time
	end     time.Time
}

// Always returns a window that never restricts sales.
func Always() SaleWindow {
	return SaleWindow{}
}

// Limited returns a window bounded by start and end. start must precede end.
func Limited(start, end time.Time) (SaleWindow, error) {
	if !start.Before(end) {
		return SaleWindow{}, pkgerrors.New(pkgerrors.CodeValidation, "sale window start must be before its end")
	}
	return SaleWindow{limited: true, start: start.UTC(), end: end.UTC()}, nil
}

// NewSaleWindow builds a window from the two optional column values. Both
// must be nil (Always) or both set (Limited).
func NewSaleWindow(start, end *time.Time) (SaleWindow, error) {
	switch {
	case start == nil && end == nil:
		return Always(), nil
	case start == nil || end == nil:
		return SaleWindow{}, pkgerrors.New(pkgerrors.CodeValidation, "sale window requires both start and end")
	default:
		return Limited(*start, *end)
	}
}

// WindowOf reads the window stored on a listing. Rows are validated on
// write, so a malformed pair is treated as Always.
func WindowOf(l models.Listing) SaleWindow {
	w, err := NewSaleWindow(l.SaleStartsAt, l.SaleEndsAt)
	if err != nil {
		return Always()
	}
	return w
}

func (w SaleWindow) IsLimited() bool {
	return w.limited
}

// Bounds returns the window edges; ok is false for Always.
func (w SaleWindow) Bounds() (start, end time.Time, ok bool) {
	return w.start, w.end, w.limited
}

// Columns returns the nullable pair persisted on the listing row.
func (w SaleWindow) Columns() (*time.Time, *time.Time) {
	if !w.limited {
		return nil, nil
	}
	start, end := w.start, w.end
	return &start, &end
}

// Check reports NotYetOnSale before the start and SaleEnded after the end.
// Both edges are inclusive.
func (w SaleWindow) Check(now time.Time) error {
	if !w.limited {
		return nil
	}
	if now.Before(w.start) {
		return pkgerrors.New(pkgerrors.CodeNotYetOnSale, "listing is not on sale yet").
			WithDetails(map[string]any{"sale_starts_at": w.start})
	}
	if now.After(w.end) {
		return pkgerrors.New(pkgerrors.CodeSaleEnded, "listing sale has ended").
			WithDetails(map[string]any{"sale_ends_at": w.end})
	}
	return nil
}

// Capacity is either Unlimited or a positive limit. The zero value is Unlimited.
type Capacity struct {
	limited bool
	limit   int
}

func Unlimited() Capacity {
	return Capacity{}
}

// LimitedTo returns a capacity of n, which must be positive.
func LimitedTo(n int) (Capacity, error) {
	if n < 1 {
		return Capacity{}, pkgerrors.New(pkgerrors.CodeValidation, "capacity must be a positive integer")
	}
	return Capacity{limited: true, limit: n}, nil
}

// NewCapacity maps the nullable column value; nil means Unlimited.
func NewCapacity(n *int) (Capacity, error) {
	if n == nil {
		return Unlimited(), nil
	}
	return LimitedTo(*n)
}

// CapacityOf reads the capacity stored on a listing.
func CapacityOf(l models.Listing) Capacity {
	c, err := NewCapacity(l.Capacity)
	if err != nil {
		// a non-positive stored limit admits nothing
		return Capacity{limited: true, limit: 0}
	}
	return c
}

// Limit returns the limit; ok is false for Unlimited.
func (c Capacity) Limit() (int, bool) {
	return c.limit, c.limited
}

func (c Capacity) Column() *int {
	if !c.limited {
		return nil
	}
	n := c.limit
	return &n
}

// Admits reports whether requested more units fit on top of committed.
func (c Capacity) Admits(committed, requested int) bool {
	if !c.limited {
		return true
	}
	return committed+requested <= c.limit
}

// Remaining returns limit minus committed, floored at zero; nil for Unlimited.
func (c Capacity) Remaining(committed int) *int {
	if !c.limited {
		return nil
	}
	left := c.limit - committed
	if left < 0 {
		left = 0
	}
	return &left
}
