package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/internal/listings"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
)

type committedReader interface {
	Committed(ctx context.Context, tx *gorm.DB, listingID uuid.UUID, opts Options) (int, error)
}

// Evaluate decides whether requested more units of listing can be committed
// on top of committed at instant now. It checks the sale window first, then
// capacity. It has no side effects.
func Evaluate(listing models.Listing, committed, requested int, now time.Time) error {
	if requested < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	if err := listings.WindowOf(listing).Check(now); err != nil {
		return err
	}
	capacity := listings.CapacityOf(listing)
	if capacity.Admits(committed, requested) {
		return nil
	}
	limit, _ := capacity.Limit()
	remaining := capacity.Remaining(committed)
	return pkgerrors.Newf(pkgerrors.CodeCapacityExceeded, "only %d of %q remaining", *remaining, listing.Title).
		WithDetails(map[string]any{
			"listing_id": listing.ID,
			"capacity":   limit,
			"committed":  committed,
			"requested":  requested,
			"remaining":  *remaining,
		})
}

// Validator runs Evaluate against freshly read committed totals. Its answer
// is a snapshot: outside a transaction that also writes, it is advisory.
type Validator struct {
	reader committedReader
	now    func() time.Time
}

type Option func(*Validator)

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

func NewValidator(reader committedReader, opts ...Option) *Validator {
	v := &Validator{
		reader: reader,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Now exposes the validator clock so callers stamp writes consistently.
func (v *Validator) Now() time.Time {
	return v.now()
}

// Validate checks the listing for requested units. Unlimited listings skip
// the committed read entirely.
func (v *Validator) Validate(ctx context.Context, tx *gorm.DB, listing models.Listing, requested int, opts Options) error {
	committed := 0
	if _, limited := listings.CapacityOf(listing).Limit(); limited {
		var err error
		committed, err = v.reader.Committed(ctx, tx, listing.ID, opts)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read committed quantity")
		}
	}
	return Evaluate(listing, committed, requested, v.now())
}
