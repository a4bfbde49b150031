package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/commonsportal-backend/pkg/errors"
)

func limitedListing(capacity int) models.Listing {
	return models.Listing{ID: uuid.New(), Title: "Workshop", Capacity: &capacity}
}

func expectCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if !pkgerrors.IsCode(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func TestEvaluateCapacity(t *testing.T) {
	now := time.Now().UTC()
	listing := limitedListing(5)

	if err := Evaluate(listing, 0, 5, now); err != nil {
		t.Fatalf("filling to capacity: %v", err)
	}
	if err := Evaluate(listing, 4, 1, now); err != nil {
		t.Fatalf("last unit: %v", err)
	}

	err := Evaluate(listing, 4, 2, now)
	expectCode(t, err, pkgerrors.CodeCapacityExceeded)
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	if !ok {
		t.Fatalf("expected map details, got %T", pkgerrors.As(err).Details())
	}
	if details["remaining"] != 1 || details["capacity"] != 5 {
		t.Fatalf("unexpected details %v", details)
	}

	// unlimited listings admit anything
	if err := Evaluate(models.Listing{}, 1_000_000, 1_000_000, now); err != nil {
		t.Fatalf("unlimited listing rejected: %v", err)
	}
}

func TestEvaluateRejectsNonPositiveQuantity(t *testing.T) {
	expectCode(t, Evaluate(models.Listing{}, 0, 0, time.Now()), pkgerrors.CodeValidation)
}

func TestEvaluateChecksWindowBeforeCapacity(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	listing := limitedListing(1)
	start := now.Add(time.Hour)
	end := now.Add(2 * time.Hour)
	listing.SaleStartsAt, listing.SaleEndsAt = &start, &end

	expectCode(t, Evaluate(listing, 10, 10, now), pkgerrors.CodeNotYetOnSale)
	expectCode(t, Evaluate(listing, 10, 10, end.Add(time.Second)), pkgerrors.CodeSaleEnded)
	expectCode(t, Evaluate(listing, 1, 1, start), pkgerrors.CodeCapacityExceeded)
}

type stubReader struct {
	committed int
	err       error
	calls     int
	opts      Options
}

func (s *stubReader) Committed(_ context.Context, _ *gorm.DB, _ uuid.UUID, opts Options) (int, error) {
	s.calls++
	s.opts = opts
	return s.committed, s.err
}

func TestValidatorSkipsReadForUnlimited(t *testing.T) {
	reader := &stubReader{}
	v := NewValidator(reader)

	if err := v.Validate(context.Background(), nil, models.Listing{}, 3, Options{}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if reader.calls != 0 {
		t.Fatalf("unlimited listing should not read committed totals, got %d reads", reader.calls)
	}
}

func TestValidatorPassesOptionsAndWrapsErrors(t *testing.T) {
	reader := &stubReader{committed: 2}
	fixed := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	v := NewValidator(reader, WithClock(func() time.Time { return fixed }))
	if !v.Now().Equal(fixed) {
		t.Fatalf("clock not injected: %v", v.Now())
	}

	exclude := uuid.New()
	err := v.Validate(context.Background(), nil, limitedListing(3), 2, Options{ExcludeCartItemID: exclude})
	expectCode(t, err, pkgerrors.CodeCapacityExceeded)
	if reader.opts.ExcludeCartItemID != exclude {
		t.Fatalf("exclusion not forwarded: %v", reader.opts.ExcludeCartItemID)
	}

	reader.err = errors.New("connection reset")
	expectCode(t, v.Validate(context.Background(), nil, limitedListing(3), 1, Options{}), pkgerrors.CodeDependency)
}
