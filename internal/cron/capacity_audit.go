package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
	"github.com/angelmondragon/commonsportal-backend/pkg/metrics"
)

const defaultAuditPageSize = 200

type limitedListingSource interface {
	ListLimited(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Listing, error)
}

type committedTotals interface {
	Totals(ctx context.Context, tx *gorm.DB, listingIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

type CapacityAuditParams struct {
	Logger    *logger.Logger
	Listings  limitedListingSource
	Committed committedTotals
	Metrics   *metrics.JobMetrics
	PageSize  int
}

// CapacityAudit walks every capacity-limited listing and reports the ones
// whose carts plus live orders exceed capacity. It never modifies data.
type CapacityAudit struct {
	logg      *logger.Logger
	listings  limitedListingSource
	committed committedTotals
	metrics   *metrics.JobMetrics
	pageSize  int
}

// Oversold describes one listing found over capacity.
type Oversold struct {
	ListingID uuid.UUID
	Capacity  int
	Committed int
}

func NewCapacityAudit(params CapacityAuditParams) (*CapacityAudit, error) {
	if params.Logger == nil || params.Listings == nil || params.Committed == nil {
		return nil, errors.New("capacity audit: logger, listings and committed reader are required")
	}
	size := params.PageSize
	if size <= 0 {
		size = defaultAuditPageSize
	}
	return &CapacityAudit{
		logg:      params.Logger,
		listings:  params.Listings,
		committed: params.Committed,
		metrics:   params.Metrics,
		pageSize:  size,
	}, nil
}

func (a *CapacityAudit) Name() string { return "capacity-audit" }

func (a *CapacityAudit) Run(ctx context.Context) error {
	found, err := a.Scan(ctx)
	if err != nil {
		return err
	}
	a.metrics.SetOversold(len(found))
	for _, o := range found {
		a.logg.Warn(a.logg.WithFields(ctx, map[string]any{
			"listing_id": o.ListingID.String(),
			"capacity":   o.Capacity,
			"committed":  o.Committed,
		}), "cron.listing_oversold")
	}
	return nil
}

// Scan returns every oversold listing.
func (a *CapacityAudit) Scan(ctx context.Context) ([]Oversold, error) {
	var (
		found []Oversold
		after uuid.UUID
	)
	for {
		page, err := a.listings.ListLimited(ctx, after, a.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list limited listings: %w", err)
		}
		if len(page) == 0 {
			return found, nil
		}

		ids := make([]uuid.UUID, len(page))
		for i, listing := range page {
			ids[i] = listing.ID
		}
		totals, err := a.committed.Totals(ctx, nil, ids)
		if err != nil {
			return nil, fmt.Errorf("committed totals: %w", err)
		}
		for _, listing := range page {
			if listing.Capacity == nil {
				continue
			}
			if committed := totals[listing.ID]; committed > *listing.Capacity {
				found = append(found, Oversold{
					ListingID: listing.ID,
					Capacity:  *listing.Capacity,
					Committed: committed,
				})
			}
		}

		if len(page) < a.pageSize {
			return found, nil
		}
		after = page[len(page)-1].ID
	}
}
