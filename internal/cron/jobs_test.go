package cron

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/commonsportal-backend/internal/availability"
	"github.com/angelmondragon/commonsportal-backend/internal/listings"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/dbtest"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
	"github.com/angelmondragon/commonsportal-backend/pkg/enums"
	"github.com/angelmondragon/commonsportal-backend/pkg/metrics"
	"github.com/angelmondragon/commonsportal-backend/pkg/outbox"
)

func seedOutboxRow(t *testing.T, conn *gorm.DB, publishedAt *time.Time) models.OutboxEvent {
	t.Helper()
	row := models.OutboxEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		PublishedAt:   publishedAt,
	}
	require.NoError(t, conn.Create(&row).Error)
	return row
}

func TestOutboxRetentionPrunesOldPublishedRows(t *testing.T) {
	client := dbtest.Open(t)
	conn := client.DB()
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	for i := 0; i < 5; i++ {
		seedOutboxRow(t, conn, &old)
	}
	keepRecent := seedOutboxRow(t, conn, &recent)
	keepPending := seedOutboxRow(t, conn, nil)

	job, err := NewOutboxRetention(OutboxRetentionParams{
		Logger:    quietLogger(),
		DB:        client,
		Outbox:    outbox.NewRepository(conn),
		Retention: 30 * 24 * time.Hour,
		BatchSize: 2,
		Clock:     func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Find(&remaining).Error)
	ids := map[uuid.UUID]bool{}
	for _, row := range remaining {
		ids[row.ID] = true
	}
	assert.Len(t, remaining, 2)
	assert.True(t, ids[keepRecent.ID])
	assert.True(t, ids[keepPending.ID])
}

func TestCapacityAuditFindsOversoldListings(t *testing.T) {
	client := dbtest.Open(t)
	conn := client.DB()

	healthy := dbtest.Listing(t, conn, dbtest.WithCapacity(5))
	dbtest.CartItem(t, conn, uuid.New(), healthy.ID, 5)
	oversold := dbtest.Listing(t, conn, dbtest.WithCapacity(2))
	dbtest.CartItem(t, conn, uuid.New(), oversold.ID, 2)
	dbtest.CartItem(t, conn, uuid.New(), oversold.ID, 1)
	unlimited := dbtest.Listing(t, conn)
	dbtest.CartItem(t, conn, uuid.New(), unlimited.ID, 50)
	for i := 0; i < 3; i++ {
		dbtest.Listing(t, conn, dbtest.WithCapacity(1))
	}

	reg := prometheus.NewRegistry()
	audit, err := NewCapacityAudit(CapacityAuditParams{
		Logger:    quietLogger(),
		Listings:  listings.NewRepository(conn),
		Committed: availability.NewCommittedReader(conn),
		Metrics:   metrics.NewJobMetrics(reg),
		PageSize:  2,
	})
	require.NoError(t, err)

	found, err := audit.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, Oversold{ListingID: oversold.ID, Capacity: 2, Committed: 3}, found[0])

	require.NoError(t, audit.Run(context.Background()))
	assert.Equal(t, 1.0, oversoldGauge(t, reg))
}

func oversoldGauge(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "listings_oversold" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("listings_oversold not registered")
	return 0
}
