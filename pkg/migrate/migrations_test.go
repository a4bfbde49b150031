package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/commonsportal-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.NotEmpty(t, matches, "no %s migration found", suffix)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestMigrationsDirIsValid(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
}

func TestListingsMigrationConstraints(t *testing.T) {
	content := readMigration(t, "create_listings")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS listings",
		"CHECK (price_cents >= 0)",
		"sale_starts_at < sale_ends_at",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_listing_images_listing_position",
		"DROP TABLE IF EXISTS listings",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestCartsMigrationConstraints(t *testing.T) {
	content := readMigration(t, "create_carts")
	for _, sub := range []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_carts_buyer",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_cart_items_cart_listing",
		"CHECK (quantity > 0)",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestOrdersMigrationProtectsSnapshots(t *testing.T) {
	content := readMigration(t, "create_orders")
	for _, sub := range []string{
		"CREATE TYPE order_item_status AS ENUM ('pending', 'completed', 'cancelled')",
		"CREATE TABLE IF NOT EXISTS order_item_snapshots",
		"BEFORE UPDATE OR DELETE ON order_item_snapshots",
		"WHERE status <> 'cancelled'",
		"DROP TYPE IF EXISTS order_item_status",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestOutboxMigrationListsEveryEventType(t *testing.T) {
	content := readMigration(t, "create_outbox")
	for _, eventType := range []string{"order_created", "order_item_completed", "order_item_cancelled", "listing_deleted"} {
		assert.True(t, strings.Contains(content, "'"+eventType+"'"), "missing event type %s", eventType)
	}
	assert.Contains(t, content, "CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_dlq_event_id")
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Listing Tags!")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_add_listing_tags.sql"))
	require.NoError(t, migrate.ValidateDir(dir))

	_, err = migrate.CreateSQLMigration(dir, "!!!")
	assert.Error(t, err)
}
