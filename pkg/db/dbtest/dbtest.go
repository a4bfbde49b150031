// Package dbtest opens throwaway sqlite databases with the full schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/commonsportal-backend/pkg/db"
	"github.com/angelmondragon/commonsportal-backend/pkg/db/models"
)

// Open returns a migrated in-memory database private to t. The pool holds a
// single connection, so transactions run one at a time and code inside a
// transaction must only use the tx handle.
func Open(t testing.TB) *db.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:test_%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	client, err := db.OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := client.DB().AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return client
}
