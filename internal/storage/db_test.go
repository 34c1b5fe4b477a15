package storage_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/crawlcore/internal/storage"
)

func TestOpenAppliesMigrationsIdempotently(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())

	db, err := storage.Open(dsn)
	require.NoError(t, err)
	defer db.Close()

	tables := []string{"sources", "crawl_urls", "crawl_requests", "crawl_config", "documents", "document_versions", "rate_limit_domains", "rate_limit_403s"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "expected table %s to exist", table)
	}

	db2, err := storage.Open(dsn)
	require.NoError(t, err)
	defer db2.Close()

	var migrationCount int
	require.NoError(t, db2.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&migrationCount))
	require.Greater(t, migrationCount, 0)
}
