package storage

/*
Responsibilities
- Define the durable schema every other package reads and writes through
- Apply schema changes in small, idempotent, ordered steps

Tables
- sources: crawl targets (one row per source)
- crawl_urls: the frontier — one row per discovered URL, carrying its
  claim state, retry schedule, and conditional-fetch cache keys
- crawl_requests: append-only audit log, one row per fetch attempt
- crawl_config: last-applied scraper config hash per source
- documents: logical document identity
- document_versions: content-addressed, deduplicated document bodies
- rate_limit_domains / rate_limit_403s: persistent rate limiter state
  for multi-process coordination
*/

type migrationStep struct {
	name string
	sql  string
}

var migrations = []migrationStep{
	{
		name: "001_sources",
		sql: `CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL DEFAULT 'custom',
			name TEXT NOT NULL,
			base_url TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			last_scraped_at TEXT
		)`,
	},
	{
		name: "002_crawl_urls",
		sql: `CREATE TABLE IF NOT EXISTS crawl_urls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id TEXT NOT NULL,
			url TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'discovered',
			discovery_method TEXT NOT NULL DEFAULT 'seed',
			parent_url TEXT,
			discovery_context TEXT NOT NULL DEFAULT '{}',
			depth INTEGER NOT NULL DEFAULT 0,
			discovered_at TEXT NOT NULL,
			fetched_at TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			next_retry_at TEXT,
			etag TEXT,
			last_modified TEXT,
			content_hash TEXT,
			document_id TEXT,
			UNIQUE(source_id, url)
		)`,
	},
	{
		name: "003_crawl_urls_indexes",
		sql: `CREATE INDEX IF NOT EXISTS idx_crawl_urls_claim
			ON crawl_urls(source_id, status, depth, discovered_at)`,
	},
	{
		name: "004_crawl_requests",
		sql: `CREATE TABLE IF NOT EXISTS crawl_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id TEXT NOT NULL,
			url TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT 'GET',
			request_headers TEXT NOT NULL DEFAULT '{}',
			request_at TEXT NOT NULL,
			response_status INTEGER,
			response_headers TEXT,
			response_at TEXT,
			response_size INTEGER,
			duration_ms INTEGER,
			error TEXT,
			was_conditional INTEGER NOT NULL DEFAULT 0,
			was_not_modified INTEGER NOT NULL DEFAULT 0
		)`,
	},
	{
		name: "005_crawl_requests_index",
		sql: `CREATE INDEX IF NOT EXISTS idx_crawl_requests_source
			ON crawl_requests(source_id, request_at)`,
	},
	{
		name: "006_crawl_config",
		sql: `CREATE TABLE IF NOT EXISTS crawl_config (
			source_id TEXT PRIMARY KEY,
			config_hash TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	},
	{
		name: "007_documents",
		sql: `CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			source_url TEXT NOT NULL,
			mime_type TEXT NOT NULL DEFAULT 'application/octet-stream',
			metadata TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	},
	{
		name: "008_document_versions",
		sql: `CREATE TABLE IF NOT EXISTS document_versions (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			file_path TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			mime_type TEXT NOT NULL,
			acquired_at TEXT NOT NULL,
			source_url TEXT NOT NULL,
			UNIQUE(document_id, content_hash)
		)`,
	},
	{
		name: "009_document_versions_index",
		sql: `CREATE INDEX IF NOT EXISTS idx_document_versions_hash
			ON document_versions(content_hash)`,
	},
	{
		name: "010_rate_limit_domains",
		sql: `CREATE TABLE IF NOT EXISTS rate_limit_domains (
			domain TEXT PRIMARY KEY,
			current_delay_ms INTEGER NOT NULL,
			last_request_at INTEGER,
			consecutive_successes INTEGER NOT NULL DEFAULT 0,
			in_backoff INTEGER NOT NULL DEFAULT 0,
			total_requests INTEGER NOT NULL DEFAULT 0,
			rate_limit_hits INTEGER NOT NULL DEFAULT 0
		)`,
	},
	{
		name: "011_rate_limit_403s",
		sql: `CREATE TABLE IF NOT EXISTS rate_limit_403s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			domain TEXT NOT NULL,
			url TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL
		)`,
	},
	{
		name: "012_rate_limit_403s_index",
		sql: `CREATE INDEX IF NOT EXISTS idx_rate_limit_403s_domain
			ON rate_limit_403s(domain, timestamp_ms)`,
	},
	{
		name: "013_crawl_urls_explored",
		sql: `ALTER TABLE crawl_urls ADD COLUMN explored INTEGER NOT NULL DEFAULT 0`,
	},
}
