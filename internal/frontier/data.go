package frontier

import "time"

// UrlStatus is the crawl state of a single frontier row.
type UrlStatus string

const (
	StatusDiscovered UrlStatus = "discovered"
	StatusFetching   UrlStatus = "fetching"
	StatusFetched    UrlStatus = "fetched"
	StatusFailed     UrlStatus = "failed"
	StatusExhausted  UrlStatus = "exhausted"
)

// DiscoveryMethod records how a URL entered the frontier.
type DiscoveryMethod string

const (
	DiscoverySeed       DiscoveryMethod = "seed"
	DiscoveryHTMLLink   DiscoveryMethod = "html_link"
	DiscoveryPagination DiscoveryMethod = "pagination"
	DiscoveryAPIResult  DiscoveryMethod = "api_result"
)

// exhaustedRetryWindow is how long an exhausted URL is left alone before
// it becomes retryable again, per the claim query in the reference
// implementation this frontier is grounded on.
const exhaustedRetryWindow = 70 * 24 * time.Hour

// MaxRetries is the policy maximum retry_count for a transport or 5xx
// error before a Failed row is treated as Exhausted rather than retried
// again.
const MaxRetries = 5

// CrawlURL is a single frontier row.
type CrawlURL struct {
	ID               int64
	SourceID         string
	URL              string
	Status           UrlStatus
	DiscoveryMethod  DiscoveryMethod
	ParentURL        string
	DiscoveryContext string
	Depth            int
	DiscoveredAt      time.Time
	FetchedAt        *time.Time
	RetryCount       int
	LastError        string
	NextRetryAt      *time.Time
	ETag             string
	LastModified     string
	ContentHash      string
	DocumentID       string
}

// CrawlState is the status rollup for a source, as reported to an
// orchestrator deciding whether a crawl run is idle.
type CrawlState struct {
	SourceID             string
	LastCrawlStarted     *time.Time
	LastCrawlCompleted    *time.Time
	URLsDiscovered       int
	URLsFetched          int
	URLsFailed           int
	URLsPending          int
	HasPendingURLs       bool
	HasUnexploredBranches bool
	OldestPendingURL     *time.Time
}
