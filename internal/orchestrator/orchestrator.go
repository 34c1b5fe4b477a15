package orchestrator

/*
Responsibilities
- Drive the frontier to completion for a set of sources under bounded
  concurrency: claim -> fetch -> update frontier -> store body -> discover
  child URLs -> submit back to the frontier
- Handle config-change invalidation before a run starts
- Reap stale Fetching rows left behind by a crashed or killed previous run

This is the one place that wires B (document store), C (frontier), D
(audit log, via the fetcher), E (limiter, via the fetcher), F (fetcher),
and the out-of-scope, per-source discovery collaborator together.
*/

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/rohmanhakim/crawlcore/internal/config"
	"github.com/rohmanhakim/crawlcore/internal/discovery"
	"github.com/rohmanhakim/crawlcore/internal/document"
	"github.com/rohmanhakim/crawlcore/internal/fetcher"
	"github.com/rohmanhakim/crawlcore/internal/frontier"
	"github.com/rohmanhakim/crawlcore/internal/logging"
	"github.com/rohmanhakim/crawlcore/pkg/failure"
	"github.com/rohmanhakim/crawlcore/pkg/timeutil"
)

// retryBackoff is the frontier's retry policy, exponential from one minute
// and capped at an hour, per (source_id, url) retry_count.
var retryBackoff = timeutil.NewBackoffParam(time.Minute, 2.0, time.Hour)

const (
	defaultClaimBatch   = 16
	staleFetchingWindow = 30 * time.Minute
	idlePollInterval    = 500 * time.Millisecond
)

// FetcherFactory builds a per-source Fetcher, so each source can carry its
// own transport/proxy/headers per config.
type FetcherFactory func(sourceID string) *fetcher.Fetcher

// Orchestrator drives one or more sources' frontiers to completion.
type Orchestrator struct {
	frontier    *frontier.Frontier
	documents   *document.Store
	strategy    discovery.Strategy
	newFetcher  FetcherFactory
	recorder    *logging.Recorder
	cfg         config.Config
	concurrency int
}

func New(f *frontier.Frontier, docs *document.Store, strategy discovery.Strategy, newFetcher FetcherFactory, recorder *logging.Recorder, cfg config.Config) *Orchestrator {
	concurrency := cfg.Concurrency()
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Orchestrator{
		frontier:    f,
		documents:   docs,
		strategy:    strategy,
		newFetcher:  newFetcher,
		recorder:    recorder,
		cfg:         cfg,
		concurrency: concurrency,
	}
}

// SeedProvider returns the seed URLs to re-add for sourceID after a
// config-change invalidation clears its pending rows.
type SeedProvider func(sourceID string) []string

// Run drives every source in sourceIDs to completion: idle when no claims
// are available, exit once every source has no pending URLs and no
// unexplored branches.
func (o *Orchestrator) Run(ctx context.Context, sourceIDs []string, seeds SeedProvider) error {
	if _, err := o.frontier.ReapStaleFetching(ctx, staleFetchingWindow); err != nil {
		return err
	}

	for _, sourceID := range sourceIDs {
		if err := o.handleConfigChange(ctx, sourceID, seeds); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		claims, err := o.claimAcrossSources(ctx, sourceIDs)
		if err != nil {
			return err
		}

		if len(claims) == 0 {
			done, err := o.allIdle(ctx, sourceIDs)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			select {
			case <-time.After(idlePollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		o.processClaims(ctx, claims)
	}
}

func (o *Orchestrator) handleConfigChange(ctx context.Context, sourceID string, seeds SeedProvider) error {
	serialized, err := json.Marshal(o.cfg.Hashable())
	if err != nil {
		return err
	}

	changed, _, err := o.frontier.CheckConfigChanged(ctx, sourceID, serialized)
	if err != nil {
		return err
	}
	if changed {
		if err := o.frontier.ClearPending(ctx, sourceID); err != nil {
			return err
		}
		if seeds != nil {
			for _, seedURL := range seeds(sourceID) {
				if err := o.frontier.Add(ctx, frontier.CrawlURL{
					SourceID:        sourceID,
					URL:             seedURL,
					DiscoveryMethod: frontier.DiscoverySeed,
				}); err != nil {
					return err
				}
			}
		}
	}
	return o.frontier.StoreConfigHash(ctx, sourceID, serialized)
}

func (o *Orchestrator) claimAcrossSources(ctx context.Context, sourceIDs []string) ([]frontier.CrawlURL, error) {
	var all []frontier.CrawlURL
	perSource := o.concurrency / max(1, len(sourceIDs))
	if perSource < 1 {
		perSource = 1
	}
	for _, sourceID := range sourceIDs {
		claims, err := o.frontier.ClaimN(ctx, sourceID, perSource)
		if err != nil {
			return nil, err
		}
		all = append(all, claims...)
	}
	if len(all) == 0 && len(sourceIDs) > 0 {
		retryable, err := o.frontier.Retryable(ctx, sourceIDs[0], defaultClaimBatch)
		if err != nil {
			return nil, err
		}
		all = append(all, retryable...)
	}
	return all, nil
}

func (o *Orchestrator) allIdle(ctx context.Context, sourceIDs []string) (bool, error) {
	for _, sourceID := range sourceIDs {
		state, err := o.frontier.CrawlState(ctx, sourceID)
		if err != nil {
			return false, err
		}
		if state.HasPendingURLs || state.HasUnexploredBranches {
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) processClaims(ctx context.Context, claims []frontier.CrawlURL) {
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	for _, claim := range claims {
		claim := claim
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			o.processOne(ctx, claim)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) processOne(ctx context.Context, claim frontier.CrawlURL) {
	parsed, err := url.Parse(claim.URL)
	if err != nil {
		o.recordFailure(ctx, claim, err.Error())
		return
	}

	f := o.newFetcher(claim.SourceID)
	outcome, classifyErr := f.Fetch(ctx, fetcher.ConditionalRequest{
		URL:          *parsed,
		ETag:         claim.ETag,
		LastModified: claim.LastModified,
		UserAgent:    o.cfg.UserAgent(),
	})

	if classifyErr != nil {
		if classifyErr.Severity() == failure.SeverityRecoverable {
			o.recordRetry(ctx, claim, classifyErr.Error())
		} else {
			o.recordFailure(ctx, claim, classifyErr.Error())
		}
		return
	}

	switch outcome.Kind {
	case fetcher.OutcomeFetched:
		o.handleFetched(ctx, claim, outcome)
	case fetcher.OutcomeNotModified:
		now := time.Now()
		_ = o.frontier.RecordResult(ctx, claim.ID, frontier.StatusFetched, frontier.ResultFields{
			FetchedAt: &now, ETag: firstNonEmpty(outcome.NewETag, claim.ETag), LastModified: firstNonEmpty(outcome.NewModified, claim.LastModified),
			ContentHash: claim.ContentHash, DocumentID: claim.DocumentID,
		})
	case fetcher.OutcomeRateLimited:
		o.recordRetry(ctx, claim, "rate limited")
	case fetcher.OutcomeClientError:
		now := time.Now()
		_ = o.frontier.RecordResult(ctx, claim.ID, frontier.StatusExhausted, frontier.ResultFields{
			FetchedAt: &now, RetryCount: claim.RetryCount, LastError: outcome.Reason,
		})
	case fetcher.OutcomeTransientError:
		o.recordRetry(ctx, claim, outcome.Reason)
	}
}

func (o *Orchestrator) handleFetched(ctx context.Context, claim frontier.CrawlURL, outcome fetcher.Outcome) {
	result, err := o.documents.Put(ctx, document.PutParams{
		SourceID: claim.SourceID, SourceURL: claim.URL, MimeType: outcome.ContentType, Body: outcome.Body,
	})
	if err != nil {
		o.recordFailure(ctx, claim, err.Error())
		return
	}
	if o.recorder != nil {
		o.recorder.RecordArtifact(claim.SourceID, result.DocumentID, result.ContentHash, "", result.IsNewVersion)
	}

	now := time.Now()
	if err := o.frontier.RecordResult(ctx, claim.ID, frontier.StatusFetched, frontier.ResultFields{
		FetchedAt: &now, ETag: outcome.NewETag, LastModified: outcome.NewModified,
		ContentHash: result.ContentHash, DocumentID: result.DocumentID,
	}); err != nil {
		return
	}

	if o.strategy == nil {
		return
	}
	pageURL, err := url.Parse(claim.URL)
	if err != nil {
		return
	}
	proposals, err := o.strategy.Discover(ctx, *pageURL, outcome.ContentType, outcome.Body)
	_ = o.frontier.MarkExplored(ctx, claim.ID)
	if err != nil {
		return
	}
	for _, p := range proposals {
		_ = o.frontier.Add(ctx, frontier.CrawlURL{
			SourceID:        claim.SourceID,
			URL:             p.URL,
			ParentURL:       claim.URL,
			Depth:           claim.Depth + 1,
			DiscoveryMethod: p.DiscoveryMethod,
		})
	}
}

func (o *Orchestrator) recordRetry(ctx context.Context, claim frontier.CrawlURL, reason string) {
	now := time.Now()
	retryCount := claim.RetryCount + 1

	if retryCount >= frontier.MaxRetries {
		_ = o.frontier.RecordResult(ctx, claim.ID, frontier.StatusExhausted, frontier.ResultFields{
			FetchedAt: &now, RetryCount: retryCount, LastError: reason,
		})
		return
	}

	nextRetry := now.Add(backoffForRetry(retryCount))
	_ = o.frontier.RecordResult(ctx, claim.ID, frontier.StatusFailed, frontier.ResultFields{
		FetchedAt: &now, RetryCount: retryCount, LastError: reason, NextRetryAt: &nextRetry,
	})
}

// recordFailure handles failures that classify() never got a chance to
// see (a malformed claimed URL, a non-retryable fetch error, a document
// store write error) — these
// aren't worth hammering on a tight retry loop, so they go straight to
// exhausted rather than failed-with-immediate-retry.
func (o *Orchestrator) recordFailure(ctx context.Context, claim frontier.CrawlURL, reason string) {
	now := time.Now()
	_ = o.frontier.RecordResult(ctx, claim.ID, frontier.StatusExhausted, frontier.ResultFields{
		FetchedAt: &now, RetryCount: claim.RetryCount, LastError: reason,
	})
}

func backoffForRetry(retryCount int) time.Duration {
	return timeutil.ExponentialBackoffDelay(retryCount, 0, rand.Rand{}, retryBackoff)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
