package cliapp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohmanhakim/crawlcore/internal/auditlog"
	"github.com/rohmanhakim/crawlcore/internal/discovery"
	"github.com/rohmanhakim/crawlcore/internal/document"
	"github.com/rohmanhakim/crawlcore/internal/fetcher"
	"github.com/rohmanhakim/crawlcore/internal/frontier"
	"github.com/rohmanhakim/crawlcore/internal/limiter"
	"github.com/rohmanhakim/crawlcore/internal/logging"
	"github.com/rohmanhakim/crawlcore/internal/orchestrator"
	"github.com/rohmanhakim/crawlcore/internal/source"
	"github.com/rohmanhakim/crawlcore/internal/storage"
)

var seedURLs []string

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run the crawl frontier to completion for one source",
	RunE:  runCrawl,
}

func init() {
	crawlCmd.Flags().StringArrayVar(&seedURLs, "seed-url", nil, "seed URL to add when the source's config hash is new or has changed (can be repeated)")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.Database())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	recorder := logging.NewConsole(os.Stderr)

	root := storageRoot
	if root == "" {
		root = "documents"
	}
	docs, err := document.New(db, root)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}

	sources := source.New(db)
	src, err := ensureSource(cmd.Context(), sources, cfg.Target())
	if err != nil {
		return err
	}

	limiterParams := limiter.DefaultParams()
	limiterParams.BaseDelay = cfg.RequestDelayMs()

	var limiterBackend limiter.Limiter
	switch cfg.RateLimitBackend() {
	case "memory":
		limiterBackend = limiter.NewMemoryBackend(limiterParams)
	default:
		limiterBackend = limiter.NewSQLiteBackend(db, limiterParams)
	}

	auditLog := auditlog.New(db)
	front := frontier.New(db)
	strategy := discovery.NewLinkStrategy()

	newFetcher := func(sourceID string) *fetcher.Fetcher {
		sc, _ := cfg.Scraper(sourceID)
		client := &http.Client{Timeout: cfg.RequestTimeout()}
		transport := fetcher.DefaultTransport(client)
		if sc.ProxyURL != "" {
			if proxyURL, err := url.Parse(sc.ProxyURL); err == nil {
				transport = fetcher.NewProxyTransport(proxyURL, cfg.RequestTimeout())
			}
		}
		return fetcher.New(transport, limiterBackend, auditLog, sourceID, cfg.RequestTimeout())
	}

	orch := orchestrator.New(front, docs, strategy, newFetcher, recorder, cfg)

	started := time.Now()
	seeds := func(sourceID string) []string { return seedURLs }
	if err := orch.Run(cmd.Context(), []string{src.ID}, seeds); err != nil {
		return fmt.Errorf("crawl run: %w", err)
	}

	state, err := front.CrawlState(cmd.Context(), src.ID)
	if err != nil {
		return err
	}
	recorder.RecordRunSummary(src.ID, state.URLsFetched, state.URLsFailed, state.URLsPending, time.Since(started))
	return nil
}

// ensureSource looks up an existing source by target URL and creates one
// if none matches. It does not touch the frontier; --seed-url values are
// handed to the orchestrator instead.
func ensureSource(ctx context.Context, repo *source.Repository, target string) (source.Source, error) {
	sources, err := repo.List(ctx)
	if err != nil {
		return source.Source{}, err
	}
	for _, s := range sources {
		if s.BaseURL == target {
			return s, nil
		}
	}
	return repo.Create(ctx, source.Source{Name: target, BaseURL: target})
}
