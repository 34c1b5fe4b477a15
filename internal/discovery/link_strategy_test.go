package discovery_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/crawlcore/internal/discovery"
)

func TestLinkStrategyDiscoversSameHostLinks(t *testing.T) {
	page, _ := url.Parse("https://example.com/docs/")
	body := []byte(`
		<html><body>
			<a href="/docs/a">A</a>
			<a href="b">B</a>
			<a href="https://other.com/c">external</a>
			<a href="#section">anchor only</a>
			<a href="mailto:x@example.com">mail</a>
		</body></html>
	`)

	strategy := discovery.NewLinkStrategy()
	proposals, err := strategy.Discover(context.Background(), *page, "text/html", body)
	require.NoError(t, err)

	var urls []string
	for _, p := range proposals {
		urls = append(urls, p.URL)
	}
	require.Contains(t, urls, "https://example.com/docs/a")
	require.Contains(t, urls, "https://example.com/docs/b")
	require.NotContains(t, urls, "https://other.com/c")
}

func TestLinkStrategyIgnoresNonHTML(t *testing.T) {
	page, _ := url.Parse("https://example.com/")
	strategy := discovery.NewLinkStrategy()
	proposals, err := strategy.Discover(context.Background(), *page, "application/json", []byte(`{"a":1}`))
	require.NoError(t, err)
	require.Empty(t, proposals)
}

func TestLinkStrategyDeduplicatesProposals(t *testing.T) {
	page, _ := url.Parse("https://example.com/")
	body := []byte(`<html><body><a href="/a">1</a><a href="/a">2</a></body></html>`)
	strategy := discovery.NewLinkStrategy()
	proposals, err := strategy.Discover(context.Background(), *page, "text/html", body)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
}
