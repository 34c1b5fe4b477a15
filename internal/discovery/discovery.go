package discovery

/*
Responsibilities
- Given a fetched body, propose child URLs the frontier should learn about
- Tag each proposal with how it was found (html_link, pagination, ...);
  proposals carry no depth — the orchestrator records each one a level
  deeper than the page it came from

The orchestrator runs one Strategy for every source it drives;
LinkStrategy is the single reference implementation this package
ships — anything more source-specific is out of scope here.
*/

import (
	"context"
	"net/url"

	"github.com/rohmanhakim/crawlcore/internal/frontier"
)

// Proposal is one candidate child URL surfaced by a Strategy.
type Proposal struct {
	URL             string
	DiscoveryMethod frontier.DiscoveryMethod
}

// Strategy inspects a fetched body and proposes child URLs to crawl next.
type Strategy interface {
	Discover(ctx context.Context, pageURL url.URL, contentType string, body []byte) ([]Proposal, error)
}
