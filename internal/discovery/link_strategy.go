package discovery

/*
LinkStrategy parses the body as HTML, walks every <a href>, resolves it
against the page URL, and keeps only same-host links.
*/

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rohmanhakim/crawlcore/internal/frontier"
	"github.com/rohmanhakim/crawlcore/pkg/urlutil"
)

// LinkStrategy discovers child URLs from anchor tags in an HTML document,
// restricted to the same host as the page it was found on.
type LinkStrategy struct {
	// AllowCrossHost permits following links to other hosts; off by
	// default since crawl sources are scoped to one site.
	AllowCrossHost bool
}

func NewLinkStrategy() *LinkStrategy {
	return &LinkStrategy{}
}

func (l *LinkStrategy) Discover(ctx context.Context, pageURL url.URL, contentType string, body []byte) ([]Proposal, error) {
	if !isHTMLContent(contentType) {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var proposals []Proposal

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}

		resolved, err := pageURL.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if !l.AllowCrossHost && !strings.EqualFold(resolved.Hostname(), pageURL.Hostname()) {
			return
		}

		canonical := urlutil.Canonicalize(*resolved)
		canonicalStr := canonical.String()
		if _, dup := seen[canonicalStr]; dup {
			return
		}
		seen[canonicalStr] = struct{}{}

		proposals = append(proposals, Proposal{
			URL:             canonicalStr,
			DiscoveryMethod: frontier.DiscoveryHTMLLink,
		})
	})

	return proposals, nil
}

func isHTMLContent(contentType string) bool {
	lower := strings.ToLower(contentType)
	return strings.Contains(lower, "text/html") || strings.Contains(lower, "application/xhtml")
}
