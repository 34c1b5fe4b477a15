package fetcher

/*
Responsibilities

- Wait for the per-domain rate limiter before issuing a request
- Attach conditional headers (If-None-Match / If-Modified-Since) when the
  caller already has cached validators for the URL
- Send the request and classify the response into one of five outcomes
- Write one audit log row per attempt regardless of outcome
- Feed the outcome back into the rate limiter (on_success / on_rate_limited)

The fetcher never decides what happens to a 304 or a 5xx beyond reporting
it; retry scheduling and document storage are the orchestrator's job.
*/

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rohmanhakim/crawlcore/internal/auditlog"
	"github.com/rohmanhakim/crawlcore/internal/limiter"
	"github.com/rohmanhakim/crawlcore/pkg/failure"
)

// Transport is the minimal capability a fetcher needs from an HTTP
// client, so it can be composed with a plain http.Client, a proxy-aware
// client, or (per source configuration) a headless-browser shim.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ Transport = (*http.Client)(nil)

// Fetcher issues conditional HTTP requests for a single source, gated by
// a shared Limiter and recorded into a shared audit Log.
type Fetcher struct {
	transport Transport
	limiter   limiter.Limiter
	auditLog  *auditlog.Log
	sourceID  string
	timeout   time.Duration
}

func New(transport Transport, lim limiter.Limiter, auditLog *auditlog.Log, sourceID string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{transport: transport, limiter: lim, auditLog: auditLog, sourceID: sourceID, timeout: timeout}
}

// Fetch performs one conditional request cycle against req.URL.
func (f *Fetcher) Fetch(ctx context.Context, req ConditionalRequest) (Outcome, failure.ClassifiedError) {
	domain := req.URL.Hostname()

	wait, err := f.limiter.Acquire(ctx, domain)
	if err != nil {
		return Outcome{}, &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseNetworkFailure}
	}
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Outcome{}, &FetchError{Message: ctx.Err().Error(), Retryable: true, Cause: ErrCauseNetworkFailure}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.URL.String(), nil)
	if err != nil {
		return Outcome{}, &FetchError{Message: err.Error(), Retryable: false, Cause: ErrCauseBuildRequest}
	}

	reqHeaders := requestHeaders(req)
	for k, v := range reqHeaders {
		httpReq.Header.Set(k, v)
	}
	wasConditional := reqHeaders["If-None-Match"] != "" || reqHeaders["If-Modified-Since"] != ""

	start := time.Now()
	resp, doErr := f.transport.Do(httpReq)
	duration := time.Since(start)

	if doErr != nil {
		f.recordAttempt(ctx, req.URL.String(), reqHeaders, start, nil, duration, doErr.Error(), wasConditional, false)
		return Outcome{}, &FetchError{Message: doErr.Error(), Retryable: true, Cause: ErrCauseNetworkFailure}
	}
	defer resp.Body.Close()

	outcome, classifyErr := f.classify(resp, wasConditional)
	outcome.DurationMs = duration.Milliseconds()

	f.recordAttempt(ctx, req.URL.String(), reqHeaders, start, &resp.StatusCode, duration, outcome.Reason, wasConditional, outcome.Kind == OutcomeNotModified)

	switch outcome.Kind {
	case OutcomeFetched, OutcomeNotModified:
		_ = f.limiter.OnSuccess(ctx, domain)
	case OutcomeRateLimited:
		_ = f.limiter.OnRateLimited(ctx, domain, outcome.RetryAfter)
		_ = f.limiter.Record403(ctx, domain, req.URL.String())
	}

	return outcome, classifyErr
}

func (f *Fetcher) classify(resp *http.Response, wasConditional bool) (Outcome, failure.ClassifiedError) {
	headers := responseHeaders(resp)
	base := Outcome{
		StatusCode:      resp.StatusCode,
		ResponseHeaders: headers,
		WasConditional:  wasConditional,
		NewETag:         headers["Etag"],
		NewModified:     headers["Last-Modified"],
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		base.Kind = OutcomeNotModified
		base.Reason = "not modified"
		return base, nil

	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Outcome{}, &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseReadBody}
		}
		base.Kind = OutcomeFetched
		base.Body = body
		base.ContentType = headers["Content-Type"]
		base.Reason = "fetched"
		return base, nil

	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		base.Kind = OutcomeRateLimited
		base.Reason = fmt.Sprintf("rate limited (%d)", resp.StatusCode)
		base.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return base, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		base.Kind = OutcomeClientError
		base.Reason = fmt.Sprintf("client error: %d", resp.StatusCode)
		return base, nil

	case resp.StatusCode >= 500:
		base.Kind = OutcomeTransientError
		base.Reason = fmt.Sprintf("server error: %d", resp.StatusCode)
		return base, nil

	default:
		// 1xx, 2xx other than 200, and non-304 3xx not followed by the client: treated as a
		// transient anomaly so the orchestrator retries rather than gives up.
		base.Kind = OutcomeTransientError
		base.Reason = fmt.Sprintf("unexpected status: %d", resp.StatusCode)
		return base, nil
	}
}

func (f *Fetcher) recordAttempt(ctx context.Context, rawURL string, reqHeaders map[string]string, requestAt time.Time, status *int, duration time.Duration, errStr string, wasConditional, wasNotModified bool) {
	if f.auditLog == nil {
		return
	}
	durationMs := duration.Milliseconds()
	respAt := requestAt.Add(duration)
	_ = f.auditLog.RecordAttempt(ctx, auditlog.Attempt{
		SourceID:       f.sourceID,
		URL:            rawURL,
		Method:         http.MethodGet,
		RequestHeaders: reqHeaders,
		RequestAt:      requestAt,
		ResponseStatus: status,
		ResponseAt:     &respAt,
		DurationMs:     &durationMs,
		Error:          errStr,
		WasConditional: wasConditional,
		WasNotModified: wasNotModified,
	})
}

// parseRetryAfter parses the Retry-After header as integer seconds, capped
// at 60s. The HTTP-date form is intentionally not handled in this revision.
func parseRetryAfter(v string) *time.Duration {
	if v == "" {
		return nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	if max := 60 * time.Second; d > max {
		d = max
	}
	return &d
}

func requestHeaders(req ConditionalRequest) map[string]string {
	headers := map[string]string{
		"User-Agent":      req.UserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Encoding": "gzip, deflate, br",
	}
	for k, v := range req.Headers {
		headers[k] = v
	}
	if req.ETag != "" {
		headers["If-None-Match"] = req.ETag
	}
	if req.LastModified != "" {
		headers["If-Modified-Since"] = req.LastModified
	}
	return headers
}

func responseHeaders(resp *http.Response) map[string]string {
	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return headers
}

// DefaultTransport adapts a plain http.Client to the Transport interface.
func DefaultTransport(client *http.Client) Transport {
	if client == nil {
		client = &http.Client{}
	}
	return client
}

// ProxyTransport decorates an http.Client, forcing requests through the
// given proxy URL — a per-source capability collaborator, per the
// fetcher's "composed with a SOCKS/HTTP proxy" contract.
type ProxyTransport struct {
	inner *http.Client
}

func NewProxyTransport(proxyURL *url.URL, timeout time.Duration) *ProxyTransport {
	return &ProxyTransport{
		inner: &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}, Timeout: timeout},
	}
}

func (p *ProxyTransport) Do(req *http.Request) (*http.Response, error) {
	return p.inner.Do(req)
}
