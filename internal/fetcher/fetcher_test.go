package fetcher_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/crawlcore/internal/auditlog"
	"github.com/rohmanhakim/crawlcore/internal/fetcher"
	"github.com/rohmanhakim/crawlcore/internal/limiter"
	"github.com/rohmanhakim/crawlcore/internal/storage"
)

func newHarness(t *testing.T) (*auditlog.Log, limiter.Limiter) {
	t.Helper()
	db, err := storage.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return auditlog.New(db), limiter.NewMemoryBackend(limiter.DefaultParams())
}

func TestFetchReturnsFetchedOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>hi</html>"))
	}))
	defer srv.Close()

	auditLog, lim := newHarness(t)
	f := fetcher.New(fetcher.DefaultTransport(nil), lim, auditLog, "src1", 5*time.Second)

	u, _ := url.Parse(srv.URL)
	outcome, err := f.Fetch(context.Background(), fetcher.ConditionalRequest{URL: *u, UserAgent: "crawlcore-test"})
	require.Nil(t, err)
	require.Equal(t, fetcher.OutcomeFetched, outcome.Kind)
	require.Equal(t, `"abc"`, outcome.NewETag)
	require.Contains(t, string(outcome.Body), "hi")
}

func TestFetchSendsConditionalHeadersAndGets304(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"etag1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	auditLog, lim := newHarness(t)
	f := fetcher.New(fetcher.DefaultTransport(nil), lim, auditLog, "src1", 5*time.Second)

	u, _ := url.Parse(srv.URL)
	outcome, err := f.Fetch(context.Background(), fetcher.ConditionalRequest{URL: *u, ETag: `"etag1"`, UserAgent: "crawlcore-test"})
	require.Nil(t, err)
	require.Equal(t, fetcher.OutcomeNotModified, outcome.Kind)
	require.True(t, outcome.WasConditional)
}

func TestFetchClassifies403AsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	auditLog, lim := newHarness(t)
	f := fetcher.New(fetcher.DefaultTransport(nil), lim, auditLog, "src1", 5*time.Second)

	u, _ := url.Parse(srv.URL)
	outcome, err := f.Fetch(context.Background(), fetcher.ConditionalRequest{URL: *u, UserAgent: "crawlcore-test"})
	require.Nil(t, err)
	require.Equal(t, fetcher.OutcomeRateLimited, outcome.Kind)
	require.NotNil(t, outcome.RetryAfter)
	require.Equal(t, 5*time.Second, *outcome.RetryAfter)

	count, cerr := lim.Get403Count(context.Background(), u.Hostname(), time.Hour)
	require.NoError(t, cerr)
	require.Equal(t, 1, count)
}

func TestFetchClassifies5xxAsTransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	auditLog, lim := newHarness(t)
	f := fetcher.New(fetcher.DefaultTransport(nil), lim, auditLog, "src1", 5*time.Second)

	u, _ := url.Parse(srv.URL)
	outcome, err := f.Fetch(context.Background(), fetcher.ConditionalRequest{URL: *u, UserAgent: "crawlcore-test"})
	require.Nil(t, err)
	require.Equal(t, fetcher.OutcomeTransientError, outcome.Kind)
}

func TestFetchClassifies404AsClientErrorNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	auditLog, lim := newHarness(t)
	f := fetcher.New(fetcher.DefaultTransport(nil), lim, auditLog, "src1", 5*time.Second)

	u, _ := url.Parse(srv.URL)
	outcome, err := f.Fetch(context.Background(), fetcher.ConditionalRequest{URL: *u, UserAgent: "crawlcore-test"})
	require.Nil(t, err)
	require.Equal(t, fetcher.OutcomeClientError, outcome.Kind)
	require.Equal(t, 404, outcome.StatusCode)
}

func TestFetchRecordsAuditRowOnEveryAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	auditLog, lim := newHarness(t)
	f := fetcher.New(fetcher.DefaultTransport(nil), lim, auditLog, "src1", 5*time.Second)

	u, _ := url.Parse(srv.URL)
	_, err := f.Fetch(context.Background(), fetcher.ConditionalRequest{URL: *u, UserAgent: "crawlcore-test"})
	require.Nil(t, err)

	last, ok, serr := auditLog.LastRequestForURL(context.Background(), "src1", srv.URL)
	require.NoError(t, serr)
	require.True(t, ok)
	require.NotNil(t, last.ResponseStatus)
	require.Equal(t, 200, *last.ResponseStatus)
}
