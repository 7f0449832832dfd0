package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/opportunity-crawler/internal/clock/system"
	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
	"github.com/JakeFAU/opportunity-crawler/internal/storage/memory"
)

var testNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []crawler.StatusChange
}

func (p *recordingPublisher) PublishStatusChange(_ context.Context, change crawler.StatusChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

func (p *recordingPublisher) Changes() []crawler.StatusChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]crawler.StatusChange(nil), p.changes...)
}

func testConfig() crawler.Config {
	return crawler.Config{
		DefaultMinDelay: 0,
		BackoffBase:     time.Millisecond,
		BackoffMax:      10 * time.Millisecond,
		Timeout:         2 * time.Second,
	}
}

func newCrawler(t *testing.T, store crawler.Store, registry crawler.SourceRegistry, pub crawler.Publisher) *crawler.Crawler {
	t.Helper()
	c, err := crawler.New(testConfig(), crawler.Deps{
		Store:     store,
		Registry:  registry,
		Publisher: pub,
		Clock:     system.Fixed{T: testNow},
	})
	require.NoError(t, err)
	return c
}

const programPage = `<html><body>
<h1>Funded PhD in %s</h1>
<p>Fully funded. Deadline: 2026-03-01</p>
<a href="/apply">Apply now</a>
</body></html>`

func TestNewRequiresStoreAndRegistry(t *testing.T) {
	store := memory.NewStore()
	_, err := crawler.New(testConfig(), crawler.Deps{Registry: store})
	assert.Error(t, err)
	_, err = crawler.New(testConfig(), crawler.Deps{Store: store})
	assert.Error(t, err)
}

func TestDiscoverRespectsRequestCap(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/" {
			fmt.Fprint(w, `<h1>Programs</h1>
<a href="/p1">One</a><a href="/p2">Two</a><a href="/p3">Three</a>
<a href="/p4">Four</a><a href="/p5">Five</a>`)
			return
		}
		fmt.Fprintf(w, programPage, r.URL.Path)
	}))
	defer srv.Close()

	store := memory.NewStore()
	store.PutSource(crawler.Source{
		ID:                "grad",
		ProgramType:       "phd",
		BaseURL:           srv.URL + "/",
		Active:            true,
		MaxRequestsPerRun: 2,
	})
	pub := &recordingPublisher{}
	c := newCrawler(t, store, store, pub)

	summary, err := c.Discover(context.Background(), crawler.DiscoverOptions{ProgramType: "phd"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Sources)
	assert.Equal(t, int64(3), summary.Visited)
	assert.Equal(t, int64(3), hits.Load())
	assert.Equal(t, int64(3), summary.Accepted)
	assert.Zero(t, summary.Errors)
	assert.Len(t, store.FetchLog(), 3)

	opps := store.Opportunities()
	require.Len(t, opps, 3)
	p1 := opps[1]
	assert.Equal(t, srv.URL+"/p1", p1.CanonicalURL)
	assert.Equal(t, "grad", p1.SourceID)
	assert.Equal(t, opportunity.StatusActive, p1.Status)
	assert.Equal(t, srv.URL+"/apply", p1.ApplicationURL)
	assert.Equal(t, 100, p1.FreshnessScore)
	assert.Equal(t, testNow, p1.LastVerifiedAt)

	changes := pub.Changes()
	require.Len(t, changes, 3)
	for _, ch := range changes {
		assert.Empty(t, ch.From)
		assert.Equal(t, opportunity.StatusActive, ch.To)
		assert.Equal(t, summary.RunID, ch.RunID)
	}

	// A second run upserts the same keys without new status changes.
	_, err = c.Discover(context.Background(), crawler.DiscoverOptions{})
	require.NoError(t, err)
	assert.Len(t, store.Opportunities(), 3)
	assert.Len(t, pub.Changes(), 3)
}

func TestDiscoverSkipsFilteredSources(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "<p>nothing here</p>")
	}))
	defer srv.Close()

	store := memory.NewStore()
	store.PutSource(crawler.Source{ID: "a", ProgramType: "phd", BaseURL: srv.URL, Active: true})
	store.PutSource(crawler.Source{ID: "b", ProgramType: "masters", BaseURL: srv.URL + "/m", Active: true})
	store.PutSource(crawler.Source{ID: "c", ProgramType: "phd", BaseURL: srv.URL + "/c", Active: false})
	c := newCrawler(t, store, store, nil)

	summary, err := c.Discover(context.Background(), crawler.DiscoverOptions{SourceIDs: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Sources)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, int64(1), summary.NeedsReview)

	opps := store.Opportunities()
	require.Len(t, opps, 1)
	assert.Equal(t, opportunity.StatusNeedsReview, opps[0].Status)
	assert.Equal(t, opportunity.ReasonMissingApplicationURL, opps[0].StatusReason)
}

type failingRegistry struct{}

func (failingRegistry) ListActive(context.Context, string) ([]crawler.Source, error) {
	return nil, errors.New("connection refused")
}

func (failingRegistry) Get(context.Context, string) (crawler.Source, error) {
	return crawler.Source{}, errors.New("connection refused")
}

func TestDiscoverRegistryFailure(t *testing.T) {
	c := newCrawler(t, memory.NewStore(), failingRegistry{}, nil)
	_, err := c.Discover(context.Background(), crawler.DiscoverOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrRegistryUnavailable)
}

type failingLogStore struct {
	*memory.Store
	attempts atomic.Int64
}

func (s *failingLogStore) AppendFetchLog(context.Context, crawler.FetchLogEntry) error {
	s.attempts.Add(1)
	return errors.New("disk full")
}

func TestFetchLogFailureDoesNotFailRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, programPage, "Logs")
	}))
	defer srv.Close()

	store := &failingLogStore{Store: memory.NewStore()}
	store.PutSource(crawler.Source{ID: "a", ProgramType: "phd", BaseURL: srv.URL, Active: true, MaxRequestsPerRun: 1})
	c := newCrawler(t, store, store, nil)

	summary, err := c.Discover(context.Background(), crawler.DiscoverOptions{})
	require.NoError(t, err)
	assert.Positive(t, store.attempts.Load())
	assert.Zero(t, summary.Errors)
	assert.NotEmpty(t, store.Opportunities())
}

func seedOpportunity(t *testing.T, store *memory.Store, canonical string, mutate func(*opportunity.Opportunity)) opportunity.Opportunity {
	t.Helper()
	opp, err := opportunity.BuildFromHTML("phd", canonical, canonical, fmt.Sprintf(programPage, "Seeded"), `"v1"`, "")
	require.NoError(t, err)
	opp.SourceID = "grad"
	opp.Status = opportunity.StatusActive
	opp.LastVerifiedAt = testNow.Add(-2 * time.Hour)
	if mutate != nil {
		mutate(&opp)
	}
	_, err = store.UpsertOpportunity(context.Background(), opp)
	require.NoError(t, err)
	return opp
}

func TestVerifyNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fmt.Fprint(w, "<p>unexpected full fetch</p>")
	}))
	defer srv.Close()

	store := memory.NewStore()
	seeded := seedOpportunity(t, store, srv.URL+"/phd", nil)
	pub := &recordingPublisher{}
	c := newCrawler(t, store, store, pub)

	summary, err := c.Verify(context.Background(), crawler.VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Checked)
	assert.Equal(t, int64(1), summary.NotModified)

	got, err := store.GetOpportunity(context.Background(), seeded.Key())
	require.NoError(t, err)
	assert.Equal(t, seeded.ContentHash, got.ContentHash)
	assert.Equal(t, testNow, got.LastVerifiedAt)
	assert.Equal(t, 90, got.FreshnessScore)
	assert.Equal(t, opportunity.StatusActive, got.Status)
	assert.Equal(t, `"v1"`, got.ETag)
	assert.Empty(t, pub.Changes())

	log := store.FetchLog()
	require.Len(t, log, 1)
	assert.Equal(t, crawler.ActionVerify, log[0].Action)
	assert.Equal(t, crawler.FetchNotModified, log[0].Status)
}

func TestVerifyChangedContentRewritesRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		fmt.Fprint(w, `<h1>Funded PhD in Y</h1><p>Deadline: 2026-01-10</p><a href="/apply">Apply</a>`)
	}))
	defer srv.Close()

	store := memory.NewStore()
	seeded := seedOpportunity(t, store, srv.URL+"/phd", nil)
	pub := &recordingPublisher{}
	c := newCrawler(t, store, store, pub)

	summary, err := c.Verify(context.Background(), crawler.VerifyOptions{ProgramType: "phd"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Changed)
	assert.Equal(t, int64(1), summary.Expired)

	got, err := store.GetOpportunity(context.Background(), seeded.Key())
	require.NoError(t, err)
	assert.NotEqual(t, seeded.ContentHash, got.ContentHash)
	assert.Equal(t, "Funded PhD in Y", got.Title)
	assert.Equal(t, `"v2"`, got.ETag)
	assert.Equal(t, "grad", got.SourceID)
	assert.Equal(t, opportunity.StatusExpired, got.Status)
	assert.Equal(t, testNow, got.LastVerifiedAt)

	changes := pub.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, opportunity.StatusActive, changes[0].From)
	assert.Equal(t, opportunity.StatusExpired, changes[0].To)
}

func TestVerifyUnchangedHashUpdatesTimestampOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, programPage, "Seeded")
	}))
	defer srv.Close()

	store := memory.NewStore()
	seeded := seedOpportunity(t, store, srv.URL+"/phd", func(o *opportunity.Opportunity) {
		o.ETag = ""
		o.Title = "Curated title"
	})
	c := newCrawler(t, store, store, nil)

	summary, err := c.Verify(context.Background(), crawler.VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Unchanged)

	got, err := store.GetOpportunity(context.Background(), seeded.Key())
	require.NoError(t, err)
	assert.Equal(t, "Curated title", got.Title)
	assert.Equal(t, testNow, got.LastVerifiedAt)
}

func TestVerifyBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store := memory.NewStore()
	seeded := seedOpportunity(t, store, srv.URL+"/phd", nil)
	pub := &recordingPublisher{}
	c := newCrawler(t, store, store, pub)

	summary, err := c.Verify(context.Background(), crawler.VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Blocked)

	got, err := store.GetOpportunity(context.Background(), seeded.Key())
	require.NoError(t, err)
	assert.Equal(t, opportunity.StatusBlocked, got.Status)
	assert.Equal(t, crawler.BlockedHTTP403, got.StatusReason)
	assert.Equal(t, seeded.LastVerifiedAt, got.LastVerifiedAt)

	changes := pub.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, opportunity.StatusBlocked, changes[0].To)
}

func TestVerifySkipsExpiredAndHonorsLimit(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	store := memory.NewStore()
	seedOpportunity(t, store, srv.URL+"/old", func(o *opportunity.Opportunity) {
		o.LastVerifiedAt = testNow.Add(-48 * time.Hour)
	})
	seedOpportunity(t, store, srv.URL+"/new", nil)
	seedOpportunity(t, store, srv.URL+"/gone", func(o *opportunity.Opportunity) {
		o.Status = opportunity.StatusExpired
		o.LastVerifiedAt = testNow.Add(-72 * time.Hour)
	})
	c := newCrawler(t, store, store, nil)

	summary, err := c.Verify(context.Background(), crawler.VerifyOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Checked)
	assert.Equal(t, int64(1), hits.Load())

	log := store.FetchLog()
	require.Len(t, log, 1)
	assert.Equal(t, srv.URL+"/old", log[0].CanonicalURL)
}

func TestReap(t *testing.T) {
	store := memory.NewStore()
	past := testNow.AddDate(0, 0, -1)
	seedOpportunity(t, store, "https://example.edu/high", func(o *opportunity.Opportunity) {
		o.DeadlineDate = &past
		o.DeadlineConfidence = opportunity.ConfidenceHigh
	})
	seedOpportunity(t, store, "https://example.edu/low", func(o *opportunity.Opportunity) {
		o.DeadlineDate = &past
		o.DeadlineConfidence = opportunity.ConfidenceLow
	})
	seedOpportunity(t, store, "https://example.edu/today", func(o *opportunity.Opportunity) {
		today := opportunity.Day(testNow)
		o.DeadlineDate = &today
	})
	c := newCrawler(t, store, store, nil)

	summary, err := c.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Expired)

	statuses := map[string]opportunity.Status{}
	for _, o := range store.Opportunities() {
		statuses[o.CanonicalURL] = o.Status
	}
	assert.Equal(t, opportunity.StatusExpired, statuses["https://example.edu/high"])
	assert.Equal(t, opportunity.StatusActive, statuses["https://example.edu/low"])
	assert.Equal(t, opportunity.StatusActive, statuses["https://example.edu/today"])
}

// newWiredCrawler builds the crawler the way the application container does:
// no fetcher override, a caller-supplied HTTP client.
func newWiredCrawler(t *testing.T, cfg crawler.Config, store *memory.Store) *crawler.Crawler {
	t.Helper()
	c, err := crawler.New(cfg, crawler.Deps{
		Store:      store,
		Registry:   store,
		Clock:      system.Fixed{T: testNow},
		HTTPClient: &http.Client{},
	})
	require.NoError(t, err)
	return c
}

func TestVerifyRefusesRedirectIntoBlacklistedHost(t *testing.T) {
	var landed atomic.Int32
	var target string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/phd":
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		case "/feed":
			landed.Add(1)
			fmt.Fprintf(w, programPage, "Social")
		}
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	target = "http://localhost:" + u.Port() + "/feed"

	store := memory.NewStore()
	seeded := seedOpportunity(t, store, srv.URL+"/phd", nil)
	cfg := testConfig()
	cfg.BlockedHosts = []string{"localhost"}

	summary, err := newWiredCrawler(t, cfg, store).Verify(context.Background(), crawler.VerifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Errors)
	assert.Zero(t, landed.Load())

	got, err := store.GetOpportunity(context.Background(), seeded.Key())
	require.NoError(t, err)
	assert.Equal(t, seeded.LastVerifiedAt, got.LastVerifiedAt)
	log := store.FetchLog()
	require.Len(t, log, 1)
	assert.Contains(t, log[0].ErrorMessage, "blacklisted")
}

func TestVerifyDoesNotStallOnHangingRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		fmt.Fprintf(w, programPage, "Seeded")
	}))
	defer srv.Close()

	store := memory.NewStore()
	seeded := seedOpportunity(t, store, srv.URL+"/phd", func(o *opportunity.Opportunity) { o.ETag = "" })
	cfg := testConfig()
	cfg.Timeout = 200 * time.Millisecond

	start := time.Now()
	summary, err := newWiredCrawler(t, cfg, store).Verify(context.Background(), crawler.VerifyOptions{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(1), summary.Unchanged)

	got, err := store.GetOpportunity(context.Background(), seeded.Key())
	require.NoError(t, err)
	assert.Equal(t, testNow, got.LastVerifiedAt)
}
