package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
	"github.com/JakeFAU/opportunity-crawler/internal/storage"
)

type fakeRunner struct {
	mu       sync.Mutex
	discover crawler.DiscoverOptions
	verify   crawler.VerifyOptions
	reapErr  error
	block    chan struct{}
}

func (f *fakeRunner) Discover(_ context.Context, opts crawler.DiscoverOptions) (crawler.DiscoverSummary, error) {
	f.mu.Lock()
	f.discover = opts
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return crawler.DiscoverSummary{RunID: "run-d", Visited: 3}, nil
}

func (f *fakeRunner) Verify(_ context.Context, opts crawler.VerifyOptions) (crawler.VerifySummary, error) {
	f.mu.Lock()
	f.verify = opts
	f.mu.Unlock()
	return crawler.VerifySummary{RunID: "run-v", Checked: 2}, nil
}

func (f *fakeRunner) Reap(context.Context) (crawler.ReapSummary, error) {
	return crawler.ReapSummary{RunID: "run-r"}, f.reapErr
}

type fakeReader struct {
	rows map[opportunity.Key]opportunity.Opportunity
	err  error
}

func (f fakeReader) GetOpportunity(_ context.Context, key opportunity.Key) (opportunity.Opportunity, error) {
	if f.err != nil {
		return opportunity.Opportunity{}, f.err
	}
	opp, ok := f.rows[key]
	if !ok {
		return opportunity.Opportunity{}, storage.ErrNotFound
	}
	return opp, nil
}

func newTestServer(runner Runner, opts Options) *Server {
	return NewServer(runner, fakeReader{}, opts, zap.NewNop())
}

func do(t *testing.T, s *Server, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func waitForRun(t *testing.T, s *Server, id string) Run {
	t.Helper()
	var run Run
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/v1/runs/"+id, "")
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
			return false
		}
		return run.Status != RunRunning
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, Options{})
	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	notReady := newTestServer(&fakeRunner{}, Options{Ready: func(context.Context) error { return errors.New("db down") }})
	rec = do(t, notReady, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, Options{})
	do(t, s, http.MethodGet, "/healthz", "")
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_StartDiscover(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := newTestServer(runner, Options{})
	rec := do(t, s, http.MethodPost, "/v1/runs/discover", `{"program_type":"phd","source_ids":["grad"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, workflowDiscover, started.Workflow)

	run := waitForRun(t, s, started.ID)
	assert.Equal(t, RunSucceeded, run.Status)
	assert.NotNil(t, run.Finished)
	runner.mu.Lock()
	assert.Equal(t, crawler.DiscoverOptions{ProgramType: "phd", SourceIDs: []string{"grad"}}, runner.discover)
	runner.mu.Unlock()
}

func TestServer_StartVerifyWithoutBody(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	s := newTestServer(runner, Options{})
	rec := do(t, s, http.MethodPost, "/v1/runs/verify", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	waitForRun(t, s, started.ID)
	runner.mu.Lock()
	assert.Equal(t, crawler.VerifyOptions{}, runner.verify)
	runner.mu.Unlock()
}

func TestServer_BadRequests(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, Options{})
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/runs/discover", "{invalid").Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/runs/discover", `{"depth":2}`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/v1/runs/verify", `{"limit":-1}`).Code)
	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/runs/missing", "").Code)
}

func TestServer_FailedRun(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{reapErr: errors.New("store down")}, Options{})
	rec := do(t, s, http.MethodPost, "/v1/runs/reap", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	run := waitForRun(t, s, started.ID)
	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, "store down", run.Error)
}

func TestServer_RejectsConcurrentRunOfSameWorkflow(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{})}
	s := newTestServer(runner, Options{})
	first := do(t, s, http.MethodPost, "/v1/runs/discover", "")
	require.Equal(t, http.StatusAccepted, first.Code)

	second := do(t, s, http.MethodPost, "/v1/runs/discover", "")
	require.Equal(t, http.StatusConflict, second.Code)

	// A different workflow is not blocked.
	require.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/v1/runs/reap", "").Code)

	close(runner.block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/v1/runs/discover", "").Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, Options{APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodPost, "/v1/runs/reap", "").Code)
	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodPost, "/v1/runs/reap", "", "X-API-Key", "wrong").Code)
	require.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/v1/runs/reap", "", "X-API-Key", "secret").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code, "probes stay open")
}

func TestServer_GetOpportunity(t *testing.T) {
	t.Parallel()

	key := opportunity.Key{CanonicalURL: "https://grad.example.edu/phd", ProgramType: "phd"}
	reader := fakeReader{rows: map[opportunity.Key]opportunity.Opportunity{
		key: {CanonicalURL: key.CanonicalURL, ProgramType: "phd", Title: "Funded PhD", Status: opportunity.StatusActive},
	}}
	s := NewServer(&fakeRunner{}, reader, Options{}, zap.NewNop())

	rec := do(t, s, http.MethodGet, "/v1/opportunities?program_type=phd&url=https://GRAD.example.edu/phd%23apply", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Funded PhD")

	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/opportunities?program_type=masters&url=https://grad.example.edu/phd", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/opportunities?url=https://grad.example.edu/phd", "").Code)

	broken := NewServer(&fakeRunner{}, fakeReader{err: errors.New("conn reset")}, Options{}, zap.NewNop())
	require.Equal(t, http.StatusInternalServerError, do(t, broken, http.MethodGet, "/v1/opportunities?program_type=phd&url=https://x.edu/", "").Code)
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunTrackerEvictsFinishedRuns(t *testing.T) {
	t.Parallel()

	tr := newRunTracker()
	now := time.Now()
	held, ok := tr.begin("held", workflowVerify, now)
	require.True(t, ok)
	for i := 0; i < maxTrackedRuns+5; i++ {
		id := fmt.Sprintf("run-%d", i)
		_, ok := tr.begin(id, workflowDiscover, now)
		require.True(t, ok)
		tr.finish(id, nil, nil, now)
	}
	_, ok = tr.get(held.ID)
	require.True(t, ok, "running entries are never evicted")
	assert.LessOrEqual(t, len(tr.runs), maxTrackedRuns+1)
}
