package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/opportunity-crawler/internal/metrics"
)

const maxRedirects = 5

// errRedirectDisallowed marks a redirect whose target robots.txt forbids.
var errRedirectDisallowed = errors.New("redirect target disallowed by robots.txt")

// redirectPolicyKey carries the per-request robots and delay settings to
// checkRedirect through the request context.
type redirectPolicyKey struct{}

type redirectPolicy struct {
	respectRobots bool
	minDelay      time.Duration
}

// RobotsPolicy decides whether a URL may be fetched under robots.txt.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// Fetcher is the politeness-aware HTTP client used by every workflow.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	timeout    time.Duration
	maxBytes   int64
	penalty    float64
	blocklist  *domainPatternBlocklist
	robots     RobotsPolicy
	politeness *Politeness
	detector   *HeuristicDetector
	logger     *zap.Logger
	now        func() time.Time
}

// NewFetcher wires a Fetcher. The client, injected or default, follows
// redirects only through checkRedirect unless it already carries its own
// redirect policy.
func NewFetcher(cfg Config, client *http.Client, robots RobotsPolicy, politeness *Politeness, logger *zap.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	hosts := append(append([]string{}, DefaultBlockedHosts...), cfg.BlockedHosts...)
	f := &Fetcher{
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
		maxBytes:   cfg.MaxBytes,
		penalty:    cfg.BlockPenalty,
		blocklist:  newDomainPatternBlocklist(hosts),
		robots:     robots,
		politeness: politeness,
		detector:   NewHeuristicDetector(),
		logger:     logger,
		now:        time.Now,
	}
	if politeness == nil {
		f.politeness = NewPoliteness(cfg)
	}
	if client == nil {
		client = &http.Client{}
	}
	if client.CheckRedirect == nil {
		guarded := *client
		guarded.CheckRedirect = f.checkRedirect
		client = &guarded
	}
	f.client = client
	return f
}

// checkRedirect applies the same host checks to every hop that fetch applies
// to the first request. A hop onto a new host also waits out that host's
// politeness delay.
func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	host := strings.ToLower(req.URL.Hostname())
	if f.blocklist.IsBlocked(host) {
		return fmt.Errorf("redirect to blacklisted host %s", host)
	}
	ctx := req.Context()
	policy, _ := ctx.Value(redirectPolicyKey{}).(redirectPolicy)
	if policy.respectRobots && f.robots != nil && !f.robots.Allowed(ctx, req.URL.String()) {
		return fmt.Errorf("%w: %s", errRedirectDisallowed, req.URL.Redacted())
	}
	if prev := via[len(via)-1]; !strings.EqualFold(prev.URL.Hostname(), host) {
		if err := f.politeness.Wait(ctx, host, policy.minDelay); err != nil {
			return err
		}
	}
	return nil
}

// Fetch performs the ordered checks and classifies the outcome. It never
// returns an error: transport failures become ERROR results.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) FetchResult {
	start := f.now()
	res := f.fetch(ctx, req)
	res.Elapsed = f.now().Sub(start)
	if res.FetchedURL == "" {
		res.FetchedURL = req.URL
	}
	metrics.ObserveFetch(hostOf(req.URL), string(res.Status), res.ResponseBytes, res.Elapsed)
	return res
}

func (f *Fetcher) fetch(ctx context.Context, req FetchRequest) FetchResult {
	u, err := url.Parse(req.URL)
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return FetchResult{Status: FetchError, ErrorMessage: fmt.Sprintf("invalid url %q", req.URL)}
	}
	host := strings.ToLower(u.Hostname())

	if f.blocklist.IsBlocked(host) {
		return FetchResult{Status: FetchBlocked, BlockedReason: BlockedHostBlacklisted}
	}
	if req.RespectRobots && f.robots != nil && !f.robots.Allowed(ctx, req.URL) {
		return FetchResult{Status: FetchBlocked, BlockedReason: BlockedRobotsDisallowed}
	}
	if err := f.politeness.Wait(ctx, host, req.MinDelay); err != nil {
		return FetchResult{Status: FetchError, ErrorMessage: err.Error()}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.timeout
	}
	maxBytes := req.MaxBytes
	if maxBytes <= 0 {
		maxBytes = f.maxBytes
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx = context.WithValue(ctx, redirectPolicyKey{}, redirectPolicy{
		respectRobots: req.RespectRobots,
		minDelay:      req.MinDelay,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return FetchResult{Status: FetchError, ErrorMessage: fmt.Sprintf("new request: %v", err)}
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", DefaultAccept)
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		httpReq.Header.Set("If-Modified-Since", req.LastModified)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, errRedirectDisallowed) {
			return FetchResult{Status: FetchBlocked, BlockedReason: BlockedRobotsDisallowed}
		}
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("timeout after %s", timeout)
		}
		return FetchResult{Status: FetchError, ErrorMessage: msg}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("failed to close response body", zap.Error(cerr))
		}
	}()

	res := FetchResult{
		FetchedURL:   resp.Request.URL.String(),
		HTTPStatus:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	if resp.StatusCode == http.StatusNotModified {
		if res.ETag == "" {
			res.ETag = req.ETag
		}
		if res.LastModified == "" {
			res.LastModified = req.LastModified
		}
		res.Status = FetchNotModified
		return res
	}
	if resp.ContentLength > maxBytes {
		res.Status = FetchError
		res.ResponseBytes = resp.ContentLength
		res.ErrorMessage = fmt.Sprintf("response of %d bytes exceeds limit of %d", resp.ContentLength, maxBytes)
		return res
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	res.ResponseBytes = int64(len(raw))
	if err != nil {
		res.Status = FetchError
		res.ErrorMessage = fmt.Sprintf("read body: %v", err)
		return res
	}
	if int64(len(raw)) > maxBytes {
		res.Status = FetchError
		res.ErrorMessage = fmt.Sprintf("response exceeds limit of %d bytes", maxBytes)
		return res
	}

	body := decodeBody(raw, resp.Header.Get("Content-Type"))
	verdict := f.detector.Inspect(body, res.FetchedURL)
	switch {
	case verdict.Blocked:
		return f.block(host, res, BlockedBotBlock)
	case verdict.LoginWall:
		res.LoginWall = true
		return f.block(host, res, BlockedLoginWall)
	case resp.StatusCode == http.StatusForbidden:
		return f.block(host, res, BlockedHTTP403)
	case resp.StatusCode == http.StatusTooManyRequests:
		return f.block(host, res, BlockedHTTP429)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		res.Status = FetchError
		res.ErrorMessage = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return res
	}
	res.Status = FetchOK
	res.Body = body
	return res
}

func (f *Fetcher) block(host string, res FetchResult, reason string) FetchResult {
	penalty := f.politeness.Penalize(host, f.penalty)
	f.logger.Info("host blocked request",
		zap.String("host", host),
		zap.String("reason", reason),
		zap.Int("http_status", res.HTTPStatus),
		zap.Duration("penalty", penalty),
	)
	res.Status = FetchBlocked
	res.BlockedReason = reason
	return res
}

// decodeBody converts raw to UTF-8 using the declared or sniffed charset.
func decodeBody(raw []byte, contentType string) string {
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return string(raw)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}
