package crawler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// maxRobotsBytes caps how much of a robots.txt file is read.
const maxRobotsBytes = 512 << 10

// DefaultRobotsTimeout bounds a single robots.txt fetch.
const DefaultRobotsTimeout = 10 * time.Second

// RobotsCache answers robots.txt checks per host with a TTL cache. Any failure
// to fetch or parse robots.txt caches an allow-all entry.
type RobotsCache struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	timeout   time.Duration
	mode      string
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]robotsEntry
}

type robotsEntry struct {
	expires  time.Time
	allowAll bool
	disallow []string
	data     *robotstxt.RobotsData
}

// NewRobotsCache builds a RobotsCache. mode is RobotsModeLegacy or
// RobotsModeStandard.
func NewRobotsCache(client *http.Client, userAgent string, ttl time.Duration, mode string, logger *zap.Logger) *RobotsCache {
	if client == nil {
		client = &http.Client{}
	}
	if ttl <= 0 {
		ttl = DefaultRobotsTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsCache{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		timeout:   DefaultRobotsTimeout,
		mode:      mode,
		logger:    logger,
		now:       time.Now,
		entries:   make(map[string]robotsEntry),
	}
}

// WithTimeout sets the per-fetch robots.txt deadline. The deadline applies to
// every load whatever client was injected.
func (r *RobotsCache) WithTimeout(d time.Duration) *RobotsCache {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Allowed reports whether rawURL may be fetched.
func (r *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return true
	}
	entry := r.entry(ctx, parsed)
	if entry.allowAll {
		return true
	}
	p := parsed.EscapedPath()
	if p == "" {
		p = "/"
	}
	if entry.data != nil {
		return entry.data.TestAgent(p, r.userAgent)
	}
	return legacyAllowed(entry.disallow, p)
}

func (r *RobotsCache) entry(ctx context.Context, parsed *url.URL) robotsEntry {
	key := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	now := r.now()
	r.mu.RLock()
	cached, ok := r.entries[key]
	r.mu.RUnlock()
	if ok && now.Before(cached.expires) {
		return cached
	}

	entry, err := r.load(ctx, key)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		entry = robotsEntry{allowAll: true}
	}
	entry.expires = now.Add(r.ttl)
	r.mu.Lock()
	r.entries[key] = entry
	r.mu.Unlock()
	return entry
}

func (r *RobotsCache) load(ctx context.Context, origin string) (robotsEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return robotsEntry{}, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return robotsEntry{}, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return robotsEntry{allowAll: true}, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return robotsEntry{}, fmt.Errorf("read robots body: %w", err)
	}
	if r.mode == RobotsModeStandard {
		data, err := robotstxt.FromBytes(body)
		if err != nil {
			return robotsEntry{}, fmt.Errorf("parse robots: %w", err)
		}
		return robotsEntry{data: data}, nil
	}
	return robotsEntry{disallow: parseLegacyRobots(string(body))}, nil
}

// parseLegacyRobots collects Disallow values from the "User-agent: *" group
// only. Allow and every other directive are ignored.
func parseLegacyRobots(body string) []string {
	var (
		rules     []string
		inStar    bool
		groupRule bool
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "user-agent":
			if groupRule {
				inStar, groupRule = false, false
			}
			if value == "*" {
				inStar = true
			}
		case "disallow":
			groupRule = true
			if inStar && value != "" {
				rules = append(rules, value)
			}
		default:
			groupRule = true
		}
	}
	return rules
}

// legacyAllowed applies prefix matching. A bare "/" rule is non-blocking,
// matching the behavior downstream consumers already rely on.
func legacyAllowed(disallow []string, path string) bool {
	for _, rule := range disallow {
		if rule == "/" {
			continue
		}
		if strings.HasPrefix(path, rule) {
			return false
		}
	}
	return true
}
