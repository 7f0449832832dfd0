package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/config"
)

const programPage = `<html><head><title>Programs</title></head><body>
<h1>Funded PhD in Chemistry</h1>
<p>This fully funded position starts Fall 2030. Deadline: 2030-03-01</p>
<a href="/apply">Apply now</a>
</body></html>`

func writeTestConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	sources := fmt.Sprintf(`
sources:
  - id: grad
    program_type: phd
    base_url: %s/
    respect_robots: false
    max_requests_per_run: 1
`, baseURL)
	sourcesPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(sourcesPath, []byte(sources), 0o600))

	cfg := fmt.Sprintf(`
crawler:
  default_min_delay: 0s
  backoff_base: 1ms
  backoff_max: 10ms
registry:
  path: %s
logging:
  level: error
`, sourcesPath)
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, closeApp := newRootCmd()
	defer closeApp()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(programPage))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoverCommandPrintsSummary(t *testing.T) {
	srv := newSite(t)
	out, err := run(t, "--config", writeTestConfig(t, srv.URL), "discover", "--program-type", "phd")
	require.NoError(t, err)
	assert.Contains(t, out, "Visited")
	assert.Contains(t, out, "Accepted")
}

func TestVerifyAndReapOnEmptyStore(t *testing.T) {
	srv := newSite(t)
	cfg := writeTestConfig(t, srv.URL)

	out, err := run(t, "--config", cfg, "verify", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Checked")

	_, err = run(t, "--config", cfg, "verify", "--limit", "-1")
	require.Error(t, err)

	out, err = run(t, "--config", cfg, "reap")
	require.NoError(t, err)
	assert.Contains(t, out, "Expired")
}

func TestSourcesCommands(t *testing.T) {
	srv := newSite(t)
	cfg := writeTestConfig(t, srv.URL)

	out, err := run(t, "--config", cfg, "sources", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "grad")
	assert.Contains(t, out, srv.URL)

	importFile := filepath.Join(t.TempDir(), "more.yaml")
	require.NoError(t, os.WriteFile(importFile, []byte(`
sources:
  - id: extra
    program_type: masters
    base_url: https://masters.example.ac.uk/
`), 0o600))
	out, err = run(t, "--config", cfg, "sources", "import", importFile)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 sources")
}

func TestBadConfigFails(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "reap")
	require.Error(t, err)
}

// closeCountingApp satisfies App for commands that fail before touching any
// service; only Close is expected to be called.
type closeCountingApp struct {
	App
	closed int
}

func (a *closeCountingApp) Close() { a.closed++ }

func TestFailedCommandStillClosesApp(t *testing.T) {
	fake := &closeCountingApp{}
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = orig })

	srv := newSite(t)
	_, err := run(t, "--config", writeTestConfig(t, srv.URL), "verify", "--limit", "-1")
	require.Error(t, err)
	assert.Equal(t, 1, fake.closed)
}

func TestCloseAppIsIdempotent(t *testing.T) {
	fake := &closeCountingApp{}
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = orig })

	srv := newSite(t)
	root, closeApp := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", writeTestConfig(t, srv.URL), "verify", "--limit", "-1"})
	require.Error(t, root.ExecuteContext(context.Background()))
	closeApp()
	closeApp()
	assert.Equal(t, 1, fake.closed)
}
