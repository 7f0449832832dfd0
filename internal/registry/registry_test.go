package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
)

const sourcesYAML = `
sources:
  - id: grad-school
    program_type: phd
    base_url: https://grad.example.edu/programs
    allow_paths: [/programs]
    block_paths: [/programs/archive]
    max_requests_per_run: 10
    min_delay_ms: 3000
  - id: masters
    program_type: masters
    base_url: https://example.ac.uk/
    respect_robots: false
  - id: retired
    program_type: phd
    base_url: https://old.example.edu/
    active: false
`

func writeSources(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFileRegistry(t *testing.T) {
	reg, err := NewFile(writeSources(t, sourcesYAML))
	require.NoError(t, err)
	ctx := context.Background()

	active, err := reg.ListActive(ctx, "")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, crawler.Source{
		ID:                "grad-school",
		ProgramType:       "phd",
		BaseURL:           "https://grad.example.edu/programs",
		AllowPaths:        []string{"/programs"},
		BlockPaths:        []string{"/programs/archive"},
		Active:            true,
		RespectRobots:     true,
		MaxRequestsPerRun: 10,
		MinDelay:          3 * time.Second,
	}, active[0])
	assert.False(t, active[1].RespectRobots)
	assert.Zero(t, active[1].MinDelay)

	phd, err := reg.ListActive(ctx, "phd")
	require.NoError(t, err)
	require.Len(t, phd, 1)
	assert.Equal(t, "grad-school", phd[0].ID)

	retired, err := reg.Get(ctx, "retired")
	require.NoError(t, err)
	assert.False(t, retired.Active)

	_, err = reg.Get(ctx, "nope")
	require.ErrorIs(t, err, crawler.ErrSourceNotFound)

	all, err := reg.All()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFileRegistryUnavailable(t *testing.T) {
	path := writeSources(t, sourcesYAML)
	reg, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = reg.ListActive(context.Background(), "")
	require.ErrorIs(t, err, crawler.ErrRegistryUnavailable)
}

func TestNewFileErrors(t *testing.T) {
	_, err := NewFile("")
	require.Error(t, err)
	_, err = NewFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseValidation(t *testing.T) {
	tests := map[string]string{
		"missing id":        "sources:\n  - program_type: phd\n    base_url: https://x.edu/\n",
		"missing type":      "sources:\n  - id: a\n    base_url: https://x.edu/\n",
		"relative base url": "sources:\n  - id: a\n    program_type: phd\n    base_url: /programs\n",
		"ftp base url":      "sources:\n  - id: a\n    program_type: phd\n    base_url: ftp://x.edu/\n",
		"negative delay":    "sources:\n  - id: a\n    program_type: phd\n    base_url: https://x.edu/\n    min_delay_ms: -1\n",
		"duplicate": "sources:\n  - id: a\n    program_type: phd\n    base_url: https://x.edu/\n" +
			"  - id: a\n    program_type: phd\n    base_url: https://y.edu/\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidSource)
		})
	}

	_, err := Parse([]byte("sources: [unterminated"))
	require.Error(t, err)
}
