// Package registry loads crawl sources from a YAML file.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
)

// ErrInvalidSource indicates a source entry failed validation.
var ErrInvalidSource = errors.New("invalid source")

// sourceEntry is one item of the sources file. Pointer booleans default to true.
type sourceEntry struct {
	ID                string   `yaml:"id"`
	ProgramType       string   `yaml:"program_type"`
	BaseURL           string   `yaml:"base_url"`
	AllowPaths        []string `yaml:"allow_paths"`
	BlockPaths        []string `yaml:"block_paths"`
	Active            *bool    `yaml:"active"`
	RespectRobots     *bool    `yaml:"respect_robots"`
	MaxRequestsPerRun int      `yaml:"max_requests_per_run"`
	MinDelayMS        *int     `yaml:"min_delay_ms"`
}

type sourcesFile struct {
	Sources []sourceEntry `yaml:"sources"`
}

// File is a crawler.SourceRegistry backed by a YAML file. The file is re-read
// on every call so edits apply to the next run.
type File struct {
	path string
}

// NewFile returns a registry for path. The file is read once to validate it.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("registry.path is required")
	}
	f := &File{path: path}
	if _, err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// ListActive returns active sources in file order, optionally filtered by
// program type.
func (f *File) ListActive(_ context.Context, programType string) ([]crawler.Source, error) {
	sources, err := f.load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrRegistryUnavailable, err)
	}
	out := make([]crawler.Source, 0, len(sources))
	for _, src := range sources {
		if !src.Active || (programType != "" && src.ProgramType != programType) {
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

// Get returns the source with id.
func (f *File) Get(_ context.Context, id string) (crawler.Source, error) {
	sources, err := f.load()
	if err != nil {
		return crawler.Source{}, err
	}
	for _, src := range sources {
		if src.ID == id {
			return src, nil
		}
	}
	return crawler.Source{}, fmt.Errorf("source %q: %w", id, crawler.ErrSourceNotFound)
}

// All returns every source in the file, active or not.
func (f *File) All() ([]crawler.Source, error) {
	return f.load()
}

func (f *File) load() ([]crawler.Source, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a sources document.
func Parse(data []byte) ([]crawler.Source, error) {
	var doc sourcesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Sources))
	out := make([]crawler.Source, 0, len(doc.Sources))
	for i, entry := range doc.Sources {
		src, err := entry.toSource()
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if _, dup := seen[src.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidSource, src.ID)
		}
		seen[src.ID] = struct{}{}
		out = append(out, src)
	}
	return out, nil
}

func (e sourceEntry) toSource() (crawler.Source, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return crawler.Source{}, fmt.Errorf("%w: id is required", ErrInvalidSource)
	}
	if strings.TrimSpace(e.ProgramType) == "" {
		return crawler.Source{}, fmt.Errorf("%w: %s: program_type is required", ErrInvalidSource, id)
	}
	u, err := url.Parse(e.BaseURL)
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return crawler.Source{}, fmt.Errorf("%w: %s: base_url must be an absolute http(s) URL", ErrInvalidSource, id)
	}
	if e.MaxRequestsPerRun < 0 {
		return crawler.Source{}, fmt.Errorf("%w: %s: max_requests_per_run must be >= 0", ErrInvalidSource, id)
	}
	src := crawler.Source{
		ID:                id,
		ProgramType:       e.ProgramType,
		BaseURL:           e.BaseURL,
		AllowPaths:        e.AllowPaths,
		BlockPaths:        e.BlockPaths,
		Active:            e.Active == nil || *e.Active,
		RespectRobots:     e.RespectRobots == nil || *e.RespectRobots,
		MaxRequestsPerRun: e.MaxRequestsPerRun,
	}
	if e.MinDelayMS != nil {
		if *e.MinDelayMS < 0 {
			return crawler.Source{}, fmt.Errorf("%w: %s: min_delay_ms must be >= 0", ErrInvalidSource, id)
		}
		src.MinDelay = time.Duration(*e.MinDelayMS) * time.Millisecond
	}
	return src, nil
}
