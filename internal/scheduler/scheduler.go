// Package scheduler triggers crawler workflows on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
)

// Workflow names.
const (
	WorkflowDiscover = "discover"
	WorkflowVerify   = "verify"
	WorkflowReap     = "reap"
)

// Runner is the subset of *crawler.Crawler the scheduler drives.
type Runner interface {
	Discover(ctx context.Context, opts crawler.DiscoverOptions) (crawler.DiscoverSummary, error)
	Verify(ctx context.Context, opts crawler.VerifyOptions) (crawler.VerifySummary, error)
	Reap(ctx context.Context) (crawler.ReapSummary, error)
}

// Config holds one standard five-field cron spec per workflow. Empty specs
// are not scheduled.
type Config struct {
	Discover    string
	Verify      string
	Reap        string
	ProgramType string
}

// Entry describes a scheduled workflow.
type Entry struct {
	Workflow string
	Spec     string
	Next     time.Time
}

// Scheduler owns a cron instance. A workflow never overlaps with itself;
// a tick that fires while the previous run is in progress is skipped.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	cfg     Config
	logger  *zap.Logger
	ctx     context.Context
	jobs    map[string]cron.Job
	entries map[string]cron.EntryID
	specs   map[string]string
}

// New validates the specs and registers the workflows.
func New(cfg Config, runner Runner, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler: runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clog := cronLogger{l: logger.Sugar()}
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(clog)),
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		ctx:     context.Background(),
		jobs:    make(map[string]cron.Job),
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
	}
	chain := cron.NewChain(cron.Recover(clog), cron.SkipIfStillRunning(clog))
	for _, wf := range []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{WorkflowDiscover, cfg.Discover, s.discover},
		{WorkflowVerify, cfg.Verify, s.verify},
		{WorkflowReap, cfg.Reap, s.reap},
	} {
		if wf.spec == "" {
			continue
		}
		name, run := wf.name, wf.run
		job := chain.Then(cron.FuncJob(func() { s.execute(name, run) }))
		id, err := s.cron.AddJob(wf.spec, job)
		if err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", name, wf.spec, err)
		}
		s.jobs[name] = job
		s.entries[name] = id
		s.specs[name] = wf.spec
	}
	return s, nil
}

// Start begins firing schedules. Runs use ctx and stop when it is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	for _, e := range s.Entries() {
		s.logger.Info("workflow scheduled",
			zap.String("workflow", e.Workflow),
			zap.String("schedule", e.Spec),
			zap.Time("next_run", e.Next),
		)
	}
}

// Stop halts scheduling and returns a context done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Trigger runs a scheduled workflow immediately, subject to the same
// overlap rule as timed runs.
func (s *Scheduler) Trigger(workflow string) error {
	job, ok := s.jobs[workflow]
	if !ok {
		return fmt.Errorf("workflow %q is not scheduled", workflow)
	}
	job.Run()
	return nil
}

// Entries lists scheduled workflows ordered by name.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		out = append(out, Entry{Workflow: name, Spec: s.specs[name], Next: s.cron.Entry(id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Workflow < out[j].Workflow })
	return out
}

func (s *Scheduler) execute(name string, run func(context.Context) error) {
	if err := s.ctx.Err(); err != nil {
		return
	}
	start := time.Now()
	s.logger.Info("scheduled run starting", zap.String("workflow", name))
	if err := run(s.ctx); err != nil {
		s.logger.Error("scheduled run failed",
			zap.String("workflow", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("scheduled run finished",
		zap.String("workflow", name),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (s *Scheduler) discover(ctx context.Context) error {
	_, err := s.runner.Discover(ctx, crawler.DiscoverOptions{ProgramType: s.cfg.ProgramType})
	return err
}

func (s *Scheduler) verify(ctx context.Context) error {
	_, err := s.runner.Verify(ctx, crawler.VerifyOptions{ProgramType: s.cfg.ProgramType})
	return err
}

func (s *Scheduler) reap(ctx context.Context) error {
	_, err := s.runner.Reap(ctx)
	return err
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
