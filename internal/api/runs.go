package api

import (
	"sync"
	"time"
)

const (
	workflowDiscover = "discover"
	workflowVerify   = "verify"
	workflowReap     = "reap"
)

// Run states.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// maxTrackedRuns bounds the finished runs kept for polling.
const maxTrackedRuns = 100

// Run is the pollable record of a workflow started over HTTP.
type Run struct {
	ID       string     `json:"id"`
	Workflow string     `json:"workflow"`
	Status   string     `json:"status"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
	Summary  any        `json:"summary,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type runTracker struct {
	mu      sync.Mutex
	runs    map[string]*Run
	order   []string
	running map[string]string
}

func newRunTracker() *runTracker {
	return &runTracker{
		runs:    make(map[string]*Run),
		running: make(map[string]string),
	}
}

// begin records a new run unless one of the same workflow is in progress.
func (t *runTracker) begin(id, workflow string, at time.Time) (Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.running[workflow]; busy {
		return Run{}, false
	}
	run := &Run{ID: id, Workflow: workflow, Status: RunRunning, Started: at}
	t.runs[id] = run
	t.order = append(t.order, id)
	t.running[workflow] = id
	t.evict()
	return *run, true
}

func (t *runTracker) finish(id string, summary any, err error, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[id]
	if !ok {
		return
	}
	run.Finished = &at
	run.Summary = summary
	run.Status = RunSucceeded
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
	}
	delete(t.running, run.Workflow)
}

func (t *runTracker) get(id string) (Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// evict drops the oldest finished runs over the cap. Running entries stay.
func (t *runTracker) evict() {
	for i := 0; len(t.runs) > maxTrackedRuns && i < len(t.order); {
		id := t.order[i]
		if t.runs[id].Status == RunRunning {
			i++
			continue
		}
		delete(t.runs, id)
		t.order = append(t.order[:i], t.order[i+1:]...)
	}
}
