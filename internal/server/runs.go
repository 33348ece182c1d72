package server

import (
	"context"
	"time"

	"ferroci/internal/core"
)

// runRecord is the server's view of one submitted run. Guarded by Server.mu.
type runRecord struct {
	ID          string
	Version     string
	Status      string
	FailedJob   string
	Error       string
	Jobs        map[string]core.JobState
	SubmittedAt time.Time
	FinishedAt  time.Time
}

func newRunRecord(id string, p *core.Pipeline) *runRecord {
	rec := &runRecord{
		ID:          id,
		Version:     p.Version,
		Status:      StatusRunning,
		Jobs:        make(map[string]core.JobState, p.Len()),
		SubmittedAt: time.Now(),
	}
	for _, name := range p.Names() {
		rec.Jobs[name] = core.JobPending
	}
	return rec
}

type RunSummary struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	FailedJob   string     `json:"failed_job,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type RunView struct {
	RunSummary
	Version string                   `json:"version,omitempty"`
	Error   string                   `json:"error,omitempty"`
	Jobs    map[string]core.JobState `json:"jobs"`
}

func (r *runRecord) summary() RunSummary {
	s := RunSummary{ID: r.ID, Status: r.Status, FailedJob: r.FailedJob, SubmittedAt: r.SubmittedAt}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt
		s.FinishedAt = &t
	}
	return s
}

func (r *runRecord) view() RunView {
	jobs := make(map[string]core.JobState, len(r.Jobs))
	for k, v := range r.Jobs {
		jobs[k] = v
	}
	return RunView{RunSummary: r.summary(), Version: r.Version, Error: r.Error, Jobs: jobs}
}

// progress mirrors scheduler events into a runRecord.
type progress struct {
	server *Server
	rec    *runRecord
}

func (p *progress) JobStarted(_ context.Context, _, job string) {
	p.server.mu.Lock()
	defer p.server.mu.Unlock()
	p.rec.Jobs[job] = core.JobRunning
}

func (p *progress) JobFinished(_ context.Context, _ string, o core.JobOutcome) {
	p.server.mu.Lock()
	defer p.server.mu.Unlock()
	if o.Succeeded() {
		p.rec.Jobs[o.Job] = core.JobSucceeded
	} else {
		p.rec.Jobs[o.Job] = core.JobFailed
	}
}

func (p *progress) RunFinished(res *core.RunResult) {
	p.server.mu.Lock()
	defer p.server.mu.Unlock()
	p.rec.Status = string(res.Status)
	p.rec.FailedJob = res.FailedJob
	if err := res.Err(); err != nil {
		p.rec.Error = err.Error()
	}
	p.rec.FinishedAt = res.FinishedAt
}
