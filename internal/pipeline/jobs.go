package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/dgallion1/xmlfilter/internal/event"
	"github.com/dgallion1/xmlfilter/internal/stage"
)

// JobStatus represents the state of a batch job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusCanceled   JobStatus = "canceled"
	StatusFailed     JobStatus = "failed"
)

// Job tracks one batch of events run through the stage.
type Job struct {
	mu sync.Mutex

	ID     string    `json:"job_id"`
	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	events   []*event.Record
	outcomes []Outcome
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalEvents     int      `json:"total_events"`
	EventsProcessed int      `json:"events_processed"`
	EventsTagged    int      `json:"events_tagged"`
	EventsSkipped   int      `json:"events_skipped"`
	Errors          []string `json:"errors"`
}

// Outcome is the JSON form of a stage.Result.
type Outcome struct {
	State   string `json:"state"`
	Failure string `json:"failure,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OutcomeOf converts a stage result.
func OutcomeOf(res stage.Result) Outcome {
	out := Outcome{State: res.State.String()}
	if res.Failure != nil {
		out.Failure = res.Failure.Kind.String()
		out.Error = res.Failure.Err.Error()
	}
	return out
}

// NewJob creates a queued job over events.
func NewJob(events []*event.Record) *Job {
	now := time.Now()
	return &Job{
		ID:        NewJobID(),
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
		events:    events,
		outcomes:  make([]Outcome, len(events)),
		Progress:  Progress{TotalEvents: len(events)},
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		updated := job.UpdatedAt
		job.mu.Unlock()
		if now.Sub(updated) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// RecordOutcome stores the result for event i and updates the counters.
func (j *Job) RecordOutcome(i int, res stage.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if i >= 0 && i < len(j.outcomes) {
		j.outcomes[i] = OutcomeOf(res)
	}
	j.Progress.EventsProcessed++
	switch res.State {
	case stage.StateFailed:
		j.Progress.EventsTagged++
	case stage.StateSkipped:
		j.Progress.EventsSkipped++
	}
	j.UpdatedAt = time.Now()
}

// Events returns the job's events. They are mutated in place while the job
// is processing.
func (j *Job) Events() []*event.Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.events
}

// Outcomes returns a copy of the per-event outcomes.
func (j *Job) Outcomes() []Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Outcome, len(j.outcomes))
	copy(out, j.outcomes)
	return out
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.Status {
	case StatusCompleted, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	ContentHash string    `json:"content_hash,omitempty"`
	Progress    Progress  `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	return JobSnapshot{
		ID:          j.ID,
		Status:      j.Status,
		Phase:       j.Phase,
		ContentHash: j.ContentHash,
		Progress: Progress{
			TotalEvents:     j.Progress.TotalEvents,
			EventsProcessed: j.Progress.EventsProcessed,
			EventsTagged:    j.Progress.EventsTagged,
			EventsSkipped:   j.Progress.EventsSkipped,
			Errors:          errs,
		},
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
