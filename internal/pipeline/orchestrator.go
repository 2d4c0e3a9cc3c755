package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/xmlfilter/internal/config"
	"github.com/dgallion1/xmlfilter/internal/event"
	"github.com/dgallion1/xmlfilter/internal/stage"
)

var ErrQueueFull = errors.New("job queue is full")

// Orchestrator owns the batch queue, the worker pool and the job store.
type Orchestrator struct {
	jobs  *JobStore
	queue chan *Job
	stage *stage.Stage
	stats *LatencyStats
	log   *slog.Logger
	cfg   config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(cfg config.Config, st *stage.Stage, stats *LatencyStats, log *slog.Logger) *Orchestrator {
	if stats == nil {
		stats = NewLatencyStats(time.Hour)
	}
	return &Orchestrator{
		jobs:  NewJobStore(cfg.JobTTL),
		queue: make(chan *Job, cfg.MaxQueueSize),
		stage: st,
		stats: stats,
		log:   log,
		cfg:   cfg,
	}
}

func (o *Orchestrator) newWorker() *Worker {
	return NewWorker(o.stage, o.stats, o.log, o.cfg.MaxConcurrentEvents)
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := o.newWorker()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop cancels in-flight batches and waits for workers to exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// Process runs events synchronously, bypassing the queue.
func (o *Orchestrator) Process(ctx context.Context, events []*event.Record) ([]Outcome, error) {
	outcomes := make([]Outcome, len(events))
	err := o.newWorker().Run(ctx, events, func(i int, res stage.Result) {
		outcomes[i] = OutcomeOf(res)
	})
	return outcomes, err
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Stats returns the latency tracker shared by all workers.
func (o *Orchestrator) Stats() *LatencyStats {
	return o.stats
}

// Stage returns the compiled stage.
func (o *Orchestrator) Stage() *stage.Stage {
	return o.stage
}
