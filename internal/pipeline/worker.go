package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/xmlfilter/internal/event"
	"github.com/dgallion1/xmlfilter/internal/stage"
)

// Worker runs events through the stage with bounded concurrency.
type Worker struct {
	stage *stage.Stage
	stats *LatencyStats
	log   *slog.Logger

	maxConcurrent int
}

func NewWorker(st *stage.Stage, stats *LatencyStats, log *slog.Logger, maxConcurrent int) *Worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Worker{
		stage:         st,
		stats:         stats,
		log:           log,
		maxConcurrent: maxConcurrent,
	}
}

// Run processes every event and calls onResult once per event, in completion
// order. Events not yet started when ctx is canceled are left untouched and
// Run returns ctx.Err().
func (w *Worker) Run(ctx context.Context, events []*event.Record, onResult func(i int, res stage.Result)) error {
	type eventResult struct {
		idx int
		res stage.Result
	}
	results := make(chan eventResult, len(events))
	sem := make(chan struct{}, w.maxConcurrent)

	started := 0
	var cancelErr error
dispatch:
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			cancelErr = ctx.Err()
			break dispatch
		}
		started++
		go func(i int, ev *event.Record) {
			defer func() { <-sem }()
			start := time.Now()
			res := w.stage.Process(ev)
			if w.stats != nil {
				w.stats.Record(time.Since(start))
				switch res.State {
				case stage.StateFailed:
					w.stats.RecordTagged()
				case stage.StateSkipped:
					w.stats.RecordSkipped()
				}
			}
			results <- eventResult{idx: i, res: res}
		}(i, ev)
	}

	for range started {
		r := <-results
		if onResult != nil {
			onResult(r.idx, r.res)
		}
	}
	return cancelErr
}

// Process runs a batch job to completion.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)

	events := job.Events()
	job.SetStatus(StatusProcessing, "processing")
	log.Info("processing batch", "events", len(events))

	err := w.Run(ctx, events, job.RecordOutcome)
	snap := job.Snapshot()
	if err != nil {
		log.Warn("batch interrupted", "processed", snap.Progress.EventsProcessed, "error", err)
		job.AddError(fmt.Sprintf("interrupted after %d of %d events: %s", snap.Progress.EventsProcessed, len(events), err))
		job.SetStatus(StatusCanceled, "interrupted")
		return
	}

	log.Info("batch complete",
		"processed", snap.Progress.EventsProcessed,
		"tagged", snap.Progress.EventsTagged,
		"skipped", snap.Progress.EventsSkipped,
	)
	job.SetStatus(StatusCompleted, "done")
}
