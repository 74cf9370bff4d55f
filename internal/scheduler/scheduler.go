// Package scheduler drives many probes to completion under a fixed
// concurrency limit. Descriptors are admitted first-come-first-served in
// input order; each admitted probe produces exactly one outcome, and
// outcomes are buffered for the whole batch so a slow consumer never
// causes a drop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"proxysweep/internal/model"
	"proxysweep/internal/probe"
)

// Job pairs a descriptor with its submission index. The index is carried
// through to the outcome so re-submissions keep their original position
// in the sorted report.
type Job struct {
	Seq        int
	Descriptor model.Descriptor
}

// Scheduler dispatches probes onto a pool of exactly C workers. The
// limit is fixed for the lifetime of a run.
type Scheduler struct {
	prober      probe.Prober
	concurrency int
	log         *slog.Logger
}

// New builds a Scheduler. A non-positive concurrency is a configuration
// error and is rejected before any probe starts.
func New(prober probe.Prober, concurrency int, log *slog.Logger) (*Scheduler, error) {
	if concurrency <= 0 {
		return nil, fmt.Errorf("%w: concurrency must be positive, got %d", model.ErrConfiguration, concurrency)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		prober:      prober,
		concurrency: concurrency,
		log:         log,
	}, nil
}

// Run tracks one batch in flight. Counters are updated atomically so a
// consumer can observe progress while probes are still running and, at
// the moment of cancellation, tell never-started descriptors apart from
// in-flight ones.
type Run struct {
	total     int
	started   atomic.Int64
	completed atomic.Int64
	cancelled atomic.Bool
	outcomes  chan model.ProbeOutcome
}

// Outcomes streams results as probes finish. Completion order is not
// submission order; the channel is closed once the run is drained or
// cancellation has settled.
func (r *Run) Outcomes() <-chan model.ProbeOutcome { return r.outcomes }

// Total is the number of descriptors submitted to the run.
func (r *Run) Total() int { return r.total }

// Started counts probes that were admitted to a worker.
func (r *Run) Started() int { return int(r.started.Load()) }

// Completed counts probes whose outcome has been produced.
func (r *Run) Completed() int { return int(r.completed.Load()) }

// InFlight counts probes admitted but not yet finished.
func (r *Run) InFlight() int { return r.Started() - r.Completed() }

// NeverStarted counts descriptors that were not admitted before the run
// ended; on cancellation these produce no outcome at all.
func (r *Run) NeverStarted() int { return r.total - r.Started() }

// Cancelled reports whether the run was aborted before all descriptors
// were probed.
func (r *Run) Cancelled() bool { return r.cancelled.Load() }

// Start launches the batch and returns immediately. Cancelling ctx stops
// admission of new probes and aborts in-flight ones promptly; outcomes
// already produced stay available on the channel.
func (s *Scheduler) Start(ctx context.Context, descs []model.Descriptor) *Run {
	jobs := make([]Job, len(descs))
	for i, d := range descs {
		jobs[i] = Job{Seq: i, Descriptor: d}
	}
	return s.StartJobs(ctx, jobs)
}

// StartJobs is Start with caller-chosen submission indices, used for
// higher-level re-submission of failed descriptors.
func (s *Scheduler) StartJobs(ctx context.Context, jobs []Job) *Run {
	run := &Run{
		total:    len(jobs),
		outcomes: make(chan model.ProbeOutcome, len(jobs)),
	}

	queue := make(chan Job, len(jobs))
	for _, j := range jobs {
		queue <- j
	}
	close(queue)

	workers := s.concurrency
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				// Stop admitting once the run is cancelled; jobs left in
				// the queue are never started and emit no outcome.
				if ctx.Err() != nil {
					run.cancelled.Store(true)
					return
				}
				run.started.Add(1)

				out := s.prober.Probe(ctx, job.Seq, job.Descriptor)
				run.outcomes <- out
				run.completed.Add(1)

				s.log.Debug("probe finished",
					"proxy", out.Proxy,
					"status", out.Status.String(),
					"latency_ms", out.LatencyMs,
				)
			}
		}()
	}

	go func() {
		wg.Wait()
		if ctx.Err() != nil {
			run.cancelled.Store(true)
		}
		close(run.outcomes)
	}()

	return run
}

// RunBatch starts a run and collects every produced outcome. The second
// result reports whether the run was cancelled before completion.
func (s *Scheduler) RunBatch(ctx context.Context, descs []model.Descriptor) ([]model.ProbeOutcome, bool) {
	run := s.Start(ctx, descs)
	out := make([]model.ProbeOutcome, 0, len(descs))
	for o := range run.Outcomes() {
		out = append(out, o)
	}
	return out, run.Cancelled()
}
