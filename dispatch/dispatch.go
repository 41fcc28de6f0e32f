// Package dispatch defines the Worker Dispatcher port (Component F) and
// an in-process reference implementation. A gRPC-based dispatcher was
// considered (the teacher's pb/builder package sketches exactly this:
// a remote-build protocol "to leverage remote compute resources"), but
// generating real protobuf stubs needs protoc, which is out of reach
// here; the reference implementation instead runs jobs in-process with
// an errgroup-backed worker pool, grounded on the teacher's scheduling
// loop in _examples/distr1-distri/internal/batch/batch.go.
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/habitat-sh/builder-sub000/ident"
)

// Job is one unit of dispatchable work: build JobID for Ident/Target at
// Iteration, belonging to GroupID.
type Job struct {
	JobID     string
	GroupID   string
	Ident     ident.PackageIdent
	Target    ident.PackageTarget
	Iteration int
}

// Outcome is a terminal completion event for a dispatched Job.
type Outcome struct {
	JobID   string
	Success bool
	Err     error
}

// Dispatcher is the Worker Dispatcher port: Dispatch hands a job to a
// worker, Cancel requests early termination, and Events streams terminal
// outcomes back to the Group Scheduler.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
	Cancel(ctx context.Context, jobID string) error
	Events() <-chan Outcome
}

// BuildFunc performs the actual build for one job. The in-process
// dispatcher calls this once per dispatched job, inside a worker
// goroutine.
type BuildFunc func(ctx context.Context, job Job) error

// InProcessDispatcher runs jobs as goroutines bounded by an errgroup,
// the same worker-pool shape as the teacher's batch builder, generalized
// from "one build at a time" into a bounded concurrent pool with
// per-job cancellation.
type InProcessDispatcher struct {
	build   BuildFunc
	events  chan Outcome
	sem     chan struct{}
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	group   *errgroup.Group
	ctx     context.Context
}

// NewInProcessDispatcher returns a Dispatcher that runs at most
// concurrency jobs at once via build, delivering outcomes on the
// returned Dispatcher's Events channel until ctx is canceled.
func NewInProcessDispatcher(ctx context.Context, concurrency int, build BuildFunc) *InProcessDispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	return &InProcessDispatcher{
		build:   build,
		events:  make(chan Outcome, concurrency*2),
		sem:     make(chan struct{}, concurrency),
		cancels: make(map[string]context.CancelFunc),
		group:   g,
		ctx:     gctx,
	}
}

func (d *InProcessDispatcher) Dispatch(ctx context.Context, job Job) error {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	jobCtx, cancel := context.WithCancel(d.ctx)
	d.mu.Lock()
	d.cancels[job.JobID] = cancel
	d.mu.Unlock()

	d.group.Go(func() error {
		defer func() {
			<-d.sem
			d.mu.Lock()
			delete(d.cancels, job.JobID)
			d.mu.Unlock()
		}()
		err := d.build(jobCtx, job)
		select {
		case d.events <- Outcome{JobID: job.JobID, Success: err == nil, Err: err}:
		case <-d.ctx.Done():
		}
		return nil // a job failure is reported as an Outcome, not a fatal group error
	})
	return nil
}

func (d *InProcessDispatcher) Cancel(ctx context.Context, jobID string) error {
	d.mu.Lock()
	cancel, ok := d.cancels[jobID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (d *InProcessDispatcher) Events() <-chan Outcome { return d.events }

// Wait blocks until every dispatched job has returned, then closes
// Events. Callers should stop reading Events only after Wait returns.
func (d *InProcessDispatcher) Wait() error {
	err := d.group.Wait()
	close(d.events)
	return err
}
