package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

var (
	// ErrWorkerQueueFull is returned when a unit cannot be queued without blocking.
	ErrWorkerQueueFull = errors.New("worker queue full")
	// ErrPoolStopped is returned for units that were queued but never started
	// because the pool shut down.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// WorkUnit is one blocking piece of stage work handed to the pool.
type WorkUnit struct {
	ID    string
	JobID string
	Stage string
	Run   func(ctx context.Context) error

	ctx     context.Context
	claimed atomic.Bool
	done    chan struct{}
	err     error
}

// claim marks the unit as taken. Exactly one of the worker or the shutdown
// path wins.
func (u *WorkUnit) claim() bool {
	return u.claimed.CompareAndSwap(false, true)
}

// Pool runs work units on a fixed set of worker goroutines so that callers
// on request-handling goroutines only ever wait on a channel.
//
// All workers share a single queue.
type Pool struct {
	name        string
	logger      *slog.Logger
	workerCount int
	queue       chan *WorkUnit
	stopped     chan struct{}
	started     atomic.Bool

	inFlight atomic.Int32
	executed atomic.Int64
}

// PoolConfig configures a new worker pool.
type PoolConfig struct {
	Name        string
	Logger      *slog.Logger
	WorkerCount int // Number of worker goroutines (default: 1)
	QueueSize   int // Queue size (default: 4 * WorkerCount)
}

// NewPool creates a new worker pool. Call Start before submitting work.
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = "gpu"
	}

	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4 * workerCount
	}

	return &Pool{
		name:        name,
		logger:      logger.With("pool", name, "workers", workerCount),
		workerCount: workerCount,
		queue:       make(chan *WorkUnit, queueSize),
		stopped:     make(chan struct{}),
	}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Start launches the workers and blocks until ctx is cancelled. Units that
// are still queued at that point fail with ErrPoolStopped.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.logger.Debug("pool starting")
	for i := 0; i < p.workerCount; i++ {
		go p.worker(ctx, i)
	}

	<-ctx.Done()
	close(p.stopped)
	p.logger.Debug("pool stopping")
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case unit := <-p.queue:
			if !unit.claim() {
				continue
			}
			p.inFlight.Add(1)
			start := time.Now()
			unit.err = p.run(unit)
			p.inFlight.Add(-1)
			p.executed.Add(1)
			p.logger.Debug("unit completed", "worker_id", id, "job_id", unit.JobID,
				"stage", unit.Stage, "elapsed", time.Since(start).Round(time.Millisecond), "error", unit.err)
			close(unit.done)
		}
	}
}

func (p *Pool) run(unit *WorkUnit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s stage: %v", unit.Stage, r)
			p.logger.Error("work unit panicked", "job_id", unit.JobID, "stage", unit.Stage, "panic", r)
		}
	}()
	return unit.Run(unit.ctx)
}

// Submit queues a unit without blocking. The unit's Run receives ctx.
func (p *Pool) Submit(ctx context.Context, unit *WorkUnit) error {
	if unit.Run == nil {
		return errors.New("work unit has no Run function")
	}
	select {
	case <-p.stopped:
		return fmt.Errorf("%w: %s", ErrPoolStopped, p.name)
	default:
	}

	unit.ctx = ctx
	unit.done = make(chan struct{})
	select {
	case p.queue <- unit:
		return nil
	default:
		p.logger.Warn("pool queue full", "job_id", unit.JobID, "stage", unit.Stage)
		return fmt.Errorf("%w: %s", ErrWorkerQueueFull, p.name)
	}
}

// Do submits a unit and waits for it to finish.
//
// Once a worker has started the unit, Do waits for it regardless of ctx:
// callers must not treat the stage as finished while it may still be using
// the engines. Cancellation reaches the unit through ctx instead.
func (p *Pool) Do(ctx context.Context, unit *WorkUnit) error {
	if err := p.Submit(ctx, unit); err != nil {
		return err
	}
	select {
	case <-unit.done:
		return unit.err
	case <-p.stopped:
		if unit.claim() {
			return fmt.Errorf("%w: %s", ErrPoolStopped, p.name)
		}
		<-unit.done
		return unit.err
	}
}

// PoolStatus reports a pool's current state.
type PoolStatus struct {
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	InFlight   int    `json:"in_flight"`
	QueueDepth int    `json:"queue_depth"`
	Executed   int64  `json:"executed"`
}

// Status returns current pool status.
func (p *Pool) Status() PoolStatus {
	return PoolStatus{
		Name:       p.name,
		Workers:    p.workerCount,
		InFlight:   int(p.inFlight.Load()),
		QueueDepth: len(p.queue),
		Executed:   p.executed.Load(),
	}
}
