package worker

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lexbrief/internal/logger"
)

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Config sizes a Dispatcher.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	Logger      *zap.Logger
}

// Dispatcher runs jobs on a bounded worker pool. Pending jobs are grouped by key
// and keys are served round-robin, so one client cannot starve the others.
type Dispatcher struct {
	pool      *jobChannelPool
	jobQueue  chan Job
	queueSize int64
	pending   atomic.Int64
	log       *zap.Logger

	mu        sync.Mutex
	queues    map[string]*keyQueue
	ready     *list.List // keys with pending jobs, served front to back
	positions map[string]*list.Element

	quit     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(cfg Config) *Dispatcher {
	log := logger.OrGlobal(cfg.Logger)
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, log),
		jobQueue:  make(chan Job, cfg.QueueSize),
		queueSize: int64(cfg.QueueSize),
		log:       log,
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		quit:      make(chan struct{}),
	}

	// warm up
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Do runs fn on a worker and waits for it. It fails fast with ErrDispatcherBusy
// when QueueSize jobs are already waiting. If ctx ends first, Do returns
// ctx.Err() and a job that has not started yet is skipped.
func (d *Dispatcher) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	select {
	case <-d.quit:
		return ErrDispatcherStopped
	default:
	}
	if d.pending.Add(1) > d.queueSize {
		d.pending.Add(-1)
		return ErrDispatcherBusy
	}

	job := Job{Type: Run, Key: key, ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case d.jobQueue <- job:
	case <-d.quit:
		d.pending.Add(-1)
		return ErrDispatcherStopped
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports jobs accepted but not yet picked for a worker.
func (d *Dispatcher) Pending() int { return int(d.pending.Load()) }

// Workers reports the number of live workers.
func (d *Dispatcher) Workers() int { return d.pool.Running() }

// Stop halts dispatching. Jobs still queued fail with ErrDispatcherStopped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.pool.shutdown()
	})
}

func (d *Dispatcher) run() {
	for {
		d.drain()
		if d.dispatchOne() {
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			d.failQueued()
			return
		}
	}
}

// drain moves every job already submitted into its key queue.
func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne hands the next job to a worker.
func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.nextJob()
	if !ok {
		return false
	}
	ch := d.acquire()
	if ch == nil {
		job.done <- ErrDispatcherStopped
		return true
	}
	d.log.Debug("dispatch job", zap.String("key", job.Key), zap.Int("worker", d.pool.workerID(ch)))
	ch <- job
	return true
}

// nextJob pops the first job of the front key and moves that key to the back.
func (d *Dispatcher) nextJob() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.pending.Add(-1)
	return job, true
}

// acquire waits for a worker, giving up when the dispatcher stops.
func (d *Dispatcher) acquire() chan Job {
	got := make(chan chan Job, 1)
	go func() { got <- d.pool.acquire() }()
	select {
	case ch := <-got:
		return ch
	case <-d.quit:
		return nil
	}
}

func (d *Dispatcher) failQueued() {
	d.drain()
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, q := range d.queues {
		for _, job := range q.jobs {
			d.pending.Add(-1)
			job.done <- ErrDispatcherStopped
		}
		delete(d.queues, key)
	}
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
}
