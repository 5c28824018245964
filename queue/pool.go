package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultBackoff is the retry schedule, the last step repeats.
var DefaultBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	240 * time.Minute,
	1440 * time.Minute,
}

const DefaultMaxAttempts = 10

var ErrPoolStopped = errors.New("queue: pool stopped")

// Pool runs tasks on a fixed number of goroutines and re-schedules failures.
type Pool struct {
	router      *Router
	workers     int
	tasks       chan Task
	backoff     []time.Duration
	maxAttempts int
	log         *zap.Logger

	mu      sync.Mutex
	stopped bool
	timers  map[*time.Timer]struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

type PoolOption func(*Pool)

func WithBackoff(schedule []time.Duration) PoolOption {
	return func(p *Pool) { p.backoff = schedule }
}

func WithMaxAttempts(n int) PoolOption {
	return func(p *Pool) { p.maxAttempts = n }
}

func WithBuffer(n int) PoolOption {
	return func(p *Pool) { p.tasks = make(chan Task, n) }
}

func NewPool(router *Router, workers int, log *zap.Logger, opts ...PoolOption) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		router:      router,
		workers:     workers,
		tasks:       make(chan Task, 1024),
		backoff:     DefaultBackoff,
		maxAttempts: DefaultMaxAttempts,
		log:         log.Named("queue"),
		timers:      make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info("Starting federation workers", zap.Int("workers", p.workers))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-p.tasks:
					p.run(ctx, task)
				}
			}
		}()
	}
}

// Dispatch enqueues the task. It only blocks while the buffer is full.
func (p *Pool) Dispatch(ctx context.Context, task Task) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return ErrPoolStopped
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels pending retries and waits for running tasks to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	for t := range p.timers {
		t.Stop()
	}
	p.timers = map[*time.Timer]struct{}{}
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, task Task) {
	err := p.router.Route(ctx, task)
	if err == nil {
		return
	}

	task.Attempts++
	if IsPermanent(err) {
		p.log.Warn("Queue: Dropping task after permanent failure",
			zap.String("kind", task.Kind), zap.Error(err))
		return
	}
	if task.Attempts >= p.maxAttempts {
		p.log.Warn("Queue: Giving up on task",
			zap.String("kind", task.Kind), zap.Int("attempts", task.Attempts), zap.Error(err))
		return
	}

	delay := p.delay(task.Attempts)
	p.log.Info("Queue: Task failed, scheduling retry",
		zap.String("kind", task.Kind), zap.Int("attempt", task.Attempts),
		zap.Duration("retry_in", delay), zap.Error(err))
	p.retryLater(task, delay)
}

func (p *Pool) delay(attempts int) time.Duration {
	if len(p.backoff) == 0 {
		return 0
	}
	return p.backoff[min(attempts-1, len(p.backoff)-1)]
}

func (p *Pool) retryLater(task Task, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}
		select {
		case p.tasks <- task:
		default:
			p.log.Warn("Queue: Buffer full, dropping retry", zap.String("kind", task.Kind))
		}
	})
	p.timers[timer] = struct{}{}
}
