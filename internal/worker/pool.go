package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("worker queue is full")

// Task is one background unit of work, keyed so that at most one task per
// key runs at a time. Ingestion and deletion of the same document share the
// document id as key, which serializes them: a delete submitted while an
// ingest is in flight waits for it instead of racing it.
type Task struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error
}

type Pool struct {
	size  int
	queue chan Task

	mu       sync.Mutex
	inflight map[string]bool
	waiting  map[string][]Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(size, queueSize int) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Pool{
		size:     size,
		queue:    make(chan Task, queueSize),
		inflight: make(map[string]bool),
		waiting:  make(map[string][]Task),
	}
}

func (p *Pool) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Submit schedules a task. Tasks sharing a key are run one at a time in
// submission order; tasks with distinct keys run concurrently up to the
// pool size.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	if p.inflight[task.Key] {
		p.waiting[task.Key] = append(p.waiting[task.Key], task)
		p.mu.Unlock()
		return nil
	}
	p.inflight[task.Key] = true
	p.mu.Unlock()

	select {
	case p.queue <- task:
		return nil
	default:
		p.mu.Lock()
		delete(p.inflight, task.Key)
		p.mu.Unlock()
		return ErrQueueFull
	}
}

func (p *Pool) InFlight(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight[key]
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.queue:
			p.run(task)
		}
	}
}

// run executes the task and then any tasks queued behind its key, all in
// the same worker. The worker already owns the key's in-flight slot, so
// successors must not go back through the bounded queue: waiting for a free
// slot there while every other worker does the same would wedge the pool.
func (p *Pool) run(task Task) {
	for {
		logger := logutil.GetLogger(p.ctx).With(zap.String("task", task.Name), zap.String("key", task.Key))
		start := time.Now()
		err := task.Run(p.ctx)
		if err != nil {
			logger.Error("task finished", zap.Error(err), zap.Duration("duration", time.Since(start)))
		} else {
			logger.Info("task finished", zap.Duration("duration", time.Since(start)))
		}

		p.mu.Lock()
		next, ok := p.popWaiting(task.Key)
		if !ok || p.ctx.Err() != nil {
			delete(p.inflight, task.Key)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		task = next
	}
}

func (p *Pool) popWaiting(key string) (Task, bool) {
	pending := p.waiting[key]
	if len(pending) == 0 {
		return Task{}, false
	}
	next := pending[0]
	if len(pending) == 1 {
		delete(p.waiting, key)
	} else {
		p.waiting[key] = pending[1:]
	}
	return next, true
}
