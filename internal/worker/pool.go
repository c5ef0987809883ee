package worker

import (
	"log/slog"
	"sync"
)

// Pool is a fixed-size fire-and-forget task runner. Nothing awaits task
// results; tasks own their failure handling. A panicking task is contained
// so it cannot take a worker down with it.
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	closed sync.Once
	logger *slog.Logger
}

func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		tasks:  make(chan func(), size*4),
		logger: logger,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.invoke(task)
	}
}

func (p *Pool) invoke(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "panic", r)
		}
	}()
	task()
}

// Submit queues the task. Blocks when the queue is full; callers treat the
// pool as best-effort dispatch with no backpressure control of their own.
func (p *Pool) Submit(task func()) {
	p.tasks <- task
}

// Shutdown stops accepting work and waits for queued tasks to drain.
func (p *Pool) Shutdown() {
	p.closed.Do(func() { close(p.tasks) })
	p.wg.Wait()
}
