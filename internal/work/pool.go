// Package work runs deferred tasks on a fixed pool of goroutines.
package work

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/chatpulse/chatpulse/internal/logging"
)

var (
	tasksSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_work_tasks_submitted_total",
		Help: "Tasks handed to the pool",
	})
	tasksInline = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_work_tasks_inline_total",
		Help: "Tasks executed in the caller because the queue was full",
	})
	panicsRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_work_panics_recovered_total",
		Help: "Task panics caught by the pool",
	})
)

func init() {
	prometheus.MustRegister(tasksSubmitted)
	prometheus.MustRegister(tasksInline)
	prometheus.MustRegister(panicsRecovered)
}

// Task is a unit of deferred work.
type Task func()

// Pool runs tasks on a fixed number of worker goroutines with a bounded
// queue in front. A full queue pushes execution back into the caller
// instead of dropping the task, so slow downstream work throttles the
// producer rather than losing submissions.
//
// All methods are safe for concurrent use.
type Pool struct {
	workerCount int
	tasks       chan Task
	ctx         context.Context
	wg          sync.WaitGroup
	inlineRuns  int64
	logger      zerolog.Logger
}

// NewPool sizes the pool. workerCount bounds concurrent tasks; queueSize
// bounds tasks waiting for a worker.
func NewPool(workerCount, queueSize int, logger zerolog.Logger) *Pool {
	return &Pool{
		workerCount: workerCount,
		tasks:       make(chan Task, queueSize),
		logger:      logger,
	}
}

// Start launches the workers. Must be called once, before Submit. Workers
// exit when the context ends or when Stop drains the queue.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		case <-p.ctx.Done():
			p.logger.Debug().Msg("Worker shutting down")
			return
		}
	}
}

// run executes one task, catching panics so a bad task cannot take down
// the worker or the submitting goroutine.
func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			panicsRecovered.Inc()
			logging.LogErrorWithStack(p.logger, fmt.Errorf("panic: %v", r), "Task panic recovered", nil)
		}
	}()
	task()
}

// Submit hands a task to the pool. When the queue is full the task runs
// inline in the calling goroutine, blocking the caller until it finishes.
// Submit after Stop panics.
func (p *Pool) Submit(task Task) {
	tasksSubmitted.Inc()
	select {
	case p.tasks <- task:
	default:
		tasksInline.Inc()
		atomic.AddInt64(&p.inlineRuns, 1)
		p.run(task)
	}
}

// Stop closes the queue and waits for the workers to finish what remains.
func (p *Pool) Stop() {
	close(p.tasks)
	p.wg.Wait()
}

// InlineRuns returns how many tasks ran in the caller because the queue
// was full. A climbing number means the pool is undersized for the load.
func (p *Pool) InlineRuns() int64 {
	return atomic.LoadInt64(&p.inlineRuns)
}

// QueueDepth returns the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int { return len(p.tasks) }
