package discovery

import (
	"context"
	"sync"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

// Task is one unit of scan work.
type Task func(ctx context.Context)

// WorkerGroup bounds how many discovery pipelines run at once. The
// budget is instances × poolSize; queued tasks beyond the buffer are
// rejected so a flood of start requests cannot pile up unboundedly.
type WorkerGroup struct {
	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerGroup starts workers goroutines consuming the task queue.
func NewWorkerGroup(workers int) *WorkerGroup {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &WorkerGroup{
		tasks:  make(chan Task, workers*4),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		g.wg.Add(1)
		go g.run(i)
	}
	return g
}

func (g *WorkerGroup) run(id int) {
	defer g.wg.Done()
	for {
		select {
		case <-g.ctx.Done():
			return
		case task, ok := <-g.tasks:
			if !ok {
				return
			}
			task(g.ctx)
		}
	}
}

// Submit queues a task. It fails fast when the queue is full rather
// than blocking the caller.
func (g *WorkerGroup) Submit(task Task) error {
	select {
	case <-g.ctx.Done():
		return util.Internalf("worker group stopped")
	case g.tasks <- task:
		return nil
	default:
		return util.Internalf("discovery queue full")
	}
}

// Stop cancels running tasks and waits for the workers to exit.
func (g *WorkerGroup) Stop() {
	g.cancel()
	g.wg.Wait()
}
