package graph

import (
	"runtime"
	"sync"
)

// Task is a handle for one submitted unit of work. Wait blocks until the task
// has run to completion; there is no mid-task cancellation.
type Task struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Pool executes independent tasks on a fixed number of workers. Submission
// never blocks the caller beyond queueing; a caller waiting on a task is
// committed to its completion.
type Pool struct {
	tasks chan *poolItem
	wg    sync.WaitGroup

	closeOnce sync.Once
}

type poolItem struct {
	fn   func() error
	task *Task
}

// NewPool creates a pool with the given number of workers. A non-positive
// count falls back to runtime.NumCPU.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{tasks: make(chan *poolItem, workers*4)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for item := range p.tasks {
		item.task.err = item.fn()
		close(item.task.done)
	}
}

// Submit queues fn for execution and returns a waitable handle.
func (p *Pool) Submit(fn func() error) *Task {
	t := &Task{done: make(chan struct{})}
	p.tasks <- &poolItem{fn: fn, task: t}
	return t
}

// Close stops accepting work and waits for in-flight tasks to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
}

// Group collects tasks submitted to one pool so a caller can wait for all of
// them together. Wait returns the first error but only after every task has
// finished, so no partial results are ever exposed to a waiting caller.
type Group struct {
	pool  *Pool
	tasks []*Task
}

// NewGroup creates an empty group bound to the pool.
func (p *Pool) NewGroup() *Group {
	return &Group{pool: p}
}

// Go submits fn to the pool and tracks it in the group.
func (g *Group) Go(fn func() error) {
	g.tasks = append(g.tasks, g.pool.Submit(fn))
}

// Wait blocks until every task in the group has completed and returns the
// first error encountered, in submission order.
func (g *Group) Wait() error {
	var first error
	for _, t := range g.tasks {
		if err := t.Wait(); err != nil && first == nil {
			first = err
		}
	}
	g.tasks = nil
	return first
}
