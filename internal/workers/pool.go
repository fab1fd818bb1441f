package workers

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Pool runs background tasks with bounded concurrency.
type Pool struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// Task is a handle on a submitted unit of work.
type Task struct {
	Name string
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

func New(size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{slots: make(chan struct{}, size), logger: logger.Named("workers")}
}

// Submit schedules fn once a slot is free. If ctx ends first the task
// completes immediately with ctx's error and fn never runs. A panic in fn
// is recovered and reported as the task's error.
func (p *Pool) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) *Task {
	t := &Task{Name: name, done: make(chan struct{})}
	if err := ctx.Err(); err != nil {
		t.err = err
		close(t.done)
		return t
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		t.err = ctx.Err()
		close(t.done)
		return t
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("task %s panicked: %v", name, r)
				p.logger.Error("workers.task_panicked",
					zap.String("task", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
			}
		}()
		t.err = fn(ctx)
	}()
	return t
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
