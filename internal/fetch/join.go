package fetch

import (
	"context"
	"fmt"
	"sync"
)

// Group runs sibling tasks concurrently and waits for all of them to settle.
// Unlike errgroup it never cancels siblings on failure, so each caller
// decides per task whether an error is fatal or degrades to a default.
type Group struct {
	wg sync.WaitGroup
}

// Task is the typed result slot of one spawned function.
type Task[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Spawn starts fn in its own goroutine as part of g.
func Spawn[T any](ctx context.Context, g *Group, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		t.val, t.err = fn(ctx)
	}()
	return t
}

// Wait blocks until every task spawned in g has settled.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Result blocks until the task settles and returns its outcome.
func (t *Task[T]) Result() (T, error) {
	<-t.done
	return t.val, t.err
}

// Or returns the task value, or fallback if the task failed.
func (t *Task[T]) Or(fallback T) T {
	<-t.done
	if t.err != nil {
		return fallback
	}
	return t.val
}

// Err blocks until the task settles and returns its error.
func (t *Task[T]) Err() error {
	<-t.done
	return t.err
}
