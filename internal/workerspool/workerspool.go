// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs tasks on a bounded number of goroutines. It is used to decode
// the images of a batch in parallel.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool limits the number of tasks running in parallel. It can be shared by many callers.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time: 0 runs tasks inline and
	// negative values mean unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning is decreased.
	numRunning int
}

// New returns a new Pool with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{maxParallelism: runtime.NumCPU()}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// MaxParallelism returns the limit of tasks running at the same time.
// 0 means tasks run inline, and a negative value means it is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the limit of tasks running at the same time. It should only be changed
// before any task is started.
//
// It returns the Pool, so calls can be cascaded.
func (w *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	w.maxParallelism = maxParallelism
	return w
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedIsFull() bool {
	return w.maxParallelism >= 0 && w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available and starts the task in a goroutine.
// If parallelism is disabled (maxParallelism is 0), it runs the task inline.
//
// It's up to the caller to synchronize the end of the task.
func (w *Pool) WaitToStart(task func()) {
	switch {
	case w.maxParallelism < 0:
		go task()
		return
	case w.maxParallelism == 0:
		task()
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// ForEach runs task(i) for i in [0, n) and waits for all of them to finish.
//
// It returns the error of the lowest index that failed, or nil.
func (w *Pool) ForEach(n int, task func(i int) error) error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			errs[i] = task(i)
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
