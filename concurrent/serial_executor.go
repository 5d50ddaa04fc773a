/**
 * Copyright (c) 2019, The Selene Authors.
 *
 * Permission to use, copy, modify, and/or distribute this software for any
 * purpose with or without fee is hereby granted, provided that the above
 * copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES
 * WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF
 * MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR
 * ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES
 * WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN
 * ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF
 * OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package concurrent

import (
	"sync"
)

// SerialExecutor runs submitted tasks one at a time, in submission order, on a single dedicated
// goroutine. The cache uses it as its one logical thread of notification delivery: a flush task
// submitted while another is running never re-enters it.
type SerialExecutor struct {
	mu       sync.Mutex
	tasks    queue
	shutdown bool

	// wake (capacity 1) nudges the run loop when tasks arrive.
	wake       chan struct{}
	terminated chan struct{}
}

var _ Executor = (*SerialExecutor)(nil)

// NewSerialExecutor creates a SerialExecutor and starts its run loop.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		wake:       make(chan struct{}, 1),
		terminated: make(chan struct{}),
	}
	go e.run()
	return e
}

// Submit implements Executor.
func (e *SerialExecutor) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return ErrExecutorShutdown
	}
	e.tasks.push(task)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Shutdown implements Executor.
func (e *SerialExecutor) Shutdown() <-chan struct{} {
	e.mu.Lock()
	alreadyRequested := e.shutdown
	e.shutdown = true
	e.mu.Unlock()

	if !alreadyRequested {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
	return e.terminated
}

func (e *SerialExecutor) run() {
	for {
		e.mu.Lock()
		if e.tasks.empty() {
			if e.shutdown {
				e.mu.Unlock()
				close(e.terminated)
				return
			}
			e.mu.Unlock()
			<-e.wake
			continue
		}
		task, _ := e.tasks.pop()
		e.mu.Unlock()

		task.Run()
	}
}
