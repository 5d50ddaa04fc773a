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

// Package concurrent provides the task execution primitives the cache uses to deliver
// notifications off the writer's call stack.
package concurrent

import (
	"errors"
)

// Task represents an instance that can be executed by an Executor.
type Task interface {
	// Run performs actions to complete a Task.
	Run()
}

// The TaskFunc type is an adapter to allow the use of ordinary functions as a Task.
type TaskFunc func()

// TaskFunc implements Task.
var _ Task = (TaskFunc)(nil)

// Run implements Task. It calls f().
func (f TaskFunc) Run() {
	f()
}

// ErrExecutorShutdown is returned by Submit after Shutdown has been requested.
var ErrExecutorShutdown = errors.New("executor: shut down")

// Executor provides interfaces to manage and to execute tasks.
type Executor interface {
	// Submit arranges a task for execution. The actual execution may occur sometime later.
	Submit(task Task) error

	// Shutdown shuts down the executor. Previously submitted tasks are executed but no new tasks
	// will be accepted. It is a no-op if the executor has already shut down. The returned channel
	// is closed when all remaining tasks have completed.
	Shutdown() (terminated <-chan struct{})
}
