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
	"errors"
)

// ErrNilTask is returned by Submit when the given task is nil.
var ErrNilTask = errors.New("executor: task must not be nil")

// queueChunkSize bounds the amount of memory held onto after a burst of tasks drains.
const queueChunkSize = 64

type queueChunk struct {
	tasks [queueChunkSize]Task
	head  int
	tail  int
	next  *queueChunk
}

// queue is an unbounded FIFO of tasks built from fixed-size chunks. It is not safe for concurrent
// use; callers hold a lock.
type queue struct {
	first *queueChunk
	last  *queueChunk
}

func (q *queue) push(task Task) {
	if q.last == nil || q.last.tail == queueChunkSize {
		chunk := &queueChunk{}
		if q.last == nil {
			q.first = chunk
		} else {
			q.last.next = chunk
		}
		q.last = chunk
	}
	q.last.tasks[q.last.tail] = task
	q.last.tail++
}

func (q *queue) pop() (Task, bool) {
	chunk := q.first
	if chunk == nil || chunk.head == chunk.tail {
		return nil, false
	}

	task := chunk.tasks[chunk.head]
	chunk.tasks[chunk.head] = nil
	chunk.head++

	if chunk.head == queueChunkSize {
		q.first = chunk.next
		if q.first == nil {
			q.last = nil
		}
	}
	return task, true
}

func (q *queue) empty() bool {
	return q.first == nil || q.first.head == q.first.tail
}
