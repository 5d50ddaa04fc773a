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

package concurrent_test

import (
	"sync"
	"sync/atomic"

	"github.com/botobag/selene/concurrent"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("SerialExecutor", func() {
	var executor *concurrent.SerialExecutor

	BeforeEach(func() {
		executor = concurrent.NewSerialExecutor()
	})

	AfterEach(func() {
		Eventually(executor.Shutdown()).Should(BeClosed())
	})

	It("runs submitted tasks", func() {
		done := make(chan struct{})
		Expect(executor.Submit(concurrent.TaskFunc(func() {
			close(done)
		}))).Should(Succeed())
		Eventually(done).Should(BeClosed())
	})

	It("runs tasks one at a time in submission order", func() {
		const numTasks = 100

		var (
			mu          sync.Mutex
			order       []int
			running     int32
			overlapping int32
		)
		for i := 0; i < numTasks; i++ {
			i := i
			Expect(executor.Submit(concurrent.TaskFunc(func() {
				if atomic.AddInt32(&running, 1) != 1 {
					atomic.AddInt32(&overlapping, 1)
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				atomic.AddInt32(&running, -1)
			}))).Should(Succeed())
		}

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(order)
		}).Should(Equal(numTasks))

		Expect(atomic.LoadInt32(&overlapping)).Should(BeZero())

		mu.Lock()
		defer mu.Unlock()
		for i, taskID := range order {
			Expect(taskID).Should(Equal(i))
		}
	})

	It("accepts submissions made from a running task", func() {
		done := make(chan struct{})
		Expect(executor.Submit(concurrent.TaskFunc(func() {
			Expect(executor.Submit(concurrent.TaskFunc(func() {
				close(done)
			}))).Should(Succeed())
		}))).Should(Succeed())
		Eventually(done).Should(BeClosed())
	})

	It("rejects nil tasks", func() {
		Expect(executor.Submit(nil)).Should(MatchError(concurrent.ErrNilTask))
	})

	It("drains queued tasks before shutting down", func() {
		var ran int32
		for i := 0; i < 10; i++ {
			Expect(executor.Submit(concurrent.TaskFunc(func() {
				atomic.AddInt32(&ran, 1)
			}))).Should(Succeed())
		}

		Eventually(executor.Shutdown()).Should(BeClosed())
		Expect(atomic.LoadInt32(&ran)).Should(Equal(int32(10)))
	})

	It("rejects submissions after shutdown", func() {
		Eventually(executor.Shutdown()).Should(BeClosed())
		Expect(executor.Submit(concurrent.TaskFunc(func() {}))).
			Should(MatchError(concurrent.ErrExecutorShutdown))
	})
})
