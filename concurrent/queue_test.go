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
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("queue", func() {
	It("reports empty before any push and after the last pop", func() {
		var q queue
		Expect(q.empty()).Should(BeTrue())

		q.push(TaskFunc(func() {}))
		Expect(q.empty()).Should(BeFalse())

		_, ok := q.pop()
		Expect(ok).Should(BeTrue())
		Expect(q.empty()).Should(BeTrue())

		_, ok = q.pop()
		Expect(ok).Should(BeFalse())
	})

	It("preserves FIFO order across chunk boundaries", func() {
		var q queue
		var order []int

		numTasks := queueChunkSize*2 + 3
		for i := 0; i < numTasks; i++ {
			i := i
			q.push(TaskFunc(func() { order = append(order, i) }))
		}

		for !q.empty() {
			task, ok := q.pop()
			Expect(ok).Should(BeTrue())
			task.Run()
		}

		Expect(order).Should(HaveLen(numTasks))
		for i, got := range order {
			Expect(got).Should(Equal(i))
		}
	})
})
