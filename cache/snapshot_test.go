/**
 * Copyright (c) 2020, The Selene Authors.
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

package cache_test

import (
	"context"

	"github.com/botobag/selene/cache"
	"github.com/botobag/selene/internal/testutil"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Snapshots", func() {
	const productQuery = `query { product(id: "1") { __typename id name } }`

	var c *cache.Cache

	BeforeEach(func() {
		c = newTestCache(cache.Config{})
		mustWriteQuery(c, productQuery, nil, map[string]interface{}{
			"product": map[string]interface{}{
				"__typename": "Product",
				"id":         "1",
				"name":       "Espresso Machine",
			},
		})
	})

	AfterEach(func() {
		c.Close()
	})

	It("round-trips the store through Extract and Restore", func() {
		snapshot := c.Extract()

		restored := newTestCache(cache.Config{})
		defer restored.Close()
		restored.Restore(snapshot)

		Expect(mustReadQuery(restored, productQuery, nil)).Should(Equal(
			mustReadQuery(c, productQuery, nil)))
	})

	It("extracts a deep copy that later writes do not touch", func() {
		snapshot := c.Extract()

		mustWriteQuery(c, productQuery, nil, map[string]interface{}{
			"product": map[string]interface{}{
				"__typename": "Product", "id": "1", "name": "Grinder",
			},
		})

		restored := newTestCache(cache.Config{})
		defer restored.Close()
		restored.Restore(snapshot)

		Expect(mustReadQuery(restored, productQuery, nil)).Should(
			HaveKeyWithValue("product", HaveKeyWithValue("name", "Espresso Machine")))
	})

	It("serializes references in the wire format", func() {
		Expect(c.Extract()).Should(testutil.SerializeToJSONAs(`{
			"ROOT_QUERY": {
				"product({\"id\":\"1\"})": {"__ref": "Product:1"}
			},
			"Product:1": {
				"__typename": "Product",
				"id": "1",
				"name": "Espresso Machine"
			}
		}`))
	})

	It("parses serialized snapshots, rehydrating references", func() {
		data, err := c.Extract().MarshalJSON()
		Expect(err).ShouldNot(HaveOccurred())

		parsed, err := cache.ParseSnapshot(data)
		Expect(err).ShouldNot(HaveOccurred())

		restored := newTestCache(cache.Config{})
		defer restored.Close()
		restored.Restore(parsed)

		Expect(mustReadQuery(restored, productQuery, nil)).Should(
			HaveKeyWithValue("product", HaveKeyWithValue("name", "Espresso Machine")))
	})

	It("rejects malformed snapshot data", func() {
		_, err := cache.ParseSnapshot([]byte(`{"ROOT_QUERY": [`))
		Expect(err).Should(HaveOccurred())
		Expect(cache.KindOf(err)).Should(Equal(cache.ErrKindSnapshot))
	})

	It("invalidates watched operations on Restore", func() {
		sub, initial, err := c.Watch(context.Background(), productQuery, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer sub.Unsubscribe()
		Expect(initial.Complete).Should(BeTrue())

		other := newTestCache(cache.Config{})
		defer other.Close()
		mustWriteQuery(other, productQuery, nil, map[string]interface{}{
			"product": map[string]interface{}{
				"__typename": "Product", "id": "1", "name": "Grinder",
			},
		})

		c.Restore(other.Extract())

		var result *cache.Result
		Eventually(sub.Updates()).Should(Receive(&result))
		Expect(result.Data).Should(HaveKeyWithValue("product",
			HaveKeyWithValue("name", "Grinder")))
	})
})
