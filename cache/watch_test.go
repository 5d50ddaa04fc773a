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
	"strings"
	"sync/atomic"

	"github.com/botobag/selene/cache"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Watched operations", func() {
	const productQuery = `query { product(id: "1") { __typename id name } }`

	var c *cache.Cache

	writeName := func(name string) {
		mustWriteQuery(c, productQuery, nil, map[string]interface{}{
			"product": map[string]interface{}{
				"__typename": "Product",
				"id":         "1",
				"name":       name,
			},
		})
	}

	BeforeEach(func() {
		c = newTestCache(cache.Config{})
		writeName("Espresso Machine")
	})

	AfterEach(func() {
		c.Close()
	})

	It("returns the current result synchronously on subscribe", func() {
		sub, result, err := c.Watch(context.Background(), productQuery, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer sub.Unsubscribe()

		Expect(result.Complete).Should(BeTrue())
		Expect(result.Data).Should(HaveKeyWithValue("product",
			HaveKeyWithValue("name", "Espresso Machine")))
	})

	It("delivers a new result when a dependency changes", func() {
		sub, _, err := c.Watch(context.Background(), productQuery, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer sub.Unsubscribe()

		writeName("Espresso Machine II")

		var result *cache.Result
		Eventually(sub.Updates()).Should(Receive(&result))
		Expect(result.Data).Should(HaveKeyWithValue("product",
			HaveKeyWithValue("name", "Espresso Machine II")))
	})

	It("stays quiet for writes that touch none of its dependencies", func() {
		sub, _, err := c.Watch(context.Background(), productQuery, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer sub.Unsubscribe()

		mustWriteQuery(c, `query { product(id: "2") { __typename id name } }`, nil,
			map[string]interface{}{
				"product": map[string]interface{}{
					"__typename": "Product", "id": "2", "name": "Grinder",
				},
			})

		Consistently(sub.Updates()).ShouldNot(Receive())
	})

	It("skips deliveries whose result is value-equal to the previous one", func() {
		sub, _, err := c.Watch(context.Background(), productQuery, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer sub.Unsubscribe()

		// Same value again: the store skips the write entirely, so no dependency fires.
		writeName("Espresso Machine")
		Consistently(sub.Updates()).ShouldNot(Receive())
	})

	It("coalesces a batch of writes into one delivery", func() {
		sub, _, err := c.Watch(context.Background(), productQuery, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer sub.Unsubscribe()

		c.Batch(func() {
			writeName("Intermediate")
			writeName("Final")
		})

		var result *cache.Result
		Eventually(sub.Updates()).Should(Receive(&result))
		Expect(result.Data).Should(HaveKeyWithValue("product",
			HaveKeyWithValue("name", "Final")))

		// The intermediate state never surfaces.
		Consistently(sub.Updates()).ShouldNot(Receive())
	})

	It("re-delivers once per operation when several operations share a dependency", func() {
		first, _, err := c.Watch(context.Background(), productQuery, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer first.Unsubscribe()

		second, _, err := c.Watch(context.Background(),
			`query { product(id: "1") { name } }`, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer second.Unsubscribe()

		// Two writes in the same turn still coalesce to one delivery each.
		c.Batch(func() {
			writeName("Espresso Machine II")
			writeName("Espresso Machine III")
		})

		var result *cache.Result
		Eventually(first.Updates()).Should(Receive(&result))
		Expect(result.Data).Should(HaveKeyWithValue("product",
			HaveKeyWithValue("name", "Espresso Machine III")))
		Eventually(second.Updates()).Should(Receive(&result))
		Expect(result.Data).Should(HaveKeyWithValue("product",
			HaveKeyWithValue("name", "Espresso Machine III")))

		Consistently(first.Updates()).ShouldNot(Receive())
		Consistently(second.Updates()).ShouldNot(Receive())
	})

	It("reuses the cached result without re-running read functions while deps are unchanged", func() {
		var reads int32
		counted := newTestCache(cache.Config{
			TypePolicies: map[string]cache.TypePolicy{
				"Query": {
					Fields: map[string]cache.FieldPolicy{
						"computed": {
							Read: func(existing interface{}, ctx *cache.ReadContext) (interface{}, error) {
								atomic.AddInt32(&reads, 1)
								return "value", nil
							},
						},
					},
				},
			},
		})
		defer counted.Close()

		sub, _, err := counted.Watch(context.Background(), `query { computed @client }`, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer sub.Unsubscribe()
		Expect(atomic.LoadInt32(&reads)).Should(Equal(int32(1)))

		// A write the operation does not depend on leaves the cached result untouched.
		mustWriteQuery(counted, `query { unrelated @client }`, nil,
			map[string]interface{}{"unrelated": true})

		Consistently(sub.Updates()).ShouldNot(Receive())
		Expect(atomic.LoadInt32(&reads)).Should(Equal(int32(1)))
	})

	It("closes the update channel on unsubscribe", func() {
		sub, _, err := c.Watch(context.Background(), productQuery, nil)
		Expect(err).ShouldNot(HaveOccurred())

		sub.Unsubscribe()
		Eventually(sub.Updates()).Should(BeClosed())

		// Writes after unsubscribe go nowhere.
		writeName("Espresso Machine III")
	})

	It("assigns each subscription a distinct id", func() {
		first, _, err := c.Watch(context.Background(), productQuery, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer first.Unsubscribe()

		second, _, err := c.Watch(context.Background(), productQuery, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer second.Unsubscribe()

		Expect(first.ID()).ShouldNot(Equal(second.ID()))
	})

	Describe("per-watch policy overrides", func() {
		const displayNameQuery = `query { product(id: "1") { displayName @client } }`

		var oc *cache.Cache

		BeforeEach(func() {
			oc = newTestCache(cache.Config{
				TypePolicies: map[string]cache.TypePolicy{
					"Product": {
						Fields: map[string]cache.FieldPolicy{
							"displayName": {
								Read: func(existing interface{}, ctx *cache.ReadContext) (interface{}, error) {
									return ctx.ReadField("name", nil)
								},
							},
						},
					},
				},
			})
			mustWriteQuery(oc, productQuery, nil, map[string]interface{}{
				"product": map[string]interface{}{
					"__typename": "Product", "id": "1", "name": "Espresso Machine",
				},
			})
		})

		AfterEach(func() {
			oc.Close()
		})

		It("shadows the cache-level registry for that operation only", func() {
			shouting := cache.WatchOptions{
				TypePolicies: map[string]cache.TypePolicy{
					"Product": {
						Fields: map[string]cache.FieldPolicy{
							"displayName": {
								Read: func(existing interface{}, ctx *cache.ReadContext) (interface{}, error) {
									name, err := ctx.ReadField("name", nil)
									if err != nil {
										return nil, err
									}
									return strings.ToUpper(name.(string)), nil
								},
							},
						},
					},
				},
			}

			sub, result, err := oc.Watch(context.Background(), displayNameQuery, nil, shouting)
			Expect(err).ShouldNot(HaveOccurred())
			defer sub.Unsubscribe()

			Expect(result.Data).Should(HaveKeyWithValue("product",
				HaveKeyWithValue("displayName", "ESPRESSO MACHINE")))

			// The registry itself is untouched: a plain read still uses the registered policy.
			Expect(mustReadQuery(oc, displayNameQuery, nil)).Should(HaveKeyWithValue("product",
				HaveKeyWithValue("displayName", "Espresso Machine")))

			// Dependency tracking runs through the override too.
			mustWriteQuery(oc, productQuery, nil, map[string]interface{}{
				"product": map[string]interface{}{
					"__typename": "Product", "id": "1", "name": "Grinder",
				},
			})

			var update *cache.Result
			Eventually(sub.Updates()).Should(Receive(&update))
			Expect(update.Data).Should(HaveKeyWithValue("product",
				HaveKeyWithValue("displayName", "GRINDER")))
		})
	})

	Describe("reactive variables", func() {
		var (
			rc    *cache.Cache
			theme *cache.ReactiveVariable
		)

		BeforeEach(func() {
			// The policy closes over the variable, which is created right after the cache.
			rc = newTestCache(cache.Config{
				TypePolicies: map[string]cache.TypePolicy{
					"Query": {
						Fields: map[string]cache.FieldPolicy{
							"theme": {
								Read: func(existing interface{}, ctx *cache.ReadContext) (interface{}, error) {
									return ctx.ReactiveValue(theme), nil
								},
							},
						},
					},
				},
			})
			theme = rc.NewReactiveVariable("light")
		})

		AfterEach(func() {
			rc.Close()
		})

		It("reads and updates outside of any operation", func() {
			Expect(theme.Value()).Should(Equal("light"))
			theme.Set("dark")
			Expect(theme.Value()).Should(Equal("dark"))
		})

		It("re-evaluates operations that read the variable through a policy", func() {
			sub, result, err := rc.Watch(context.Background(), `query { theme @client }`, nil)
			Expect(err).ShouldNot(HaveOccurred())
			defer sub.Unsubscribe()

			Expect(result.Data).Should(HaveKeyWithValue("theme", "light"))

			theme.Set("dark")

			var update *cache.Result
			Eventually(sub.Updates()).Should(Receive(&update))
			Expect(update.Data).Should(HaveKeyWithValue("theme", "dark"))
		})

		It("ignores sets that do not change the value", func() {
			sub, _, err := rc.Watch(context.Background(), `query { theme @client }`, nil)
			Expect(err).ShouldNot(HaveOccurred())
			defer sub.Unsubscribe()

			theme.Set("light")
			Consistently(sub.Updates()).ShouldNot(Receive())
		})

		It("only wakes operations that actually read the variable", func() {
			mustWriteQuery(rc, `query { staticField @client }`, nil,
				map[string]interface{}{"staticField": "s"})

			sub, _, err := rc.Watch(context.Background(), `query { staticField @client }`, nil)
			Expect(err).ShouldNot(HaveOccurred())
			defer sub.Unsubscribe()

			theme.Set("dark")
			Consistently(sub.Updates()).ShouldNot(Receive())
		})
	})

	Describe("@export in watched operations", func() {
		It("re-evaluates when the exporting field changes", func() {
			mustWriteQuery(c, `query { currentUserId @client }`, nil,
				map[string]interface{}{"currentUserId": "u1"})
			mustWriteQuery(c, `query ($id: ID!) { user(id: $id) { __typename id name } }`,
				map[string]interface{}{"id": "u1"},
				map[string]interface{}{
					"user": map[string]interface{}{"__typename": "User", "id": "u1", "name": "Ada"},
				})
			mustWriteQuery(c, `query ($id: ID!) { user(id: $id) { __typename id name } }`,
				map[string]interface{}{"id": "u2"},
				map[string]interface{}{
					"user": map[string]interface{}{"__typename": "User", "id": "u2", "name": "Grace"},
				})

			sub, result, err := c.Watch(context.Background(), `
				query ($id: ID!) {
					currentUserId @client @export(as: "id")
					user(id: $id) { name }
				}`, nil)
			Expect(err).ShouldNot(HaveOccurred())
			defer sub.Unsubscribe()

			Expect(result.Data).Should(HaveKeyWithValue("user",
				map[string]interface{}{"name": "Ada"}))

			// Pointing the exported id at another user re-resolves the dependent field.
			mustWriteQuery(c, `query { currentUserId @client }`, nil,
				map[string]interface{}{"currentUserId": "u2"})

			var update *cache.Result
			Eventually(sub.Updates()).Should(Receive(&update))
			Expect(update.Data).Should(HaveKeyWithValue("user",
				map[string]interface{}{"name": "Grace"}))
		})
	})
})
