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
	"errors"

	"github.com/botobag/selene/cache"
	"github.com/botobag/selene/internal/testutil"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Field policies", func() {
	Describe("merge functions", func() {
		It("combines incoming values with the stored value", func() {
			c := newTestCache(cache.Config{
				TypePolicies: map[string]cache.TypePolicy{
					"Query": {
						Fields: map[string]cache.FieldPolicy{
							"cartTotal": {
								Merge: func(existing, incoming interface{}, ctx *cache.MergeContext) (interface{}, error) {
									sum := incoming.(int)
									if ctx.Exists {
										sum += existing.(int)
									}
									return sum, nil
								},
							},
						},
					},
				},
			})
			defer c.Close()

			const query = `query { cartTotal }`
			mustWriteQuery(c, query, nil, map[string]interface{}{"cartTotal": 5})
			mustWriteQuery(c, query, nil, map[string]interface{}{"cartTotal": 3})

			Expect(mustReadQuery(c, query, nil)).Should(Equal(map[string]interface{}{
				"cartTotal": 8,
			}))
		})

		It("scopes a merge failure to the failing field, keeping sibling writes", func() {
			c := newTestCache(cache.Config{
				TypePolicies: map[string]cache.TypePolicy{
					"Query": {
						Fields: map[string]cache.FieldPolicy{
							"rejected": {
								Merge: func(existing, incoming interface{}, ctx *cache.MergeContext) (interface{}, error) {
									return nil, errors.New("not today")
								},
							},
						},
					},
				},
			})
			defer c.Close()

			errs := c.WriteQuery(`query { accepted rejected }`, nil, map[string]interface{}{
				"accepted": "yes",
				"rejected": "no",
			})
			Expect(errs.Errors).Should(ConsistOf(testutil.MatchCacheError(
				testutil.KindIs(cache.ErrKindPolicy),
			)))

			value, err := c.ReadField(cache.RootQueryKey, "accepted", nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(value).Should(Equal("yes"))

			_, err = c.ReadField(cache.RootQueryKey, "rejected", nil)
			Expect(cache.IsMissingFieldError(err)).Should(BeTrue())
		})

		It("contains a panicking merge function as a policy error", func() {
			c := newTestCache(cache.Config{
				TypePolicies: map[string]cache.TypePolicy{
					"Query": {
						Fields: map[string]cache.FieldPolicy{
							"volatile": {
								Merge: func(existing, incoming interface{}, ctx *cache.MergeContext) (interface{}, error) {
									panic("boom")
								},
							},
						},
					},
				},
			})
			defer c.Close()

			errs := c.WriteQuery(`query { volatile }`, nil, map[string]interface{}{"volatile": 1})
			Expect(errs.Errors).Should(ConsistOf(testutil.MatchCacheError(
				testutil.KindIs(cache.ErrKindPolicy),
			)))
			Expect(errs.Errors[0].Error()).Should(ContainSubstring("panicked"))
		})
	})

	Describe("read functions", func() {
		It("derives the field value from sibling fields", func() {
			c := newTestCache(cache.Config{
				TypePolicies: map[string]cache.TypePolicy{
					"Product": {
						Fields: map[string]cache.FieldPolicy{
							"displayName": {
								Read: func(existing interface{}, ctx *cache.ReadContext) (interface{}, error) {
									name, err := ctx.ReadField("name", nil)
									if err != nil {
										return nil, err
									}
									brand, err := ctx.ReadField("brand", nil)
									if err != nil {
										return nil, err
									}
									return brand.(string) + " " + name.(string), nil
								},
							},
						},
					},
				},
			})
			defer c.Close()

			mustWriteQuery(c, `
				query {
					product(id: "1") {
						__typename
						id
						name
						brand
					}
				}`,
				nil,
				map[string]interface{}{
					"product": map[string]interface{}{
						"__typename": "Product",
						"id":         "1",
						"name":       "Espresso Machine",
						"brand":      "Selene",
					},
				})

			value, err := c.ReadField("Product:1", "displayName", nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(value).Should(Equal("Selene Espresso Machine"))
		})

		It("runs for fields that have no stored value", func() {
			c := newTestCache(cache.Config{
				TypePolicies: map[string]cache.TypePolicy{
					"Query": {
						Fields: map[string]cache.FieldPolicy{
							"theme": {
								Read: func(existing interface{}, ctx *cache.ReadContext) (interface{}, error) {
									if !ctx.Exists {
										return "light", nil
									}
									return existing, nil
								},
							},
						},
					},
				},
			})
			defer c.Close()

			Expect(mustReadQuery(c, `query { theme @client }`, nil)).Should(Equal(
				map[string]interface{}{"theme": "light"}))

			_, err := c.WriteField(cache.RootQueryKey, "theme", nil, "dark")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(mustReadQuery(c, `query { theme @client }`, nil)).Should(Equal(
				map[string]interface{}{"theme": "dark"}))
		})
	})

	Describe("key arguments", func() {
		It("collapses argument combinations that agree on the key arguments", func() {
			c := newTestCache(cache.Config{
				TypePolicies: map[string]cache.TypePolicy{
					"Query": {
						Fields: map[string]cache.FieldPolicy{
							// The auth token does not participate in storage identity.
							"orders": {KeyArgs: []string{"category"}},
						},
					},
				},
			})
			defer c.Close()

			mustWriteQuery(c,
				`query ($token: String) { orders(category: "open", token: $token) }`,
				map[string]interface{}{"token": "first-session"},
				map[string]interface{}{"orders": []interface{}{"o1", "o2"}})

			// A different token reads back the same slot.
			data := mustReadQuery(c,
				`query ($token: String) { orders(category: "open", token: $token) }`,
				map[string]interface{}{"token": "second-session"})
			Expect(data).Should(Equal(map[string]interface{}{
				"orders": []interface{}{"o1", "o2"},
			}))
		})
	})

	Describe("pagination presets", func() {
		It("concatenates pages with ConcatPagination", func() {
			c := newTestCache(cache.Config{
				TypePolicies: map[string]cache.TypePolicy{
					"Query": {
						Fields: map[string]cache.FieldPolicy{
							"feed": cache.ConcatPagination(),
						},
					},
				},
			})
			defer c.Close()

			page := `query ($cursor: String) { feed(cursor: $cursor) }`
			mustWriteQuery(c, page,
				map[string]interface{}{"cursor": nil},
				map[string]interface{}{"feed": []interface{}{"a", "b"}})
			mustWriteQuery(c, page,
				map[string]interface{}{"cursor": "b"},
				map[string]interface{}{"feed": []interface{}{"c"}})

			value, err := c.ReadField(cache.RootQueryKey, "feed", nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(value).Should(Equal([]interface{}{"a", "b", "c"}))
		})

		It("windows reads with OffsetLimitPagination", func() {
			c := newTestCache(cache.Config{
				TypePolicies: map[string]cache.TypePolicy{
					"Query": {
						Fields: map[string]cache.FieldPolicy{
							"items": cache.OffsetLimitPagination(),
						},
					},
				},
			})
			defer c.Close()

			page := `query ($offset: Int, $limit: Int) { items(offset: $offset, limit: $limit) }`
			mustWriteQuery(c, page,
				map[string]interface{}{"offset": 0, "limit": 2},
				map[string]interface{}{"items": []interface{}{"a", "b"}})
			mustWriteQuery(c, page,
				map[string]interface{}{"offset": 2, "limit": 2},
				map[string]interface{}{"items": []interface{}{"c", "d"}})

			// Reading a window selects from the accumulated list.
			data := mustReadQuery(c, page, map[string]interface{}{"offset": 1, "limit": 2})
			Expect(data).Should(Equal(map[string]interface{}{
				"items": []interface{}{"b", "c"},
			}))

			// Overwriting in the middle keeps surrounding positions.
			mustWriteQuery(c, page,
				map[string]interface{}{"offset": 1, "limit": 2},
				map[string]interface{}{"items": []interface{}{"B", "C"}})
			data = mustReadQuery(c, page, map[string]interface{}{"offset": 0, "limit": 4})
			Expect(data).Should(Equal(map[string]interface{}{
				"items": []interface{}{"a", "B", "C", "d"},
			}))
		})
	})
})
