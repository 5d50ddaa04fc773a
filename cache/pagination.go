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

package cache

// Preset field policies for the common pagination accumulation patterns. They are ordinary
// FieldPolicy values; callers may further customize the returned policy before registering it.

// ConcatPagination returns a policy that appends each incoming page to the list accumulated so
// far. keyArgs selects the arguments that distinguish separate lists (e.g., a filter); the
// pagination cursor arguments must be left out of it so all pages land in the same storage slot.
func ConcatPagination(keyArgs ...string) FieldPolicy {
	if keyArgs == nil {
		// A nil KeyArgs means "all arguments", which would shard pages by cursor. No arguments
		// given means no key arguments.
		keyArgs = []string{}
	}
	return FieldPolicy{
		KeyArgs: keyArgs,
		Merge: func(existing, incoming interface{}, ctx *MergeContext) (interface{}, error) {
			incomingList, ok := incoming.([]interface{})
			if !ok {
				// Non-list pages (including null) replace wholesale.
				return incoming, nil
			}
			existingList, _ := existing.([]interface{})

			merged := make([]interface{}, 0, len(existingList)+len(incomingList))
			merged = append(merged, existingList...)
			merged = append(merged, incomingList...)
			return merged, nil
		},
	}
}

// OffsetLimitPagination returns a policy that writes each incoming page into the accumulated list
// at the position given by the "offset" argument and reads back a window selected by the "offset"
// and "limit" arguments (the whole list when they are absent).
func OffsetLimitPagination(keyArgs ...string) FieldPolicy {
	if keyArgs == nil {
		keyArgs = []string{}
	}
	return FieldPolicy{
		KeyArgs: keyArgs,
		Merge: func(existing, incoming interface{}, ctx *MergeContext) (interface{}, error) {
			incomingList, ok := incoming.([]interface{})
			if !ok {
				return incoming, nil
			}
			existingList, _ := existing.([]interface{})

			offset := intArg(ctx.Args, "offset", 0)
			size := offset + len(incomingList)
			if size < len(existingList) {
				size = len(existingList)
			}

			merged := make([]interface{}, size)
			copy(merged, existingList)
			copy(merged[offset:], incomingList)
			return merged, nil
		},
		Read: func(existing interface{}, ctx *ReadContext) (interface{}, error) {
			if !ctx.Exists {
				return nil, NewError("no pages stored", ErrKindMissingField)
			}
			list, ok := existing.([]interface{})
			if !ok {
				return existing, nil
			}

			offset := intArg(ctx.Args, "offset", 0)
			if offset > len(list) {
				offset = len(list)
			}
			end := len(list)
			if limit := intArg(ctx.Args, "limit", -1); limit >= 0 && offset+limit < end {
				end = offset + limit
			}
			return list[offset:end], nil
		},
	}
}

// intArg coerces a numeric argument. Argument values arriving from JSON decode as float64; values
// coerced from document literals arrive as int64.
func intArg(args map[string]interface{}, name string, fallback int) int {
	switch value := args[name].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	}
	return fallback
}
