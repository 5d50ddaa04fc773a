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

import (
	"log"
	"os"
)

// defaultPlanCacheSize bounds the plan LRU when the configuration leaves PlanCacheSize unset.
const defaultPlanCacheSize = 64

// Config specifies:
//
//  1. The type policies governing entity identification and field read/merge behavior;
//  2. The transport collaborator for remote fields;
//  3. Various knobs for diagnostics and caching.
type Config struct {
	// (Optional) TypePolicies maps typenames to their policies. Types without a policy use the
	// default key fields and raw storage passthrough.
	TypePolicies map[string]TypePolicy

	// (Optional) Transport executes the remote-only subtree of operations. When nil, operations
	// with remote fields resolve from cached data only and report missing fields.
	Transport Transport

	// (Optional) Logger receives diagnostics for surfaced-but-tolerated conditions
	// (identification conflicts, export conflicts). Defaults to the standard logger.
	Logger *log.Logger

	// (Optional) PlanCacheSize bounds the number of prepared operation documents kept to avoid
	// re-parsing. Default is 64.
	PlanCacheSize uint

	// (Optional) DisableResultComparison delivers every re-evaluation to watchers, including ones
	// whose result is value-equal to the previous delivery.
	DisableResultComparison bool
}

func (config *Config) logger() *log.Logger {
	if config.Logger != nil {
		return config.Logger
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

func (config *Config) planCacheSize() uint {
	if config.PlanCacheSize == 0 {
		return defaultPlanCacheSize
	}
	return config.PlanCacheSize
}
