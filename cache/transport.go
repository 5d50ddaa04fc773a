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
	"context"
)

// A Request is the remote-only portion of an operation handed to the transport collaborator. The
// variables include values bound by @export fields that the remote subtree references.
type Request struct {
	// Query is the printed remote-only document.
	Query string

	// OperationName is the operation name, or "" for anonymous operations.
	OperationName string

	// Variables are the operation's variable values, including exported ones.
	Variables map[string]interface{}
}

// A Response is the transport collaborator's answer: a (possibly partial) result payload plus any
// response-level errors. Network-level failures are returned as the error from Execute instead.
type Response struct {
	Data   map[string]interface{}
	Errors Errors
}

// Transport is the external collaborator that executes the remote-only subtree of an operation.
// The cache owns no wire format; implementations typically wrap an HTTP or websocket client.
type Transport interface {
	Execute(ctx context.Context, request *Request) (*Response, error)
}

// The TransportFunc type is an adapter to allow the use of ordinary functions as a Transport.
type TransportFunc func(ctx context.Context, request *Request) (*Response, error)

var _ Transport = (TransportFunc)(nil)

// Execute implements Transport. It calls f(ctx, request).
func (f TransportFunc) Execute(ctx context.Context, request *Request) (*Response, error) {
	return f(ctx, request)
}
