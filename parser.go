// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

// ResponseParser decodes slave -> master replies. It embeds a FrameEngine
// configured with the response-side dispatch tables and exposes the same
// read-only accessors (spec.md §2 "Role facade").
type ResponseParser struct {
	*FrameEngine
}

// NewResponseParser allocates a ResponseParser with the given
// configuration. A zero Config accepts any slave address.
func NewResponseParser(cfg Config) *ResponseParser {
	return &ResponseParser{FrameEngine: NewFrameEngine(RoleResponse, cfg)}
}

// RequestParser decodes master -> slave requests. It embeds a FrameEngine
// configured with the request-side dispatch tables.
type RequestParser struct {
	*FrameEngine
}

// NewRequestParser allocates a RequestParser with the given configuration.
func NewRequestParser(cfg Config) *RequestParser {
	return &RequestParser{FrameEngine: NewFrameEngine(RoleRequest, cfg)}
}
