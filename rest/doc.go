// Package rest provides an HTTP client and server built on top of the
// turbo router, with built-in support for common auth schemes, codecs,
// and retry/circuit-breaker policies from the clients package.
package rest

import "github.com/trailcast/orchestrator/l3"

var logger = l3.Get()
