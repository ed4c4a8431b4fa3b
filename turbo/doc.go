// Package turbo implements a path-trie HTTP router with per-route filter
// chains and pluggable authentication.
package turbo

import "github.com/trailcast/orchestrator/l3"

var logger = l3.Get()
