// Package orchestrator is a batch job orchestration and data-collection
// platform for a weather/tourism recommendation service. It ingests data
// from external weather and tourism APIs, persists and prunes the raw
// responses, runs derivative jobs on a schedule, and exposes job control
// over HTTP and WebSocket.
//
// The core subsystems live in their own importable packages:
//
//	import "github.com/trailcast/orchestrator/jobmanager"   // job manager
//	import "github.com/trailcast/orchestrator/scheduler"    // worker pool
//	import "github.com/trailcast/orchestrator/keypool"      // API key rotation
//	import "github.com/trailcast/orchestrator/cache"        // refresh-ahead cache
//	import "github.com/trailcast/orchestrator/apiclient"    // unified API client
//	import "github.com/trailcast/orchestrator/storagepolicy" // store/skip decisions
//	import "github.com/trailcast/orchestrator/storagequeue" // async persistence
//	import "github.com/trailcast/orchestrator/ttlengine"    // expiry cleanup
//	import "github.com/trailcast/orchestrator/archival"     // cold storage
//	import "github.com/trailcast/orchestrator/notify"       // retry + alerts
//	import "github.com/trailcast/orchestrator/wsfanout"     // log/progress stream
//	import "github.com/trailcast/orchestrator/monitor"      // alert rules
//
// Supporting utility packages (lifecycle, l3, chrono, clients, rest, turbo,
// collections, codec, config, errutils, uuid, secrets, vfs, messaging)
// are general-purpose and independent of the orchestration domain.
package orchestrator
