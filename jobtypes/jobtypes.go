// Package jobtypes registers the orchestrator's concrete job bodies with
// the Job Manager (spec.md §4.8): the weather/tourism data-collection
// jobs that drive the Unified API Client, the system health check used
// throughout spec.md §8's end-to-end scenarios, and the maintenance jobs
// that host the TTL/Archival engines on the scheduler the platform
// already has (SPEC_FULL.md §C.7).
package jobtypes

import (
	"context"
	"runtime"
	"time"

	"github.com/trailcast/orchestrator/apiclient"
	"github.com/trailcast/orchestrator/archival"
	"github.com/trailcast/orchestrator/jobmanager"
	"github.com/trailcast/orchestrator/keypool"
	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/ttlengine"
)

// Job type names. These are the closed enum spec.md §3 describes as
// "type (closed enum of job kinds)".
const (
	SystemHealthCheck   = "SYSTEM_HEALTH_CHECK"
	KTODataCollection   = "KTO_DATA_COLLECTION"
	WeatherDataCollect  = "WEATHER_DATA_COLLECTION"
	TTLCleanup          = "TTL_CLEANUP"
	Archival            = "ARCHIVAL"
	ReconcileOrphanArch = "RECONCILE_ORPHAN_ARCHIVES"
)

// HealthCheck implements spec.md §8 scenario 1: a fast, dependency-free
// job whose result_summary carries a "status" in {"healthy","warning"}.
func HealthCheck(keys keypool.Pool) jobmanager.Handler {
	return func(ctx context.Context, run *jobmanager.Run) (model.OpaqueBag, error) {
		run.Log(model.LogInfo, "starting health check", nil)
		run.UpdateProgress(10, "checking key pools")

		summary := keys.Summary()
		status := "healthy"
		for provider, s := range summary {
			if s.ActiveKeys == 0 {
				status = "warning"
				run.Log(model.LogWarning, "provider has no active keys: "+provider, nil)
			}
		}
		if run.ShouldStop() {
			return nil, context.Canceled
		}
		run.UpdateProgress(60, "checking runtime")

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		run.UpdateProgress(100, "done")
		result := model.NewBag()
		_ = result.Set("status", status)
		_ = result.Set("goroutines", runtime.NumGoroutine())
		_ = result.Set("heap_alloc_bytes", mem.HeapAlloc)
		return result, nil
	}
}

// providers/endpoints the two data-collection jobs exercise; concrete URL
// resolution lives in the caller-supplied apiclient.ProviderEndpoint, but
// these names are the closed set this repository's config wires rules
// and credentials against.
const (
	ProviderKTO     = "kto"     // national tourism service
	ProviderWeather = "weather" // national weather service

	EndpointAreaBasedList = "areaBasedList"
	EndpointForecast      = "forecast"
)

// region is one unit of work a collection job paginates over. A real
// deployment seeds this from a fixed administrative-region list read out
// of Config; kept here as the parameter shape collection jobs expect.
type region struct {
	Code string
	Name string
}

func regionsFromParams(params model.OpaqueBag) []region {
	regions := []region{{Code: "11", Name: "Seoul"}}
	if params == nil || !params.Has("regions") {
		return regions
	}
	raw, err := params.Get("regions")
	if err != nil {
		return regions
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return regions
	}
	out := make([]region, 0, len(list))
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		code, _ := m["code"].(string)
		name, _ := m["name"].(string)
		if code == "" {
			continue
		}
		out = append(out, region{Code: code, Name: name})
	}
	if len(out) == 0 {
		return regions
	}
	return out
}

// KTODataCollectionHandler pages through the national tourism service's
// area-based listing endpoint, one call per configured region, persisting
// every raw exchange through the Unified API Client's StoreRaw hook
// (spec.md §4.3). It is the exclusive job type spec.md §8 scenario 3
// exercises.
func KTODataCollectionHandler(client apiclient.Client) jobmanager.Handler {
	return func(ctx context.Context, run *jobmanager.Run) (model.OpaqueBag, error) {
		regions := regionsFromParams(run.Job.Parameters)
		total := len(regions)
		collected := 0

		for i, r := range regions {
			if run.ShouldStop() {
				run.Log(model.LogWarning, "collection stopped cooperatively", nil)
				return nil, context.Canceled
			}

			params := model.NewBag()
			_ = params.Set("areaCode", r.Code)
			_ = params.Set("pageNo", 1)

			res, err := client.Call(ctx, ProviderKTO, EndpointAreaBasedList, params, apiclient.Options{
				StoreRaw:   true,
				Timeout:    20 * time.Second,
				MaxRetries: 3,
			})
			if err != nil {
				run.Log(model.LogError, "kto collection failed for region "+r.Code, nil)
				return nil, err
			}
			collected += len(res.Body)
			run.UpdateProgress(float64(i+1)/float64(total)*100, "collected "+r.Name)
		}

		result := model.NewBag()
		_ = result.Set("regions_collected", total)
		_ = result.Set("bytes_collected", collected)
		return result, nil
	}
}

// WeatherDataCollectionHandler calls the national weather service's
// forecast endpoint per region, mirroring KTODataCollectionHandler's
// shape (spec.md §1's second external collaborator).
func WeatherDataCollectionHandler(client apiclient.Client) jobmanager.Handler {
	return func(ctx context.Context, run *jobmanager.Run) (model.OpaqueBag, error) {
		regions := regionsFromParams(run.Job.Parameters)
		total := len(regions)
		collected := 0

		for i, r := range regions {
			if run.ShouldStop() {
				return nil, context.Canceled
			}

			params := model.NewBag()
			_ = params.Set("regId", r.Code)

			res, err := client.Call(ctx, ProviderWeather, EndpointForecast, params, apiclient.Options{
				StoreRaw:   true,
				CacheTTL:   30 * time.Minute,
				Timeout:    15 * time.Second,
				MaxRetries: 3,
			})
			if err != nil {
				run.Log(model.LogError, "weather collection failed for region "+r.Code, nil)
				return nil, err
			}
			collected += len(res.Body)
			run.UpdateProgress(float64(i+1)/float64(total)*100, "collected "+r.Name)
		}

		result := model.NewBag()
		_ = result.Set("regions_collected", total)
		_ = result.Set("bytes_collected", collected)
		return result, nil
	}
}

// TTLCleanupHandler runs one TTL Engine pass as a scheduled job, honoring
// optional "target_mb" / "emergency" parameters (spec.md §4.6).
func TTLCleanupHandler(engine ttlengine.Engine) jobmanager.Handler {
	return func(ctx context.Context, run *jobmanager.Run) (model.OpaqueBag, error) {
		var targetMB *int64
		emergency := false
		if run.Job.Parameters != nil {
			if v, err := run.Job.Parameters.Get("target_mb"); err == nil {
				if f, ok := v.(float64); ok {
					t := int64(f)
					targetMB = &t
				}
			}
			if v, err := run.Job.Parameters.Get("emergency"); err == nil {
				if b, ok := v.(bool); ok {
					emergency = b
				}
			}
		}

		run.UpdateProgress(10, "scanning candidates")
		report, err := engine.Cleanup(ctx, targetMB, emergency)
		if err != nil {
			return nil, err
		}
		run.UpdateProgress(100, "done")

		result := model.NewBag()
		_ = result.Set("candidates", report.Candidates)
		_ = result.Set("deleted", report.Deleted)
		_ = result.Set("bytes_reclaimed", report.BytesReclaimed)
		_ = result.Set("errors", len(report.Errors))
		return result, nil
	}
}

// ArchivalHandler runs one Archival Engine pass, honoring an optional
// "provider" filter and "dry_run" flag (spec.md §4.7).
func ArchivalHandler(engine archival.Engine) jobmanager.Handler {
	return func(ctx context.Context, run *jobmanager.Run) (model.OpaqueBag, error) {
		provider := ""
		dryRun := false
		if run.Job.Parameters != nil {
			if v, err := run.Job.Parameters.Get("provider"); err == nil {
				if s, ok := v.(string); ok {
					provider = s
				}
			}
			if v, err := run.Job.Parameters.Get("dry_run"); err == nil {
				if b, ok := v.(bool); ok {
					dryRun = b
				}
			}
		}

		run.UpdateProgress(10, "selecting candidates")
		summary, err := engine.Archive(ctx, provider, dryRun)
		if err != nil {
			return nil, err
		}
		run.UpdateProgress(100, "done")

		result := model.NewBag()
		_ = result.Set("candidates", summary.Candidates)
		_ = result.Set("archived", summary.Archived)
		_ = result.Set("average_compression", summary.AverageCompression)
		_ = result.Set("reconciliation_pending", len(summary.Reconciliation))
		_ = result.Set("dry_run", summary.DryRun)
		return result, nil
	}
}

// ReconcileOrphanArchivesHandler surfaces the Archival Engine's
// reconciliation list as a job (SPEC_FULL.md §C.7): records whose
// archive write succeeded but whose source-row mutation did not.
func ReconcileOrphanArchivesHandler(engine archival.Engine) jobmanager.Handler {
	return func(ctx context.Context, run *jobmanager.Run) (model.OpaqueBag, error) {
		orphans := archival.Reconciliation(engine)
		result := model.NewBag()
		_ = result.Set("orphan_count", len(orphans))
		_ = result.Set("orphan_ids", orphans)
		run.UpdateProgress(100, "done")
		return result, nil
	}
}
