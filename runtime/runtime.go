// Package runtime wires every component in SPEC_FULL.md's process into a
// single lifecycle.ComponentManager-ordered startup/shutdown sequence, the
// way nandlabs-golly/examples/lifecycle/main.go demonstrates wiring a
// dependency graph of Components: store, keypool, cache, apiclient,
// storagepolicy, storagequeue, scheduler, jobmanager, wsfanout, notify,
// ttlengine, archival, monitor, and httpapi.
package runtime

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/trailcast/orchestrator/appconfig"
	"github.com/trailcast/orchestrator/apiclient"
	"github.com/trailcast/orchestrator/archival"
	"github.com/trailcast/orchestrator/cache"
	"github.com/trailcast/orchestrator/chrono"
	"github.com/trailcast/orchestrator/httpapi"
	"github.com/trailcast/orchestrator/jobmanager"
	"github.com/trailcast/orchestrator/jobtypes"
	"github.com/trailcast/orchestrator/keypool"
	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/lifecycle"
	"github.com/trailcast/orchestrator/messaging"
	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/monitor"
	"github.com/trailcast/orchestrator/notify"
	"github.com/trailcast/orchestrator/orcherr"
	"github.com/trailcast/orchestrator/scheduler"
	"github.com/trailcast/orchestrator/storagepolicy"
	"github.com/trailcast/orchestrator/storagequeue"
	"github.com/trailcast/orchestrator/store"
	"github.com/trailcast/orchestrator/ttlengine"
	"github.com/trailcast/orchestrator/vfs"
	"github.com/trailcast/orchestrator/wsfanout"
)

var logger = l3.Get()

// Runtime holds every constructed component plus the ComponentManager
// that starts/stops them in dependency order.
type Runtime struct {
	cfg *appconfig.Config

	manager lifecycle.ComponentManager
	store   *store.Store
	keys    keypool.Pool
	cch     cache.Cache
	client  apiclient.Client
	policy  storagepolicy.Engine
	queue   storagequeue.Queue
	pool    scheduler.Pool
	jobs    jobmanager.Manager
	fanout  wsfanout.Fanout
	bridge  notify.Bridge
	mon     monitor.Loop
	api     *httpapi.Server

	chronoSched chrono.Scheduler
}

func jobFunc(jobs jobmanager.Manager, jobType string) chrono.JobFunc {
	return func(ctx context.Context) error {
		_, err := jobs.Submit(ctx, jobType, model.NewBag(), "scheduler")
		return err
	}
}

// Build constructs every component from cfg but does not start them;
// call Start to bring the process up in dependency order.
func Build(cfg *appconfig.Config) (*Runtime, error) {
	rt := &Runtime{cfg: cfg, manager: lifecycle.NewSimpleComponentManager()}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, orcherr.New(orcherr.KindConfigError, "runtime.Build", fmt.Errorf("open store: %w", err))
	}
	if err := db.Migrate(context.Background()); err != nil {
		return nil, orcherr.New(orcherr.KindConfigError, "runtime.Build", fmt.Errorf("migrate store: %w", err))
	}
	rt.store = db

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, orcherr.New(orcherr.KindConfigError, "runtime.Build", fmt.Errorf("open redis: %w", err))
	}
	rt.cch = cache.New(rdb, cfg.Cache.LockTTL)

	rt.keys = keypool.New(5 * time.Minute)
	seedKeys(rt.keys, cfg)
	if loaded, err := rt.store.LoadAPIKeys(context.Background(), cfg.SecretPassphrase); err == nil {
		for _, k := range loaded {
			rt.keys.AddKey(k)
		}
	} else {
		logger.WarnF("runtime: loading persisted api keys failed, using config-seeded keys only: %v", err)
	}

	rt.policy = storagepolicy.New()
	loadPolicyRules(rt.policy, cfg)
	if rules, err := rt.store.LoadPolicyRules(context.Background()); err == nil {
		storagepolicy.LoadRules(rt.policy, rules)
	}

	rt.queue = storagequeue.New(storagequeue.Config{
		QueueSize:     cfg.Queue.QueueSize,
		WorkerCount:   cfg.Queue.WorkerCount,
		BatchSize:     cfg.Queue.BatchSize,
		FlushInterval: cfg.Queue.FlushInterval,
	}, rt.store)

	rt.client = apiclient.New(rt.keys, rt.cch, resolveProviderEndpoint, rt.captureRaw)

	rt.pool = scheduler.New(cfg.MaxConcurrentJobs, cfg.QueueDepth)

	notifyRegistry := notify.NewPolicyRegistry(notify.RetryPolicy{
		MaxRetries:    3,
		BaseBackoffMS: 1000,
		Exponent:      2,
		Jitter:        0.2,
	})
	msgMgr := messaging.GetManager()
	if cfg.Notify.SlackToken != "" {
		msgMgr.Register(notify.NewSlackProvider(cfg.Notify.SlackToken))
	}
	rt.bridge = notify.New(notifyRegistry, msgMgr, notifySubscriptions(cfg), cfg.Notify.RateRPS, cfg.Notify.RateBurst)

	rt.fanout = wsfanout.New(rt.store, cfg.APIKey, 100)
	publisher := &wsfanout.Adapter{Fanout: rt.fanout}

	rt.jobs = jobmanager.New(rt.store, rt.pool, publisher, rt.bridge)
	registerJobTypes(rt.jobs, rt.client, rt.keys, rt.store, cfg)

	rt.mon = monitor.New(monitorRules(cfg, rt.policy), rt.store, rt.bridge, 500)

	rt.api = httpapi.New(cfg.ListenAddr, cfg.APIKey, rt.jobs, rt.keys, rt.policy, rt.mon, rt.fanout)

	rt.chronoSched = chrono.New()

	rt.registerComponents()
	return rt, nil
}

// Start brings every component up in the dependency order AddDependency
// established, then begins the periodic maintenance jobs.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.manager.StartAll(); err != nil {
		return err
	}
	rt.mon.Start(ctx)
	rt.scheduleMaintenance(ctx)
	return nil
}

// Stop shuts every component down in reverse dependency order.
func (rt *Runtime) Stop() error {
	rt.mon.Stop()
	if err := rt.chronoSched.Stop(); err != nil {
		logger.WarnF("runtime: chrono scheduler stop: %v", err)
	}
	return rt.manager.StopAll()
}

func newRedisClient(addr string) (*redis.Client, error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, err
		}
		addr = mr.Addr()
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func seedKeys(pool keypool.Pool, cfg *appconfig.Config) {
	for provider, pc := range cfg.Providers {
		for i, secret := range pc.Keys {
			pool.AddKey(&model.APIKey{
				ID:         fmt.Sprintf("%s-%d", provider, i),
				Provider:   provider,
				Secret:     secret,
				DailyQuota: pc.DailyQuota,
				IsActive:   true,
			})
		}
	}
}

func loadPolicyRules(engine storagepolicy.Engine, cfg *appconfig.Config) {
	for _, p := range cfg.Policies {
		storagepolicy.SetRule(engine, &model.StoragePolicyRule{
			Provider:           p.Provider,
			Endpoint:           p.Endpoint,
			Enabled:            p.Enabled,
			MinSizeBytes:       p.MinSize,
			MaxSizeBytes:       p.MaxSize,
			AllowedStatusCodes: p.AllowedStatusCodes,
			Priority:           model.StoragePriority(p.Priority),
			TTLDays:            p.TTLDays,
		})
	}
}

func notifySubscriptions(cfg *appconfig.Config) []notify.Subscription {
	if cfg.Notify.SlackChannel == "" {
		return nil
	}
	return []notify.Subscription{
		{ID: "slack-default", Channel: "slack", Endpoint: cfg.Notify.SlackChannel},
	}
}

// monitorRules builds the monitor loop's rule set from configuration,
// resolving each rule's metric name to one of the loop's built-in probes
// (spec.md §9 "natural-completeness" item 6: storage_reject_rate is the
// only probe this system ships). A rule naming an unknown metric is
// dropped with a warning rather than registered with a nil Probe, which
// would panic the first time its ticker fires.
func monitorRules(cfg *appconfig.Config, policy storagepolicy.Engine) []monitor.Rule {
	rules := make([]monitor.Rule, 0, len(cfg.Alerts))
	for _, a := range cfg.Alerts {
		probe, ok := resolveProbe(a.Metric, policy)
		if !ok {
			logger.WarnF("runtime: alert rule %q names unknown metric, skipping", a.Metric)
			continue
		}
		rules = append(rules, monitor.Rule{
			ID:               a.Metric,
			CheckIntervalSec: int(a.CheckInterval.Seconds()),
			Threshold:        a.Threshold,
			Severity:         model.AlertSeverity(a.Severity),
			EscalationTime:   a.EscalationTime,
			Probe:            probe,
		})
	}
	return rules
}

func resolveProbe(metric string, policy storagepolicy.Engine) (monitor.Probe, bool) {
	switch metric {
	case "storage_reject_rate":
		return monitor.StorageRejectRateProbe(policy), true
	default:
		return nil, false
	}
}

// resolveProviderEndpoint is the closed mapping from (provider, endpoint)
// to a concrete request URL, grounded on the two external collaborators
// spec.md §1 names: the national tourism service and the national
// weather service.
func resolveProviderEndpoint(provider, endpoint string, params model.OpaqueBag) (string, string, error) {
	switch provider {
	case jobtypes.ProviderKTO:
		return "https://apis.data.go.kr/B551011/KorService1/" + endpoint, "GET", nil
	case jobtypes.ProviderWeather:
		return "https://apis.data.go.kr/1360000/VilageFcstInfoService_2.0/" + endpoint, "GET", nil
	default:
		return "", "", fmt.Errorf("runtime: unknown provider %q", provider)
	}
}

// captureRaw implements apiclient.RawCaptureFunc: it runs the Storage
// Policy Engine's decide() and, when accepted, enqueues onto the Async
// Storage Queue, falling back to a synchronous store write when the
// queue is full (spec.md §4.5 "Acceptance").
func (rt *Runtime) captureRaw(ctx context.Context, rec *model.RawAPIResponseRecord) string {
	decision := rt.policy.Decide(rec)
	if !decision.Store {
		return ""
	}
	rec.StorageMetadata = decision.Metadata

	priority := model.PriorityMedium
	if decision.Metadata != nil {
		if v, err := decision.Metadata.Get("priority"); err == nil {
			switch p := v.(type) {
			case model.StoragePriority:
				priority = p
			case int:
				priority = model.StoragePriority(p)
			case float64:
				priority = model.StoragePriority(p)
			}
		}
	}

	ok := rt.queue.Enqueue(rec, priority, func(r *model.RawAPIResponseRecord, err error) {
		if err != nil {
			logger.ErrorF("runtime: storage queue dropped raw response %s: %v", r.ID, err)
		}
	})
	if !ok {
		if err := rt.store.StoreBatch(ctx, []*model.RawAPIResponseRecord{rec}); err != nil {
			logger.ErrorF("runtime: synchronous fallback store failed for %s: %v", rec.ID, err)
			return ""
		}
	}
	return rec.ID
}

func registerJobTypes(mgr jobmanager.Manager, client apiclient.Client, keys keypool.Pool, db *store.Store, cfg *appconfig.Config) {
	ttlEngine := ttlengine.New(db, 200)
	archiveBase, err := url.Parse(cfg.ArchiveBaseDir)
	if err != nil {
		archiveBase = &url.URL{Scheme: "file", Path: "/var/lib/orchestrator/archive"}
	}
	archivalEngine := archival.New(db, vfs.GetManager(), archiveBase, true)

	mgr.RegisterType(jobtypes.SystemHealthCheck, jobmanager.TypeConfig{
		Handler:  jobtypes.HealthCheck(keys),
		Priority: 10,
		Timeout:  30 * time.Second,
	})
	mgr.RegisterType(jobtypes.KTODataCollection, jobmanager.TypeConfig{
		Handler:   jobtypes.KTODataCollectionHandler(client),
		Priority:  5,
		Timeout:   10 * time.Minute,
		Exclusive: true,
	})
	mgr.RegisterType(jobtypes.WeatherDataCollect, jobmanager.TypeConfig{
		Handler:   jobtypes.WeatherDataCollectionHandler(client),
		Priority:  5,
		Timeout:   10 * time.Minute,
		Exclusive: true,
	})
	mgr.RegisterType(jobtypes.TTLCleanup, jobmanager.TypeConfig{
		Handler:  jobtypes.TTLCleanupHandler(ttlEngine),
		Priority: 1,
		Timeout:  5 * time.Minute,
	})
	mgr.RegisterType(jobtypes.Archival, jobmanager.TypeConfig{
		Handler:  jobtypes.ArchivalHandler(archivalEngine),
		Priority: 1,
		Timeout:  15 * time.Minute,
	})
	mgr.RegisterType(jobtypes.ReconcileOrphanArch, jobmanager.TypeConfig{
		Handler:  jobtypes.ReconcileOrphanArchivesHandler(archivalEngine),
		Priority: 1,
		Timeout:  time.Minute,
	})
}

// scheduleMaintenance submits the TTL/Archival housekeeping jobs on a
// chrono.Scheduler interval rather than requiring an operator to trigger
// them by hand.
func (rt *Runtime) scheduleMaintenance(ctx context.Context) {
	if err := rt.chronoSched.AddIntervalJob("ttl-cleanup", "ttl cleanup", jobFunc(rt.jobs, jobtypes.TTLCleanup), time.Hour); err != nil {
		logger.ErrorF("runtime: failed to schedule TTL cleanup: %v", err)
	}
	if err := rt.chronoSched.AddIntervalJob("archival", "archival sweep", jobFunc(rt.jobs, jobtypes.Archival), 24*time.Hour); err != nil {
		logger.ErrorF("runtime: failed to schedule archival: %v", err)
	}
	if err := rt.chronoSched.Start(); err != nil {
		logger.ErrorF("runtime: chrono scheduler failed to start: %v", err)
	}
}

func (rt *Runtime) registerComponents() {
	store := &lifecycle.SimpleComponent{
		CompId:    "store",
		StartFunc: func() error { return nil },
		StopFunc:  func() error { return rt.store.Close() },
	}
	keyPool := &lifecycle.SimpleComponent{
		CompId:    "keypool",
		StartFunc: func() error { rt.keys.Start(); return nil },
		StopFunc:  func() error { rt.keys.Stop(); return nil },
	}
	workerPool := &lifecycle.SimpleComponent{
		CompId:    "scheduler",
		StartFunc: func() error { rt.pool.Start(); return nil },
		StopFunc:  func() error { rt.pool.Stop(10 * time.Second); return nil },
	}
	queue := &lifecycle.SimpleComponent{
		CompId:    "storagequeue",
		StartFunc: func() error { rt.queue.Start(); return nil },
		StopFunc:  func() error { rt.queue.Stop(); return nil },
	}
	api := &lifecycle.SimpleComponent{
		CompId: "httpapi",
		StartFunc: func() error {
			go func() {
				if err := rt.api.Start(); err != nil {
					logger.ErrorF("runtime: httpapi server stopped: %v", err)
				}
			}()
			return nil
		},
		StopFunc: func() error { return rt.api.Stop() },
	}

	rt.manager.Register(store)
	rt.manager.Register(keyPool)
	rt.manager.Register(workerPool)
	rt.manager.Register(queue)
	rt.manager.Register(api)

	_ = rt.manager.AddDependency("keypool", "store")
	_ = rt.manager.AddDependency("storagequeue", "store")
	_ = rt.manager.AddDependency("scheduler", "store")
	_ = rt.manager.AddDependency("httpapi", "scheduler")
	_ = rt.manager.AddDependency("httpapi", "storagequeue")
	_ = rt.manager.AddDependency("httpapi", "keypool")
}
