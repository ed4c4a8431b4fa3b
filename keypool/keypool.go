// Package keypool rotates outbound API credentials for external providers,
// tracking per-key daily quota and error-driven cooldowns so the Unified
// API Client never has to reason about credential state itself.
package keypool

import (
	"sync"
	"time"

	"github.com/trailcast/orchestrator/clients"
	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/orcherr"
)

var logger = l3.Get()

// backoff policies for the two cooldown-inducing outcomes. Rate limit
// cooldown is fixed; transient-error cooldown grows with consecutive
// failures, capped by a configurable ceiling.
var rateLimitBackoff = &clients.RetryInfo{Wait: 60_000} // 60s, fixed

// Clock abstracts time.Now so the midnight-reset ticker and cooldown
// checks are deterministic in tests.
type Clock func() time.Time

// Pool rotates credentials for one or more providers.
type Pool interface {
	// Acquire returns a selectable key for provider, or
	// orcherr.ErrNoKeyAvailable if the pool is exhausted.
	Acquire(provider string) (*model.APIKey, error)
	// Report records the outcome of having used key.
	Report(key *model.APIKey, outcome model.KeyOutcome)
	// AddKey registers a credential into its provider's pool.
	AddKey(key *model.APIKey)
	// Summary returns a point-in-time snapshot for /system/status.
	Summary() map[string]ProviderSummary
	// Start begins the per-provider local-midnight quota reset ticker.
	Start()
	// Stop halts the reset ticker.
	Stop()
}

// ProviderSummary is the /system/status view of one provider's key pool.
type ProviderSummary struct {
	Provider     string
	TotalKeys    int
	ActiveKeys   int
	CoolingKeys  int
	ExhaustedKeys int
}

// providerState holds one provider's keys; its loc resolves the
// local-midnight boundary for the provider's used_today reset. Providers default to UTC when no explicit location
// is configured — spec open question #4 leaves quota reset boundary
// undefined in source; this system pins it to provider-local midnight.
type providerState struct {
	mu        sync.Mutex
	keys      []*model.APIKey
	rrCursor  int
	loc       *time.Location
	transient map[string]int // keyed by key ID, consecutive transient-error attempts
}

type pool struct {
	mu          sync.RWMutex
	providers   map[string]*providerState
	now         Clock
	transientCB *clients.RetryInfo
	alertFn     func(provider, keyID, reason string)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Pool at construction time.
type Option func(*pool)

// WithClock overrides time.Now, for deterministic tests.
func WithClock(c Clock) Option {
	return func(p *pool) { p.now = c }
}

// WithAlertFunc registers a callback invoked when a key is deactivated due
// to an auth failure, satisfying the "auth_failed... emits an alert"
// requirement without keypool depending on the monitor/notify packages.
func WithAlertFunc(fn func(provider, keyID, reason string)) Option {
	return func(p *pool) { p.alertFn = fn }
}

// New creates a Pool with exponential transient-error backoff capped at
// maxTransientBackoff.
func New(maxTransientBackoff time.Duration, opts ...Option) Pool {
	p := &pool{
		providers: make(map[string]*providerState),
		now:       time.Now,
		transientCB: &clients.RetryInfo{
			Wait:        1000,
			Exponential: true,
			Multiplier:  2,
			MaxWait:     int(maxTransientBackoff / time.Millisecond),
			Jitter:      true,
		},
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pool) providerFor(name string) *providerState {
	p.mu.RLock()
	ps, ok := p.providers[name]
	p.mu.RUnlock()
	if ok {
		return ps
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ps, ok = p.providers[name]; ok {
		return ps
	}
	ps = &providerState{
		loc:       time.UTC,
		transient: make(map[string]int),
	}
	p.providers[name] = ps
	return ps
}

func (p *pool) AddKey(key *model.APIKey) {
	ps := p.providerFor(key.Provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.keys = append(ps.keys, key)
	ps.transient[key.ID] = 0
}

// Acquire selects the next active, non-cooling, under-quota key for
// provider by round-robin, atomically under the provider's own critical
// section.
func (p *pool) Acquire(provider string) (*model.APIKey, error) {
	ps := p.providerFor(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if len(ps.keys) == 0 {
		return nil, orcherr.ErrNoKeyAvailable
	}

	now := p.now()
	n := len(ps.keys)
	for i := 0; i < n; i++ {
		idx := (ps.rrCursor + i) % n
		k := ps.keys[idx]
		if k.Selectable(now) {
			ps.rrCursor = (idx + 1) % n
			return k, nil
		}
	}
	return nil, orcherr.ErrNoKeyAvailable
}

// Report updates quota and cooldown accounting for key based on outcome.
func (p *pool) Report(key *model.APIKey, outcome model.KeyOutcome) {
	ps := p.providerFor(key.Provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := p.now()
	switch outcome {
	case model.KeyOutcomeOK:
		key.UsedToday++
	case model.KeyOutcomeRateLimited:
		until := now.Add(rateLimitBackoff.WaitTime(0))
		key.CooldownUntil = &until
	case model.KeyOutcomeAuthFailed:
		key.IsActive = false
		t := now
		key.LastErrorAt = &t
		if p.alertFn != nil {
			p.alertFn(key.Provider, key.ID, "authentication failed, key deactivated")
		}
	case model.KeyOutcomeTransientError:
		attempt := ps.transient[key.ID]
		ps.transient[key.ID] = attempt + 1
		until := now.Add(p.transientCB.WaitTime(attempt))
		key.CooldownUntil = &until
		t := now
		key.LastErrorAt = &t
	}
	if outcome == model.KeyOutcomeOK {
		ps.transient[key.ID] = 0
	}
}

// Summary returns a snapshot of every provider's key pool health.
func (p *pool) Summary() map[string]ProviderSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := p.now()
	out := make(map[string]ProviderSummary, len(p.providers))
	for name, ps := range p.providers {
		ps.mu.Lock()
		s := ProviderSummary{Provider: name, TotalKeys: len(ps.keys)}
		for _, k := range ps.keys {
			switch {
			case !k.IsActive:
				s.ExhaustedKeys++
			case k.CooldownUntil != nil && now.Before(*k.CooldownUntil):
				s.CoolingKeys++
			case k.Selectable(now):
				s.ActiveKeys++
			default:
				s.ExhaustedKeys++
			}
		}
		ps.mu.Unlock()
		out[name] = s
	}
	return out
}

// Start launches a background ticker that resets used_today for each
// provider's keys once per minute, checking whether provider-local
// midnight has just passed. Checking every minute (rather than sleeping
// until the exact boundary) keeps the logic simple and tolerant of clock
// skew across process restarts.
func (p *pool) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		lastResetDay := make(map[string]int)
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.resetExpiredQuotas(lastResetDay)
			}
		}
	}()
}

func (p *pool) resetExpiredQuotas(lastResetDay map[string]int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, ps := range p.providers {
		ps.mu.Lock()
		now := p.now()
		local := now.In(ps.loc)
		day := local.YearDay() + local.Year()*1000
		prev, seen := lastResetDay[name]
		if !seen {
			// first check for this provider: compare with the previous tick's day
			prevLocal := now.Add(-time.Minute).In(ps.loc)
			prev = prevLocal.YearDay() + prevLocal.Year()*1000
		}
		lastResetDay[name] = day
		if prev != day {
			for _, k := range ps.keys {
				k.UsedToday = 0
			}
			logger.InfoF("keypool: reset daily quota for provider %s at local midnight", name)
		}
		ps.mu.Unlock()
	}
}

func (p *pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}
