// Package storagepolicy implements the Storage Policy Engine (spec.md
// §4.4): a pure, deterministic store/skip decision per raw API response,
// resolved against per-(provider, endpoint) rules with a provider-default
// fallback.
package storagepolicy

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/trailcast/orchestrator/model"
)

// Decision is the outcome of Engine.Decide.
type Decision struct {
	Store    bool
	Reason   string
	Metadata model.OpaqueBag // ttl_days, priority — only set when Store is true
}

// Engine resolves StoragePolicyRule configuration and decides whether a
// RawAPIResponseRecord should be persisted.
type Engine interface {
	// Decide is pure: identical rec and rule set always yield the same
	// Decision (spec.md §8 "Policy decide is pure").
	Decide(rec *model.RawAPIResponseRecord) Decision
	// Tally returns the running {seen, stored, rejected-by-reason} counts.
	Tally() Tally
}

// Tally is the running store/reject counter required by spec.md §4.4
// "Observability". Counters saturate at math.MaxInt64 rather than
// wrapping on overflow.
type Tally struct {
	Seen             int64
	Stored           int64
	RejectedByReason map[string]int64
}

type engine struct {
	mu    sync.RWMutex
	rules map[ruleKey]*model.StoragePolicyRule

	seen, stored int64
	rejected     sync.Map // string reason -> *int64
}

type ruleKey struct {
	provider, endpoint string
}

// New constructs an Engine with no rules configured; use SetRule or
// LoadRules to populate it (normally from Config at startup).
func New() Engine {
	return &engine{rules: make(map[ruleKey]*model.StoragePolicyRule)}
}

// SetRule registers or replaces a rule. A rule with an empty Endpoint is
// the provider-wide default fallback.
func SetRule(e Engine, rule *model.StoragePolicyRule) {
	en := e.(*engine)
	en.mu.Lock()
	defer en.mu.Unlock()
	en.rules[ruleKey{rule.Provider, rule.Endpoint}] = rule
}

// LoadRules bulk-replaces the rule set, e.g. from Config at startup.
func LoadRules(e Engine, rules []*model.StoragePolicyRule) {
	en := e.(*engine)
	en.mu.Lock()
	defer en.mu.Unlock()
	en.rules = make(map[ruleKey]*model.StoragePolicyRule, len(rules))
	for _, r := range rules {
		en.rules[ruleKey{r.Provider, r.Endpoint}] = r
	}
}

const (
	reasonNoRule       = "no_rule"
	reasonDisabled     = "disabled"
	reasonStatusCode   = "status_code_not_allowed"
	reasonSizeTooSmall = "size_below_minimum"
	reasonSizeTooLarge = "size_above_maximum"
)

func (e *engine) resolve(provider, endpoint string) (*model.StoragePolicyRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r, ok := e.rules[ruleKey{provider, endpoint}]; ok {
		return r, true
	}
	if r, ok := e.rules[ruleKey{provider, ""}]; ok {
		return r, true
	}
	return nil, false
}

func (e *engine) Decide(rec *model.RawAPIResponseRecord) Decision {
	e.bump(&e.seen)

	rule, ok := e.resolve(rec.Provider, rec.Endpoint)
	if !ok {
		return e.reject(reasonNoRule)
	}
	if !rule.Enabled {
		return e.reject(reasonDisabled)
	}
	if !statusAllowed(rule.AllowedStatusCodes, rec.StatusCode) {
		return e.reject(reasonStatusCode)
	}
	if rule.MinSizeBytes > 0 && rec.ResponseSizeBytes < rule.MinSizeBytes {
		return e.reject(reasonSizeTooSmall)
	}
	if rule.MaxSizeBytes > 0 && rec.ResponseSizeBytes > rule.MaxSizeBytes {
		return e.reject(reasonSizeTooLarge)
	}

	e.bump(&e.stored)
	meta := model.NewBag()
	_ = meta.Set("ttl_days", rule.TTLDays)
	_ = meta.Set("priority", int(rule.Priority))
	return Decision{Store: true, Reason: "accepted", Metadata: meta}
}

func (e *engine) reject(reason string) Decision {
	counter, _ := e.rejected.LoadOrStore(reason, new(int64))
	e.bump(counter.(*int64))
	return Decision{Store: false, Reason: reason}
}

func (e *engine) bump(counter *int64) {
	for {
		cur := atomic.LoadInt64(counter)
		if cur >= math.MaxInt64 {
			return
		}
		if atomic.CompareAndSwapInt64(counter, cur, cur+1) {
			return
		}
	}
}

func (e *engine) Tally() Tally {
	t := Tally{
		Seen:             atomic.LoadInt64(&e.seen),
		Stored:           atomic.LoadInt64(&e.stored),
		RejectedByReason: make(map[string]int64),
	}
	e.rejected.Range(func(k, v any) bool {
		t.RejectedByReason[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return t
}

func statusAllowed(allowed []int, code int) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == code {
			return true
		}
	}
	return false
}
