// Package notify implements the Retry & Notification Bridge (spec.md
// §4.10): a stateless should_retry decision per job type, and an event
// multiplexer that fans failures/successes out to rate-limited
// notification channels.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/trailcast/orchestrator/clients"
	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/messaging"
	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/orcherr"
)

var logger = l3.Get()

// RetryPolicy is the per-job-type retry configuration (spec.md §4.10
// "Retry policy").
type RetryPolicy struct {
	MaxRetries    int
	BaseBackoffMS int
	Exponent      float64
	Jitter        bool
	// RetryableKinds restricts retries to the listed error kinds. An empty
	// set falls back to orcherr.Kind.Retryable()'s default classification.
	RetryableKinds map[orcherr.Kind]bool
}

func (p RetryPolicy) retryInfo() *clients.RetryInfo {
	return &clients.RetryInfo{
		MaxRetries:  p.MaxRetries,
		Wait:        p.BaseBackoffMS,
		Exponential: true,
		Multiplier:  p.Exponent,
		Jitter:      p.Jitter,
	}
}

func (p RetryPolicy) allows(kind orcherr.Kind) bool {
	if len(p.RetryableKinds) > 0 {
		return p.RetryableKinds[kind]
	}
	return kind.Retryable()
}

// PolicyRegistry resolves the RetryPolicy for a job type, falling back to
// a default when the type has no explicit entry.
type PolicyRegistry struct {
	mu       sync.RWMutex
	byType   map[string]RetryPolicy
	fallback RetryPolicy
}

// NewPolicyRegistry constructs a registry seeded with fallback for job
// types without an explicit policy.
func NewPolicyRegistry(fallback RetryPolicy) *PolicyRegistry {
	return &PolicyRegistry{byType: make(map[string]RetryPolicy), fallback: fallback}
}

// Set installs policy for jobType.
func (r *PolicyRegistry) Set(jobType string, policy RetryPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[jobType] = policy
}

func (r *PolicyRegistry) resolve(jobType string) RetryPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byType[jobType]; ok {
		return p
	}
	return r.fallback
}

// Bridge is the Retry & Notification Bridge contract. It is stateless:
// retry_count and retry_status live on the Job record (spec.md §9 open
// question #2), never inside the bridge.
type Bridge interface {
	// ShouldRetry decides whether job (whose most recent attempt failed
	// with err) should be retried, and after what delay. Callers own
	// incrementing RetryCount and submitting the new Job.
	ShouldRetry(job *model.Job, err error) (retry bool, delay time.Duration)
	// Notify routes an event for job through the subscription table to
	// every matching, rate-limit-permitting channel sender.
	Notify(ctx context.Context, event Event)
}

// EventKind is the notification trigger (spec.md §4.9 "Notification
// hooks" fires on RUNNING/COMPLETED/FAILED; §4.10 adds MAX_ATTEMPTS).
type EventKind string

const (
	EventRunning     EventKind = "RUNNING"
	EventCompleted   EventKind = "COMPLETED"
	EventFailed      EventKind = "FAILED"
	EventMaxAttempts EventKind = "MAX_ATTEMPTS"
)

// Event is one notification-worthy occurrence.
type Event struct {
	Kind    EventKind
	Job     *model.Job
	Err     error
	Details model.OpaqueBag
}

// Subscription routes events matching Filter to Channel/Recipient.
type Subscription struct {
	ID       string
	Channel  string // messaging.Provider scheme, e.g. "slack"
	Endpoint string // provider-specific destination, e.g. Slack channel ID
	Filter   func(Event) bool
}

// Template renders an Event into a human-readable message body. Kept as
// a function seam so callers can swap in richer templating without the
// bridge depending on a template engine.
type Template func(Event) string

// DefaultTemplate renders a terse one-line summary.
func DefaultTemplate(e Event) string {
	switch e.Kind {
	case EventFailed:
		return fmt.Sprintf("job %s (%s) FAILED: %v", e.Job.ID, e.Job.Type, e.Err)
	case EventMaxAttempts:
		return fmt.Sprintf("job %s (%s) exhausted retries after %d attempts", e.Job.ID, e.Job.Type, e.Job.RetryCount)
	case EventCompleted:
		return fmt.Sprintf("job %s (%s) COMPLETED", e.Job.ID, e.Job.Type)
	case EventRunning:
		return fmt.Sprintf("job %s (%s) started", e.Job.ID, e.Job.Type)
	default:
		return fmt.Sprintf("job %s (%s): %s", e.Job.ID, e.Job.Type, e.Kind)
	}
}

type limiterKey struct {
	channel string
	subID   string
}

type bridge struct {
	policies      *PolicyRegistry
	manager       messaging.Manager
	subscriptions []Subscription
	template      Template

	rateMu   sync.Mutex
	limiters map[limiterKey]*rate.Limiter
	rateRPS  float64
	rateBurst int

	dropsMu sync.Mutex
	drops   map[limiterKey]int64
}

// New constructs a Bridge. manager resolves Subscription.Channel to a
// registered messaging.Provider by scheme (spec.md §4.10 "hand off to
// the channel's sender"). rateRPS/rateBurst configure the per
// (channel, subscription) token bucket.
func New(policies *PolicyRegistry, manager messaging.Manager, subs []Subscription, rateRPS float64, rateBurst int) Bridge {
	if rateRPS <= 0 {
		rateRPS = 1
	}
	if rateBurst <= 0 {
		rateBurst = 5
	}
	return &bridge{
		policies:      policies,
		manager:       manager,
		subscriptions: subs,
		template:      DefaultTemplate,
		limiters:      make(map[limiterKey]*rate.Limiter),
		rateRPS:       rateRPS,
		rateBurst:     rateBurst,
		drops:         make(map[limiterKey]int64),
	}
}

func (b *bridge) ShouldRetry(job *model.Job, err error) (bool, time.Duration) {
	policy := b.policies.resolve(job.Type)
	if job.RetryCount >= policy.MaxRetries {
		return false, 0
	}
	kind, classified := orcherr.KindOf(err)
	if !classified || !policy.allows(kind) {
		return false, 0
	}
	delay := policy.retryInfo().WaitTime(job.RetryCount)
	return true, delay
}

func (b *bridge) Notify(ctx context.Context, event Event) {
	for _, sub := range b.subscriptions {
		if sub.Filter != nil && !sub.Filter(event) {
			continue
		}
		if !b.allow(sub) {
			b.countDrop(sub)
			continue
		}
		if err := b.send(sub, event); err != nil {
			logger.ErrorF("notify: channel %s delivery failed for job %s: %v", sub.Channel, event.Job.ID, err)
		}
	}
}

func (b *bridge) allow(sub Subscription) bool {
	key := limiterKey{channel: sub.Channel, subID: sub.ID}
	b.rateMu.Lock()
	lim, ok := b.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(b.rateRPS), b.rateBurst)
		b.limiters[key] = lim
	}
	b.rateMu.Unlock()
	return lim.Allow()
}

func (b *bridge) countDrop(sub Subscription) {
	key := limiterKey{channel: sub.Channel, subID: sub.ID}
	b.dropsMu.Lock()
	b.drops[key]++
	b.dropsMu.Unlock()
	logger.WarnF("notify: rate limit exceeded for channel %s subscription %s, dropping", sub.Channel, sub.ID)
}

// DropCount returns how many notifications have been dropped (not
// retried, per spec.md §4.10) for a given channel/subscription pair.
func (b *bridge) DropCount(channel, subID string) int64 {
	b.dropsMu.Lock()
	defer b.dropsMu.Unlock()
	return b.drops[limiterKey{channel: channel, subID: subID}]
}

// parseEndpoint builds the messaging.Provider-addressable URL for a
// subscription: scheme is the channel name, host/path carry the
// provider-specific destination (e.g. a Slack channel ID).
func parseEndpoint(channel, endpoint string) (*url.URL, error) {
	return url.Parse(channel + "://" + endpoint)
}

func (b *bridge) send(sub Subscription, event Event) error {
	u, err := parseEndpoint(sub.Channel, sub.Endpoint)
	if err != nil {
		return err
	}
	msg, err := b.manager.NewMessage(sub.Channel)
	if err != nil {
		return err
	}
	if _, err := msg.SetBodyStr(b.template(event)); err != nil {
		return err
	}
	return b.manager.Send(u, msg)
}
