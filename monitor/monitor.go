// Package monitor implements the Monitor & Alert Loop (spec.md §4.12): a
// periodic per-rule probe evaluation with a first-breach/escalate/resolve
// alert lifecycle, acknowledge/suppress operations, and bounded in-memory
// history alongside day-keyed persisted history.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/notify"
	"github.com/trailcast/orchestrator/uuid"
)

var logger = l3.Get()

// Probe evaluates one rule's current metric/query value.
type Probe func(ctx context.Context) (value float64, err error)

// Rule is one monitored condition.
type Rule struct {
	ID                 string
	CheckIntervalSec   int
	Threshold          float64
	Severity           model.AlertSeverity
	EscalationTime     time.Duration
	Probe              Probe
	// Breach reports whether value constitutes a threshold breach; the
	// default (nil) is value > Threshold.
	Breach func(value, threshold float64) bool
}

func (r Rule) breached(value float64) bool {
	if r.Breach != nil {
		return r.Breach(value, r.Threshold)
	}
	return value > r.Threshold
}

// HistoryStore persists resolved/active alert history keyed by day
// (spec.md §4.12 "History").
type HistoryStore interface {
	AppendAlertHistory(ctx context.Context, day string, alert model.Alert) error
}

// Loop is the Monitor & Alert Loop contract.
type Loop interface {
	Start(ctx context.Context)
	Stop()
	Acknowledge(alertID string) bool
	Suppress(alertID string, minutes int) bool
	ActiveAlerts() []model.Alert
	RecentHistory(n int) []model.Alert
}

type ruleState struct {
	rule        Rule
	alert       *model.Alert
	breachSince time.Time
}

type loop struct {
	rules   []Rule
	history HistoryStore
	bridge  notify.Bridge

	mu     sync.Mutex
	states map[string]*ruleState
	recent []model.Alert // bounded ring, most recent last

	maxHistory int
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New constructs a Loop over rules. maxHistory bounds the in-memory
// recent-alert ring.
func New(rules []Rule, history HistoryStore, bridge notify.Bridge, maxHistory int) Loop {
	if maxHistory <= 0 {
		maxHistory = 200
	}
	states := make(map[string]*ruleState, len(rules))
	for _, r := range rules {
		states[r.ID] = &ruleState{rule: r}
	}
	return &loop{
		rules:      rules,
		history:    history,
		bridge:     bridge,
		states:     states,
		maxHistory: maxHistory,
		stopCh:     make(chan struct{}),
	}
}

func (l *loop) Start(ctx context.Context) {
	for _, r := range l.rules {
		l.wg.Add(1)
		go l.runRule(ctx, r)
	}
}

func (l *loop) runRule(ctx context.Context, r Rule) {
	defer l.wg.Done()
	interval := time.Duration(r.CheckIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.evaluate(ctx, r)
		}
	}
}

func (l *loop) evaluate(ctx context.Context, r Rule) {
	value, err := r.Probe(ctx)
	if err != nil {
		logger.WarnF("monitor: probe for rule %s failed: %v", r.ID, err)
		return
	}

	l.mu.Lock()
	state := l.states[r.ID]
	breached := r.breached(value)
	now := time.Now().UTC()

	switch {
	case breached && state.alert == nil:
		alert := l.openAlert(r, now)
		state.alert = alert
		state.breachSince = now
		l.mu.Unlock()
		l.notify(ctx, alert, "breach opened")

	case breached && state.alert != nil:
		alert := state.alert
		alert.LastTriggeredAt = now
		shouldEscalate := r.EscalationTime > 0 &&
			now.Sub(state.breachSince) >= r.EscalationTime &&
			alert.Severity != model.SeverityCritical
		if shouldEscalate {
			alert.Severity = alert.Severity.Escalate()
			state.breachSince = now
		}
		l.mu.Unlock()
		if shouldEscalate {
			l.notify(ctx, alert, "escalated")
		}

	case !breached && state.alert != nil:
		alert := state.alert
		resolvedAt := now
		alert.ResolvedAt = &resolvedAt
		state.alert = nil
		l.recordHistory(ctx, *alert)
		l.mu.Unlock()
		l.notify(ctx, alert, "resolved")

	default:
		l.mu.Unlock()
	}
}

func (l *loop) openAlert(r Rule, now time.Time) *model.Alert {
	id, err := uuid.V4()
	idStr := ""
	if err == nil {
		idStr = id.String()
	}
	return &model.Alert{
		ID:               idStr,
		RuleID:           r.ID,
		Severity:         r.Severity,
		FirstTriggeredAt: now,
		LastTriggeredAt:  now,
	}
}

func (l *loop) notify(ctx context.Context, alert *model.Alert, reason string) {
	if l.bridge == nil {
		return
	}
	kind := notify.EventFailed
	if alert.ResolvedAt != nil {
		kind = notify.EventCompleted
	}
	job := &model.Job{ID: alert.ID, Type: "alert:" + alert.RuleID}
	l.bridge.Notify(ctx, notify.Event{
		Kind:    kind,
		Job:     job,
		Details: model.BagFrom(map[string]any{"reason": reason, "severity": string(alert.Severity)}),
	})
}

func (l *loop) recordHistory(ctx context.Context, alert model.Alert) {
	l.recent = append(l.recent, alert)
	if len(l.recent) > l.maxHistory {
		l.recent = l.recent[len(l.recent)-l.maxHistory:]
	}
	if l.history != nil {
		day := alert.FirstTriggeredAt.Format("2006-01-02")
		if err := l.history.AppendAlertHistory(ctx, day, alert); err != nil {
			logger.ErrorF("monitor: failed to persist alert history for %s: %v", alert.ID, err)
		}
	}
}

func (l *loop) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

// Acknowledge sets acknowledged_at on the active alert; does not affect
// escalation eligibility (spec.md §4.12).
func (l *loop) Acknowledge(alertID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.states {
		if s.alert != nil && s.alert.ID == alertID {
			now := time.Now().UTC()
			s.alert.AcknowledgedAt = &now
			return true
		}
	}
	return false
}

// Suppress sets suppressed_until; suppressed alerts do not re-notify and
// count as inactive until expiry (spec.md §4.12).
func (l *loop) Suppress(alertID string, minutes int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.states {
		if s.alert != nil && s.alert.ID == alertID {
			until := time.Now().UTC().Add(time.Duration(minutes) * time.Minute)
			s.alert.SuppressedUntil = &until
			return true
		}
	}
	return false
}

func (l *loop) ActiveAlerts() []model.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	var out []model.Alert
	for _, s := range l.states {
		if s.alert != nil && s.alert.IsActive(now) {
			out = append(out, *s.alert)
		}
	}
	return out
}

func (l *loop) RecentHistory(n int) []model.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.recent) {
		n = len(l.recent)
	}
	out := make([]model.Alert, n)
	copy(out, l.recent[len(l.recent)-n:])
	return out
}
