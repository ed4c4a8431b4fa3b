package store

import (
	"context"

	"github.com/trailcast/orchestrator/model"
	"github.com/trailcast/orchestrator/monitor"
)

// AppendAlertHistory implements monitor.HistoryStore: persisted alert
// history keyed by day (spec.md §4.12 "History").
func (s *Store) AppendAlertHistory(ctx context.Context, day string, alert model.Alert) error {
	var details []byte
	if alert.Details != nil {
		details, _ = alert.Details.MarshalJSON()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO alerts
			(id, rule_id, severity, details, first_triggered_at, last_triggered_at,
			 acknowledged_at, suppressed_until, resolved_at, history_day)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity,
			details = EXCLUDED.details,
			last_triggered_at = EXCLUDED.last_triggered_at,
			acknowledged_at = EXCLUDED.acknowledged_at,
			suppressed_until = EXCLUDED.suppressed_until,
			resolved_at = EXCLUDED.resolved_at`,
		alert.ID, alert.RuleID, string(alert.Severity), details,
		alert.FirstTriggeredAt, alert.LastTriggeredAt,
		alert.AcknowledgedAt, alert.SuppressedUntil, alert.ResolvedAt, day)
	return err
}

var _ monitor.HistoryStore = (*Store)(nil)
