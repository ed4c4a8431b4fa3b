package model

import "time"

// KeyOutcome is the result of one use of an API Key, reported back to the
// Key Pool so it can update quota and cooldown accounting.
type KeyOutcome int

const (
	KeyOutcomeOK KeyOutcome = iota
	KeyOutcomeRateLimited
	KeyOutcomeAuthFailed
	KeyOutcomeTransientError
)

// APIKey is one credential in a per-provider pool.
type APIKey struct {
	ID            string
	Provider      string
	Secret        string
	DailyQuota    int
	UsedToday     int
	LastErrorAt   *time.Time
	CooldownUntil *time.Time
	IsActive      bool
}

// Selectable reports whether k may currently be returned by Acquire: it
// must be active, past any cooldown, and under quota.
func (k *APIKey) Selectable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	if k.CooldownUntil != nil && now.Before(*k.CooldownUntil) {
		return false
	}
	return k.UsedToday < k.DailyQuota
}
