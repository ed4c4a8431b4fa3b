package model

import "time"

// CacheEntry is a response memoized by request fingerprint.
type CacheEntry struct {
	Fingerprint string
	Value       []byte
	TTL         time.Duration
	CreatedAt   time.Time
}

// ExpiresAt returns the instant this entry's TTL elapses.
func (c *CacheEntry) ExpiresAt() time.Time {
	return c.CreatedAt.Add(c.TTL)
}

// RemainingFraction returns the fraction of TTL remaining at now, clamped
// to [0, 1]. Used to decide whether a hit should trigger a refresh-ahead.
func (c *CacheEntry) RemainingFraction(now time.Time) float64 {
	if c.TTL <= 0 {
		return 0
	}
	remaining := c.ExpiresAt().Sub(now)
	frac := float64(remaining) / float64(c.TTL)
	if frac < 0 {
		return 0
	}
	if frac > 1 {
		return 1
	}
	return frac
}
