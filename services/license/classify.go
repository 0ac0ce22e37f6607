package license

import (
	"math"
	"time"
)

// Validity is the time derived state of a license. It is recomputed from
// expires_at and grace_period_days on every query and never stored.
type Validity string

const (
	Valid   Validity = "valid"
	Grace   Validity = "grace_period"
	Expired Validity = "expired"
)

// Classify is the single source of time based license state:
// now < expires_at is Valid, expires_at <= now < expires_at+grace is Grace,
// anything later is Expired.
func Classify(l *License, now time.Time) Validity {
	if now.Before(l.ExpiresAt) {
		return Valid
	}
	if now.Before(l.GraceEndsAt()) {
		return Grace
	}
	return Expired
}

// daysUntil rounds the remaining time up to whole days, never below zero.
func daysUntil(now, t time.Time) int {
	if !now.Before(t) {
		return 0
	}
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

func (l *License) DaysRemaining(now time.Time) int {
	return daysUntil(now, l.ExpiresAt)
}

func (l *License) GraceDaysRemaining(now time.Time) int {
	if Classify(l, now) != Grace {
		return 0
	}
	return daysUntil(now, l.GraceEndsAt())
}
