package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	expires := baseTime
	l := &License{ExpiresAt: expires, GracePeriodDays: 7, Status: StatusActive}

	tests := []struct {
		name string
		now  time.Time
		want Validity
	}{
		{"before expiry", expires.Add(-time.Nanosecond), Valid},
		{"at expiry", expires, Grace},
		{"inside grace", expires.AddDate(0, 0, 3), Grace},
		{"at grace end", expires.AddDate(0, 0, 7), Expired},
		{"long after", expires.AddDate(1, 0, 0), Expired},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Classify(l, tt.now), tt.name)
	}
}

func TestClassify_NoGracePeriod(t *testing.T) {
	l := &License{ExpiresAt: baseTime, Status: StatusActive}

	require.Equal(t, Valid, Classify(l, baseTime.Add(-time.Second)))
	require.Equal(t, Expired, Classify(l, baseTime))
	require.False(t, l.IsInGracePeriod(baseTime))
	require.True(t, l.IsExpired(baseTime))
}

func TestIsValidRequiresActiveStatus(t *testing.T) {
	l := &License{ExpiresAt: baseTime.AddDate(0, 1, 0), Status: StatusSuspended}
	require.False(t, l.IsValid(baseTime))
	require.False(t, l.IsExpired(baseTime))

	l.Status = StatusActive
	require.True(t, l.IsValid(baseTime))
}

func TestDaysRemaining(t *testing.T) {
	l := &License{ExpiresAt: baseTime.Add(36 * time.Hour), GracePeriodDays: 2}

	require.Equal(t, 2, l.DaysRemaining(baseTime))
	require.Equal(t, 1, l.DaysRemaining(baseTime.Add(24*time.Hour)))
	require.Equal(t, 0, l.DaysRemaining(l.ExpiresAt))
	require.Equal(t, 0, l.GraceDaysRemaining(baseTime))

	inGrace := l.ExpiresAt.Add(12 * time.Hour)
	require.Equal(t, 2, l.GraceDaysRemaining(inGrace))
	require.Equal(t, 0, l.GraceDaysRemaining(l.GraceEndsAt()))
}

func TestStateOf(t *testing.T) {
	l := &License{ExpiresAt: baseTime, GracePeriodDays: 7, Status: StatusActive}

	require.Equal(t, StateActive, stateOf(l, baseTime.Add(-time.Hour)))
	require.Equal(t, StateGrace, stateOf(l, baseTime.Add(time.Hour)))
	require.Equal(t, StateExpired, stateOf(l, baseTime.AddDate(0, 0, 8)))

	l.Status = StatusSuspended
	require.Equal(t, StateSuspended, stateOf(l, baseTime.Add(-time.Hour)))
	l.Status = StatusRevoked
	require.Equal(t, StateRevoked, stateOf(l, baseTime.AddDate(0, 0, 8)))
}

func TestUsageOf(t *testing.T) {
	l := &License{CurrentUsers: 5, MaxUsers: 5, CurrentClinics: 1, MaxClinics: Unlimited, MaxPatients: 0}

	users := usageOf(l, ResourceUsers)
	require.True(t, users.Exceeded)
	require.False(t, users.Success)
	require.Equal(t, CodeUsageLimitExceeded, users.Code)
	require.Equal(t, int64(0), users.Remaining)

	clinics := usageOf(l, ResourceClinics)
	require.True(t, clinics.Unlimited)
	require.False(t, clinics.Exceeded)
	require.Equal(t, int64(-1), clinics.Remaining)

	patients := usageOf(l, ResourcePatients)
	require.True(t, patients.Exceeded, "a zero limit is a hard cap")
}
