package license

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUsage_NoLicense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.CheckUsageLimit(ctx, ResourceUsers)
	require.NoError(t, err)
	require.Equal(t, CodeNoLicense, res.Code)

	res, err = env.svc.IncrementUsage(ctx, ResourceUsers, 1)
	require.NoError(t, err)
	require.Equal(t, CodeNoLicense, res.Code)

	ok, err := env.svc.HasFeature(ctx, "patients")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUsage_IncrementThenDecrement(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, CreateInput{})
	ctx := context.Background()

	res, err := env.svc.IncrementUsage(ctx, ResourcePatients, 5)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(5), res.Current)

	res, err = env.svc.DecrementUsage(ctx, ResourcePatients, 3)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(2), res.Current)
	require.Equal(t, int64(998), res.Remaining)
}

func TestUsage_DecrementClampsAtZero(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, CreateInput{})
	ctx := context.Background()

	_, err := env.svc.IncrementUsage(ctx, ResourceUsers, 2)
	require.NoError(t, err)

	res, err := env.svc.DecrementUsage(ctx, ResourceUsers, 5)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(0), res.Current)

	res, err = env.svc.DecrementUsage(ctx, ResourceUsers, 1)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.Current)
}

func TestUsage_LimitExceeded(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, CreateInput{})
	ctx := context.Background()

	// standard tier allows one clinic
	res, err := env.svc.IncrementUsage(ctx, ResourceClinics, 1)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(1), res.Current)

	res, err = env.svc.IncrementUsage(ctx, ResourceClinics, 1)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, CodeUsageLimitExceeded, res.Code)
	require.Equal(t, int64(1), res.Current)
	require.Equal(t, int64(1), res.Limit)

	check, err := env.svc.CheckUsageLimit(ctx, ResourceClinics)
	require.NoError(t, err)
	require.True(t, check.Exceeded)
}

func TestUsage_ZeroLimitIsHardCap(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, CreateInput{MaxUsers: int64Ptr(0)})

	res, err := env.svc.IncrementUsage(context.Background(), ResourceUsers, 1)
	require.NoError(t, err)
	require.Equal(t, CodeUsageLimitExceeded, res.Code)
	require.Equal(t, int64(0), res.Current)
}

func TestUsage_Unlimited(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, CreateInput{Type: TypeEnterprise})

	res, err := env.svc.IncrementUsage(context.Background(), ResourceAppointments, 1_000_000)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.Unlimited)
	require.Equal(t, int64(1_000_000), res.Current)
}

func TestUsage_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, CreateInput{})
	ctx := context.Background()

	res, err := env.svc.IncrementUsage(ctx, ResourceUsers, 0)
	require.NoError(t, err)
	require.Equal(t, CodeValidationFailed, res.Code)

	res, err = env.svc.DecrementUsage(ctx, ResourceUsers, -4)
	require.NoError(t, err)
	require.Equal(t, CodeValidationFailed, res.Code)

	res, err = env.svc.CheckUsageLimit(ctx, ResourceType("beds"))
	require.NoError(t, err)
	require.Equal(t, CodeValidationFailed, res.Code)
}

func TestUsage_CachedViewIsInvalidatedByMutation(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, CreateInput{})
	ctx := context.Background()

	before, err := env.svc.CheckUsageLimit(ctx, ResourceAppointments)
	require.NoError(t, err)
	require.Equal(t, int64(0), before.Current)

	_, err = env.svc.IncrementUsage(ctx, ResourceAppointments, 4)
	require.NoError(t, err)

	after, err := env.svc.CheckUsageLimit(ctx, ResourceAppointments)
	require.NoError(t, err)
	require.Equal(t, int64(4), after.Current)
}

func TestUsage_ConcurrentIncrementsRespectLimit(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, CreateInput{MaxUsers: int64Ptr(3)})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.IncrementUsage(context.Background(), ResourceUsers, 1)
		}()
	}
	wg.Wait()

	res, err := env.svc.CheckUsageLimit(context.Background(), ResourceUsers)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Current)
}

func TestResetMonthlyUsage(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})
	ctx := context.Background()

	_, err := env.svc.IncrementUsage(ctx, ResourceAppointments, 10)
	require.NoError(t, err)
	_, err = env.svc.IncrementUsage(ctx, ResourcePatients, 3)
	require.NoError(t, err)

	n, err := env.svc.ResetMonthlyUsage(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	stored := env.reload(t, l.Key)
	require.Equal(t, int64(0), stored.AppointmentsThisMonth)
	require.Equal(t, int64(3), stored.CurrentPatients)
	require.Contains(t, env.events(t, l.ID), EventUsageReset)
}

func TestHasFeature(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})
	ctx := context.Background()

	ok, err := env.svc.HasFeature(ctx, "patients")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = env.svc.HasFeature(ctx, "billing")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = env.svc.SuspendLicense(ctx, l.Key, "")
	require.NoError(t, err)

	ok, err = env.svc.HasFeature(ctx, "patients")
	require.NoError(t, err)
	require.False(t, ok)
}
