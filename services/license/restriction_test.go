package license

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRestriction_NoLicense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	restricted, err := env.svc.ShouldRestrictApplication(ctx, nil)
	require.NoError(t, err)
	require.True(t, restricted)

	msg, err := env.svc.GetRestrictionMessage(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, MessageGeneric, msg)

	msg, err = env.svc.GetRestrictionMessage(ctx, &User{ID: "u1", TrialExpired: true})
	require.NoError(t, err)
	require.Equal(t, MessageTrialExpired, msg)
}

func TestRestriction_ValidAccessIsNeverRestricted(t *testing.T) {
	env := newTestEnv(t)

	user := &User{ID: "u1", ValidAccess: true, TrialExpired: true}
	restricted, err := env.svc.ShouldRestrictApplication(context.Background(), user)
	require.NoError(t, err)
	require.False(t, restricted)

	msg, err := env.svc.GetRestrictionMessage(context.Background(), user)
	require.NoError(t, err)
	require.Empty(t, msg)
}

func TestRestriction_ValidLicense(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, CreateInput{})

	restricted, err := env.svc.ShouldRestrictApplication(context.Background(), &User{ID: "u1"})
	require.NoError(t, err)
	require.False(t, restricted)
}

func TestRestriction_Messages(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{DurationMonths: 1})
	ctx := context.Background()

	// grace period still restricts access
	env.now = l.ExpiresAt.Add(time.Hour)
	msg, err := env.svc.GetRestrictionMessage(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, MessageLicenseExpired, msg)

	msg, err = env.svc.GetRestrictionMessage(ctx, &User{ID: "u1", TrialExpired: true})
	require.NoError(t, err)
	require.Equal(t, MessageTrialExpired, msg)

	env.now = baseTime
	_, err = env.svc.RevokeLicense(ctx, l.Key, "")
	require.NoError(t, err)

	msg, err = env.svc.GetRestrictionMessage(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, MessageRevoked, msg)
}
