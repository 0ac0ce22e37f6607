package license

import (
	"context"
	"testing"
	"time"

	"medilicense/services/keygen"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCreateLicense_TierDefaults(t *testing.T) {
	env := newTestEnv(t)
	fee := decimal.RequireFromString("149.50")

	l := env.create(t, CreateInput{Type: TypePremium, Licensee: " Sunrise Clinic ", MonthlyFee: &fee})

	require.Equal(t, TypePremium, l.Type)
	require.Equal(t, StatusActive, l.Status)
	require.Equal(t, "Sunrise Clinic", l.Licensee)
	require.True(t, keygen.ValidateFormat(l.Key, keygen.StrategyStandard), l.Key)
	require.NotEmpty(t, l.ActivationCode)
	require.True(t, l.IssuedAt.Equal(baseTime))
	require.True(t, l.ExpiresAt.Equal(baseTime.AddDate(1, 0, 0)))
	require.Equal(t, 7, l.GracePeriodDays)
	require.Equal(t, int64(25), l.MaxUsers)
	require.Equal(t, int64(3), l.MaxClinics)
	require.Equal(t, int64(10000), l.MaxPatients)
	require.Equal(t, int64(5000), l.MaxAppointmentsPerMonth)
	require.Contains(t, []string(l.Features), "billing")
	require.Nil(t, l.ActivatedAt)

	stored := env.reload(t, l.Key)
	require.True(t, stored.MonthlyFee.Valid)
	require.True(t, fee.Equal(stored.MonthlyFee.Decimal))
	require.Equal(t, []Event{EventCreated}, env.events(t, l.ID))
}

func TestCreateLicense_Overrides(t *testing.T) {
	env := newTestEnv(t)
	expires := baseTime.AddDate(0, 0, 45)

	l := env.create(t, CreateInput{
		Type:            TypeEnterprise,
		ExpiresAt:       &expires,
		GracePeriodDays: intPtr(0),
		MaxUsers:        int64Ptr(50),
		Features:        []string{"reports", " reports", "api_access", ""},
	})

	require.True(t, l.ExpiresAt.Equal(expires))
	require.Equal(t, 0, l.GracePeriodDays)
	require.Equal(t, int64(50), l.MaxUsers)
	require.Equal(t, Unlimited, l.MaxClinics)
	require.Equal(t, []string{"api_access", "reports"}, []string(l.Features))
}

func TestCreateLicense_KeyStrategies(t *testing.T) {
	env := newTestEnv(t)

	compact := env.create(t, CreateInput{Strategy: "compact"})
	require.Equal(t, keygen.StrategyCompact, keygen.ParseLicenseKey(compact.Key).Format)

	explicit := env.create(t, CreateInput{Key: "MEDI-ABCD-EFGH-IJKL-MNOP"})
	require.Equal(t, "MEDI-ABCD-EFGH-IJKL-MNOP", explicit.Key)
}

func TestCreateLicense_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.create(t, CreateInput{Key: "MEDI-ABCD-EFGH-IJKL-MNOP"})

	past := baseTime.Add(-time.Hour)
	future := baseTime.AddDate(0, 1, 0)
	cases := map[string]CreateInput{
		"missing type":     {},
		"unknown type":     {Type: "platinum"},
		"duplicate key":    {Type: TypeStandard, Key: "MEDI-ABCD-EFGH-IJKL-MNOP"},
		"short key":        {Type: TypeStandard, Key: "MEDI-1"},
		"past expiry":      {Type: TypeStandard, ExpiresAt: &past},
		"both expiries":    {Type: TypeStandard, ExpiresAt: &future, DurationMonths: 3},
		"negative grace":   {Type: TypeStandard, GracePeriodDays: intPtr(-1)},
		"unknown strategy": {Type: TypeStandard, Strategy: "rot13"},
	}
	for name, in := range cases {
		res, err := env.svc.CreateLicense(ctx, in)
		require.NoError(t, err, name)
		require.False(t, res.Success, name)
		require.Equal(t, CodeValidationFailed, res.Code, name)
	}
}

func TestUpdateLicense(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})
	ctx := context.Background()

	res, err := env.svc.UpdateLicense(ctx, l.Key, UpdateInput{})
	require.NoError(t, err)
	require.Equal(t, CodeValidationFailed, res.Code)

	premium := TypePremium
	name := "Harbor Dental"
	res, err = env.svc.UpdateLicense(ctx, l.Key, UpdateInput{
		Type:     &premium,
		Licensee: &name,
		MaxUsers: int64Ptr(Unlimited),
		Features: &[]string{"reports"},
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.Equal(t, TypePremium, res.License.Type)
	require.Equal(t, "Harbor Dental", res.License.Licensee)
	require.Equal(t, Unlimited, res.License.MaxUsers)
	require.Equal(t, []string{"reports"}, []string(res.License.Features))

	var entry AuditEntry
	require.NoError(t, env.db.Where("license_id = ? AND event = ?", l.ID, EventUpdated).First(&entry).Error)
	require.ElementsMatch(t, []any{"features", "licensee", "max_users", "type"}, entry.Metadata["fields"])

	res, err = env.svc.UpdateLicense(ctx, "MEDI-0000-0000-0000-0000", UpdateInput{Licensee: &name})
	require.NoError(t, err)
	require.Equal(t, CodeNotFound, res.Code)
}

func TestSuspendReactivateRevoke(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})
	ctx := context.Background()

	res, err := env.svc.SuspendLicense(ctx, l.Key, "chargeback")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, StatusSuspended, res.License.Status)
	require.Equal(t, "chargeback", res.License.SuspendedReason)
	require.NotNil(t, res.License.SuspendedAt)

	restricted, err := env.svc.ShouldRestrictApplication(ctx, nil)
	require.NoError(t, err)
	require.True(t, restricted)
	msg, err := env.svc.GetRestrictionMessage(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, MessageSuspended, msg)

	res, err = env.svc.SuspendLicense(ctx, l.Key, "again")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "chargeback", res.License.SuspendedReason)

	res, err = env.svc.ReactivateLicense(ctx, l.Key, "paid")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, StatusActive, res.License.Status)
	require.Nil(t, res.License.SuspendedAt)

	res, err = env.svc.ReactivateLicense(ctx, l.Key, "")
	require.NoError(t, err)
	require.Equal(t, CodeValidationFailed, res.Code)

	valid, err := env.svc.ValidateLicense(ctx, l.Key, nil)
	require.NoError(t, err)
	require.True(t, valid.Valid)

	res, err = env.svc.RevokeLicense(ctx, l.Key, "fraud")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, StatusRevoked, res.License.Status)

	res, err = env.svc.RevokeLicense(ctx, l.Key, "fraud")
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = env.svc.SuspendLicense(ctx, l.Key, "")
	require.NoError(t, err)
	require.Equal(t, CodeInactive, res.Code)
	res, err = env.svc.ReactivateLicense(ctx, l.Key, "")
	require.NoError(t, err)
	require.Equal(t, CodeInactive, res.Code)

	require.Equal(t, []Event{EventCreated, EventSuspended, EventReactivated, EventRevoked}, env.events(t, l.ID))
}

func TestRenewLicense(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{DurationMonths: 1})
	ctx := context.Background()

	res, err := env.svc.RenewLicense(ctx, l.Key, 0)
	require.NoError(t, err)
	require.Equal(t, CodeValidationFailed, res.Code)

	// renewing an expired license restores it
	env.now = l.ExpiresAt.AddDate(0, 0, 10)
	res, err = env.svc.RenewLicense(ctx, l.Key, 12)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.License.ExpiresAt.Equal(l.ExpiresAt.AddDate(0, 12, 0)))

	valid, err := env.svc.ValidateLicense(ctx, l.Key, nil)
	require.NoError(t, err)
	require.True(t, valid.Valid)
}

func TestGenerateKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.GenerateKeys(ctx, 0, "")
	require.Error(t, err)
	_, err = env.svc.GenerateKeys(ctx, maxBatchKeys+1, "")
	require.Error(t, err)

	keys, err := env.svc.GenerateKeys(ctx, 5, "segmented")
	require.NoError(t, err)
	require.Len(t, keys, 5)
	seen := map[string]bool{}
	for _, k := range keys {
		require.True(t, keygen.ValidateFormat(k, keygen.StrategySegmented), k)
		require.False(t, seen[k])
		seen[k] = true
	}
}

func TestMutateWithoutAuditEntry(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})
	env.advance(time.Hour)

	res, err := env.svc.mutate(context.Background(), l.Key, func(*License) (*Result, map[string]any, *AuditEntry) {
		return nil, nil, nil
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "License updated.", res.Message)
	require.Equal(t, []Event{EventCreated}, env.events(t, l.ID))
	require.True(t, env.reload(t, l.Key).UpdatedAt.After(l.UpdatedAt))
}
