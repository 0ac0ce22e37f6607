package license

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	verifyFn func(ctx context.Context, domain, token string) error
}

func (f *fakeVerifier) Verify(ctx context.Context, domain, token string) error {
	if f.verifyFn != nil {
		return f.verifyFn(ctx, domain, token)
	}
	return nil
}

func TestNewServiceRejectsUnknownStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.License.KeyStrategy = "rot13"

	_, err := NewService(ServiceParams{Config: cfg, Repository: &mockRepository{}})
	require.Error(t, err)
}

func TestValidateLicense_EmptyAndUnknownKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.ValidateLicense(ctx, "   ", nil)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, CodeValidationFailed, res.Code)

	res, err = env.svc.ValidateLicense(ctx, "MEDI-AAAA-BBBB-CCCC-DDDD", nil)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, CodeNotFound, res.Code)
}

func TestValidateLicense_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{DurationMonths: 1})
	ctx := context.Background()

	first, err := env.svc.ValidateLicense(ctx, l.Key, nil)
	require.NoError(t, err)
	second, err := env.svc.ValidateLicense(ctx, l.Key, nil)
	require.NoError(t, err)

	require.True(t, first.Valid)
	require.Equal(t, first.Valid, second.Valid)
	require.Equal(t, first.Code, second.Code)
	require.Equal(t, first.DaysRemaining, second.DaysRemaining)
	require.Equal(t, 31, first.DaysRemaining)

	stored := env.reload(t, l.Key)
	require.NotNil(t, stored.LastValidatedAt)
	require.True(t, stored.LastValidatedAt.Equal(baseTime))
}

func TestValidateLicense_ExpiredWithinGrace(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{DurationMonths: 1, GracePeriodDays: intPtr(7)})

	env.now = l.ExpiresAt.Add(48 * time.Hour)
	res, err := env.svc.ValidateLicense(context.Background(), l.Key, nil)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, CodeExpired, res.Code)
	require.True(t, res.InGrace)
	require.NotNil(t, res.GraceEndsAt)
	require.True(t, res.GraceEndsAt.Equal(l.ExpiresAt.AddDate(0, 0, 7)))
	require.Contains(t, res.Message, "Grace period ends on")
}

func TestValidateLicense_ExpiryBoundaryWithoutGrace(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{DurationMonths: 1, GracePeriodDays: intPtr(0)})
	ctx := context.Background()

	env.now = l.ExpiresAt.Add(-time.Second)
	res, err := env.svc.ValidateLicense(ctx, l.Key, nil)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, 1, res.DaysRemaining)

	env.now = l.ExpiresAt
	res, err = env.svc.ValidateLicense(ctx, l.Key, nil)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, CodeExpired, res.Code)
	require.False(t, res.InGrace)
}

func TestValidateLicense_Suspended(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})
	ctx := context.Background()

	_, err := env.svc.SuspendLicense(ctx, l.Key, "payment overdue")
	require.NoError(t, err)

	res, err := env.svc.ValidateLicense(ctx, l.Key, nil)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, CodeInactive, res.Code)
}

func TestActivateLicenseForUser_SecondUserIsRejected(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})
	ctx := context.Background()

	alice := &User{ID: "u-alice", Name: "Alice"}
	bob := &User{ID: "u-bob", Name: "Bob"}

	res, err := env.svc.ActivateLicenseForUser(ctx, alice, l.Key)
	require.NoError(t, err)
	require.True(t, res.Valid, res.Message)
	require.True(t, alice.HasActivatedLicense)
	require.Equal(t, l.Key, alice.LicenseKey)

	res, err = env.svc.ActivateLicenseForUser(ctx, bob, l.Key)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, CodeAlreadyInUse, res.Code)
	require.Equal(t, "Alice", res.Holder)
	require.False(t, bob.HasActivatedLicense)

	// the holder can repeat the call without a second assignment
	res, err = env.svc.ActivateLicenseForUser(ctx, alice, l.Key)
	require.NoError(t, err)
	require.True(t, res.Valid)

	var assignments int64
	require.NoError(t, env.db.Model(&Assignment{}).Count(&assignments).Error)
	require.Equal(t, int64(1), assignments)
	require.Equal(t, []Event{EventCreated, EventAssigned}, env.events(t, l.ID))
}

func TestValidateLicense_HolderCheck(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})
	ctx := context.Background()

	_, err := env.svc.ActivateLicenseForUser(ctx, &User{ID: "u-alice", Name: "Alice"}, l.Key)
	require.NoError(t, err)

	res, err := env.svc.ValidateLicense(ctx, l.Key, &User{ID: "u-bob"})
	require.NoError(t, err)
	require.Equal(t, CodeAlreadyInUse, res.Code)

	res, err = env.svc.ValidateLicense(ctx, l.Key, &User{ID: "u-alice"})
	require.NoError(t, err)
	require.True(t, res.Valid)

	res, err = env.svc.ValidateLicense(ctx, l.Key, nil)
	require.NoError(t, err)
	require.True(t, res.Valid, "anonymous validation skips the holder check")
}

func TestActivateLicenseForUser_RequiresUser(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})

	res, err := env.svc.ActivateLicenseForUser(context.Background(), nil, l.Key)
	require.NoError(t, err)
	require.Equal(t, CodeValidationFailed, res.Code)
}

func TestActivateLicense(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})
	ctx := context.Background()

	res, err := env.svc.ActivateLicense(ctx, ActivationRequest{Key: l.Key, ActivationCode: "WRONG"})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, CodeInvalidActivationCode, res.Code)

	res, err = env.svc.ActivateLicense(ctx, ActivationRequest{Key: l.Key})
	require.NoError(t, err)
	require.Equal(t, CodeInvalidActivationCode, res.Code)

	res, err = env.svc.ActivateLicense(ctx, ActivationRequest{
		Key:            l.Key,
		ActivationCode: l.ActivationCode,
		Domain:         "clinic.example.com",
		IP:             "10.0.0.7",
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.ActivatedAt)

	stored := env.reload(t, l.Key)
	require.NotNil(t, stored.ActivatedAt)
	require.Equal(t, "clinic.example.com", *stored.ActivationDomain)
	require.Equal(t, "10.0.0.7", *stored.ActivationIP)

	res, err = env.svc.ActivateLicense(ctx, ActivationRequest{Key: l.Key, ActivationCode: l.ActivationCode})
	require.NoError(t, err)
	require.Equal(t, CodeAlreadyActivated, res.Code)

	require.Equal(t, []Event{EventCreated, EventActivated}, env.events(t, l.ID))
}

func TestActivateLicense_InvalidRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.ActivateLicense(ctx, ActivationRequest{})
	require.NoError(t, err)
	require.Equal(t, CodeValidationFailed, res.Code)

	l := env.create(t, CreateInput{})
	res, err = env.svc.ActivateLicense(ctx, ActivationRequest{Key: l.Key, ActivationCode: l.ActivationCode, IP: "not-an-ip"})
	require.NoError(t, err)
	require.Equal(t, CodeValidationFailed, res.Code)

	res, err = env.svc.ActivateLicense(ctx, ActivationRequest{Key: "MEDI-0000-0000-0000-0000", ActivationCode: "X"})
	require.NoError(t, err)
	require.Equal(t, CodeNotFound, res.Code)
}

func TestActivateLicense_DomainVerification(t *testing.T) {
	var gotDomain, gotToken string
	verifier := &fakeVerifier{verifyFn: func(ctx context.Context, domain, token string) error {
		gotDomain, gotToken = domain, token
		return errors.New("txt record missing")
	}}
	env := newTestEnv(t, withVerifier(verifier))
	l := env.create(t, CreateInput{})

	res, err := env.svc.ActivateLicense(context.Background(), ActivationRequest{
		Key:            l.Key,
		ActivationCode: l.ActivationCode,
		Domain:         "clinic.example.com",
	})
	require.NoError(t, err)
	require.Equal(t, CodeActivationFailed, res.Code)
	require.Equal(t, "clinic.example.com", gotDomain)
	require.Equal(t, l.ID, gotToken)
	require.Nil(t, env.reload(t, l.Key).ActivatedAt)

	verifier.verifyFn = nil
	res, err = env.svc.ActivateLicense(context.Background(), ActivationRequest{
		Key:            l.Key,
		ActivationCode: l.ActivationCode,
		Domain:         "clinic.example.com",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestActivateLicense_SlowVerificationIsBounded(t *testing.T) {
	verifier := &fakeVerifier{verifyFn: func(ctx context.Context, domain, token string) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	env := newTestEnv(t, withVerifier(verifier))
	env.svc.cfg.ValidationTimeout = 50 * time.Millisecond
	l := env.create(t, CreateInput{})

	start := time.Now()
	res, err := env.svc.ActivateLicense(context.Background(), ActivationRequest{
		Key:            l.Key,
		ActivationCode: l.ActivationCode,
		Domain:         "clinic.example.com",
	})
	require.NoError(t, err)
	require.Equal(t, CodeActivationFailed, res.Code)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestActivateLicense_VerificationDoesNotHoldKeyLock(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})

	var mutated bool
	env.svc.verifier = &fakeVerifier{verifyFn: func(ctx context.Context, domain, token string) error {
		done := make(chan struct{})
		go func() {
			defer close(done)
			name := "Clinica Norte"
			_, _ = env.svc.UpdateLicense(context.Background(), l.Key, UpdateInput{Licensee: &name})
		}()
		select {
		case <-done:
			mutated = true
		case <-time.After(2 * time.Second):
		}
		return nil
	}}

	res, err := env.svc.ActivateLicense(context.Background(), ActivationRequest{
		Key:            l.Key,
		ActivationCode: l.ActivationCode,
		Domain:         "clinic.example.com",
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.True(t, mutated)
	require.Equal(t, "Clinica Norte", env.reload(t, l.Key).Licensee)
}

func TestActivateLicense_ConcurrentCallsActivateOnce(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.ActivateLicense(context.Background(), ActivationRequest{Key: l.Key, ActivationCode: l.ActivationCode})
			if err != nil || !res.Success {
				return
			}
			mu.Lock()
			successes++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
}

func TestActivateLicense_RepositoryErrorIsActivationFailed(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})

	repo := &mockRepository{
		Repository: env.svc.repo,
		activateFn: func(context.Context, string, time.Time, *string, *string) (bool, error) {
			return false, errors.New("db down")
		},
	}
	env.svc.repo = repo

	res, err := env.svc.ActivateLicense(context.Background(), ActivationRequest{Key: l.Key, ActivationCode: l.ActivationCode})
	require.NoError(t, err)
	require.Equal(t, CodeActivationFailed, res.Code)
}

func TestAuditFailureIsReported(t *testing.T) {
	env := newTestEnv(t)
	l := env.create(t, CreateInput{})
	env.svc.audit = &mockAuditSink{appendFn: func(context.Context, *AuditEntry) error {
		return errors.New("audit store unavailable")
	}}

	_, err := env.svc.SuspendLicense(context.Background(), l.Key, "")
	require.Error(t, err)
	// the mutation itself is kept
	require.Equal(t, StatusSuspended, env.reload(t, l.Key).Status)
}

type mockRepository struct {
	Repository
	findByKeyFn   func(ctx context.Context, key string) (*License, error)
	findCurrentFn func(ctx context.Context) (*License, error)
	activateFn    func(ctx context.Context, id string, at time.Time, domain, ip *string) (bool, error)
}

func (m *mockRepository) FindByKey(ctx context.Context, key string) (*License, error) {
	if m.findByKeyFn != nil {
		return m.findByKeyFn(ctx, key)
	}
	return m.Repository.FindByKey(ctx, key)
}

func (m *mockRepository) FindCurrent(ctx context.Context) (*License, error) {
	if m.findCurrentFn != nil {
		return m.findCurrentFn(ctx)
	}
	return m.Repository.FindCurrent(ctx)
}

func (m *mockRepository) Activate(ctx context.Context, id string, at time.Time, domain, ip *string) (bool, error) {
	if m.activateFn != nil {
		return m.activateFn(ctx, id, at, domain, ip)
	}
	return m.Repository.Activate(ctx, id, at, domain, ip)
}

type mockAuditSink struct {
	appendFn func(ctx context.Context, entry *AuditEntry) error
}

func (m *mockAuditSink) Append(ctx context.Context, entry *AuditEntry) error {
	if m.appendFn != nil {
		return m.appendFn(ctx, entry)
	}
	return nil
}
