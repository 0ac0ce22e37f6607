package license

import (
	"context"
	"testing"
	"time"

	"medilicense/pkg/config"
	"medilicense/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var baseTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc *Service
	db  *gorm.DB
	now time.Time
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.License.KeyStrategy = "standard"
	cfg.License.KeyPrefix = "MEDI"
	cfg.License.DefaultGraceDays = 7
	cfg.License.ExpiringSoonDays = 30
	cfg.License.Cache.TTL = time.Minute
	return cfg
}

type envOption func(*ServiceParams)

func withCache(c Cache) envOption {
	return func(p *ServiceParams) { p.Cache = c }
}

func withVerifier(v DomainVerifier) envOption {
	return func(p *ServiceParams) { p.Verifier = v }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	p := ServiceParams{
		Config:     testConfig(),
		Repository: NewRepository(db),
		Users:      NewUserStore(db, node),
		Audit:      NewAuditSink(db),
		Node:       node,
		Cache:      NewMemoryCache(),
	}
	for _, opt := range opts {
		opt(&p)
	}

	svc, err := NewService(p)
	require.NoError(t, err)

	env := &testEnv{svc: svc, db: db, now: baseTime}
	svc.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) create(t *testing.T, in CreateInput) *License {
	t.Helper()
	if in.Type == "" {
		in.Type = TypeStandard
	}
	res, err := e.svc.CreateLicense(context.Background(), in)
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	return res.License
}

func (e *testEnv) reload(t *testing.T, key string) *License {
	t.Helper()
	l, err := e.svc.repo.FindByKey(context.Background(), key)
	require.NoError(t, err)
	return l
}

func (e *testEnv) events(t *testing.T, licenseID string) []Event {
	t.Helper()
	var entries []AuditEntry
	require.NoError(t, e.db.Where("license_id = ?", licenseID).Order("timestamp ASC").Order("id ASC").Find(&entries).Error)
	out := make([]Event, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Event)
	}
	return out
}

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }
