package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medilicense/pkg/db/pagination"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// MaskKey hides every group of a key except the prefix and the last group,
// e.g. MEDI-****-****-****-MNOP.
func MaskKey(key string) string {
	parts := strings.Split(key, "-")
	if len(parts) <= 2 {
		last := parts[len(parts)-1]
		if len(last) <= 4 {
			return strings.Repeat("*", len(key))
		}
		parts[len(parts)-1] = strings.Repeat("*", len(last)-4) + last[len(last)-4:]
		return strings.Join(parts, "-")
	}
	for i := 1; i < len(parts)-1; i++ {
		parts[i] = strings.Repeat("*", len(parts[i]))
	}
	return strings.Join(parts, "-")
}

func usageViews(l *License) map[ResourceType]*UsageResult {
	out := make(map[ResourceType]*UsageResult, len(ResourceTypes))
	for _, rt := range ResourceTypes {
		out[rt] = usageOf(l, rt)
	}
	return out
}

// GetLicenseStatus summarizes the current license for dashboards.
func (s *Service) GetLicenseStatus(ctx context.Context) (*StatusView, error) {
	l, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return &StatusView{State: StateNoLicense, Message: "No license found."}, nil
	}

	now := s.clock()
	expires := l.ExpiresAt
	view := &StatusView{
		HasLicense:         true,
		Key:                MaskKey(l.Key),
		Type:               l.Type,
		Licensee:           l.Licensee,
		Status:             l.Status,
		Validity:           Classify(l, now),
		State:              stateOf(l, now),
		Activated:          l.ActivatedAt != nil,
		ExpiresAt:          &expires,
		DaysRemaining:      l.DaysRemaining(now),
		GraceDaysRemaining: l.GraceDaysRemaining(now),
		Features:           []string(l.Features),
		Usage:              usageViews(l),
	}
	view.Message = statusMessage(view)
	return view, nil
}

func statusMessage(v *StatusView) string {
	switch v.State {
	case StateRevoked:
		return "License has been revoked."
	case StateSuspended:
		return "License is suspended."
	case StateGrace:
		return fmt.Sprintf("License has expired. Grace period ends in %d days.", v.GraceDaysRemaining)
	case StateExpired:
		return "License has expired."
	}
	return fmt.Sprintf("License is active. %d days remaining.", v.DaysRemaining)
}

// GetLicenseInfo returns the detailed view of the license with key.
func (s *Service) GetLicenseInfo(ctx context.Context, key string) (*Info, *Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fail(CodeValidationFailed, "License key is required."), nil
	}

	l, err := s.repo.FindByKeyWithAudit(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fail(CodeNotFound, "License key not found."), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find license: %w", err)
	}

	var holder string
	if s.users != nil {
		h, err := s.users.FindHolder(ctx, key)
		if err != nil {
			return nil, nil, fmt.Errorf("find license holder: %w", err)
		}
		holder = h.DisplayName()
	}

	now := s.clock()
	info := &Info{
		ID:                 l.ID,
		Key:                l.Key,
		Type:               l.Type,
		Licensee:           l.Licensee,
		Status:             l.Status,
		Validity:           Classify(l, now),
		State:              stateOf(l, now),
		IssuedAt:           l.IssuedAt,
		ExpiresAt:          l.ExpiresAt,
		GracePeriodDays:    l.GracePeriodDays,
		GraceEndsAt:        l.GraceEndsAt(),
		DaysRemaining:      l.DaysRemaining(now),
		GraceDaysRemaining: l.GraceDaysRemaining(now),
		ActivatedAt:        l.ActivatedAt,
		ActivationDomain:   l.ActivationDomain,
		LastValidatedAt:    l.LastValidatedAt,
		Features:           []string(l.Features),
		MonthlyFee:         l.MonthlyFee,
		Usage:              usageViews(l),
		Holder:             holder,
		SuspendedReason:    l.SuspendedReason,
		RevokedReason:      l.RevokedReason,
		AuditLog:           l.AuditLog,
	}
	if info.AuditLog == nil {
		info.AuditLog = []AuditEntry{}
	}
	return info, ok(nil, "OK"), nil
}

// GetLicenseStatistics aggregates license counts. withinDays <= 0 uses the
// configured expiring-soon window.
func (s *Service) GetLicenseStatistics(ctx context.Context, withinDays int) (*Statistics, error) {
	if withinDays <= 0 {
		withinDays = s.cfg.ExpiringSoonDays
	}
	now := s.clock()
	stats := &Statistics{WithinDays: withinDays}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.ByType, err = s.repo.CountByType(gctx)
		return err
	})
	g.Go(func() (err error) {
		stats.ByStatus, err = s.repo.CountByStatus(gctx)
		return err
	})
	g.Go(func() (err error) {
		stats.ExpiringSoon, err = s.repo.CountExpiringWithin(gctx, now, withinDays)
		return err
	})
	g.Go(func() (err error) {
		stats.Expired, err = s.repo.CountExpired(gctx, now)
		return err
	})
	g.Go(func() (err error) {
		stats.Activated, err = s.repo.CountActivated(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("license statistics: %w", err)
	}

	for _, n := range stats.ByType {
		stats.Total += n
	}
	return stats, nil
}

// ListLicenses returns one keyset page of licenses, newest first.
func (s *Service) ListLicenses(ctx context.Context, filter ListParams, page pagination.Pagination) ([]License, *pagination.PageInfo, error) {
	page = page.Normalize()
	filter.Limit = page.Limit + 1

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, err
		}
		issuedAt, err := time.Parse(time.RFC3339Nano, cursor.IssuedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("decode cursor: %w", err)
		}
		filter.AfterIssuedAt = &issuedAt
		filter.AfterID = cursor.ID
	}

	licenses, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("list licenses: %w", err)
	}

	return pagination.Page(licenses, page.Limit, func(l License) pagination.Cursor {
		return pagination.Cursor{IssuedAt: l.IssuedAt.UTC().Format(time.RFC3339Nano), ID: l.ID}
	})
}

// NotifyExpiring records an expiry warning for every active license that
// expires within withinDays and returns how many were warned.
func (s *Service) NotifyExpiring(ctx context.Context, withinDays int) (int, error) {
	ctx, span := tracer.Start(ctx, "license.NotifyExpiring")
	defer span.End()

	if withinDays <= 0 {
		withinDays = s.cfg.ExpiringSoonDays
	}
	now := s.clock()

	licenses, err := s.repo.ListExpiringWithin(ctx, now, withinDays)
	if err != nil {
		return 0, fmt.Errorf("list expiring licenses: %w", err)
	}

	for i := range licenses {
		l := &licenses[i]
		days := l.DaysRemaining(now)
		if err := s.record(ctx, l, EventExpiryWarning, fmt.Sprintf("License expires in %d days", days), map[string]any{
			"expires_at":     l.ExpiresAt.Format(time.RFC3339),
			"days_remaining": days,
		}); err != nil {
			return i, err
		}
		zap.L().Warn("license expiring soon",
			zap.String("license_id", l.ID),
			zap.String("licensee", l.Licensee),
			zap.Int("days_remaining", days))
	}
	return len(licenses), nil
}
