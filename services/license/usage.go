package license

import (
	"context"
	"fmt"
	"strings"

	"medilicense/pkg/rediskey"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// HasFeature reports whether the current valid license grants name.
func (s *Service) HasFeature(ctx context.Context, name string) (bool, error) {
	l, err := s.current(ctx)
	if err != nil {
		return false, err
	}
	if l == nil || !l.IsValid(s.clock()) {
		return false, nil
	}
	return l.HasFeature(strings.TrimSpace(name)), nil
}

// CheckUsageLimit reports current usage and limit of rt on the current
// license. Success is false once the limit is reached.
func (s *Service) CheckUsageLimit(ctx context.Context, rt ResourceType) (*UsageResult, error) {
	if !rt.Valid() {
		return &UsageResult{Type: rt, Code: CodeValidationFailed, Message: fmt.Sprintf("Unknown resource type %q.", rt)}, nil
	}

	key := rediskey.BuildUsageKey(string(rt))
	var cached UsageResult
	hit, gen := s.cached(ctx, key, &cached)
	if hit {
		return &cached, nil
	}

	l, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return &UsageResult{Type: rt, Code: CodeNoLicense, Message: "No license found."}, nil
	}

	res := usageOf(l, rt)
	s.fill(ctx, gen, key, res)
	return res, nil
}

// IncrementUsage adds amount to the rt counter when the limit allows it.
func (s *Service) IncrementUsage(ctx context.Context, rt ResourceType, amount int64) (*UsageResult, error) {
	if amount < 1 {
		return badAmount(rt), nil
	}
	return s.adjustUsage(ctx, rt, amount)
}

// DecrementUsage subtracts amount from the rt counter, clamping at zero.
func (s *Service) DecrementUsage(ctx context.Context, rt ResourceType, amount int64) (*UsageResult, error) {
	if amount < 1 {
		return badAmount(rt), nil
	}
	return s.adjustUsage(ctx, rt, -amount)
}

func badAmount(rt ResourceType) *UsageResult {
	return &UsageResult{Type: rt, Code: CodeValidationFailed, Message: "Amount must be at least 1."}
}

func (s *Service) adjustUsage(ctx context.Context, rt ResourceType, delta int64) (*UsageResult, error) {
	ctx, span := tracer.Start(ctx, "license.AdjustUsage")
	defer span.End()
	span.SetAttributes(attribute.String("license.resource", string(rt)), attribute.Int64("license.delta", delta))

	if !rt.Valid() {
		return &UsageResult{Type: rt, Code: CodeValidationFailed, Message: fmt.Sprintf("Unknown resource type %q.", rt)}, nil
	}

	l, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return &UsageResult{Type: rt, Code: CodeNoLicense, Message: "No license found."}, nil
	}

	unlock := s.locks.Lock(l.Key)
	defer unlock()

	changed, err := s.repo.AdjustUsage(ctx, l.ID, rt, delta, s.clock())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("adjust %s usage: %w", rt, err)
	}
	s.invalidate(ctx)

	fresh, err := s.repo.FindByKey(ctx, l.Key)
	if err != nil {
		return nil, fmt.Errorf("reload license: %w", err)
	}
	res := usageOf(fresh, rt)

	op := "increment"
	if delta < 0 {
		op = "decrement"
	}
	if !changed {
		usageAdjustments.WithLabelValues(string(rt), "rejected").Inc()
		if delta > 0 {
			res.Success = false
			res.Code = CodeUsageLimitExceeded
			res.Message = fmt.Sprintf("Usage limit exceeded for %s: %d of %d used.", rt, res.Current, res.Limit)
			return res, nil
		}
		return nil, fmt.Errorf("adjust %s usage: license %s not updated", rt, l.ID)
	}

	usageAdjustments.WithLabelValues(string(rt), op).Inc()
	zap.L().Debug("license usage adjusted",
		zap.String("license_id", l.ID),
		zap.String("type", string(rt)),
		zap.Int64("delta", delta),
		zap.Int64("current", res.Current))

	// a successful mutation is a success even when it fills the last slot
	res.Success = true
	res.Code = CodeOK
	res.Message = fmt.Sprintf("%s usage updated.", rt)
	return res, nil
}

// ResetMonthlyUsage zeroes the monthly appointment counters and returns how
// many licenses changed.
func (s *Service) ResetMonthlyUsage(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "license.ResetMonthlyUsage")
	defer span.End()

	n, err := s.repo.ResetMonthlyUsage(ctx, s.clock())
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("reset monthly usage: %w", err)
	}
	s.invalidate(ctx)

	l, err := s.current(ctx)
	if err != nil {
		return n, err
	}
	if l != nil {
		if err := s.record(ctx, l, EventUsageReset, "Monthly usage reset", map[string]any{
			"licenses": n,
		}); err != nil {
			return n, err
		}
	}

	zap.L().Info("monthly license usage reset", zap.Int64("licenses", n))
	return n, nil
}
