package license

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"medilicense/pkg/util"
	"medilicense/services/keygen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultDurationMonths = 12
	maxRenewMonths        = 120
	maxBatchKeys          = 100
)

type tierLimits struct {
	Users, Clinics, Patients, AppointmentsPerMonth int64
	Features                                       []string
}

var (
	standardFeatures   = []string{"appointments", "patients", "prescriptions"}
	premiumFeatures    = append(slices.Clone(standardFeatures), "billing", "reports", "sms_reminders")
	enterpriseFeatures = append(slices.Clone(premiumFeatures), "multi_clinic", "api_access", "audit_export")
)

var tierDefaults = map[Type]tierLimits{
	TypeStandard:   {Users: 5, Clinics: 1, Patients: 1000, AppointmentsPerMonth: 500, Features: standardFeatures},
	TypePremium:    {Users: 25, Clinics: 3, Patients: 10000, AppointmentsPerMonth: 5000, Features: premiumFeatures},
	TypeEnterprise: {Users: Unlimited, Clinics: Unlimited, Patients: Unlimited, AppointmentsPerMonth: Unlimited, Features: enterpriseFeatures},
}

// CreateInput describes a new license. Nil limits take the tier default;
// a negative limit means unlimited and zero is a hard cap.
type CreateInput struct {
	Type                    Type             `json:"type" validate:"required,oneof=standard premium enterprise"`
	Key                     string           `json:"key,omitempty" validate:"omitempty,min=10,max=128"`
	Strategy                string           `json:"strategy,omitempty" validate:"omitempty,oneof=standard compact segmented custom"`
	KeyPrefix               string           `json:"key_prefix,omitempty" validate:"omitempty,alphanum,max=16"`
	KeyFormat               string           `json:"key_format,omitempty" validate:"omitempty,max=96"`
	Licensee                string           `json:"licensee,omitempty" validate:"omitempty,max=255"`
	ExpiresAt               *time.Time       `json:"expires_at,omitempty"`
	DurationMonths          int              `json:"duration_months,omitempty" validate:"omitempty,gte=1,lte=120"`
	GracePeriodDays         *int             `json:"grace_period_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	MaxUsers                *int64           `json:"max_users,omitempty"`
	MaxClinics              *int64           `json:"max_clinics,omitempty"`
	MaxPatients             *int64           `json:"max_patients,omitempty"`
	MaxAppointmentsPerMonth *int64           `json:"max_appointments_per_month,omitempty"`
	Features                []string         `json:"features,omitempty" validate:"omitempty,dive,required,max=64"`
	MonthlyFee              *decimal.Decimal `json:"monthly_fee,omitempty"`
	Metadata                map[string]any   `json:"metadata,omitempty"`
}

// UpdateInput carries the fields to change; nil fields are left alone.
type UpdateInput struct {
	Type                    *Type            `json:"type,omitempty" validate:"omitempty,oneof=standard premium enterprise"`
	Licensee                *string          `json:"licensee,omitempty" validate:"omitempty,max=255"`
	ExpiresAt               *time.Time       `json:"expires_at,omitempty"`
	GracePeriodDays         *int             `json:"grace_period_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	MaxUsers                *int64           `json:"max_users,omitempty"`
	MaxClinics              *int64           `json:"max_clinics,omitempty"`
	MaxPatients             *int64           `json:"max_patients,omitempty"`
	MaxAppointmentsPerMonth *int64           `json:"max_appointments_per_month,omitempty"`
	Features                *[]string        `json:"features,omitempty" validate:"omitempty,dive,required,max=64"`
	MonthlyFee              *decimal.Decimal `json:"monthly_fee,omitempty"`
	Metadata                map[string]any   `json:"metadata,omitempty"`
}

func normalizeFeatures(in []string) []string {
	out := make([]string, 0, len(in))
	for _, f := range in {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func limitOr(v *int64, def int64) int64 {
	if v != nil {
		return *v
	}
	return def
}

// keyOptionsFor builds generation options from explicit overrides, falling
// back to the configured strategy.
func (s *Service) keyOptionsFor(strategy, prefix, format string) (keygen.Options, error) {
	if strategy == "" && prefix == "" && format == "" {
		return s.keyOption, nil
	}
	if strategy == "" {
		strategy = string(s.keyOption.Strategy())
	}
	parsed, err := keygen.ParseStrategy(strategy)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = s.cfg.KeyPrefix
	}
	if format == "" && parsed == s.keyOption.Strategy() {
		format = s.cfg.KeyFormat
	}
	return optionsFor(parsed, prefix, format)
}

// CreateLicense issues a new license. Generation failures are returned as
// errors; invalid input is reported in the result.
func (s *Service) CreateLicense(ctx context.Context, in CreateInput) (*Result, error) {
	ctx, span := tracer.Start(ctx, "license.CreateLicense")
	defer span.End()

	in.Key = strings.TrimSpace(in.Key)
	if err := s.validate.Struct(in); err != nil {
		return fail(CodeValidationFailed, validationMessage(err)), nil
	}
	if in.ExpiresAt != nil && in.DurationMonths > 0 {
		return fail(CodeValidationFailed, "Set either expires_at or duration_months, not both."), nil
	}

	now := s.clock()
	expiresAt := now.AddDate(0, defaultDurationMonths, 0)
	switch {
	case in.ExpiresAt != nil:
		expiresAt = in.ExpiresAt.UTC()
		if !expiresAt.After(now) {
			return fail(CodeValidationFailed, "expires_at must be in the future."), nil
		}
	case in.DurationMonths > 0:
		expiresAt = now.AddDate(0, in.DurationMonths, 0)
	}

	key := in.Key
	if key != "" {
		if keygen.ParseLicenseKey(key).Format == keygen.StrategyUnknown {
			return fail(CodeValidationFailed, "License key format is not recognised."), nil
		}
		exists, err := s.repo.KeyExists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("check license key: %w", err)
		}
		if exists {
			return fail(CodeValidationFailed, "License key already exists."), nil
		}
	} else {
		opts, err := s.keyOptionsFor(in.Strategy, in.KeyPrefix, in.KeyFormat)
		if err != nil {
			return nil, err
		}
		if key, err = s.keys.Generate(ctx, opts); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("generate license key: %w", err)
		}
	}

	code, err := util.GenerateActivationCode()
	if err != nil {
		return nil, fmt.Errorf("generate activation code: %w", err)
	}

	tier := tierDefaults[in.Type]
	features := tier.Features
	if in.Features != nil {
		features = in.Features
	}
	grace := s.cfg.DefaultGraceDays
	if in.GracePeriodDays != nil {
		grace = *in.GracePeriodDays
	}

	l := &License{
		ID:                      s.nextID(),
		Key:                     key,
		Type:                    in.Type,
		Status:                  StatusActive,
		Licensee:                strings.TrimSpace(in.Licensee),
		IssuedAt:                now,
		ExpiresAt:               expiresAt,
		GracePeriodDays:         grace,
		ActivationCode:          code,
		MaxUsers:                limitOr(in.MaxUsers, tier.Users),
		MaxClinics:              limitOr(in.MaxClinics, tier.Clinics),
		MaxPatients:             limitOr(in.MaxPatients, tier.Patients),
		MaxAppointmentsPerMonth: limitOr(in.MaxAppointmentsPerMonth, tier.AppointmentsPerMonth),
		Features:                normalizeFeatures(features),
		Metadata:                datatypes.JSONMap(in.Metadata),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if in.MonthlyFee != nil {
		l.MonthlyFee = decimal.NewNullDecimal(*in.MonthlyFee)
	}

	if err := s.repo.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("create license: %w", err)
	}
	s.invalidate(ctx)

	if err := s.record(ctx, l, EventCreated, fmt.Sprintf("%s license created", l.Type), map[string]any{
		"expires_at": l.ExpiresAt.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	zap.L().Info("license created", zap.String("license_id", l.ID), zap.String("type", string(l.Type)))
	return ok(l, "License created."), nil
}

// UpdateLicense applies a partial update to the license identified by key.
func (s *Service) UpdateLicense(ctx context.Context, key string, in UpdateInput) (*Result, error) {
	ctx, span := tracer.Start(ctx, "license.UpdateLicense")
	defer span.End()

	if err := s.validate.Struct(in); err != nil {
		return fail(CodeValidationFailed, validationMessage(err)), nil
	}

	fields := map[string]any{}
	if in.Type != nil {
		fields["type"] = *in.Type
	}
	if in.Licensee != nil {
		fields["licensee"] = strings.TrimSpace(*in.Licensee)
	}
	if in.ExpiresAt != nil {
		fields["expires_at"] = in.ExpiresAt.UTC()
	}
	if in.GracePeriodDays != nil {
		fields["grace_period_days"] = *in.GracePeriodDays
	}
	if in.MaxUsers != nil {
		fields["max_users"] = *in.MaxUsers
	}
	if in.MaxClinics != nil {
		fields["max_clinics"] = *in.MaxClinics
	}
	if in.MaxPatients != nil {
		fields["max_patients"] = *in.MaxPatients
	}
	if in.MaxAppointmentsPerMonth != nil {
		fields["max_appointments_per_month"] = *in.MaxAppointmentsPerMonth
	}
	if in.Features != nil {
		fields["features"] = datatypes.JSONSlice[string](normalizeFeatures(*in.Features))
	}
	if in.MonthlyFee != nil {
		fields["monthly_fee"] = decimal.NewNullDecimal(*in.MonthlyFee)
	}
	if in.Metadata != nil {
		fields["metadata"] = datatypes.JSONMap(in.Metadata)
	}
	if len(fields) == 0 {
		return fail(CodeValidationFailed, "Nothing to update."), nil
	}

	changed := make([]string, 0, len(fields))
	for k := range fields {
		changed = append(changed, k)
	}
	slices.Sort(changed)

	return s.mutate(ctx, key, func(l *License) (*Result, map[string]any, *AuditEntry) {
		return nil, fields, &AuditEntry{
			Event:    EventUpdated,
			Message:  "License updated",
			Metadata: datatypes.JSONMap{"fields": changed},
		}
	})
}

// SuspendLicense moves an active license to suspended. Suspending twice is
// a no-op; revoked licenses cannot be suspended.
func (s *Service) SuspendLicense(ctx context.Context, key, reason string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "license.SuspendLicense")
	defer span.End()

	reason = strings.TrimSpace(reason)
	return s.mutate(ctx, key, func(l *License) (*Result, map[string]any, *AuditEntry) {
		switch l.Status {
		case StatusRevoked:
			return fail(CodeInactive, "A revoked license cannot be suspended."), nil, nil
		case StatusSuspended:
			return ok(l, "License is already suspended."), nil, nil
		}
		now := s.clock()
		return nil, map[string]any{
				"status":           StatusSuspended,
				"suspended_at":     now,
				"suspended_reason": reason,
			}, &AuditEntry{
				Event:    EventSuspended,
				Message:  "License suspended: " + reasonOrDefault(reason),
				Metadata: datatypes.JSONMap{"reason": reason},
			}
	})
}

// ReactivateLicense returns a suspended license to active.
func (s *Service) ReactivateLicense(ctx context.Context, key, reason string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "license.ReactivateLicense")
	defer span.End()

	reason = strings.TrimSpace(reason)
	return s.mutate(ctx, key, func(l *License) (*Result, map[string]any, *AuditEntry) {
		switch l.Status {
		case StatusRevoked:
			return fail(CodeInactive, "A revoked license cannot be reactivated."), nil, nil
		case StatusActive:
			return fail(CodeValidationFailed, "License is not suspended."), nil, nil
		}
		return nil, map[string]any{
				"status":           StatusActive,
				"suspended_at":     nil,
				"suspended_reason": "",
			}, &AuditEntry{
				Event:    EventReactivated,
				Message:  "License reactivated: " + reasonOrDefault(reason),
				Metadata: datatypes.JSONMap{"reason": reason},
			}
	})
}

// RevokeLicense permanently revokes a license. Revoking twice is a no-op.
func (s *Service) RevokeLicense(ctx context.Context, key, reason string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "license.RevokeLicense")
	defer span.End()

	reason = strings.TrimSpace(reason)
	return s.mutate(ctx, key, func(l *License) (*Result, map[string]any, *AuditEntry) {
		if l.Status == StatusRevoked {
			return ok(l, "License is already revoked."), nil, nil
		}
		now := s.clock()
		return nil, map[string]any{
				"status":         StatusRevoked,
				"revoked_at":     now,
				"revoked_reason": reason,
			}, &AuditEntry{
				Event:    EventRevoked,
				Message:  "License revoked: " + reasonOrDefault(reason),
				Metadata: datatypes.JSONMap{"reason": reason},
			}
	})
}

// RenewLicense moves expires_at forward by months. Status is untouched.
func (s *Service) RenewLicense(ctx context.Context, key string, months int) (*Result, error) {
	ctx, span := tracer.Start(ctx, "license.RenewLicense")
	defer span.End()

	if months < 1 || months > maxRenewMonths {
		return fail(CodeValidationFailed, fmt.Sprintf("Renewal must be between 1 and %d months.", maxRenewMonths)), nil
	}

	return s.mutate(ctx, key, func(l *License) (*Result, map[string]any, *AuditEntry) {
		expiresAt := l.ExpiresAt.AddDate(0, months, 0)
		return nil, map[string]any{
				"expires_at": expiresAt,
			}, &AuditEntry{
				Event:   EventRenewed,
				Message: fmt.Sprintf("License renewed for %d months", months),
				Metadata: datatypes.JSONMap{
					"months":         months,
					"old_expires_at": l.ExpiresAt.Format(time.RFC3339),
					"new_expires_at": expiresAt.Format(time.RFC3339),
				},
			}
	})
}

// mutate runs one locked read-modify-write on the license identified by key.
// decide returns either a final result or the fields to persist plus the
// audit entry describing the change.
func (s *Service) mutate(ctx context.Context, key string, decide func(l *License) (*Result, map[string]any, *AuditEntry)) (*Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return fail(CodeValidationFailed, "License key is required."), nil
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	l, err := s.repo.FindByKey(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(CodeNotFound, "License key not found."), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find license: %w", err)
	}

	res, fields, entry := decide(l)
	if res != nil {
		return res, nil
	}

	if fields == nil {
		fields = map[string]any{}
	}
	fields["updated_at"] = s.clock()
	if err := s.repo.Update(ctx, l.ID, fields); err != nil {
		return nil, fmt.Errorf("update license: %w", err)
	}
	s.invalidate(ctx)

	if entry != nil {
		if err := s.record(ctx, l, entry.Event, entry.Message, entry.Metadata); err != nil {
			return nil, err
		}
	}

	fresh, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reload license: %w", err)
	}
	message := "License updated"
	if entry != nil {
		message = entry.Message
	}
	return ok(fresh, message+"."), nil
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "no reason given"
	}
	return reason
}

// GenerateKeys returns count fresh keys without storing them. An empty
// strategy uses the configured one.
func (s *Service) GenerateKeys(ctx context.Context, count int, strategy string) ([]string, error) {
	if count < 1 || count > maxBatchKeys {
		return nil, fmt.Errorf("count must be between 1 and %d", maxBatchKeys)
	}
	opts, err := s.keyOptionsFor(strings.TrimSpace(strategy), "", "")
	if err != nil {
		return nil, err
	}
	return s.keys.GenerateMultiple(ctx, count, opts)
}
