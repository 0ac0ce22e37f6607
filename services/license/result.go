package license

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Code is the closed set of outcomes carried in result values.
type Code string

const (
	CodeOK                    Code = ""
	CodeNotFound              Code = "LICENSE_NOT_FOUND"
	CodeExpired               Code = "LICENSE_EXPIRED"
	CodeInactive              Code = "LICENSE_INACTIVE"
	CodeAlreadyInUse          Code = "LICENSE_ALREADY_IN_USE"
	CodeInvalidActivationCode Code = "INVALID_ACTIVATION_CODE"
	CodeAlreadyActivated      Code = "ALREADY_ACTIVATED"
	CodeActivationFailed      Code = "ACTIVATION_FAILED"
	CodeNoLicense             Code = "NO_LICENSE"
	CodeUsageLimitExceeded    Code = "USAGE_LIMIT_EXCEEDED"
	CodeValidationFailed      Code = "VALIDATION_FAILED"
)

// HTTPStatus is used by the admin handler when a result is unsuccessful.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeOK:
		return http.StatusOK
	case CodeNotFound, CodeNoLicense:
		return http.StatusNotFound
	case CodeAlreadyInUse, CodeAlreadyActivated:
		return http.StatusConflict
	case CodeValidationFailed:
		return http.StatusUnprocessableEntity
	case CodeUsageLimitExceeded:
		return http.StatusTooManyRequests
	case CodeActivationFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

// Result is the outcome shared by administrative operations.
type Result struct {
	Success bool     `json:"success"`
	Code    Code     `json:"code,omitempty"`
	Message string   `json:"message"`
	License *License `json:"license,omitempty"`
}

func ok(l *License, msg string) *Result {
	return &Result{Success: true, Message: msg, License: l}
}

func fail(code Code, msg string) *Result {
	return &Result{Code: code, Message: msg}
}

type ValidationResult struct {
	Valid         bool       `json:"valid"`
	Code          Code       `json:"code,omitempty"`
	Message       string     `json:"message"`
	License       *License   `json:"license,omitempty"`
	DaysRemaining int        `json:"days_remaining"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	InGrace       bool       `json:"in_grace_period,omitempty"`
	GraceEndsAt   *time.Time `json:"grace_ends_at,omitempty"`
	Holder        string     `json:"holder,omitempty"`
}

func invalid(code Code, msg string) *ValidationResult {
	return &ValidationResult{Code: code, Message: msg}
}

type ActivationRequest struct {
	Key            string `json:"key" validate:"required"`
	ActivationCode string `json:"activation_code"`
	Domain         string `json:"domain,omitempty" validate:"omitempty,hostname_rfc1123"`
	IP             string `json:"ip,omitempty" validate:"omitempty,ip"`
}

type ActivationResult struct {
	Success     bool       `json:"success"`
	Code        Code       `json:"code,omitempty"`
	Message     string     `json:"message"`
	License     *License   `json:"license,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

func activationFailed(code Code, msg string) *ActivationResult {
	return &ActivationResult{Code: code, Message: msg}
}

type UsageResult struct {
	Success   bool         `json:"success"`
	Code      Code         `json:"code,omitempty"`
	Message   string       `json:"message"`
	Type      ResourceType `json:"type"`
	Current   int64        `json:"current"`
	Limit     int64        `json:"limit"`
	Unlimited bool         `json:"unlimited"`
	Exceeded  bool         `json:"exceeded"`
	Remaining int64        `json:"remaining"`
}

// usageOf builds the usage view of one resource type. Exceeded means
// current >= limit unless the limit is negative.
func usageOf(l *License, rt ResourceType) *UsageResult {
	current, limit := l.Usage(rt)
	u := &UsageResult{
		Type:      rt,
		Current:   current,
		Limit:     limit,
		Unlimited: limit < 0,
	}
	if u.Unlimited {
		u.Remaining = -1
	} else {
		u.Exceeded = current >= limit
		u.Remaining = max(limit-current, 0)
	}
	u.Success = !u.Exceeded
	if u.Exceeded {
		u.Code = CodeUsageLimitExceeded
		u.Message = string(rt) + " limit reached"
	} else {
		u.Message = string(rt) + " usage within limit"
	}
	return u
}

// State is the service level summary of a license.
type State string

const (
	StateActive    State = "active"
	StateGrace     State = "grace_period"
	StateExpired   State = "expired"
	StateSuspended State = "suspended"
	StateRevoked   State = "revoked"
	StateNoLicense State = "no_license"
)

// StatusView is the dashboard summary of the current license. Status is the
// stored administrative field; State folds status and validity together.
type StatusView struct {
	HasLicense         bool                          `json:"has_license"`
	Key                string                        `json:"key,omitempty"`
	Type               Type                          `json:"type,omitempty"`
	Licensee           string                        `json:"licensee,omitempty"`
	Status             Status                        `json:"status,omitempty"`
	Validity           Validity                      `json:"validity,omitempty"`
	State              State                         `json:"state"`
	Activated          bool                          `json:"activated"`
	ExpiresAt          *time.Time                    `json:"expires_at,omitempty"`
	DaysRemaining      int                           `json:"days_remaining"`
	GraceDaysRemaining int                           `json:"grace_days_remaining"`
	Features           []string                      `json:"features,omitempty"`
	Usage              map[ResourceType]*UsageResult `json:"usage,omitempty"`
	Message            string                        `json:"message"`
}

func stateOf(l *License, now time.Time) State {
	switch l.Status {
	case StatusRevoked:
		return StateRevoked
	case StatusSuspended:
		return StateSuspended
	}
	switch Classify(l, now) {
	case Valid:
		return StateActive
	case Grace:
		return StateGrace
	}
	return StateExpired
}

// Info is the detailed view of one license, without its activation code.
type Info struct {
	ID                 string                        `json:"id"`
	Key                string                        `json:"key"`
	Type               Type                          `json:"type"`
	Licensee           string                        `json:"licensee,omitempty"`
	Status             Status                        `json:"status"`
	Validity           Validity                      `json:"validity"`
	State              State                         `json:"state"`
	IssuedAt           time.Time                     `json:"issued_at"`
	ExpiresAt          time.Time                     `json:"expires_at"`
	GracePeriodDays    int                           `json:"grace_period_days"`
	GraceEndsAt        time.Time                     `json:"grace_ends_at"`
	DaysRemaining      int                           `json:"days_remaining"`
	GraceDaysRemaining int                           `json:"grace_days_remaining"`
	ActivatedAt        *time.Time                    `json:"activated_at,omitempty"`
	ActivationDomain   *string                       `json:"activation_domain,omitempty"`
	LastValidatedAt    *time.Time                    `json:"last_validated_at,omitempty"`
	Features           []string                      `json:"features"`
	MonthlyFee         decimal.NullDecimal           `json:"monthly_fee"`
	Usage              map[ResourceType]*UsageResult `json:"usage"`
	Holder             string                        `json:"holder,omitempty"`
	SuspendedReason    string                        `json:"suspended_reason,omitempty"`
	RevokedReason      string                        `json:"revoked_reason,omitempty"`
	AuditLog           []AuditEntry                  `json:"audit_log"`
}

type Statistics struct {
	Total        int64            `json:"total"`
	ByType       map[Type]int64   `json:"by_type"`
	ByStatus     map[Status]int64 `json:"by_status"`
	WithinDays   int              `json:"within_days"`
	ExpiringSoon int64            `json:"expiring_soon"`
	Expired      int64            `json:"expired"`
	Activated    int64            `json:"activated"`
}
