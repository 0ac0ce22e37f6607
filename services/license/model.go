package license

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Type string

const (
	TypeStandard   Type = "standard"
	TypePremium    Type = "premium"
	TypeEnterprise Type = "enterprise"
)

func (t Type) Valid() bool {
	switch t {
	case TypeStandard, TypePremium, TypeEnterprise:
		return true
	}
	return false
}

// Status is the administrative state, orthogonal to time based validity.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

// Unlimited is the conventional sentinel for an uncapped usage limit. Any
// negative limit is treated the same way; zero is a hard cap.
const Unlimited int64 = -1

type License struct {
	ID               string     `gorm:"column:id;primaryKey;size:32" json:"id"`
	Key              string     `gorm:"column:license_key;uniqueIndex;size:128;not null" json:"key"`
	Type             Type       `gorm:"column:type;size:20;not null;index" json:"type"`
	Status           Status     `gorm:"column:status;size:20;not null;index" json:"status"`
	Licensee         string     `gorm:"column:licensee;size:255" json:"licensee,omitempty"`
	IssuedAt         time.Time  `gorm:"column:issued_at;not null;index" json:"issued_at"`
	ExpiresAt        time.Time  `gorm:"column:expires_at;not null;index" json:"expires_at"`
	GracePeriodDays  int        `gorm:"column:grace_period_days;not null;default:0" json:"grace_period_days"`
	ActivationCode   string     `gorm:"column:activation_code;size:64;not null" json:"activation_code,omitempty"`
	ActivatedAt      *time.Time `gorm:"column:activated_at" json:"activated_at,omitempty"`
	ActivationDomain *string    `gorm:"column:activation_domain;size:255" json:"activation_domain,omitempty"`
	ActivationIP     *string    `gorm:"column:activation_ip;size:64" json:"activation_ip,omitempty"`
	LastValidatedAt  *time.Time `gorm:"column:last_validated_at" json:"last_validated_at,omitempty"`

	CurrentUsers          int64 `gorm:"column:current_users;not null;default:0" json:"current_users"`
	CurrentClinics        int64 `gorm:"column:current_clinics;not null;default:0" json:"current_clinics"`
	CurrentPatients       int64 `gorm:"column:current_patients;not null;default:0" json:"current_patients"`
	AppointmentsThisMonth int64 `gorm:"column:appointments_this_month;not null;default:0" json:"appointments_this_month"`

	MaxUsers                int64 `gorm:"column:max_users;not null" json:"max_users"`
	MaxClinics              int64 `gorm:"column:max_clinics;not null" json:"max_clinics"`
	MaxPatients             int64 `gorm:"column:max_patients;not null" json:"max_patients"`
	MaxAppointmentsPerMonth int64 `gorm:"column:max_appointments_per_month;not null" json:"max_appointments_per_month"`

	Features   datatypes.JSONSlice[string] `gorm:"column:features" json:"features"`
	MonthlyFee decimal.NullDecimal         `gorm:"column:monthly_fee;type:decimal(12,2)" json:"monthly_fee"`
	Metadata   datatypes.JSONMap           `gorm:"column:metadata" json:"metadata,omitempty"`

	SuspendedAt     *time.Time `gorm:"column:suspended_at" json:"suspended_at,omitempty"`
	SuspendedReason string     `gorm:"column:suspended_reason;size:255" json:"suspended_reason,omitempty"`
	RevokedAt       *time.Time `gorm:"column:revoked_at" json:"revoked_at,omitempty"`
	RevokedReason   string     `gorm:"column:revoked_reason;size:255" json:"revoked_reason,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`

	AuditLog []AuditEntry `gorm:"foreignKey:LicenseID" json:"audit_log,omitempty"`
}

// IsValid reports status == active and now < expires_at.
func (l *License) IsValid(now time.Time) bool {
	return l.Status == StatusActive && Classify(l, now) == Valid
}

// IsExpired reports now >= expires_at, grace period included.
func (l *License) IsExpired(now time.Time) bool {
	return Classify(l, now) != Valid
}

func (l *License) IsInGracePeriod(now time.Time) bool {
	return Classify(l, now) == Grace
}

func (l *License) GraceEndsAt() time.Time {
	return l.ExpiresAt.AddDate(0, 0, l.GracePeriodDays)
}

func (l *License) HasFeature(name string) bool {
	return slices.Contains(l.Features, name)
}

// Usage returns the counter and limit for a resource type.
func (l *License) Usage(rt ResourceType) (current, limit int64) {
	switch rt {
	case ResourceUsers:
		return l.CurrentUsers, l.MaxUsers
	case ResourceClinics:
		return l.CurrentClinics, l.MaxClinics
	case ResourcePatients:
		return l.CurrentPatients, l.MaxPatients
	case ResourceAppointments:
		return l.AppointmentsThisMonth, l.MaxAppointmentsPerMonth
	}
	return 0, 0
}

type ResourceType string

const (
	ResourceUsers        ResourceType = "users"
	ResourceClinics      ResourceType = "clinics"
	ResourcePatients     ResourceType = "patients"
	ResourceAppointments ResourceType = "appointments"
)

var ResourceTypes = []ResourceType{ResourceUsers, ResourceClinics, ResourcePatients, ResourceAppointments}

func (rt ResourceType) Valid() bool {
	return slices.Contains(ResourceTypes, rt)
}

// columns maps a resource type to its counter and limit columns.
func (rt ResourceType) columns() (current, limit string) {
	switch rt {
	case ResourceUsers:
		return "current_users", "max_users"
	case ResourceClinics:
		return "current_clinics", "max_clinics"
	case ResourcePatients:
		return "current_patients", "max_patients"
	case ResourceAppointments:
		return "appointments_this_month", "max_appointments_per_month"
	}
	return "", ""
}

type Event string

const (
	EventCreated       Event = "created"
	EventUpdated       Event = "updated"
	EventActivated     Event = "activated"
	EventAssigned      Event = "assigned"
	EventSuspended     Event = "suspended"
	EventReactivated   Event = "reactivated"
	EventRevoked       Event = "revoked"
	EventRenewed       Event = "renewed"
	EventUsageReset    Event = "usage_reset"
	EventExpiryWarning Event = "expiry_warning"
)

// AuditEntry is one append-only line of a license's history.
type AuditEntry struct {
	ID        string            `gorm:"column:id;primaryKey;size:32" json:"id"`
	LicenseID string            `gorm:"column:license_id;size:32;not null;index" json:"license_id"`
	Event     Event             `gorm:"column:event;size:32;not null" json:"event"`
	Message   string            `gorm:"column:message;type:text" json:"message"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	Timestamp time.Time         `gorm:"column:timestamp;not null;index" json:"timestamp"`
}

func (AuditEntry) TableName() string {
	return "license_audit_logs"
}

// Assignment binds a license key to the one user allowed to hold it.
type Assignment struct {
	ID         string    `gorm:"column:id;primaryKey;size:32"`
	LicenseID  string    `gorm:"column:license_id;size:32;not null;index"`
	LicenseKey string    `gorm:"column:license_key;size:128;not null;uniqueIndex"`
	UserID     string    `gorm:"column:user_id;size:64;not null;index"`
	UserName   string    `gorm:"column:user_name;size:255"`
	AssignedAt time.Time `gorm:"column:assigned_at;not null"`
}

func (Assignment) TableName() string {
	return "license_assignments"
}

// Models lists every table owned by the license service, for migrations.
func Models() []any {
	return []any{&License{}, &AuditEntry{}, &Assignment{}}
}
