package license

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditSink is append only. Entries are never updated or removed.
type AuditSink interface {
	Append(ctx context.Context, entry *AuditEntry) error
}

type gormAuditSink struct {
	db *gorm.DB
}

func NewAuditSink(db *gorm.DB) AuditSink {
	return &gormAuditSink{db: db}
}

func (s *gormAuditSink) Append(ctx context.Context, entry *AuditEntry) error {
	if s == nil || s.db == nil {
		return gorm.ErrInvalidDB
	}

	zap.L().Info("license audit",
		zap.String("license_id", entry.LicenseID),
		zap.String("event", string(entry.Event)),
		zap.String("message", entry.Message),
		zap.Any("metadata", entry.Metadata),
	)

	return s.db.WithContext(ctx).Create(entry).Error
}
