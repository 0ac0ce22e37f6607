package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ListParams filters a keyset-paginated license listing ordered by
// issued_at DESC, id DESC.
type ListParams struct {
	Type          Type
	Status        Status
	AfterIssuedAt *time.Time
	AfterID       string
	Limit         int
}

// Repository describes database operations available for licenses.
type Repository interface {
	FindByKey(ctx context.Context, key string) (*License, error)
	FindByKeyWithAudit(ctx context.Context, key string) (*License, error)
	FindCurrent(ctx context.Context) (*License, error)
	KeyExists(ctx context.Context, key string) (bool, error)
	Create(ctx context.Context, l *License) error
	Update(ctx context.Context, id string, fields map[string]any) error
	Activate(ctx context.Context, id string, at time.Time, domain, ip *string) (bool, error)
	AdjustUsage(ctx context.Context, id string, rt ResourceType, delta int64, at time.Time) (bool, error)
	ResetMonthlyUsage(ctx context.Context, at time.Time) (int64, error)
	List(ctx context.Context, params ListParams) ([]License, error)
	ListExpiringWithin(ctx context.Context, now time.Time, days int) ([]License, error)
	CountByType(ctx context.Context) (map[Type]int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	CountExpiringWithin(ctx context.Context, now time.Time, days int) (int64, error)
	CountExpired(ctx context.Context, now time.Time) (int64, error)
	CountActivated(ctx context.Context) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindByKey(ctx context.Context, key string) (*License, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var l License
	if err := r.db.WithContext(ctx).Where("license_key = ?", key).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *gormRepository) FindByKeyWithAudit(ctx context.Context, key string) (*License, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var l License
	err := r.db.WithContext(ctx).
		Preload("AuditLog", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp ASC").Order("id ASC")
		}).
		Where("license_key = ?", key).
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// FindCurrent returns the active license expiring last. When no license is
// active the most recently issued one is returned so callers can still
// explain why access is denied.
func (r *gormRepository) FindCurrent(ctx context.Context) (*License, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var l License
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusActive).
		Order("expires_at DESC").Order("id DESC").
		First(&l).Error
	if err == nil {
		return &l, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Order("issued_at DESC").Order("id DESC").
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *gormRepository) KeyExists(ctx context.Context, key string) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&License{}).Where("license_key = ?", key).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) Create(ctx context.Context, l *License) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Omit("AuditLog").Create(l).Error
}

func (r *gormRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).Model(&License{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Activate stamps the activation fields only while activated_at is still
// null. It reports false when another activation won.
func (r *gormRepository) Activate(ctx context.Context, id string, at time.Time, domain, ip *string) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).Model(&License{}).
		Where("id = ? AND activated_at IS NULL", id).
		Updates(map[string]any{
			"activated_at":      at,
			"activation_domain": domain,
			"activation_ip":     ip,
			"updated_at":        at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AdjustUsage applies delta to one counter in a single statement. Positive
// deltas only apply while the limit is negative or current+delta <= limit;
// negative deltas clamp at zero. It reports whether a row changed.
func (r *gormRepository) AdjustUsage(ctx context.Context, id string, rt ResourceType, delta int64, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	col, limit := rt.columns()
	if col == "" {
		return false, fmt.Errorf("unknown resource type %q", rt)
	}

	query := r.db.WithContext(ctx).Model(&License{}).Where("id = ?", id)

	var expr any
	if delta >= 0 {
		query = query.Where(fmt.Sprintf("(%s < 0 OR %s + ? <= %s)", limit, col, limit), delta)
		expr = gorm.Expr(col+" + ?", delta)
	} else {
		n := -delta
		expr = gorm.Expr(fmt.Sprintf("CASE WHEN %s > ? THEN %s - ? ELSE 0 END", col, col), n, n)
	}

	res := query.Updates(map[string]any{col: expr, "updated_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) ResetMonthlyUsage(ctx context.Context, at time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).Model(&License{}).
		Where("appointments_this_month > 0").
		Updates(map[string]any{"appointments_this_month": 0, "updated_at": at})
	return res.RowsAffected, res.Error
}

func (r *gormRepository) List(ctx context.Context, params ListParams) ([]License, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := r.db.WithContext(ctx).Model(&License{})
	if params.Type != "" {
		query = query.Where("type = ?", params.Type)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.AfterIssuedAt != nil && params.AfterID != "" {
		query = query.Where("(issued_at < ?) OR (issued_at = ? AND id < ?)", *params.AfterIssuedAt, *params.AfterIssuedAt, params.AfterID)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var licenses []License
	if err := query.Order("issued_at DESC").Order("id DESC").Find(&licenses).Error; err != nil {
		return nil, err
	}
	return licenses, nil
}

func (r *gormRepository) ListExpiringWithin(ctx context.Context, now time.Time, days int) ([]License, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var licenses []License
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at > ? AND expires_at <= ?", StatusActive, now, now.AddDate(0, 0, days)).
		Order("expires_at ASC").
		Find(&licenses).Error
	if err != nil {
		return nil, err
	}
	return licenses, nil
}

type groupCount struct {
	Name  string
	Total int64
}

func (r *gormRepository) countBy(ctx context.Context, column string) ([]groupCount, error) {
	var rows []groupCount
	err := r.db.WithContext(ctx).Model(&License{}).
		Select(column + " AS name, COUNT(*) AS total").
		Group(column).
		Scan(&rows).Error
	return rows, err
}

func (r *gormRepository) CountByType(ctx context.Context) (map[Type]int64, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	rows, err := r.countBy(ctx, "type")
	if err != nil {
		return nil, err
	}
	out := make(map[Type]int64, len(rows))
	for _, row := range rows {
		out[Type(row.Name)] = row.Total
	}
	return out, nil
}

func (r *gormRepository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	rows, err := r.countBy(ctx, "status")
	if err != nil {
		return nil, err
	}
	out := make(map[Status]int64, len(rows))
	for _, row := range rows {
		out[Status(row.Name)] = row.Total
	}
	return out, nil
}

func (r *gormRepository) CountExpiringWithin(ctx context.Context, now time.Time, days int) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&License{}).
		Where("status = ? AND expires_at > ? AND expires_at <= ?", StatusActive, now, now.AddDate(0, 0, days)).
		Count(&count).Error
	return count, err
}

// CountExpired counts licenses past expires_at, grace period included.
func (r *gormRepository) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&License{}).Where("expires_at <= ?", now).Count(&count).Error
	return count, err
}

func (r *gormRepository) CountActivated(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&License{}).Where("activated_at IS NOT NULL").Count(&count).Error
	return count, err
}
