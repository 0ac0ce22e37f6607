package license

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrAlreadyAssigned = errors.New("license key is assigned to another user")

// User is the requester as seen by the licensing subsystem. Access and trial
// state are owned by the authentication layer and passed in as given.
type User struct {
	ID                  string `json:"id"`
	Name                string `json:"name,omitempty"`
	LicenseKey          string `json:"license_key,omitempty"`
	HasActivatedLicense bool   `json:"has_activated_license"`
	ValidAccess         bool   `json:"valid_access"`
	TrialExpired        bool   `json:"trial_expired"`
}

// HasValidAccess reports whether the user is entitled independently of the
// system wide license, for example through an active trial.
func (u *User) HasValidAccess() bool {
	return u != nil && u.ValidAccess
}

func (u *User) IsTrialExpired() bool {
	return u != nil && u.TrialExpired
}

func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// UserStore persists which user holds a license key.
type UserStore interface {
	// FindHolder returns the user bound to key, or nil when it is unbound.
	FindHolder(ctx context.Context, key string) (*User, error)
	// Bind assigns l to user and reports whether a new binding was written.
	// It returns ErrAlreadyAssigned when a different user holds the key.
	Bind(ctx context.Context, l *License, user *User) (bool, error)
}

type gormUserStore struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time
}

func NewUserStore(db *gorm.DB, node *snowflake.Node) UserStore {
	return &gormUserStore{db: db, node: node, now: time.Now}
}

func (s *gormUserStore) find(ctx context.Context, key string) (*Assignment, error) {
	var a Assignment
	err := s.db.WithContext(ctx).Where("license_key = ?", key).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *gormUserStore) FindHolder(ctx context.Context, key string) (*User, error) {
	if s == nil || s.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	a, err := s.find(ctx, key)
	if err != nil || a == nil {
		return nil, err
	}
	return &User{
		ID:                  a.UserID,
		Name:                a.UserName,
		LicenseKey:          a.LicenseKey,
		HasActivatedLicense: true,
	}, nil
}

func (s *gormUserStore) Bind(ctx context.Context, l *License, user *User) (bool, error) {
	if s == nil || s.db == nil {
		return false, gorm.ErrInvalidDB
	}

	existing, err := s.find(ctx, l.Key)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.UserID == user.ID {
			return false, nil
		}
		return false, ErrAlreadyAssigned
	}

	a := &Assignment{
		ID:         s.node.Generate().String(),
		LicenseID:  l.ID,
		LicenseKey: l.Key,
		UserID:     user.ID,
		UserName:   user.Name,
		AssignedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		// lost a race on the unique index
		winner, ferr := s.find(ctx, l.Key)
		if ferr == nil && winner != nil {
			if winner.UserID == user.ID {
				return false, nil
			}
			return false, ErrAlreadyAssigned
		}
		return false, err
	}
	return true, nil
}
