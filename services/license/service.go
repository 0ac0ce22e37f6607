package license

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"medilicense/pkg/config"
	"medilicense/pkg/rediskey"
	"medilicense/services/keygen"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("medilicense/services/license")

// defaultVerifyTimeout bounds domain verification when
// LICENSE.VALIDATION_TIMEOUT is unset.
const defaultVerifyTimeout = 5 * time.Second

// DomainVerifier proves control of an activation domain.
type DomainVerifier interface {
	Verify(ctx context.Context, domain, token string) error
}

// Service is the lifecycle and entitlement engine for licenses.
type Service struct {
	repo      Repository
	cache     Cache
	users     UserStore
	audit     AuditSink
	keys      *keygen.Generator
	node      *snowflake.Node
	verifier  DomainVerifier
	cfg       config.License
	validate  *validator.Validate
	locks     *keyedMutex
	group     singleflight.Group
	now       func() time.Time
	keyOption keygen.Options

	// cacheMu orders fills against invalidations. generation moves on every
	// invalidation so a fill that started earlier never lands afterwards;
	// dirty is set while a Forget has failed and reads bypass the cache.
	cacheMu    sync.Mutex
	generation uint64
	dirty      bool
}

// ServiceParams defines dependencies for Service construction.
type ServiceParams struct {
	fx.In

	Config     *config.Config
	Repository Repository
	Users      UserStore
	Audit      AuditSink
	Generator  *keygen.Generator
	Node       *snowflake.Node
	Cache      Cache          `optional:"true"`
	Verifier   DomainVerifier `optional:"true"`
}

// NewService constructs a new Service instance.
func NewService(p ServiceParams) (*Service, error) {
	if p.Repository == nil {
		panic("license service requires repository dependency")
	}

	var cfg config.License
	if p.Config != nil {
		cfg = p.Config.License
	}
	if cfg.DefaultGraceDays < 0 {
		cfg.DefaultGraceDays = 0
	}
	if cfg.ExpiringSoonDays <= 0 {
		cfg.ExpiringSoonDays = 30
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = time.Minute
	}

	keyOption, err := keyOptions(cfg)
	if err != nil {
		return nil, err
	}

	gen := p.Generator
	if gen == nil {
		gen = keygen.New(p.Repository.KeyExists)
	}

	return &Service{
		repo:      p.Repository,
		cache:     p.Cache,
		users:     p.Users,
		audit:     p.Audit,
		keys:      gen,
		node:      p.Node,
		verifier:  p.Verifier,
		cfg:       cfg,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		locks:     newKeyedMutex(),
		now:       time.Now,
		keyOption: keyOption,
	}, nil
}

// keyOptions resolves the configured default key strategy.
func keyOptions(cfg config.License) (keygen.Options, error) {
	name := cfg.KeyStrategy
	if name == "" {
		name = string(keygen.StrategyStandard)
	}
	strategy, err := keygen.ParseStrategy(name)
	if err != nil {
		return nil, err
	}
	return optionsFor(strategy, cfg.KeyPrefix, cfg.KeyFormat)
}

func optionsFor(strategy keygen.Strategy, prefix, format string) (keygen.Options, error) {
	switch strategy {
	case keygen.StrategyStandard:
		return keygen.StandardOptions{Prefix: prefix}, nil
	case keygen.StrategyCompact:
		return keygen.CompactOptions{Prefix: prefix}, nil
	case keygen.StrategySegmented:
		return keygen.SegmentedOptions{Format: format}, nil
	case keygen.StrategyCustom:
		return keygen.CustomOptions{Format: format}, nil
	}
	return nil, fmt.Errorf("%w: %s", keygen.ErrInvalidStrategy, strategy)
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) nextID() string {
	return s.node.Generate().String()
}

// cached reads key from the cache unless the cache is known to be stale.
// It returns the generation a later fill must match.
func (s *Service) cached(ctx context.Context, key string, dst any) (bool, uint64) {
	s.cacheMu.Lock()
	gen, dirty := s.generation, s.dirty
	s.cacheMu.Unlock()

	if s.cache == nil || dirty {
		return false, gen
	}

	hit, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		zap.L().Warn("license cache read failed", zap.String("key", key), zap.Error(err))
		return false, gen
	}
	return hit, gen
}

func (s *Service) fill(ctx context.Context, gen uint64, key string, v any) {
	if s.cache == nil {
		return
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.dirty || s.generation != gen {
		return
	}
	if err := s.cache.Put(ctx, key, v, s.cfg.Cache.TTL); err != nil {
		zap.L().Warn("license cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidate drops every cached view of the current license. It runs before
// any mutating call returns.
func (s *Service) invalidate(ctx context.Context) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.generation++
	if s.cache == nil {
		return
	}
	if err := s.cache.Forget(ctx, viewKeys()...); err != nil {
		s.dirty = true
		zap.L().Error("license cache invalidation failed, bypassing cache", zap.Error(err))
		return
	}
	s.dirty = false
}

// current returns the system wide license, or nil when none exists.
func (s *Service) current(ctx context.Context) (*License, error) {
	var cached License
	hit, gen := s.cached(ctx, rediskey.LicenseCurrentKey, &cached)
	if hit {
		return &cached, nil
	}

	// readers only share a load started under the same generation, so a
	// caller arriving after a write never receives the pre-write row
	flight := fmt.Sprintf("%s:%d", rediskey.LicenseCurrentKey, gen)
	v, err, _ := s.group.Do(flight, func() (any, error) {
		l, err := s.repo.FindCurrent(ctx)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return (*License)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		s.fill(ctx, gen, rediskey.LicenseCurrentKey, l)
		return l, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load current license: %w", err)
	}

	l, _ := v.(*License)
	if l == nil {
		return nil, nil
	}
	out := *l
	return &out, nil
}

func (s *Service) record(ctx context.Context, l *License, event Event, message string, metadata map[string]any) error {
	if s.audit == nil {
		return nil
	}

	entry := &AuditEntry{
		ID:        s.nextID(),
		LicenseID: l.ID,
		Event:     event,
		Message:   message,
		Metadata:  datatypes.JSONMap(metadata),
		Timestamp: s.clock(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ValidateLicense runs the ordered validation checks for key. A nil
// requester skips the holder check.
func (s *Service) ValidateLicense(ctx context.Context, key string, requester *User) (*ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "license.ValidateLicense")
	defer span.End()

	res, err := s.validateLicense(ctx, key, requester)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("license.result", codeLabel(res.Code)))
	validationResults.WithLabelValues(codeLabel(res.Code)).Inc()
	return res, nil
}

func (s *Service) validateLicense(ctx context.Context, key string, requester *User) (*ValidationResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return invalid(CodeValidationFailed, "License key is required."), nil
	}

	l, err := s.repo.FindByKey(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return invalid(CodeNotFound, "License key not found."), nil
	}
	if err != nil {
		return nil, fmt.Errorf("find license: %w", err)
	}

	now := s.clock()
	if !l.IsValid(now) {
		if l.IsExpired(now) {
			res := invalid(CodeExpired, fmt.Sprintf("License expired on %s.", l.ExpiresAt.Format(time.DateOnly)))
			expires, graceEnd := l.ExpiresAt, l.GraceEndsAt()
			res.License = l
			res.ExpiresAt = &expires
			res.GraceEndsAt = &graceEnd
			res.InGrace = l.IsInGracePeriod(now)
			if res.InGrace {
				res.Message = fmt.Sprintf("License expired on %s. Grace period ends on %s.",
					l.ExpiresAt.Format(time.DateOnly), graceEnd.Format(time.DateOnly))
			}
			return res, nil
		}
		res := invalid(CodeInactive, fmt.Sprintf("License is %s.", l.Status))
		res.License = l
		return res, nil
	}

	if requester != nil && s.users != nil {
		holder, err := s.users.FindHolder(ctx, l.Key)
		if err != nil {
			return nil, fmt.Errorf("find license holder: %w", err)
		}
		if holder != nil && holder.HasActivatedLicense && holder.ID != requester.ID {
			res := invalid(CodeAlreadyInUse, fmt.Sprintf("License is already in use by %s.", holder.DisplayName()))
			res.Holder = holder.DisplayName()
			return res, nil
		}
	}

	if err := s.repo.Update(ctx, l.ID, map[string]any{"last_validated_at": now}); err != nil {
		return nil, fmt.Errorf("record validation: %w", err)
	}
	s.invalidate(ctx)
	l.LastValidatedAt = &now

	expires := l.ExpiresAt
	return &ValidationResult{
		Valid:         true,
		Message:       "License is valid.",
		License:       l,
		DaysRemaining: l.DaysRemaining(now),
		ExpiresAt:     &expires,
	}, nil
}

// activationCandidate loads the license for req and runs the checks that do
// not need the network. A non-nil result ends the activation.
func (s *Service) activationCandidate(ctx context.Context, req ActivationRequest) (*License, *ActivationResult, error) {
	l, err := s.repo.FindByKey(ctx, req.Key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, activationFailed(CodeNotFound, "License key not found."), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find license: %w", err)
	}

	code := strings.TrimSpace(req.ActivationCode)
	if code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(l.ActivationCode)) != 1 {
		return nil, activationFailed(CodeInvalidActivationCode, "Invalid activation code."), nil
	}
	if l.ActivatedAt != nil {
		return nil, activationFailed(CodeAlreadyActivated, "License has already been activated."), nil
	}
	return l, nil, nil
}

func (s *Service) verifyDomain(ctx context.Context, domain, token string) error {
	timeout := s.cfg.ValidationTimeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.verifier.Verify(ctx, domain, token)
}

// ActivateLicense performs the one-time activation of a license with its
// activation code.
func (s *Service) ActivateLicense(ctx context.Context, req ActivationRequest) (*ActivationResult, error) {
	ctx, span := tracer.Start(ctx, "license.ActivateLicense")
	defer span.End()

	req.Key = strings.TrimSpace(req.Key)
	req.Domain = strings.TrimSpace(req.Domain)
	req.IP = strings.TrimSpace(req.IP)
	if err := s.validate.Struct(req); err != nil {
		return activationFailed(CodeValidationFailed, validationMessage(err)), nil
	}

	l, res, err := s.activationCandidate(ctx, req)
	if res != nil || err != nil {
		return res, err
	}

	// DNS answers can take seconds, so the proof runs before the key lock
	if s.verifier != nil && req.Domain != "" {
		if err := s.verifyDomain(ctx, req.Domain, l.ID); err != nil {
			zap.L().Warn("activation domain verification failed",
				zap.String("license_id", l.ID), zap.String("domain", req.Domain), zap.Error(err))
			return activationFailed(CodeActivationFailed, "Activation domain could not be verified."), nil
		}
	}

	unlock := s.locks.Lock(req.Key)
	defer unlock()

	l, res, err = s.activationCandidate(ctx, req)
	if res != nil || err != nil {
		return res, err
	}

	now := s.clock()
	domain, ip := optional(req.Domain), optional(req.IP)
	won, err := s.repo.Activate(ctx, l.ID, now, domain, ip)
	if err != nil {
		span.RecordError(err)
		zap.L().Error("failed to activate license", zap.String("license_id", l.ID), zap.Error(err))
		return activationFailed(CodeActivationFailed, "License activation failed."), nil
	}
	if !won {
		return activationFailed(CodeAlreadyActivated, "License has already been activated."), nil
	}
	s.invalidate(ctx)

	l.ActivatedAt = &now
	l.ActivationDomain = domain
	l.ActivationIP = ip
	l.UpdatedAt = now

	if err := s.record(ctx, l, EventActivated, "License activated", map[string]any{
		"domain": req.Domain,
		"ip":     req.IP,
	}); err != nil {
		return nil, err
	}

	return &ActivationResult{
		Success:     true,
		Message:     "License activated successfully.",
		License:     l,
		ActivatedAt: &now,
	}, nil
}

// ActivateLicenseForUser validates key for user and binds it to them.
func (s *Service) ActivateLicenseForUser(ctx context.Context, user *User, key string) (*ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "license.ActivateLicenseForUser")
	defer span.End()

	if user == nil || strings.TrimSpace(user.ID) == "" {
		return invalid(CodeValidationFailed, "A user is required to activate a license."), nil
	}
	if s.users == nil {
		return nil, errors.New("license service has no user store")
	}

	key = strings.TrimSpace(key)
	unlock := s.locks.Lock(key)
	defer unlock()

	res, err := s.ValidateLicense(ctx, key, user)
	if err != nil || !res.Valid {
		return res, err
	}

	created, err := s.users.Bind(ctx, res.License, user)
	if errors.Is(err, ErrAlreadyAssigned) {
		holder, herr := s.users.FindHolder(ctx, key)
		if herr != nil {
			return nil, fmt.Errorf("find license holder: %w", herr)
		}
		inUse := invalid(CodeAlreadyInUse, "License is already in use by another user.")
		if holder != nil {
			inUse.Holder = holder.DisplayName()
			inUse.Message = fmt.Sprintf("License is already in use by %s.", holder.DisplayName())
		}
		return inUse, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bind license: %w", err)
	}

	user.LicenseKey = key
	user.HasActivatedLicense = true

	if created {
		if err := s.record(ctx, res.License, EventAssigned, fmt.Sprintf("License assigned to %s", user.DisplayName()), map[string]any{
			"user_id": user.ID,
		}); err != nil {
			return nil, err
		}
	}

	res.Message = "License activated for user."
	return res, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
